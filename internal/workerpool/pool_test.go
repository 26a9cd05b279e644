package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsEverything(t *testing.T) {
	p := New(2, 10)
	var count atomic.Int32

	for i := 0; i < 5; i++ {
		if !p.Submit(func() { count.Add(1) }) {
			t.Fatalf("submit %d refused", i)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if got := count.Load(); got != 5 {
		t.Fatalf("ran %d tasks, want 5", got)
	}
}

func TestSubmitAfterShutdownRefused(t *testing.T) {
	p := New(1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if p.Submit(func() {}) {
		t.Fatal("submit accepted after shutdown")
	}
}

func TestFullQueueRefusesSubmit(t *testing.T) {
	p := New(1, 1)
	release := make(chan struct{})

	p.Submit(func() { <-release })
	time.Sleep(10 * time.Millisecond)
	p.Submit(func() {})

	if p.Submit(func() {}) {
		t.Fatal("submit accepted with a full queue")
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)
}

func TestPanickingTaskDoesNotKillPool(t *testing.T) {
	p := New(1, 2)
	var ran atomic.Bool

	p.Submit(func() { panic("reader blew up") })
	p.Submit(func() { ran.Store(true) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if !ran.Load() {
		t.Fatal("task after a panic never ran")
	}
}
