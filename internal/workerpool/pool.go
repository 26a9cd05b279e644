// Package workerpool provides the bounded goroutine pool the broker runs its
// per-connection readers on. The pool caps concurrent capture clients: when
// every worker is busy and the queue is full, new connections are refused
// instead of spawning unbounded goroutines.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/framelink-io/framelink/internal/logging"
)

var log = logging.L("workerpool")

// Task is a unit of work submitted to the pool. Connection readers are
// long-lived tasks; they occupy a worker until their client disconnects.
type Task func()

// Pool is a bounded goroutine pool with a fixed-size task queue.
type Pool struct {
	workers  int
	queue    chan Task
	wg       sync.WaitGroup
	open     atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a pool with the given worker count and queue depth.
func New(workers, depth int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}

	p := &Pool{
		workers: workers,
		queue:   make(chan Task, depth),
		stop:    make(chan struct{}),
	}
	p.open.Store(true)

	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

// Submit enqueues a task. It reports false when the pool has shut down or
// the queue is full; the caller decides whether that drops a connection.
// The wait-group add happens before the enqueue so Shutdown cannot miss an
// accepted task.
func (p *Pool) Submit(task Task) bool {
	if !p.open.Load() {
		return false
	}

	p.wg.Add(1)
	select {
	case p.queue <- task:
		return true
	default:
		p.wg.Done()
		log.Warn("task queue full, task refused")
		return false
	}
}

// Shutdown stops accepting work and waits for in-flight and queued tasks,
// bounded by the context deadline. Safe to call more than once.
func (p *Pool) Shutdown(ctx context.Context) {
	p.open.Store(false)
	p.stopOnce.Do(func() { close(p.stop) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("pool shutdown timed out with tasks still running")
	}
}

func (p *Pool) run() {
	for {
		select {
		case task := <-p.queue:
			p.exec(task)
		case <-p.stop:
			// Flush whatever was queued before the stop.
			for {
				select {
				case task := <-p.queue:
					p.exec(task)
				default:
					return
				}
			}
		}
	}
}

// exec runs one task with panic isolation; a panicking reader must not take
// the broker down.
func (p *Pool) exec(task Task) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}
