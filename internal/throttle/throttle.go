// Package throttle bounds how often a hot path performs expensive side work,
// by call count, elapsed time, or both. The capture pipeline uses it to keep
// socket liveness checks off the per-present fast path.
package throttle

import (
	"sync"
	"time"
)

// Throttle admits one call per window. A window closes when EveryCalls
// invocations have accumulated or MinInterval has elapsed, whichever comes
// first. A zero field disables that dimension.
type Throttle struct {
	everyCalls  int
	minInterval time.Duration

	mu    sync.Mutex
	calls int
	last  time.Time
	now   func() time.Time
}

// New creates a throttle. everyCalls <= 0 disables call counting and
// minInterval <= 0 disables the time dimension; at least one must be set.
func New(everyCalls int, minInterval time.Duration) *Throttle {
	if everyCalls <= 0 && minInterval <= 0 {
		everyCalls = 1
	}
	return &Throttle{
		everyCalls:  everyCalls,
		minInterval: minInterval,
		now:         time.Now,
	}
}

// Allow reports whether the caller should do the throttled work now.
// The first call after construction is not admitted; a full window must
// accumulate first, matching a counter that starts at zero.
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.last.IsZero() {
		t.last = now
	}

	t.calls++
	byCount := t.everyCalls > 0 && t.calls >= t.everyCalls
	byTime := t.minInterval > 0 && now.Sub(t.last) >= t.minInterval

	if byCount || byTime {
		t.calls = 0
		t.last = now
		return true
	}
	return false
}

// Reset reopens the current window.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = 0
	t.last = t.now()
}
