package ipc

import (
	"sync"
	"time"
)

// RateLimiter bounds connection attempts per UID over a sliding window. A
// crash-looping captured process reconnects on every restart; the limiter
// keeps that from monopolizing the broker's accept path. In-memory only,
// the socket is local.
type RateLimiter struct {
	maxAttempts int
	window      time.Duration

	mu       sync.Mutex
	attempts map[uint32][]time.Time
}

// NewRateLimiter creates a limiter allowing maxAttempts per window per UID.
func NewRateLimiter(maxAttempts int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		attempts:    make(map[uint32][]time.Time),
	}
}

// Allow reports whether the UID may connect now, recording the attempt when
// it may.
func (r *RateLimiter) Allow(uid uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	existing := r.attempts[uid]
	pruned := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}

	if len(pruned) >= r.maxAttempts {
		r.attempts[uid] = pruned
		return false
	}

	r.attempts[uid] = append(pruned, now)
	return true
}
