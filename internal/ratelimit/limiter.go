// Package ratelimit implements a fixed-window request counter keyed by
// caller identity. State lives in the Limiter instance and is created once
// at startup; there is no ambient global store.
package ratelimit

import (
	"sync"
	"time"
)

// Result reports the outcome of a single check
type Result struct {
	Allowed   bool
	Remaining int
	ResetMs   int64
}

// entry tracks one caller's count within the current window. Entries are
// replaced on window rollover, never merged; stale keys are not evicted.
type entry struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window rate limiter. Max and window are fixed at
// construction. Check never fails; it only returns Allowed=false.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	max     int
	window  time.Duration
	now     func() time.Time
}

// New creates a Limiter allowing max requests per window.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		entries: make(map[string]*entry),
		max:     max,
		window:  window,
		now:     time.Now,
	}
}

// Check records a request for key and reports whether it is allowed.
// The check-then-increment is a single critical section; cross-key calls
// contend only on the map lock.
func (l *Limiter) Check(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	e, ok := l.entries[key]
	if !ok || now.After(e.resetAt) {
		// First contact in this window, or rollover: the stale count is
		// discarded, not carried over.
		l.entries[key] = &entry{count: 1, resetAt: now.Add(l.window)}
		return Result{Allowed: true, Remaining: l.max - 1, ResetMs: l.window.Milliseconds()}
	}

	e.count++

	resetMs := e.resetAt.Sub(now).Milliseconds()
	if e.count > l.max {
		return Result{Allowed: false, Remaining: 0, ResetMs: resetMs}
	}

	return Result{Allowed: true, Remaining: l.max - e.count, ResetMs: resetMs}
}
