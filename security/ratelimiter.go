// Package security holds the abuse-control primitives of the bus: the
// per-identity rate limiter, the circuit breaker guarding the transport,
// metric-driven anomaly detection and the decoy-token honeypot.
package security

import (
	"sync"
	"sync/atomic"
	"time"

	"securebus/busclock"
)

// Rate limiter defaults shared with the record layer.
const (
	DefaultRateBurst  = 100
	DefaultRateWindow = 60 * time.Second
)

type rateWindow struct {
	start time.Time
	count int
}

// RateLimiter enforces a fixed-window budget per identity. Each identity
// gets an independent counter that resets when its window rolls over.
type RateLimiter struct {
	burst  int
	window time.Duration
	clock  busclock.Clock

	mu      sync.Mutex
	windows map[string]*rateWindow
	total   atomic.Uint64
}

// NewRateLimiter builds a limiter with the default budget.
func NewRateLimiter(clock busclock.Clock) *RateLimiter {
	return NewRateLimiterWithBudget(clock, DefaultRateBurst, DefaultRateWindow)
}

// NewRateLimiterWithBudget builds a limiter allowing burst operations per
// window per identity.
func NewRateLimiterWithBudget(clock busclock.Clock, burst int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		burst:   burst,
		window:  window,
		clock:   busclock.MustClock(clock),
		windows: make(map[string]*rateWindow),
	}
}

// Allow records one operation for identity and reports whether it fits the
// current window's budget.
func (r *RateLimiter) Allow(identity string) bool {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[identity]
	if !ok || now.Sub(w.start) >= r.window {
		w = &rateWindow{start: now}
		r.windows[identity] = w
	}
	if w.count >= r.burst {
		return false
	}
	w.count++
	r.total.Add(1)
	return true
}

// Remaining returns how many operations identity may still perform in its
// current window.
func (r *RateLimiter) Remaining(identity string) int {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[identity]
	if !ok || now.Sub(w.start) >= r.window {
		return r.burst
	}
	if w.count >= r.burst {
		return 0
	}
	return r.burst - w.count
}

// ResetIdentity forgets the window state for one identity.
func (r *RateLimiter) ResetIdentity(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.windows, identity)
}

// ResetAll forgets every identity's window state.
func (r *RateLimiter) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = make(map[string]*rateWindow)
}

// TotalAllowed returns how many operations the limiter has admitted.
func (r *RateLimiter) TotalAllowed() uint64 {
	return r.total.Load()
}
