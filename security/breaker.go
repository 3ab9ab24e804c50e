package security

import (
	"sync"
	"time"
)

// Circuit breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 3
	DefaultBreakerTimeout   = 30 * time.Second
)

// BreakerState is the circuit breaker's position.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips open after consecutive failures, cools down for a
// timeout, then admits probe requests one at a time until enough
// consecutive successes close it again. Any half-open failure reopens it.
type CircuitBreaker struct {
	failureThreshold int
	successThreshold int
	timeout          time.Duration

	mu            sync.Mutex
	state         BreakerState
	failures      int
	successes     int
	transitions   uint64
	lastFailure   time.Time
	probeInFlight bool
}

// BreakerStats is a snapshot of the breaker's counters.
type BreakerStats struct {
	State            BreakerState
	Failures         int
	Successes        int
	Transitions      uint64
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// NewCircuitBreaker builds a breaker with the default thresholds.
func NewCircuitBreaker() *CircuitBreaker {
	return NewCircuitBreakerWithConfig(DefaultFailureThreshold, DefaultSuccessThreshold, DefaultBreakerTimeout)
}

// NewCircuitBreakerWithConfig builds a breaker with explicit thresholds.
func NewCircuitBreakerWithConfig(failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		state:            BreakerClosed,
	}
}

// AllowRequest reports whether a request may proceed at the given instant.
// In the open state it transitions to half-open once the timeout has
// elapsed since the last failure; half-open admits exactly one outstanding
// probe at a time.
func (cb *CircuitBreaker) AllowRequest(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if now.Sub(cb.lastFailure) >= cb.timeout {
			cb.state = BreakerHalfOpen
			cb.successes = 0
			cb.probeInFlight = true
			cb.transitions++
			return true
		}
		return false
	case BreakerHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful operation.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
	case BreakerHalfOpen:
		cb.probeInFlight = false
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = BreakerClosed
			cb.failures = 0
			cb.successes = 0
			cb.transitions++
		}
	}
}

// RecordFailure reports a failed operation at the given instant.
func (cb *CircuitBreaker) RecordFailure(now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = now

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.state = BreakerOpen
			cb.successes = 0
			cb.transitions++
		}
	case BreakerHalfOpen:
		cb.state = BreakerOpen
		cb.successes = 0
		cb.probeInFlight = false
		cb.transitions++
	}
}

// State returns the breaker's current position.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failures = 0
	cb.successes = 0
	cb.probeInFlight = false
	cb.transitions++
}

// Stats returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStats{
		State:            cb.state,
		Failures:         cb.failures,
		Successes:        cb.successes,
		Transitions:      cb.transitions,
		FailureThreshold: cb.failureThreshold,
		SuccessThreshold: cb.successThreshold,
		Timeout:          cb.timeout,
	}
}
