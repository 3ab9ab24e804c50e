package security

import (
	"testing"
	"time"
)

func breakerEpoch() time.Time {
	return time.Unix(1_700_000_000, 0)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(3, 2, 30*time.Second)
	now := breakerEpoch()

	cb.RecordFailure(now)
	cb.RecordFailure(now)
	if cb.State() != BreakerClosed {
		t.Fatal("breaker opened below the failure threshold")
	}

	cb.RecordFailure(now)
	if cb.State() != BreakerOpen {
		t.Fatal("breaker did not open at the failure threshold")
	}
	if cb.AllowRequest(now.Add(time.Second)) {
		t.Error("open breaker admitted a request before the timeout")
	}
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(3, 2, 30*time.Second)
	now := breakerEpoch()

	cb.RecordFailure(now)
	cb.RecordFailure(now)
	cb.RecordSuccess()
	cb.RecordFailure(now)
	cb.RecordFailure(now)
	if cb.State() != BreakerClosed {
		t.Error("non-consecutive failures opened the breaker")
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(1, 2, 30*time.Second)
	now := breakerEpoch()

	cb.RecordFailure(now)
	if cb.State() != BreakerOpen {
		t.Fatal("breaker did not open")
	}

	// Timeout elapsed: one probe is admitted, a second is not.
	probeTime := now.Add(30 * time.Second)
	if !cb.AllowRequest(probeTime) {
		t.Fatal("probe denied after the cooldown")
	}
	if cb.State() != BreakerHalfOpen {
		t.Fatal("breaker not half-open after admitting a probe")
	}
	if cb.AllowRequest(probeTime) {
		t.Error("second probe admitted while one is outstanding")
	}

	cb.RecordSuccess()
	if !cb.AllowRequest(probeTime) {
		t.Fatal("next probe denied after the first succeeded")
	}
	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Error("breaker did not close after enough probe successes")
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(1, 3, 30*time.Second)
	now := breakerEpoch()

	cb.RecordFailure(now)
	probeTime := now.Add(30 * time.Second)
	if !cb.AllowRequest(probeTime) {
		t.Fatal("probe denied after cooldown")
	}
	cb.RecordSuccess()

	cb.AllowRequest(probeTime)
	cb.RecordFailure(probeTime)
	if cb.State() != BreakerOpen {
		t.Error("half-open failure did not reopen the breaker")
	}
	if cb.AllowRequest(probeTime.Add(time.Second)) {
		t.Error("reopened breaker admitted a request immediately")
	}
}

func TestBreakerReset(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(1, 1, 30*time.Second)
	now := breakerEpoch()

	cb.RecordFailure(now)
	cb.Reset()
	if cb.State() != BreakerClosed {
		t.Error("Reset did not close the breaker")
	}
	if !cb.AllowRequest(now) {
		t.Error("reset breaker denied a request")
	}

	stats := cb.Stats()
	if stats.Failures != 0 || stats.Successes != 0 {
		t.Errorf("Stats after reset = %+v, want zero counters", stats)
	}
}
