package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersRecordOnPrivateRegistry(t *testing.T) {
	m := New("securebus")

	m.MessagesProcessed.WithLabelValues("outbound").Add(3)
	m.MessageErrors.WithLabelValues("inbound", "replay").Inc()
	m.HoneypotAttempts.Inc()
	m.BreakerState.Set(1)

	if got := testutil.ToFloat64(m.MessagesProcessed.WithLabelValues("outbound")); got != 3 {
		t.Fatalf("messages_processed = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.MessageErrors.WithLabelValues("inbound", "replay")); got != 1 {
		t.Fatalf("message_errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BreakerState); got != 1 {
		t.Fatalf("breaker_state = %v, want 1", got)
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := New("securebus")
	b := New("securebus")

	a.HoneypotAttempts.Inc()
	if got := testutil.ToFloat64(b.HoneypotAttempts); got != 0 {
		t.Fatalf("second registry saw %v attempts, want 0", got)
	}

	families, err := a.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("no metric families gathered")
	}
}
