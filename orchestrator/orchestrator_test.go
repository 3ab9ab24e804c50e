package orchestrator

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"securebus/busclock"
	"securebus/buslog"
	"securebus/crypto"
	"securebus/handshake"
	"securebus/security"
)

const testMasterKey = "unit-test-master-key-0123456789ab"

func newTestRegistry(t *testing.T) (*Registry, *busclock.Simulated) {
	t.Helper()
	clock := busclock.NewSimulated(time.Unix(1_700_000_000, 0))
	reg, err := NewRegistry(testMasterKey, clock, buslog.Nop())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg, clock
}

func newEstablished(t *testing.T) (*Orchestrator, *Registry) {
	t.Helper()
	reg, _ := newTestRegistry(t)
	o, err := New(testMasterKey, &LoopbackResponder{CertChain: [][]byte{[]byte("pinned-cert")}}, reg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := o.PerformHandshake(); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	return o, reg
}

func TestHandshakeEstablishesSession(t *testing.T) {
	o, reg := newEstablished(t)

	if o.State() != StateEstablished {
		t.Fatalf("state = %s, want established", o.State())
	}
	if o.SessionKeys() == nil {
		t.Fatal("no session keys after handshake")
	}
	if got := testutil.ToFloat64(reg.Metrics.HandshakesTotal.WithLabelValues("ok")); got != 1 {
		t.Fatalf("handshakes ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(reg.Metrics.ActiveSessions); got != 1 {
		t.Fatalf("active sessions = %v, want 1", got)
	}
}

func TestHandshakeOnlyFromConfigured(t *testing.T) {
	o, _ := newEstablished(t)
	if err := o.PerformHandshake(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second handshake: %v", err)
	}
}

type badVersionResponder struct{}

func (badVersionResponder) RespondHello(hello *handshake.ClientHello) (*handshake.ServerHello, *handshake.CertificateMessage, error) {
	sh := &handshake.ServerHello{Version: 0x0304, Random: [32]byte{1}, CipherSuite: hello.CipherSuites[0]}
	return sh, &handshake.CertificateMessage{CertChain: [][]byte{[]byte("cert")}}, nil
}

func (badVersionResponder) Finish(_ *handshake.ClientKeyExchange, fin *handshake.FinishedMessage) (*handshake.FinishedMessage, error) {
	return fin, nil
}

func TestHandshakeFailureIsTerminal(t *testing.T) {
	reg, _ := newTestRegistry(t)
	o, err := New(testMasterKey, badVersionResponder{}, reg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := o.PerformHandshake(); !errors.Is(err, handshake.ErrUnsupportedVersion) {
		t.Fatalf("handshake err = %v", err)
	}
	if o.State() != StateFailed {
		t.Fatalf("state = %s, want failed", o.State())
	}
	if got := testutil.ToFloat64(reg.Metrics.HandshakesTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("handshakes failed = %v, want 1", got)
	}
	if err := o.PerformHandshake(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestHandshakeGatedByBreaker(t *testing.T) {
	reg, clock := newTestRegistry(t)
	for i := 0; i < security.DefaultFailureThreshold; i++ {
		reg.Breaker.RecordFailure(clock.Now())
	}

	o, err := New(testMasterKey, &LoopbackResponder{CertChain: [][]byte{[]byte("cert")}}, reg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := o.PerformHandshake(); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("handshake with open breaker: %v", err)
	}
	if o.State() != StateConfigured {
		t.Fatalf("state = %s, want configured after breaker rejection", o.State())
	}
	if got := testutil.ToFloat64(reg.Metrics.BreakerState); got != float64(security.BreakerOpen) {
		t.Fatalf("breaker state gauge = %v, want open", got)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	o, reg := newEstablished(t)

	plaintext := []byte("thermal threshold update")
	sealed, err := o.EncryptMessage(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	opened, err := o.DecryptMessage(sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round trip = %q, want %q", opened, plaintext)
	}
	if got := testutil.ToFloat64(reg.Metrics.MessagesProcessed.WithLabelValues("outbound")); got != 1 {
		t.Fatalf("outbound processed = %v, want 1", got)
	}
	if reg.Rotation.ActiveKey().OperationCount != 2 {
		t.Fatalf("rotation operations = %d, want 2", reg.Rotation.ActiveKey().OperationCount)
	}
}

func TestMessagesRequireEstablished(t *testing.T) {
	reg, _ := newTestRegistry(t)
	o, err := New(testMasterKey, &LoopbackResponder{CertChain: [][]byte{[]byte("cert")}}, reg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if _, err := o.EncryptMessage([]byte("x")); !errors.Is(err, ErrNotEstablished) {
		t.Fatalf("encrypt before handshake: %v", err)
	}
	if _, err := o.DecryptMessage("x"); !errors.Is(err, ErrNotEstablished) {
		t.Fatalf("decrypt before handshake: %v", err)
	}
}

func TestEncryptRateLimited(t *testing.T) {
	o, reg := newEstablished(t)

	for i := 0; i < security.DefaultRateBurst; i++ {
		if _, err := o.EncryptMessage([]byte("m")); err != nil {
			t.Fatalf("encrypt %d: %v", i, err)
		}
	}
	if _, err := o.EncryptMessage([]byte("m")); !errors.Is(err, ErrThrottled) {
		t.Fatalf("over-budget encrypt: %v", err)
	}
	if got := testutil.ToFloat64(reg.Metrics.RateLimited); got != 1 {
		t.Fatalf("rate limited = %v, want 1", got)
	}
}

func TestDecryptGarbageSignalsHoneypot(t *testing.T) {
	o, reg := newEstablished(t)

	before := reg.Honeypot.Attempts()
	if _, err := o.DecryptMessage("definitely-not-ciphertext"); err == nil {
		t.Fatal("garbage decrypted")
	}
	if reg.Honeypot.Attempts() != before+1 {
		t.Fatalf("attempts = %d, want %d", reg.Honeypot.Attempts(), before+1)
	}
	if got := testutil.ToFloat64(reg.Metrics.HoneypotAttempts); got != 1 {
		t.Fatalf("honeypot attempts metric = %v, want 1", got)
	}
}

func TestDecryptFailuresRaiseAnomaly(t *testing.T) {
	o, reg := newEstablished(t)

	// A run of failed opens pushes the session's error rate over the
	// detector's trip point on the first sweep already.
	for i := 0; i < 5; i++ {
		if _, err := o.DecryptMessage("not-ciphertext"); err == nil {
			t.Fatal("garbage decrypted")
		}
	}

	kind := security.AnomalyHighErrorRate
	if got := testutil.ToFloat64(reg.Metrics.AnomaliesDetected.WithLabelValues(kind)); got == 0 {
		t.Fatalf("no %s anomalies recorded", kind)
	}
	recent := reg.Anomaly.Recent(10)
	if len(recent) == 0 {
		t.Fatal("detector history empty after failure run")
	}
	found := false
	for _, a := range recent {
		if a.Kind == kind {
			found = true
		}
	}
	if !found {
		t.Fatalf("no %s in recent anomalies: %+v", kind, recent)
	}
}

func TestHealthyTrafficRaisesNoAnomaly(t *testing.T) {
	o, reg := newEstablished(t)

	// Enough clean operations to cross at least one periodic sweep.
	for i := 0; i < anomalyCheckInterval+1; i++ {
		if _, err := o.EncryptMessage([]byte("m")); err != nil {
			t.Fatalf("encrypt %d: %v", i, err)
		}
	}
	if s := reg.Anomaly.Stats(); s.TotalAnomalies != 0 {
		t.Fatalf("anomalies on healthy traffic: %+v", s)
	}
	if got := testutil.ToFloat64(reg.Metrics.AnomaliesDetected.WithLabelValues(security.AnomalyHighErrorRate)); got != 0 {
		t.Fatalf("anomaly metric = %v, want 0", got)
	}
}

func TestKeyRotatesAfterInterval(t *testing.T) {
	reg, clock := newTestRegistry(t)
	o, err := New(testMasterKey, &LoopbackResponder{CertChain: [][]byte{[]byte("cert")}}, reg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := o.PerformHandshake(); err != nil {
		t.Fatalf("handshake: %v", err)
	}

	if reg.Rotation.ActiveKey().ID != 1 {
		t.Fatalf("active key = %d before the interval", reg.Rotation.ActiveKey().ID)
	}

	// Once the active generation is older than the policy interval, the
	// next message operation must retire it.
	clock.Advance(crypto.DefaultRotationInterval)
	if _, err := o.EncryptMessage([]byte("m")); err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if got := reg.Rotation.ActiveKey().ID; got != 2 {
		t.Fatalf("active key = %d after the interval, want 2", got)
	}
	if got := testutil.ToFloat64(reg.Metrics.KeyUpdates); got != 1 {
		t.Fatalf("key updates metric = %v, want 1", got)
	}
	if _, ok := reg.Rotation.KeyByID(1); !ok {
		t.Fatal("retired generation not resolvable")
	}
}

func TestTeardown(t *testing.T) {
	o, reg := newEstablished(t)

	o.Teardown()
	if o.State() != StateTornDown {
		t.Fatalf("state = %s, want torn-down", o.State())
	}
	if o.SessionKeys() != nil {
		t.Fatal("session keys survived teardown")
	}
	if got := testutil.ToFloat64(reg.Metrics.ActiveSessions); got != 0 {
		t.Fatalf("active sessions = %v, want 0", got)
	}
	if _, err := o.EncryptMessage([]byte("x")); !errors.Is(err, ErrNotEstablished) {
		t.Fatalf("encrypt after teardown: %v", err)
	}

	// Idempotent.
	o.Teardown()
	if got := testutil.ToFloat64(reg.Metrics.ActiveSessions); got != 0 {
		t.Fatalf("active sessions after double teardown = %v", got)
	}
}
