// Package orchestrator drives the session lifecycle end to end: it owns
// the handshake machine, the derived session keys, and the abuse controls
// that gate message processing once a session is established.
package orchestrator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"securebus/crypto"
	"securebus/handshake"
	"securebus/security"
)

// SessionState tracks where the session is in its lifecycle.
type SessionState int

const (
	StateConfigured SessionState = iota
	StateHandshaking
	StateEstablished
	StateFailed
	StateTornDown
)

func (s SessionState) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	case StateTornDown:
		return "torn-down"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidState   = errors.New("orchestrator: operation invalid in current state")
	ErrNotEstablished = errors.New("orchestrator: session not established")
	ErrThrottled      = errors.New("orchestrator: rate limit exceeded")
	ErrBreakerOpen    = errors.New("orchestrator: circuit breaker open")
)

// anomalyCheckInterval is how many message operations pass between
// periodic anomaly sweeps. Failures trigger a sweep immediately.
const anomalyCheckInterval = 32

// Orchestrator owns one session. Not shareable across sessions; build a
// fresh one after Teardown.
type Orchestrator struct {
	mu sync.Mutex

	sessionID string
	state     SessionState
	masterKey string

	reg       *Registry
	responder Responder
	hs        *handshake.Handshake
	key       *crypto.CryptoKey
	limiter   *security.RateLimiter
	keys      *crypto.SessionKeys

	msgOps    uint64
	msgErrors uint64

	log *zap.Logger
}

// New wires an orchestrator in the Configured state.
func New(masterKey string, responder Responder, reg *Registry) (*Orchestrator, error) {
	if reg == nil {
		return nil, errors.New("orchestrator: nil registry")
	}
	key, err := crypto.NewCryptoKey(masterKey, "orchestrator")
	if err != nil {
		return nil, err
	}
	hs, err := handshake.New(masterKey, reg.Clock)
	if err != nil {
		return nil, err
	}
	sessionID := uuid.NewString()
	return &Orchestrator{
		sessionID: sessionID,
		state:     StateConfigured,
		masterKey: masterKey,
		reg:       reg,
		responder: responder,
		hs:        hs,
		key:       key,
		limiter:   security.NewRateLimiter(reg.Clock),
		log:       reg.Logger.WithSession(sessionID),
	}, nil
}

// PerformHandshake drives the state machine end to end against the
// responder and derives the session keys. Valid only in Configured. A
// throttled attempt leaves the state untouched so the caller can retry
// after the window rolls over; any protocol failure is terminal.
func (o *Orchestrator) PerformHandshake() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateConfigured {
		return fmt.Errorf("%w: %s", ErrInvalidState, o.state)
	}
	if !o.limiter.Allow("handshake:" + o.sessionID) {
		o.reg.Metrics.HandshakesTotal.WithLabelValues("throttled").Inc()
		return ErrThrottled
	}
	if !o.reg.Breaker.AllowRequest(o.reg.Clock.Now()) {
		o.reg.Metrics.HandshakesTotal.WithLabelValues("throttled").Inc()
		o.publishBreakerState()
		return ErrBreakerOpen
	}

	o.state = StateHandshaking
	start := o.reg.Clock.Now()
	if err := o.runHandshake(); err != nil {
		o.state = StateFailed
		o.reg.Breaker.RecordFailure(o.reg.Clock.Now())
		o.reg.Metrics.HandshakesTotal.WithLabelValues("failed").Inc()
		o.publishBreakerState()
		o.log.Error("handshake failed", zap.Error(err))
		return err
	}

	o.state = StateEstablished
	o.reg.Breaker.RecordSuccess()
	o.publishBreakerState()
	o.reg.Metrics.HandshakesTotal.WithLabelValues("ok").Inc()
	o.reg.Metrics.HandshakeDuration.Observe(o.reg.Clock.Now().Sub(start).Seconds())
	o.reg.Metrics.ActiveSessions.Inc()
	return nil
}

func (o *Orchestrator) runHandshake() error {
	hello, err := o.hs.GenerateClientHello(nil)
	if err != nil {
		return err
	}
	sh, cert, err := o.responder.RespondHello(hello)
	if err != nil {
		return err
	}
	if err := o.hs.ProcessServerHello(sh); err != nil {
		return err
	}
	if err := o.hs.ProcessCertificate(cert); err != nil {
		return err
	}
	kx, err := o.hs.GenerateClientKeyExchange()
	if err != nil {
		return err
	}
	fin, err := o.hs.GenerateFinished()
	if err != nil {
		return err
	}
	serverFin, err := o.responder.Finish(kx, fin)
	if err != nil {
		return err
	}
	if err := o.hs.VerifyServerFinished(serverFin); err != nil {
		return err
	}

	o.keys, err = crypto.DeriveSessionKeys(o.masterKey, o.hs.ClientRandom(), o.hs.ServerRandom())
	return err
}

// EncryptMessage seals plaintext for the peer. Established sessions only.
func (o *Orchestrator) EncryptMessage(plaintext []byte) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateEstablished {
		return "", fmt.Errorf("%w: %s", ErrNotEstablished, o.state)
	}
	if !o.limiter.Allow("encrypt:" + o.sessionID) {
		o.reg.Metrics.RateLimited.Inc()
		return "", ErrThrottled
	}

	sealed, err := o.key.Encrypt(plaintext)
	if err != nil {
		o.reg.Metrics.MessageErrors.WithLabelValues("outbound", "crypto").Inc()
		o.finishMessageOp(true)
		return "", err
	}
	o.finishMessageOp(false)
	o.reg.Metrics.MessagesProcessed.WithLabelValues("outbound").Inc()
	o.reg.Metrics.MessageBytes.WithLabelValues("outbound").Add(float64(len(plaintext)))
	return sealed, nil
}

// DecryptMessage opens a sealed message from the peer. Established
// sessions only. A failed open is counted and reported to the honeypot;
// repeated garbage from a peer is an intrusion signal, not noise.
func (o *Orchestrator) DecryptMessage(sealed string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateEstablished {
		return nil, fmt.Errorf("%w: %s", ErrNotEstablished, o.state)
	}
	if !o.limiter.Allow("decrypt:" + o.sessionID) {
		o.reg.Metrics.RateLimited.Inc()
		return nil, ErrThrottled
	}

	plaintext, err := o.key.Decrypt(sealed)
	if err != nil {
		o.reg.Honeypot.SignalAttempt()
		o.reg.Metrics.MessageErrors.WithLabelValues("inbound", "crypto").Inc()
		o.finishMessageOp(true)
		o.log.Warn("message decrypt failed", zap.Error(err))
		return nil, err
	}
	o.finishMessageOp(false)
	o.reg.Metrics.MessagesProcessed.WithLabelValues("inbound").Inc()
	o.reg.Metrics.MessageBytes.WithLabelValues("inbound").Add(float64(len(plaintext)))
	return plaintext, nil
}

// finishMessageOp runs the bookkeeping shared by both directions after a
// message operation: rotation policy accounting and the anomaly sweep.
// Called with o.mu held.
func (o *Orchestrator) finishMessageOp(failed bool) {
	o.msgOps++
	if failed {
		o.msgErrors++
	} else {
		o.reg.Rotation.RecordOperation()
		rotated, err := o.reg.Rotation.RotateIfNeeded()
		switch {
		case err != nil:
			o.log.Error("key rotation failed", zap.Error(err))
		case rotated:
			o.reg.Metrics.KeyUpdates.Inc()
			o.log.Info("key generation rotated",
				zap.Uint64("key_id", o.reg.Rotation.ActiveKey().ID))
		}
	}

	if failed || o.msgOps%anomalyCheckInterval == 0 {
		o.sweepAnomalies()
	}
}

// sweepAnomalies feeds this session's error rate to the shared detector.
// Latency, connection count and cache rate are not tracked per session, so
// they get neutral values and only the rates can trip.
func (o *Orchestrator) sweepAnomalies() {
	errorRate := float64(o.msgErrors) / float64(o.msgOps)
	for _, a := range o.reg.Anomaly.CheckMetrics(errorRate, 1-errorRate, 0, 1, 1.0) {
		o.reg.Metrics.AnomaliesDetected.WithLabelValues(a.Kind).Inc()
		o.log.Warn("traffic anomaly",
			zap.String("kind", a.Kind),
			zap.String("severity", a.Severity.String()),
			zap.String("details", a.Details))
	}
}

func (o *Orchestrator) publishBreakerState() {
	o.reg.Metrics.BreakerState.Set(float64(o.reg.Breaker.State()))
}

// Teardown zeroizes session material and retires the orchestrator. Safe
// to call from any state; idempotent.
func (o *Orchestrator) Teardown() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateTornDown {
		return
	}
	if o.state == StateEstablished {
		o.reg.Metrics.ActiveSessions.Dec()
	}
	if o.keys != nil {
		o.keys.Zeroize()
		o.keys = nil
	}
	o.hs.Reset()
	o.state = StateTornDown
	o.log.Info("session torn down")
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SessionID returns the session's unique id.
func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

// SessionKeys exposes the derived key material to the record layer. Nil
// unless Established.
func (o *Orchestrator) SessionKeys() *crypto.SessionKeys {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.keys
}
