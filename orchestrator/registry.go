package orchestrator

import (
	"securebus/busclock"
	"securebus/buslog"
	"securebus/crypto"
	"securebus/metrics"
	"securebus/security"
	"securebus/token"
)

// Registry holds the shared security machinery one bus instance uses. It
// is constructed once and passed by handle; there are no package-level
// singletons, so two buses in one process never share state.
type Registry struct {
	Clock    busclock.Clock
	Tokens   *token.TokenManager
	Honeypot *security.Honeypot
	Anomaly  *security.AnomalyDetector
	Breaker  *security.CircuitBreaker
	Rotation *crypto.KeyRotationManager
	Metrics  *metrics.Metrics
	Logger   *buslog.Logger
}

// NewRegistry wires the full set from a master key. The rotation manager
// starts from the master key material under a hybrid policy.
func NewRegistry(masterKey string, clock busclock.Clock, log *buslog.Logger) (*Registry, error) {
	clock = busclock.MustClock(clock)
	if log == nil {
		log = buslog.Nop()
	}

	tokens, err := token.NewTokenManager(masterKey, clock)
	if err != nil {
		return nil, err
	}
	rotation, err := crypto.NewKeyRotationManager(
		[]byte(masterKey),
		crypto.HybridRotation(crypto.DefaultRotationInterval, crypto.DefaultOperationLimit),
		clock,
	)
	if err != nil {
		return nil, err
	}

	reg := &Registry{
		Clock:    clock,
		Tokens:   tokens,
		Honeypot: security.NewHoneypot(tokens),
		Anomaly:  security.NewAnomalyDetector(clock),
		Breaker:  security.NewCircuitBreaker(),
		Rotation: rotation,
		Metrics:  metrics.New("securebus"),
		Logger:   log,
	}
	reg.Honeypot.OnAttempt(reg.Metrics.HoneypotAttempts.Inc)
	return reg, nil
}
