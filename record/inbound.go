package record

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"securebus/busclock"
	"securebus/crypto"
	"securebus/security"
)

var (
	ErrReplay         = errors.New("record: sequence replay or reordering")
	ErrTampered       = errors.New("record: payload authentication failed")
	ErrEmptyPlaintext = errors.New("record: empty plaintext")
	ErrDecryptFailed  = errors.New("record: frame decryption failed")
)

// AEAD framing adds a 12-byte nonce and a 16-byte tag around the envelope.
const sealedOverhead = 12 + 16 + envelopeOverhead

// Inbound unseals frames from the transport. Mirror of Outbound: breaker
// gate, size and compression checks on the sealed frame, per-source rate
// limit, then decrypt, envelope split, per-source monotonic sequence, HMAC
// verification and a non-empty plaintext check.
type Inbound struct {
	masterKey string
	clock     busclock.Clock
	maxFrame  int
	threshold uint64
	interval  time.Duration
	limiter   *security.RateLimiter

	received    atomic.Uint64
	errorCount  atomic.Uint64
	breakerOpen atomic.Bool
	keyUpdates  atomic.Uint64

	mu            sync.Mutex
	lastSeen      map[string]uint64
	lastKeyUpdate time.Time
}

// NewInbound builds an inbound pipeline with the default tunables.
func NewInbound(masterKey string, clock busclock.Clock) *Inbound {
	return NewInboundWithConfig(masterKey, clock, DefaultMaxPayload, DefaultErrorThreshold)
}

// NewInboundWithConfig builds an inbound pipeline with explicit limits.
func NewInboundWithConfig(masterKey string, clock busclock.Clock, maxPayload int, errorThreshold uint64) *Inbound {
	clock = busclock.MustClock(clock)
	return &Inbound{
		masterKey:     masterKey,
		clock:         clock,
		maxFrame:      maxPayload + sealedOverhead,
		threshold:     errorThreshold,
		interval:      DefaultKeyUpdateInterval,
		limiter:       security.NewRateLimiter(clock),
		lastSeen:      make(map[string]uint64),
		lastKeyUpdate: clock.Now(),
	}
}

// Receive unseals one frame from source and returns its payload.
func (in *Inbound) Receive(sealed []byte, source string) ([]byte, error) {
	if in.breakerOpen.Load() {
		return nil, ErrCircuitOpen
	}

	if len(sealed) == 0 {
		return nil, in.fail(ErrEmptyPayload)
	}
	if len(sealed) > in.maxFrame {
		return nil, in.fail(fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(sealed), in.maxFrame))
	}
	if bytes.HasPrefix(sealed, gzipMagic) {
		return nil, in.fail(ErrCompressionDetected)
	}
	if !in.limiter.Allow(source) {
		return nil, in.fail(fmt.Errorf("%w: source %s", ErrRateLimited, source))
	}

	in.markKeyUpdate()

	frame, err := crypto.DecryptWithMaster(in.masterKey, sealed)
	if err != nil {
		return nil, in.fail(fmt.Errorf("%w: %v", ErrDecryptFailed, err))
	}

	sequence, tag, payload, err := splitEnvelope(frame)
	if err != nil {
		return nil, in.fail(err)
	}

	if err := in.checkSequence(source, sequence); err != nil {
		return nil, in.fail(err)
	}

	mac := hmac.New(sha256.New, []byte(in.masterKey))
	mac.Write(payload)
	if !hmac.Equal(tag, mac.Sum(nil)) {
		return nil, in.fail(ErrTampered)
	}

	if len(payload) == 0 {
		return nil, in.fail(ErrEmptyPlaintext)
	}

	in.received.Add(1)
	return append([]byte(nil), payload...), nil
}

// Stats returns the pipeline counters.
func (in *Inbound) Stats() Stats {
	return Stats{
		Processed:  in.received.Load(),
		Errors:     in.errorCount.Load(),
		KeyUpdates: in.keyUpdates.Load(),
	}
}

// IsCircuitOpen reports whether the error latch has tripped.
func (in *Inbound) IsCircuitOpen() bool {
	return in.breakerOpen.Load()
}

// ResetCircuitBreaker clears the latch and the error counter.
func (in *Inbound) ResetCircuitBreaker() {
	in.breakerOpen.Store(false)
	in.errorCount.Store(0)
}

// RecordDeliveryFailure counts a downstream delivery failure reported by
// the consumer and opens the breaker once the threshold is reached.
// Delivery is the consumer's side of the pipeline, so it reports here.
func (in *Inbound) RecordDeliveryFailure() {
	if in.errorCount.Add(1) >= in.threshold {
		in.breakerOpen.Store(true)
	}
}

// fail counts a validation error. Malformed or unauthenticated frames never
// open the breaker; a flood of garbage from one source must not cut off the
// other sources.
func (in *Inbound) fail(err error) error {
	in.errorCount.Add(1)
	return err
}

// checkSequence requires each source's sequence to strictly increase.
func (in *Inbound) checkSequence(source string, sequence uint64) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if last, ok := in.lastSeen[source]; ok && sequence <= last {
		return fmt.Errorf("%w: got %d, last %d", ErrReplay, sequence, last)
	}
	in.lastSeen[source] = sequence
	return nil
}

func (in *Inbound) markKeyUpdate() {
	now := in.clock.Now()
	in.mu.Lock()
	if now.Sub(in.lastKeyUpdate) >= in.interval {
		in.lastKeyUpdate = now
		in.keyUpdates.Add(1)
	}
	in.mu.Unlock()
}
