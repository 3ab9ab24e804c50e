package record

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"securebus/busclock"
	"securebus/crypto"
	"securebus/security"
)

// Record layer defaults shared by both directions.
const (
	DefaultMaxPayload        = 65536
	DefaultKeyUpdateInterval = 30 * time.Second
	DefaultErrorThreshold    = 10
	nonceWindowSize          = 1000
)

var (
	ErrCircuitOpen         = errors.New("record: circuit breaker open")
	ErrEmptyPayload        = errors.New("record: empty payload")
	ErrPayloadTooLarge     = errors.New("record: payload exceeds limit")
	ErrCompressionDetected = errors.New("record: compressed payload rejected")
	ErrRateLimited         = errors.New("record: rate limit exceeded")
	ErrNonceReplay         = errors.New("record: nonce replay detected")
	ErrSendFailed          = errors.New("record: transport send failed")
)

// gzip magic bytes; compressed payloads are refused to keep
// compression-oracle attacks off the channel.
var gzipMagic = []byte{0x1f, 0x8b}

// Transport moves sealed frames to a destination. Implementations must not
// be called under the pipeline's locks.
type Transport interface {
	Send(dest string, frame []byte) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(dest string, frame []byte) error

func (f TransportFunc) Send(dest string, frame []byte) error { return f(dest, frame) }

// Stats is a snapshot of a pipeline's counters.
type Stats struct {
	Processed  uint64
	Errors     uint64
	KeyUpdates uint64
}

// Outbound seals payloads and hands them to the transport. Pipeline order:
// breaker gate, size bound, compression check, per-destination rate limit,
// key-update mark, sequence and nonce tracking, HMAC, envelope, AEAD.
type Outbound struct {
	masterKey  string
	transport  Transport
	clock      busclock.Clock
	maxPayload int
	threshold  uint64
	interval   time.Duration
	limiter    *security.RateLimiter

	sent        atomic.Uint64
	errorCount  atomic.Uint64
	breakerOpen atomic.Bool
	sequence    atomic.Uint64
	keyUpdates  atomic.Uint64

	mu            sync.Mutex
	lastKeyUpdate time.Time
	nonceWindow   [][]byte
}

// NewOutbound builds an outbound pipeline with the default tunables.
func NewOutbound(masterKey string, transport Transport, clock busclock.Clock) *Outbound {
	return NewOutboundWithConfig(masterKey, transport, clock, DefaultMaxPayload, DefaultErrorThreshold)
}

// NewOutboundWithConfig builds an outbound pipeline with explicit limits.
func NewOutboundWithConfig(masterKey string, transport Transport, clock busclock.Clock, maxPayload int, errorThreshold uint64) *Outbound {
	clock = busclock.MustClock(clock)
	o := &Outbound{
		masterKey:     masterKey,
		transport:     transport,
		clock:         clock,
		maxPayload:    maxPayload,
		threshold:     errorThreshold,
		interval:      DefaultKeyUpdateInterval,
		limiter:       security.NewRateLimiter(clock),
		lastKeyUpdate: clock.Now(),
	}
	o.sequence.Store(1)
	return o
}

// Send seals payload for dest and pushes it to the transport.
func (o *Outbound) Send(payload []byte, dest string) error {
	if o.breakerOpen.Load() {
		return ErrCircuitOpen
	}

	if len(payload) == 0 {
		return o.fail(ErrEmptyPayload)
	}
	if len(payload) > o.maxPayload {
		return o.fail(fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), o.maxPayload))
	}
	if bytes.HasPrefix(payload, gzipMagic) {
		return o.fail(ErrCompressionDetected)
	}
	if !o.limiter.Allow(dest) {
		return o.fail(fmt.Errorf("%w: destination %s", ErrRateLimited, dest))
	}

	o.markKeyUpdate()

	sequence := o.sequence.Add(1) - 1
	if err := o.trackNonce(sequence); err != nil {
		return o.fail(err)
	}

	mac := hmac.New(sha256.New, []byte(o.masterKey))
	mac.Write(payload)
	frame := packEnvelope(sequence, mac.Sum(nil), payload)

	sealed, err := crypto.EncryptWithMaster(o.masterKey, frame)
	zero(frame)
	if err != nil {
		return o.fail(fmt.Errorf("record: seal: %w", err))
	}

	if err := o.transport.Send(dest, sealed); err != nil {
		return o.failTransport(fmt.Errorf("%w: %v", ErrSendFailed, err))
	}
	o.sent.Add(1)
	return nil
}

// Stats returns the pipeline counters.
func (o *Outbound) Stats() Stats {
	return Stats{
		Processed:  o.sent.Load(),
		Errors:     o.errorCount.Load(),
		KeyUpdates: o.keyUpdates.Load(),
	}
}

// IsCircuitOpen reports whether the error latch has tripped.
func (o *Outbound) IsCircuitOpen() bool {
	return o.breakerOpen.Load()
}

// ResetCircuitBreaker clears the latch and the error counter.
func (o *Outbound) ResetCircuitBreaker() {
	o.breakerOpen.Store(false)
	o.errorCount.Store(0)
}

// fail counts a validation error. Validation failures never open the
// breaker; only transport failures do.
func (o *Outbound) fail(err error) error {
	o.errorCount.Add(1)
	return err
}

// failTransport counts a transport failure and opens the breaker once the
// threshold is reached.
func (o *Outbound) failTransport(err error) error {
	if o.errorCount.Add(1) >= o.threshold {
		o.breakerOpen.Store(true)
	}
	return err
}

func (o *Outbound) markKeyUpdate() {
	now := o.clock.Now()
	o.mu.Lock()
	if now.Sub(o.lastKeyUpdate) >= o.interval {
		o.lastKeyUpdate = now
		o.keyUpdates.Add(1)
	}
	o.mu.Unlock()
}

// trackNonce keeps a bounded FIFO of recent sequence nonces. A duplicate is
// a replay; past the bound the oldest entry is evicted.
func (o *Outbound) trackNonce(sequence uint64) error {
	nonce := make([]byte, seqLen)
	binary.LittleEndian.PutUint64(nonce, sequence)

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, n := range o.nonceWindow {
		if bytes.Equal(n, nonce) {
			return ErrNonceReplay
		}
	}
	o.nonceWindow = append(o.nonceWindow, nonce)
	if len(o.nonceWindow) > nonceWindowSize {
		o.nonceWindow = o.nonceWindow[1:]
	}
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
