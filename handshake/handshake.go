// Package handshake implements the client side of the channel establishment
// protocol: a strictly linear state machine that produces and consumes the
// handshake messages, with no I/O of its own. The caller moves messages to
// and from the peer and derives session keys from the exchanged randoms.
package handshake

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"time"

	"securebus/busclock"
	"securebus/crypto"
)

// State is the handshake machine's position.
type State int

const (
	StateInitial State = iota
	StateClientHelloSent
	StateServerHelloReceived
	StateCertificateReceived
	StateClientKeyExchangeSent
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateClientHelloSent:
		return "client-hello-sent"
	case StateServerHelloReceived:
		return "server-hello-received"
	case StateCertificateReceived:
		return "certificate-received"
	case StateClientKeyExchangeSent:
		return "client-key-exchange-sent"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidState       = errors.New("handshake: step invoked out of order")
	ErrUnsupportedVersion = errors.New("handshake: unsupported protocol version")
	ErrEmptyChain         = errors.New("handshake: empty certificate chain")
	ErrEmptyCertificate   = errors.New("handshake: empty certificate in chain")
	ErrVerificationFailed = errors.New("handshake: finished verification failed")
	ErrHandshakeTimeout   = errors.New("handshake: deadline exceeded")
)

// Protocol constants.
const (
	ProtocolVersion = 0x0303

	// DefaultTimeout is the hard wall-clock budget for a full handshake,
	// armed when the ClientHello is generated.
	DefaultTimeout = 5 * time.Second

	preMasterLen = 48
)

// The fixed cipher suite offer.
var supportedCipherSuites = []uint16{0x002F, 0x0035, 0x003C, 0x003D}

// ClientHello opens the handshake.
type ClientHello struct {
	Version            uint16
	Random             [32]byte
	SessionID          []byte
	CipherSuites       []uint16
	CompressionMethods []byte
}

// ServerHello answers the ClientHello.
type ServerHello struct {
	Version     uint16
	Random      [32]byte
	SessionID   []byte
	CipherSuite uint16
}

// CertificateMessage carries the peer's certificate chain.
type CertificateMessage struct {
	CertChain [][]byte
}

// ClientKeyExchange carries the encrypted pre-master secret.
type ClientKeyExchange struct {
	EncryptedPreMaster []byte
}

// FinishedMessage carries the encrypted transcript verification tag.
type FinishedMessage struct {
	VerifyData []byte
}

// Handshake is the linear client-side state machine. It is not safe for
// concurrent use; a stalled instance is abandoned via Reset.
type Handshake struct {
	key     *crypto.CryptoKey
	clock   busclock.Clock
	timeout time.Duration

	state        State
	deadline     time.Time
	transcript   hash.Hash
	clientRandom [32]byte
	serverRandom [32]byte
	verifyTag    []byte
}

// New derives the handshake encryption key from the master key.
func New(masterKey string, clock busclock.Clock) (*Handshake, error) {
	return NewWithTimeout(masterKey, clock, DefaultTimeout)
}

// NewWithTimeout builds a machine with an explicit handshake budget.
func NewWithTimeout(masterKey string, clock busclock.Clock, timeout time.Duration) (*Handshake, error) {
	key, err := crypto.NewCryptoKey(masterKey, "handshake")
	if err != nil {
		return nil, err
	}
	return &Handshake{
		key:        key,
		clock:      busclock.MustClock(clock),
		timeout:    timeout,
		state:      StateInitial,
		transcript: sha256.New(),
	}, nil
}

// GenerateClientHello opens the handshake and arms the deadline. Valid only
// in the initial state.
func (h *Handshake) GenerateClientHello(sessionID []byte) (*ClientHello, error) {
	if h.state != StateInitial {
		return nil, fmt.Errorf("%w: ClientHello in %s", ErrInvalidState, h.state)
	}
	if _, err := rand.Read(h.clientRandom[:]); err != nil {
		return nil, fmt.Errorf("handshake: client random: %w", err)
	}

	h.deadline = h.clock.Now().Add(h.timeout)

	hello := &ClientHello{
		Version:            ProtocolVersion,
		Random:             h.clientRandom,
		SessionID:          append([]byte(nil), sessionID...),
		CipherSuites:       append([]uint16(nil), supportedCipherSuites...),
		CompressionMethods: []byte{0},
	}

	h.transcript.Write(h.clientRandom[:])
	h.transcript.Write(hello.SessionID)

	h.state = StateClientHelloSent
	return hello, nil
}

// ProcessServerHello accepts the server's reply. Valid only after the
// ClientHello was generated.
func (h *Handshake) ProcessServerHello(sh *ServerHello) error {
	if h.state != StateClientHelloSent {
		return fmt.Errorf("%w: ServerHello in %s", ErrInvalidState, h.state)
	}
	if err := h.checkDeadline(); err != nil {
		return err
	}
	if sh.Version != ProtocolVersion {
		return fmt.Errorf("%w: 0x%04x", ErrUnsupportedVersion, sh.Version)
	}

	h.serverRandom = sh.Random
	h.transcript.Write(sh.Random[:])
	var suite [2]byte
	binary.BigEndian.PutUint16(suite[:], sh.CipherSuite)
	h.transcript.Write(suite[:])

	h.state = StateServerHelloReceived
	return nil
}

// ProcessCertificate validates the presented chain: it must be non-empty
// and contain no empty entries.
func (h *Handshake) ProcessCertificate(cm *CertificateMessage) error {
	if h.state != StateServerHelloReceived {
		return fmt.Errorf("%w: Certificate in %s", ErrInvalidState, h.state)
	}
	if err := h.checkDeadline(); err != nil {
		return err
	}
	if len(cm.CertChain) == 0 {
		return ErrEmptyChain
	}
	for i, cert := range cm.CertChain {
		if len(cert) == 0 {
			return fmt.Errorf("%w: index %d", ErrEmptyCertificate, i)
		}
		h.transcript.Write(cert)
	}

	h.state = StateCertificateReceived
	return nil
}

// GenerateClientKeyExchange encrypts a fresh pre-master secret: a 2-byte
// version prefix followed by 46 random bytes.
func (h *Handshake) GenerateClientKeyExchange() (*ClientKeyExchange, error) {
	if h.state != StateCertificateReceived {
		return nil, fmt.Errorf("%w: ClientKeyExchange in %s", ErrInvalidState, h.state)
	}
	if err := h.checkDeadline(); err != nil {
		return nil, err
	}

	preMaster := make([]byte, preMasterLen)
	binary.BigEndian.PutUint16(preMaster[:2], ProtocolVersion)
	if _, err := rand.Read(preMaster[2:]); err != nil {
		return nil, fmt.Errorf("handshake: pre-master: %w", err)
	}

	encrypted, err := h.key.Encrypt(preMaster)
	if err != nil {
		return nil, err
	}
	h.transcript.Write(preMaster)

	h.state = StateClientKeyExchangeSent
	return &ClientKeyExchange{EncryptedPreMaster: []byte(encrypted)}, nil
}

// GenerateFinished seals the transcript hash as the verification tag. The
// same tag is expected back from the server.
func (h *Handshake) GenerateFinished() (*FinishedMessage, error) {
	if h.state != StateClientKeyExchangeSent {
		return nil, fmt.Errorf("%w: Finished in %s", ErrInvalidState, h.state)
	}
	if err := h.checkDeadline(); err != nil {
		return nil, err
	}

	h.verifyTag = h.transcript.Sum(nil)
	encrypted, err := h.key.Encrypt(h.verifyTag)
	if err != nil {
		return nil, err
	}

	h.state = StateFinished
	return &FinishedMessage{VerifyData: []byte(encrypted)}, nil
}

// VerifyServerFinished decrypts the server's tag and compares it to the
// local transcript in constant time.
func (h *Handshake) VerifyServerFinished(fm *FinishedMessage) error {
	if h.state != StateFinished {
		return fmt.Errorf("%w: ServerFinished in %s", ErrInvalidState, h.state)
	}
	if err := h.checkDeadline(); err != nil {
		return err
	}

	decrypted, err := h.key.Decrypt(string(fm.VerifyData))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if subtle.ConstantTimeCompare(decrypted, h.verifyTag) != 1 {
		return ErrVerificationFailed
	}
	return nil
}

// State returns the machine's current position.
func (h *Handshake) State() State {
	return h.state
}

// ClientRandom returns the random generated for the ClientHello.
func (h *Handshake) ClientRandom() [32]byte {
	return h.clientRandom
}

// ServerRandom returns the random received in the ServerHello.
func (h *Handshake) ServerRandom() [32]byte {
	return h.serverRandom
}

// Reset unconditionally abandons the handshake and returns to the initial
// state.
func (h *Handshake) Reset() {
	h.state = StateInitial
	h.deadline = time.Time{}
	h.transcript = sha256.New()
	h.clientRandom = [32]byte{}
	h.serverRandom = [32]byte{}
	h.verifyTag = nil
}

func (h *Handshake) checkDeadline() error {
	if !h.deadline.IsZero() && h.clock.Now().After(h.deadline) {
		return ErrHandshakeTimeout
	}
	return nil
}
