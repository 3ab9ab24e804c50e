// Package token issues and validates the opaque access tokens components
// present on the bus, and the signed credentials that admit components to
// channel loops.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"securebus/busclock"
)

const (
	nonceLen  = 12
	expiryLen = 8
	hmacLen   = 32

	minMasterKeyLen = 14
	maxMasterKeyLen = 512
	maxContextLen   = 128
	maxTokenLen     = 1024
)

var (
	ErrInvalidMasterKey = errors.New("token: invalid master key")
	ErrInvalidContext   = errors.New("token: invalid context")
)

// TokenManager mints HMAC-authenticated bearer tokens bound to a context
// string. A ledger tracks the latest token issued per context; issuing a new
// one supersedes the previous entry.
type TokenManager struct {
	masterKey string
	clock     busclock.Clock

	mu     sync.Mutex
	issued map[string]ledgerEntry
}

type ledgerEntry struct {
	token  string
	expiry int64
}

// NewTokenManager validates the master key and returns a manager.
func NewTokenManager(masterKey string, clock busclock.Clock) (*TokenManager, error) {
	if err := validateMasterKey(masterKey); err != nil {
		return nil, err
	}
	return &TokenManager{
		masterKey: masterKey,
		clock:     busclock.MustClock(clock),
		issued:    make(map[string]ledgerEntry),
	}, nil
}

// Generate mints a token for context valid for ttl. The wire form is
// base64url (no padding) of nonce:12 || expiry:8 big-endian || hmac:32,
// where the HMAC-SHA256 covers context || nonce || expiry.
func (m *TokenManager) Generate(context string, ttl time.Duration) (string, error) {
	if err := validateContext(context); err != nil {
		return "", err
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("token: nonce generation: %w", err)
	}

	expiry := m.clock.Unix() + int64(ttl/time.Second)
	var expiryBytes [expiryLen]byte
	binary.BigEndian.PutUint64(expiryBytes[:], uint64(expiry))

	mac := hmac.New(sha256.New, []byte(m.masterKey))
	mac.Write([]byte(context))
	mac.Write(nonce)
	mac.Write(expiryBytes[:])

	out := make([]byte, 0, nonceLen+expiryLen+hmacLen)
	out = append(out, nonce...)
	out = append(out, expiryBytes[:]...)
	out = append(out, mac.Sum(nil)...)
	encoded := base64.RawURLEncoding.EncodeToString(out)

	m.mu.Lock()
	m.issued[context] = ledgerEntry{token: encoded, expiry: expiry}
	m.mu.Unlock()

	return encoded, nil
}

// Validate accepts a token that either verifies against the empty context or
// matches an unexpired ledger entry.
func (m *TokenManager) Validate(token string) bool {
	if m.verify(token, "") {
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Unix()
	for _, entry := range m.issued {
		// Constant-time compare; a timing oracle over the ledger would
		// let a component recover another component's token.
		if hmac.Equal([]byte(entry.token), []byte(token)) && entry.expiry > now {
			return true
		}
	}
	return false
}

// ValidateWithContext verifies a token against a specific context.
func (m *TokenManager) ValidateWithContext(token, context string) bool {
	if validateContext(context) != nil {
		return false
	}
	return m.verify(token, context)
}

func (m *TokenManager) verify(token, context string) bool {
	if len(token) == 0 || len(token) > maxTokenLen {
		return false
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	if len(decoded) != nonceLen+expiryLen+hmacLen {
		return false
	}

	nonce := decoded[:nonceLen]
	expiryBytes := decoded[nonceLen : nonceLen+expiryLen]
	tag := decoded[nonceLen+expiryLen:]

	expiry := int64(binary.BigEndian.Uint64(expiryBytes))
	if m.clock.Unix() > expiry {
		return false
	}

	mac := hmac.New(sha256.New, []byte(m.masterKey))
	mac.Write([]byte(context))
	mac.Write(nonce)
	mac.Write(expiryBytes)
	return hmac.Equal(tag, mac.Sum(nil))
}

// ListTokens returns the contexts with a ledger entry and their expiries.
func (m *TokenManager) ListTokens() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.issued))
	for ctx, entry := range m.issued {
		out[ctx] = entry.expiry
	}
	return out
}

// PurgeExpired drops expired ledger entries and returns how many were
// removed.
func (m *TokenManager) PurgeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Unix()
	purged := 0
	for ctx, entry := range m.issued {
		if entry.expiry <= now {
			delete(m.issued, ctx)
			purged++
		}
	}
	return purged
}

// GenerateDecoys derives count deterministic-looking decoy tokens. Decoys
// are indistinguishable in shape from hex session identifiers but never
// validate; they exist to bait credential-guessing components.
func (m *TokenManager) GenerateDecoys(count int) []string {
	out := make([]string, 0, count)
	base := m.clock.Unix()
	for i := 0; i < count; i++ {
		mac := hmac.New(sha256.New, []byte(m.masterKey))
		fmt.Fprintf(mac, "decoy|ts:%d", base+int64(i))
		out = append(out, fmt.Sprintf("%x", mac.Sum(nil)))
	}
	return out
}

func validateMasterKey(key string) error {
	if len(key) < minMasterKeyLen || len(key) > maxMasterKeyLen {
		return fmt.Errorf("%w: length out of range", ErrInvalidMasterKey)
	}
	var seen [256]bool
	unique := 0
	for i := 0; i < len(key); i++ {
		if !seen[key[i]] {
			seen[key[i]] = true
			unique++
		}
	}
	if unique < 2 {
		return fmt.Errorf("%w: insufficient entropy", ErrInvalidMasterKey)
	}
	return nil
}

func validateContext(context string) error {
	if len(context) == 0 || len(context) > maxContextLen {
		return fmt.Errorf("%w: length out of range", ErrInvalidContext)
	}
	for _, r := range context {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == ':' || r == '_' || r == '-' || r == '.':
		default:
			return fmt.Errorf("%w: invalid character %q", ErrInvalidContext, r)
		}
	}
	return nil
}
