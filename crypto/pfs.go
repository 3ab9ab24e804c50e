package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"securebus/busclock"
)

// DefaultEphemeralTTL bounds how long an ephemeral key may be used for a
// shared-secret agreement.
const DefaultEphemeralTTL = 300 * time.Second

var (
	ErrKeyNotFound = errors.New("crypto: ephemeral key not found")
	ErrKeyExpired  = errors.New("crypto: ephemeral key expired")
	ErrNoSecret    = errors.New("crypto: shared secret not computed")
)

// EphemeralKey is the public view of a forward-secrecy keypair. The private
// half never leaves the manager.
type EphemeralKey struct {
	ID        uint64
	PublicKey []byte
	CreatedAt time.Time
	TTL       time.Duration
}

type ephemeralEntry struct {
	private      *ecdh.PrivateKey
	public       []byte
	sharedSecret []byte
	createdAt    time.Time
	ttl          time.Duration
}

// A key is usable strictly before createdAt+ttl and expired at that instant.
func (e *ephemeralEntry) valid(now time.Time) bool {
	return now.Sub(e.createdAt) < e.ttl
}

// PFSManager generates X25519 ephemeral keypairs and performs the key
// agreement for forward-secret sessions. A key's shared secret is computed
// at most once; repeated calls return the stored value.
type PFSManager struct {
	mu     sync.RWMutex
	keys   map[uint64]*ephemeralEntry
	nextID uint64
	ttl    time.Duration
	clock  busclock.Clock
}

// PFSStats summarizes the ephemeral key population.
type PFSStats struct {
	TotalKeys        int
	ValidKeys        int
	WithSharedSecret int
}

// NewPFSManager builds a manager with the default key lifetime.
func NewPFSManager(clock busclock.Clock) *PFSManager {
	return NewPFSManagerWithTTL(clock, DefaultEphemeralTTL)
}

// NewPFSManagerWithTTL builds a manager with an explicit key lifetime.
func NewPFSManagerWithTTL(clock busclock.Clock, ttl time.Duration) *PFSManager {
	return &PFSManager{
		keys:   make(map[uint64]*ephemeralEntry),
		nextID: 1,
		ttl:    ttl,
		clock:  busclock.MustClock(clock),
	}
}

// GenerateEphemeralKey creates and registers a fresh X25519 keypair.
func (m *PFSManager) GenerateEphemeralKey() (*EphemeralKey, error) {
	private, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: ephemeral keygen: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++

	entry := &ephemeralEntry{
		private:   private,
		public:    private.PublicKey().Bytes(),
		createdAt: m.clock.Now(),
		ttl:       m.ttl,
	}
	m.keys[id] = entry

	return &EphemeralKey{
		ID:        id,
		PublicKey: append([]byte(nil), entry.public...),
		CreatedAt: entry.createdAt,
		TTL:       entry.ttl,
	}, nil
}

// ComputeSharedSecret runs the X25519 agreement between the keypair
// identified by keyID and the peer's public key. The result is cached; a
// second call returns the first result without recomputation.
func (m *PFSManager) ComputeSharedSecret(keyID uint64, peerPublic []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.keys[keyID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if !entry.valid(m.clock.Now()) {
		return nil, ErrKeyExpired
	}
	if entry.sharedSecret != nil {
		return append([]byte(nil), entry.sharedSecret...), nil
	}

	peer, err := ecdh.X25519().NewPublicKey(peerPublic)
	if err != nil {
		return nil, fmt.Errorf("crypto: peer public key: %w", err)
	}
	secret, err := entry.private.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("crypto: key agreement: %w", err)
	}
	entry.sharedSecret = secret
	return append([]byte(nil), secret...), nil
}

// SharedSecret returns the cached agreement result for keyID.
func (m *PFSManager) SharedSecret(keyID uint64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.keys[keyID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if entry.sharedSecret == nil {
		return nil, ErrNoSecret
	}
	return append([]byte(nil), entry.sharedSecret...), nil
}

// HasValidKey reports whether keyID exists and has not expired.
func (m *PFSManager) HasValidKey(keyID uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.keys[keyID]
	return ok && entry.valid(m.clock.Now())
}

// RemoveKey drops keyID and its material.
func (m *PFSManager) RemoveKey(keyID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[keyID]; !ok {
		return false
	}
	delete(m.keys, keyID)
	return true
}

// CleanupExpired removes all expired keys and returns how many were dropped.
func (m *PFSManager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for id, entry := range m.keys {
		if !entry.valid(now) {
			delete(m.keys, id)
			removed++
		}
	}
	return removed
}

// ActiveKeyCount returns the number of registered keys, expired or not.
func (m *PFSManager) ActiveKeyCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

// Stats returns the current key population counts.
func (m *PFSManager) Stats() PFSStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.clock.Now()
	stats := PFSStats{TotalKeys: len(m.keys)}
	for _, entry := range m.keys {
		if entry.valid(now) {
			stats.ValidKeys++
			if entry.sharedSecret != nil {
				stats.WithSharedSecret++
			}
		}
	}
	return stats
}
