package crypto

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"securebus/busclock"
)

// maxHistoricalKeys bounds how many retired keys stay resolvable for
// decrypting material sealed before a rotation.
const maxHistoricalKeys = 10

// Default hybrid rotation policy parameters.
const (
	DefaultRotationInterval = 24 * time.Hour
	DefaultOperationLimit   = 100_000
)

// RotationPolicy decides when the active key must be replaced.
type RotationPolicy struct {
	interval time.Duration
	opLimit  uint64
	timed    bool
	counted  bool
}

// TimeBasedRotation rotates once the key is older than interval.
func TimeBasedRotation(interval time.Duration) RotationPolicy {
	return RotationPolicy{interval: interval, timed: true}
}

// OperationBasedRotation rotates once the key has served limit operations.
func OperationBasedRotation(limit uint64) RotationPolicy {
	return RotationPolicy{opLimit: limit, counted: true}
}

// HybridRotation rotates when either the age or the operation bound trips.
func HybridRotation(interval time.Duration, limit uint64) RotationPolicy {
	return RotationPolicy{interval: interval, opLimit: limit, timed: true, counted: true}
}

// RotationKey is one generation of key material.
type RotationKey struct {
	ID             uint64
	Material       []byte
	CreatedAt      time.Time
	OperationCount uint64
}

func (k *RotationKey) needsRotation(now time.Time, p RotationPolicy) bool {
	if p.timed && now.Sub(k.CreatedAt) >= p.interval {
		return true
	}
	if p.counted && k.OperationCount >= p.opLimit {
		return true
	}
	return false
}

// KeyRotationManager owns the active key generation and a bounded history
// of retired generations.
type KeyRotationManager struct {
	mu         sync.Mutex
	active     RotationKey
	historical map[uint64]RotationKey
	order      []uint64
	policy     RotationPolicy
	nextID     uint64
	clock      busclock.Clock
	rotations  uint64
}

// KeyRotationStats reports the manager's current shape.
type KeyRotationStats struct {
	ActiveKeyID    uint64
	OperationCount uint64
	HistoricalKeys int
	Rotations      uint64
}

// NewKeyRotationManager starts with the given initial material as key 1.
func NewKeyRotationManager(initial []byte, policy RotationPolicy, clock busclock.Clock) (*KeyRotationManager, error) {
	if len(initial) == 0 {
		return nil, fmt.Errorf("%w: empty initial key", ErrInvalidKey)
	}
	clock = busclock.MustClock(clock)
	return &KeyRotationManager{
		active: RotationKey{
			ID:        1,
			Material:  append([]byte(nil), initial...),
			CreatedAt: clock.Now(),
		},
		historical: make(map[uint64]RotationKey),
		policy:     policy,
		nextID:     2,
		clock:      clock,
	}, nil
}

// ActiveKey returns a copy of the current generation.
func (m *KeyRotationManager) ActiveKey() RotationKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyRotationKey(m.active)
}

// RecordOperation counts one use of the active key toward the policy.
func (m *KeyRotationManager) RecordOperation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active.OperationCount++
}

// RotateIfNeeded rotates when the policy demands it and reports whether a
// rotation happened.
func (m *KeyRotationManager) RotateIfNeeded() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active.needsRotation(m.clock.Now(), m.policy) {
		return false, nil
	}
	if err := m.rotateLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// ForceRotation rotates unconditionally and returns the new key id.
func (m *KeyRotationManager) ForceRotation() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.rotateLocked(); err != nil {
		return 0, err
	}
	return m.active.ID, nil
}

func (m *KeyRotationManager) rotateLocked() error {
	material := make([]byte, 32)
	if _, err := rand.Read(material); err != nil {
		return fmt.Errorf("crypto: rotation keygen: %w", err)
	}

	m.historical[m.active.ID] = copyRotationKey(m.active)
	m.order = append(m.order, m.active.ID)
	if len(m.order) > maxHistoricalKeys {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.historical, oldest)
	}

	m.active = RotationKey{
		ID:        m.nextID,
		Material:  material,
		CreatedAt: m.clock.Now(),
	}
	m.nextID++
	m.rotations++
	return nil
}

// KeyByID resolves the active or a retained historical generation.
func (m *KeyRotationManager) KeyByID(id uint64) (RotationKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active.ID == id {
		return copyRotationKey(m.active), true
	}
	key, ok := m.historical[id]
	if !ok {
		return RotationKey{}, false
	}
	return copyRotationKey(key), true
}

// Stats returns the manager counters.
func (m *KeyRotationManager) Stats() KeyRotationStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return KeyRotationStats{
		ActiveKeyID:    m.active.ID,
		OperationCount: m.active.OperationCount,
		HistoricalKeys: len(m.historical),
		Rotations:      m.rotations,
	}
}

func copyRotationKey(k RotationKey) RotationKey {
	out := k
	out.Material = append([]byte(nil), k.Material...)
	return out
}
