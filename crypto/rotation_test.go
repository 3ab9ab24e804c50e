package crypto

import (
	"bytes"
	"testing"
	"time"

	"securebus/busclock"
)

func newRotationManager(t *testing.T, policy RotationPolicy) (*KeyRotationManager, *busclock.Simulated) {
	t.Helper()
	clock := busclock.NewSimulated(time.Unix(1_700_000_000, 0))
	m, err := NewKeyRotationManager([]byte("initial-key-material-32-bytes!!!"), policy, clock)
	if err != nil {
		t.Fatalf("NewKeyRotationManager: %v", err)
	}
	return m, clock
}

func TestRotationTimeBased(t *testing.T) {
	m, clock := newRotationManager(t, TimeBasedRotation(time.Hour))

	rotated, err := m.RotateIfNeeded()
	if err != nil {
		t.Fatalf("RotateIfNeeded: %v", err)
	}
	if rotated {
		t.Error("rotated before the interval elapsed")
	}

	clock.Advance(time.Hour)
	rotated, err = m.RotateIfNeeded()
	if err != nil {
		t.Fatalf("RotateIfNeeded: %v", err)
	}
	if !rotated {
		t.Fatal("did not rotate at the interval boundary")
	}
	if got := m.ActiveKey().ID; got != 2 {
		t.Errorf("active key id = %d, want 2", got)
	}
}

func TestRotationOperationBased(t *testing.T) {
	m, _ := newRotationManager(t, OperationBasedRotation(3))

	for i := 0; i < 2; i++ {
		m.RecordOperation()
	}
	if rotated, _ := m.RotateIfNeeded(); rotated {
		t.Error("rotated below the operation limit")
	}

	m.RecordOperation()
	rotated, err := m.RotateIfNeeded()
	if err != nil {
		t.Fatalf("RotateIfNeeded: %v", err)
	}
	if !rotated {
		t.Fatal("did not rotate at the operation limit")
	}
	if got := m.ActiveKey().OperationCount; got != 0 {
		t.Errorf("new key operation count = %d, want 0", got)
	}
}

func TestRotationHybrid(t *testing.T) {
	m, clock := newRotationManager(t, HybridRotation(time.Hour, 5))

	// Operation limit trips first.
	for i := 0; i < 5; i++ {
		m.RecordOperation()
	}
	if rotated, _ := m.RotateIfNeeded(); !rotated {
		t.Fatal("hybrid policy ignored the operation limit")
	}

	// Then the time bound trips with no operations recorded.
	clock.Advance(time.Hour)
	if rotated, _ := m.RotateIfNeeded(); !rotated {
		t.Fatal("hybrid policy ignored the time bound")
	}
}

func TestForceRotationAndHistory(t *testing.T) {
	m, _ := newRotationManager(t, TimeBasedRotation(time.Hour))

	original := m.ActiveKey()
	newID, err := m.ForceRotation()
	if err != nil {
		t.Fatalf("ForceRotation: %v", err)
	}
	if newID != 2 {
		t.Errorf("ForceRotation id = %d, want 2", newID)
	}

	old, ok := m.KeyByID(original.ID)
	if !ok {
		t.Fatal("retired key not resolvable by id")
	}
	if !bytes.Equal(old.Material, original.Material) {
		t.Error("retired key material changed")
	}

	active, ok := m.KeyByID(newID)
	if !ok {
		t.Fatal("active key not resolvable by id")
	}
	if bytes.Equal(active.Material, original.Material) {
		t.Error("rotation reused the retired material")
	}
}

func TestRotationHistoryBounded(t *testing.T) {
	m, _ := newRotationManager(t, TimeBasedRotation(time.Hour))

	for i := 0; i < maxHistoricalKeys+3; i++ {
		if _, err := m.ForceRotation(); err != nil {
			t.Fatalf("ForceRotation: %v", err)
		}
	}

	stats := m.Stats()
	if stats.HistoricalKeys != maxHistoricalKeys {
		t.Errorf("historical keys = %d, want %d", stats.HistoricalKeys, maxHistoricalKeys)
	}
	if stats.Rotations != uint64(maxHistoricalKeys+3) {
		t.Errorf("rotations = %d, want %d", stats.Rotations, maxHistoricalKeys+3)
	}

	// Key 1 was the oldest generation and must have been evicted.
	if _, ok := m.KeyByID(1); ok {
		t.Error("oldest historical key was not evicted")
	}
}

func TestRotationRejectsEmptyInitialKey(t *testing.T) {
	clock := busclock.NewSimulated(time.Unix(1_700_000_000, 0))
	if _, err := NewKeyRotationManager(nil, TimeBasedRotation(time.Hour), clock); err == nil {
		t.Fatal("empty initial key accepted")
	}
}
