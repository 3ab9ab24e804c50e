package session

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"securebus/busclock"
)

const testMasterKey = "unit-test-master-key-material"

func newTestTickets(t *testing.T, lifetime time.Duration, max int) (*SessionTicketManager, *busclock.Simulated) {
	t.Helper()
	clock := busclock.NewSimulated(time.Unix(1_700_000_000, 0))
	return NewSessionTicketManagerWithConfig(testMasterKey, clock, lifetime, max), clock
}

func TestTicketCreateAndReuse(t *testing.T) {
	m, _ := newTestTickets(t, time.Hour, 10)

	sessionKey := []byte("derived-session-key-material")
	id, err := m.CreateTicket(sessionKey, []byte("client-7"))
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if id == "" {
		t.Fatal("empty ticket id")
	}

	got, ticket, err := m.ReuseTicket(id)
	if err != nil {
		t.Fatalf("ReuseTicket: %v", err)
	}
	if !bytes.Equal(got, sessionKey) {
		t.Error("unsealed session key mismatch")
	}
	if ticket.ReuseCount != 1 {
		t.Errorf("reuse count = %d, want 1", ticket.ReuseCount)
	}
	if !bytes.Equal(ticket.ClientIdentity, []byte("client-7")) {
		t.Error("client identity mismatch")
	}
	// The stored key never sits in the clear.
	if bytes.Contains(ticket.SealedKey, sessionKey) {
		t.Error("sealed ticket contains the plaintext session key")
	}
}

func TestTicketExpiry(t *testing.T) {
	m, clock := newTestTickets(t, time.Hour, 10)
	id, err := m.CreateTicket([]byte("key"), nil)
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	clock.Advance(time.Hour)
	if _, _, err := m.ReuseTicket(id); !errors.Is(err, ErrTicketExpired) {
		t.Errorf("expired reuse: got %v, want ErrTicketExpired", err)
	}
	// Expired tickets are removed; a second redeem sees not-found.
	if _, _, err := m.ReuseTicket(id); !errors.Is(err, ErrTicketNotFound) {
		t.Errorf("second redeem: got %v, want ErrTicketNotFound", err)
	}

	stats := m.Stats()
	if stats.Expired != 1 {
		t.Errorf("expired counter = %d, want 1", stats.Expired)
	}
}

func TestTicketRevocation(t *testing.T) {
	m, _ := newTestTickets(t, time.Hour, 10)
	id, err := m.CreateTicket([]byte("key"), nil)
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	if !m.RevokeTicket(id) {
		t.Error("RevokeTicket returned false for a live ticket")
	}
	if m.RevokeTicket(id) {
		t.Error("RevokeTicket returned true for a revoked ticket")
	}
	if _, _, err := m.ReuseTicket(id); !errors.Is(err, ErrTicketNotFound) {
		t.Errorf("revoked reuse: got %v, want ErrTicketNotFound", err)
	}
	if stats := m.Stats(); stats.Revoked != 1 {
		t.Errorf("revoked counter = %d, want 1", stats.Revoked)
	}
}

func TestTicketUpdateLifetime(t *testing.T) {
	m, clock := newTestTickets(t, time.Minute, 10)
	id, err := m.CreateTicket([]byte("key"), nil)
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	if !m.UpdateLifetime(id, time.Hour) {
		t.Fatal("UpdateLifetime failed for a live ticket")
	}
	clock.Advance(30 * time.Minute)
	if _, ok := m.GetTicket(id); !ok {
		t.Error("ticket expired despite extended lifetime")
	}
	if m.UpdateLifetime("missing", time.Hour) {
		t.Error("UpdateLifetime succeeded for an unknown ticket")
	}
}

func TestTicketCapacityEviction(t *testing.T) {
	m, _ := newTestTickets(t, time.Hour, 2)

	first, _ := m.CreateTicket([]byte("k1"), nil)
	second, _ := m.CreateTicket([]byte("k2"), nil)
	third, _ := m.CreateTicket([]byte("k3"), nil)

	if _, ok := m.GetTicket(first); ok {
		t.Error("oldest ticket survived eviction")
	}
	for _, id := range []string{second, third} {
		if _, ok := m.GetTicket(id); !ok {
			t.Errorf("ticket %s evicted unexpectedly", id)
		}
	}
}

func TestTicketCleanupAndStats(t *testing.T) {
	m, clock := newTestTickets(t, time.Minute, 10)

	if _, err := m.CreateTicket([]byte("k1"), nil); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	id2, err := m.CreateTicket([]byte("k2"), nil)
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if _, _, err := m.ReuseTicket(id2); err != nil {
		t.Fatalf("ReuseTicket: %v", err)
	}

	clock.Advance(2 * time.Minute)
	if removed := m.CleanupExpired(); removed != 2 {
		t.Errorf("CleanupExpired removed %d, want 2", removed)
	}

	stats := m.Stats()
	if stats.Created != 2 || stats.Reused != 1 || stats.Expired != 2 || stats.TotalTickets != 0 {
		t.Errorf("stats = %+v, want 2 created, 1 reused, 2 expired, 0 total", stats)
	}
}
