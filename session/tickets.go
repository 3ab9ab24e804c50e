package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"securebus/busclock"
	"securebus/crypto"
)

// Ticket manager defaults.
const (
	DefaultTicketTTL  = 3600 * time.Second
	DefaultMaxTickets = 1000
)

// SessionTicket is one resumption ticket. The session key is held sealed
// under the master AEAD and only opened on reuse.
type SessionTicket struct {
	TicketID       string
	SealedKey      []byte
	ClientIdentity []byte
	CreatedAt      time.Time
	Lifetime       time.Duration
	ReuseCount     uint64
}

func (t *SessionTicket) valid(now time.Time) bool {
	return now.Sub(t.CreatedAt) < t.Lifetime
}

// TicketStats counts ticket manager activity.
type TicketStats struct {
	TotalTickets int
	Created      uint64
	Reused       uint64
	Expired      uint64
	Revoked      uint64
}

// SessionTicketManager issues and redeems resumption tickets. Ticket ids
// are uuids; capacity is bounded with oldest-entry eviction.
type SessionTicketManager struct {
	masterKey string
	lifetime  time.Duration
	max       int

	mu      sync.Mutex
	tickets map[string]*SessionTicket
	order   []string
	clock   busclock.Clock

	created uint64
	reused  uint64
	expired uint64
	revoked uint64
}

// NewSessionTicketManager builds a manager with the default lifetime and
// capacity. The master key seals ticket session keys at rest.
func NewSessionTicketManager(masterKey string, clock busclock.Clock) *SessionTicketManager {
	return NewSessionTicketManagerWithConfig(masterKey, clock, DefaultTicketTTL, DefaultMaxTickets)
}

// NewSessionTicketManagerWithConfig builds a manager with explicit limits.
func NewSessionTicketManagerWithConfig(masterKey string, clock busclock.Clock, lifetime time.Duration, max int) *SessionTicketManager {
	return &SessionTicketManager{
		masterKey: masterKey,
		lifetime:  lifetime,
		max:       max,
		tickets:   make(map[string]*SessionTicket),
		clock:     busclock.MustClock(clock),
	}
}

// CreateTicket seals the session key and stores a new ticket, returning its
// id. A full store evicts its oldest ticket first.
func (m *SessionTicketManager) CreateTicket(sessionKey, clientIdentity []byte) (string, error) {
	sealed, err := crypto.EncryptWithMaster(m.masterKey, sessionKey)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	ticket := &SessionTicket{
		TicketID:       id,
		SealedKey:      sealed,
		ClientIdentity: append([]byte(nil), clientIdentity...),
		CreatedAt:      m.clock.Now(),
		Lifetime:       m.lifetime,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.tickets) >= m.max && len(m.order) > 0 {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.tickets, oldest)
	}
	m.tickets[id] = ticket
	m.order = append(m.order, id)
	m.created++
	return id, nil
}

// ReuseTicket redeems a ticket: it bumps the reuse counter and returns the
// unsealed session key. Expired tickets are removed and counted.
func (m *SessionTicketManager) ReuseTicket(ticketID string) ([]byte, *SessionTicket, error) {
	m.mu.Lock()

	ticket, ok := m.tickets[ticketID]
	if !ok {
		m.mu.Unlock()
		return nil, nil, ErrTicketNotFound
	}
	if !ticket.valid(m.clock.Now()) {
		m.removeLocked(ticketID)
		m.expired++
		m.mu.Unlock()
		return nil, nil, ErrTicketExpired
	}
	ticket.ReuseCount++
	m.reused++
	snapshot := *ticket
	m.mu.Unlock()

	sessionKey, err := crypto.DecryptWithMaster(m.masterKey, snapshot.SealedKey)
	if err != nil {
		return nil, nil, err
	}
	return sessionKey, &snapshot, nil
}

// GetTicket returns the ticket if present and unexpired, without counting a
// reuse.
func (m *SessionTicketManager) GetTicket(ticketID string) (*SessionTicket, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ticket, ok := m.tickets[ticketID]
	if !ok || !ticket.valid(m.clock.Now()) {
		return nil, false
	}
	snapshot := *ticket
	return &snapshot, true
}

// RevokeTicket removes a ticket, reporting whether it was present.
func (m *SessionTicketManager) RevokeTicket(ticketID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tickets[ticketID]; !ok {
		return false
	}
	m.removeLocked(ticketID)
	m.revoked++
	return true
}

// UpdateLifetime changes one ticket's lifetime in place.
func (m *SessionTicketManager) UpdateLifetime(ticketID string, lifetime time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ticket, ok := m.tickets[ticketID]
	if !ok {
		return false
	}
	ticket.Lifetime = lifetime
	return true
}

// CleanupExpired sweeps expired tickets and returns how many were removed.
func (m *SessionTicketManager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for id, ticket := range m.tickets {
		if !ticket.valid(now) {
			m.removeLocked(id)
			m.expired++
			removed++
		}
	}
	return removed
}

// Stats returns the manager counters.
func (m *SessionTicketManager) Stats() TicketStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return TicketStats{
		TotalTickets: len(m.tickets),
		Created:      m.created,
		Reused:       m.reused,
		Expired:      m.expired,
		Revoked:      m.revoked,
	}
}

// Clear drops every ticket.
func (m *SessionTicketManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets = make(map[string]*SessionTicket)
	m.order = nil
}

func (m *SessionTicketManager) removeLocked(id string) {
	delete(m.tickets, id)
	for i, k := range m.order {
		if k == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}
