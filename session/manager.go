package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"securebus/busclock"
)

var (
	ErrTicketNotFound  = errors.New("session: ticket not found")
	ErrTicketExpired   = errors.New("session: ticket expired")
	ErrSessionNotFound = errors.New("session: session not found")
	ErrSessionExpired  = errors.New("session: session expired")
)

// DefaultIdleTimeout is how long an established session may sit without
// activity before the manager treats it as dead.
const DefaultIdleTimeout = 30 * time.Minute

// ActiveSession tracks one live established channel between two peers.
type ActiveSession struct {
	ID           string
	PeerIdentity string
	CreatedAt    time.Time
	LastActivity time.Time
}

// Manager tracks the sessions currently established on the bus. Unlike the
// cache, entries here are live channel state, not resumption material.
type Manager struct {
	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*ActiveSession
	clock    busclock.Clock
}

// NewManager builds a manager with the default idle timeout.
func NewManager(clock busclock.Clock) *Manager {
	return NewManagerWithTimeout(clock, DefaultIdleTimeout)
}

// NewManagerWithTimeout builds a manager with an explicit idle timeout.
func NewManagerWithTimeout(clock busclock.Clock, idleTimeout time.Duration) *Manager {
	return &Manager{
		idleTimeout: idleTimeout,
		sessions:    make(map[string]*ActiveSession),
		clock:       busclock.MustClock(clock),
	}
}

// Open registers a new established session with the peer and returns its id.
func (m *Manager) Open(peerIdentity string) string {
	now := m.clock.Now()
	s := &ActiveSession{
		ID:           uuid.NewString(),
		PeerIdentity: peerIdentity,
		CreatedAt:    now,
		LastActivity: now,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s.ID
}

// Touch records activity on a session, failing if it is gone or idle past
// the timeout.
func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	now := m.clock.Now()
	if now.Sub(s.LastActivity) >= m.idleTimeout {
		delete(m.sessions, sessionID)
		return ErrSessionExpired
	}
	s.LastActivity = now
	return nil
}

// Get returns a snapshot of the session if it is still live.
func (m *Manager) Get(sessionID string) (*ActiveSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || m.clock.Now().Sub(s.LastActivity) >= m.idleTimeout {
		return nil, false
	}
	snapshot := *s
	return &snapshot, true
}

// Terminate removes a session, reporting whether it was present.
func (m *Manager) Terminate(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return false
	}
	delete(m.sessions, sessionID)
	return true
}

// SweepIdle removes sessions idle past the timeout and returns how many
// were dropped.
func (m *Manager) SweepIdle() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for id, s := range m.sessions {
		if now.Sub(s.LastActivity) >= m.idleTimeout {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// ActiveCount returns how many sessions are tracked, idle or not.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
