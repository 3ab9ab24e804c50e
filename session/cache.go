// Package session manages resumable session state: the session cache keyed
// by peer and session id, the ticket manager for stateless resumption, and
// the manager tracking live established sessions.
package session

import (
	"fmt"
	"sync"
	"time"

	"securebus/busclock"
)

// Session cache defaults.
const (
	DefaultSessionTTL  = 3600 * time.Second
	DefaultMaxSessions = 1000
)

// CachedSession is one resumable session's stored state.
type CachedSession struct {
	SessionID    []byte
	MasterSecret []byte
	CipherSuite  uint16
	CreatedAt    time.Time
	TTL          time.Duration
	ResumeCount  uint32
}

// An entry is retrievable strictly before CreatedAt+TTL and gone at that
// instant.
func (s *CachedSession) valid(now time.Time) bool {
	return now.Sub(s.CreatedAt) < s.TTL
}

// CacheStats summarizes the cache population.
type CacheStats struct {
	TotalSessions    int
	ValidSessions    int
	TotalResumptions uint64
}

// SessionCache stores resumable sessions keyed by (hostname, session id).
// Capacity is bounded; inserting past it evicts the oldest entry. Expiry is
// lazy, enforced on access.
type SessionCache struct {
	ttl time.Duration
	max int

	mu      sync.Mutex
	entries map[string]*CachedSession
	order   []string
	clock   busclock.Clock
}

// NewSessionCache builds a cache with the default TTL and capacity.
func NewSessionCache(clock busclock.Clock) *SessionCache {
	return NewSessionCacheWithConfig(clock, DefaultSessionTTL, DefaultMaxSessions)
}

// NewSessionCacheWithConfig builds a cache with explicit TTL and capacity.
func NewSessionCacheWithConfig(clock busclock.Clock, ttl time.Duration, max int) *SessionCache {
	return &SessionCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]*CachedSession),
		clock:   busclock.MustClock(clock),
	}
}

func cacheKey(hostname string, sessionID []byte) string {
	return fmt.Sprintf("%s:%x", hostname, sessionID)
}

// CacheSession stores a session, evicting the oldest entry if the cache is
// full. Re-caching an existing key replaces the entry in place.
func (c *SessionCache) CacheSession(hostname string, sessionID, masterSecret []byte, cipherSuite uint16) {
	key := cacheKey(hostname, sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		if len(c.entries) >= c.max && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}

	c.entries[key] = &CachedSession{
		SessionID:    append([]byte(nil), sessionID...),
		MasterSecret: append([]byte(nil), masterSecret...),
		CipherSuite:  cipherSuite,
		CreatedAt:    c.clock.Now(),
		TTL:          c.ttl,
	}
}

// GetSession returns the session if present and unexpired, bumping its
// resume counter. Expired entries are removed on the spot.
func (c *SessionCache) GetSession(hostname string, sessionID []byte) (*CachedSession, bool) {
	key := cacheKey(hostname, sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !entry.valid(c.clock.Now()) {
		c.removeLocked(key)
		return nil, false
	}
	entry.ResumeCount++

	out := *entry
	out.SessionID = append([]byte(nil), entry.SessionID...)
	out.MasterSecret = append([]byte(nil), entry.MasterSecret...)
	return &out, true
}

// HasValidSession reports presence without touching the resume counter.
func (c *SessionCache) HasValidSession(hostname string, sessionID []byte) bool {
	key := cacheKey(hostname, sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	return ok && entry.valid(c.clock.Now())
}

// RemoveSession drops the entry, reporting whether it was present.
func (c *SessionCache) RemoveSession(hostname string, sessionID []byte) bool {
	key := cacheKey(hostname, sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	c.removeLocked(key)
	return true
}

// CleanupExpired sweeps all expired entries and returns how many were
// removed.
func (c *SessionCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for key, entry := range c.entries {
		if !entry.valid(now) {
			c.removeLocked(key)
			removed++
		}
	}
	return removed
}

// Stats returns the cache counters.
func (c *SessionCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	stats := CacheStats{TotalSessions: len(c.entries)}
	for _, entry := range c.entries {
		if entry.valid(now) {
			stats.ValidSessions++
			stats.TotalResumptions += uint64(entry.ResumeCount)
		}
	}
	return stats
}

// Clear drops every entry.
func (c *SessionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*CachedSession)
	c.order = nil
}

func (c *SessionCache) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
