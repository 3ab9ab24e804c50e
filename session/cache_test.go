package session

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"securebus/busclock"
)

func newTestCache(t *testing.T, ttl time.Duration, max int) (*SessionCache, *busclock.Simulated) {
	t.Helper()
	clock := busclock.NewSimulated(time.Unix(1_700_000_000, 0))
	return NewSessionCacheWithConfig(clock, ttl, max), clock
}

func TestCacheAndGetSession(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 10)

	sid := []byte{0x01, 0x02, 0x03}
	secret := []byte("master-secret-material")
	c.CacheSession("peer.local", sid, secret, 0x1301)

	got, ok := c.GetSession("peer.local", sid)
	if !ok {
		t.Fatal("cached session not found")
	}
	if !bytes.Equal(got.MasterSecret, secret) {
		t.Error("master secret mismatch")
	}
	if got.CipherSuite != 0x1301 {
		t.Errorf("cipher suite = 0x%04x, want 0x1301", got.CipherSuite)
	}
	if got.ResumeCount != 1 {
		t.Errorf("resume count = %d, want 1", got.ResumeCount)
	}

	if _, ok := c.GetSession("other.local", sid); ok {
		t.Error("session found under the wrong hostname")
	}
}

func TestSessionTTLBoundary(t *testing.T) {
	c, clock := newTestCache(t, time.Hour, 10)
	sid := []byte{0xaa}
	c.CacheSession("peer", sid, []byte("secret"), 1)

	clock.Advance(time.Hour - time.Second)
	if !c.HasValidSession("peer", sid) {
		t.Error("session invalid strictly before created+ttl")
	}

	clock.Advance(time.Second)
	if c.HasValidSession("peer", sid) {
		t.Error("session still valid at created+ttl")
	}
	if _, ok := c.GetSession("peer", sid); ok {
		t.Error("expired session returned")
	}
	// The expired entry was removed by the failed lookup.
	if stats := c.Stats(); stats.TotalSessions != 0 {
		t.Errorf("expired entry still held: %+v", stats)
	}
}

func TestSessionCapacityEviction(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 3)

	for i := 0; i < 4; i++ {
		c.CacheSession("peer", []byte(fmt.Sprintf("sid-%d", i)), []byte("s"), 1)
	}

	if c.HasValidSession("peer", []byte("sid-0")) {
		t.Error("oldest session survived eviction")
	}
	for i := 1; i < 4; i++ {
		if !c.HasValidSession("peer", []byte(fmt.Sprintf("sid-%d", i))) {
			t.Errorf("session sid-%d evicted unexpectedly", i)
		}
	}
}

func TestRemoveAndCleanup(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	c.CacheSession("peer", []byte("a"), []byte("s"), 1)
	c.CacheSession("peer", []byte("b"), []byte("s"), 1)

	if !c.RemoveSession("peer", []byte("a")) {
		t.Error("RemoveSession returned false for a present session")
	}
	if c.RemoveSession("peer", []byte("a")) {
		t.Error("RemoveSession returned true for an absent session")
	}

	clock.Advance(2 * time.Minute)
	if removed := c.CleanupExpired(); removed != 1 {
		t.Errorf("CleanupExpired removed %d, want 1", removed)
	}

	c.CacheSession("peer", []byte("c"), []byte("s"), 1)
	c.Clear()
	if stats := c.Stats(); stats.TotalSessions != 0 {
		t.Errorf("Clear left %d sessions", stats.TotalSessions)
	}
}

func TestCacheStatsCountResumptions(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 10)
	sid := []byte("sid")
	c.CacheSession("peer", sid, []byte("s"), 1)

	for i := 0; i < 3; i++ {
		if _, ok := c.GetSession("peer", sid); !ok {
			t.Fatal("session vanished")
		}
	}

	stats := c.Stats()
	if stats.ValidSessions != 1 || stats.TotalResumptions != 3 {
		t.Errorf("stats = %+v, want 1 valid, 3 resumptions", stats)
	}
}
