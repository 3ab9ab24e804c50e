// Package busclock provides the time source used by every component of the
// secure bus. Components never read the wall clock directly: they are handed
// a Clock at construction, which is either the real monotonic wall clock or
// a simulated clock advanced explicitly by the embedding environment (and by
// tests). There is no zero/no-op fallback; constructors that need a clock
// reject a nil one.
package busclock

import (
	"sync/atomic"
	"time"
)

// Clock is the minimal time source the bus components depend on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Unix returns the current time as seconds since the Unix epoch.
	Unix() int64
}

// wallClock reads the system clock. time.Now carries a monotonic reading,
// so elapsed-time comparisons are safe across wall-clock adjustments.
type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
func (wallClock) Unix() int64    { return time.Now().Unix() }

// Wall returns the real monotonic wall clock.
func Wall() Clock { return wallClock{} }

// Simulated is a manually advanced clock for tests and for embedded
// environments that drive time from a hardware tick.
type Simulated struct {
	nanos atomic.Int64
}

// NewSimulated returns a simulated clock starting at the given instant.
func NewSimulated(start time.Time) *Simulated {
	s := &Simulated{}
	s.nanos.Store(start.UnixNano())
	return s
}

func (s *Simulated) Now() time.Time { return time.Unix(0, s.nanos.Load()) }
func (s *Simulated) Unix() int64    { return s.nanos.Load() / int64(time.Second) }

// Advance moves the simulated clock forward by d. Negative durations are
// ignored: bus time never goes backwards.
func (s *Simulated) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	s.nanos.Add(int64(d))
}

// Set jumps the simulated clock to the given instant if it is not earlier
// than the current one.
func (s *Simulated) Set(t time.Time) {
	for {
		cur := s.nanos.Load()
		next := t.UnixNano()
		if next < cur {
			return
		}
		if s.nanos.CompareAndSwap(cur, next) {
			return
		}
	}
}

// MustClock panics if c is nil. Component constructors call this instead of
// silently substituting a zero clock.
func MustClock(c Clock) Clock {
	if c == nil {
		panic("busclock: nil Clock passed to a bus component")
	}
	return c
}
