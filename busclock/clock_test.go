package busclock

import (
	"testing"
	"time"
)

func TestSimulatedAdvance(t *testing.T) {
	start := time.Unix(1000, 0)
	clk := NewSimulated(start)

	if got := clk.Unix(); got != 1000 {
		t.Fatalf("Unix() = %d, want 1000", got)
	}

	clk.Advance(30 * time.Second)
	if got := clk.Unix(); got != 1030 {
		t.Errorf("Unix() after advance = %d, want 1030", got)
	}

	// Negative advances must be ignored.
	clk.Advance(-time.Hour)
	if got := clk.Unix(); got != 1030 {
		t.Errorf("Unix() after negative advance = %d, want 1030", got)
	}
}

func TestSimulatedSetNeverGoesBackwards(t *testing.T) {
	clk := NewSimulated(time.Unix(500, 0))
	clk.Set(time.Unix(600, 0))
	if got := clk.Unix(); got != 600 {
		t.Fatalf("Unix() = %d, want 600", got)
	}
	clk.Set(time.Unix(100, 0))
	if got := clk.Unix(); got != 600 {
		t.Errorf("Unix() after backwards Set = %d, want 600", got)
	}
}

func TestWallClockMonotonicReading(t *testing.T) {
	clk := Wall()
	a := clk.Now()
	b := clk.Now()
	if b.Before(a) {
		t.Errorf("wall clock went backwards: %v then %v", a, b)
	}
}

func TestMustClockPanicsOnNil(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("MustClock(nil) did not panic")
		}
	}()
	MustClock(nil)
}
