package crowd_simulator

import (
	"testing"
	"time"
)

func TestSimulatedClockAdvancesAndWraps(t *testing.T) {
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	c := NewSimulatedClock(day, time.Hour, 8, 20)

	if got := c.Tick(); got.Hour() != 8 || got.Day() != 4 {
		t.Fatalf("first tick %v", got)
	}
	var last time.Time
	for i := 0; i < 12; i++ {
		last = c.Tick()
	}
	// 09:00 .. 20:00
	if last.Hour() != 20 || last.Day() != 4 {
		t.Fatalf("last tick of day %v", last)
	}
	next := c.Tick()
	if next.Hour() != 8 || next.Day() != 5 {
		t.Fatalf("expected wrap to next morning, got %v", next)
	}
	if !next.After(last) {
		t.Fatalf("clock went backwards")
	}
}

func TestSimulatedClockNowDoesNotAdvance(t *testing.T) {
	c := NewSimulatedClock(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), 0, 8, 20)
	a, b := c.Now(), c.Now()
	if !a.Equal(b) {
		t.Fatalf("Now advanced the clock")
	}
	c.Tick()
	if got := c.Now().Sub(a); got != 5*time.Minute {
		t.Fatalf("default step %v", got)
	}
}
