package crowd_simulator

import (
	"sync"
	"time"
)

// Clock supplies the time each tick is evaluated at.
type Clock interface {
	Now() time.Time
	// Tick returns the time for the next tick and advances simulated clocks.
	Tick() time.Time
}

type WallClock struct{}

func (WallClock) Now() time.Time  { return time.Now() }
func (WallClock) Tick() time.Time { return time.Now() }

// SimulatedClock replays campus days: it starts at startHour, moves step per
// tick and jumps to startHour of the next day once past endHour.
type SimulatedClock struct {
	mu        sync.Mutex
	current   time.Time
	step      time.Duration
	startHour int
	endHour   int
}

func NewSimulatedClock(day time.Time, step time.Duration, startHour, endHour int) *SimulatedClock {
	if step <= 0 {
		step = 5 * time.Minute
	}
	return &SimulatedClock{
		current:   atHour(day, startHour),
		step:      step,
		startHour: startHour,
		endHour:   endHour,
	}
}

func (c *SimulatedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *SimulatedClock) Tick() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current.Hour() > c.endHour {
		c.current = atHour(c.current.AddDate(0, 0, 1), c.startHour)
	}
	now := c.current
	c.current = c.current.Add(c.step)
	return now
}

func atHour(day time.Time, hour int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, day.Location())
}
