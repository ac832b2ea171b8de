package alert_engine

import (
	"sync"
	"time"
)

// Throttle remembers one zone's last dispatch. The zero value has never fired.
type Throttle struct {
	mu   sync.Mutex
	last time.Time
}

// Allow reports whether a dispatch at now respects the interval.
func (t *Throttle) Allow(now time.Time, interval time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last.IsZero() || now.Sub(t.last) >= interval
}

func (t *Throttle) Mark(now time.Time) {
	t.mu.Lock()
	t.last = now
	t.mu.Unlock()
}

// Last returns the time of the last dispatch, false if there was none.
func (t *Throttle) Last() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, !t.last.IsZero()
}
