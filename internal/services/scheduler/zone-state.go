package scheduler

import (
	alert_engine "github.com/LeonardoBeccarini/crowdsense/internal/services/alert-engine"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/entities"
)

// zoneState is owned by the scheduler goroutine, except the throttle which
// readers may query.
type zoneState struct {
	zone     entities.Zone
	density  float64
	history  []float64 // oldest first, at most max
	max      int
	throttle alert_engine.Throttle
}

func newZoneState(z entities.Zone, historySize int) *zoneState {
	return &zoneState{
		zone:    z,
		density: z.BaseDensity,
		history: make([]float64, 0, historySize),
		max:     historySize,
	}
}

// withSample returns the history as it would be after appending v, without
// touching the state.
func (zs *zoneState) withSample(v float64) []float64 {
	h := make([]float64, 0, zs.max)
	start := 0
	if len(zs.history) >= zs.max {
		start = len(zs.history) - zs.max + 1
	}
	h = append(h, zs.history[start:]...)
	return append(h, v)
}

func (zs *zoneState) commit(density float64, history []float64) {
	zs.density = density
	zs.history = history
}
