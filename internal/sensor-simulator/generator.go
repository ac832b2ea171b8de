package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	crowd_simulator "github.com/LeonardoBeccarini/crowdsense/internal/crowd-simulator"
	"github.com/LeonardoBeccarini/crowdsense/internal/model/entities"
	"github.com/LeonardoBeccarini/crowdsense/internal/model/messages"
)

const (
	// follow is how far the count moves toward the daily pattern per reading;
	// a counter reacts faster than the smoothed estimate.
	follow = 0.3
	// countNoise is the relative spread of a single reading.
	countNoise = 0.03
)

// CountGenerator produces the head count a door or Wi-Fi counter in one zone
// would report, following the zone's daily pattern.
type CountGenerator struct {
	mu      sync.Mutex
	zone    entities.Zone
	rnd     *rand.Rand
	count   float64
	damping float64 // <1 while a crowd is being dispersed
}

func NewCountGenerator(zone entities.Zone, seed int64) *CountGenerator {
	return &CountGenerator{
		zone:    zone,
		rnd:     rand.New(rand.NewSource(seed)),
		count:   zone.BaseDensity,
		damping: 1,
	}
}

// Next advances the count to at and returns it as an observation.
func (g *CountGenerator) Next(at time.Time) messages.Observation {
	g.mu.Lock()
	defer g.mu.Unlock()

	target := crowd_simulator.FormulaTarget(g.zone, at) * g.damping
	g.count += follow * (target - g.count)
	noisy := g.count * (1 + countNoise*(2*g.rnd.Float64()-1))
	noisy = math.Max(0, math.Min(noisy, g.zone.MaxDensity()))

	return messages.Observation{
		ZoneID:    g.zone.ID,
		Count:     math.Round(noisy),
		Timestamp: at,
	}
}

// SetDamping scales the pattern target; 1 restores normal behaviour.
func (g *CountGenerator) SetDamping(f float64) {
	if f <= 0 || f > 1 {
		f = 1
	}
	g.mu.Lock()
	g.damping = f
	g.mu.Unlock()
}

func (g *CountGenerator) Damping() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.damping
}
