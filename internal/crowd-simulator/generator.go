package crowd_simulator

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/entities"
	"github.com/LeonardoBeccarini/crowdsense/internal/model/messages"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/predictor"
	"github.com/LeonardoBeccarini/crowdsense/pkg/logger"
)

// ====== Tunables ======
const (
	// smoothing is the EMA factor pulling the density toward its target each tick.
	smoothing = 0.1

	// noiseSpan is the ± fraction of multiplicative noise on the target.
	noiseSpan = 0.05

	// driftSpan is the ± head count of additive noise per tick.
	driftSpan = 2.0

	defaultHorizon      = 30 * time.Minute
	defaultModelTimeout = 500 * time.Millisecond
)

// Jitter is the randomness source; values must be uniform in [0,1).
type Jitter interface {
	Float64() float64
}

type Options struct {
	Model        predictor.Model // nil: formula only
	ModelWeight  float64         // share of the model output in the target, (0,1]
	ModelTimeout time.Duration
	Horizon      time.Duration // forecast horizon
	Jitter       Jitter
}

// DensityEstimator advances one zone's smoothed density per tick and
// forecasts it one horizon ahead.
type DensityEstimator struct {
	mu           sync.Mutex // guards jitter
	jitter       Jitter
	model        predictor.Model
	modelWeight  float64
	modelTimeout time.Duration
	horizon      time.Duration
	log          zerolog.Logger
}

func NewDensityEstimator(opts Options) *DensityEstimator {
	e := &DensityEstimator{
		jitter:       opts.Jitter,
		model:        opts.Model,
		modelWeight:  opts.ModelWeight,
		modelTimeout: opts.ModelTimeout,
		horizon:      opts.Horizon,
		log:          logger.For("estimator"),
	}
	if e.jitter == nil {
		e.jitter = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if e.modelWeight <= 0 || e.modelWeight > 1 {
		e.modelWeight = 1
	}
	if e.modelTimeout <= 0 {
		e.modelTimeout = defaultModelTimeout
	}
	if e.horizon <= 0 {
		e.horizon = defaultHorizon
	}
	return e
}

// StepInput is one zone's state going into a tick.
type StepInput struct {
	Zone     entities.Zone
	Previous float64   // current smoothed density
	History  []float64 // past samples, oldest first
	At       time.Time

	// Observation, when present, replaces the simulated target.
	Observation    float64
	HasObservation bool
}

// Step returns the next smoothed density, always in [0, 1.5×capacity].
func (e *DensityEstimator) Step(ctx context.Context, in StepInput) (int, messages.Provenance) {
	target := FormulaTarget(in.Zone, in.At) * (1 + noiseSpan*e.symmetric())
	prov := messages.ProvenanceFormula

	switch {
	case in.HasObservation:
		target = math.Max(0, in.Observation)
		prov = messages.ProvenanceObserved
	default:
		if v, ok := e.modelTarget(ctx, in.Zone.ID, e.Features(in.Zone, in.Previous, in.History, in.At)); ok {
			target = e.modelWeight*v + (1-e.modelWeight)*target
			prov = messages.ProvenanceModel
		}
	}

	next := in.Previous + smoothing*(target-in.Previous) + driftSpan*e.symmetric()
	next = clamp(next, 0, in.Zone.MaxDensity())
	return int(next), prov
}

// Forecast estimates the density one horizon after at, without noise.
func (e *DensityEstimator) Forecast(ctx context.Context, zone entities.Zone, current float64, history []float64, at time.Time) (float64, messages.Provenance) {
	future := at.Add(e.horizon)
	return e.Estimate(ctx, zone, e.Features(zone, current, history, future), future)
}

// Estimate asks the model for f, falling back to the noise-free formula at
// at. The result is clamped like a step.
func (e *DensityEstimator) Estimate(ctx context.Context, zone entities.Zone, f predictor.Features, at time.Time) (float64, messages.Provenance) {
	target := FormulaTarget(zone, at)
	prov := messages.ProvenanceFormula
	if v, ok := e.modelTarget(ctx, zone.ID, f); ok {
		target = e.modelWeight*v + (1-e.modelWeight)*target
		prov = messages.ProvenanceModel
	}
	return clamp(target, 0, zone.MaxDensity()), prov
}

// Horizon is the forecast distance.
func (e *DensityEstimator) Horizon() time.Duration { return e.horizon }

func (e *DensityEstimator) modelTarget(ctx context.Context, zoneID string, f predictor.Features) (float64, bool) {
	if e.model == nil || !e.model.Applies(zoneID) {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(ctx, e.modelTimeout)
	defer cancel()

	v, err := e.model.Predict(ctx, f)
	if err != nil {
		e.log.Debug().Err(err).Str("zone", zoneID).Msg("model fallback to formula")
		return 0, false
	}
	if v <= 0 {
		return 0, false
	}
	return v, true
}

// Features builds the model input for a zone at a given time.
func (e *DensityEstimator) Features(zone entities.Zone, current float64, history []float64, at time.Time) predictor.Features {
	prev, prev2 := current, current
	if n := len(history); n >= 1 {
		prev = history[n-1]
		prev2 = prev
		if n >= 2 {
			prev2 = history[n-2]
		}
	}
	weekday := ModelWeekday(at)
	return predictor.Features{
		Location:     zone.ID,
		Hour:         at.Hour(),
		Weekday:      weekday,
		RSSI:         e.rssi(),
		Value:        float64(zone.Capacity),
		PrevDensity:  prev,
		Prev2Density: prev2,
		RollingMean3: rollingMean(history, 3, current),
		Weekend:      weekday >= 5,
	}
}

// rssi simulates a Wi-Fi probe signal strength in [-85, -45] dBm.
func (e *DensityEstimator) rssi() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return math.Round(-85 + 40*e.jitter.Float64())
}

// symmetric returns a jitter sample mapped to [-1, 1).
func (e *DensityEstimator) symmetric() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return 2*e.jitter.Float64() - 1
}

// ===== Helpers =====

// ModelWeekday maps Go's Sunday-first weekday to Monday=0 .. Sunday=6.
func ModelWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func rollingMean(history []float64, n int, fallback float64) float64 {
	if len(history) == 0 {
		return fallback
	}
	if len(history) < n {
		n = len(history)
	}
	sum := 0.0
	for _, v := range history[len(history)-n:] {
		sum += v
	}
	return sum / float64(n)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
