// Package scheduler runs the per-tick crowd pipeline: estimate each zone's
// density, score it, decide on alerts and publish one snapshot set.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	crowd_simulator "github.com/LeonardoBeccarini/crowdsense/internal/crowd-simulator"
	"github.com/LeonardoBeccarini/crowdsense/internal/model/entities"
	"github.com/LeonardoBeccarini/crowdsense/internal/model/messages"
	alert_engine "github.com/LeonardoBeccarini/crowdsense/internal/services/alert-engine"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/notifier"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/persistence"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/predictor"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/risk"
	"github.com/LeonardoBeccarini/crowdsense/pkg/logger"
	"github.com/LeonardoBeccarini/crowdsense/pkg/rabbitmq"
)

// ReasonNoEvent marks zones without a running event; nobody to alert.
const ReasonNoEvent = "no active event"

// Recorder receives pipeline metrics.
type Recorder interface {
	TickDone(d time.Duration)
	ZoneFailed(zone string)
	ZoneScored(zone string, density float64, cri int, source string)
	AlertTriggered(zone, typ string)
	AlertSuppressed(reason string)
	SideEffectDropped(kind string)
	SideEffectFailed(kind string)
}

type nopRecorder struct{}

func (nopRecorder) TickDone(time.Duration)                 {}
func (nopRecorder) ZoneFailed(string)                      {}
func (nopRecorder) ZoneScored(string, float64, int, string) {}
func (nopRecorder) AlertTriggered(string, string)          {}
func (nopRecorder) AlertSuppressed(string)                 {}
func (nopRecorder) SideEffectDropped(string)               {}
func (nopRecorder) SideEffectFailed(string)                {}

type Estimator interface {
	Step(ctx context.Context, in crowd_simulator.StepInput) (int, messages.Provenance)
	Forecast(ctx context.Context, zone entities.Zone, current float64, history []float64, at time.Time) (float64, messages.Provenance)
	Estimate(ctx context.Context, zone entities.Zone, f predictor.Features, at time.Time) (float64, messages.Provenance)
}

type EventSource interface {
	ActiveFor(zoneID string, now time.Time) (entities.Event, bool)
}

type ObservationSource interface {
	Drain(now time.Time) map[string]float64
}

type AlertSender interface {
	SendAlert(ctx context.Context, to string, n notifier.AlertNotice) error
}

type Config struct {
	TickInterval time.Duration
	HistorySize  int
}

// Deps are the collaborators of a Scheduler. Zones, Estimator, Scorer and
// Decider are required; the rest may be nil.
type Deps struct {
	Zones     []entities.Zone
	Estimator Estimator
	Scorer    *risk.Scorer
	Surge     risk.SurgeDetector
	Decider   *alert_engine.Decider

	Store        persistence.Store
	Events       EventSource
	Observations ObservationSource
	Alerts       AlertSender

	SnapshotPublisher rabbitmq.IPublisher
	AlertPublisher    rabbitmq.IPublisher

	Pool     *Pool
	Clock    crowd_simulator.Clock
	Recorder Recorder
}

type Scheduler struct {
	cfg  Config
	deps Deps

	zones     []*zoneState
	byID      map[string]*zoneState
	snapshots SnapshotStore
	tick      uint64

	wallNow func() time.Time
	log     zerolog.Logger
}

func New(cfg Config, deps Deps) (*Scheduler, error) {
	switch {
	case len(deps.Zones) == 0:
		return nil, errors.New("scheduler: no zones")
	case deps.Estimator == nil:
		return nil, errors.New("scheduler: estimator required")
	case deps.Scorer == nil:
		return nil, errors.New("scheduler: scorer required")
	case deps.Decider == nil:
		return nil, errors.New("scheduler: decider required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 2 * time.Second
	}
	if cfg.HistorySize < 5 {
		cfg.HistorySize = 20
	}
	if deps.Surge.Threshold <= 0 {
		deps.Surge = risk.NewSurgeDetector(0)
	}
	if deps.Clock == nil {
		deps.Clock = crowd_simulator.WallClock{}
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}

	s := &Scheduler{
		cfg:     cfg,
		deps:    deps,
		byID:    make(map[string]*zoneState, len(deps.Zones)),
		wallNow: time.Now,
		log:     logger.For("scheduler"),
	}
	for _, z := range deps.Zones {
		if _, dup := s.byID[z.ID]; dup {
			return nil, fmt.Errorf("scheduler: duplicate zone %q", z.ID)
		}
		zs := newZoneState(z, cfg.HistorySize)
		s.zones = append(s.zones, zs)
		s.byID[z.ID] = zs
	}
	return s, nil
}

// Run ticks once immediately, then every TickInterval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.cfg.TickInterval).Int("zones", len(s.zones)).Msg("scheduler started")
	s.Tick(ctx)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates every zone and publishes the resulting set.
func (s *Scheduler) Tick(ctx context.Context) *messages.SnapshotSet {
	started := time.Now()
	now := s.deps.Clock.Tick()

	var observed map[string]float64
	if s.deps.Observations != nil {
		// observations carry wall-clock timestamps
		observed = s.deps.Observations.Drain(s.wallNow())
	}

	prev := s.snapshots.Latest()
	next := make(map[string]messages.Snapshot, len(s.zones))
	for _, zs := range s.zones {
		snap, err := s.evaluate(ctx, zs, now, observed)
		if err != nil {
			s.deps.Recorder.ZoneFailed(zs.zone.ID)
			zl := logger.WithZone(s.log, zs.zone.ID)
			zl.Error().Err(err).Msg("zone evaluation failed, keeping previous snapshot")
			if old, ok := prev.Zones[zs.zone.ID]; ok {
				next[zs.zone.ID] = old
			}
			continue
		}
		next[zs.zone.ID] = snap
	}

	s.tick++
	set := &messages.SnapshotSet{Tick: s.tick, GeneratedAt: now, Zones: next}
	s.snapshots.Publish(set)

	if s.deps.SnapshotPublisher != nil {
		pub := s.deps.SnapshotPublisher
		s.submit(ctx, "snapshot-publish", func(context.Context) error {
			return pub.PublishMessage(set)
		})
	}
	s.deps.Recorder.TickDone(time.Since(started))
	return set
}

func (s *Scheduler) evaluate(ctx context.Context, zs *zoneState, now time.Time, observed map[string]float64) (snap messages.Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	z := zs.zone
	in := crowd_simulator.StepInput{Zone: z, Previous: zs.density, History: zs.history, At: now}
	if v, ok := observed[z.ID]; ok {
		in.Observation, in.HasObservation = v, true
	}
	d, prov := s.deps.Estimator.Step(ctx, in)
	density := float64(d)
	history := zs.withSample(density)

	surge, growth := s.deps.Surge.Detect(history)
	predicted, _ := s.deps.Estimator.Forecast(ctx, z, density, history, now)
	cri, level := s.deps.Scorer.Assess(risk.Input{
		Current:   density,
		Capacity:  z.Capacity,
		Predicted: predicted,
		Growth:    growth,
		Hour:      now.Hour(),
	})

	snap = messages.Snapshot{
		ZoneID:     z.ID,
		Name:       z.Name,
		Current:    d,
		Capacity:   z.Capacity,
		Predicted:  predicted,
		CRI:        cri,
		RiskLevel:  level,
		Surge:      surge,
		Growth:     growth,
		Status:     risk.StatusLabel(density, z.Capacity),
		Provenance: prov,
		Timestamp:  now,
	}
	s.deps.Recorder.ZoneScored(z.ID, density, cri, string(prov))

	s.persistPrediction(ctx, messages.PredictionRecord{
		ID:         uuid.NewString(),
		ZoneID:     z.ID,
		ZoneName:   z.Name,
		Density:    density,
		Capacity:   z.Capacity,
		Predicted:  predicted,
		CRI:        cri,
		RiskLevel:  level,
		Growth:     growth,
		Surge:      surge,
		Provenance: prov,
		Source:     "scheduler",
		Timestamp:  now,
	})

	s.decide(ctx, zs, snap, now)
	zs.commit(density, history)

	if last, ok := zs.throttle.Last(); ok {
		snap.LastAlert = &last
	}
	return snap, nil
}

// decide matches events against the simulated now but throttles on wall
// time, so a fast simulated clock cannot shorten the cooldown.
func (s *Scheduler) decide(ctx context.Context, zs *zoneState, snap messages.Snapshot, now time.Time) {
	if s.deps.Events == nil {
		s.deps.Recorder.AlertSuppressed(ReasonNoEvent)
		return
	}
	ev, ok := s.deps.Events.ActiveFor(zs.zone.ID, now)
	if !ok {
		s.deps.Recorder.AlertSuppressed(ReasonNoEvent)
		return
	}

	decision := s.deps.Decider.Evaluate(alert_engine.Input{
		CRI:      snap.CRI,
		Density:  float64(snap.Current),
		Capacity: snap.Capacity,
		Growth:   snap.Growth,
	}, alert_engine.Eligibility{
		Role:        ev.OrganizerRole,
		EventStatus: ev.Status,
	}, &zs.throttle, s.wallNow())

	if !decision.Trigger {
		s.deps.Recorder.AlertSuppressed(decision.Reason)
		return
	}
	s.deps.Recorder.AlertTriggered(zs.zone.ID, string(decision.Type))
	zl := logger.WithZone(s.log, zs.zone.ID)
	zl.Info().
		Str("type", string(decision.Type)).Int("cri", snap.CRI).Int("density", snap.Current).
		Str("event", ev.ID).Msg("alert triggered")

	s.dispatch(ctx, ev, snap, decision, now)
}

// dispatch hands the alert's side effects to the pool; the throttle is
// already marked.
func (s *Scheduler) dispatch(ctx context.Context, ev entities.Event, snap messages.Snapshot, d alert_engine.Decision, now time.Time) {
	rec := messages.AlertRecord{
		ID:        uuid.NewString(),
		ZoneID:    snap.ZoneID,
		ZoneName:  snap.Name,
		EventID:   ev.ID,
		EventName: ev.Name,
		Type:      d.Type,
		CRI:       snap.CRI,
		Density:   float64(snap.Current),
		Capacity:  snap.Capacity,
		Growth:    snap.Growth,
		Forecast:  risk.Trend(float64(snap.Current), snap.Predicted),
		Action:    d.Action,
		Recipient: ev.OrganizerEmail,
		Timestamp: now,
	}

	if store := s.deps.Store; store != nil {
		s.submit(ctx, "alert-store", func(ctx context.Context) error {
			return store.Insert(ctx, persistence.Alerts, rec)
		})
	}
	if sender := s.deps.Alerts; sender != nil && ev.OrganizerEmail != "" {
		notice := notifier.AlertNotice{
			EventName: ev.Name,
			ZoneName:  snap.Name,
			Type:      d.Type,
			Count:     snap.Current,
			Capacity:  snap.Capacity,
			CRI:       snap.CRI,
			Forecast:  rec.Forecast,
			Surge:     d.Type == messages.AlertSurge,
			Action:    d.Action,
			At:        now,
		}
		s.submit(ctx, "alert-email", func(ctx context.Context) error {
			return sender.SendAlert(ctx, ev.OrganizerEmail, notice)
		})
	}
	if pub := s.deps.AlertPublisher; pub != nil {
		s.submit(ctx, "alert-publish", func(context.Context) error {
			return pub.PublishMessage(rec)
		})
	}
}

func (s *Scheduler) persistPrediction(ctx context.Context, rec messages.PredictionRecord) {
	store := s.deps.Store
	if store == nil {
		return
	}
	s.submit(ctx, "prediction-store", func(ctx context.Context) error {
		return store.Insert(ctx, persistence.Predictions, rec)
	})
}

// submit uses the pool when there is one and runs fn inline otherwise.
func (s *Scheduler) submit(ctx context.Context, kind string, fn func(context.Context) error) {
	if s.deps.Pool != nil {
		s.deps.Pool.Submit(kind, fn)
		return
	}
	if err := fn(ctx); err != nil {
		s.deps.Recorder.SideEffectFailed(kind)
		s.log.Warn().Err(err).Str("kind", kind).Msg("side effect failed")
	}
}

// Snapshots is the store HTTP readers load from.
func (s *Scheduler) Snapshots() *SnapshotStore { return &s.snapshots }

// Zones returns the monitored zones in configuration order.
func (s *Scheduler) Zones() []entities.Zone {
	out := make([]entities.Zone, len(s.zones))
	for i, zs := range s.zones {
		out[i] = zs.zone
	}
	return out
}

func (s *Scheduler) Zone(id string) (entities.Zone, bool) {
	zs, ok := s.byID[id]
	if !ok {
		return entities.Zone{}, false
	}
	return zs.zone, true
}
