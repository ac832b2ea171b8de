package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/entities"
	"github.com/LeonardoBeccarini/crowdsense/internal/model/messages"
	alert_engine "github.com/LeonardoBeccarini/crowdsense/internal/services/alert-engine"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/predictor"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/risk"
)

var (
	ErrUnknownZone  = errors.New("unknown zone")
	ErrInvalidInput = errors.New("invalid input")
)

// PredictRequest is one feature record as the model was trained on, plus an
// optional caller role for the alert preview.
type PredictRequest struct {
	Location     string  `json:"location"`
	Hour         int     `json:"hour"`
	Weekday      int     `json:"weekday"` // Monday=0
	RSSI         float64 `json:"rssi"`
	Value        float64 `json:"value"`
	PrevDensity  float64 `json:"prev_density"`
	Prev2Density float64 `json:"prev2_density"`
	RollingMean3 float64 `json:"rolling_mean_3"`
	Role         string  `json:"role,omitempty"`
}

type PredictResponse struct {
	Location         string                `json:"location"`
	ZoneName         string                `json:"zone_name"`
	PredictedDensity float64               `json:"predicted_density"`
	Provenance       messages.Provenance   `json:"provenance"`
	Current          float64               `json:"current"`
	Capacity         int                   `json:"capacity"`
	CRI              int                   `json:"cri"`
	RiskLevel        messages.RiskLevel    `json:"risk_level"`
	Growth           float64               `json:"growth"`
	Surge            bool                  `json:"surge"`
	Forecast         string                `json:"forecast"`
	Alert            alert_engine.Decision `json:"alert"`
}

// referenceMonday anchors hour/weekday requests to a concrete date.
var referenceMonday = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Predict scores a single feature record. The alert decision is a preview:
// it never marks a throttle or dispatches anything.
func (s *Scheduler) Predict(ctx context.Context, req PredictRequest) (PredictResponse, error) {
	zone, ok := s.lookup(req.Location)
	if !ok {
		return PredictResponse{}, fmt.Errorf("%w %q", ErrUnknownZone, req.Location)
	}
	if err := req.validate(); err != nil {
		return PredictResponse{}, err
	}

	at := referenceMonday.AddDate(0, 0, req.Weekday).Add(time.Duration(req.Hour) * time.Hour)
	f := predictor.Features{
		Location:     zone.ID,
		Hour:         req.Hour,
		Weekday:      req.Weekday,
		RSSI:         req.RSSI,
		Value:        req.Value,
		PrevDensity:  req.PrevDensity,
		Prev2Density: req.Prev2Density,
		RollingMean3: req.RollingMean3,
		Weekend:      req.Weekday >= 5,
	}
	if f.Value == 0 {
		f.Value = float64(zone.Capacity)
	}
	predicted, prov := s.deps.Estimator.Estimate(ctx, zone, f, at)

	var growth float64
	var surge bool
	if snap, ok := s.snapshots.Zone(zone.ID); ok {
		growth, surge = snap.Growth, snap.Surge
	}

	current := req.PrevDensity
	cri, level := s.deps.Scorer.Assess(risk.Input{
		Current:   current,
		Capacity:  zone.Capacity,
		Predicted: predicted,
		Growth:    growth,
		Hour:      req.Hour,
	})

	el := alert_engine.Eligibility{Role: req.Role}
	if s.deps.Events != nil {
		if ev, ok := s.deps.Events.ActiveFor(zone.ID, s.deps.Clock.Now()); ok {
			el.EventStatus = ev.Status
			if el.Role == "" {
				el.Role = ev.OrganizerRole
			}
		}
	}
	decision := s.deps.Decider.Evaluate(alert_engine.Input{
		CRI:      cri,
		Density:  current,
		Capacity: zone.Capacity,
		Growth:   growth,
	}, el, nil, s.deps.Clock.Now())

	resp := PredictResponse{
		Location:         zone.ID,
		ZoneName:         zone.Name,
		PredictedDensity: math.Round(predicted*100) / 100,
		Provenance:       prov,
		Current:          current,
		Capacity:         zone.Capacity,
		CRI:              cri,
		RiskLevel:        level,
		Growth:           growth,
		Surge:            surge,
		Forecast:         risk.Trend(current, predicted),
		Alert:            decision,
	}

	s.persistPrediction(ctx, messages.PredictionRecord{
		ID:         uuid.NewString(),
		ZoneID:     zone.ID,
		ZoneName:   zone.Name,
		Density:    current,
		Capacity:   zone.Capacity,
		Predicted:  predicted,
		CRI:        cri,
		RiskLevel:  level,
		Growth:     growth,
		Surge:      surge,
		Provenance: prov,
		Source:     "api",
		Timestamp:  s.wallNow(),
	})
	return resp, nil
}

// lookup accepts a zone id or display name, case-insensitively.
func (s *Scheduler) lookup(location string) (entities.Zone, bool) {
	location = strings.TrimSpace(location)
	if zs, ok := s.byID[location]; ok {
		return zs.zone, true
	}
	for _, zs := range s.zones {
		if strings.EqualFold(zs.zone.ID, location) || strings.EqualFold(zs.zone.Name, location) {
			return zs.zone, true
		}
	}
	return entities.Zone{}, false
}

func (r PredictRequest) validate() error {
	switch {
	case r.Hour < 0 || r.Hour > 23:
		return fmt.Errorf("%w: hour %d out of range", ErrInvalidInput, r.Hour)
	case r.Weekday < 0 || r.Weekday > 6:
		return fmt.Errorf("%w: weekday %d out of range", ErrInvalidInput, r.Weekday)
	case r.PrevDensity < 0 || r.Prev2Density < 0 || r.RollingMean3 < 0:
		return fmt.Errorf("%w: densities must not be negative", ErrInvalidInput)
	case r.Value < 0:
		return fmt.Errorf("%w: value must not be negative", ErrInvalidInput)
	}
	for _, v := range []float64{r.RSSI, r.Value, r.PrevDensity, r.Prev2Density, r.RollingMean3} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite feature", ErrInvalidInput)
		}
	}
	return nil
}
