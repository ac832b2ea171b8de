// Package risk turns a zone's density, forecast and growth into the Crowd
// Risk Index (CRI) and detects occupancy surges.
package risk

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/messages"
)

var ErrInvalidBand = errors.New("invalid peak band")

// Band is an inclusive range of hours, e.g. 12-14.
type Band struct {
	From, To int
}

func (b Band) Contains(hour int) bool { return hour >= b.From && hour <= b.To }

// ParseBands reads a comma separated list like "9-10,12-14". A single hour
// ("17") is a one-hour band.
func ParseBands(s string) ([]Band, error) {
	var out []Band
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		from, to, found := strings.Cut(part, "-")
		a, err := strconv.Atoi(strings.TrimSpace(from))
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidBand, part, err)
		}
		b := a
		if found {
			if b, err = strconv.Atoi(strings.TrimSpace(to)); err != nil {
				return nil, fmt.Errorf("%w %q: %v", ErrInvalidBand, part, err)
			}
		}
		if a < 0 || b > 23 || a > b {
			return nil, fmt.Errorf("%w %q", ErrInvalidBand, part)
		}
		out = append(out, Band{From: a, To: b})
	}
	return out, nil
}

type Weights struct {
	Current   float64
	Predicted float64
	Growth    float64
	Peak      float64
}

type Config struct {
	Weights       Weights
	PeakBands     []Band
	CapacityFloor int // minimum CRI once a zone is at or over capacity
	CriticalAt    int
	HighAt        int
	ModerateAt    int
}

func DefaultConfig() Config {
	return Config{
		Weights:       Weights{Current: 60, Predicted: 20, Growth: 10, Peak: 10},
		PeakBands:     []Band{{From: 9, To: 10}, {From: 12, To: 14}},
		CapacityFloor: 85,
		CriticalAt:    85,
		HighAt:        70,
		ModerateAt:    50,
	}
}

// Input is what the scorer needs for one zone at one instant.
type Input struct {
	Current   float64
	Capacity  int
	Predicted float64
	Growth    float64
	Hour      int
}

type Scorer struct {
	cfg Config
}

func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

func (s *Scorer) Config() Config { return s.cfg }

// Score returns the CRI in [0,100].
func (s *Scorer) Score(in Input) int {
	capacity := math.Max(1, float64(in.Capacity))
	w := s.cfg.Weights

	raw := w.Current*in.Current/capacity +
		w.Predicted*in.Predicted/capacity +
		w.Growth*math.Max(in.Growth, 0)
	if s.peak(in.Hour) {
		raw += w.Peak
	}

	cri := int(math.Round(raw))
	if cri < 0 {
		cri = 0
	}
	if cri > 100 {
		cri = 100
	}
	if in.Current >= capacity && cri < s.cfg.CapacityFloor {
		cri = s.cfg.CapacityFloor
	}
	return cri
}

func (s *Scorer) Level(cri int) messages.RiskLevel {
	switch {
	case cri >= s.cfg.CriticalAt:
		return messages.RiskCritical
	case cri >= s.cfg.HighAt:
		return messages.RiskHigh
	case cri >= s.cfg.ModerateAt:
		return messages.RiskModerate
	default:
		return messages.RiskLow
	}
}

// Assess is Score followed by Level.
func (s *Scorer) Assess(in Input) (int, messages.RiskLevel) {
	cri := s.Score(in)
	return cri, s.Level(cri)
}

func (s *Scorer) peak(hour int) bool {
	for _, b := range s.cfg.PeakBands {
		if b.Contains(hour) {
			return true
		}
	}
	return false
}

// StatusLabel is the occupancy wording shown on the live dashboard.
func StatusLabel(current float64, capacity int) string {
	ratio := current / math.Max(1, float64(capacity))
	switch {
	case ratio >= 0.9:
		return "High Congestion"
	case ratio >= 0.6:
		return "Moderate"
	default:
		return "Low Activity"
	}
}

// Trend words the forecast relative to the current density; moves within
// 5% read as stable.
func Trend(current, predicted float64) string {
	base := math.Max(1, current)
	switch d := (predicted - current) / base; {
	case d > 0.05:
		return "Increasing"
	case d < -0.05:
		return "Decreasing"
	default:
		return "Stable"
	}
}
