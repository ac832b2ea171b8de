// Package predictor talks to the fitted density regression model.
//
// The model is optional: a nil Model, a transport error, an open breaker or a
// non-positive output all mean "use the formula" to callers.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var (
	ErrModelUnavailable      = errors.New("prediction model unavailable")
	ErrNonPositivePrediction = errors.New("prediction model returned a non-positive value")
	ErrUnknownLocation       = errors.New("prediction model does not know the location")
)

// Features mirrors the input record the model was trained on.
type Features struct {
	Location     string  `json:"location"`
	Hour         int     `json:"hour"`
	Weekday      int     `json:"weekday"` // Monday=0 .. Sunday=6
	RSSI         float64 `json:"rssi"`
	Value        float64 `json:"value"` // zone capacity
	PrevDensity  float64 `json:"prev_density"`
	Prev2Density float64 `json:"prev2_density"`
	RollingMean3 float64 `json:"rolling_mean_3"`
	Weekend      bool    `json:"weekend"`
}

type Model interface {
	// Applies reports whether the model was fitted for zoneID.
	Applies(zoneID string) bool
	Predict(ctx context.Context, f Features) (float64, error)
}

type Options struct {
	Timeout         time.Duration
	Zones           []string // empty: every zone
	BreakerFailures int
	BreakerOpenFor  time.Duration
	OnBreakerChange func(name string, state float64)
}

// New picks a client from the endpoint scheme: http(s):// or grpc://.
// An empty endpoint yields a nil Model.
func New(endpoint string, opts Options) (Model, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse model endpoint: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return NewHTTPModel(endpoint, opts), nil
	case "grpc":
		return NewGRPCModel(u.Host, opts)
	default:
		return nil, fmt.Errorf("unsupported model endpoint scheme %q", u.Scheme)
	}
}

type zoneSet map[string]struct{}

func newZoneSet(ids []string) zoneSet {
	if len(ids) == 0 {
		return nil
	}
	s := make(zoneSet, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

func (s zoneSet) contains(id string) bool {
	if s == nil {
		return true
	}
	_, ok := s[id]
	return ok
}

func checkValue(v float64) (float64, error) {
	if v <= 0 {
		return 0, ErrNonPositivePrediction
	}
	return v, nil
}
