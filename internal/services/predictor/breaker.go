package predictor

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/crowdsense/pkg/logger"
)

func breakerState(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func mkCB(name string, opts Options) *gobreaker.CircuitBreaker {
	fails := opts.BreakerFailures
	if fails < 1 {
		fails = 3
	}
	openFor := opts.BreakerOpenFor
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	log := logger.For("predictor")
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(fails)
		},
		// an answer about an unknown location still proves the model is up
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnknownLocation) || errors.Is(err, ErrNonPositivePrediction)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("breaker state change")
			if opts.OnBreakerChange != nil {
				opts.OnBreakerChange(name, breakerState(to))
			}
		},
	})
}
