package notifier

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/crowdsense/pkg/logger"
)

type ResilientOptions struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxElapsed      time.Duration
	BreakerFailures int
	BreakerOpenFor  time.Duration
	OnBreakerChange func(name string, state float64)
}

// ResilientTransport retries a Transport with exponential backoff behind a
// circuit breaker. Missing credentials and an open breaker are not retried.
type ResilientTransport struct {
	next Transport
	cb   *gobreaker.CircuitBreaker
	opts ResilientOptions
}

func NewResilientTransport(next Transport, opts ResilientOptions) *ResilientTransport {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = 30 * time.Second
	}
	if opts.BreakerFailures <= 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerOpenFor <= 0 {
		opts.BreakerOpenFor = time.Minute
	}
	log := logger.For("notifier")
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "smtp",
		Timeout: opts.BreakerOpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(opts.BreakerFailures)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrCredentialsMissing)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("breaker state change")
			if opts.OnBreakerChange != nil {
				opts.OnBreakerChange(name, breakerState(to))
			}
		},
	})
	return &ResilientTransport{next: next, cb: cb, opts: opts}
}

func (r *ResilientTransport) Send(ctx context.Context, to, subject, body string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.opts.InitialInterval
	bo.MaxElapsedTime = r.opts.MaxElapsed

	return backoff.Retry(func() error {
		_, err := r.cb.Execute(func() (interface{}, error) {
			return nil, r.next.Send(ctx, to, subject, body)
		})
		if errors.Is(err, ErrCredentialsMissing) || errors.Is(err, gobreaker.ErrOpenState) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.opts.MaxRetries-1)), ctx))
}

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
