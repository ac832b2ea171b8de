package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/crowdsense/pkg/logger"
)

type job struct {
	kind string
	fn   func(ctx context.Context) error
}

// Pool runs persistence, email and publish jobs on a fixed set of workers.
// Submit never blocks: a full queue drops the job.
type Pool struct {
	mu      sync.RWMutex
	closed  bool
	jobs    chan job
	timeout time.Duration
	rec     Recorder
	log     zerolog.Logger
	wg      sync.WaitGroup
}

func NewPool(workers, queue int, timeout time.Duration, rec Recorder) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 64
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	p := &Pool{
		jobs:    make(chan job, queue),
		timeout: timeout,
		rec:     rec,
		log:     logger.For("side-effects"),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit queues fn, reporting false when the pool is full or closed.
func (p *Pool) Submit(kind string, fn func(ctx context.Context) error) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.rec.SideEffectDropped(kind)
		return false
	}
	select {
	case p.jobs <- job{kind: kind, fn: fn}:
		return true
	default:
		p.rec.SideEffectDropped(kind)
		p.log.Warn().Str("kind", kind).Msg("queue full, side effect dropped")
		return false
	}
}

// Close stops accepting jobs and waits for queued ones until ctx is done.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("side effects still running: %w", ctx.Err())
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		p.run(j)
	}
}

func (p *Pool) run(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.rec.SideEffectFailed(j.kind)
			p.log.Error().Str("kind", j.kind).Interface("panic", r).Msg("side effect panicked")
		}
	}()
	if err := j.fn(ctx); err != nil {
		p.rec.SideEffectFailed(j.kind)
		p.log.Warn().Err(err).Str("kind", j.kind).Msg("side effect failed")
	}
}
