package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ProcessFunc handles one job.
type ProcessFunc func(ctx context.Context, messageID string) error

var ErrPoolClosed = errors.New("queue: pool closed")

// Pool runs jobs on a fixed number of goroutines. Retryable failures are
// retried up to the configured attempt count with a fixed backoff.
type Pool struct {
	process     ProcessFunc
	workers     int
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger

	jobs   chan string
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type PoolOption func(*Pool)

func WithRetry(attempts int, backoff time.Duration) PoolOption {
	return func(p *Pool) {
		if attempts > 0 {
			p.maxAttempts = attempts
		}
		if backoff >= 0 {
			p.backoff = backoff
		}
	}
}

func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

func NewPool(process ProcessFunc, workers int, opts ...PoolOption) (*Pool, error) {
	if process == nil {
		return nil, errors.New("queue: process func must not be nil")
	}
	if workers <= 0 {
		return nil, errors.New("queue: workers must be positive")
	}
	p := &Pool{
		process:     process,
		workers:     workers,
		maxAttempts: 3,
		backoff:     time.Second,
		logger:      slog.Default(),
		jobs:        make(chan string, 64),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start launches the workers. They stop after Close drains the queue.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for id := range p.jobs {
				p.run(ctx, id)
			}
		}()
	}
}

// Enqueue blocks until the job is accepted, ctx ends, or the pool closes.
func (p *Pool) Enqueue(ctx context.Context, messageID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- messageID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id string) {
	for attempt := 1; ; attempt++ {
		err := p.process(ctx, id)
		if err == nil {
			return
		}
		if !Retryable(err) || attempt >= p.maxAttempts {
			p.logger.Error("job failed", "message_id", id, "attempt", attempt, "err", err)
			return
		}
		p.logger.Warn("job failed, retrying", "message_id", id, "attempt", attempt, "err", err)
		select {
		case <-time.After(p.backoff):
		case <-ctx.Done():
			p.logger.Error("job abandoned", "message_id", id, "err", ctx.Err())
			return
		}
	}
}
