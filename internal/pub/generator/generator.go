// Package generator runs the worker loops that manufacture records and push
// them into the backpressure queue.
package generator

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"loadpub/internal/pub"
	"loadpub/internal/pub/metrics"
	"loadpub/internal/pub/queue"
	"loadpub/internal/validator"
)

// Pool is a fixed set of generator workers feeding one queue.
type Pool struct {
	source   pub.PayloadSource
	queue    *queue.Queue[pub.Record]
	logger   *zap.Logger
	registry *metrics.Registry
	clock    clock.Clock
	workers  int
	throttle time.Duration
}

type Option func(*Pool)

// WithWorkers sets the number of workers. Values below one keep the default.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithThrottle makes every worker pause for d after each successful enqueue.
func WithThrottle(d time.Duration) Option {
	return func(p *Pool) {
		p.throttle = d
	}
}

func WithMetrics(registry *metrics.Registry) Option {
	return func(p *Pool) {
		p.registry = registry
	}
}

func WithClock(c clock.Clock) Option {
	return func(p *Pool) {
		p.clock = c
	}
}

func NewPool(source pub.PayloadSource, q *queue.Queue[pub.Record], logger *zap.Logger, opts ...Option) (*Pool, error) {
	p := Pool{
		source:  source,
		queue:   q,
		logger:  logger,
		clock:   clock.RealClock{},
		workers: DefaultWorkerCount(),
	}
	for _, opt := range opts {
		opt(&p)
	}

	if err := validator.Validate("generator", p.source, p.queue, p.logger); err != nil {
		return nil, fmt.Errorf("failed to validate generator deps: %w", err)
	}
	p.logger = p.logger.Named("generator")

	return &p, nil
}

// DefaultWorkerCount leaves one physical core for the dispatcher and runtime.
func DefaultWorkerCount() int {
	cores, err := cpu.Counts(false)
	if err != nil || cores <= 0 {
		cores = runtime.NumCPU()
	}

	return max(cores-1, 1)
}

func (p *Pool) Workers() int {
	return p.workers
}

// Start launches the workers and returns immediately. Workers stop when ctx
// is done, when the queue's receiver has gone, or when the source is
// exhausted. There is no join handle; once every worker has stopped the
// queue reports disconnection to its receiver.
func (p *Pool) Start(ctx context.Context) {
	// register every sender before any worker can exit and close its own
	senders := make([]*queue.Sender[pub.Record], p.workers)
	for i := range senders {
		senders[i] = p.queue.Sender()
	}

	p.logger.Info("starting generators",
		zap.Int("workers", p.workers),
		zap.Duration("throttle", p.throttle),
	)

	for i, s := range senders {
		go p.run(ctx, i, s)
	}
}

func (p *Pool) run(ctx context.Context, id int, sender *queue.Sender[pub.Record]) {
	defer sender.Close()

	logger := p.logger.With(zap.Int("worker", id))
	logger.Debug("generator started")

	if p.registry != nil {
		p.registry.WorkerStarted()
		defer p.registry.WorkerStopped()
	}

	for {
		payload, err := p.source.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, pub.ErrSourceExhausted):
			logger.Debug("payload source exhausted, stopping generator")
			return
		case ctx.Err() != nil:
			return
		default:
			logger.Error("failed to generate payload, stopping generator", zap.Error(err))
			return
		}

		start := p.clock.Now()
		err = sender.Send(ctx, pub.NewRecord(payload))
		switch {
		case err == nil:
			if p.registry != nil {
				p.registry.RecordGenerated(p.clock.Since(start), nil)
			}
		case errors.Is(err, queue.ErrDisconnected):
			if p.registry != nil {
				p.registry.RecordGeneratorDisconnected()
			}
			logger.Debug("queue receiver gone, stopping generator")
			return
		default:
			return
		}

		if p.throttle > 0 {
			select {
			case <-ctx.Done():
				return
			case <-p.clock.After(p.throttle):
			}
		}
	}
}
