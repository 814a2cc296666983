// Package dispatcher drains the record queue into size- or time-bounded
// batches and hands each batch to a sink.
package dispatcher

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"loadpub/internal/pub"
	"loadpub/internal/pub/metrics"
	"loadpub/internal/validator"
)

type State int32

const (
	StateCollecting State = iota
	StateFlushing
	StateDraining
	StateTerminated
)

var states = []string{
	StateCollecting.String(),
	StateFlushing.String(),
	StateDraining.String(),
	StateTerminated.String(),
}

func (s State) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateFlushing:
		return "flushing"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ReceiverCloser is the receiving side of the record queue. Closing it tells
// producers that nobody will read their records any more.
type ReceiverCloser interface {
	CloseReceiver()
}

// Dispatcher is the single consumer of the record queue.
type Dispatcher struct {
	events    Events
	sink      pub.Sink
	logger    *zap.Logger
	registry  *metrics.Registry
	receiver  ReceiverCloser
	batchSize int

	buffer []pub.Record
	seq    uint64
	state  atomic.Int32
}

type Option func(*Dispatcher)

func WithMetrics(registry *metrics.Registry) Option {
	return func(d *Dispatcher) {
		d.registry = registry
	}
}

// WithReceiver makes the dispatcher close the queue's receiving side when it
// terminates, so producers stop instead of blocking forever.
func WithReceiver(r ReceiverCloser) Option {
	return func(d *Dispatcher) {
		d.receiver = r
	}
}

func New(events Events, sink pub.Sink, batchSize int, logger *zap.Logger, opts ...Option) (*Dispatcher, error) {
	d := Dispatcher{
		events:    events,
		sink:      sink,
		logger:    logger,
		batchSize: batchSize,
	}
	for _, opt := range opts {
		opt(&d)
	}

	if err := validator.Validate("dispatcher", d.events, d.sink, d.logger); err != nil {
		return nil, fmt.Errorf("failed to validate dispatcher deps: %w", err)
	}
	if d.batchSize <= 0 {
		return nil, fmt.Errorf("dispatcher batch size must be positive, got %d", d.batchSize)
	}

	d.logger = d.logger.Named("dispatcher")
	d.buffer = make([]pub.Record, 0, d.batchSize)

	return &d, nil
}

// State reports the dispatcher's current state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Accepting reports whether the dispatcher still collects new records.
func (d *Dispatcher) Accepting() bool {
	s := d.State()
	return s == StateCollecting || s == StateFlushing
}

// Run collects records until a shutdown notification arrives, ctx ends, or
// every producer has gone, then flushes what is buffered and returns.
// Per-record publish failures are left to the sink and never end the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.events.Stop()

	d.setState(StateCollecting)
	d.logger.Info("dispatcher started", zap.Int("batch_size", d.batchSize))

	for {
		ev := d.events.Next(ctx)
		switch ev.Kind {
		case EventRecord:
			d.buffer = append(d.buffer, ev.Record)
			if len(d.buffer) >= d.batchSize {
				d.setState(StateFlushing)
				d.flush(ctx, pub.TriggerSize, d.batchSize)
				d.setState(StateCollecting)
			}
		case EventTick:
			if len(d.buffer) > 0 {
				d.setState(StateFlushing)
				d.flush(ctx, pub.TriggerInterval, len(d.buffer))
				d.setState(StateCollecting)
			}
		case EventShutdown, EventDisconnected:
			d.logger.Info("dispatcher draining",
				zap.Stringer("cause", ev.Kind),
				zap.Int("buffered", len(d.buffer)),
			)
			d.drain(ctx)
			return nil
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	d.setState(StateDraining)

	// the drain must complete even when ctx was what asked us to stop
	if n := len(d.buffer); n > 0 {
		d.flush(context.WithoutCancel(ctx), pub.TriggerDrain, n)
	}

	if d.receiver != nil {
		d.receiver.CloseReceiver()
	}

	d.setState(StateTerminated)
	d.logger.Info("dispatcher terminated", zap.Uint64("batches", d.seq))
}

// flush publishes the first n buffered records as one batch and waits for
// every outcome before returning.
func (d *Dispatcher) flush(ctx context.Context, trigger pub.Trigger, n int) {
	records := make([]pub.Record, n)
	copy(records, d.buffer[:n])
	d.buffer = append(d.buffer[:0], d.buffer[n:]...)

	d.seq++
	batch := pub.Batch{Seq: d.seq, Trigger: trigger, Records: records}

	outcome := d.sink.Publish(ctx, batch)
	d.events.Reset()

	if d.registry != nil {
		d.registry.RecordFlush(string(trigger), n)
	}

	logger := d.logger.With(
		zap.Uint64("seq", batch.Seq),
		zap.String("trigger", string(trigger)),
		zap.Int("size", n),
	)
	if failed := outcome.Failed(); failed > 0 {
		logger.Warn("batch flushed with failures", zap.Int("failed", failed))
		return
	}
	logger.Debug("batch flushed")
}

func (d *Dispatcher) setState(s State) {
	prev := State(d.state.Swap(int32(s)))
	if d.registry != nil {
		d.registry.SetDispatcherState(s.String(), states)
	}
	if prev != s {
		d.logger.Debug("dispatcher state", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}
