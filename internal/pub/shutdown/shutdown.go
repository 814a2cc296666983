// Package shutdown turns process termination signals into a single
// shutdown notification.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"loadpub/internal/validator"
)

// Coordinator closes its Done channel on the first termination signal.
type Coordinator struct {
	logger  *zap.Logger
	signals chan os.Signal
	watched []os.Signal

	done chan struct{}
	once sync.Once
}

// New starts watching the given signals, or SIGINT and SIGTERM when none
// are given. Signals arriving before Listen runs are held, not lost.
func New(logger *zap.Logger, signals ...os.Signal) (*Coordinator, error) {
	if err := validator.Validate("shutdown", logger); err != nil {
		return nil, fmt.Errorf("failed to validate shutdown deps: %w", err)
	}
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	c := Coordinator{
		logger:  logger.Named("shutdown"),
		signals: make(chan os.Signal, 1),
		watched: signals,
		done:    make(chan struct{}),
	}
	signal.Notify(c.signals, c.watched...)

	return &c, nil
}

// Done is closed exactly once, when shutdown has been requested.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Trigger requests shutdown as if a signal had arrived. Only the first call
// has any effect.
func (c *Coordinator) Trigger(reason string) bool {
	fired := false
	c.once.Do(func() {
		fired = true
		c.logger.Info("shutdown requested, draining", zap.String("reason", reason))
		close(c.done)
	})

	return fired
}

// Listen relays signals until ctx ends, then stops watching. Repeated
// signals after the first are logged and otherwise ignored.
func (c *Coordinator) Listen(ctx context.Context) {
	defer signal.Stop(c.signals)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-c.signals:
			if !c.Trigger(sig.String()) {
				c.logger.Warn("already draining, ignoring signal", zap.String("signal", sig.String()))
			}
		}
	}
}
