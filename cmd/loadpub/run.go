package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"loadpub/internal/config"
	"loadpub/internal/pub"
	"loadpub/internal/pub/dispatcher"
	"loadpub/internal/pub/generator"
	"loadpub/internal/pub/metrics"
	"loadpub/internal/pub/payload"
	"loadpub/internal/pub/queue"
	"loadpub/internal/pub/shutdown"
	"loadpub/internal/pub/sink"
	"loadpub/internal/pub/tracing"
)

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Publish until interrupted or until max_records have been generated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg.Log.Level)
			if err != nil {
				return err
			}
			defer logger.Sync()

			return run(cmd.Context(), cfg, logger)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.ProfileDir != "" {
		stop, err := startProfiling(cfg.ProfileDir, logger)
		if err != nil {
			logger.Error("failed to start profiling", zap.Error(err))
			return err
		}
		defer stop()
	}

	registry := metrics.NewRegistry()
	registry.SetSystemInfo(version, buildTime)

	tracer, tracingCleanup, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		logger.Error("failed to initialize tracing", zap.Error(err))
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingCleanup(shutdownCtx); err != nil {
			logger.Error("failed to cleanup tracing", zap.Error(err))
		}
	}()

	topic := cfg.Producer.Topic
	kafkaSink, err := sink.NewKafkaSink(ctx, cfg.Producer, cfg.Dispatch.BatchSize, logger)
	if err != nil {
		logger.Error("failed to construct sink", zap.Strings("brokers", cfg.Producer.Brokers), zap.Error(err))
		return err
	}
	metricsSink := sink.NewMetricsSink(kafkaSink, topic, registry)
	s := sink.NewTracedSink(metricsSink, topic, tracer)
	defer func() {
		if err := s.Close(); err != nil {
			logger.Error("failed to close sink", zap.Error(err))
		}
	}()

	q := queue.New[pub.Record](cfg.Dispatch.QueueCapacity)
	registry.ObserveQueue(q.Len, q.Cap())

	coordinator, err := shutdown.New(logger)
	if err != nil {
		return err
	}

	source := payload.Limit(payload.NewPersonSource(), cfg.Concurrency.MaxRecords)
	pool, err := generator.NewPool(source, q, logger,
		generator.WithWorkers(cfg.Concurrency.Workers),
		generator.WithThrottle(cfg.Concurrency.Throttle()),
		generator.WithMetrics(registry),
	)
	if err != nil {
		return err
	}

	events := dispatcher.NewSelectEvents(q.C(), coordinator.Done(), cfg.Dispatch.FlushInterval(), clock.RealClock{})
	d, err := dispatcher.New(events, s, cfg.Dispatch.BatchSize, logger,
		dispatcher.WithMetrics(registry),
		dispatcher.WithReceiver(q),
	)
	if err != nil {
		return err
	}

	logger.Info("starting publisher",
		zap.String("version", version),
		zap.Strings("brokers", cfg.Producer.Brokers),
		zap.String("topic", topic),
		zap.Int("workers", pool.Workers()),
		zap.Int("batch_size", cfg.Dispatch.BatchSize),
		zap.Duration("flush_interval", cfg.Dispatch.FlushInterval()),
		zap.Int("queue_capacity", q.Cap()),
		zap.Int64("max_records", cfg.Concurrency.MaxRecords),
	)

	// listeners outlive the dispatcher's drain and stop once it returns
	auxCtx, stopAux := context.WithCancel(context.Background())
	defer stopAux()
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	now := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		coordinator.Listen(auxCtx)
		return nil
	})

	if cfg.Metrics.Enabled {
		server := metrics.NewServer(cfg.Metrics, registry, d.Accepting, logger)
		g.Go(func() error {
			if err := server.Start(auxCtx); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
			return nil
		})
		logger.Info("metrics server started",
			zap.String("endpoint", fmt.Sprintf("http://localhost:%d/metrics", cfg.Metrics.Port)),
			zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port)),
		)
	}

	pool.Start(workerCtx)

	g.Go(func() error {
		defer stopAux()
		defer stopWorkers()

		return d.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("publisher stopped with error", zap.Error(err))
		return err
	}

	logger.Info("publisher stopped", zap.Duration("elapsed", time.Since(now)))
	return nil
}
