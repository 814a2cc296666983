package sink

import (
	"context"
	"time"

	"loadpub/internal/pub"
	"loadpub/internal/pub/metrics"
)

// MetricsSink wraps a pub.Sink with metrics collection
type MetricsSink struct {
	sink     pub.Sink
	topic    string
	registry *metrics.Registry
}

// NewMetricsSink creates a new instrumented sink
func NewMetricsSink(sink pub.Sink, topic string, registry *metrics.Registry) pub.Sink {
	return &MetricsSink{
		sink:     sink,
		topic:    topic,
		registry: registry,
	}
}

// Publish implements pub.Sink.Publish with metrics collection
func (s *MetricsSink) Publish(ctx context.Context, batch pub.Batch) pub.Outcome {
	start := time.Now()

	outcome := s.sink.Publish(ctx, batch)
	duration := time.Since(start)

	s.registry.RecordSinkPublish(s.topic, outcome.Succeeded(), outcome.Failed(), duration)

	return outcome
}

func (s *MetricsSink) Close() error {
	return s.sink.Close()
}
