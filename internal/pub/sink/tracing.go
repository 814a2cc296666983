package sink

import (
	"context"

	"go.opentelemetry.io/otel/codes"

	"loadpub/internal/pub"
	"loadpub/internal/pub/tracing"
)

// TracedSink wraps a pub.Sink with distributed tracing
// Layer order: TracedSink -> MetricsSink -> KafkaSink (real thing)
type TracedSink struct {
	sink   pub.Sink
	topic  string
	tracer *tracing.Tracer
}

// NewTracedSink creates a new traced sink that wraps a metrics sink
func NewTracedSink(sink pub.Sink, topic string, tracer *tracing.Tracer) pub.Sink {
	return &TracedSink{
		sink:   sink,
		topic:  topic,
		tracer: tracer,
	}
}

// Publish implements pub.Sink.Publish with distributed tracing
func (s *TracedSink) Publish(ctx context.Context, batch pub.Batch) pub.Outcome {
	ctx, span := s.tracer.StartSpan(ctx, "sink.publish_batch")
	defer span.End()

	span.SetAttributes(s.tracer.SinkAttributes(s.topic, batch.Seq, batch.Len(), string(batch.Trigger))...)

	outcome := s.sink.Publish(ctx, batch)

	err := outcome.Err()
	if err != nil {
		s.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(s.tracer.OutcomeAttributes(outcome.Succeeded(), outcome.Failed())...)
	span.SetAttributes(s.tracer.ErrorAttributes(err)...)

	return outcome
}

func (s *TracedSink) Close() error {
	return s.sink.Close()
}
