package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config holds configuration parameters for OpenTelemetry tracing setup.
// This includes service identification, Jaeger endpoint, sampling configuration,
// and batch processing settings for optimal trace delivery.
type Config struct {
	Enabled        bool          `yaml:"enabled" env:"TRACING_ENABLED"`
	ServiceName    string        `yaml:"service_name" env:"TRACING_SERVICE_NAME"`
	ServiceVersion string        `yaml:"service_version" env:"TRACING_SERVICE_VERSION"`
	JaegerEndpoint string        `yaml:"jaeger_endpoint" env:"JAEGER_ENDPOINT"`
	SampleRate     float64       `yaml:"sample_rate" env:"TRACING_SAMPLE_RATE"`
	BatchTimeout   time.Duration `yaml:"batch_timeout" env:"TRACING_BATCH_TIMEOUT"`
	ExportTimeout  time.Duration `yaml:"export_timeout" env:"TRACING_EXPORT_TIMEOUT"`
	MaxExportBatch int           `yaml:"max_export_batch" env:"TRACING_MAX_EXPORT_BATCH"`
	MaxQueueSize   int           `yaml:"max_queue_size" env:"TRACING_MAX_QUEUE_SIZE"`
}

// Tracer wraps the OpenTelemetry tracer with convenience methods for publisher operations.
// It provides a simplified interface for creating spans, recording errors, and adding
// publisher-specific attributes while maintaining the underlying OpenTelemetry functionality.
type Tracer struct {
	tracer trace.Tracer
	config Config
}

// NewNoopTracer returns a Tracer whose spans are never recorded or exported.
func NewNoopTracer() *Tracer {
	return FromProvider(noop.NewTracerProvider(), "loadpub")
}

// FromProvider wraps a tracer obtained from an existing provider.
func FromProvider(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name)}
}

// NewTracer creates and configures a new OpenTelemetry tracer with OTLP HTTP export.
// It sets up the tracer provider, configures batch processing for efficient trace delivery,
// and returns both the tracer instance and a cleanup function for graceful shutdown.
// When tracing is disabled a no-op tracer and cleanup are returned.
func NewTracer(config Config) (*Tracer, func(context.Context) error, error) {
	if !config.Enabled {
		return NewNoopTracer(), func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			attribute.String("service.environment", "development"),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlptracehttp.New(
		context.Background(),
		otlptracehttp.WithEndpoint(config.JaegerEndpoint),
		otlptracehttp.WithInsecure(), // Use HTTP instead of HTTPS for local development
		otlptracehttp.WithTimeout(config.ExportTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	// Use batch span processor with shorter timeout for better trace delivery
	processor := sdktrace.NewBatchSpanProcessor(
		exporter,
		sdktrace.WithBatchTimeout(config.BatchTimeout),
		sdktrace.WithExportTimeout(config.ExportTimeout),
		sdktrace.WithMaxExportBatchSize(config.MaxExportBatch),
		sdktrace.WithMaxQueueSize(config.MaxQueueSize),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SampleRate)),
	)

	otel.SetTracerProvider(tp)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := &Tracer{
		tracer: tp.Tracer(config.ServiceName),
		config: config,
	}

	cleanup := func(ctx context.Context) error {
		// Force flush all pending spans before shutdown
		if err := tp.ForceFlush(ctx); err != nil {
			return fmt.Errorf("failed to flush traces: %w", err)
		}
		return tp.Shutdown(ctx)
	}

	return tracer, cleanup, nil
}

// StartSpan creates a new tracing span with the specified name and options.
// Returns the updated context containing the span and the span instance for further manipulation.
func (t *Tracer) StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName, opts...)
}

// RecordError records an error event on the active span and sets the span status to error.
// This automatically marks the span as failed and includes the error message.
func (t *Tracer) RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SinkAttributes creates standard attributes for a batch publish.
func (t *Tracer) SinkAttributes(topic string, seq uint64, batchSize int, trigger string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination.name", topic),
		attribute.Int64("loadpub.batch.seq", int64(seq)),
		attribute.Int("messaging.batch.message_count", batchSize),
		attribute.String("loadpub.batch.trigger", trigger),
	}
}

// OutcomeAttributes creates attributes describing per-record publish results.
func (t *Tracer) OutcomeAttributes(succeeded, failed int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("loadpub.records.succeeded", succeeded),
		attribute.Int("loadpub.records.failed", failed),
	}
}

// ErrorAttributes creates attributes based on error state.
// Returns error information if an error is provided, or success indication if nil.
func (t *Tracer) ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return []attribute.KeyValue{
			attribute.Bool("error", false),
		}
	}
	return []attribute.KeyValue{
		attribute.Bool("error", true),
		attribute.String("error.type", fmt.Sprintf("%T", err)),
		attribute.String("error.message", err.Error()),
	}
}
