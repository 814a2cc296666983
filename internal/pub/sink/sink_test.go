package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"loadpub/internal/config"
	"loadpub/internal/pub"
	"loadpub/internal/pub/metrics"
	"loadpub/internal/pub/payload"
	"loadpub/internal/pub/tracing"
)

// fakeWriter captures messages and fails the positions listed in failAt.
type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	failAt   map[int]bool
	err      error
	deadline bool
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, w.deadline = ctx.Deadline()
	w.messages = append(w.messages, msgs...)
	if w.err != nil {
		return w.err
	}
	if len(w.failAt) == 0 {
		return nil
	}

	errs := make(kafka.WriteErrors, len(msgs))
	for i := range msgs {
		if w.failAt[i] {
			errs[i] = kafka.MessageSizeTooLarge
		}
	}

	return errs
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func newTestSink(t *testing.T, w Writer) *KafkaSink {
	t.Helper()

	s, err := newKafkaSink(w, "loadpub-test", time.Second, zaptest.NewLogger(t))
	require.NoError(t, err)

	return s
}

func personBatch(t *testing.T, n int) pub.Batch {
	t.Helper()

	source := payload.NewPersonSource()
	records := make([]pub.Record, n)
	for i := range records {
		p, err := source.Next(context.Background())
		require.NoError(t, err)
		records[i] = pub.NewRecord(p)
	}

	return pub.Batch{Seq: 1, Trigger: pub.TriggerSize, Records: records}
}

func TestKafkaSink_PublishWireFormat(t *testing.T) {
	w := &fakeWriter{}
	s := newTestSink(t, w)
	batch := personBatch(t, 3)

	outcome := s.Publish(context.Background(), batch)

	require.Len(t, outcome, 3)
	assert.Zero(t, outcome.Failed())
	assert.NoError(t, outcome.Err())
	assert.True(t, w.deadline, "publish should bound the write with the send timeout")
	require.Len(t, w.messages, 3)

	for i, msg := range w.messages {
		r := batch.Records[i]
		assert.Equal(t, r.ID.String(), string(msg.Key))

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(msg.Value, &decoded))
		assert.Equal(t, r.ID.String(), decoded["id"])
		assert.Contains(t, decoded, "created_at")

		data, ok := decoded["data"].(map[string]any)
		require.True(t, ok)
		for _, field := range []string{"id", "title", "first_name", "last_name", "city_name", "company_name", "street_name", "zipcode", "country"} {
			assert.Contains(t, data, field)
		}
	}
}

func TestKafkaSink_OneFailureDoesNotStopOthers(t *testing.T) {
	w := &fakeWriter{failAt: map[int]bool{2: true}}
	s := newTestSink(t, w)
	batch := personBatch(t, 5)

	outcome := s.Publish(context.Background(), batch)

	assert.Len(t, w.messages, 5, "every record should be attempted")
	assert.Equal(t, 1, outcome.Failed())
	assert.Equal(t, 4, outcome.Succeeded())

	var sendErr *pub.SendError
	require.ErrorAs(t, outcome[2], &sendErr)
	assert.Equal(t, batch.Records[2].ID, sendErr.RecordID)
	assert.Equal(t, "loadpub-test", sendErr.Topic)
	assert.ErrorIs(t, outcome[2], kafka.MessageSizeTooLarge)
}

func TestKafkaSink_EncodeFailureIsPerRecord(t *testing.T) {
	w := &fakeWriter{}
	s := newTestSink(t, w)
	batch := personBatch(t, 4)
	batch.Records[1].Payload = make(chan int)

	outcome := s.Publish(context.Background(), batch)

	assert.Len(t, w.messages, 3)
	assert.Equal(t, 1, outcome.Failed())
	assert.Error(t, outcome[1])
	assert.NoError(t, outcome[0])
	assert.NoError(t, outcome[3])
}

func TestKafkaSink_WriterErrorFailsEveryRecord(t *testing.T) {
	w := &fakeWriter{err: io.ErrUnexpectedEOF}
	s := newTestSink(t, w)

	outcome := s.Publish(context.Background(), personBatch(t, 4))

	assert.Equal(t, 4, outcome.Failed())
	assert.ErrorIs(t, outcome.Err(), io.ErrUnexpectedEOF)
}

func TestKafkaSink_Close(t *testing.T) {
	w := &fakeWriter{}
	s := newTestSink(t, w)

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaSink_ConstructionErrors(t *testing.T) {
	valid := config.Default().Producer
	valid.Brokers = config.BrokerList{"127.0.0.1:1"}
	valid.TimeoutMS = 500

	tests := []struct {
		name   string
		modify func(*config.ProducerConfig)
	}{
		{name: "unknown compression", modify: func(c *config.ProducerConfig) { c.Compression = "brotli" }},
		{name: "unknown acks", modify: func(c *config.ProducerConfig) { c.Acks = "2" }},
		{name: "no brokers", modify: func(c *config.ProducerConfig) { c.Brokers = nil }},
		{name: "unreachable broker", modify: func(*config.ProducerConfig) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.modify(&cfg)

			s, err := NewKafkaSink(context.Background(), cfg, 100, zap.NewNop())

			require.Error(t, err)
			assert.Nil(t, s)
			var constructionErr *pub.SinkConstructionError
			assert.ErrorAs(t, err, &constructionErr)
		})
	}
}

func TestParseCompression(t *testing.T) {
	tests := map[string]kafka.Compression{
		"":       0,
		"none":   0,
		"gzip":   kafka.Gzip,
		"Snappy": kafka.Snappy,
		"lz4":    kafka.Lz4,
		"zstd":   kafka.Zstd,
	}
	for name, want := range tests {
		got, err := ParseCompression(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseCompression("deflate")
	assert.Error(t, err)
}

func TestParseAcks(t *testing.T) {
	tests := map[string]kafka.RequiredAcks{
		"0":   kafka.RequireNone,
		"1":   kafka.RequireOne,
		"all": kafka.RequireAll,
		"-1":  kafka.RequireAll,
	}
	for level, want := range tests {
		got, err := ParseAcks(level)
		require.NoError(t, err, level)
		assert.Equal(t, want, got, level)
	}

	_, err := ParseAcks("most")
	assert.Error(t, err)
}

func TestMetricsSink_RecordsOutcome(t *testing.T) {
	registry := metrics.NewRegistry()
	s := NewMetricsSink(newTestSink(t, &fakeWriter{failAt: map[int]bool{0: true}}), "loadpub-test", registry)

	outcome := s.Publish(context.Background(), personBatch(t, 5))
	require.Equal(t, 1, outcome.Failed())

	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, `loadpub_sink_publish_total{status="partial",topic="loadpub-test"} 1`)
	assert.Contains(t, body, `loadpub_sink_records_total{status="success",topic="loadpub-test"} 4`)
	assert.Contains(t, body, `loadpub_sink_records_total{status="error",topic="loadpub-test"} 1`)
}

func TestTracedSink_RecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := tracing.FromProvider(tp, "loadpub-test")

	inner := newTestSink(t, &fakeWriter{err: errors.New("broker gone")})
	s := NewTracedSink(inner, "loadpub-test", tracer)

	outcome := s.Publish(context.Background(), personBatch(t, 2))
	require.Equal(t, 2, outcome.Failed())

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "sink.publish_batch", span.Name())
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Contains(t, span.Attributes(), attribute.Int("loadpub.records.failed", 2))
	assert.Contains(t, span.Attributes(), attribute.String("messaging.destination.name", "loadpub-test"))
}
