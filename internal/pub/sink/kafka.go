// Package sink publishes dispatcher batches to Kafka.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"loadpub/internal/config"
	"loadpub/internal/pub"
	"loadpub/internal/validator"
)

// Writer is the part of *kafka.Writer the sink depends on.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink serializes records and submits them to a single topic.
type KafkaSink struct {
	writer  Writer
	topic   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewKafkaSink builds a writer from the producer settings and checks that at
// least one bootstrap broker answers. Every failure is a *pub.SinkConstructionError.
func NewKafkaSink(ctx context.Context, cfg config.ProducerConfig, batchSize int, logger *zap.Logger) (*KafkaSink, error) {
	fail := func(err error) error {
		return &pub.SinkConstructionError{Brokers: cfg.Brokers, Err: err}
	}

	if logger == nil {
		return nil, fail(errors.New("logger is required"))
	}

	compression, err := ParseCompression(cfg.Compression)
	if err != nil {
		return nil, fail(err)
	}
	acks, err := ParseAcks(cfg.Acks)
	if err != nil {
		return nil, fail(err)
	}
	if err := probe(ctx, cfg.Brokers, cfg.Timeout()); err != nil {
		return nil, fail(err)
	}

	// kafka-go reads a zero batch timeout as its one second default
	batchTimeout := cfg.BufferingMax()
	if batchTimeout <= 0 {
		batchTimeout = time.Millisecond
	}

	sugar := logger.Named("kafka").Sugar()
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		Compression:            compression,
		RequiredAcks:           acks,
		WriteTimeout:           cfg.Timeout(),
		BatchTimeout:           batchTimeout,
		BatchSize:              max(batchSize, 1),
		AllowAutoTopicCreation: true,
		Logger:                 kafka.LoggerFunc(sugar.Debugf),
		ErrorLogger:            kafka.LoggerFunc(sugar.Errorf),
	}

	s, err := newKafkaSink(w, cfg.Topic, cfg.Timeout(), logger)
	if err != nil {
		return nil, fail(err)
	}

	return s, nil
}

func newKafkaSink(w Writer, topic string, timeout time.Duration, logger *zap.Logger) (*KafkaSink, error) {
	s := KafkaSink{
		writer:  w,
		topic:   topic,
		timeout: timeout,
		logger:  logger,
	}

	if err := validator.Validate("sink", s.writer, s.topic, s.timeout, s.logger); err != nil {
		return nil, fmt.Errorf("failed to validate sink deps: %w", err)
	}
	s.logger = s.logger.Named("sink").With(zap.String("topic", topic))

	return &s, nil
}

// Publish implements pub.Sink. Records are keyed by their id; one record
// failing to encode or send never stops the others from being attempted.
func (s *KafkaSink) Publish(ctx context.Context, batch pub.Batch) pub.Outcome {
	outcome := make(pub.Outcome, batch.Len())
	msgs := make([]kafka.Message, 0, batch.Len())
	// position of each message in the batch
	index := make([]int, 0, batch.Len())

	for i, r := range batch.Records {
		value, err := r.Encode()
		if err != nil {
			outcome[i] = s.sendError(r, err)
			continue
		}

		msgs = append(msgs, kafka.Message{
			Key:   r.Key(),
			Value: value,
			Time:  r.CreatedAt,
		})
		index = append(index, i)
	}

	if len(msgs) > 0 {
		s.write(ctx, batch, msgs, index, outcome)
	}

	for i, err := range outcome {
		if err != nil {
			s.logger.Error("kafka send failed",
				zap.Uint64("seq", batch.Seq),
				zap.String("id", batch.Records[i].ID.String()),
				zap.Error(err),
			)
		}
	}

	return outcome
}

func (s *KafkaSink) write(ctx context.Context, batch pub.Batch, msgs []kafka.Message, index []int, outcome pub.Outcome) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.writer.WriteMessages(ctx, msgs...)

	var writeErrs kafka.WriteErrors
	switch {
	case err == nil:
	case errors.As(err, &writeErrs):
		for j, werr := range writeErrs {
			if werr != nil && j < len(index) {
				outcome[index[j]] = s.sendError(batch.Records[index[j]], werr)
			}
		}
	default:
		for _, i := range index {
			outcome[i] = s.sendError(batch.Records[i], err)
		}
	}
}

func (s *KafkaSink) sendError(r pub.Record, err error) error {
	return &pub.SendError{RecordID: r.ID, Topic: s.topic, Err: err}
}

// Close flushes pending messages and releases connections.
func (s *KafkaSink) Close() error {
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}

	return nil
}

// ParseCompression maps a compression name to the kafka-go codec.
func ParseCompression(name string) (kafka.Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("unsupported compression %q", name)
	}
}

// ParseAcks maps an acknowledgment level to kafka-go's RequiredAcks.
func ParseAcks(level string) (kafka.RequiredAcks, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "0", "none":
		return kafka.RequireNone, nil
	case "1", "one", "leader":
		return kafka.RequireOne, nil
	case "all", "-1":
		return kafka.RequireAll, nil
	default:
		return 0, fmt.Errorf("unsupported acks level %q", level)
	}
}

// probe succeeds as soon as one broker accepts a connection.
func probe(ctx context.Context, brokers []string, timeout time.Duration) error {
	if len(brokers) == 0 {
		return errors.New("no brokers configured")
	}

	dialer := kafka.Dialer{Timeout: timeout}
	var errs []error
	for _, broker := range brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, fmt.Errorf("broker %s: %w", broker, err))
			continue
		}
		return conn.Close()
	}

	return fmt.Errorf("no reachable broker: %w", errors.Join(errs...))
}
