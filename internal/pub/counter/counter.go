// Package counter reports how many messages a topic currently retains, which
// is how a load run is checked after the fact.
package counter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"loadpub/internal/validator"
)

// OffsetReader exposes the partition metadata the counter needs.
type OffsetReader interface {
	Partitions(ctx context.Context, topic string) ([]kafka.Partition, error)
	Offsets(ctx context.Context, p kafka.Partition) (first, last int64, err error)
}

// PartitionCount is the retained message count of one partition.
type PartitionCount struct {
	Partition int
	First     int64
	Last      int64
}

func (p PartitionCount) Messages() int64 {
	return p.Last - p.First
}

// Result is the per-partition breakdown for a topic.
type Result struct {
	Topic      string
	Partitions []PartitionCount
}

// Total sums the retained messages over all partitions.
func (r Result) Total() int64 {
	var n int64
	for _, p := range r.Partitions {
		n += p.Messages()
	}

	return n
}

type Counter struct {
	reader      OffsetReader
	logger      *zap.Logger
	concurrency int
}

func NewCounter(reader OffsetReader, logger *zap.Logger, concurrency int) (*Counter, error) {
	c := Counter{
		reader:      reader,
		logger:      logger,
		concurrency: concurrency,
	}

	if err := validator.Validate("counter", c.reader, c.logger, c.concurrency); err != nil {
		return nil, fmt.Errorf("failed to validate counter deps: %w", err)
	}
	c.logger = c.logger.Named("counter")

	return &c, nil
}

// Count reads the first and last offset of every partition of topic.
func (c *Counter) Count(ctx context.Context, topic string) (Result, error) {
	logger := c.logger.With(zap.String("topic", topic))

	partitions, err := c.reader.Partitions(ctx, topic)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read partitions: %w", err)
	}
	if len(partitions) == 0 {
		return Result{}, fmt.Errorf("topic %s has no partitions", topic)
	}

	logger.Debug("read partitions", zap.Int("count", len(partitions)))

	counts := make([]PartitionCount, len(partitions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, p := range partitions {
		g.Go(func() error {
			first, last, err := c.reader.Offsets(gctx, p)
			if err != nil {
				const errMsg = "failed to read offsets"
				logger.Error(errMsg, zap.Int("partition", p.ID), zap.Error(err))
				return fmt.Errorf(errMsg+" for partition %d: %w", p.ID, err)
			}

			counts[i] = PartitionCount{Partition: p.ID, First: first, Last: last}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	sort.Slice(counts, func(i, j int) bool { return counts[i].Partition < counts[j].Partition })
	result := Result{Topic: topic, Partitions: counts}
	logger.Info("counted topic", zap.Int64("messages", result.Total()))

	return result, nil
}

// KafkaReader reads metadata and offsets straight from the brokers.
type KafkaReader struct {
	brokers []string
	dialer  *kafka.Dialer
}

func NewKafkaReader(brokers []string, timeout time.Duration) *KafkaReader {
	return &KafkaReader{
		brokers: brokers,
		dialer:  &kafka.Dialer{Timeout: timeout},
	}
}

func (r *KafkaReader) Partitions(ctx context.Context, topic string) ([]kafka.Partition, error) {
	var errs []error
	for _, broker := range r.brokers {
		conn, err := r.dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		partitions, err := conn.ReadPartitions(topic)
		_ = conn.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read partitions from %s: %w", broker, err)
		}

		return partitions, nil
	}

	return nil, fmt.Errorf("no reachable broker: %w", errors.Join(errs...))
}

func (r *KafkaReader) Offsets(ctx context.Context, p kafka.Partition) (int64, int64, error) {
	leader := net.JoinHostPort(p.Leader.Host, strconv.Itoa(p.Leader.Port))
	conn, err := r.dialer.DialLeader(ctx, "tcp", leader, p.Topic, p.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to dial leader %s: %w", leader, err)
	}
	defer conn.Close()

	return conn.ReadOffsets()
}
