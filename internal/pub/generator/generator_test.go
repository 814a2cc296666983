package generator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	testingclock "k8s.io/utils/clock/testing"

	"loadpub/internal/pub"
	"loadpub/internal/pub/metrics"
	"loadpub/internal/pub/payload"
	"loadpub/internal/pub/queue"
)

type counterSource struct {
	n atomic.Int64
}

func (s *counterSource) Next(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.n.Add(1), nil
}

type failingSource struct{}

func (failingSource) Next(context.Context) (any, error) {
	return nil, errors.New("boom")
}

// drain reads the queue until it reports disconnection and returns what it saw.
func drain(t *testing.T, q *queue.Queue[pub.Record]) []pub.Record {
	t.Helper()

	var out []pub.Record
	for {
		r, err := q.Receive(context.Background(), 2*time.Second)
		switch {
		case err == nil:
			out = append(out, r)
		case errors.Is(err, queue.ErrDisconnected):
			return out
		default:
			t.Fatalf("queue was not disconnected: %v", err)
		}
	}
}

func TestNewPool_ValidatesDeps(t *testing.T) {
	_, err := NewPool(nil, queue.New[pub.Record](1), zaptest.NewLogger(t))
	assert.Error(t, err)

	_, err = NewPool(&counterSource{}, nil, zaptest.NewLogger(t))
	assert.Error(t, err)

	p, err := NewPool(&counterSource{}, queue.New[pub.Record](1), zaptest.NewLogger(t), WithWorkers(0))
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkerCount(), p.Workers())
}

func TestDefaultWorkerCount(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultWorkerCount(), 1)
}

func TestPool_StopsWhenSourceExhausted(t *testing.T) {
	q := queue.New[pub.Record](4)
	source := payload.Limit(payload.NewPersonSource(), 25)

	p, err := NewPool(source, q, zaptest.NewLogger(t), WithWorkers(3), WithMetrics(metrics.NewRegistry()))
	require.NoError(t, err)
	p.Start(context.Background())

	records := drain(t, q)
	require.Len(t, records, 25)

	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		seen[r.ID.String()] = struct{}{}
		assert.IsType(t, payload.Person{}, r.Payload)
		assert.False(t, r.CreatedAt.IsZero())
	}
	assert.Len(t, seen, 25, "record ids must be unique")
}

func TestPool_StopsWhenReceiverGone(t *testing.T) {
	q := queue.New[pub.Record](2)

	p, err := NewPool(&counterSource{}, q, zaptest.NewLogger(t), WithWorkers(4))
	require.NoError(t, err)
	p.Start(context.Background())

	require.Eventually(t, func() bool { return q.Len() == q.Cap() }, time.Second, time.Millisecond)
	q.CloseReceiver()

	// workers blocked on the full queue are released and close their senders
	records := drain(t, q)
	assert.Len(t, records, 2)
}

func TestPool_StopsOnCancel(t *testing.T) {
	q := queue.New[pub.Record](1)

	p, err := NewPool(&counterSource{}, q, zaptest.NewLogger(t), WithWorkers(2))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, time.Millisecond)
	cancel()

	records := drain(t, q)
	assert.LessOrEqual(t, len(records), 3)
}

func TestPool_StopsOnSourceError(t *testing.T) {
	q := queue.New[pub.Record](1)

	p, err := NewPool(failingSource{}, q, zaptest.NewLogger(t), WithWorkers(2))
	require.NoError(t, err)
	p.Start(context.Background())

	assert.Empty(t, drain(t, q))
}

func TestPool_Throttle(t *testing.T) {
	fakeClock := testingclock.NewFakeClock(time.Now())
	q := queue.New[pub.Record](10)
	source := &counterSource{}

	p, err := NewPool(source, q, zaptest.NewLogger(t),
		WithWorkers(1),
		WithThrottle(time.Second),
		WithClock(fakeClock),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	require.Eventually(t, fakeClock.HasWaiters, time.Second, time.Millisecond)
	assert.Equal(t, 1, q.Len(), "worker must pause after each enqueue")

	fakeClock.Step(500 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, q.Len())

	fakeClock.Step(500 * time.Millisecond)
	require.Eventually(t, func() bool { return q.Len() == 2 }, time.Second, time.Millisecond)

	r, err := q.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 1, r.Payload)
}
