package dispatcher

import (
	"context"
	"time"

	"k8s.io/utils/clock"

	"loadpub/internal/pub"
)

type EventKind int

const (
	// EventRecord carries a record dequeued from the queue.
	EventRecord EventKind = iota
	// EventTick means the flush interval elapsed.
	EventTick
	// EventShutdown means a shutdown notification arrived or the context ended.
	EventShutdown
	// EventDisconnected means every producer has gone and the queue is empty.
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventRecord:
		return "record"
	case EventTick:
		return "tick"
	case EventShutdown:
		return "shutdown"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind   EventKind
	Record pub.Record
}

// Events is the dispatcher's wait on the first of {record, flush timer, shutdown}.
type Events interface {
	// Next blocks until one event source fires.
	Next(ctx context.Context) Event
	// Reset restarts the flush timer; the dispatcher calls it after every flush.
	Reset()
	// Stop releases the timer.
	Stop()
}

type selectEvents struct {
	records  <-chan pub.Record
	shutdown <-chan struct{}
	interval time.Duration
	timer    clock.Timer
}

// NewSelectEvents waits on a record channel, a flush timer of the given
// interval and a shutdown channel. A closed record channel is reported as
// EventDisconnected. Shutdown takes precedence when several sources are ready.
func NewSelectEvents(records <-chan pub.Record, shutdown <-chan struct{}, interval time.Duration, c clock.Clock) Events {
	return &selectEvents{
		records:  records,
		shutdown: shutdown,
		interval: interval,
		timer:    c.NewTimer(interval),
	}
}

func (e *selectEvents) Next(ctx context.Context) Event {
	select {
	case <-e.shutdown:
		return Event{Kind: EventShutdown}
	case <-ctx.Done():
		return Event{Kind: EventShutdown}
	default:
	}

	select {
	case <-e.shutdown:
		return Event{Kind: EventShutdown}
	case <-ctx.Done():
		return Event{Kind: EventShutdown}
	case r, ok := <-e.records:
		if !ok {
			return Event{Kind: EventDisconnected}
		}
		return Event{Kind: EventRecord, Record: r}
	case <-e.timer.C():
		e.timer.Reset(e.interval)
		return Event{Kind: EventTick}
	}
}

func (e *selectEvents) Reset() {
	if !e.timer.Stop() {
		select {
		case <-e.timer.C():
		default:
		}
	}
	e.timer.Reset(e.interval)
}

func (e *selectEvents) Stop() {
	e.timer.Stop()
}
