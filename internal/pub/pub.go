package pub

import "context"

// PayloadSource produces the opaque body of a record on demand.
type PayloadSource interface {
	// Next returns a fresh, independently serializable value. It returns
	// ErrSourceExhausted once the source has nothing more to give.
	Next(ctx context.Context) (any, error)
}

// Sink publishes batches of records to a broker topic.
type Sink interface {
	// Publish attempts every record of the batch and reports one outcome
	// slot per record. A failed record never prevents the others from being
	// attempted, and Publish returns only once every attempt has finished.
	Publish(ctx context.Context, batch Batch) Outcome

	// Close flushes and releases the underlying client.
	Close() error
}
