package pub

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrSourceExhausted is returned by a PayloadSource that has no more payloads.
var ErrSourceExhausted = errors.New("payload source exhausted")

// SinkConstructionError reports that the publish client could not be built.
// It is fatal at startup.
type SinkConstructionError struct {
	Brokers []string
	Err     error
}

func (e *SinkConstructionError) Error() string {
	return fmt.Sprintf("failed to construct sink for brokers %v: %v", e.Brokers, e.Err)
}

func (e *SinkConstructionError) Unwrap() error {
	return e.Err
}

// SendError reports a failed publish attempt for a single record.
type SendError struct {
	RecordID uuid.UUID
	Topic    string
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("failed to send record %s to topic %s: %v", e.RecordID, e.Topic, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
