package pub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is one unit of synthetic data travelling from a generator worker to the sink.
type Record struct {
	ID        uuid.UUID `json:"id"`
	Payload   any       `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

func NewRecord(payload any) Record {
	return Record{
		ID:        uuid.New(),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// Key is the broker message key for the record.
func (r Record) Key() []byte {
	return []byte(r.ID.String())
}

// Encode serializes the record into its JSON wire format.
func (r Record) Encode() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record %s: %w", r.ID, err)
	}

	return b, nil
}
