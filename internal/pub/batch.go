package pub

import "errors"

// Trigger names the reason a batch was flushed.
type Trigger string

const (
	TriggerSize     Trigger = "size"
	TriggerInterval Trigger = "interval"
	TriggerDrain    Trigger = "drain"
)

// Batch is an ordered group of records flushed to a Sink in one operation.
type Batch struct {
	Seq     uint64
	Trigger Trigger
	Records []Record
}

func (b Batch) Len() int {
	return len(b.Records)
}

// Outcome holds one slot per record of a published batch; a nil slot means
// the record was delivered.
type Outcome []error

func (o Outcome) Failed() int {
	n := 0
	for _, err := range o {
		if err != nil {
			n++
		}
	}

	return n
}

func (o Outcome) Succeeded() int {
	return len(o) - o.Failed()
}

// Err joins every per-record failure, or returns nil when all succeeded.
func (o Outcome) Err() error {
	return errors.Join(o...)
}
