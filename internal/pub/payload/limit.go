package payload

import (
	"context"
	"sync/atomic"

	"loadpub/internal/pub"
)

// Limited caps the number of payloads drawn from a source across all callers.
type Limited struct {
	source pub.PayloadSource
	max    int64
	taken  atomic.Int64
}

// Limit wraps source so that it yields at most max payloads and then
// reports pub.ErrSourceExhausted. A max of zero or less leaves source unbounded.
func Limit(source pub.PayloadSource, max int64) pub.PayloadSource {
	if max <= 0 {
		return source
	}

	return &Limited{source: source, max: max}
}

func (l *Limited) Next(ctx context.Context) (any, error) {
	if l.taken.Add(1) > l.max {
		return nil, pub.ErrSourceExhausted
	}

	return l.source.Next(ctx)
}
