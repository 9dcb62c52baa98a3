package event

import (
	"context"
	"encoding/json"
	"iter"
)

// DefaultPageSize is used by ReadFrom implementations when none is configured.
const DefaultPageSize = 256

// Log is the append-only, per-match event log.
type Log interface {
	// Append stores one event at the next seq for matchID and returns it.
	// Concurrent appends to the same match never share a seq.
	Append(ctx context.Context, matchID, txID int64, t Type, payload json.RawMessage) (Event, error)
	// ReadFrom yields events with seq >= fromSeq in ascending order.
	// The sequence is lazy and may be iterated more than once.
	ReadFrom(ctx context.Context, matchID, fromSeq int64) iter.Seq2[Event, error]
	// Load returns every event for matchID ordered by seq.
	Load(ctx context.Context, matchID int64) ([]Event, error)
}

// PageFunc fetches at most limit events with seq >= fromSeq.
type PageFunc func(ctx context.Context, fromSeq int64, limit int) ([]Event, error)

// Paged turns a page fetcher into a lazy event sequence. Each iteration
// starts again from fromSeq.
func Paged(ctx context.Context, fromSeq int64, pageSize int, fetch PageFunc) iter.Seq2[Event, error] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if fromSeq < 1 {
		fromSeq = 1
	}
	return func(yield func(Event, error) bool) {
		next := fromSeq
		for {
			page, err := fetch(ctx, next, pageSize)
			if err != nil {
				yield(Event{}, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
				next = e.Seq + 1
			}
			if len(page) < pageSize {
				return
			}
		}
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[Event, error]) ([]Event, error) {
	var out []Event
	for e, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}
