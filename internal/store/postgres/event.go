package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/three-kingdoms/internal/clock"
	"github.com/jensholdgaard/three-kingdoms/internal/event"
	"github.com/jensholdgaard/three-kingdoms/internal/store"
)

// EventLog implements event.Log backed by Postgres.
type EventLog struct {
	db       *sqlx.DB
	clock    clock.Clock
	pageSize int
}

// NewEventLog returns a new EventLog. A pageSize <= 0 selects event.DefaultPageSize.
func NewEventLog(db *sqlx.DB, clk clock.Clock, pageSize int) *EventLog {
	return &EventLog{db: db, clock: clk, pageSize: pageSize}
}

func (l *EventLog) Append(ctx context.Context, matchID, txID int64, t event.Type, payload json.RawMessage) (event.Event, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return event.Event{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	e, err := appendEvent(ctx, tx, matchID, txID, t, payload, l.clock.Now())
	if err != nil {
		return event.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return event.Event{}, mapError("committing event", err)
	}
	return e, nil
}

func (l *EventLog) ReadFrom(ctx context.Context, matchID, fromSeq int64) iter.Seq2[event.Event, error] {
	return event.Paged(ctx, fromSeq, l.pageSize, func(ctx context.Context, from int64, limit int) ([]event.Event, error) {
		var events []event.Event
		err := l.db.SelectContext(ctx, &events,
			`SELECT match_id, seq, tx_id, type, payload_jsonb, created_at
			 FROM match_events WHERE match_id = $1 AND seq >= $2
			 ORDER BY seq ASC LIMIT $3`, matchID, from, limit)
		if err != nil {
			return nil, fmt.Errorf("reading events (match=%d, from=%d): %w", matchID, from, err)
		}
		return events, nil
	})
}

func (l *EventLog) Load(ctx context.Context, matchID int64) ([]event.Event, error) {
	return event.Collect(l.ReadFrom(ctx, matchID, 1))
}

// appendEvent claims the next seq by bumping matches.last_seq, which also
// row-locks the match, then inserts the event. Both writes roll back
// together, so an aborted append never leaves a gap.
func appendEvent(ctx context.Context, tx *sqlx.Tx, matchID, txID int64, t event.Type, payload json.RawMessage, now time.Time) (event.Event, error) {
	e := event.Event{
		MatchID:   matchID,
		TxID:      txID,
		Type:      t,
		Payload:   payload,
		CreatedAt: now,
	}
	err := tx.QueryRowxContext(ctx,
		`UPDATE matches SET last_seq = last_seq + 1 WHERE id = $1 RETURNING last_seq`, matchID,
	).Scan(&e.Seq)
	if err != nil {
		if isNoRows(err) {
			return event.Event{}, store.NotFound("match", matchID)
		}
		return event.Event{}, mapError("claiming event seq", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO match_events (match_id, seq, tx_id, type, payload_jsonb, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.MatchID, e.Seq, e.TxID, e.Type, []byte(e.Payload), e.CreatedAt)
	if err != nil {
		return event.Event{}, mapError(fmt.Sprintf("inserting event (match=%d, seq=%d)", matchID, e.Seq), err)
	}
	return e, nil
}
