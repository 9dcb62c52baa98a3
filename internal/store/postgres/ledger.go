package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/three-kingdoms/internal/clock"
	"github.com/jensholdgaard/three-kingdoms/internal/match"
	"github.com/jensholdgaard/three-kingdoms/internal/store"
)

// Ledger implements store.Ledger backed by the match_event_tx table.
type Ledger struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewLedger returns a new Ledger.
func NewLedger(db *sqlx.DB, clk clock.Clock) *Ledger {
	return &Ledger{db: db, clock: clk}
}

func (l *Ledger) Record(ctx context.Context, t *store.Transaction) error {
	return recordTransaction(ctx, l.db, t, l.clock.Now())
}

func (l *Ledger) Lookup(ctx context.Context, matchID int64, key string) (*store.Transaction, error) {
	return lookupTransaction(ctx, l.db, matchID, key)
}

// recordTransaction inserts t. The unique (match_id, idempotency_key)
// constraint is the duplicate check: a conflicting insert returns no row and
// the existing entry is loaded instead.
func recordTransaction(ctx context.Context, q sqlx.ExtContext, t *store.Transaction, now time.Time) error {
	t.CreatedAt = now
	err := sqlx.GetContext(ctx, q, &t.TxID,
		`INSERT INTO match_event_tx (match_id, command_type, actor_kingdom, round_number, phase,
		 idempotency_key, result_jsonb, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (match_id, idempotency_key) DO NOTHING
		 RETURNING tx_id`,
		t.MatchID, t.CommandType, t.ActorKingdom, t.RoundNumber, t.Phase,
		t.IdempotencyKey, []byte(t.Result), t.CreatedAt,
	)
	if err == nil {
		return nil
	}
	if !isNoRows(err) {
		return mapError("recording transaction", err)
	}

	existing, err := lookupTransaction(ctx, q, t.MatchID, t.Key())
	if err != nil {
		return fmt.Errorf("loading duplicate transaction: %w", err)
	}
	*t = *existing
	return match.Errorf(match.CodeDuplicateCommand, "command %q already applied to match %d as tx %d", t.Key(), t.MatchID, t.TxID)
}

func lookupTransaction(ctx context.Context, q sqlx.QueryerContext, matchID int64, key string) (*store.Transaction, error) {
	var t store.Transaction
	err := sqlx.GetContext(ctx, q, &t,
		`SELECT t.tx_id, t.match_id, t.command_type, t.actor_kingdom, t.round_number, t.phase,
		 t.idempotency_key, t.result_jsonb, t.created_at,
		 COALESCE((SELECT MIN(e.seq) FROM match_events e
		           WHERE e.match_id = t.match_id AND e.tx_id = t.tx_id), 0) AS seq
		 FROM match_event_tx t
		 WHERE t.match_id = $1 AND t.idempotency_key = $2`, matchID, key)
	if err != nil {
		if isNoRows(err) {
			return nil, store.NotFound("transaction", key)
		}
		return nil, fmt.Errorf("looking up transaction: %w", err)
	}
	return &t, nil
}
