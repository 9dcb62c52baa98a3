package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/three-kingdoms/internal/clock"
	"github.com/jensholdgaard/three-kingdoms/internal/event"
	"github.com/jensholdgaard/three-kingdoms/internal/match"
	"github.com/jensholdgaard/three-kingdoms/internal/store"
)

// UnitOfWork implements store.UnitOfWork with one Postgres transaction per call.
type UnitOfWork struct {
	db          *sqlx.DB
	clock       clock.Clock
	lockTimeout time.Duration
}

// NewUnitOfWork returns a new UnitOfWork. A positive lockTimeout bounds how
// long row locks are waited for before the transaction fails with a conflict.
func NewUnitOfWork(db *sqlx.DB, clk clock.Clock, lockTimeout time.Duration) *UnitOfWork {
	return &UnitOfWork{db: db, clock: clk, lockTimeout: lockTimeout}
}

func (u *UnitOfWork) Within(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if u.lockTimeout > 0 {
		ms := fmt.Sprintf("%dms", u.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
			return fmt.Errorf("setting lock timeout: %w", err)
		}
	}

	if err := fn(ctx, &txRepo{tx: tx, clock: u.clock}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError("committing transaction", err)
	}
	return nil
}

// txRepo is the store.Tx bound to one open transaction.
type txRepo struct {
	tx    *sqlx.Tx
	clock clock.Clock
}

func (r *txRepo) CreateHeader(ctx context.Context, h *match.Header) error {
	return createHeader(ctx, r.tx, h, r.clock.Now())
}

func (r *txRepo) CreateState(ctx context.Context, a *match.Aggregate) error {
	return createState(ctx, r.tx, a, r.clock.Now())
}

func (r *txRepo) LockMatch(ctx context.Context, id int64) (*match.Aggregate, error) {
	return loadMatch(ctx, r.tx, id, true)
}

func (r *txRepo) SaveMatch(ctx context.Context, a *match.Aggregate) error {
	return saveMatch(ctx, r.tx, a, r.clock.Now())
}

func (r *txRepo) AppendEvent(ctx context.Context, matchID, txID int64, t event.Type, payload json.RawMessage) (event.Event, error) {
	return appendEvent(ctx, r.tx, matchID, txID, t, payload, r.clock.Now())
}

func (r *txRepo) Record(ctx context.Context, t *store.Transaction) error {
	return recordTransaction(ctx, r.tx, t, r.clock.Now())
}

func (r *txRepo) Lookup(ctx context.Context, matchID int64, key string) (*store.Transaction, error) {
	return lookupTransaction(ctx, r.tx, matchID, key)
}
