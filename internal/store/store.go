package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jensholdgaard/three-kingdoms/internal/event"
	"github.com/jensholdgaard/three-kingdoms/internal/match"
)

// Room is a lobby owned by the room subsystem. It is read-only here.
type Room struct {
	ID        int64     `db:"id"`
	OwnerID   int64     `db:"owner_id"`
	Status    string    `db:"status"` // "OPENING", "PLAYING", "DONE"
	Members   []int64   `db:"-"`
	CreatedAt time.Time `db:"created_at"`
}

// User is a registered account owned by the user subsystem.
type User struct {
	ID        int64     `db:"id"`
	Username  string    `db:"username"`
	CreatedAt time.Time `db:"created_at"`
}

// Transaction is one accepted command in the ledger. TxID is assigned by
// the store and grows monotonically across all matches.
type Transaction struct {
	TxID           int64   `db:"tx_id"`
	MatchID        int64   `db:"match_id"`
	CommandType    string  `db:"command_type"`
	ActorKingdom   string  `db:"actor_kingdom"`
	RoundNumber    int     `db:"round_number"`
	Phase          string  `db:"phase"`
	IdempotencyKey *string `db:"idempotency_key"`
	// Result is the snapshot returned to the client that submitted the command.
	Result json.RawMessage `db:"result_jsonb"`
	// Seq is the seq of the event written by this transaction, 0 if none.
	Seq       int64     `db:"seq"`
	CreatedAt time.Time `db:"created_at"`
}

// Key returns the idempotency key or "".
func (t *Transaction) Key() string {
	if t.IdempotencyKey == nil {
		return ""
	}
	return *t.IdempotencyKey
}

// RoomLoader reads rooms by id.
type RoomLoader interface {
	GetRoom(ctx context.Context, id int64) (*Room, error)
}

// UserLoader reads users by id.
type UserLoader interface {
	GetUser(ctx context.Context, id int64) (*User, error)
}

// RoomRepository adds the writes used by fixtures and the lobby bridge.
type RoomRepository interface {
	RoomLoader
	Create(ctx context.Context, r *Room) error
}

// UserRepository adds the writes used by fixtures and the lobby bridge.
type UserRepository interface {
	UserLoader
	Create(ctx context.Context, u *User) error
}

// Ledger records accepted commands.
type Ledger interface {
	// Record stores t and sets its TxID. When t carries a key already used
	// for the same match, t is overwritten with the existing row and the
	// error is match.ErrDuplicateCommand.
	Record(ctx context.Context, t *Transaction) error
	// Lookup returns the transaction for (matchID, key) or match.ErrNotFound.
	Lookup(ctx context.Context, matchID int64, key string) (*Transaction, error)
}

// MatchReader reads persisted match state without taking locks.
type MatchReader interface {
	GetMatch(ctx context.Context, id int64) (*match.Aggregate, error)
	ListMatches(ctx context.Context, status match.Status) ([]int64, error)
}

// Tx is the set of writes available inside a unit of work. Everything done
// through a Tx commits or rolls back together.
type Tx interface {
	Ledger
	// CreateHeader inserts h and sets its ID, Version and audit fields.
	CreateHeader(ctx context.Context, h *match.Header) error
	// CreateState inserts the detail and kingdom sheets of a.
	CreateState(ctx context.Context, a *match.Aggregate) error
	// LockMatch loads a match and holds it exclusively until the unit of
	// work ends. Returns match.ErrNotFound when absent.
	LockMatch(ctx context.Context, id int64) (*match.Aggregate, error)
	// SaveMatch writes a back if its version is unchanged since loading and
	// bumps the version. Returns match.ErrConcurrencyConflict otherwise.
	SaveMatch(ctx context.Context, a *match.Aggregate) error
	// AppendEvent appends one event at the next seq of matchID.
	AppendEvent(ctx context.Context, matchID, txID int64, t event.Type, payload json.RawMessage) (event.Event, error)
}

// UnitOfWork runs fn inside a single transaction. The transaction commits
// only if fn returns nil and is rolled back on every other path.
type UnitOfWork interface {
	Within(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// NotFound builds a match.ErrNotFound error for a missing entity.
func NotFound(what string, id any) error {
	return match.Errorf(match.CodeNotFound, "%s %v not found", what, id)
}

// Conflict wraps cause as a match.ErrConcurrencyConflict.
func Conflict(op string, cause error) error {
	return match.Wrap(match.CodeConcurrencyConflict, fmt.Sprintf("%s: concurrent modification", op), cause)
}
