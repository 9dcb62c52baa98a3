package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/three-kingdoms/internal/clock"
	"github.com/jensholdgaard/three-kingdoms/internal/store"
)

// RoomRepo implements store.RoomRepository with sqlx.
type RoomRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewRoomRepo returns a new RoomRepo.
func NewRoomRepo(db *sqlx.DB, clk clock.Clock) *RoomRepo {
	return &RoomRepo{db: db, clock: clk}
}

func (r *RoomRepo) Create(ctx context.Context, room *store.Room) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	room.CreatedAt = r.clock.Now()
	if room.Status == "" {
		room.Status = "OPENING"
	}
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO rooms (owner_id, status, created_at) VALUES ($1, $2, $3) RETURNING id`,
		room.OwnerID, room.Status, room.CreatedAt,
	).Scan(&room.ID)
	if err != nil {
		return fmt.Errorf("inserting room: %w", err)
	}
	for _, uid := range room.Members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)`, room.ID, uid); err != nil {
			return fmt.Errorf("adding room member %d: %w", uid, err)
		}
	}
	return tx.Commit()
}

func (r *RoomRepo) GetRoom(ctx context.Context, id int64) (*store.Room, error) {
	var room store.Room
	err := r.db.GetContext(ctx, &room, `SELECT id, owner_id, status, created_at FROM rooms WHERE id = $1`, id)
	if err != nil {
		if isNoRows(err) {
			return nil, store.NotFound("room", id)
		}
		return nil, fmt.Errorf("getting room: %w", err)
	}
	if err := r.db.SelectContext(ctx, &room.Members,
		`SELECT user_id FROM room_members WHERE room_id = $1 ORDER BY user_id`, id); err != nil {
		return nil, fmt.Errorf("listing room members: %w", err)
	}
	return &room, nil
}

// UserRepo implements store.UserRepository with sqlx.
type UserRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewUserRepo returns a new UserRepo.
func NewUserRepo(db *sqlx.DB, clk clock.Clock) *UserRepo {
	return &UserRepo{db: db, clock: clk}
}

func (r *UserRepo) Create(ctx context.Context, u *store.User) error {
	u.CreatedAt = r.clock.Now()
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO users (username, created_at) VALUES ($1, $2) RETURNING id`,
		u.Username, u.CreatedAt,
	).Scan(&u.ID)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetUser(ctx context.Context, id int64) (*store.User, error) {
	var u store.User
	if err := r.db.GetContext(ctx, &u, `SELECT id, username, created_at FROM users WHERE id = $1`, id); err != nil {
		if isNoRows(err) {
			return nil, store.NotFound("user", id)
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &u, nil
}
