// Package memory is an in-process store driver. Units of work run one at a
// time against a private copy of the state, which replaces the committed
// state only when the work succeeds.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/jensholdgaard/three-kingdoms/internal/clock"
	"github.com/jensholdgaard/three-kingdoms/internal/config"
	"github.com/jensholdgaard/three-kingdoms/internal/event"
	"github.com/jensholdgaard/three-kingdoms/internal/match"
	"github.com/jensholdgaard/three-kingdoms/internal/store"
)

func init() {
	store.Register("memory", func(_ context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
		return New(clk, cfg.EventPageSize).Repositories(), nil
	})
}

type txKey struct {
	matchID int64
	key     string
}

type state struct {
	nextMatchID, nextTxID, nextRoomID, nextUserID int64

	matches map[int64]*match.Aggregate
	events  map[int64][]event.Event
	txs     map[int64]store.Transaction
	keys    map[txKey]int64
	rooms   map[int64]store.Room
	users   map[int64]store.User
}

func newState() *state {
	return &state{
		matches: make(map[int64]*match.Aggregate),
		events:  make(map[int64][]event.Event),
		txs:     make(map[int64]store.Transaction),
		keys:    make(map[txKey]int64),
		rooms:   make(map[int64]store.Room),
		users:   make(map[int64]store.User),
	}
}

// fork copies the maps of s. Stored aggregates are never mutated in place
// and event slices are clipped, so sharing their contents is safe.
func (s *state) fork() *state {
	c := *s
	c.matches = maps.Clone(s.matches)
	c.events = make(map[int64][]event.Event, len(s.events))
	for id, evs := range s.events {
		c.events[id] = slices.Clip(evs)
	}
	c.txs = maps.Clone(s.txs)
	c.keys = maps.Clone(s.keys)
	c.rooms = maps.Clone(s.rooms)
	c.users = maps.Clone(s.users)
	return &c
}

// Store holds every repository of the memory driver.
type Store struct {
	clock    clock.Clock
	pageSize int

	writeMu sync.Mutex // held for the whole of a unit of work
	mu      sync.RWMutex
	st      *state
}

// New returns an empty Store. A pageSize <= 0 selects event.DefaultPageSize.
func New(clk clock.Clock, pageSize int) *Store {
	return &Store{clock: clk, pageSize: pageSize, st: newState()}
}

// Repositories exposes s through the store interfaces.
func (s *Store) Repositories() *store.Repositories {
	return &store.Repositories{
		Matches:    s,
		Events:     s,
		Ledger:     s,
		Rooms:      roomRepo{s},
		Users:      userRepo{s},
		UnitOfWork: s,
		Closer:     store.CloserFunc(func() error { return nil }),
		Ping:       func(context.Context) error { return nil },
	}
}

func (s *Store) committed() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

// Within runs fn against a fork of the committed state. Units of work are
// serialized, so LockMatch never waits.
func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.update(ctx, func(st *state) error {
		return fn(ctx, &txView{st: st, clock: s.clock})
	})
}

func (s *Store) update(ctx context.Context, fn func(st *state) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.committed().fork()
	if err := fn(work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = work
	s.mu.Unlock()
	return nil
}

func (s *Store) GetMatch(_ context.Context, id int64) (*match.Aggregate, error) {
	a, ok := s.committed().matches[id]
	if !ok || a.Kingdoms == nil {
		return nil, store.NotFound("match", id)
	}
	return a.Clone(), nil
}

func (s *Store) ListMatches(_ context.Context, status match.Status) ([]int64, error) {
	var ids []int64
	for id, a := range s.committed().matches {
		if a.Header.Status == status {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) Append(ctx context.Context, matchID, txID int64, t event.Type, payload json.RawMessage) (event.Event, error) {
	var e event.Event
	err := s.Within(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		e, err = tx.AppendEvent(ctx, matchID, txID, t, payload)
		return err
	})
	return e, err
}

func (s *Store) ReadFrom(ctx context.Context, matchID, fromSeq int64) iter.Seq2[event.Event, error] {
	return event.Paged(ctx, fromSeq, s.pageSize, func(ctx context.Context, from int64, limit int) ([]event.Event, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		evs := s.committed().events[matchID]
		// Seqs are contiguous from 1, so seq n lives at index n-1.
		start := int(from - 1)
		if start >= len(evs) {
			return nil, nil
		}
		end := min(start+limit, len(evs))
		return slices.Clone(evs[start:end]), nil
	})
}

func (s *Store) Load(ctx context.Context, matchID int64) ([]event.Event, error) {
	return event.Collect(s.ReadFrom(ctx, matchID, 1))
}

func (s *Store) Record(ctx context.Context, t *store.Transaction) error {
	// A duplicate is reported without writing anything, so the error is
	// returned after the unit of work has been discarded.
	return s.Within(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Record(ctx, t)
	})
}

func (s *Store) Lookup(_ context.Context, matchID int64, key string) (*store.Transaction, error) {
	return lookup(s.committed(), matchID, key)
}

type roomRepo struct{ s *Store }

func (r roomRepo) Create(ctx context.Context, room *store.Room) error {
	return r.s.update(ctx, func(st *state) error {
		st.nextRoomID++
		room.ID = st.nextRoomID
		room.CreatedAt = r.s.clock.Now()
		if room.Status == "" {
			room.Status = "OPENING"
		}
		cp := *room
		cp.Members = slices.Clone(room.Members)
		slices.Sort(cp.Members)
		st.rooms[room.ID] = cp
		return nil
	})
}

func (r roomRepo) GetRoom(_ context.Context, id int64) (*store.Room, error) {
	room, ok := r.s.committed().rooms[id]
	if !ok {
		return nil, store.NotFound("room", id)
	}
	room.Members = slices.Clone(room.Members)
	return &room, nil
}

type userRepo struct{ s *Store }

func (r userRepo) Create(ctx context.Context, u *store.User) error {
	return r.s.update(ctx, func(st *state) error {
		st.nextUserID++
		u.ID = st.nextUserID
		u.CreatedAt = r.s.clock.Now()
		st.users[u.ID] = *u
		return nil
	})
}

func (r userRepo) GetUser(_ context.Context, id int64) (*store.User, error) {
	u, ok := r.s.committed().users[id]
	if !ok {
		return nil, store.NotFound("user", id)
	}
	return &u, nil
}

func lookup(st *state, matchID int64, key string) (*store.Transaction, error) {
	id, ok := st.keys[txKey{matchID, key}]
	if !ok {
		return nil, store.NotFound("transaction", key)
	}
	t := st.txs[id]
	return &t, nil
}

// txView is the store.Tx bound to one forked state.
type txView struct {
	st    *state
	clock clock.Clock
}

func (v *txView) CreateHeader(_ context.Context, h *match.Header) error {
	if _, ok := v.st.rooms[h.RoomID]; !ok {
		return store.NotFound("room", h.RoomID)
	}
	now := v.clock.Now()
	v.st.nextMatchID++
	h.ID = v.st.nextMatchID
	h.Version = 1
	h.CreatedAt, h.UpdatedAt = now, now
	hc := *h
	hc.ActivePlayers = slices.Clone(h.ActivePlayers)
	v.st.matches[h.ID] = &match.Aggregate{Header: hc}
	return nil
}

func (v *txView) CreateState(_ context.Context, a *match.Aggregate) error {
	stored, ok := v.st.matches[a.Header.ID]
	if !ok {
		return store.NotFound("match", a.Header.ID)
	}
	if stored.Kingdoms != nil {
		return fmt.Errorf("match %d already has state", a.Header.ID)
	}
	now := v.clock.Now()
	a.Detail.CreatedAt, a.Detail.UpdatedAt = now, now
	for _, ki := range a.Kingdoms {
		ki.CreatedAt, ki.UpdatedAt = now, now
	}
	c := a.Clone()
	c.Header = stored.Header
	v.st.matches[a.Header.ID] = c
	return nil
}

func (v *txView) LockMatch(_ context.Context, id int64) (*match.Aggregate, error) {
	a, ok := v.st.matches[id]
	if !ok || a.Kingdoms == nil {
		return nil, store.NotFound("match", id)
	}
	return a.Clone(), nil
}

func (v *txView) SaveMatch(_ context.Context, a *match.Aggregate) error {
	h := &a.Header
	stored, ok := v.st.matches[h.ID]
	if !ok {
		return store.NotFound("match", h.ID)
	}
	if stored.Header.Version != h.Version {
		return store.Conflict(fmt.Sprintf("saving match %d at version %d", h.ID, h.Version), nil)
	}
	now := v.clock.Now()
	h.Version++
	h.UpdatedAt = now
	a.Detail.UpdatedAt = now
	for _, ki := range a.Kingdoms {
		ki.UpdatedAt = now
	}

	c := a.Clone()
	c.Header.LastSeq = stored.Header.LastSeq
	v.st.matches[h.ID] = c
	return nil
}

func (v *txView) AppendEvent(_ context.Context, matchID, txID int64, t event.Type, payload json.RawMessage) (event.Event, error) {
	stored, ok := v.st.matches[matchID]
	if !ok {
		return event.Event{}, store.NotFound("match", matchID)
	}
	tx, ok := v.st.txs[txID]
	if !ok || tx.MatchID != matchID {
		return event.Event{}, fmt.Errorf("appending event: transaction %d does not belong to match %d", txID, matchID)
	}

	c := *stored
	c.Header.LastSeq++
	v.st.matches[matchID] = &c

	e := event.Event{
		MatchID:   matchID,
		Seq:       c.Header.LastSeq,
		TxID:      txID,
		Type:      t,
		Payload:   slices.Clone(payload),
		CreatedAt: v.clock.Now(),
	}
	v.st.events[matchID] = append(v.st.events[matchID], e)
	if tx.Seq == 0 {
		tx.Seq = e.Seq
		v.st.txs[txID] = tx
	}
	return e, nil
}

func (v *txView) Record(_ context.Context, t *store.Transaction) error {
	if _, ok := v.st.matches[t.MatchID]; !ok {
		return store.NotFound("match", t.MatchID)
	}
	if t.IdempotencyKey != nil {
		if existing, err := lookup(v.st, t.MatchID, *t.IdempotencyKey); err == nil {
			*t = *existing
			return match.Errorf(match.CodeDuplicateCommand, "command %q already applied to match %d as tx %d", t.Key(), t.MatchID, t.TxID)
		}
	}
	v.st.nextTxID++
	t.TxID = v.st.nextTxID
	t.Seq = 0
	t.CreatedAt = v.clock.Now()

	cp := *t
	cp.Result = slices.Clone(t.Result)
	if t.IdempotencyKey != nil {
		key := *t.IdempotencyKey
		cp.IdempotencyKey = &key
		v.st.keys[txKey{t.MatchID, key}] = t.TxID
	}
	v.st.txs[t.TxID] = cp
	return nil
}

func (v *txView) Lookup(_ context.Context, matchID int64, key string) (*store.Transaction, error) {
	return lookup(v.st, matchID, key)
}
