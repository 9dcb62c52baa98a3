package memory_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jensholdgaard/three-kingdoms/internal/clock"
	"github.com/jensholdgaard/three-kingdoms/internal/event"
	"github.com/jensholdgaard/three-kingdoms/internal/match"
	"github.com/jensholdgaard/three-kingdoms/internal/store"
	"github.com/jensholdgaard/three-kingdoms/internal/store/memory"
)

func newRepos() *store.Repositories {
	clk := &clock.Step{T: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC), Interval: time.Millisecond}
	return memory.New(clk, 2).Repositories()
}

func seedMatch(t *testing.T, repos *store.Repositories) (int64, int64) {
	t.Helper()
	ctx := context.Background()

	var ids []int64
	for _, name := range []string{"cao", "liu", "sun"} {
		u := &store.User{Username: name}
		if err := repos.Users.Create(ctx, u); err != nil {
			t.Fatalf("creating user: %v", err)
		}
		ids = append(ids, u.ID)
	}
	room := &store.Room{OwnerID: ids[0], Members: ids}
	if err := repos.Rooms.Create(ctx, room); err != nil {
		t.Fatalf("creating room: %v", err)
	}

	var matchID, txID int64
	err := repos.UnitOfWork.Within(ctx, func(ctx context.Context, tx store.Tx) error {
		h := match.NewHeader(room.ID, ids[0], ids[1], ids[2])
		if err := tx.CreateHeader(ctx, &h); err != nil {
			return err
		}
		b, err := match.BuildFor(h)
		if err != nil {
			return err
		}
		a, err := match.NewAggregate(h, b)
		if err != nil {
			return err
		}
		if err := tx.CreateState(ctx, a); err != nil {
			return err
		}
		entry := &store.Transaction{
			MatchID:      h.ID,
			CommandType:  string(match.CommandInitMatch),
			ActorKingdom: string(match.Wei),
			RoundNumber:  1,
			Phase:        string(match.PhaseRecruit),
			Result:       json.RawMessage(`{}`),
		}
		if err := tx.Record(ctx, entry); err != nil {
			return err
		}
		matchID, txID = h.ID, entry.TxID
		return nil
	})
	if err != nil {
		t.Fatalf("seeding match: %v", err)
	}
	return matchID, txID
}

func TestStore_AppendAndReadPaged(t *testing.T) {
	repos := newRepos()
	ctx := context.Background()
	matchID, txID := seedMatch(t, repos)

	for i := 1; i <= 5; i++ {
		e, err := repos.Events.Append(ctx, matchID, txID, event.ResourceGained, json.RawMessage(`{}`))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if e.Seq != int64(i) {
			t.Errorf("seq = %d, want %d", e.Seq, i)
		}
	}

	tests := []struct {
		name string
		from int64
		want []int64
	}{
		{name: "from start", from: 1, want: []int64{1, 2, 3, 4, 5}},
		{name: "zero means start", from: 0, want: []int64{1, 2, 3, 4, 5}},
		{name: "middle", from: 3, want: []int64{3, 4, 5}},
		{name: "last", from: 5, want: []int64{5}},
		{name: "past end", from: 6, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := event.Collect(repos.Events.ReadFrom(ctx, matchID, tt.from))
			if err != nil {
				t.Fatalf("ReadFrom: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d events, want %d", len(got), len(tt.want))
			}
			for i, e := range got {
				if e.Seq != tt.want[i] {
					t.Errorf("event[%d].Seq = %d, want %d", i, e.Seq, tt.want[i])
				}
			}
		})
	}

	a, err := repos.Matches.GetMatch(ctx, matchID)
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if a.Header.LastSeq != 5 {
		t.Errorf("LastSeq = %d, want 5", a.Header.LastSeq)
	}
}

func TestStore_ReadFromIsRestartable(t *testing.T) {
	repos := newRepos()
	ctx := context.Background()
	matchID, txID := seedMatch(t, repos)
	for range 3 {
		if _, err := repos.Events.Append(ctx, matchID, txID, event.ResourceGained, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	seq := repos.Events.ReadFrom(ctx, matchID, 1)
	first, _ := event.Collect(seq)
	second, _ := event.Collect(seq)
	if len(first) != 3 || len(second) != 3 {
		t.Errorf("iterations returned %d and %d events, want 3 and 3", len(first), len(second))
	}
}

func TestStore_RollbackDiscardsEverything(t *testing.T) {
	repos := newRepos()
	ctx := context.Background()
	matchID, txID := seedMatch(t, repos)

	boom := errors.New("abort")
	err := repos.UnitOfWork.Within(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.LockMatch(ctx, matchID)
		if err != nil {
			return err
		}
		if err := a.Execute(match.Wei, match.Command{Type: match.CommandGainResource, Resource: match.ResourceGold, Amount: 10}); err != nil {
			return err
		}
		if err := tx.SaveMatch(ctx, a); err != nil {
			return err
		}
		if _, err := tx.AppendEvent(ctx, matchID, txID, event.ResourceGained, json.RawMessage(`{}`)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Within error = %v, want %v", err, boom)
	}

	a, err := repos.Matches.GetMatch(ctx, matchID)
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if a.Kingdom(match.Wei).Gold != 0 || a.Header.Version != 1 || a.Header.LastSeq != 0 {
		t.Errorf("state leaked from rolled back work: gold=%d version=%d lastSeq=%d",
			a.Kingdom(match.Wei).Gold, a.Header.Version, a.Header.LastSeq)
	}
	e, err := repos.Events.Append(ctx, matchID, txID, event.ResourceGained, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e.Seq != 1 {
		t.Errorf("seq after rollback = %d, want 1", e.Seq)
	}
}

func TestStore_ConcurrentAppends(t *testing.T) {
	repos := newRepos()
	ctx := context.Background()
	matchID, txID := seedMatch(t, repos)

	const n = 50
	var g errgroup.Group
	for range n {
		g.Go(func() error {
			_, err := repos.Events.Append(ctx, matchID, txID, event.ResourceGained, json.RawMessage(`{}`))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Append: %v", err)
	}

	all, err := repos.Events.Load(ctx, matchID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(all) != n {
		t.Fatalf("got %d events, want %d", len(all), n)
	}
	for i, e := range all {
		if e.Seq != int64(i+1) {
			t.Fatalf("event[%d].Seq = %d, want %d", i, e.Seq, i+1)
		}
	}
}

func TestStore_SaveMatchVersionCheck(t *testing.T) {
	repos := newRepos()
	ctx := context.Background()
	matchID, _ := seedMatch(t, repos)

	stale, err := repos.Matches.GetMatch(ctx, matchID)
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	err = repos.UnitOfWork.Within(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.LockMatch(ctx, matchID)
		if err != nil {
			return err
		}
		return tx.SaveMatch(ctx, a)
	})
	if err != nil {
		t.Fatalf("SaveMatch: %v", err)
	}

	err = repos.UnitOfWork.Within(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SaveMatch(ctx, stale)
	})
	if !errors.Is(err, match.ErrConcurrencyConflict) {
		t.Fatalf("stale SaveMatch error = %v, want ErrConcurrencyConflict", err)
	}
}

func TestStore_LedgerIdempotency(t *testing.T) {
	repos := newRepos()
	ctx := context.Background()
	matchID, seedTx := seedMatch(t, repos)

	key := "abc"
	first := &store.Transaction{MatchID: matchID, CommandType: "gain_resource", IdempotencyKey: &key, Result: json.RawMessage(`{"n":1}`)}
	if err := repos.Ledger.Record(ctx, first); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if first.TxID <= seedTx {
		t.Errorf("TxID = %d, want > %d", first.TxID, seedTx)
	}

	again := &store.Transaction{MatchID: matchID, CommandType: "gain_resource", IdempotencyKey: &key, Result: json.RawMessage(`{"n":2}`)}
	err := repos.Ledger.Record(ctx, again)
	if !errors.Is(err, match.ErrDuplicateCommand) {
		t.Fatalf("Record error = %v, want ErrDuplicateCommand", err)
	}
	if again.TxID != first.TxID || string(again.Result) != `{"n":1}` {
		t.Errorf("duplicate = %+v, want tx %d with the first result", again, first.TxID)
	}

	got, err := repos.Ledger.Lookup(ctx, matchID, key)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.TxID != first.TxID {
		t.Errorf("Lookup TxID = %d, want %d", got.TxID, first.TxID)
	}
	if _, err := repos.Ledger.Lookup(ctx, matchID, "nope"); !errors.Is(err, match.ErrNotFound) {
		t.Errorf("Lookup(nope) error = %v, want ErrNotFound", err)
	}
}

func TestStore_NotFound(t *testing.T) {
	repos := newRepos()
	ctx := context.Background()

	if _, err := repos.Matches.GetMatch(ctx, 1); !errors.Is(err, match.ErrNotFound) {
		t.Errorf("GetMatch error = %v, want ErrNotFound", err)
	}
	if _, err := repos.Rooms.GetRoom(ctx, 1); !errors.Is(err, match.ErrNotFound) {
		t.Errorf("GetRoom error = %v, want ErrNotFound", err)
	}
	if _, err := repos.Users.GetUser(ctx, 1); !errors.Is(err, match.ErrNotFound) {
		t.Errorf("GetUser error = %v, want ErrNotFound", err)
	}
	if _, err := repos.Events.Append(ctx, 1, 1, event.ResourceGained, nil); !errors.Is(err, match.ErrNotFound) {
		t.Errorf("Append error = %v, want ErrNotFound", err)
	}
}

func TestStore_ListMatches(t *testing.T) {
	repos := newRepos()
	ctx := context.Background()
	first, _ := seedMatch(t, repos)
	second, _ := seedMatch(t, repos)

	err := repos.UnitOfWork.Within(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.LockMatch(ctx, second)
		if err != nil {
			return err
		}
		if err := a.Execute(match.Wei, match.Command{Type: match.CommandFinishMatch}); err != nil {
			return err
		}
		return tx.SaveMatch(ctx, a)
	})
	if err != nil {
		t.Fatalf("finishing match: %v", err)
	}

	ids, err := repos.Matches.ListMatches(ctx, match.StatusInProgress)
	if err != nil {
		t.Fatalf("ListMatches: %v", err)
	}
	if len(ids) != 1 || ids[0] != first {
		t.Errorf("ListMatches(IN_PROGRESS) = %v, want [%d]", ids, first)
	}
}
