package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jensholdgaard/three-kingdoms/internal/clock"
	"github.com/jensholdgaard/three-kingdoms/internal/config"
	"github.com/jensholdgaard/three-kingdoms/internal/match"
	"github.com/jensholdgaard/three-kingdoms/internal/store"
	"github.com/jensholdgaard/three-kingdoms/internal/store/postgres"
)

// newTestDB starts a Postgres container, applies the migrations, and returns
// a connected *sqlx.DB. The container is automatically terminated when the
// test ends.
func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("tk_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := postgres.Migrate(ctx, db); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	return db
}

var testClk = clock.Mock{T: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}

func newTestRepos(t *testing.T) *store.Repositories {
	t.Helper()
	cfg := config.DatabaseConfig{LockTimeout: 2 * time.Second, EventPageSize: 2}
	return postgres.NewRepositories(newTestDB(t), cfg, testClk)
}

// seedMatch creates three users, a room and an initialized match, and
// returns the match id.
func seedMatch(t *testing.T, repos *store.Repositories) int64 {
	t.Helper()
	ctx := context.Background()

	var ids []int64
	for _, name := range []string{"cao", "liu", "sun"} {
		u := &store.User{Username: name + time.Now().Format("150405.000000000")}
		if err := repos.Users.Create(ctx, u); err != nil {
			t.Fatalf("creating user: %v", err)
		}
		ids = append(ids, u.ID)
	}
	room := &store.Room{OwnerID: ids[0], Members: ids}
	if err := repos.Rooms.Create(ctx, room); err != nil {
		t.Fatalf("creating room: %v", err)
	}

	var matchID int64
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
		matchID = h.ID
		return tx.CreateState(ctx, a)
	})
	if err != nil {
		t.Fatalf("seeding match: %v", err)
	}
	return matchID
}
