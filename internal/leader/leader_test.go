package leader

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/jensholdgaard/three-kingdoms/internal/config"
)

func TestIdentity_FromPodName(t *testing.T) {
	t.Setenv("POD_NAME", "tkserver-abc123")
	if got := identity(); got != "tkserver-abc123" {
		t.Errorf("identity() = %q, want %q", got, "tkserver-abc123")
	}
}

func TestIdentity_Hostname(t *testing.T) {
	t.Setenv("POD_NAME", "")
	host, err := os.Hostname()
	if err != nil {
		t.Skip("cannot get hostname")
	}
	if got := identity(); got != host {
		t.Errorf("identity() = %q, want %q", got, host)
	}
}

func TestRun_DisabledLeadsImmediately(t *testing.T) {
	var started, stopped bool
	err := Run(context.Background(), config.LeaderElectionConfig{Enabled: false}, slog.Default(),
		func(ctx context.Context) { started = true },
		func() {
			if !started {
				t.Error("stopped before started")
			}
			stopped = true
		},
	)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !started || !stopped {
		t.Errorf("started=%v stopped=%v, want both", started, stopped)
	}
}

func TestRun_RequiresLease(t *testing.T) {
	called := false
	err := Run(context.Background(), config.LeaderElectionConfig{Enabled: true}, slog.Default(),
		func(ctx context.Context) { called = true },
		func() {},
	)
	if err == nil {
		t.Fatal("expected error for missing lease name")
	}
	if called {
		t.Error("onStartedLeading ran without a lease")
	}
}
