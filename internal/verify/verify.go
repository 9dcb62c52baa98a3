// Package verify periodically replays open matches and reports any whose
// event log no longer reproduces the stored state.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jensholdgaard/three-kingdoms/internal/config"
	"github.com/jensholdgaard/three-kingdoms/internal/engine"
	"github.com/jensholdgaard/three-kingdoms/internal/match"
	"github.com/jensholdgaard/three-kingdoms/internal/store"
)

// Verifier replays one match.
type Verifier interface {
	Verify(ctx context.Context, matchID int64) (engine.Report, error)
}

// Summary counts the outcome of one pass.
type Summary struct {
	Checked    int
	Mismatched int
	Corrupted  int
	Failed     int
}

// Runner verifies every IN_PROGRESS match on a fixed interval.
type Runner struct {
	matches     store.MatchReader
	verifier    Verifier
	interval    time.Duration
	concurrency int
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewRunner returns a Runner using the verify settings of cfg.
func NewRunner(matches store.MatchReader, verifier Verifier, cfg config.EngineConfig, logger *slog.Logger, tp trace.TracerProvider) *Runner {
	return &Runner{
		matches:     matches,
		verifier:    verifier,
		interval:    cfg.VerifyInterval,
		concurrency: max(cfg.VerifyConcurrency, 1),
		logger:      logger,
		tracer:      tp.Tracer("github.com/jensholdgaard/three-kingdoms/internal/verify"),
	}
}

// RunOnce verifies every open match. A failing match is logged and counted;
// only failing to list matches is returned as an error.
func (r *Runner) RunOnce(ctx context.Context) (Summary, error) {
	ctx, span := r.tracer.Start(ctx, "Runner.RunOnce")
	defer span.End()

	ids, err := r.matches.ListMatches(ctx, match.StatusInProgress)
	if err != nil {
		return Summary{}, fmt.Errorf("listing open matches: %w", err)
	}

	var (
		mu  sync.Mutex
		sum Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			report, err := r.verifier.Verify(gctx, id)

			mu.Lock()
			defer mu.Unlock()
			sum.Checked++
			switch {
			case errors.Is(err, match.ErrCorruption):
				sum.Corrupted++
				r.logger.ErrorContext(gctx, "match event log is corrupted",
					slog.Int64("match_id", id),
					slog.Any("error", err),
				)
			case err != nil:
				sum.Failed++
				r.logger.WarnContext(gctx, "failed to verify match",
					slog.Int64("match_id", id),
					slog.Any("error", err),
				)
			case !report.OK:
				sum.Mismatched++
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("checked", sum.Checked),
		attribute.Int("mismatched", sum.Mismatched),
		attribute.Int("corrupted", sum.Corrupted),
	)
	r.logger.InfoContext(ctx, "match verification complete",
		slog.Int("checked", sum.Checked),
		slog.Int("mismatched", sum.Mismatched),
		slog.Int("corrupted", sum.Corrupted),
		slog.Int("failed", sum.Failed),
	)
	return sum, nil
}

// Run verifies once immediately and then every interval until ctx is done.
// A non-positive interval runs a single pass.
func (r *Runner) Run(ctx context.Context) error {
	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.ErrorContext(ctx, "match verification failed", slog.Any("error", err))
	}
	if r.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "match verification failed", slog.Any("error", err))
			}
		}
	}
}
