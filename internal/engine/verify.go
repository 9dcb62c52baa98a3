package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/three-kingdoms/internal/match"
)

// Report is the outcome of replaying one match against its stored state.
type Report struct {
	MatchID   int64     `json:"matchId"`
	LastSeq   int64     `json:"lastSeq"`
	OK        bool      `json:"ok"`
	Diff      string    `json:"diff,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// replayCompare ignores what only the store maintains.
var replayCompare = cmp.Options{
	cmpopts.IgnoreFields(match.Header{}, "Version", "Audit"),
	cmpopts.IgnoreFields(match.Detail{}, "Audit"),
	cmpopts.IgnoreFields(match.KingdomInfo{}, "Audit"),
	cmpopts.IgnoreUnexported(match.Aggregate{}),
	cmpopts.EquateEmpty(),
}

// Verify replays the event log of a match and compares the result with the
// persisted state. A mismatch is reported, not returned as an error; a
// broken log surfaces as match.ErrCorruption.
func (s *Service) Verify(ctx context.Context, matchID int64) (Report, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Verify", trace.WithAttributes(attribute.Int64("match_id", matchID)))
	defer span.End()

	stored, err := s.matches.GetMatch(ctx, matchID)
	if err != nil {
		return Report{}, fail(span, err)
	}
	// Commands committed after the read above must not count as divergence.
	rebuilt, err := s.rebuild(ctx, matchID, stored.Header.LastSeq)
	if err != nil {
		if errors.Is(err, match.ErrNotFound) {
			// A stored match without events has lost its origin.
			err = match.Wrap(match.CodeCorruption, fmt.Sprintf("match %d has no events", matchID), err)
		}
		return Report{}, fail(span, err)
	}

	r := Report{
		MatchID:   matchID,
		LastSeq:   rebuilt.Header.LastSeq,
		CheckedAt: s.clock.Now(),
	}
	r.Diff = cmp.Diff(stored, rebuilt, replayCompare)
	r.OK = r.Diff == ""
	span.SetAttributes(attribute.Bool("ok", r.OK))
	if !r.OK {
		s.logger.ErrorContext(ctx, "replayed state differs from stored state",
			slog.Int64("match_id", matchID),
			slog.String("diff", r.Diff),
		)
	}
	return r, nil
}
