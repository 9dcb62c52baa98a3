// Package engine runs match commands against the store: one unit of work
// per command, idempotency through the ledger and bounded retry on
// concurrency conflicts.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/three-kingdoms/internal/clock"
	"github.com/jensholdgaard/three-kingdoms/internal/config"
	"github.com/jensholdgaard/three-kingdoms/internal/event"
	"github.com/jensholdgaard/three-kingdoms/internal/match"
	"github.com/jensholdgaard/three-kingdoms/internal/store"
	"github.com/jensholdgaard/three-kingdoms/internal/telemetry"
)

const instrumentation = "github.com/jensholdgaard/three-kingdoms/internal/engine"

// MaxKeyLength is the longest idempotency key the ledger stores, in bytes.
const MaxKeyLength = 64

// Result is the outcome of a submitted command.
type Result struct {
	Snapshot match.Snapshot `json:"snapshot"`
	TxID     int64          `json:"txId"`
	// Seq is the seq of the event written for the command.
	Seq int64 `json:"seq"`
	// Duplicate is set when the key had already been applied and the stored
	// result is returned instead.
	Duplicate bool `json:"duplicate"`
}

// Service is the match state machine.
type Service struct {
	uow     store.UnitOfWork
	matches store.MatchReader
	events  event.Log
	rooms   store.RoomLoader
	users   store.UserLoader
	cfg     config.EngineConfig
	clock   clock.Clock
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics metrics
}

type metrics struct {
	accepted  metric.Int64Counter
	rejected  metric.Int64Counter
	duplicate metric.Int64Counter
	retried   metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (metrics, error) {
	meter := mp.Meter(instrumentation)
	var (
		m   metrics
		err error
	)
	if m.accepted, err = meter.Int64Counter("tk.commands.accepted",
		metric.WithDescription("Commands applied to a match.")); err != nil {
		return m, err
	}
	if m.rejected, err = meter.Int64Counter("tk.commands.rejected",
		metric.WithDescription("Commands rejected by a guard or the store.")); err != nil {
		return m, err
	}
	if m.duplicate, err = meter.Int64Counter("tk.commands.duplicate",
		metric.WithDescription("Commands answered from the ledger.")); err != nil {
		return m, err
	}
	if m.retried, err = meter.Int64Counter("tk.commands.retried",
		metric.WithDescription("Command attempts retried after a concurrency conflict.")); err != nil {
		return m, err
	}
	return m, nil
}

// NewService returns a Service over repos.
func NewService(repos *store.Repositories, cfg config.EngineConfig, clk clock.Clock, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider) (*Service, error) {
	m, err := newMetrics(mp)
	if err != nil {
		return nil, fmt.Errorf("creating engine metrics: %w", err)
	}
	return &Service{
		uow:     repos.UnitOfWork,
		matches: repos.Matches,
		events:  repos.Events,
		rooms:   repos.Rooms,
		users:   repos.Users,
		cfg:     cfg,
		clock:   clk,
		logger:  logger,
		tracer:  tp.Tracer(instrumentation),
		metrics: m,
	}, nil
}

// InitMatch creates a match for the room with the three seated players and
// records its match.initialized event at seq 1.
func (s *Service) InitMatch(ctx context.Context, roomID, weiPlayerID, shuPlayerID, wuPlayerID int64) (match.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "Service.InitMatch",
		trace.WithAttributes(
			attribute.Int64("room_id", roomID),
			attribute.Int64("wei_player_id", weiPlayerID),
			attribute.Int64("shu_player_id", shuPlayerID),
			attribute.Int64("wu_player_id", wuPlayerID),
		),
	)
	defer span.End()

	if _, err := s.rooms.GetRoom(ctx, roomID); err != nil {
		return match.Snapshot{}, fail(span, loadError("Room", err))
	}
	seated := []int64{weiPlayerID, shuPlayerID, wuPlayerID}
	for i, id := range seated {
		for _, other := range seated[:i] {
			if id == other {
				return match.Snapshot{}, fail(span, match.Errorf(match.CodeInvalidArgument, "player %d is seated twice", id))
			}
		}
		if _, err := s.users.GetUser(ctx, id); err != nil {
			return match.Snapshot{}, fail(span, loadError("User", err))
		}
	}

	var snap match.Snapshot
	err := s.uow.Within(ctx, func(ctx context.Context, tx store.Tx) error {
		h := match.NewHeader(roomID, weiPlayerID, shuPlayerID, wuPlayerID)
		if err := tx.CreateHeader(ctx, &h); err != nil {
			return fmt.Errorf("creating match header: %w", err)
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
			return fmt.Errorf("creating match state: %w", err)
		}

		a.Header.LastSeq = 1
		snap = a.Snapshot()
		result, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("encoding snapshot: %w", err)
		}
		entry := &store.Transaction{
			MatchID:      h.ID,
			CommandType:  string(match.CommandInitMatch),
			ActorKingdom: string(match.Wei),
			RoundNumber:  a.Detail.RoundNumber,
			Phase:        string(a.Detail.Phase),
			Result:       result,
		}
		if err := tx.Record(ctx, entry); err != nil {
			return fmt.Errorf("recording init transaction: %w", err)
		}

		payload, err := json.Marshal(event.InitializedData{
			RoomID:        roomID,
			WeiPlayerID:   weiPlayerID,
			ShuPlayerID:   shuPlayerID,
			WuPlayerID:    wuPlayerID,
			ActivePlayers: h.ActivePlayers,
		})
		if err != nil {
			return fmt.Errorf("encoding init payload: %w", err)
		}
		e, err := tx.AppendEvent(ctx, h.ID, entry.TxID, event.MatchInitialized, payload)
		if err != nil {
			return fmt.Errorf("appending init event: %w", err)
		}
		if e.Seq != 1 {
			return match.Errorf(match.CodeCorruption, "match %d: init event got seq %d", h.ID, e.Seq)
		}
		return nil
	})
	if err != nil {
		return match.Snapshot{}, fail(span, err)
	}

	span.SetAttributes(attribute.Int64("match_id", snap.ID))
	telemetry.LogWithTrace(ctx, s.logger).InfoContext(ctx, "match initialized",
		slog.Int64("match_id", snap.ID),
		slog.Int64("room_id", roomID),
	)
	return snap, nil
}

// SubmitCommand applies cmd for actor to the match. A non-empty key makes
// the call idempotent: resubmitting it returns the first result with
// Duplicate set and changes nothing. Concurrency conflicts are retried up
// to the configured limit with the same key.
func (s *Service) SubmitCommand(ctx context.Context, matchID int64, actor match.Kingdom, cmd match.Command, key string) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "Service.SubmitCommand",
		trace.WithAttributes(
			attribute.Int64("match_id", matchID),
			attribute.String("actor", string(actor)),
			attribute.String("command", string(cmd.Type)),
			attribute.String("idempotency_key", key),
		),
	)
	defer span.End()
	attrs := metric.WithAttributes(attribute.String("command", string(cmd.Type)))

	if len(key) > MaxKeyLength {
		err := match.Errorf(match.CodeInvalidArgument, "idempotency key is %d bytes, max %d", len(key), MaxKeyLength)
		s.metrics.rejected.Add(ctx, 1, metric.WithAttributes(
			attribute.String("command", string(cmd.Type)),
			attribute.String("code", string(match.CodeInvalidArgument)),
		))
		return Result{}, fail(span, err)
	}

	b := backoff.NewExponentialBackOff()
	if s.cfg.RetryBaseDelay > 0 {
		b.InitialInterval = s.cfg.RetryBaseDelay
	}
	b.MaxInterval = 20 * b.InitialInterval

	res, err := backoff.Retry(ctx, func() (Result, error) {
		res, err := s.submitOnce(ctx, matchID, actor, cmd, key)
		if err != nil && !errors.Is(err, match.ErrConcurrencyConflict) {
			return res, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(max(s.cfg.MaxRetries, 0)+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.metrics.retried.Add(ctx, 1, attrs)
			s.logger.WarnContext(ctx, "retrying command after conflict",
				slog.Int64("match_id", matchID),
				slog.String("command", string(cmd.Type)),
				slog.Duration("backoff", next),
				slog.Any("error", err),
			)
		}),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if err != nil {
		s.metrics.rejected.Add(ctx, 1, metric.WithAttributes(
			attribute.String("command", string(cmd.Type)),
			attribute.String("code", string(match.CodeOf(err))),
		))
		return Result{}, fail(span, err)
	}

	span.SetAttributes(attribute.Int64("tx_id", res.TxID), attribute.Int64("seq", res.Seq))
	if res.Duplicate {
		s.metrics.duplicate.Add(ctx, 1, attrs)
		telemetry.LogWithTrace(ctx, s.logger).InfoContext(ctx, "duplicate command answered from ledger",
			slog.Int64("match_id", matchID),
			slog.String("key", key),
			slog.Int64("tx_id", res.TxID),
		)
		return res, nil
	}
	s.metrics.accepted.Add(ctx, 1, attrs)
	telemetry.LogWithTrace(ctx, s.logger).InfoContext(ctx, "command applied",
		slog.Int64("match_id", matchID),
		slog.String("actor", string(actor)),
		slog.String("command", string(cmd.Type)),
		slog.Int64("tx_id", res.TxID),
		slog.Int64("seq", res.Seq),
	)
	return res, nil
}

// submitOnce is one attempt of SubmitCommand inside a single unit of work.
func (s *Service) submitOnce(ctx context.Context, matchID int64, actor match.Kingdom, cmd match.Command, key string) (Result, error) {
	var res Result
	err := s.uow.Within(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.LockMatch(ctx, matchID)
		if err != nil {
			return err
		}

		if key != "" {
			prior, err := tx.Lookup(ctx, matchID, key)
			switch {
			case err == nil:
				res, err = duplicateResult(prior)
				return err
			case !errors.Is(err, match.ErrNotFound):
				return fmt.Errorf("looking up idempotency key: %w", err)
			}
		}

		if err := a.Execute(actor, cmd); err != nil {
			return err
		}
		pending := a.PendingEvents()
		firstSeq := a.Header.LastSeq + 1
		a.Header.LastSeq += int64(len(pending))

		snap := a.Snapshot()
		result, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("encoding snapshot: %w", err)
		}
		entry := &store.Transaction{
			MatchID:        matchID,
			CommandType:    string(cmd.Type),
			ActorKingdom:   string(actor),
			RoundNumber:    a.Detail.RoundNumber,
			Phase:          string(a.Detail.Phase),
			IdempotencyKey: keyPtr(key),
			Result:         result,
		}
		if err := tx.Record(ctx, entry); err != nil {
			if errors.Is(err, match.ErrDuplicateCommand) {
				// Lost a race with the same key between Lookup and Record.
				res, err = duplicateResult(entry)
				return err
			}
			return fmt.Errorf("recording transaction: %w", err)
		}

		for i, pe := range pending {
			e, err := tx.AppendEvent(ctx, matchID, entry.TxID, pe.Type, pe.Payload)
			if err != nil {
				return fmt.Errorf("appending %s event: %w", pe.Type, err)
			}
			if want := firstSeq + int64(i); e.Seq != want {
				return store.Conflict(fmt.Sprintf("appending to match %d: got seq %d, want %d", matchID, e.Seq, want), nil)
			}
		}
		if err := tx.SaveMatch(ctx, a); err != nil {
			return err
		}

		res = Result{Snapshot: snap, TxID: entry.TxID, Seq: firstSeq}
		return nil
	})
	return res, err
}

func duplicateResult(t *store.Transaction) (Result, error) {
	res := Result{TxID: t.TxID, Seq: t.Seq, Duplicate: true}
	if err := json.Unmarshal(t.Result, &res.Snapshot); err != nil {
		return Result{}, fmt.Errorf("decoding stored result of tx %d: %w", t.TxID, err)
	}
	return res, nil
}

func keyPtr(key string) *string {
	if key == "" {
		return nil
	}
	return &key
}

// Finish ends the match on actor's turn.
func (s *Service) Finish(ctx context.Context, matchID int64, actor match.Kingdom, key string) (Result, error) {
	return s.SubmitCommand(ctx, matchID, actor, match.Command{Type: match.CommandFinishMatch}, key)
}

// Abandon ends the match regardless of whose turn it is.
func (s *Service) Abandon(ctx context.Context, matchID int64, actor match.Kingdom, key string) (Result, error) {
	return s.SubmitCommand(ctx, matchID, actor, match.Command{Type: match.CommandAbandonMatch}, key)
}

// Snapshot returns the persisted state of a match.
func (s *Service) Snapshot(ctx context.Context, matchID int64) (match.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Snapshot", trace.WithAttributes(attribute.Int64("match_id", matchID)))
	defer span.End()

	a, err := s.matches.GetMatch(ctx, matchID)
	if err != nil {
		return match.Snapshot{}, fail(span, err)
	}
	return a.Snapshot(), nil
}

// ReadEvents streams the events of a match starting at fromSeq.
func (s *Service) ReadEvents(ctx context.Context, matchID, fromSeq int64) iter.Seq2[event.Event, error] {
	return s.events.ReadFrom(ctx, matchID, fromSeq)
}

// Rebuild reconstructs a match from its event log alone.
func (s *Service) Rebuild(ctx context.Context, matchID int64) (*match.Aggregate, error) {
	return s.rebuild(ctx, matchID, math.MaxInt64)
}

func (s *Service) rebuild(ctx context.Context, matchID, upTo int64) (*match.Aggregate, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Rebuild", trace.WithAttributes(
		attribute.Int64("match_id", matchID),
		attribute.Int64("up_to", upTo),
	))
	defer span.End()

	a, err := match.ReplayTo(s.events.ReadFrom(ctx, matchID, 1), upTo)
	if err != nil {
		if errors.Is(err, match.ErrCorruption) {
			s.logger.ErrorContext(ctx, "event log corrupted",
				slog.Int64("match_id", matchID),
				slog.Any("error", err),
			)
		}
		return nil, fail(span, fmt.Errorf("rebuilding match %d: %w", matchID, err))
	}
	return a, nil
}

// loadError reports a missing collaborator as "<what> not found".
func loadError(what string, err error) error {
	if errors.Is(err, match.ErrNotFound) {
		return match.Wrap(match.CodeNotFound, what+" not found", err)
	}
	return fmt.Errorf("loading %s: %w", what, err)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
