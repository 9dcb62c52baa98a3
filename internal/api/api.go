// Package api exposes the match engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/jensholdgaard/three-kingdoms/internal/config"
	"github.com/jensholdgaard/three-kingdoms/internal/engine"
	"github.com/jensholdgaard/three-kingdoms/internal/event"
	"github.com/jensholdgaard/three-kingdoms/internal/health"
	"github.com/jensholdgaard/three-kingdoms/internal/match"
)

const (
	defaultEventLimit = 256
	maxEventLimit     = 1000
	maxBodyBytes      = 1 << 16
)

// Engine is the part of engine.Service served over HTTP.
type Engine interface {
	InitMatch(ctx context.Context, roomID, weiPlayerID, shuPlayerID, wuPlayerID int64) (match.Snapshot, error)
	SubmitCommand(ctx context.Context, matchID int64, actor match.Kingdom, cmd match.Command, key string) (engine.Result, error)
	Snapshot(ctx context.Context, matchID int64) (match.Snapshot, error)
	ReadEvents(ctx context.Context, matchID, fromSeq int64) iter.Seq2[event.Event, error]
	Verify(ctx context.Context, matchID int64) (engine.Report, error)
}

// Handler serves the match routes.
type Handler struct {
	engine Engine
	logger *slog.Logger
}

// NewRouter returns the HTTP handler with every route, request ids and CORS.
// hh may be nil when health endpoints are served elsewhere.
func NewRouter(e Engine, hh *health.Handler, cfg config.ServerConfig, logger *slog.Logger) http.Handler {
	h := &Handler{engine: e, logger: logger}

	r := mux.NewRouter()
	if hh != nil {
		hh.Register(r)
	}
	m := r.PathPrefix("/matches").Subrouter()
	m.HandleFunc("", h.createMatch).Methods(http.MethodPost)
	m.HandleFunc("/{id:[0-9]+}", h.getMatch).Methods(http.MethodGet)
	m.HandleFunc("/{id:[0-9]+}/commands", h.submitCommand).Methods(http.MethodPost)
	m.HandleFunc("/{id:[0-9]+}/events", h.listEvents).Methods(http.MethodGet)
	m.HandleFunc("/{id:[0-9]+}/verify", h.verifyMatch).Methods(http.MethodPost)
	r.Use(RequestID(logger))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Idempotency-Key", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
	})
	return c.Handler(r)
}

// CreateMatchRequest is the body of POST /matches.
type CreateMatchRequest struct {
	RoomID      int64 `json:"roomId"`
	WeiPlayerID int64 `json:"weiPlayerId"`
	ShuPlayerID int64 `json:"shuPlayerId"`
	WuPlayerID  int64 `json:"wuPlayerId"`
}

// CommandRequest is the body of POST /matches/{id}/commands. The
// Idempotency-Key header takes precedence over IdempotencyKey.
type CommandRequest struct {
	Actor          string `json:"actor"`
	Type           string `json:"type"`
	Resource       string `json:"resource,omitempty"`
	Amount         int    `json:"amount,omitempty"`
	Color          string `json:"color,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// EventsResponse is a page of the event log.
type EventsResponse struct {
	Events []event.Event `json:"events"`
	// Next is the seq to request for the following page, 0 when exhausted.
	Next int64 `json:"next"`
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error code and message.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

func (h *Handler) createMatch(w http.ResponseWriter, r *http.Request) {
	var req CreateMatchRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	snap, err := h.engine.InitMatch(r.Context(), req.RoomID, req.WeiPlayerID, req.ShuPlayerID, req.WuPlayerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/matches/%d", snap.ID))
	writeJSON(w, http.StatusCreated, snap)
}

func (h *Handler) getMatch(w http.ResponseWriter, r *http.Request) {
	id, err := matchID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	snap, err := h.engine.Snapshot(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) submitCommand(w http.ResponseWriter, r *http.Request) {
	id, err := matchID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req CommandRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	actor, err := match.ParseKingdom(req.Actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = req.IdempotencyKey
	}
	cmd := match.Command{
		Type:     match.CommandType(req.Type),
		Resource: match.Resource(req.Resource),
		Amount:   req.Amount,
		Color:    match.CardColor(req.Color),
	}
	res, err := h.engine.SubmitCommand(r.Context(), id, actor, cmd, key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	id, err := matchID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	from, err := queryInt(r, "from", 1)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultEventLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit = min(max(limit, 1), maxEventLimit)

	resp := EventsResponse{Events: []event.Event{}}
	for e, err := range h.engine.ReadEvents(r.Context(), id, from) {
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if int64(len(resp.Events)) == limit {
			resp.Next = e.Seq
			break
		}
		resp.Events = append(resp.Events, e)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) verifyMatch(w http.ResponseWriter, r *http.Request) {
	id, err := matchID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	report, err := h.engine.Verify(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func matchID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, match.Errorf(match.CodeInvalidArgument, "invalid match id %q", mux.Vars(r)["id"])
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int64) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, match.Errorf(match.CodeInvalidArgument, "invalid %s %q", name, v)
	}
	return n, nil
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return match.Wrap(match.CodeInvalidArgument, "invalid request body", err)
	}
	return nil
}

// StatusOf maps an engine error to an HTTP status.
func StatusOf(err error) int {
	switch match.CodeOf(err) {
	case match.CodeNotFound:
		return http.StatusNotFound
	case match.CodeInvalidArgument:
		return http.StatusBadRequest
	case match.CodeNotYourTurn:
		return http.StatusConflict
	case match.CodeInsufficientResource:
		return http.StatusUnprocessableEntity
	case match.CodeConcurrencyConflict:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusOf(err)
	detail := ErrorDetail{
		Code:      string(match.CodeOf(err)),
		Message:   err.Error(),
		RequestID: GetRequestID(r.Context()),
	}
	if code >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", detail.RequestID),
			slog.Any("error", err),
		)
		if detail.Code == "" {
			detail.Code = "INTERNAL"
			detail.Message = http.StatusText(code)
		}
	}
	writeJSON(w, code, ErrorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
