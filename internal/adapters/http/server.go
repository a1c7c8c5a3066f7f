// Package http exposes the session and flow surfaces over chi.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/convoflow/convoflow/internal/fanout"
	"github.com/convoflow/convoflow/internal/flow"
	"github.com/convoflow/convoflow/pkg/domain"
	"github.com/convoflow/convoflow/pkg/ports"
)

// Engine is the orchestrator surface the HTTP adapter drives.
type Engine interface {
	CreateSession(ctx context.Context, sessionID string, cfg *domain.FlowConfig) (*domain.SessionState, error)
	ProcessUserInput(ctx context.Context, sessionID, text string) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// Server wires the engine, the store's read side, the fan-out hub and
// the flow repository into one router.
type Server struct {
	engine  Engine
	store   ports.SessionStore
	flows   ports.FlowRepository
	hub     *fanout.Hub
	logger  *slog.Logger
	started time.Time

	corsOrigin string
}

// Option configures the server.
type Option func(*Server)

// WithCORS allows the given origin on every response.
func WithCORS(origin string) Option {
	return func(s *Server) { s.corsOrigin = origin }
}

// NewHandler builds the HTTP handler.
func NewHandler(engine Engine, store ports.SessionStore, flows ports.FlowRepository, hub *fanout.Hub, logger *slog.Logger, opts ...Option) http.Handler {
	s := &Server{
		engine:  engine,
		store:   store,
		flows:   flows,
		hub:     hub,
		logger:  logger,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	if s.corsOrigin != "" {
		r.Use(s.cors)
	}

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)
		r.Post("/demo", s.createDemoSession)
		r.Get("/{id}", s.getSession)
		r.Post("/{id}/input", s.postInput)
		r.Post("/{id}/frames", s.postFrame)
		r.Get("/{id}/events", s.getEvents)
		r.Get("/{id}/stream", s.streamEvents)
		r.Delete("/{id}", s.deleteSession)
	})
	r.Route("/api/flows", func(r chi.Router) {
		r.Get("/", s.listFlows)
		r.Post("/", s.createFlow)
		r.Get("/info", s.flowInfo)
		r.Post("/validate", s.validateFlow)
		r.Get("/{id}", s.getFlow)
		r.Put("/{id}", s.updateFlow)
		r.Delete("/{id}", s.deleteFlow)
		r.Post("/{id}/publish", s.publishFlow)
		r.Get("/{id}/versions", s.flowVersions)
	})
	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type createSessionRequest struct {
	SessionID string         `json:"session_id"`
	Flow      map[string]any `json:"flow"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Flow) == 0 {
		writeError(w, http.StatusBadRequest, "flow definition is required")
		return
	}

	cfg, result, err := flow.Parse(body.Flow)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !result.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": result.Errors})
		return
	}

	sessionID := body.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if _, err := s.engine.CreateSession(r.Context(), sessionID, cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session_id": sessionID})
}

func (s *Server) createDemoSession(w http.ResponseWriter, r *http.Request) {
	cfg := flow.ReservationFlow()
	sessionID := uuid.NewString()
	if _, err := s.engine.CreateSession(r.Context(), sessionID, cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": sessionID,
		"flow_name":  cfg.Meta.Name,
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.LoadState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type inputRequest struct {
	Text string `json:"text"`
}

func (s *Server) postInput(w http.ResponseWriter, r *http.Request) {
	var body inputRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	s.processInput(w, r, chi.URLParam(r, "id"), body.Text)
}

type frameRequest struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Digits string `json:"digits,omitempty"`
}

// postFrame accepts client frames. DTMF digits enter the session as
// plain input text; unknown frame kinds are answered with an error body
// and otherwise ignored.
func (s *Server) postFrame(w http.ResponseWriter, r *http.Request) {
	var body frameRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid frame")
		return
	}
	sessionID := chi.URLParam(r, "id")

	switch body.Type {
	case "user.text":
		if body.Text == "" {
			writeError(w, http.StatusBadRequest, "text is required")
			return
		}
		s.processInput(w, r, sessionID, body.Text)
	case "user.dtmf":
		if body.Digits == "" {
			writeError(w, http.StatusBadRequest, "digits is required")
			return
		}
		s.processInput(w, r, sessionID, body.Digits)
	case "client.cancel":
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown frame type %q", body.Type))
	}
}

func (s *Server) processInput(w http.ResponseWriter, r *http.Request, sessionID, text string) {
	if err := s.engine.ProcessUserInput(r.Context(), sessionID, text); err != nil {
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, domain.ErrLockHeld):
			writeError(w, http.StatusConflict, "session is busy, retry")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an integer")
			return
		}
		since = parsed
	}

	sessionID := chi.URLParam(r, "id")
	if _, err := s.store.LoadState(r.Context(), sessionID); err != nil {
		writeStoreError(w, err)
		return
	}
	events, err := s.store.EventsSince(r.Context(), sessionID, since)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// streamEvents serves the live observer feed over SSE. The synthetic
// session.started arrives first; clients that also catch up through
// /events de-duplicate by seq.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sessionID := chi.URLParam(r, "id")
	if _, err := s.store.LoadState(r.Context(), sessionID); err != nil {
		writeStoreError(w, err)
		return
	}

	observer, err := s.hub.Attach(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer observer.Detach()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-observer.C:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("encoding stream event", "session", sessionID, "err", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
		"uptime":    time.Since(s.started).String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
