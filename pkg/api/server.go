// Package api exposes the task submission and query surface over HTTP.
// Submission is accepted synchronously; completion is observed by polling
// or through the subscription transport.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/chainsentry/chainsentry/pkg/duration"
	"github.com/chainsentry/chainsentry/pkg/jsonutil"
	"github.com/chainsentry/chainsentry/pkg/store"
	"github.com/chainsentry/chainsentry/pkg/task"
)

// Pipeline is the engine surface the API consumes.
type Pipeline interface {
	Submit(ctx context.Context, kind string, params map[string]any) (*task.Task, error)
	Get(id string) (*task.Task, error)
	History(limit int) []*task.Task
}

// Server serves the submission/query API.
type Server struct {
	pipeline Pipeline
	logger   *slog.Logger
	start    time.Time
	srv      *http.Server
}

// NewServer creates an API server over the given pipeline.
func NewServer(p Pipeline, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		pipeline: p,
		logger:   logger,
		start:    time.Now(),
	}
}

// Handler returns the route tree, also used directly by tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/tasks", s.handleSubmit)
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.handleGet)
	mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Start begins serving on addr. Returns once the listener goroutine is
// launched; serve errors are logged.
func (s *Server) Start(addr string) {
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  duration.HTTPRead,
		WriteTimeout: duration.HTTPWrite,
	}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server stopped", "error", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

type submitRequest struct {
	Kind   string         `json:"kind"`
	Params map[string]any `json:"params"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	var req submitRequest
	if err := jsonutil.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.Kind == "" {
		writeError(w, http.StatusBadRequest, "kind is required")
		return
	}

	snapshot, err := s.pipeline.Submit(r.Context(), req.Kind, req.Params)
	if err != nil {
		var verr *task.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.logger.Error("submit failed", "kind", req.Kind, "error", err)
		writeError(w, http.StatusInternalServerError, "submission failed")
		return
	}

	writeJSON(w, http.StatusAccepted, snapshot)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.pipeline.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": s.pipeline.History(limit),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.start).Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := jsonutil.Marshal(v)
	if err != nil {
		http.Error(w, "encoding failure", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
