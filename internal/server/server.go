// Package server is the HTTP boundary: it exposes the chat endpoint that
// streams orchestrator events as server-sent events, the session lifecycle
// endpoints (reset, regenerate, snapshots), and the metrics handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aide-chat/aide/internal/conversation"
	"github.com/aide-chat/aide/internal/orchestrator"
	"github.com/aide-chat/aide/pkg/models"
)

// Server wires the orchestrator, session store, and snapshot archive behind
// an HTTP mux.
type Server struct {
	store   *conversation.Store
	archive *conversation.Archive
	orch    *orchestrator.Orchestrator
	logger  *slog.Logger
	mux     *http.ServeMux
}

// New builds the server. archive may be nil, which disables the snapshot
// endpoints.
func New(store *conversation.Store, archive *conversation.Archive, orch *orchestrator.Orchestrator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:   store,
		archive: archive,
		orch:    orch,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("POST /api/sessions/{id}/reset", s.handleReset)
	s.mux.HandleFunc("POST /api/sessions/{id}/regenerate", s.handleRegenerate)
	s.mux.HandleFunc("GET /api/sessions/{id}/snapshots", s.handleListSnapshots)
	s.mux.HandleFunc("POST /api/sessions/{id}/snapshots/{name}", s.handleSaveSnapshot)
	s.mux.HandleFunc("POST /api/sessions/{id}/snapshots/{name}/load", s.handleLoadSnapshot)
	s.mux.HandleFunc("DELETE /api/sessions/{id}/snapshots/{name}", s.handleDeleteSnapshot)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe runs the server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// streamEvents writes the orchestrator event stream as server-sent events,
// flushing after each frame so tokens reach the client immediately.
func (s *Server) streamEvents(w http.ResponseWriter, events <-chan models.StreamEvent) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	for ev := range events {
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, ev.Data())
		if canFlush {
			flusher.Flush()
		}
	}
}

func (s *Server) beginTurn(w http.ResponseWriter, sessionID string) (*conversation.State, func(), bool) {
	state, release, err := s.store.Begin(sessionID)
	if err != nil {
		if errors.Is(err, conversation.ErrTurnInFlight) {
			httpError(w, http.StatusConflict, "a turn is already in flight for this session")
		} else {
			httpError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, nil, false
	}
	return state, release, true
}
