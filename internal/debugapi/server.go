// Package debugapi exposes conversation state and metrics over HTTP for
// operators. It is meant to listen on a loopback address only.
package debugapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/scalytics/parley/internal/metrics"
	"github.com/scalytics/parley/internal/session"
)

// Server serves the debug routes.
type Server struct {
	store   *session.Store
	metrics *metrics.Metrics
	router  *mux.Router
	logger  *slog.Logger
	started time.Time
}

// New creates a Server and registers its routes.
func New(store *session.Store, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:   store,
		metrics: m,
		router:  mux.NewRouter(),
		logger:  logger.With("component", "debugapi"),
		started: time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	s.router.HandleFunc("/threads", s.listThreads).Methods(http.MethodGet)
	s.router.HandleFunc("/threads/{id}", s.getThread).Methods(http.MethodGet)
	s.router.HandleFunc("/threads/{id}", s.clearThread).Methods(http.MethodDelete)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Debug API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type threadSummary struct {
	Participant string    `json:"participant"`
	Messages    int       `json:"messages"`
	Capacity    int       `json:"capacity"`
	LastMessage time.Time `json:"last_message,omitempty"`
}

type threadDetail struct {
	Participant string            `json:"participant"`
	Messages    []session.Message `json:"messages"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"assistant":   s.store.AssistantID(),
		"threads":     len(s.store.Participants()),
		"uptime_secs": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) listThreads(w http.ResponseWriter, _ *http.Request) {
	ids := s.store.Participants()
	out := make([]threadSummary, 0, len(ids))
	for _, id := range ids {
		th, ok := s.store.Thread(id)
		if !ok {
			continue
		}
		sum := threadSummary{Participant: id, Messages: th.Len(), Capacity: th.Capacity()}
		if last := th.Recent(1); len(last) == 1 {
			sum.LastMessage = last[0].Timestamp
		}
		out = append(out, sum)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getThread(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	th, ok := s.store.Thread(id)
	if !ok {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, threadDetail{Participant: id, Messages: th.Messages()})
}

func (s *Server) clearThread(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.store.Thread(id); !ok {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	cleared := s.store.Clear(id)
	s.logger.Info("Thread cleared via debug API", "participant", id, "cleared", cleared)
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": cleared})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
