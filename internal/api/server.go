package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/feedpoller/internal/metrics"
	"github.com/JakeFAU/feedpoller/internal/poller"
)

const requestTimeout = 30 * time.Second

// RunTracker remembers the most recent run summary. It is safe for
// concurrent use.
type RunTracker struct {
	mu       sync.RWMutex
	summary  poller.RunSummary
	finished time.Time
	ok       bool
}

// NewRunTracker returns an empty tracker.
func NewRunTracker() *RunTracker {
	return &RunTracker{}
}

// Record stores summary as the latest run.
func (t *RunTracker) Record(summary poller.RunSummary, finishedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary = summary
	t.finished = finishedAt
	t.ok = true
}

// Latest returns the last recorded summary and whether one exists.
func (t *RunTracker) Latest() (poller.RunSummary, time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.summary, t.finished, t.ok
}

// Server wires operator handlers onto a chi router.
type Server struct {
	router chi.Router
	runs   *RunTracker
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runs *RunTracker, logger *zap.Logger) *Server {
	if runs == nil {
		runs = NewRunTracker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runs:   runs,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/v1/runs/latest", s.latestRun)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown %s: %w", addr, err)
		}
		return nil
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type runResponse struct {
	RunID         string    `json:"run_id"`
	Total         int       `json:"total"`
	Updated       int       `json:"updated"`
	NotUpdated    int       `json:"not_updated"`
	Failed        int       `json:"failed"`
	WriteFailures int       `json:"write_failures"`
	Skipped       int       `json:"skipped"`
	DurationMS    int64     `json:"duration_ms"`
	FinishedAt    time.Time `json:"finished_at"`
}

func (s *Server) latestRun(w http.ResponseWriter, _ *http.Request) {
	summary, finished, ok := s.runs.Latest()
	if !ok {
		s.writeError(w, http.StatusNotFound, "no run has completed yet")
		return
	}
	s.writeJSON(w, http.StatusOK, runResponse{
		RunID:         summary.RunID,
		Total:         summary.Total,
		Updated:       summary.Updated,
		NotUpdated:    summary.NotUpdated,
		Failed:        summary.Failed,
		WriteFailures: summary.WriteFailures,
		Skipped:       summary.Skipped,
		DurationMS:    summary.Duration.Milliseconds(),
		FinishedAt:    finished.UTC(),
	})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", requestID(r.Context())),
					zap.Any("panic", rec),
				)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
