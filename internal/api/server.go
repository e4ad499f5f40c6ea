package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/vessel/internal/events"
	"github.com/mattjoyce/vessel/internal/journal"
	"github.com/mattjoyce/vessel/internal/metrics"
	"github.com/mattjoyce/vessel/internal/service"
)

// StatsSource reports the host's request counters.
type StatsSource interface {
	Stats(ctx context.Context) (service.Stats, error)
}

// ResultStore reads the result journal.
type ResultStore interface {
	List(ctx context.Context, sessionID string, limit int) ([]journal.Entry, error)
	Summarize(ctx context.Context, sessionID string) (journal.Summary, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// SessionID is the session /results reports when none is asked for.
	SessionID string
}

// Server is the local status API of a host session.
type Server struct {
	config    Config
	stats     StatsSource
	results   ResultStore
	events    *events.Hub
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. results, hub and m may be nil;
// their endpoints then answer 503.
func New(config Config, stats StatsSource, results ResultStore, hub *events.Hub, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		stats:     stats,
		results:   results,
		events:    hub,
		metrics:   m,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start serves until ctx is done (blocking).
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // /events streams
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/stats", s.handleStats)
	r.Get("/results", s.handleResults)
	r.Get("/events", s.handleEvents)
	r.Get("/metrics", s.handleMetrics)

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
