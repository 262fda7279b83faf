// Package api exposes the dispatcher over HTTP: synchronous job submission,
// the converter catalog, job history and a server-sent event stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/convoy/internal/converter"
	"github.com/mattjoyce/convoy/internal/dispatch"
	"github.com/mattjoyce/convoy/internal/events"
	"github.com/mattjoyce/convoy/internal/history"
	"github.com/mattjoyce/convoy/internal/job"
)

// Submitter runs a job to completion.
type Submitter interface {
	Submit(ctx context.Context, j *job.Job) (job.Result, error)
}

// StatsSource reports dispatcher counters.
type StatsSource interface {
	Stats() dispatch.Stats
}

// ConverterCatalog lists registered converters.
type ConverterCatalog interface {
	Describe() []converter.Info
}

// HistoryReader serves finished jobs.
type HistoryReader interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
	Get(ctx context.Context, jobID string) (history.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen            string
	MaxConcurrentSync int
	// MaxSyncTimeout caps the per-job timeout a client may request.
	MaxSyncTimeout time.Duration
	DefaultTimeout time.Duration
}

// Deps are the collaborators behind the handlers. History may be nil when
// job history is disabled.
type Deps struct {
	Submitter  Submitter
	Stats      StatsSource
	Converters ConverterCatalog
	History    HistoryReader
	Events     *events.Hub
}

// Server represents the HTTP API server
type Server struct {
	config        Config
	deps          Deps
	logger        *slog.Logger
	server        *http.Server
	startedAt     time.Time
	syncSemaphore chan struct{}
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if config.MaxConcurrentSync <= 0 {
		config.MaxConcurrentSync = 8
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if deps.Events == nil {
		deps.Events = events.NewHub(0)
	}
	return &Server{
		config:        config,
		deps:          deps,
		logger:        logger,
		startedAt:     time.Now(),
		syncSemaphore: make(chan struct{}, config.MaxConcurrentSync),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		// Conversions run inside the request; WriteTimeout stays unset so the
		// job timeout governs.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)
	r.Get("/converters", s.handleListConverters)
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleListJobs)
		r.Get("/{jobID}", s.handleGetJob)
	})
	r.Get("/events", s.handleEvents)

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
