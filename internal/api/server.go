package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"github.com/mattjoyce/launchpad/internal/events"
	"github.com/mattjoyce/launchpad/internal/job"
)

// JobService is the asynchronous job surface the API exposes.
type JobService interface {
	Submit(d job.Descriptor) (job.Job, error)
	Get(id string) (job.Job, error)
	List() []job.Job
	Delete(id string) error
}

// Config holds API server configuration
type Config struct {
	Listen string
	// ServiceName is reported by /health.
	ServiceName string
	// APIKey, when set, is required as a bearer token on every route except /health.
	APIKey string
	// CORSOrigins lists allowed browser origins. Empty allows any origin.
	CORSOrigins []string
	// MaxBodyBytes caps POST /crawl bodies.
	MaxBodyBytes int64
	// SubmitRate limits POST /crawl to this many jobs per second across all
	// clients. Zero disables the limit.
	SubmitRate  float64
	SubmitBurst int
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	jobs      JobService
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	now       func() time.Time
	submits   *rate.Limiter

	// closing is closed on shutdown so open event streams end.
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a new API server. hub may be nil, in which case /events is not routed.
func New(config Config, jobs JobService, hub *events.Hub, logger *slog.Logger) *Server {
	if config.ServiceName == "" {
		config.ServiceName = "launchpad"
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	var submits *rate.Limiter
	if config.SubmitRate > 0 {
		if config.SubmitBurst <= 0 {
			config.SubmitBurst = 1
		}
		submits = rate.NewLimiter(rate.Limit(config.SubmitRate), config.SubmitBurst)
	}
	return &Server{
		config:    config,
		submits:   submits,
		jobs:      jobs,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
		now:       func() time.Time { return time.Now().UTC() },
		closing:   make(chan struct{}),
	}
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: /events streams for as long as the client stays.
	}
	s.server.RegisterOnShutdown(func() {
		s.closeOnce.Do(func() { close(s.closing) })
	})

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.corsHandler().Handler)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.config.APIKey != "" {
			r.Use(s.authMiddleware)
		}
		r.With(s.submitLimitMiddleware).Post("/crawl", s.handleCrawl)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Delete("/jobs/{jobID}", s.handleDeleteJob)
		if s.events != nil {
			r.Get("/events", s.handleEvents)
		}
	})

	return r
}

func (s *Server) corsHandler() *cors.Cors {
	origins := s.config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
		MaxAge:         300,
	})
}

// submitLimitMiddleware rejects submissions beyond the configured rate with
// 429 so bursts cannot spawn unbounded workers.
func (s *Server) submitLimitMiddleware(next http.Handler) http.Handler {
	if s.submits == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.submits.Allow() {
			w.Header().Set("Retry-After", "1")
			s.writeError(w, http.StatusTooManyRequests, "Too many submissions")
			return
		}
		next.ServeHTTP(w, r)
	})
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
