// Package api serves dropwatch's HTTP surface: health, metrics, job history,
// the live event stream and an HTTP front door for dropping descriptors.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattjoyce/dropwatch/internal/auth"
	"github.com/mattjoyce/dropwatch/internal/dispatch"
	"github.com/mattjoyce/dropwatch/internal/events"
	"github.com/mattjoyce/dropwatch/internal/httpserve"
	"github.com/mattjoyce/dropwatch/internal/joblog"
	"github.com/mattjoyce/dropwatch/internal/metrics"
	"github.com/mattjoyce/dropwatch/internal/trigger"
)

// StatusProvider reports the dispatcher's live state.
type StatusProvider interface {
	Status() dispatch.Status
}

// HistoryReader reads the job history.
type HistoryReader interface {
	Get(ctx context.Context, id string) (*joblog.Job, error)
	Recent(ctx context.Context, limit int) ([]*joblog.Job, error)
	Log(ctx context.Context, id string) ([]joblog.LogEntry, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the single bearer token with full access.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig

	// InputDir is where POST /trigger drops descriptor files.
	InputDir string
	// InputPattern is the watcher's glob; dropped files must match it.
	InputPattern string
	MarkerSuffix string
}

// Deps are the server's collaborators. Metrics may be nil.
type Deps struct {
	Status  StatusProvider
	History HistoryReader
	Events  *events.Hub
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	status    StatusProvider
	history   HistoryReader
	events    *events.Hub
	metrics   *metrics.Metrics
	logger    *slog.Logger
	startedAt time.Time
	dropper   *trigger.Dropper
	keys      *auth.Keyring
}

// New creates a new API server instance
func New(config Config, deps Deps) *Server {
	if config.InputPattern == "" {
		config.InputPattern = "*" + trigger.DefaultInputExt
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := deps.Events
	if hub == nil {
		hub = events.NewHub(0)
	}
	return &Server{
		config:    config,
		status:    deps.Status,
		history:   deps.History,
		events:    hub,
		metrics:   deps.Metrics,
		logger:    logger,
		startedAt: time.Now(),
		dropper:   trigger.NewDropper(config.InputDir, config.InputPattern),
		keys:      auth.NewKeyring(config.APIKey, config.Tokens),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		// SSE streams stay open; the keep-alive ticker detects dead peers.
		IdleTimeout: 60 * time.Second,
	}
	return httpserve.Run(ctx, srv, s.logger.With("listener", "api"))
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpserve.RequestLog(s.logger))
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeJobsRW)).Post("/trigger/{job}", s.handleTrigger)
		r.With(s.requireScopes(auth.ScopeJobsRO)).Get("/job/{jobID}", s.handleGetJob)
		r.With(s.requireScopes(auth.ScopeJobsRO)).Get("/jobs", s.handleListJobs)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	return r
}

