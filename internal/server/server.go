// Package server is the HTTP+JSON front of the target lock store. It
// exposes the three primitives lock clients are built from: search, create
// and conditional update.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/me/testfleet/internal/config"
	"github.com/me/testfleet/internal/logging"
	"github.com/me/testfleet/internal/store"
)

// Server is the lock store REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.LockServerConfig
	startTime time.Time
	store     store.Store
	keys      *KeyConfig
	registry  *prometheus.Registry
	metrics   *metrics
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithRegistry exports the server metrics through reg instead of a private
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// New creates a new Server with all routes registered.
func New(cfg config.LockServerConfig, st store.Store, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logging.Component(logger, "server"),
		config:    cfg,
		startTime: time.Now(),
		store:     st,
		keys:      NewKeyConfig(cfg.ReadKeys, cfg.WriteKeys),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = newMetrics(s.registry)

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/targets", func(r chi.Router) {
			r.Use(authMiddleware(s.keys, s.logger))
			r.With(requireRole(RoleRead)).Post("/search", s.handleSearchTargets)
			r.With(requireRole(RoleWrite)).Post("/", s.handleCreateTarget)
			r.With(requireRole(RoleWrite)).Patch("/", s.handleUpdateTargets)
		})
	})
}
