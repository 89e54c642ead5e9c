package admin

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/goodtune/shibasync/internal/reconcile"
	"github.com/goodtune/shibasync/internal/scheduler"
	"github.com/goodtune/shibasync/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const (
	// DefaultTriggerLimit is the number of manual passes allowed per window per IP
	DefaultTriggerLimit = 6

	// DefaultTriggerWindow is the manual trigger rate limit window
	DefaultTriggerWindow = time.Minute

	// DefaultHistoryLimit is the number of runs returned when no limit is given
	DefaultHistoryLimit = 20
)

// Syncer runs and reports on reconciliation passes.
type Syncer interface {
	Trigger(ctx context.Context) (*reconcile.Summary, error)
	Status() scheduler.Status
}

// Config holds the admin server configuration.
type Config struct {
	ListenAddr    string
	TriggerLimit  int
	TriggerWindow time.Duration
}

// Server represents the admin HTTP server.
type Server struct {
	config   Config
	syncer   Syncer
	runs     storage.RunStore
	server   *http.Server
	router   *mux.Router
	listener net.Listener
	now      func() time.Time
	logger   zerolog.Logger
}

// NewServer creates a new admin server. runs may be nil, in which case the
// history endpoint returns an empty list.
func NewServer(cfg Config, syncer Syncer, runs storage.RunStore, logger zerolog.Logger) *Server {
	if cfg.TriggerLimit <= 0 {
		cfg.TriggerLimit = DefaultTriggerLimit
	}
	if cfg.TriggerWindow <= 0 {
		cfg.TriggerWindow = DefaultTriggerWindow
	}

	s := &Server{
		config: cfg,
		syncer: syncer,
		runs:   runs,
		router: mux.NewRouter(),
		now:    time.Now,
		logger: logger.With().Str("component", "admin").Logger(),
	}

	s.setupRoutes()

	// No write timeout: POST /api/sync holds the connection for a whole pass.
	s.server = &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/sync-status", s.handleSyncStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/sync/history", s.handleSyncHistory).Methods(http.MethodGet)

	limit := httprate.LimitByIP(s.config.TriggerLimit, s.config.TriggerWindow)
	s.router.Handle("/api/sync", limit(http.HandlerFunc(s.handleSyncTrigger))).Methods(http.MethodPost)
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the admin HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting admin server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated admin listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Admin server error")
		}
	}()

	return nil
}

// Stop gracefully stops the admin HTTP server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping admin server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}

	return nil
}
