package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mapstash/mapstash/internal/port"
	"github.com/mapstash/mapstash/internal/service/storage"
)

// Config contains HTTP server configuration
type Config struct {
	BindAddr string

	// DebugUsername and DebugPassword, when both set, put the /debug
	// endpoints behind basic auth.
	DebugUsername string
	DebugPassword string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:     "0.0.0.0:8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server represents the HTTP API server
type Server struct {
	config        *Config
	journal       port.Journal
	logger        *zap.Logger
	server        *http.Server
	regionHandler *RegionHandler
	debugHandler  *DebugHandler
}

var _ Store = (*storage.Manager)(nil)

// New creates a new HTTP server
func New(cfg *Config, store Store, catalog port.Catalog, journal port.Journal, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config:  cfg,
		journal: journal,
		logger:  logger,
	}

	s.regionHandler = NewRegionHandler(store, catalog, logger)
	s.debugHandler = NewDebugHandler(store, journal, logger)

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Region endpoints
	mux.HandleFunc("/v1/regions", s.regionHandler.HandleList)
	mux.HandleFunc("/v1/regions/", s.regionHandler.HandleRegion)
	mux.HandleFunc("/v1/queue", s.regionHandler.HandleQueue)

	// Debug endpoints
	debugJournal := s.debugHandler.HandleJournal
	debugStats := s.debugHandler.HandleStats
	if cfg.DebugUsername != "" && cfg.DebugPassword != "" {
		debugAuth := BasicAuthMiddleware(cfg.DebugUsername, cfg.DebugPassword, logger)
		debugJournal = debugAuth(debugJournal)
		debugStats = debugAuth(debugStats)
	}
	mux.HandleFunc("/debug/journal", debugJournal)
	mux.HandleFunc("/debug/stats", debugStats)

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      LoggingMiddleware(logger)(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.journal.Ping(); err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		http.Error(w, "Journal connection failed", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy","time":"` + time.Now().Format(time.RFC3339) + `"}`))
}
