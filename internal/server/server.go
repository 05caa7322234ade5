// Package server exposes the anonymizer over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/persondata/internal/anonymizer"
	"github.com/raaihank/persondata/internal/config"
	"github.com/raaihank/persondata/internal/gateway"
	"github.com/raaihank/persondata/internal/logger"
	"github.com/raaihank/persondata/internal/websocket"
)

// Version is reported by /info
const Version = "0.1.0"

// ModelStatus reports the NER model lifecycle. *gateway.Gateway implements it.
type ModelStatus interface {
	Stats() gateway.Stats
}

// Server represents the HTTP API server
type Server struct {
	config  *config.Config
	logger  *logger.Logger
	service *anonymizer.Service
	model   ModelStatus
	wsHub   *websocket.Hub
	limiter *RateLimiter
	router  *mux.Router
	server  *http.Server
	started time.Time
	stop    chan struct{}
}

// New creates a server. model and hub may be nil when NER or the dashboard
// feed is disabled.
func New(cfg *config.Config, log *logger.Logger, svc *anonymizer.Service, model ModelStatus, hub *websocket.Hub) *Server {
	s := &Server{
		config:  cfg,
		logger:  log.WithComponent("server"),
		service: svc,
		model:   model,
		wsHub:   hub,
		router:  mux.NewRouter(),
		started: time.Now(),
		stop:    make(chan struct{}),
	}
	if cfg.RateLimit.Enabled {
		s.limiter = NewRateLimiter(cfg.RateLimit)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	if s.wsHub != nil && s.config.WebSocket.Enabled {
		path := s.config.WebSocket.Path
		if path == "" {
			path = "/ws"
		}
		s.router.HandleFunc(path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.Use(s.bodyLimitMiddleware)
	api.HandleFunc("/anonymize", s.handleAnonymize).Methods(http.MethodPost)
	api.HandleFunc("/detect", s.handleDetect).Methods(http.MethodPost)
	api.HandleFunc("/labels", s.handleLabels).Methods(http.MethodGet)
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP until Stop is called
func (s *Server) Start() error {
	s.logger.Info("Starting persondata server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("ner_enabled", s.service.NEREnabled()),
		zap.Bool("rate_limit", s.limiter != nil),
		zap.Bool("websocket", s.wsHub != nil),
	)

	if s.limiter != nil {
		s.limiter.StartCleanupRoutine(10*time.Minute, s.stop)
	}

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping persondata server")
	close(s.stop)
	return s.server.Shutdown(ctx)
}
