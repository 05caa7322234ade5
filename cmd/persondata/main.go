package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/persondata/internal/anonymizer"
	"github.com/raaihank/persondata/internal/audit"
	"github.com/raaihank/persondata/internal/cache"
	"github.com/raaihank/persondata/internal/config"
	"github.com/raaihank/persondata/internal/gateway"
	"github.com/raaihank/persondata/internal/logger"
	"github.com/raaihank/persondata/internal/ner"
	"github.com/raaihank/persondata/internal/patterns"
	"github.com/raaihank/persondata/internal/server"
	"github.com/raaihank/persondata/internal/websocket"
)

var (
	version = server.Version
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.String("health-check", "", "Check the server at this base URL and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("persondata %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck != "" {
		performHealthCheck(*healthCheck)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting persondata",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("ner_enabled", cfg.Model.Enabled),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := initializeServices(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer deps.cleanup(log)

	config.Watch(func(newCfg *config.Config) {
		rules, err := patterns.New(newCfg.Patterns, log.WithComponent("patterns").Logger)
		if err != nil {
			log.Warn("Ignoring pattern configuration change", zap.Error(err))
			return
		}
		deps.service.SetRules(rules)
		log.Info("Pattern rules reloaded", zap.Strings("rules", rules.IDs()))
	}, func(err error) {
		log.Warn("Ignoring configuration change", zap.Error(err))
	})

	var model server.ModelStatus
	if deps.gateway != nil {
		model = deps.gateway
	}
	srv := server.New(cfg, log, deps.service, model, deps.hub)

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error("Server error", zap.Error(err))
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()

		if err := srv.Stop(stopCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
		}
		log.Info("Server shutdown complete")
	}
}

// services holds the optional collaborators of the anonymizer
type services struct {
	service *anonymizer.Service
	gateway *gateway.Gateway
	cache   *cache.EntityCache
	audit   *audit.Store
	hub     *websocket.Hub
}

func (s *services) cleanup(log *logger.Logger) {
	if s.gateway != nil {
		if err := s.gateway.Close(); err != nil {
			log.Warn("Failed to release NER model", zap.Error(err))
		}
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.audit != nil {
		s.audit.Close()
	}
}

// initializeServices builds the anonymizer and whatever backends the
// configuration enables. Cache and audit failures are logged and the feature
// is left off.
func initializeServices(ctx context.Context, cfg *config.Config, log *logger.Logger) (*services, error) {
	s := &services{}

	rules, err := patterns.New(cfg.Patterns, log.WithComponent("patterns").Logger)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern configuration: %w", err)
	}

	opts := anonymizer.Options{
		MinScore: cfg.Model.MinScore,
		Logger:   log.WithComponent("anonymizer").Logger,
	}

	if cfg.Model.Enabled {
		loader, err := ner.NewLoader(cfg.Model, log.WithComponent("ner").Logger)
		if err != nil {
			return nil, err
		}
		s.gateway = gateway.New(loader, cfg.Model, log.WithComponent("gateway").Logger)
		opts.Gateway = s.gateway

		if cfg.Model.PreloadOnBoot {
			go func() {
				if _, err := s.gateway.Acquire(ctx); err != nil {
					log.Warn("NER preload failed, requests will retry", zap.Error(err))
				}
			}()
		}

		if cfg.Cache.Enabled {
			entityCache, err := cache.NewEntityCache(cfg.Cache, cfg.Model.ModelID, log.WithComponent("cache").Logger)
			if err != nil {
				log.Warn("Entity cache disabled", zap.Error(err))
			} else {
				s.cache = entityCache
				opts.Cache = entityCache
			}
		}
	}

	if cfg.Audit.Enabled {
		store, err := audit.NewStore(cfg.Audit, log.WithComponent("audit").Logger)
		if err != nil {
			log.Warn("Audit log disabled", zap.Error(err))
		} else {
			s.audit = store
			opts.Auditor = store
		}
	}

	if cfg.WebSocket.Enabled {
		s.hub = websocket.NewHub(cfg.WebSocket, log.WithComponent("websocket").Logger)
		opts.Publisher = s.hub
		go s.hub.Run(ctx)
	}

	s.service = anonymizer.New(rules, opts)
	return s, nil
}

// performHealthCheck performs a health check against a running server
func performHealthCheck(baseURL string) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
