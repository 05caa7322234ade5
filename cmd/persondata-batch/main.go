package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/persondata/internal/anonymizer"
	"github.com/raaihank/persondata/internal/audit"
	"github.com/raaihank/persondata/internal/batch"
	"github.com/raaihank/persondata/internal/cache"
	"github.com/raaihank/persondata/internal/config"
	"github.com/raaihank/persondata/internal/gateway"
	"github.com/raaihank/persondata/internal/logger"
	"github.com/raaihank/persondata/internal/ner"
	"github.com/raaihank/persondata/internal/patterns"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		inputFile  = flag.String("input", "", "Input dataset file (CSV, JSON lines or Parquet)")
		outputFile = flag.String("output", "", "Output file (default: <input>.redacted.<ext>)")
		batchSize  = flag.Int("batch-size", 0, "Rows per batch (default from config)")
		workers    = flag.Int("workers", 0, "Concurrent redactions (default from config)")
		noNER      = flag.Bool("no-ner", false, "Pattern-only redaction")
		withAudit  = flag.Bool("audit", false, "Write audit records when audit is configured")
		showStats  = flag.Bool("audit-stats", false, "Print audit log statistics and exit")
	)
	flag.Parse()

	if *inputFile == "" && !*showStats {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input tickets.csv\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input notes.parquet --workers 8 --output clean.parquet\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --audit-stats\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *batchSize > 0 {
		cfg.Batch.BatchSize = *batchSize
	}
	if *workers > 0 {
		cfg.Batch.WorkerCount = *workers
	}
	if *noNER {
		cfg.Model.Enabled = false
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling batch...")
		cancel()
	}()

	if *showStats {
		if err := printAuditStats(ctx, cfg, log); err != nil {
			log.Fatal("Failed to read audit statistics", zap.Error(err))
		}
		return
	}

	var (
		gw    *gateway.Gateway
		store *audit.Store
		ec    *cache.EntityCache
	)
	opts := anonymizer.Options{
		MinScore: cfg.Model.MinScore,
		Logger:   log.WithComponent("anonymizer").Logger,
	}

	if cfg.Model.Enabled {
		loader, err := ner.NewLoader(cfg.Model, log.WithComponent("ner").Logger)
		if err != nil {
			log.Fatal("Failed to create NER loader", zap.Error(err))
		}
		gw = gateway.New(loader, cfg.Model, log.WithComponent("gateway").Logger)
		defer gw.Close()
		opts.Gateway = gw

		if cfg.Cache.Enabled {
			if ec, err = cache.NewEntityCache(cfg.Cache, cfg.Model.ModelID, log.WithComponent("cache").Logger); err != nil {
				log.Warn("Entity cache disabled", zap.Error(err))
			} else {
				defer ec.Close()
				opts.Cache = ec
			}
		}
	}

	if *withAudit && cfg.Audit.Enabled {
		if store, err = audit.NewStore(cfg.Audit, log.WithComponent("audit").Logger); err != nil {
			log.Fatal("Failed to open audit log", zap.Error(err))
		}
		defer store.Close()
		opts.Auditor = store
	}

	rules, err := patterns.New(cfg.Patterns, log.WithComponent("patterns").Logger)
	if err != nil {
		log.Fatal("Invalid pattern configuration", zap.Error(err))
	}
	svc := anonymizer.New(rules, opts)

	output := *outputFile
	if output == "" {
		output = batch.DefaultOutputPath(*inputFile)
	}

	pipeline := batch.NewPipeline(svc, cfg.Batch, log.WithComponent("batch").Logger)
	result, err := pipeline.ProcessFile(ctx, *inputFile, output)
	if err != nil {
		log.Fatal("Batch redaction failed", zap.Error(err))
	}

	stats := svc.Stats()
	log.Info("Batch finished",
		zap.String("output", output),
		zap.Int64("records", result.TotalRecords),
		zap.Int64("ner_applied", stats.NERApplied),
		zap.Int64("fallbacks", stats.Fallbacks),
		zap.Any("labels", result.LabelCounts))
}

// printAuditStats prints aggregate audit statistics as JSON
func printAuditStats(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	store, err := audit.NewStore(cfg.Audit, log.WithComponent("audit").Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.GetStats(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
