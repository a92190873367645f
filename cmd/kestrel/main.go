// Kestrel - Batch fraud detection for transaction histories.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/synth"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := domain.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	initLogger(cfg.Logging)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "serve":
		runServe(cfg)
	case "train":
		runTrain(cfg)
	case "score":
		runScore(cfg, os.Args[2:])
	case "seed":
		runSeed(cfg, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: kestrel <command> [flags]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  serve   run the HTTP API server")
	fmt.Fprintln(os.Stderr, "  train   train detectors on the stored transaction set")
	fmt.Fprintln(os.Stderr, "  score   re-score the stored transaction set with a saved model")
	fmt.Fprintln(os.Stderr, "  seed    load a synthetic labeled dataset into the repository")
}

func initLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// components bundles everything a pipeline run needs.
type components struct {
	repo  domain.Repository
	cache domain.Cache
	bus   domain.EventBus
	pipe  *pipeline.Pipeline
}

func (c *components) close() {
	c.bus.Close()
	c.cache.Close()
	c.repo.Close()
}

func buildComponents(cfg *domain.Config) (*components, error) {
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("initialize repository: %w", err)
	}
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("initialize cache: %w", err)
	}
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		cacheImpl.Close()
		repo.Close()
		return nil, fmt.Errorf("initialize event bus: %w", err)
	}
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	store, err := artifact.NewFileStore(cfg.Artifact.Dir)
	if err != nil {
		busImpl.Close()
		cacheImpl.Close()
		repo.Close()
		return nil, fmt.Errorf("initialize artifact store: %w", err)
	}

	engine, err := alerts.NewEngine()
	if err != nil {
		busImpl.Close()
		cacheImpl.Close()
		repo.Close()
		return nil, fmt.Errorf("initialize alert engine: %w", err)
	}
	if err := engine.LoadRules(alerts.DefaultRules()); err != nil {
		busImpl.Close()
		cacheImpl.Close()
		repo.Close()
		return nil, fmt.Errorf("load alert rules: %w", err)
	}
	slog.Info("alert engine initialized", "rules_count", engine.RulesCount())

	pipe := pipeline.New(repo, store, cacheImpl, busImpl, engine, cfg.Detection)

	return &components{
		repo:  repo,
		cache: cacheImpl,
		bus:   busImpl,
		pipe:  pipe,
	}, nil
}

func runServe(cfg *domain.Config) {
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	comps, err := buildComponents(cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer comps.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	srv := api.NewServer(cfg.Server, comps.repo, comps.cache, comps.pipe, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func runTrain(cfg *domain.Config) {
	comps, err := buildComponents(cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer comps.close()

	res, err := comps.pipe.Train(context.Background())
	if err != nil {
		slog.Error("training failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("run %s finished in %dms\n", res.Run.ID, res.Run.DurationMs)
	fmt.Printf("  transactions: %d (users: %d)\n", res.Run.Transactions, res.Run.Users)
	fmt.Printf("  flagged:      %d (rate: %.4f)\n", res.Run.Flagged, res.Run.FraudRate)
	fmt.Printf("  artifact:     %s\n", res.ArtifactPath)
	for _, rep := range res.Reports {
		fmt.Printf("  %-16s precision=%.4f recall=%.4f f1=%.4f auc=%.4f\n",
			rep.Name, rep.Fraud.Precision, rep.Fraud.Recall, rep.Fraud.F1, rep.ROCAUC)
	}
}

func runScore(cfg *domain.Config, args []string) {
	fs := flag.NewFlagSet("score", flag.ExitOnError)
	artifactPath := fs.String("artifact", "", "model artifact path (default: latest)")
	fs.Parse(args)

	comps, err := buildComponents(cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer comps.close()

	res, err := comps.pipe.Score(context.Background(), *artifactPath)
	if err != nil {
		slog.Error("scoring failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("scored %d transactions with %s\n", res.Transactions, res.ArtifactPath)
	fmt.Printf("  flagged: %d\n", res.Flagged)
}

func runSeed(cfg *domain.Config, args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	genCfg := synth.DefaultConfig()
	fs.IntVar(&genCfg.Transactions, "transactions", genCfg.Transactions, "number of transactions to generate")
	fs.IntVar(&genCfg.Users, "users", genCfg.Users, "number of distinct users")
	fs.Float64Var(&genCfg.FraudRate, "fraud-rate", genCfg.FraudRate, "fraction of fraudulent transactions")
	fs.Int64Var(&genCfg.Seed, "seed", genCfg.Seed, "random seed")
	fs.Parse(args)

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	txs := synth.Generate(genCfg)
	if err := repo.SaveTransactions(context.Background(), txs); err != nil {
		slog.Error("failed to save generated transactions", "error", err)
		os.Exit(1)
	}

	fraud := 0
	for _, tx := range txs {
		if tx.IsFraud != nil && *tx.IsFraud {
			fraud++
		}
	}
	fmt.Printf("seeded %d transactions (%d fraudulent) into %s\n",
		len(txs), fraud, cfg.Repository.Driver)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  Kestrel - batch fraud detection")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /transactions      - Ingest a transaction batch")
	fmt.Println("    GET  /transactions/{id} - Get transaction by ID")
	fmt.Println("    POST /train             - Train detectors on the stored set")
	fmt.Println("    POST /score             - Re-score with a saved model")
	fmt.Println("    GET  /scores/{id}       - Get score by transaction ID")
	fmt.Println("    GET  /alerts            - List fraud alerts")
	fmt.Println("    PUT  /alerts/{id}       - Update alert status")
	fmt.Println("    GET  /runs              - List training runs")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
