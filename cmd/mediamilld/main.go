// mediamilld runs the media processing service: HTTP API, execution
// engine, and retention sweeper in one process.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"mediamill/internal/api"
	"mediamill/internal/artifact"
	"mediamill/internal/config"
	"mediamill/internal/engine"
	"mediamill/internal/media"
	"mediamill/internal/pipeline"
	"mediamill/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mediamilld:", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	artifacts, err := artifact.NewStore(cfg.WorkDir, logger)
	if err != nil {
		return fmt.Errorf("open work dir: %w", err)
	}

	tools, missing := media.Lookup()
	if len(missing) > 0 {
		logger.Warn("media toolchain incomplete, affected jobs will fail", "missing", missing)
	}

	registry := pipeline.NewRegistry()
	media.Register(registry, artifacts, media.Config{
		Tools:          tools,
		MaxOutputBytes: cfg.MaxOutputMB << 20,
		CommandTimeout: cfg.CommandTimeout,
	})

	eng := engine.New(engine.Config{
		Workers:          cfg.Workers,
		QueueDepth:       cfg.QueueDepth,
		MinFreeDiskBytes: int64(cfg.MinFreeDiskGB) << 30,
	}, db, artifacts, registry, logger)
	eng.Start()

	sweeper := engine.NewSweeper(db, artifacts, eng.Broker(), logger, cfg.Retention, cfg.SweepInterval)
	sweeper.Start()

	server := api.NewServer(api.Config{
		Addr:           cfg.ListenAddr,
		MaxUploadBytes: cfg.MaxUploadMB << 20,
		FetchDomains:   cfg.FetchDomains,
		StreamSample:   cfg.StreamSample,
		StreamBudget:   cfg.StreamBudget,
	}, db, eng, artifacts, tools, logger)

	// Run blocks until SIGINT/SIGTERM, then drains the HTTP server.
	runErr := server.Run()

	sweeper.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		logger.Warn("engine did not drain cleanly", "error", err)
	}

	return runErr
}
