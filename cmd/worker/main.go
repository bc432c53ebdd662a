package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-importer/internal/app"
	"github.com/dvloznov/finance-importer/internal/config"
	"github.com/dvloznov/finance-importer/internal/gcsuploader"
	"github.com/dvloznov/finance-importer/internal/inbox"
	"github.com/dvloznov/finance-importer/internal/jobs/inmemory"
	"github.com/dvloznov/finance-importer/internal/logger"
)

// worker imports statements dropped into gs://{bucket}/{prefix}{userID}/.
func main() {
	var (
		configPath = flag.String("config", os.Getenv("IMPORTER_CONFIG"), "Path to a YAML config file")
		prefix     = flag.String("prefix", inbox.DefaultPrefix, "Object prefix to watch")
		interval   = flag.Duration("interval", time.Minute, "Time between inbox scans")
	)
	flag.Parse()

	boot := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Msg("Failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		boot.Fatal().Err(err).Msg("Invalid config")
	}
	if cfg.GCSBucket == "" {
		boot.Fatal().Msg("gcs_bucket (or GCS_BUCKET) is required")
	}

	log, err := logger.NewFromConfig(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		boot.Fatal().Err(err).Msg("Failed to configure logger")
	}

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	svc, stores, err := app.NewService(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create import service")
	}
	defer stores.Close()

	gcsService, err := gcsuploader.NewGCSStorageService(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create GCS client")
	}
	defer gcsService.Close()

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.QueueSize, jobStore,
		inmemory.WithWorkers(cfg.Workers),
		inmemory.WithLogger(log),
	)
	watcher := inbox.NewWatcher(gcsService, jobQueue, cfg.GCSBucket, *prefix, log)

	// Start consuming jobs
	if err := jobQueue.Start(ctx, watcher.Handler(svc.JobHandler(gcsService))); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}
	go watcher.Run(ctx, *interval)

	log.Info().
		Str("bucket", cfg.GCSBucket).
		Str("prefix", *prefix).
		Dur("interval", *interval).
		Msg("Worker service started, watching inbox")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	cancel()

	log.Info().Msg("Worker service exited")
}
