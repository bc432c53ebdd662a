package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-importer/internal/api/handlers"
	"github.com/dvloznov/finance-importer/internal/api/middleware"
	"github.com/dvloznov/finance-importer/internal/app"
	"github.com/dvloznov/finance-importer/internal/config"
	"github.com/dvloznov/finance-importer/internal/gcsuploader"
	"github.com/dvloznov/finance-importer/internal/jobs"
	"github.com/dvloznov/finance-importer/internal/jobs/inmemory"
	"github.com/dvloznov/finance-importer/internal/logger"
	"github.com/dvloznov/finance-importer/internal/ratelimit"
	"github.com/dvloznov/finance-importer/internal/upload"
)

const (
	sweepInterval = 5 * time.Minute
	limiterIdle   = 10 * time.Minute
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", os.Getenv("IMPORTER_CONFIG"), "Path to a YAML config file (or set IMPORTER_CONFIG env)")
		port       = flag.String("port", "", "HTTP server port (overrides config)")
		store      = flag.String("store", "", "Storage backend: memory, sqlite or bigquery (overrides config)")
	)
	flag.Parse()

	boot := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Msg("Failed to load config")
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *store != "" {
		cfg.Store = *store
	}
	if err := cfg.Validate(); err != nil {
		boot.Fatal().Err(err).Msg("Invalid config")
	}

	log, err := logger.NewFromConfig(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		boot.Fatal().Err(err).Msg("Failed to configure logger")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	svc, stores, err := app.NewService(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create import service")
	}
	defer stores.Close()

	// Chunks and async jobs need GCS; without a bucket chunks stay in memory
	// and GCS imports are disabled.
	var (
		chunkStore upload.ChunkStore = upload.NewMemoryStore()
		publisher  jobs.Publisher
		jobStore   = inmemory.NewStore()
		jobQueue   *inmemory.Queue
	)
	if cfg.GCSBucket == "" {
		log.Warn().Msg("No GCS bucket configured - chunks are kept in memory and GCS imports are disabled")
	} else {
		gcsService, err := gcsuploader.NewGCSStorageService(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create GCS client")
		}
		defer gcsService.Close()

		chunkStore = upload.NewGCSStore(gcsService, cfg.GCSBucket)

		jobQueue = inmemory.NewQueue(cfg.QueueSize, jobStore,
			inmemory.WithWorkers(cfg.Workers),
			inmemory.WithLogger(log),
		)
		if err := jobQueue.Start(ctx, svc.JobHandler(gcsService)); err != nil {
			log.Fatal().Err(err).Msg("Failed to start job worker")
		}
		publisher = jobQueue
		log.Info().Int("workers", cfg.Workers).Msg("Job worker started")
	}

	uploads := upload.NewManager(chunkStore, cfg.MaxUploadBytes, log)
	go uploads.RunSweeper(ctx, sweepInterval)

	var limiter ratelimit.Limiter = ratelimit.Unlimited{}
	if cfg.RateLimit > 0 {
		keyed := ratelimit.NewKeyedLimiter(ratelimit.Config{Rate: cfg.RateLimit, Burst: cfg.RateBurst})
		go pruneLimiter(ctx, keyed)
		limiter = keyed
	}

	// Create router
	mux := http.NewServeMux()
	handlers.NewImportHandler(svc, uploads, publisher, cfg.GCSBucket, cfg.MaxUploadBytes, log).Register(mux)
	handlers.NewAccountsHandler(stores.Accounts, log).Register(mux)
	handlers.NewJobsHandler(jobStore, log).Register(mux)
	mux.HandleFunc("/health", handlers.Health)

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(
					middleware.Auth("/health")(
						middleware.RateLimit(limiter)(mux),
					),
				),
			),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.Port).Str("store", cfg.Store).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if jobQueue != nil {
		if err := jobQueue.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping job queue")
		}
		if err := jobQueue.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close job queue")
		}
	}
	cancel()

	log.Info().Msg("Server exited")
}

// pruneLimiter drops idle rate limit buckets until ctx is done.
func pruneLimiter(ctx context.Context, l *ratelimit.KeyedLimiter) {
	ticker := time.NewTicker(limiterIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune(limiterIdle)
		}
	}
}
