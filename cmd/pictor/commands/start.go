package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/pictorhq/pictor/internal/logger"
	"github.com/pictorhq/pictor/pkg/api"
	"github.com/pictorhq/pictor/pkg/config"
	"github.com/pictorhq/pictor/pkg/gallery"
	"github.com/pictorhq/pictor/pkg/gradient"
	"github.com/pictorhq/pictor/pkg/request"
	"github.com/pictorhq/pictor/pkg/session"
	metaredis "github.com/pictorhq/pictor/pkg/store/meta/redis"
	objects3 "github.com/pictorhq/pictor/pkg/store/object/s3"
	"github.com/pictorhq/pictor/pkg/upload"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the pictor server",
	Long: `Start the pictor server with the specified configuration.

Use --config to specify a custom configuration file; otherwise the server
looks for config.yaml in the working directory and /etc/pictor.

Examples:
  # Start with default config location
  pictor start

  # Start with custom config file
  pictor start --config /etc/pictor/config.yaml

  # Start with environment variable overrides
  PICTOR_LOGGING_LEVEL=DEBUG pictor start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: "stdout",
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("starting pictor", "version", Version)

	// Backing stores
	metaStore, err := metaredis.New(ctx, metaredis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer func() {
		if err := metaStore.Close(); err != nil {
			logger.Warn("redis close error", "error", err)
		}
	}()

	objectStore, err := objects3.New(ctx, cfg.S3.StoreConfig())
	if err != nil {
		return fmt.Errorf("failed to create object store: %w", err)
	}
	if err := objectStore.Ping(ctx); err != nil {
		return fmt.Errorf("object store unreachable: %w", err)
	}

	// Metrics registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Domain services
	sessions := session.NewStore(metaStore)
	uploads := upload.NewSessionStore()
	galleries := gallery.NewService(metaStore, objectStore)
	requests := request.NewService(metaStore)

	worker := gradient.NewWorker(
		gradient.Config{
			Enabled:         cfg.Gradient.Enabled,
			Concurrency:     cfg.Gradient.Concurrency,
			MaxRetries:      cfg.Gradient.MaxRetries,
			PollInterval:    cfg.Gradient.PollInterval,
			PromoteInterval: cfg.Gradient.PromoteInterval,
		},
		metaStore,
		objectStore,
		gradient.NewComputer(),
		gradient.NewMetrics(registry),
	)
	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start gradient worker: %w", err)
	}

	finalizer := upload.NewFinalizer(uploads, objectStore, galleries, worker)

	// Reap expired upload sessions and stale progress records.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				uploads.CleanupExpired()
			}
		}
	}()

	deps := api.Deps{
		Sessions:     sessions,
		Uploads:      uploads,
		Finalizer:    finalizer,
		Galleries:    galleries,
		Requests:     requests,
		Worker:       worker,
		MetaStore:    metaStore,
		ObjectStore:  objectStore,
		MaxChunkSize: cfg.Upload.MaxChunkSize,
	}
	if cfg.Metrics.Enabled {
		deps.MetricsRegistry = registry
	}

	server := api.NewServer(api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, api.NewRouter(deps))

	// Cancel the context on SIGINT/SIGTERM; Start returns after graceful
	// shutdown completes.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	serveErr := server.Start(ctx)

	if err := worker.Stop(); err != nil {
		logger.Warn("gradient worker stop error", "error", err)
	}

	return serveErr
}
