package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkalnins/sswatch/internal/api"
	"github.com/mkalnins/sswatch/internal/config"
	"github.com/mkalnins/sswatch/internal/database"
	"github.com/mkalnins/sswatch/internal/extract"
	"github.com/mkalnins/sswatch/internal/fetch"
	"github.com/mkalnins/sswatch/internal/logging"
	"github.com/mkalnins/sswatch/internal/mail"
	"github.com/mkalnins/sswatch/internal/notify"
	"github.com/mkalnins/sswatch/internal/report"
	"github.com/mkalnins/sswatch/internal/runner"
	"github.com/mkalnins/sswatch/internal/scheduler"
	"github.com/mkalnins/sswatch/internal/storage"
	"github.com/mkalnins/sswatch/internal/store"
	"github.com/mkalnins/sswatch/internal/task"
	"github.com/mkalnins/sswatch/internal/version"
)

func main() {
	// Handle subcommands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "run-task":
			if len(os.Args) < 3 {
				fmt.Fprintln(os.Stderr, "usage: sswatch run-task <name>")
				os.Exit(2)
			}
			if err := runOnce(os.Args[2]); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func configPath() string {
	if p := os.Getenv("SSW_CONFIG_PATH"); p != "" {
		return p
	}
	return "/data/config.yaml"
}

func run() error {
	path := configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logManager, logger := logging.NewManager(loggingConfig(cfg))
	defer logManager.Close() //nolint:errcheck
	slog.SetDefault(logger)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("closing database", "error", err)
		}
	}()

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("database ready", slog.String("path", cfg.Database.Path))

	registry, err := task.LoadRegistry(cfg.Tasks.Path)
	if err != nil {
		return fmt.Errorf("loading task registry: %w", err)
	}
	logger.Info("task registry loaded",
		slog.String("path", cfg.Tasks.Path),
		slog.Int("tasks", len(registry.Names())),
	)

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	taskRunner, reports, storeSvc, err := buildPipeline(ctx, cfg, registry, db, logger)
	if err != nil {
		return err
	}

	logger.Info("starting sswatch",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
	)

	if cfg.Tasks.Watch {
		go registry.Watch(ctx, logger)
	}

	cronScheduler := scheduler.New(registry, taskRunner, logger)
	if err := cronScheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer func() { <-cronScheduler.Stop().Done() }()

	// SIGHUP re-reads the config file and applies logging changes.
	go reloadOnHUP(ctx, path, logManager, logger)

	go pruneReports(ctx, reports, config.Duration(cfg.Report.Retention, 30*24*time.Hour), logger)

	router := api.NewRouter(api.RouterDeps{
		Runner:   taskRunner,
		Store:    storeSvc,
		Registry: registry,
		Logger:   logger,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// buildPipeline assembles the scrape pipeline from configuration.
func buildPipeline(ctx context.Context, cfg *config.Config, registry *task.Registry, db *sql.DB, logger *slog.Logger) (*runner.Runner, *report.Builder, *store.Service, error) {
	fetcher := fetch.New(fetch.Options{
		MaxRetries:   cfg.Fetch.MaxRetries,
		RetryBackoff: config.Duration(cfg.Fetch.RetryBackoff, 500*time.Millisecond),
		Timeout:      config.Duration(cfg.Fetch.Timeout, 30*time.Second),
		UserAgent:    cfg.Fetch.UserAgent,
	}, logger)

	var stager notify.Stager
	if cfg.Storage.StagingEnabled() {
		uploader, err := storage.New(ctx, storage.Config{
			Region:    cfg.Storage.Region,
			Bucket:    cfg.Storage.Bucket,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			LinkTTL:   config.Duration(cfg.Storage.LinkTTL, 72*time.Hour),
		}, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("configuring report staging: %w", err)
		}
		stager = uploader
		logger.Info("report staging enabled", slog.String("bucket", cfg.Storage.Bucket))
	}

	mailer := mail.New(cfg.Notify.APIBaseURL, cfg.Notify.APIKey, cfg.Notify.From, logger)
	notifier := notify.New(mailer, stager, notify.Options{
		SuppressEmpty:       cfg.Notify.SuppressEmptyOrDefault(),
		DefaultRecipients:   cfg.Notify.Recipients,
		MaxRetries:          cfg.Notify.MaxRetries,
		RetryBackoff:        config.Duration(cfg.Notify.RetryBackoff, 2*time.Second),
		AttachmentThreshold: cfg.Notify.AttachmentThreshold,
	}, logger)

	reports := report.NewBuilder(cfg.Report.Dir, logger)
	storeSvc := store.NewService(db, logger)
	taskRunner := runner.New(registry, fetcher, extract.New(logger), storeSvc, reports, notifier, logger)
	return taskRunner, reports, storeSvc, nil
}

// runOnce executes a single task synchronously and exits, for cron
// jobs and manual checks without the HTTP server.
func runOnce(taskName string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logManager, logger := logging.NewManager(loggingConfig(cfg))
	defer logManager.Close() //nolint:errcheck

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	registry, err := task.LoadRegistry(cfg.Tasks.Path)
	if err != nil {
		return fmt.Errorf("loading task registry: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	taskRunner, _, _, err := buildPipeline(ctx, cfg, registry, db, logger)
	if err != nil {
		return err
	}

	run, err := taskRunner.Run(ctx, taskName, false)
	if err != nil {
		return err
	}
	fmt.Printf("run %s finished: %s (added=%d removed=%d changed=%d unchanged=%d)\n",
		run.ID, run.Outcome, run.Added, run.Removed, run.Changed, run.Unchanged)
	return nil
}

func loggingConfig(cfg *config.Config) logging.Config {
	return logging.Config{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		FilePath: cfg.Logging.File,
	}
}

// reloadOnHUP re-reads the config file on SIGHUP and applies the
// logging section. Other sections require a restart.
func reloadOnHUP(ctx context.Context, path string, manager *logging.Manager, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.Load(path)
			if err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			manager.Reconfigure(loggingConfig(cfg))
			logger.Info("logging reconfigured",
				slog.String("level", cfg.Logging.Level),
				slog.String("format", cfg.Logging.Format),
			)
		}
	}
}

func pruneReports(ctx context.Context, reports *report.Builder, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := reports.Prune(retention); err != nil {
				logger.Error("report pruning failed", "error", err)
			}
		}
	}
}
