package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatwootbridge/internal/config"
	"chatwootbridge/internal/constants"
	"chatwootbridge/internal/database"
	"chatwootbridge/internal/metrics"
	"chatwootbridge/internal/models"
	"chatwootbridge/internal/retry"
	"chatwootbridge/internal/service"
	"chatwootbridge/internal/tracing"
	"chatwootbridge/pkg/chatwoot"
	"chatwootbridge/pkg/media"
	"chatwootbridge/pkg/session"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes phone numbers and chat ids)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("chatwootbridge %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting chatwootbridge")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	configureLogLevel(logger, cfg.LogLevel, *verbose)

	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	db, err := openDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	registry := metrics.NewRegistry()

	chatwootClient := chatwoot.NewClientWithLogger(
		cfg.Chatwoot.BaseURL,
		cfg.Chatwoot.Token,
		cfg.Chatwoot.AccountID,
		cfg.Chatwoot.InboxID,
		&http.Client{Timeout: time.Duration(cfg.Chatwoot.TimeoutSec) * time.Second},
		logger,
	)

	contacts := service.NewContactResolver(chatwootClient, cfg.Chatwoot.InboxID, cfg.Session, registry, logger)
	conversations := service.NewConversationResolver(chatwootClient, cfg.Chatwoot.InboxID, cfg.Session, registry, logger)

	dispatcher := service.NewDispatcher(
		service.NewDispatcherConfig(cfg.Session, cfg.Chatwoot),
		chatwootClient,
		contacts,
		conversations,
		media.NewEncoder(),
		logger,
	)
	dispatcher.SetMetrics(registry)
	dispatcher.SetProber(service.NewProber(chatwootClient, cfg.Session, cfg.Chatwoot.BaseURL, cfg.Chatwoot.AccountID, logger))
	if db != nil {
		dispatcher.SetRecorder(db)
	}

	ctxWithVerbose := service.WithVerbose(ctx, *verbose)

	bus := session.NewBus(logger)
	// Runs after the dispatcher and feed stop, before the database closes.
	defer drainHandlers(bus, time.Duration(constants.DefaultHandlerDrainSec)*time.Second, logger)
	if err := dispatcher.Start(ctxWithVerbose, bus); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	runtimeClient := session.NewClientWithLogger(
		cfg.Runtime.BaseURL,
		cfg.Session,
		cfg.Runtime.Token,
		&http.Client{Timeout: time.Duration(cfg.Runtime.TimeoutSec) * time.Second},
		logger,
	)

	if cfg.Runtime.EventsURL != "" {
		feed := session.NewFeed(cfg.Runtime.EventsURL, cfg.Runtime.Token, cfg.Session, bus, runtimeClient, logger)
		feed.SetMetrics(registry)
		if err := feed.Start(ctxWithVerbose); err != nil {
			logger.Warnf("Failed to start session event feed: %v", err)
		}
		defer feed.Stop()
	} else {
		logger.Info("No runtime events URL configured, relying on webhooks only")
	}

	if db != nil {
		scheduler := service.NewScheduler(db, cfg.Database.RetentionDays, cfg.Database.CleanupIntervalHours, logger)
		go scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	var store DeliveryLister
	if db != nil {
		store = db
	}

	server := NewServer(cfg, bus, runtimeClient, store, registry, logger, *verbose)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// configureLogLevel applies the configured level. Verbose always wins and
// anything more detailed than info needs the verbose flag.
func configureLogLevel(logger *logrus.Logger, level string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - phone numbers and chat ids will be logged")
		return
	}

	if level == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	if parsed > logrus.InfoLevel {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}

// drainHandlers waits up to timeout for in-flight bus handlers. It reports
// whether they all finished.
func drainHandlers(bus *session.EventBus, timeout time.Duration, logger *logrus.Logger) bool {
	done := make(chan struct{})
	go func() {
		bus.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		logger.WithField("timeout", timeout).Warn("Event handlers still running at shutdown")
		return false
	}
}

// openDatabase opens the delivery log. A blank path disables it.
func openDatabase(ctx context.Context, cfg models.DatabaseConfig, logger *logrus.Logger) (*database.Database, error) {
	if cfg.Path == "" {
		logger.Info("Delivery log disabled (no database path configured)")
		return nil, nil
	}

	backoffConfig := retry.DefaultBackoffConfig()
	backoffConfig.InitialDelay = time.Duration(constants.DefaultDatabaseRetryBackoffMs) * time.Millisecond
	backoffConfig.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	backoff := retry.NewBackoff(backoffConfig)

	var db *database.Database
	err := backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database after retries: %w", err)
	}

	logger.WithField("path", cfg.Path).Info("Delivery log enabled")
	return db, nil
}
