package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/quartz"
	"github.com/goodtune/shibasync/internal/admin"
	"github.com/goodtune/shibasync/internal/airtable"
	"github.com/goodtune/shibasync/internal/config"
	"github.com/goodtune/shibasync/internal/hackatime"
	"github.com/goodtune/shibasync/internal/metrics"
	"github.com/goodtune/shibasync/internal/reconcile"
	"github.com/goodtune/shibasync/internal/retry"
	"github.com/goodtune/shibasync/internal/scheduler"
	"github.com/goodtune/shibasync/internal/storage"
	"github.com/goodtune/shibasync/internal/storage/memory"
	"github.com/goodtune/shibasync/internal/storage/redis"
	"github.com/goodtune/shibasync/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the shibasync daemon",
	Long:  `Start the continuous sync scheduler together with the admin API and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting shibasync")

	if cfg.Airtable.APIKey == "" || cfg.Airtable.BaseID == "" {
		logger.Warn().Msg("Airtable credentials are not configured; every pass will fail until they are set")
	}

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Int("history_size", cfg.Storage.HistorySize).
		Msg("Storage initialized")

	clock := quartz.NewReal()
	engine := newEngine(cfg, clock, logger)

	syncScheduler := scheduler.New(engine, store.Runs(), clock, scheduler.Config{
		StartupDelay:    cfg.Sync.StartupDelay,
		SuccessCooldown: cfg.Sync.SuccessCooldown,
		FailureCooldown: cfg.Sync.FailureCooldown,
	}, logger)

	// Initialize Admin Server
	adminAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.AdminPort)
	adminServer := admin.NewServer(admin.Config{
		ListenAddr:    adminAddr,
		TriggerLimit:  cfg.Server.TriggerLimit,
		TriggerWindow: cfg.Server.TriggerWindow,
	}, syncScheduler, store.Runs(), logger)

	if sdListeners.Activated && sdListeners.Admin != nil {
		adminServer.SetListener(sdListeners.Admin)
	}

	if err := adminServer.Start(); err != nil {
		return fmt.Errorf("failed to start Admin Server: %w", err)
	}

	// Initialize Metrics Server; port 0 disables it unless systemd hands us a socket
	var metricsServer *metrics.Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	if cfg.Server.MetricsPort > 0 || sdListeners.Metrics != nil {
		metricsServer = metrics.NewServer(metricsAddr, logger)
		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	syncScheduler.Start(ctx)

	logger.Info().Msg("shibasync startup complete")
	logger.Info().Msgf("Admin API: http://%s", adminAddr)
	if metricsServer != nil {
		logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)
	}

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	// Wait for signals (shutdown or manual pass)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			logger.Info().Msg("SIGHUP received, requesting manual sync")
			go func() {
				if _, err := syncScheduler.Trigger(ctx); errors.Is(err, scheduler.ErrBusy) {
					logger.Info().Msg("Sync already running, SIGHUP ignored")
				}
			}()
			continue
		}

		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// The scheduler lets a running pass finish before returning
	cancel()
	syncScheduler.Stop()

	if err := adminServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Admin Server")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("shibasync stopped")

	return nil
}

// newEngine wires the Airtable and Hackatime clients into a reconciliation engine.
func newEngine(cfg *config.Config, clock quartz.Clock, logger zerolog.Logger) *reconcile.Engine {
	store := newAirtableClient(cfg, logger)
	source := newHackatimeClient(cfg, clock, logger)
	executor := retry.NewExecutor(retry.Config{
		MaxRetries: cfg.Sync.MaxRetries,
		BaseDelay:  cfg.Sync.RetryBaseDelay,
	}, logger)

	return reconcile.NewEngine(reconcile.Config{
		APIKey:        cfg.Airtable.APIKey,
		BaseID:        cfg.Airtable.BaseID,
		GamesTable:    cfg.Airtable.GamesTable,
		PostsTable:    cfg.Airtable.PostsTable,
		UsersTable:    cfg.Airtable.UsersTable,
		Fields:        cfg.Fields,
		TrackingStart: cfg.Hackatime.StartTime(),
		Location:      cfg.Hackatime.Location(),
		UserDelay:     cfg.Hackatime.UserDelay,
		CacheSize:     cfg.Sync.ActivityCacheSize,
	}, store, source, executor, clock, logger)
}

func newAirtableClient(cfg *config.Config, logger zerolog.Logger) *airtable.Client {
	return airtable.NewClient(airtable.Config{
		APIKey:   cfg.Airtable.APIKey,
		BaseID:   cfg.Airtable.BaseID,
		BaseURL:  cfg.Airtable.BaseURL,
		PageSize: cfg.Airtable.PageSize,
		Timeout:  cfg.Airtable.Timeout,
	}, logger)
}

func newHackatimeClient(cfg *config.Config, clock quartz.Clock, logger zerolog.Logger) *hackatime.Client {
	return hackatime.NewClient(hackatime.Config{
		BaseURL:      cfg.Hackatime.BaseURL,
		StartDate:    cfg.Hackatime.StartDate,
		EndDate:      cfg.Hackatime.EndDate,
		BypassToken:  cfg.Hackatime.BypassToken,
		ProjectDelay: cfg.Hackatime.ProjectDelay,
		Timeout:      cfg.Hackatime.Timeout,
	}, clock, logger)
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(cfg.HistorySize), nil
	case "redis":
		return redis.Open(cfg.Redis, cfg.HistorySize)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (expected memory or redis)", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
