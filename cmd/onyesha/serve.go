package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/onyesha/internal/cleanup"
	"github.com/jkaninda/onyesha/internal/config"
	"github.com/jkaninda/onyesha/internal/errdetect"
	"github.com/jkaninda/onyesha/internal/gateway/httpapi"
	"github.com/jkaninda/onyesha/internal/observability"
	"github.com/jkaninda/onyesha/internal/ports"
	"github.com/jkaninda/onyesha/internal/preview"
	"github.com/jkaninda/onyesha/internal/ratelimit"
	"github.com/jkaninda/onyesha/internal/runtime"
	"github.com/jkaninda/onyesha/internal/storage"
	"github.com/jkaninda/onyesha/internal/workspace"
)

var (
	serveConfigPath string
	serveListenAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the preview orchestration server",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `onyesha --config path` and `onyesha serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveListenAddr, "listen", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe wires storage, the container runtime, the preview manager, the
// cleanup janitor, and the HTTP gateway, then blocks until shutdown.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListenAddr != "" {
		cfg.Server.ListenAddr = serveListenAddr
	}

	// Workspace directories.
	var ws *workspace.Workspace
	if cfg.Workspace != "" {
		ws, err = workspace.New(cfg.Workspace)
	} else {
		ws, err = workspace.Default()
	}
	if err != nil {
		return err
	}
	if err := ws.EnsureAll(); err != nil {
		return err
	}
	// Staging dirs from a previous run are stale: their containers are
	// gone or about to be swept.
	if err := ws.CleanStaging(); err != nil {
		logger.Warn("cleaning staging directory", slog.String("error", err.Error()))
	}
	logger.Info("workspace ready", slog.String("root", ws.Root))

	// Persistent project snapshots.
	store, err := openStore(cfg, ws, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migrating storage: %w", err)
	}
	logger.Info("storage ready", slog.String("driver", store.Driver()))

	// Observability (optional). The manager and janitor always record
	// metrics; without an enabled metrics section the collector simply
	// stays unexposed.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return err
	}
	metrics := obs.MetricsOrNil()
	if metrics == nil {
		metrics = observability.NewMetricsCollector()
	}

	// Container runtime.
	engine, err := buildRuntime(cfg, logger)
	if err != nil {
		return err
	}
	var anomaly *observability.AnomalyDetector
	if obs != nil {
		anomaly = obs.Anomaly
	}
	rt := observability.NewInstrumentedRuntime(engine, metrics, obs.TracerOrNil(), anomaly)

	portStart, portEnd := cfg.Ports.Range()
	alloc := ports.New(portStart, portEnd, rt.PublishedPorts, logger)

	mgr := preview.NewManager(preview.Config{
		MaxActive: cfg.Preview.MaxActive,
		Monitor: preview.MonitorConfig{
			Interval:     cfg.Preview.MonitorInterval(),
			Grace:        cfg.Preview.MonitorGrace(),
			MaxAttempts:  cfg.Preview.MonitorMaxAttempts,
			LogScanEvery: cfg.Preview.LogScanEveryNAttempts,
			ProbeTimeout: cfg.Preview.ProbeTimeout(),
		},
	}, preview.Deps{
		Registry:  preview.NewRegistry(),
		Allocator: alloc,
		Runtime:   rt,
		Workspace: ws,
		Store:     store,
		Detector:  errdetect.New(),
		Metrics:   metrics,
		Logger:    logger,
	})
	defer mgr.Close()

	// Readiness checks.
	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("database", store.Ping)
		obs.Health.AddCheck("docker", func(ctx context.Context) error {
			_, err := rt.PublishedPorts(ctx)
			return err
		})
	}

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Idle sweep and orphaned-container reclamation.
	if cfg.Cleanup.CleanupEnabled() {
		janitor := cleanup.New(cleanup.Config{
			SweepInterval: cfg.Cleanup.SweepInterval(),
			IdleAfter:     cfg.Cleanup.IdleAfter(),
		}, mgr, rt, metrics, logger)
		stopJanitor, err := janitor.Start(ctx)
		if err != nil {
			return fmt.Errorf("starting cleanup janitor: %w", err)
		}
		defer stopJanitor()
		logger.Info("cleanup janitor started",
			slog.Duration("sweep_interval", cfg.Cleanup.SweepInterval()),
			slog.Duration("idle_after", cfg.Cleanup.IdleAfter()),
		)
	}

	gw := buildGateway(cfg, obs, mgr, store, logger)

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("http gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline. Sandboxes stay running: the next
	// startup sweep reconciles them against the fresh registry.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("stopping http gateway", slog.String("error", err.Error()))
	}
	obs.Shutdown(shutdownCtx)

	return nil
}

// loadConfig loads the config file, falling back to built-in defaults when
// the default path does not exist yet.
func loadConfig() (*config.Config, error) {
	path := goutils.Env("ONYESHA_CONFIG", serveConfigPath)
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// openStore opens the configured storage backend. SQLite defaults to a
// database file inside the workspace.
func openStore(cfg *config.Config, ws *workspace.Workspace, logger *slog.Logger) (storage.SnapshotStore, error) {
	switch cfg.Storage.StorageDriver() {
	case storage.DriverPostgres:
		pg := cfg.Storage.Postgres
		return storage.OpenPostgres(storage.PostgresConfig{
			DSN:              pg.DSN,
			MaxOpenConns:     pg.MaxOpenConns,
			MaxIdleConns:     pg.MaxIdleConns,
			ConnMaxLifetimeS: pg.ConnMaxLifetimeS,
		}, logger)
	default:
		sqliteCfg := storage.SQLiteConfig{Path: ws.DatabasePath()}
		if cfg.Storage != nil && cfg.Storage.SQLite != nil {
			if cfg.Storage.SQLite.Path != "" {
				sqliteCfg.Path = cfg.Storage.SQLite.Path
			}
			sqliteCfg.JournalMode = cfg.Storage.SQLite.JournalMode
		}
		return storage.OpenSQLite(sqliteCfg, logger)
	}
}

// buildRuntime selects the container engine adapter from config.
func buildRuntime(cfg *config.Config, logger *slog.Logger) (runtime.ContainerRuntime, error) {
	rtCfg := runtime.Config{
		BuildTimeout: cfg.Runtime.BuildTimeout(),
		MemoryMB:     cfg.Runtime.MaxMemoryMB,
		CPUCores:     cfg.Runtime.MaxCPUCores,
		PIDsLimit:    cfg.Runtime.PIDsLimit,
	}
	switch cfg.Runtime.RuntimeDriver() {
	case "docker":
		return runtime.NewSDKRuntime(rtCfg, logger)
	default:
		return runtime.NewCLIRuntime(rtCfg, logger), nil
	}
}

// buildGateway assembles the HTTP API gateway from config.
func buildGateway(cfg *config.Config, obs *observability.Observability, mgr *preview.Manager, store storage.SnapshotStore, logger *slog.Logger) *httpapi.Gateway {
	var limiter *ratelimit.Limiter
	if cfg.Server.RateLimit.RequestsPerMinute > 0 {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.Server.RateLimit.RequestsPerMinute,
			BurstSize:         cfg.Server.RateLimit.BurstSize,
		})
	}

	var apiKeys map[string]string
	if cfg.Server.APIToken != "" {
		apiKeys = map[string]string{cfg.Server.APIToken: "default"}
	}

	httpCfg := httpapi.Config{
		ListenAddr:     cfg.Server.Addr(),
		EnableDocs:     cfg.Server.EnableDocs,
		APIKeys:        apiKeys,
		MaxRequestSize: cfg.Server.MaxRequestSize(),
	}
	if obs != nil {
		httpCfg.HealthChecker = obs.Health
		if obs.Metrics != nil {
			httpCfg.Metrics = obs.Metrics
			httpCfg.MetricsRegistry = obs.Metrics.Registry
			if cfg.Observability != nil && cfg.Observability.Metrics != nil {
				httpCfg.MetricsPath = cfg.Observability.Metrics.MetricsPath()
			}
		}
		if obs.Tracer != nil {
			httpCfg.Tracer = obs.Tracer.Tracer()
		}
	}

	return httpapi.NewGateway(httpCfg, mgr, store, limiter, logger)
}
