package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ctag/platformio-atom-ide/pkg/artifacts"
	"github.com/ctag/platformio-atom-ide/pkg/config"
	"github.com/ctag/platformio-atom-ide/pkg/engine"
	"github.com/ctag/platformio-atom-ide/pkg/notify"
	"github.com/ctag/platformio-atom-ide/pkg/packages"
	"github.com/ctag/platformio-atom-ide/pkg/runner"
	"github.com/ctag/platformio-atom-ide/pkg/stores"
	"github.com/ctag/platformio-atom-ide/pkg/telemetry"
)

// customPathSetting remembers the custom PATH entry of the previous run so it
// can be swapped out when the user changes it.
const customPathSetting = "platformio-ide:custom-path"

// app holds the collaborators shared by the subcommands.
type app struct {
	cfg       *config.Config
	tel       *telemetry.Telemetry
	logger    zerolog.Logger
	store     *stores.SQLiteStore
	runner    *runner.Runner
	cache     *artifacts.Cache
	inventory *packages.Inventory
}

// appOption adjusts the configuration before the collaborators are built.
type appOption func(*config.Config)

// newApp loads the configuration and opens the state store.
func newApp(ctx context.Context, opts ...appOption) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	for _, opt := range opts {
		opt(cfg)
	}

	tel, err := telemetry.NewTelemetry(cfg.TelemetrySettings(version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()

	store, err := openStore(ctx, cfg.Paths.StateDB)
	if err != nil {
		if shutdownErr := tel.Shutdown(context.WithoutCancel(ctx)); shutdownErr != nil {
			logger.Warn().Err(shutdownErr).Msg("failed to shut down telemetry")
		}
		return nil, err
	}

	cache := artifacts.NewCache(cfg.Paths.CacheDir,
		artifacts.WithSource("s3", artifacts.NewS3Source(cfg.Artifacts.S3)),
		artifacts.WithLogger(logger),
		artifacts.WithMetrics(tel.Metrics),
	)

	return &app{
		cfg:       cfg,
		tel:       tel,
		logger:    logger,
		store:     store,
		runner:    runner.New(logger),
		cache:     cache,
		inventory: packages.NewInventory(cfg.Paths.PackagesDir),
	}, nil
}

// openStore opens and migrates the state database. The store is closed
// again on failure.
func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, errors.Join(err, store.Close())
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, errors.Join(err, store.Close())
	}
	return store, nil
}

// engine builds a provisioning engine reporting to notifier. views may be
// nil to run without progress output.
func (a *app) engine(ctx context.Context, notifier engine.Notifier, views engine.ViewFactory) (*engine.Engine, error) {
	cfg := a.cfg

	previous, _, err := a.store.GetSetting(ctx, customPathSetting)
	if err != nil {
		a.logger.Warn().Err(err).Msg("failed to read previous custom path")
	}

	return engine.New(engine.Options{
		PythonExecutable:   cfg.Python.Executable,
		PythonDownloadsURL: cfg.Python.DownloadsURL,
		UseBuiltin:         cfg.PlatformIO.UseBuiltin,
		CommandsDir:        cfg.PlatformIO.CommandsDir,
		EnvDir:             cfg.Paths.EnvDir,
		EnvBinDir:          cfg.EnvBinDir(),
		CustomPath:         cfg.PlatformIO.CustomPath,
		PreviousCustomPath: previous,
		PlatformIOSpec:     cfg.PlatformIO.PackageSpec,
		DevelopURL:         cfg.PlatformIO.DevelopURL,
		Virtualenv:         cfg.Artifacts.Virtualenv,
		Deps:               cfg.Artifacts.Deps,
		Required:           cfg.Packages.Required,
		Stale:              cfg.Packages.Stale,
		Caller:             cfg.IDE.Caller,
		IDEVersion:         a.ideVersion(),
	}, engine.Dependencies{
		Store:       a.store,
		Runs:        a.store,
		Preferences: a.store,
		Runner:      a.runner,
		Cache:       a.cache,
		Host:        a.inventory,
		Manager:     packages.NewManager(cfg.Packages.Manager, a.runner, a.logger, a.tel.Metrics),
		Notifier:    notifier,
		Views:       views,
		Locker:      newLock(a),
		Logger:      a.logger,
		Metrics:     a.tel.Metrics,
	})
}

// newLock returns the lock shared by every process touching the state.
func newLock(a *app) *stores.FileLock {
	return stores.NewFileLock(a.cfg.LockFile(), 0)
}

// rememberCustomPath stores the custom PATH entry used by this run.
func (a *app) rememberCustomPath(ctx context.Context) {
	if err := a.store.SetSetting(ctx, customPathSetting, a.cfg.PlatformIO.CustomPath); err != nil {
		a.logger.Warn().Err(err).Msg("failed to remember custom path")
	}
}

func (a *app) ideVersion() string {
	if a.cfg.IDE.Version != "" {
		return a.cfg.IDE.Version
	}
	return version
}

// console returns the interactive terminal sink.
func (a *app) console() *notify.Console {
	return notify.NewConsole(os.Stdout, os.Stdin)
}

// Close flushes telemetry and closes the store.
func (a *app) Close(ctx context.Context) error {
	return errors.Join(
		a.tel.Shutdown(context.WithoutCancel(ctx)),
		a.store.Close(),
	)
}
