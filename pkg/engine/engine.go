package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ctag/platformio-atom-ide/pkg/activation"
	"github.com/ctag/platformio-atom-ide/pkg/artifacts"
	"github.com/ctag/platformio-atom-ide/pkg/packages"
	"github.com/ctag/platformio-atom-ide/pkg/resolver"
	"github.com/ctag/platformio-atom-ide/pkg/stores"
	"github.com/ctag/platformio-atom-ide/pkg/telemetry"
)

// Options describes the toolchain to provision.
type Options struct {
	// PythonExecutable is checked with --version and runs the bootstrap.
	PythonExecutable string

	// PythonDownloadsURL is opened when the user asks for help.
	PythonDownloadsURL string

	// UseBuiltin selects the isolated environment over a system install.
	UseBuiltin bool

	// CommandsDir receives the platformio and pio links made by
	// InstallCommands.
	CommandsDir string

	// EnvDir is the isolated environment; EnvBinDir holds its executables.
	EnvDir    string
	EnvBinDir string

	// CustomPath and PreviousCustomPath are swapped at the front of PATH.
	CustomPath         string
	PreviousCustomPath string

	// PlatformIOSpec is what pip installs; DevelopURL replaces it for
	// develop reinstalls.
	PlatformIOSpec string
	DevelopURL     string

	Virtualenv artifacts.Artifact
	Deps       artifacts.Artifact

	// Required maps package names to semver ranges.
	Required map[string]string

	// Stale lists packages to remove when installed.
	Stale []string

	Caller     string
	IDEVersion string
}

// Dependencies are the collaborators an Engine drives. Runs, Preferences,
// Views and Locker are optional.
type Dependencies struct {
	Store       StateStore
	Runs        RunRecorder
	Preferences Preferences
	Runner      ProcessRunner
	Cache       ArtifactCache
	Host        PackageHost
	Manager     PackageManager
	Notifier    Notifier
	Views       ViewFactory
	Locker      Locker

	// Environment is the base environment. Nil uses the current process
	// environment.
	Environment *activation.EnvironmentContext

	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
}

// Report summarizes a finished run.
type Report struct {
	RunID       string
	Status      stores.RunStatus
	State       State
	Phases      []Phase
	Environment activation.EnvironmentContext
	Err         error
}

// Engine runs the provisioning workflow. At most one run is active at a
// time.
type Engine struct {
	opts     Options
	required []resolver.Requirement
	deps     Dependencies
	logger   zerolog.Logger
	metrics  *telemetry.Metrics

	// mu is held for the duration of a run.
	mu sync.Mutex
}

// New creates an engine.
func New(opts Options, deps Dependencies) (*Engine, error) {
	if deps.Store == nil || deps.Runner == nil || deps.Cache == nil ||
		deps.Host == nil || deps.Manager == nil || deps.Notifier == nil {
		return nil, errors.New("engine requires a store, runner, cache, package host, package manager and notifier")
	}

	required, err := resolver.ParseRequirements(opts.Required)
	if err != nil {
		return nil, fmt.Errorf("invalid package requirements: %w", err)
	}

	if opts.PythonExecutable == "" {
		opts.PythonExecutable = "python"
	}
	if opts.PlatformIOSpec == "" {
		opts.PlatformIOSpec = "platformio"
	}
	if opts.CommandsDir == "" {
		opts.CommandsDir = "/usr/local/bin"
	}

	return &Engine{
		opts:     opts,
		required: required,
		deps:     deps,
		logger:   deps.Logger.With().Str("component", "engine").Logger(),
		metrics:  deps.Metrics,
	}, nil
}

// Environment returns the environment provisioned tools run in, before any
// package activation.
func (e *Engine) Environment() activation.EnvironmentContext {
	base := activation.Current()
	if e.deps.Environment != nil {
		base = *e.deps.Environment
	}
	return activation.Prepare(base, activation.Options{
		UseBuiltin:         e.opts.UseBuiltin,
		EnvBinDir:          e.opts.EnvBinDir,
		CustomPath:         e.opts.CustomPath,
		PreviousCustomPath: e.opts.PreviousCustomPath,
		Caller:             e.opts.Caller,
		IDEVersion:         e.opts.IDEVersion,
	})
}

// Run executes one provisioning run. Canceling ctx cancels the run at the
// next step boundary; the step in flight completes first. The returned
// error is the fatal step error or a failure to persist state; a canceled
// run returns a report with status cancelled and no error.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	unlock, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer unlock()

	r := &run{
		engine: e,
		id:     uuid.New().String(),
		env:    e.Environment(),
		logger: e.logger,
	}
	return r.execute(ctx)
}

// Reinstall replaces the toolchain in the isolated environment: it
// uninstalls it, ignoring the result, then installs the configured spec or
// the develop archive.
func (e *Engine) Reinstall(ctx context.Context, develop bool) error {
	unlock, err := e.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	pip := packages.NewPip(e.opts.EnvBinDir, e.deps.Runner, e.logger).WithEnv(e.Environment().Map())

	e.logger.Info().Bool("develop", develop).Msg("reinstalling PlatformIO")
	if _, err := pip.Uninstall(ctx, "platformio"); err != nil {
		e.logger.Debug().Err(err).Msg("previous PlatformIO could not be uninstalled")
	}

	spec := e.opts.PlatformIOSpec
	if develop {
		spec = e.opts.DevelopURL
	}

	res, err := pip.Install(ctx, false, spec)
	if err != nil || !res.Success() {
		detail := ""
		if res != nil {
			detail = res.Stderr
		}
		title := "Failed to install PlatformIO!"
		e.deps.Notifier.NotifyError(title, detail)
		e.metrics.RecordError(string(ErrorClassFatal))
		e.logger.Error().Err(err).Str("stderr", detail).Msg(title)
		return NewFatalError(title, err).WithCode(ErrCodeProcess).WithDetail(detail)
	}

	e.deps.Notifier.NotifySuccess("PlatformIO has been reinstalled.")
	return nil
}

// acquire takes the in-process guard and, when configured, the
// cross-process lock.
func (e *Engine) acquire() (func(), error) {
	if !e.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	if e.deps.Locker != nil {
		if err := e.deps.Locker.Lock(); err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("%w: %w", ErrRunInProgress, err)
		}
	}
	return func() {
		if e.deps.Locker != nil {
			if err := e.deps.Locker.Unlock(); err != nil {
				e.logger.Warn().Err(err).Msg("failed to release run lock")
			}
		}
		e.mu.Unlock()
	}, nil
}

// requiredNames returns the required package names in sorted order.
func (e *Engine) requiredNames() []string {
	names := make([]string, 0, len(e.required))
	for _, req := range e.required {
		names = append(names, req.Name)
	}
	sort.Strings(names)
	return names
}
