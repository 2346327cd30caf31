package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ctag/platformio-atom-ide/pkg/activation"
	"github.com/ctag/platformio-atom-ide/pkg/artifacts"
	"github.com/ctag/platformio-atom-ide/pkg/packages"
	"github.com/ctag/platformio-atom-ide/pkg/runner"
	"github.com/ctag/platformio-atom-ide/pkg/telemetry"
)

// Step is one stage of the provisioning pipeline.
type Step struct {
	// Name identifies the step in logs, events and metrics.
	Name string

	// Idempotent steps run on every run. The others only do work on a
	// fresh run and are skipped once state was restored.
	Idempotent bool

	// Run does the step's work. A returned error is fatal to the run.
	Run func(ctx context.Context, r *run) error
}

// Step names.
const (
	StepEnsurePython        = "ensure-python"
	StepInstallPlatformIO   = "install-platformio"
	StepInstallDependencies = "install-dependencies-first-time"
	StepUninstallStale      = "uninstall-stale"
	StepInstallNew          = "install-new"
	StepUpgradeOutdated     = "upgrade-outdated"
	StepActivate            = "activate"
	StepHousekeeping        = "housekeeping"
)

const toolbarPositionPreference = "tool-bar.position"

// pipeline returns the ordered steps of a run.
func (r *run) pipeline() []Step {
	return []Step{
		{Name: StepEnsurePython, Idempotent: true, Run: ensurePython},
		{Name: StepInstallPlatformIO, Idempotent: true, Run: installPlatformIO},
		{Name: StepInstallDependencies, Idempotent: false, Run: installDependenciesFirstTime},
		{Name: StepUninstallStale, Idempotent: true, Run: uninstallStale},
		{Name: StepInstallNew, Idempotent: true, Run: installNew},
		{Name: StepUpgradeOutdated, Idempotent: true, Run: upgradeOutdated},
		{Name: StepActivate, Idempotent: true, Run: activateInactive},
		{Name: StepHousekeeping, Idempotent: false, Run: housekeeping},
	}
}

const pythonMissingDetail = "PlatformIO is written in Python and depends on it. " +
	"However, the \"python\" command has not been found in your system PATH. " +
	"Please install Python 2.7 and don't forget to \"Add python.exe to Path\" " +
	"on the \"Customize\" stage."

// ensurePython checks the interpreter until it runs or the run is canceled,
// either by the user or by an interrupt.
func ensurePython(ctx context.Context, r *run) error {
	e := r.engine
	s := r.state
	logger := stepLogger(ctx)

	s.PythonWorks = false
	for !s.PythonWorks && !r.stopped() {
		res, err := e.deps.Runner.RunSync(runner.Command{
			Name: e.opts.PythonExecutable,
			Args: []string{"--version"},
			Env:  r.env.Map(),
		})
		s.PythonWorks = err == nil && res.Success()
		if s.PythonWorks {
			break
		}

		logger.Warn().Err(err).Str("python", e.opts.PythonExecutable).Msg("python is not available")
		if r.stopped() {
			break
		}
		confirmErr := e.deps.Notifier.Confirm("PlatformIO: Unable to run python.", pythonMissingDetail, []Action{
			{Label: "Install Python", Do: func() {
				if err := e.deps.Runner.OpenURL(e.opts.PythonDownloadsURL); err != nil {
					logger.Warn().Err(err).Msg("failed to open downloads page")
				}
			}},
			{Label: "Try again"},
			{Label: "Abort PlatformIO IDE Installation", Cancel: true, Do: func() { r.cancel("user") }},
		})
		if confirmErr != nil {
			return NewFatalError("failed to ask for python", confirmErr).WithCode(ErrCodeInterpreter)
		}
	}
	return nil
}

// installPlatformIO bootstraps the isolated environment from the virtualenv
// archive and installs PlatformIO into it.
func installPlatformIO(ctx context.Context, r *run) error {
	e := r.engine
	s := r.state
	if !s.EnvShouldBeCreated {
		return nil
	}

	extracted, err := e.deps.Cache.Ensure(ctx, e.opts.Virtualenv)
	if err != nil {
		return NewFatalError("Failed to download virtualenv.", err).WithCode(ErrCodeArtifact)
	}
	defer os.RemoveAll(extracted)

	payload, err := artifacts.PayloadRoot(extracted)
	if err != nil {
		return NewFatalError("Failed to extract virtualenv.", err).WithCode(ErrCodeArtifact)
	}

	root, err := os.MkdirTemp("", "virtualenv-root-*")
	if err != nil {
		return NewFatalError("Unable to install the virtualenv.", err).WithCode(ErrCodeProcess)
	}
	defer os.RemoveAll(root)

	if err := r.runPython(ctx, "Unable to install the virtualenv.", payload,
		"setup.py", "install", "--root", root); err != nil {
		return err
	}

	script, err := findFileByName(root, "virtualenv.py")
	if err != nil {
		return NewFatalError("Cannot find the virtualenv.py script.", err).WithCode(ErrCodeProcess)
	}

	if err := r.runPython(ctx, "Unable to create a virtualenv.", "", script, e.opts.EnvDir); err != nil {
		return err
	}

	logger := stepLogger(ctx)
	pip := packages.NewPip(e.opts.EnvBinDir, e.deps.Runner, logger).WithEnv(r.env.Map())
	res, err := pip.Install(ctx, true, e.opts.PlatformIOSpec)
	s.PlatformIOInstalled = err == nil && res.Success()
	if !s.PlatformIOInstalled {
		detail := ""
		if res != nil {
			detail = res.Stderr
		}
		logger.Error().Err(err).Str("stderr", detail).Msg("failed to install PlatformIO")
		e.deps.Notifier.NotifyError("Failed to install PlatformIO!", detail)
	}
	return nil
}

// runPython runs the interpreter and turns a failure into a fatal error
// titled title.
func (r *run) runPython(ctx context.Context, title, dir string, args ...string) error {
	e := r.engine
	logger := stepLogger(ctx)
	stderr := runner.NewLineWriter(func(line string) {
		logger.Debug().Str("stream", "stderr").Msg(line)
	})
	res, err := e.deps.Runner.Run(ctx, runner.Command{
		Name:   e.opts.PythonExecutable,
		Args:   args,
		Dir:    dir,
		Env:    r.env.Map(),
		Stderr: stderr,
	})
	stderr.Flush()
	if err != nil {
		return NewFatalError(title, err).WithCode(ErrCodeProcess)
	}
	if !res.Success() {
		return NewFatalError(title, fmt.Errorf("exit code %d", res.ExitCode)).
			WithCode(ErrCodeProcess).
			WithDetail(res.Stderr)
	}
	return nil
}

// installDependenciesFirstTime copies bundled packages from the deps archive.
// It only runs on a fresh run.
func installDependenciesFirstTime(ctx context.Context, r *run) error {
	e := r.engine
	s := r.state

	extracted, err := e.deps.Cache.Ensure(ctx, e.opts.Deps)
	if err != nil {
		return NewFatalError("Failed to download IDE dependencies.", err).WithCode(ErrCodeArtifact)
	}
	defer os.RemoveAll(extracted)

	copied, err := e.deps.Host.CopyFrom(extracted, s.PackagesToInstall)
	if err != nil {
		return NewFatalError("Failed to install bundled packages.", err).WithCode(ErrCodePackages)
	}

	if len(copied) > 0 {
		logger := stepLogger(ctx)
		logger.Info().Strs("packages", copied).Msg("installed bundled packages")
		s.PackagesToInstall = without(s.PackagesToInstall, copied)
	}
	return nil
}

func uninstallStale(ctx context.Context, r *run) error {
	return packageError(r.engine.deps.Manager.Uninstall(ctx, r.state.PackagesToRemove))
}

func installNew(ctx context.Context, r *run) error {
	return packageError(r.engine.deps.Manager.Install(ctx, r.state.PackagesToInstall))
}

func upgradeOutdated(ctx context.Context, r *run) error {
	return packageError(r.engine.deps.Manager.Upgrade(ctx, r.state.PackagesToUpgrade))
}

// activateInactive activates every required package that is not active yet.
func activateInactive(ctx context.Context, r *run) error {
	e := r.engine

	var names []string
	for _, name := range e.requiredNames() {
		if !e.deps.Host.IsActive(name) {
			names = append(names, name)
		}
	}

	env, err := activation.Activate(ctx, r.env, e.deps.Host, names, stepLogger(ctx))
	if err != nil {
		return NewFatalError("Failed to activate packages.", err).WithCode(ErrCodeActivation)
	}
	r.env = env
	return nil
}

// housekeeping applies one-time defaults. It only runs on a fresh run.
func housekeeping(ctx context.Context, r *run) error {
	prefs := r.engine.deps.Preferences
	if prefs == nil {
		return nil
	}
	if err := prefs.SetSetting(ctx, toolbarPositionPreference, "Left"); err != nil {
		logger := stepLogger(ctx)
		logger.Warn().Err(err).Msg("failed to set toolbar position")
	}
	return nil
}

// stepLogger returns the logger of the step running in ctx. It carries the
// run ID, the step name and, when tracing, the trace ID.
func stepLogger(ctx context.Context) zerolog.Logger {
	return telemetry.FromContext(ctx).Zerolog()
}

func packageError(err error) error {
	if err == nil {
		return nil
	}
	var cmdErr *packages.CommandError
	if errors.As(err, &cmdErr) {
		return NewFatalError(fmt.Sprintf("Failed to %s the following packages: %v.", cmdErr.Action, cmdErr.Packages), err).
			WithCode(ErrCodePackages).
			WithDetail(cmdErr.Stderr)
	}
	return NewFatalError("Package manager failed.", err).WithCode(ErrCodePackages)
}

// findFileByName returns the first regular file called name under root.
func findFileByName(root, name string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == name {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("%s not found under %s", name, root)
	}
	return found, nil
}

// without returns names minus drop, preserving order.
func without(names, drop []string) []string {
	skip := make(map[string]bool, len(drop))
	for _, n := range drop {
		skip[n] = true
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !skip[n] {
			out = append(out, n)
		}
	}
	return out
}
