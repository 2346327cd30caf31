package packages

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ctag/platformio-atom-ide/pkg/runner"
	"github.com/ctag/platformio-atom-ide/pkg/telemetry"
)

// Action is a package manager sub-command.
type Action string

const (
	ActionInstall   Action = "install"
	ActionUninstall Action = "uninstall"
	ActionUpgrade   Action = "upgrade"
)

// CommandError is returned when the package manager exits non-zero.
type CommandError struct {
	Action   Action
	Packages []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("failed to %s the following packages: %s (exit code %d)",
		e.Action, strings.Join(e.Packages, ", "), e.ExitCode)
}

// Starter starts processes.
type Starter interface {
	Start(ctx context.Context, cmd runner.Command) (*runner.Process, error)
}

// Manager drives an external package manager CLI:
//
//	<executable> install|uninstall|upgrade <names...> [--no-confirm]
type Manager struct {
	executable string
	runner     Starter
	logger     zerolog.Logger
	metrics    *telemetry.Metrics
}

// NewManager creates a manager for the given executable.
func NewManager(executable string, r Starter, logger zerolog.Logger, metrics *telemetry.Metrics) *Manager {
	return &Manager{
		executable: executable,
		runner:     r,
		logger:     logger.With().Str("component", "packages").Logger(),
		metrics:    metrics,
	}
}

// Install installs packages.
func (m *Manager) Install(ctx context.Context, names []string) error {
	return m.run(ctx, ActionInstall, names)
}

// Uninstall removes packages.
func (m *Manager) Uninstall(ctx context.Context, names []string) error {
	return m.run(ctx, ActionUninstall, names)
}

// Upgrade upgrades packages without prompting.
func (m *Manager) Upgrade(ctx context.Context, names []string) error {
	return m.run(ctx, ActionUpgrade, names, "--no-confirm")
}

func (m *Manager) run(ctx context.Context, action Action, names []string, extra ...string) error {
	if len(names) == 0 {
		return nil
	}

	args := append([]string{string(action)}, names...)
	args = append(args, extra...)

	logger := telemetry.LoggerFrom(ctx, m.logger).
		WithPackages(names).
		WithField("action", string(action)).
		Zerolog()
	stderr := runner.NewLineWriter(func(line string) {
		logger.Debug().Str("stream", "stderr").Msg(line)
	})

	logger.Info().Msg("running package manager")

	p, err := m.runner.Start(ctx, runner.Command{
		Name:   m.executable,
		Args:   args,
		Stderr: stderr,
	})
	if err != nil {
		m.metrics.RecordPackageOperation(string(action), false)
		return fmt.Errorf("failed to run package manager: %w", err)
	}

	res, err := p.Wait()
	stderr.Flush()
	if err != nil {
		m.metrics.RecordPackageOperation(string(action), false)
		return err
	}
	if !res.Success() {
		m.metrics.RecordPackageOperation(string(action), false)
		return &CommandError{
			Action:   action,
			Packages: names,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		}
	}

	m.metrics.RecordPackageOperation(string(action), true)
	logger.Info().Dur("duration", res.Duration).Msg("package manager finished")
	return nil
}
