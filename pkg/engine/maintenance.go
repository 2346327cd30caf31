package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ctag/platformio-atom-ide/pkg/activation"
	"github.com/ctag/platformio-atom-ide/pkg/runner"
)

const (
	clangCheckedSetting = "platformio-ide:clang-checked"

	toolUnavailableTitle  = "PlatformIO tool is not available."
	toolUnavailableDetail = "Can not find `platformio` command. Please install it using " +
		"`pip install platformio` or enable built-in PlatformIO tool in the settings.\nDetails:\n"

	clangMissingTitle  = "Clang is not installed in your system!"
	clangMissingDetail = "PlatformIO IDE uses \"clang\" for the code autocompletion.\n" +
		"Please install it otherwise this feature will be disabled.\n" +
		"Details: http://docs.platformio.org/en/latest/ide/atom.html#code-completion"
)

// goos is the target platform of InstallCommands.
var goos = runtime.GOOS

// Verify runs the platformio command in env and reports a failure to the
// user together with the command's stderr. The command is resolved on the
// process PATH, so callers apply env to the process first.
func (e *Engine) Verify(ctx context.Context, env activation.EnvironmentContext) error {
	path, err := e.deps.Runner.LookPath("platformio")
	if err != nil {
		return e.toolUnavailable(err, err.Error())
	}

	stderr := runner.NewLineWriter(func(line string) {
		e.logger.Debug().Str("stream", "stderr").Msg(line)
	})
	res, err := e.deps.Runner.Run(ctx, runner.Command{
		Name:   path,
		Env:    env.Map(),
		Stderr: stderr,
	})
	stderr.Flush()
	if err != nil {
		return e.toolUnavailable(err, err.Error())
	}
	if !res.Success() {
		return e.toolUnavailable(fmt.Errorf("exit code %d", res.ExitCode), res.Stderr)
	}

	e.logger.Info().Str("path", path).Msg("platformio is available")
	return nil
}

func (e *Engine) toolUnavailable(err error, stderr string) error {
	detail := toolUnavailableDetail + stderr
	e.deps.Notifier.NotifyError(toolUnavailableTitle, detail)
	e.metrics.RecordError(string(ErrorClassFatal))
	e.logger.Error().Err(err).Str("stderr", stderr).Msg(toolUnavailableTitle)
	return NewFatalError(toolUnavailableTitle, err).WithCode(ErrCodeProcess).WithDetail(stderr)
}

// InstallCommands makes platformio and pio available in the user's shell.
// Nothing is done when a plain shell already finds platformio. Otherwise the
// isolated environment's executables are linked into CommandsDir; when that
// is not permitted the user gets the commands to run by hand.
func (e *Engine) InstallCommands(ctx context.Context) error {
	if goos == "windows" {
		return e.installCommandsWindows()
	}

	// An empty environment keeps the isolated environment off PATH.
	res, err := e.deps.Runner.RunSync(runner.Command{
		Name: "/bin/sh",
		Args: []string{"-c", "command -v platformio"},
		Env:  map[string]string{},
	})
	if err == nil && res.Success() {
		e.deps.Notifier.NotifySuccess("PlatformIO: Shell Commands installation skipped. " +
			"Commands are already available in your shell.")
		return nil
	}

	links := e.commandLinks()
	for _, l := range links {
		if err := os.Symlink(l[0], l[1]); err != nil {
			msg := "Please install shell commands manually. Open system Terminal and paste commands below:\n"
			for _, l := range links {
				msg += fmt.Sprintf("\n$ sudo ln -s %s %s", l[0], l[1])
			}
			e.deps.Notifier.NotifyError("PlatformIO: Failed to install commands", msg)
			e.logger.Error().Err(err).Str("dir", e.opts.CommandsDir).Msg("failed to link commands")
			return NewFatalError("Failed to install commands", err).WithCode(ErrCodeProcess).WithDetail(msg)
		}
	}

	e.logger.Info().Str("dir", e.opts.CommandsDir).Msg("linked platformio commands")
	e.deps.Notifier.NotifySuccess("PlatformIO commands have been successfully installed")
	return nil
}

// installCommandsWindows has no links to make: the environment's Scripts
// directory has to be on PATH.
func (e *Engine) installCommandsWindows() error {
	res, err := e.deps.Runner.RunSync(runner.Command{Name: "platformio", Args: []string{"--version"}})
	if err == nil && res.Success() {
		e.deps.Notifier.NotifySuccess("PlatformIO: Shell Commands installation skipped. " +
			"Commands are already available in your shell.")
		return nil
	}
	detail := fmt.Sprintf("Add %s to the PATH environment variable.", e.opts.EnvBinDir)
	e.deps.Notifier.NotifyError("Failed to install PlatformIO commands!", detail)
	return NewFatalError("Failed to install PlatformIO commands!", err).WithCode(ErrCodeProcess).WithDetail(detail)
}

// commandLinks returns target and link path pairs.
func (e *Engine) commandLinks() [][2]string {
	var links [][2]string
	for _, name := range []string{"platformio", "pio"} {
		links = append(links, [2]string{
			filepath.Join(e.opts.EnvBinDir, name),
			filepath.Join(e.opts.CommandsDir, name),
		})
	}
	return links
}

// CheckClang warns once when clang, used for code completion, is missing.
// The check is remembered in the preferences and not repeated.
func (e *Engine) CheckClang(ctx context.Context) error {
	prefs := e.deps.Preferences
	if prefs != nil {
		checked, ok, err := prefs.GetSetting(ctx, clangCheckedSetting)
		if err != nil {
			e.logger.Warn().Err(err).Msg("failed to read clang check flag")
		} else if ok && strings.TrimSpace(checked) != "" {
			return nil
		}
	}

	res, err := e.deps.Runner.RunSync(runner.Command{Name: "clang", Args: []string{"--version"}})
	if err != nil || !res.Success() {
		e.logger.Warn().Err(err).Msg("clang is not available")
		e.deps.Notifier.NotifyWarning(clangMissingTitle, clangMissingDetail)
	}

	if prefs == nil {
		return nil
	}
	if err := prefs.SetSetting(ctx, clangCheckedSetting, "1"); err != nil {
		return NewPersistenceError("failed to remember the clang check", err).WithCode(ErrCodeState)
	}
	return nil
}
