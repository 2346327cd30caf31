package packages

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog"

	"github.com/ctag/platformio-atom-ide/pkg/runner"
)

// Runner runs a process to completion.
type Runner interface {
	Run(ctx context.Context, cmd runner.Command) (*runner.Result, error)
}

// Pip drives the pip executable of an isolated environment. Like the
// runner, a non-zero exit status is returned in the result, not as an error.
type Pip struct {
	executable string
	runner     Runner
	env        map[string]string
	logger     zerolog.Logger
}

// NewPip creates a pip client for the environment whose executables live in
// binDir.
func NewPip(binDir string, r Runner, logger zerolog.Logger) *Pip {
	name := "pip"
	if runtime.GOOS == "windows" {
		name = "pip.exe"
	}
	return &Pip{
		executable: filepath.Join(binDir, name),
		runner:     r,
		logger:     logger.With().Str("component", "pip").Logger(),
	}
}

// WithEnv returns a copy that runs pip with env. A nil env inherits the
// process environment.
func (p *Pip) WithEnv(env map[string]string) *Pip {
	cp := *p
	cp.env = env
	return &cp
}

// Executable returns the pip path.
func (p *Pip) Executable() string {
	return p.executable
}

// Install installs specs, which are package names or archive URLs. upgrade
// adds -U.
func (p *Pip) Install(ctx context.Context, upgrade bool, specs ...string) (*runner.Result, error) {
	args := []string{"install"}
	if upgrade {
		args = append(args, "-U")
	}
	return p.run(ctx, append(args, specs...))
}

// Uninstall removes packages without prompting.
func (p *Pip) Uninstall(ctx context.Context, names ...string) (*runner.Result, error) {
	return p.run(ctx, append([]string{"uninstall", "-y"}, names...))
}

func (p *Pip) run(ctx context.Context, args []string) (*runner.Result, error) {
	stderr := runner.NewLineWriter(func(line string) {
		p.logger.Debug().Str("stream", "stderr").Msg(line)
	})
	defer stderr.Flush()

	p.logger.Info().Strs("args", args).Msg("running pip")
	res, err := p.runner.Run(ctx, runner.Command{
		Name:   p.executable,
		Args:   args,
		Env:    p.env,
		Stderr: stderr,
	})
	if err != nil {
		return res, fmt.Errorf("failed to run pip: %w", err)
	}
	return res, nil
}
