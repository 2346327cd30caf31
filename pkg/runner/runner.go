// Package runner executes external commands for the provisioning engine.
//
// A non-zero exit status is never reported as an error. Callers inspect
// Result.ExitCode and decide whether the command was an availability check
// (absence is acceptable) or a step that must succeed. An error is returned only when the
// process could not be started or waited on.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Command describes a process to run.
type Command struct {
	// Name is the executable name or path.
	Name string

	// Args are the command arguments.
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env is the process environment. A nil map inherits the environment of
	// the current process; a non-nil map, even an empty one, is used as-is.
	Env map[string]string

	// Stderr, when set, receives stderr output as it is produced in addition
	// to the captured Result.Stderr.
	Stderr io.Writer
}

// Result holds the outcome of a finished process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports whether the process exited with status 0.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Runner starts processes.
type Runner struct {
	logger zerolog.Logger
}

// New creates a runner that logs with the given logger.
func New(logger zerolog.Logger) *Runner {
	return &Runner{logger: logger.With().Str("component", "runner").Logger()}
}

// Default returns a runner backed by the global logger.
func Default() *Runner {
	return New(log.Logger)
}

// RunSync runs a command to completion, blocking the caller. It is intended
// for quick readiness checks.
func (r *Runner) RunSync(cmd Command) (*Result, error) {
	p, err := r.Start(context.Background(), cmd)
	if err != nil {
		return &Result{ExitCode: -1}, err
	}
	return p.Wait()
}

// Run starts a command and waits for it to exit. The process is killed if ctx
// is canceled first.
func (r *Runner) Run(ctx context.Context, cmd Command) (*Result, error) {
	p, err := r.Start(ctx, cmd)
	if err != nil {
		return &Result{ExitCode: -1}, err
	}
	return p.Wait()
}

// Start launches a command and returns immediately. The process is killed if
// ctx is canceled before it exits.
func (r *Runner) Start(ctx context.Context, cmd Command) (*Process, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("command name is required")
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	if cmd.Dir != "" {
		c.Dir = cmd.Dir
	}
	if cmd.Env != nil {
		c.Env = environ(cmd.Env)
	}

	p := &Process{
		cmd:  c,
		done: make(chan struct{}),
	}
	c.Stdout = &p.stdout
	if cmd.Stderr != nil {
		c.Stderr = io.MultiWriter(&p.stderr, cmd.Stderr)
	} else {
		c.Stderr = &p.stderr
	}

	r.logger.Debug().
		Str("command", cmd.Name).
		Strs("args", cmd.Args).
		Str("dir", cmd.Dir).
		Bool("inherit_env", cmd.Env == nil).
		Msg("starting process")

	p.start = time.Now()
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Name, err)
	}

	go p.wait(r.logger, cmd.Name)

	return p, nil
}

// LookPath reports the resolved path of an executable, or an error when it
// cannot be found on PATH.
func (r *Runner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// OpenURL opens a URL with the platform's default handler.
func (r *Runner) OpenURL(url string) error {
	var cmd Command
	switch runtime.GOOS {
	case "darwin":
		cmd = Command{Name: "open", Args: []string{url}}
	case "windows":
		cmd = Command{Name: "rundll32", Args: []string{"url.dll,FileProtocolHandler", url}}
	default:
		cmd = Command{Name: "xdg-open", Args: []string{url}}
	}
	_, err := r.Start(context.Background(), cmd)
	return err
}

// Process is a running command.
type Process struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr lockedBuffer
	start  time.Time

	done   chan struct{}
	result *Result
	err    error
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits and returns its result.
func (p *Process) Wait() (*Result, error) {
	<-p.done
	return p.result, p.err
}

func (p *Process) wait(logger zerolog.Logger, name string) {
	defer close(p.done)

	err := p.cmd.Wait()
	result := &Result{
		Stdout:   p.stdout.String(),
		Stderr:   p.stderr.String(),
		Duration: time.Since(p.start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			p.err = fmt.Errorf("failed to wait for %s: %w", name, err)
		}
	}
	p.result = result

	logger.Debug().
		Str("command", name).
		Int("exit_code", result.ExitCode).
		Int("stdout_len", len(result.Stdout)).
		Int("stderr_len", len(result.Stderr)).
		Dur("duration", result.Duration).
		Msg("process exited")
}

// lockedBuffer guards the stderr buffer, which is written by the exec copy
// goroutine while a tee writer may be reading progress elsewhere.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func environ(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
