package activation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Options controls how the toolchain environment is prepared.
type Options struct {
	// UseBuiltin selects the isolated environment. When false, EnvBinDir is
	// removed from PATH and the system toolchain is used.
	UseBuiltin bool

	// EnvBinDir is the bin (or Scripts) directory of the isolated environment.
	EnvBinDir string

	// CustomPath is a user supplied directory placed at the front of PATH.
	CustomPath string

	// PreviousCustomPath is the custom directory from an earlier
	// preparation. It is removed before CustomPath is inserted.
	PreviousCustomPath string

	// Caller is exported as PLATFORMIO_CALLER.
	Caller string

	// IDEVersion is exported as PLATFORMIO_IDE.
	IDEVersion string
}

// Prepare returns env adjusted for running the toolchain. It is idempotent.
func Prepare(env EnvironmentContext, opts Options) EnvironmentContext {
	if opts.UseBuiltin {
		env = env.PrependPath(opts.EnvBinDir)
	} else {
		env = env.RemovePath(opts.EnvBinDir)
	}

	if opts.PreviousCustomPath != "" && opts.PreviousCustomPath != opts.CustomPath {
		env = env.RemovePath(opts.PreviousCustomPath)
	}
	if opts.CustomPath != "" {
		env = env.PrependPath(opts.CustomPath)
	}

	if opts.Caller != "" {
		env = env.With("PLATFORMIO_CALLER", opts.Caller)
	}
	if opts.IDEVersion != "" {
		env = env.With("PLATFORMIO_IDE", opts.IDEVersion)
	}
	return env
}

// Activator activates a single package and reports the directory holding its
// executables, or "" when it has none.
type Activator interface {
	ActivatePackage(ctx context.Context, name string) (binDir string, err error)
}

// Activate activates names one at a time in order, waiting for each before
// starting the next. Each activated package's bin directory is prepended to
// PATH. On error the context built so far is returned with the error.
func Activate(ctx context.Context, env EnvironmentContext, activator Activator, names []string, logger zerolog.Logger) (EnvironmentContext, error) {
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return env, err
		}

		binDir, err := activator.ActivatePackage(ctx, name)
		if err != nil {
			return env, fmt.Errorf("failed to activate package %s: %w", name, err)
		}
		if binDir != "" {
			env = env.PrependPath(binDir)
		}

		logger.Debug().Str("package", name).Str("bin_dir", binDir).Msg("package activated")
	}
	return env, nil
}
