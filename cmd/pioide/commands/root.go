package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// version is reported as PLATFORMIO_IDE when the config leaves it empty.
	version string
)

// Execute runs the root command
func Execute(ctx context.Context, ver, commit, buildDate string) error {
	version = ver
	rootCmd := newRootCommand(ver, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(ver, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pioide",
		Short: "pioide - PlatformIO IDE toolchain provisioning",
		Long: `pioide installs and repairs the PlatformIO toolchain used by the IDE.

It checks that Python works, bootstraps an isolated virtualenv with
PlatformIO Core, and keeps the IDE packages PlatformIO depends on installed,
up to date and activated. Progress is saved, so an interrupted install picks
up where it left off on the next run.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", ver, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default $XDG_CONFIG_HOME/pioide/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newInstallCommand())
	rootCmd.AddCommand(newInstallCommandsCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newResetCommand())
	rootCmd.AddCommand(newReinstallCommand())
	rootCmd.AddCommand(newEnvCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newCacheCommand())

	return rootCmd
}
