package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newInstallCommandsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install-commands",
		Short: "Make platformio and pio available in the shell",
		Long: `Link the platformio and pio executables of the isolated environment into
the commands directory (platformio.commands_dir, /usr/local/bin by default).

Nothing is linked when a shell started with an empty environment already
finds platformio. When the directory is not writable the commands to link
them by hand are printed instead. On Windows the environment's Scripts
directory has to be added to PATH.`,
		Example: `  # Link into /usr/local/bin
  pioide install-commands

  # Link into a directory of your own
  PIOIDE_PLATFORMIO_COMMANDS_DIR=$HOME/.local/bin pioide install-commands`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(ctx); err != nil {
					log.Warn().Err(err).Msg("Failed to close")
				}
			}()

			console := a.console()
			eng, err := a.engine(ctx, console, console)
			if err != nil {
				return err
			}
			return eng.InstallCommands(ctx)
		},
	}
}
