package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newReinstallCommand() *cobra.Command {
	var develop bool

	cmd := &cobra.Command{
		Use:   "reinstall",
		Short: "Reinstall PlatformIO Core in the isolated environment",
		Long: `Uninstall PlatformIO Core from the isolated environment and install it
again. With --develop the development snapshot is installed instead of the
configured release.`,
		Example: `  # Reinstall the release
  pioide reinstall

  # Switch to the development snapshot
  pioide reinstall --develop`,
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
			ctx = a.tel.WithContext(ctx)

			console := a.console()
			eng, err := a.engine(ctx, console, nil)
			if err != nil {
				return err
			}
			return eng.Reinstall(ctx, develop)
		},
	}

	cmd.Flags().BoolVar(&develop, "develop", false, "install the development snapshot")

	return cmd
}
