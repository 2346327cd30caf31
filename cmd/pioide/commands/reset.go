package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ctag/platformio-atom-ide/pkg/engine"
)

func newResetCommand() *cobra.Command {
	var removeEnv bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget the saved provisioning state",
		Long: `Delete the saved provisioning state so that the next install behaves like
a first run: bundled packages are installed again and first-run preferences
are applied.

With --env the isolated environment is removed too and will be recreated.`,
		Example: `  # Start over on the next install
  pioide reset

  # Also recreate the isolated environment
  pioide reset --env`,
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

			// Refuse while an install holds the lock.
			lock := newLock(a)
			if err := lock.Lock(); err != nil {
				return fmt.Errorf("%w: %w", engine.ErrRunInProgress, err)
			}
			defer func() {
				if err := lock.Unlock(); err != nil {
					log.Warn().Err(err).Msg("Failed to release lock")
				}
			}()

			if err := a.store.DeleteState(ctx, engine.StateKey); err != nil {
				return err
			}
			log.Info().Msg("Provisioning state deleted")

			if removeEnv {
				if err := os.RemoveAll(a.cfg.Paths.EnvDir); err != nil {
					return fmt.Errorf("failed to remove environment: %w", err)
				}
				log.Info().Str("dir", a.cfg.Paths.EnvDir).Msg("Isolated environment removed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&removeEnv, "env", false, "also remove the isolated environment")

	return cmd
}
