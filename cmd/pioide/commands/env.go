package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ctag/platformio-atom-ide/pkg/activation"
)

func newEnvCommand() *cobra.Command {
	var (
		pathOnly bool
		export   bool
	)

	cmd := &cobra.Command{
		Use:   "env",
		Short: "Print the environment provisioned tools run in",
		Long: `Print the process environment PlatformIO runs in: the isolated
environment's bin directory and the custom path on PATH, and the
PLATFORMIO_CALLER and PLATFORMIO_IDE variables.`,
		Example: `  # Print every variable
  pioide env

  # Use the environment in the current shell
  eval "$(pioide env --export)"

  # Print PATH entries one per line
  pioide env --path`,
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

			eng, err := a.engine(ctx, a.console(), nil)
			if err != nil {
				return err
			}
			writeEnv(cmd.OutOrStdout(), eng.Environment(), pathOnly, export)
			return nil
		},
	}

	cmd.Flags().BoolVar(&pathOnly, "path", false, "print only PATH entries")
	cmd.Flags().BoolVar(&export, "export", false, "print shell export statements")

	return cmd
}

func writeEnv(w io.Writer, env activation.EnvironmentContext, pathOnly, export bool) {
	if pathOnly {
		for _, dir := range env.Path() {
			fmt.Fprintln(w, dir)
		}
		return
	}

	vars := env.Environ()
	sort.Strings(vars)
	for _, kv := range vars {
		if !export {
			fmt.Fprintln(w, kv)
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		fmt.Fprintf(w, "export %s='%s'\n", k, strings.ReplaceAll(v, "'", `'\''`))
	}
}
