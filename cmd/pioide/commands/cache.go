package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ctag/platformio-atom-ide/pkg/config"
)

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the download cache",
		Long: `Inspect the download cache. Archives are downloaded once and reused by
every later run; they are never evicted.`,
	}

	cmd.AddCommand(newCacheListCommand())
	cmd.AddCommand(newCachePathCommand())

	return cmd
}

func newCacheListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached archives",
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

			names, err := a.cache.Entries()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(out, "Cache is empty.")
				return nil
			}
			for _, name := range names {
				info, err := os.Stat(filepath.Join(a.cache.Dir(), name))
				if err != nil {
					continue
				}
				fmt.Fprintf(out, "%-32s %10d\n", name, info.Size())
			}
			return nil
		},
	}
}

func newCachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.Paths.CacheDir)
			return nil
		},
	}
}
