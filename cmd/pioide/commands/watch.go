package commands

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ctag/platformio-atom-ide/pkg/config"
	"github.com/ctag/platformio-atom-ide/pkg/engine"
	"github.com/ctag/platformio-atom-ide/pkg/stores"
	"github.com/ctag/platformio-atom-ide/pkg/watch"
)

func newWatchCommand() *cobra.Command {
	var (
		delay   time.Duration
		initial bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-provision when the config or the packages change",
		Long: `Watch the config file and the packages directory and run the provisioning
workflow whenever they change, for example after a package was removed by
hand or the required versions were edited. Runs never overlap. The config is
read again before every run.`,
		Example: `  # Watch with the default half-second quiet period
  pioide watch

  # Wait longer before reacting and skip the initial run
  pioide watch --delay 5s --initial=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfgFile := configPath
			if cfgFile == "" {
				cfgFile = config.ConfigFile()
			}

			if err := os.MkdirAll(cfg.Paths.PackagesDir, 0o755); err != nil {
				return err
			}
			paths := []string{cfg.Paths.PackagesDir}
			if _, err := os.Stat(filepath.Dir(cfgFile)); err == nil {
				paths = append(paths, filepath.Dir(cfgFile))
			}

			if initial {
				if err := runOnce(ctx); err != nil {
					log.Error().Err(err).Msg("Initial provisioning failed")
				}
			}

			w := watch.New(log.Logger, delay)
			// Only the config file matters in its directory.
			w.Filter = func(event fsnotify.Event) bool {
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					return false
				}
				if filepath.Dir(event.Name) == filepath.Dir(cfgFile) {
					return filepath.Clean(event.Name) == filepath.Clean(cfgFile)
				}
				return true
			}

			log.Info().Strs("paths", paths).Msg("Watching for changes, press Ctrl+C to stop")
			return w.Run(ctx, paths, runOnce)
		},
	}

	cmd.Flags().DurationVar(&delay, "delay", watch.DefaultDelay, "quiet period before reacting to changes")
	cmd.Flags().BoolVar(&initial, "initial", true, "provision once before watching")

	return cmd
}

// runOnce loads the config, runs the workflow without prompts and releases
// everything again.
func runOnce(ctx context.Context) error {
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
	console.SetInteractive(false)
	eng, err := a.engine(ctx, console, nil)
	if err != nil {
		return err
	}

	report, err := eng.Run(ctx)
	if errors.Is(err, engine.ErrRunInProgress) {
		log.Info().Msg("Another run is in progress, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	if report.Status == stores.RunStatusSucceeded {
		a.rememberCustomPath(ctx)
	}
	log.Info().Str("status", string(report.Status)).Msg("Provisioning finished")
	return nil
}
