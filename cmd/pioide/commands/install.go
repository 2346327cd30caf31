package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ctag/platformio-atom-ide/pkg/activation"
	"github.com/ctag/platformio-atom-ide/pkg/config"
	"github.com/ctag/platformio-atom-ide/pkg/engine"
	"github.com/ctag/platformio-atom-ide/pkg/notify"
	"github.com/ctag/platformio-atom-ide/pkg/stores"
)

func newInstallCommand() *cobra.Command {
	var (
		quiet       bool
		metricsFile string
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install or repair the PlatformIO toolchain",
		Long: `Run the provisioning workflow.

The workflow:
  - Checks that Python runs, offering to open the download page if not
  - Creates the isolated environment and installs PlatformIO Core into it
  - Installs bundled IDE packages on the first run
  - Removes stale packages, installs missing ones and upgrades outdated ones
  - Activates the required packages
  - Checks that the platformio command runs in the activated environment
  - Warns once when clang, used for code completion, is missing

Press Ctrl+C to cancel. The step in progress finishes, the remaining steps
are skipped and the partially created environment is removed.`,
		Example: `  # Install interactively
  pioide install

  # Install without prompts or progress output
  pioide install --quiet

  # Export Prometheus metrics for node_exporter
  pioide install --metrics-file /var/lib/node_exporter/pioide.prom`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, func(cfg *config.Config) {
				if metricsFile != "" {
					cfg.Telemetry.Metrics.TextfilePath = metricsFile
				}
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(ctx); err != nil {
					log.Warn().Err(err).Msg("Failed to close")
				}
			}()
			ctx = a.tel.WithContext(ctx)

			var (
				notifier engine.Notifier
				views    engine.ViewFactory
				recorder *notify.Recorder
			)
			if quiet {
				recorder = notify.NewRecorder()
				notifier = recorder
			} else {
				console := a.console()
				notifier = console
				views = console
			}

			eng, err := a.engine(ctx, notifier, views)
			if err != nil {
				return err
			}

			report, err := eng.Run(ctx)
			if err != nil {
				logRecorded(recorder)
				return err
			}

			if report.Status == stores.RunStatusSucceeded {
				a.rememberCustomPath(ctx)
				if err := afterInstall(ctx, eng, report.Environment); err != nil {
					logRecorded(recorder)
					return err
				}
			}
			logRecorded(recorder)

			log.Info().
				Str("run_id", report.RunID).
				Str("status", string(report.Status)).
				Int("step", report.State.Step).
				Int("total", report.State.Total).
				Msg("Provisioning finished")

			if report.Status == stores.RunStatusCancelled {
				fmt.Fprintln(cmd.OutOrStdout(), "PlatformIO IDE installation was canceled.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "no prompts or progress output; a missing Python aborts the run")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file when done")

	return cmd
}

// afterInstall activates env in this process, checks that platformio runs
// and that clang is present.
func afterInstall(ctx context.Context, eng *engine.Engine, env activation.EnvironmentContext) error {
	if err := env.Apply(); err != nil {
		return fmt.Errorf("failed to activate environment: %w", err)
	}
	if err := eng.Verify(ctx, env); err != nil {
		return err
	}
	if err := eng.CheckClang(ctx); err != nil {
		log.Warn().Err(err).Msg("Clang check failed")
	}
	return nil
}

// logRecorded sends notifications collected in quiet mode to the log.
func logRecorded(recorder *notify.Recorder) {
	if recorder == nil {
		return
	}
	for _, msg := range recorder.Warnings() {
		log.Warn().Str("detail", msg.Detail).Msg(msg.Title)
	}
	for _, msg := range recorder.Errors() {
		log.Error().Str("detail", msg.Detail).Msg(msg.Title)
	}
}
