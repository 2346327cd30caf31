package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ctag/platformio-atom-ide/pkg/engine"
	"github.com/ctag/platformio-atom-ide/pkg/stores"
)

// maxEvents caps the events shown per run.
const maxEvents = 1000

// statusOutput is what the status command prints.
type statusOutput struct {
	Installed bool          `json:"installed" yaml:"installed"`
	State     *engine.State `json:"state,omitempty" yaml:"state,omitempty"`
	Runs      []runSummary  `json:"runs,omitempty" yaml:"runs,omitempty"`
}

type runSummary struct {
	ID          string         `json:"id" yaml:"id"`
	Kind        string         `json:"kind" yaml:"kind"`
	Status      string         `json:"status" yaml:"status"`
	StartedAt   time.Time      `json:"startedAt" yaml:"startedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
	Events      []eventSummary `json:"events,omitempty" yaml:"events,omitempty"`
}

type eventSummary struct {
	Step      string    `json:"step,omitempty" yaml:"step,omitempty"`
	Level     string    `json:"level" yaml:"level"`
	Message   string    `json:"message" yaml:"message"`
	Details   string    `json:"details,omitempty" yaml:"details,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

func newStatusCommand() *cobra.Command {
	var (
		output  string
		history int
		events  bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the saved provisioning state",
		Long: `Show the provisioning state saved by the last run and, optionally, the
history of previous runs with their step events.`,
		Example: `  # Show the saved state
  pioide status

  # Show the last five runs as YAML
  pioide status --history 5 --output yaml

  # Include step events
  pioide status --history 1 --events`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch output {
			case "text", "json", "yaml":
			default:
				return fmt.Errorf("unsupported output format %q (use text, json or yaml)", output)
			}

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

			out, err := collectStatus(ctx, a.store, history, events)
			if err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), output, out)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json, yaml)")
	cmd.Flags().IntVar(&history, "history", 0, "number of recent runs to show")
	cmd.Flags().BoolVar(&events, "events", false, "include step events of each run")

	return cmd
}

// statusSource is the part of the store the status command reads.
type statusSource interface {
	LoadState(ctx context.Context, key string) ([]byte, bool, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*stores.Run, error)
	GetEvents(ctx context.Context, runID string, limit, offset int) ([]*stores.Event, error)
}

func collectStatus(ctx context.Context, src statusSource, history int, withEvents bool) (*statusOutput, error) {
	out := &statusOutput{}

	data, ok, err := src.LoadState(ctx, engine.StateKey)
	if err != nil {
		return nil, err
	}
	if ok {
		state, err := engine.DecodeState(data)
		if err != nil {
			log.Warn().Err(err).Msg("Saved state is corrupt; the next install starts fresh")
		} else {
			out.State = state
			out.Installed = state.PlatformIOInstalled
		}
	}

	if history <= 0 {
		return out, nil
	}

	runs, err := src.ListRuns(ctx, history, 0)
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		rs := runSummary{
			ID:          run.ID,
			Kind:        run.Kind,
			Status:      string(run.Status),
			StartedAt:   run.StartedAt,
			CompletedAt: run.CompletedAt,
		}
		if run.Error != nil {
			rs.Error = *run.Error
		}
		if withEvents {
			evs, err := src.GetEvents(ctx, run.ID, maxEvents, 0)
			if err != nil {
				return nil, err
			}
			for _, ev := range evs {
				es := eventSummary{
					Level:     string(ev.Level),
					Message:   ev.Message,
					Timestamp: ev.Timestamp,
				}
				if ev.Step != nil {
					es.Step = *ev.Step
				}
				if ev.Details != nil {
					es.Details = *ev.Details
				}
				rs.Events = append(rs.Events, es)
			}
		}
		out.Runs = append(out.Runs, rs)
	}
	return out, nil
}

func writeStatus(w io.Writer, format string, out *statusOutput) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	}

	if out.State == nil {
		fmt.Fprintln(w, "No saved state. Run `pioide install` first.")
	} else {
		s := out.State
		fmt.Fprintf(w, "PlatformIO installed: %s\n", yesNo(s.PlatformIOInstalled))
		fmt.Fprintf(w, "Python works:         %s\n", yesNo(s.PythonWorks))
		fmt.Fprintf(w, "Progress:             %d/%d (%d%%)\n", s.Step, s.Total, s.Percent())
		fmt.Fprintf(w, "Pending removal:      %s\n", list(s.PackagesToRemove))
		fmt.Fprintf(w, "Pending install:      %s\n", list(s.PackagesToInstall))
		fmt.Fprintf(w, "Pending upgrade:      %s\n", list(s.PackagesToUpgrade))
	}

	for _, run := range out.Runs {
		fmt.Fprintf(w, "\n%s  %-9s %s  %s\n", run.StartedAt.Local().Format(time.DateTime), run.Status, run.Kind, run.ID)
		if run.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", run.Error)
		}
		for _, ev := range run.Events {
			fmt.Fprintf(w, "  [%s] %s: %s\n", ev.Level, ev.Step, ev.Message)
		}
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func list(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}
