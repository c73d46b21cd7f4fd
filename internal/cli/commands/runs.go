package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querylineage/internal/cli/output"
	"github.com/leapstack-labs/querylineage/internal/server"
	"github.com/leapstack-labs/querylineage/pkg/core"
	"github.com/leapstack-labs/querylineage/pkg/timing"
)

// RunsOptions holds options for the runs command.
type RunsOptions struct {
	Limit int
}

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	opts := &RunsOptions{}

	cmd := &cobra.Command{
		Use:   "runs [id]",
		Short: "Show extraction run history",
		Long: `List recent extraction runs, newest first, or show a single run with its
counters when an id is given.`,
		Example: `  # Last 10 runs
  querylineage runs --limit 10

  # One run as JSON
  querylineage runs 6f1c... -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runShowRun(cmd, args[0])
			}
			return runListRuns(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "Maximum number of runs to list")

	return cmd
}

func runListRuns(cmd *cobra.Command, opts *RunsOptions) error {
	if opts.Limit < 1 {
		return fmt.Errorf("--limit must be at least 1")
	}
	cmdCtx := NewCommandContext(cmd)
	store, err := cmdCtx.OpenStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(opts.Limit)
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		out := make([]server.RunJSON, len(runs))
		for i, run := range runs {
			out[i] = server.ToRunJSON(run)
		}
		return r.JSON(out)
	}

	r.Header(1, "Runs")
	rows := make([][]any, len(runs))
	for i, run := range runs {
		rows[i] = []any{run.ID, run.Status, run.Dialect, run.StartedAt.Format(time.DateTime), runDuration(run), run.Stats.Edges}
	}
	r.Table([]string{"id", "status", "dialect", "started", "duration", "edges"}, rows)
	return nil
}

func runShowRun(cmd *cobra.Command, id string) error {
	cmdCtx := NewCommandContext(cmd)
	store, err := cmdCtx.OpenStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	run, err := store.GetRun(id)
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(server.ToRunJSON(run))
	}

	r.Header(1, "Run "+run.ID)
	r.KeyValue("Status", run.Status)
	r.KeyValue("Dialect", run.Dialect)
	r.KeyValue("Window", fmt.Sprintf("%s .. %s", run.WindowStart.Format(time.DateOnly), run.WindowEnd.Format(time.DateOnly)))
	r.KeyValue("Started", run.StartedAt.Format(time.DateTime))
	r.KeyValue("Duration", runDuration(run))
	r.KeyValue("Read", run.Stats.Read)
	r.KeyValue("Filtered", run.Stats.Filtered)
	r.KeyValue("Unparsable", run.Stats.Unparsable)
	r.KeyValue("Empty", run.Stats.Empty)
	r.KeyValue("Folded", run.Stats.Folded)
	r.KeyValue("Tables", run.Stats.Nodes)
	r.KeyValue("Edges", run.Stats.Edges)
	if run.Error != "" {
		r.KeyValue("Error", run.Error)
	}
	return nil
}

func runDuration(run *core.Run) string {
	if run.CompletedAt == nil {
		return "-"
	}
	return timing.FormatDuration(run.CompletedAt.Sub(run.StartedAt))
}
