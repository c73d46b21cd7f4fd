package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querylineage/internal/cli/config"
	"github.com/leapstack-labs/querylineage/internal/cli/output"
	"github.com/leapstack-labs/querylineage/internal/dag"
	"github.com/leapstack-labs/querylineage/internal/engine"
	"github.com/leapstack-labs/querylineage/internal/querylog"
	"github.com/leapstack-labs/querylineage/internal/server"
	"github.com/leapstack-labs/querylineage/pkg/core"
	"github.com/leapstack-labs/querylineage/pkg/filter"
	"github.com/leapstack-labs/querylineage/pkg/timing"
	"github.com/leapstack-labs/querylineage/pkg/window"
)

// ExtractOptions holds options for the extract command.
type ExtractOptions struct {
	DryRun bool
}

// NewExtractCommand creates the extract command.
func NewExtractCommand() *cobra.Command {
	opts := &ExtractOptions{}

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract table lineage from the query log",
		Long: `Read the statements executed over the last --lookback days from the
query log, parse each one, and fold the table references into a lineage graph.

The graph is merged into the state database: edges seen before get their
evidence counts added and their first/last seen times widened.`,
		Example: `  # Extract the last 7 days from pg_stat_statements
  querylineage extract --dialect postgres --driver pgx --dsn "postgres://user@localhost/app"

  # Extract from an exported JSON lines log without saving
  querylineage extract --source-type file --path queries.jsonl --dry-run

  # Skip statements with a starlark predicate
  querylineage extract --filter 'contains(text, "sys.") or startswith(text, "--")'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExtract(cmd, opts)
		},
	}

	addExtractFlags(cmd)
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Print the graph without saving it")

	return cmd
}

// addExtractFlags registers the flags that configure an extraction. Their
// names map onto config keys in the config loader.
func addExtractFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("lookback", config.DefaultLookbackDays, "Days of query log to read before today")
	f.String("source-type", config.DefaultSourceType, "Query log source (sql|file)")
	f.String("driver", "", "database/sql driver for the sql source (pgx|duckdb|sqlite)")
	f.String("dsn", "", "Connection string for the sql source")
	f.String("query", "", "Log query overriding the dialect's")
	f.String("path", "", "Log file for the file source, or the file read by the duckdb log query")
	f.String("format", "", "Log file format (jsonl|yaml)")
	f.String("filter", "", "Starlark predicate; matching statements are skipped")
	f.String("log-filter", "", "SQL predicate pushed into the log query")
	f.Int("workers", 0, "Parser goroutines (0 = number of CPUs)")
	f.Int("queue-size", 0, "Pipeline queue capacity (0 = default)")
	f.Bool("columns", false, "Also extract column-level lineage")
	f.Int("samples", config.DefaultMaxQuerySamples, "Sample queries kept per edge")
	f.String("policy", config.DefaultSchemaPolicy, "Default-schema sentinel policy (strip|keep)")

	_ = cmd.RegisterFlagCompletionFunc("source-type", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return querylog.Types(), cobra.ShellCompDirectiveNoFileComp
	})
	_ = cmd.RegisterFlagCompletionFunc("policy", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"strip", "keep"}, cobra.ShellCompDirectiveNoFileComp
	})
}

func runExtract(cmd *cobra.Command, opts *ExtractOptions) error {
	cmdCtx := NewCommandContext(cmd)

	var sink engine.Sink = discardSink{}
	if !opts.DryRun {
		store, err := cmdCtx.OpenStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		sink = store
	}

	run, res, err := Extract(cmd.Context(), cmdCtx.Cfg, cmdCtx.Logger, sink)
	if err != nil {
		return err
	}
	if cyclic, path := dag.FromLineage(res.Graph).HasCycle(); cyclic {
		cmdCtx.Renderer.Warnf("warning: lineage cycle: %s", strings.Join(path, " -> "))
	}
	return renderExtract(cmdCtx.Renderer, run, res)
}

// Extract runs one extraction with cfg and hands the graph to sink.
func Extract(ctx context.Context, cfg *config.Config, logger *slog.Logger, sink engine.Sink) (*core.Run, *engine.Result, error) {
	if err := cfg.ValidateExtract(); err != nil {
		return nil, nil, err
	}
	d, err := cfg.ResolveDialect()
	if err != nil {
		return nil, nil, err
	}
	w, err := window.ComputeNow(cfg.LookbackDays)
	if err != nil {
		return nil, nil, err
	}
	f, err := filter.Compile(cfg.Filter, filter.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}

	src, err := querylog.New(cfg.Source, d, logger)
	if err != nil {
		return nil, nil, err
	}
	if c, ok := src.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	ex, err := engine.New(engine.Config{
		Dialect:         d,
		Source:          src,
		Window:          w,
		Filter:          f,
		Workers:         cfg.Workers,
		QueueSize:       cfg.QueueSize,
		ColumnLineage:   cfg.ColumnLineage,
		MaxQuerySamples: cfg.MaxQuerySamples,
		Logger:          logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return ex.Run(ctx, sink)
}

// discardSink drops the graph. Used by --dry-run.
type discardSink struct{}

func (discardSink) SaveGraph(context.Context, string, core.LineageGraph) error { return nil }

// ExtractJSON is the JSON output of the extract command.
type ExtractJSON struct {
	Run     server.RunJSON          `json:"run"`
	Elapsed string                  `json:"elapsed"`
	Edges   []server.EdgeJSON       `json:"edges"`
	Columns []server.ColumnEdgeJSON `json:"columns,omitempty"`
}

func renderExtract(r *output.Renderer, run *core.Run, res *engine.Result) error {
	edges := make([]server.EdgeJSON, len(res.Graph.Edges))
	for i, e := range res.Graph.Edges {
		sample := ""
		if len(e.Queries) > 0 {
			sample = e.Queries[0]
		}
		edges[i] = server.EdgeJSON{
			From:          e.From.Name,
			To:            e.To.Name,
			EvidenceCount: e.EvidenceCount,
			FirstSeen:     e.FirstSeen,
			LastSeen:      e.LastSeen,
			LastRunID:     run.ID,
			SampleQuery:   sample,
		}
	}

	if r.EffectiveMode() == output.ModeJSON {
		out := ExtractJSON{Run: server.ToRunJSON(run), Elapsed: timing.FormatDuration(res.Duration), Edges: edges}
		for _, c := range res.Graph.Columns {
			out.Columns = append(out.Columns, server.ColumnEdgeJSON(c))
		}
		return r.JSON(out)
	}

	r.Header(1, "Run "+run.ID)
	r.KeyValue("Status", run.Status)
	r.KeyValue("Dialect", run.Dialect)
	r.KeyValue("Window", fmt.Sprintf("%s .. %s", run.WindowStart.Format(time.DateOnly), run.WindowEnd.Format(time.DateOnly)))
	r.KeyValue("Read", res.Stats.Read)
	r.KeyValue("Filtered", res.Stats.Filtered)
	r.KeyValue("Unparsable", res.Stats.Unparsable)
	r.KeyValue("Empty", res.Stats.Empty)
	r.KeyValue("Folded", res.Stats.Folded)
	r.KeyValue("Tables", res.Stats.Nodes)
	r.KeyValue("Edges", res.Stats.Edges)
	r.KeyValue("Elapsed", timing.FormatDuration(res.Duration))
	r.Println("")

	rows := make([][]any, len(edges))
	for i, e := range edges {
		rows[i] = []any{e.From, e.To, e.EvidenceCount, e.FirstSeen.Format(time.DateTime), e.LastSeen.Format(time.DateTime)}
	}
	r.Table([]string{"from", "to", "evidence", "first seen", "last seen"}, rows)

	if len(res.Graph.Columns) > 0 {
		r.Println("")
		renderColumnEdges(r, res.Graph.Columns)
	}
	return nil
}

func renderColumnEdges(r *output.Renderer, cols []core.ColumnEdge) {
	rows := make([][]any, len(cols))
	for i, c := range cols {
		rows[i] = []any{c.FromTable + "." + c.FromColumn, c.ToTable + "." + c.ToColumn, c.EvidenceCount}
	}
	r.Table([]string{"from column", "to column", "evidence"}, rows)
}
