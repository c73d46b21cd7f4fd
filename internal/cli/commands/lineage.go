package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querylineage/internal/cli/output"
	"github.com/leapstack-labs/querylineage/internal/dag"
	"github.com/leapstack-labs/querylineage/internal/server"
)

// LineageOptions holds options for the lineage command.
type LineageOptions struct {
	Upstream   bool
	Downstream bool
	Depth      int
}

// NewLineageCommand creates the lineage command.
func NewLineageCommand() *cobra.Command {
	opts := &LineageOptions{}

	cmd := &cobra.Command{
		Use:   "lineage <table>",
		Short: "Show lineage for a table",
		Long: `Display the tables a table is loaded from (upstream) and the tables it
feeds (downstream), as recorded in the state database by previous extract runs.

Table names are matched case-insensitively.`,
		Example: `  # Show full lineage for a table
  querylineage lineage dbo.Sales

  # Show only upstream tables
  querylineage lineage dbo.Sales --downstream=false

  # Limit traversal depth
  querylineage lineage dbo.Sales --depth 2

  # Output as JSON
  querylineage lineage dbo.Sales --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLineage(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Upstream, "upstream", true, "Include upstream tables")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", true, "Include downstream tables")
	cmd.Flags().IntVar(&opts.Depth, "depth", 0, "Max traversal depth (0 = unlimited)")

	return cmd
}

func runLineage(cmd *cobra.Command, table string, opts *LineageOptions) error {
	if opts.Depth < 0 {
		return fmt.Errorf("--depth must not be negative")
	}

	cmdCtx := NewCommandContext(cmd)
	store, err := cmdCtx.OpenStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	tables, err := store.ListTables()
	if err != nil {
		return err
	}
	edges, err := store.ListEdges()
	if err != nil {
		return err
	}
	graph := dag.FromStored(tables, edges)

	root, ok := graph.Lookup(table)
	if !ok {
		return fmt.Errorf("table not found: %s", table)
	}

	out := server.Lineage(graph, root, opts.Upstream, opts.Downstream, opts.Depth)

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}
	if len(out.Cycle) > 0 {
		r.Warnf("warning: lineage cycle: %s", strings.Join(out.Cycle, " -> "))
	}

	r.Header(1, "Lineage for: "+root.Name)
	if opts.Upstream {
		r.Header(2, fmt.Sprintf("Upstream tables (%d)", len(out.Upstream)))
		renderHops(r, out.Upstream)
	}
	if opts.Downstream {
		r.Header(2, fmt.Sprintf("Downstream tables (%d)", len(out.Downstream)))
		renderHops(r, out.Downstream)
	}
	return nil
}

func renderHops(r *output.Renderer, hops []server.HopJSON) {
	rows := make([][]any, len(hops))
	for i, h := range hops {
		rows[i] = []any{h.Name, h.Depth}
	}
	r.Table([]string{"table", "depth"}, rows)
	r.Println("")
}
