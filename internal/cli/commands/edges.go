package commands

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querylineage/internal/cli/output"
	"github.com/leapstack-labs/querylineage/internal/dag"
	"github.com/leapstack-labs/querylineage/internal/server"
	"github.com/leapstack-labs/querylineage/pkg/core"
)

// EdgesOptions holds options for the edges command.
type EdgesOptions struct {
	Table   string
	Columns bool
}

// NewEdgesCommand creates the edges command.
func NewEdgesCommand() *cobra.Command {
	opts := &EdgesOptions{}

	cmd := &cobra.Command{
		Use:   "edges",
		Short: "List stored lineage edges",
		Long: `List the table edges merged into the state database across all runs, with
their evidence counts and the first and last time they were observed.`,
		Example: `  # All edges
  querylineage edges

  # Edges touching one table, with column lineage
  querylineage edges --table dbo.Sales --columns`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEdges(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Table, "table", "", "Only edges that read or write this table")
	cmd.Flags().BoolVar(&opts.Columns, "columns", false, "Also list column edges")

	return cmd
}

// EdgesJSON is the JSON output of the edges command.
type EdgesJSON struct {
	Edges   []server.EdgeJSON       `json:"edges"`
	Columns []server.ColumnEdgeJSON `json:"columns,omitempty"`
}

func runEdges(cmd *cobra.Command, opts *EdgesOptions) error {
	cmdCtx := NewCommandContext(cmd)
	store, err := cmdCtx.OpenStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	stored, err := store.ListEdges()
	if err != nil {
		return err
	}
	out := EdgesJSON{Edges: []server.EdgeJSON{}}
	for _, e := range stored {
		if opts.Table != "" && !touches(e, opts.Table) {
			continue
		}
		out.Edges = append(out.Edges, server.ToEdgeJSON(e))
	}

	var cols []core.ColumnEdge
	if opts.Columns {
		cols, err = store.ListColumnEdges(opts.Table)
		if err != nil {
			return err
		}
		for _, c := range cols {
			out.Columns = append(out.Columns, server.ColumnEdgeJSON(c))
		}
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}

	r.Header(1, "Edges")
	rows := make([][]any, len(out.Edges))
	for i, e := range out.Edges {
		rows[i] = []any{e.From, e.To, e.EvidenceCount, e.FirstSeen.Format(time.DateTime), e.LastSeen.Format(time.DateTime)}
	}
	r.Table([]string{"from", "to", "evidence", "first seen", "last seen"}, rows)

	if opts.Columns {
		r.Println("")
		r.Header(2, "Column edges")
		renderColumnEdges(r, cols)
	}
	return nil
}

func touches(e core.StoredEdge, table string) bool {
	return strings.EqualFold(e.FromName, table) || strings.EqualFold(e.ToName, table) ||
		strings.EqualFold(e.FromKey, table) || strings.EqualFold(e.ToKey, table)
}

// NewTablesCommand creates the tables command.
func NewTablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables seen in the query log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTables(cmd)
		},
	}
}

func runTables(cmd *cobra.Command) error {
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
	out := server.ToTablesJSON(tables, dag.FromStored(tables, edges))

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}

	r.Header(1, "Tables")
	rows := make([][]any, len(out))
	for i, t := range out {
		rows[i] = []any{t.Name, t.Role, t.FirstSeen.Format(time.DateTime), t.LastSeen.Format(time.DateTime)}
	}
	r.Table([]string{"table", "role", "first seen", "last seen"}, rows)
	return nil
}
