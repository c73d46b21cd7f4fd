package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querylineage/internal/cli/output"
	"github.com/leapstack-labs/querylineage/pkg/dialect"
)

// DialectJSON describes a registered dialect.
type DialectJSON struct {
	Name           string `json:"name"`
	DefaultSchema  string `json:"default_schema,omitempty"`
	SchemaSentinel string `json:"schema_sentinel,omitempty"`
	SentinelPolicy string `json:"sentinel_policy,omitempty"`
	Placeholder    string `json:"placeholder"`
	HasLogQuery    bool   `json:"has_log_query"`
}

// NewDialectsCommand creates the dialects command.
func NewDialectsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dialects",
		Short: "List supported SQL dialects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDialects(cmd)
		},
	}
}

func runDialects(cmd *cobra.Command) error {
	r := NewCommandContext(cmd).Renderer

	var out []DialectJSON
	for _, name := range dialect.List() {
		d, ok := dialect.Get(name)
		if !ok {
			continue
		}
		out = append(out, DialectJSON{
			Name:           d.Name,
			DefaultSchema:  d.DefaultSchema,
			SchemaSentinel: d.SchemaSentinel,
			SentinelPolicy: string(d.SentinelPolicy),
			Placeholder:    d.FormatPlaceholder(1),
			HasLogQuery:    d.LogQuery != "",
		})
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}

	rows := make([][]any, len(out))
	for i, d := range out {
		logQuery := "no"
		if d.HasLogQuery {
			logQuery = "yes"
		}
		rows[i] = []any{d.Name, d.DefaultSchema, d.SchemaSentinel, d.SentinelPolicy, d.Placeholder, logQuery}
	}
	r.Table([]string{"dialect", "default schema", "sentinel", "policy", "placeholder", "log query"}, rows)
	return nil
}
