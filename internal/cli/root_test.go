package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/querylineage/internal/cli/commands"
	"github.com/leapstack-labs/querylineage/internal/cli/config"
	clitest "github.com/leapstack-labs/querylineage/internal/cli/testutil"
	"github.com/leapstack-labs/querylineage/internal/server"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	config.ResetConfig()

	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func decode[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(s), &v), s)
	return v
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"extract", "parse", "lineage", "edges", "tables", "runs", "dialects", "serve", "version", "completion"} {
		assert.Contains(t, names, want)
	}
	for _, f := range []string{"config", "dialect", "state", "verbose", "output"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(f), "missing flag --%s", f)
	}
}

func TestRootCmd_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	logPath := clitest.WriteQueryLog(t,
		clitest.LogRecord{Text: "INSERT INTO stg.orders SELECT * FROM raw.orders", At: yesterday},
		clitest.LogRecord{Text: "INSERT INTO mart.sales SELECT o.id FROM stg.orders o JOIN raw.customers c ON c.id = o.customer_id", At: yesterday},
		clitest.LogRecord{Text: "SELECT 1", At: yesterday},
	)
	statePath := filepath.Join(dir, "state", "lineage.db")
	common := []string{"--state", statePath, "--dialect", "postgres", "-o", "json"}

	out, err := execute(t, append([]string{"extract", "--source-type", "file", "--path", logPath}, common...)...)
	require.NoError(t, err)
	extracted := decode[commands.ExtractJSON](t, out)
	assert.Equal(t, "completed", string(extracted.Run.Status))
	assert.Equal(t, 3, extracted.Run.Stats.Read)
	assert.Len(t, extracted.Edges, 3)

	t.Run("lineage", func(t *testing.T) {
		out, err := execute(t, append([]string{"lineage", "MART.SALES"}, common...)...)
		require.NoError(t, err)
		lin := decode[server.LineageJSON](t, out)
		assert.Equal(t, "mart.sales", lin.Root.Name)
		var up []string
		for _, h := range lin.Upstream {
			up = append(up, h.Name)
		}
		assert.ElementsMatch(t, []string{"stg.orders", "raw.customers", "raw.orders"}, up)
		assert.Empty(t, lin.Downstream)
	})

	t.Run("edges for one table", func(t *testing.T) {
		out, err := execute(t, append([]string{"edges", "--table", "stg.orders"}, common...)...)
		require.NoError(t, err)
		edges := decode[commands.EdgesJSON](t, out)
		assert.Len(t, edges.Edges, 2)
	})

	t.Run("tables", func(t *testing.T) {
		out, err := execute(t, append([]string{"tables"}, common...)...)
		require.NoError(t, err)
		tables := decode[[]server.TableJSON](t, out)
		require.Len(t, tables, 4)
		roles := map[string]string{}
		for _, tb := range tables {
			roles[tb.Name] = tb.Role
		}
		assert.Equal(t, server.RoleSource, roles["raw.orders"])
		assert.Equal(t, server.RoleIntermediate, roles["stg.orders"])
		assert.Equal(t, server.RoleSink, roles["mart.sales"])
	})

	t.Run("runs", func(t *testing.T) {
		out, err := execute(t, append([]string{"runs"}, common...)...)
		require.NoError(t, err)
		runs := decode[[]server.RunJSON](t, out)
		require.Len(t, runs, 1)
		assert.Equal(t, extracted.Run.ID, runs[0].ID)

		out, err = execute(t, "runs", extracted.Run.ID, "--state", statePath, "-o", "markdown")
		require.NoError(t, err)
		assert.Contains(t, out, "- **Status:** completed")
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := execute(t, "runs", "nope", "--state", statePath)
		assert.ErrorContains(t, err, "run not found")
	})

	t.Run("unknown table", func(t *testing.T) {
		_, err := execute(t, "lineage", "nope", "--state", statePath)
		assert.ErrorContains(t, err, "table not found: nope")
	})
}

func TestRootCmd_DryRunDoesNotSave(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	logPath := clitest.WriteQueryLog(t, clitest.LogRecord{Text: "INSERT INTO a SELECT * FROM b", At: time.Now().UTC()})
	statePath := filepath.Join(dir, "state.db")

	_, err := execute(t, "extract", "--dry-run", "--source-type", "file", "--path", logPath, "--state", statePath, "-d", "postgres")
	require.NoError(t, err)

	out, err := execute(t, "edges", "--state", statePath, "-o", "json")
	require.NoError(t, err)
	assert.Empty(t, decode[commands.EdgesJSON](t, out).Edges)
}

func TestRootCmd_Parse(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, "parse", "-d", "postgres", "-o", "json", "INSERT INTO mart.sales SELECT * FROM stg.orders")
	require.NoError(t, err)
	stmts := decode[[]commands.StatementJSON](t, out)
	require.Len(t, stmts, 1)
	assert.Equal(t, "INSERT", string(stmts[0].Kind))
	assert.Equal(t, "mart.sales", stmts[0].Target)
	assert.Equal(t, []string{"stg.orders"}, stmts[0].Sources)
}

func TestRootCmd_Dialects(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, "dialects", "-o", "json")
	require.NoError(t, err)
	var names []string
	for _, d := range decode[[]commands.DialectJSON](t, out) {
		names = append(names, d.Name)
	}
	assert.Subset(t, names, []string{"ansi", "databricks", "duckdb", "mssql", "postgres", "snowflake"})
}

func TestRootCmd_ConfigErrors(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad output", []string{"dialects", "-o", "xml"}, "unknown output format"},
		{"missing config file", []string{"dialects", "--config", "nope.yaml"}, "nope.yaml"},
		{"unknown dialect", []string{"parse", "-d", "oracle", "SELECT 1"}, "unknown dialect"},
		{"negative depth", []string{"lineage", "t", "--depth", "-1"}, "--depth must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestRootCmd_VersionAndCompletion(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, "version", "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, Version, decode[commands.VersionJSON](t, out).Version)

	out, err = execute(t, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "querylineage")
}
