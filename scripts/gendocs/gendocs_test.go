package main

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/querylineage/internal/cli"
	"github.com/leapstack-labs/querylineage/internal/cli/config"
)

var update = flag.Bool("update", false, "rewrite golden files")

func command(t *testing.T, root *cobra.Command, name string) *cobra.Command {
	t.Helper()
	for _, cmd := range root.Commands() {
		if cmd.Name() == name {
			return cmd
		}
	}
	t.Fatalf("command %q not found", name)
	return nil
}

func TestRenderCommandPage_Golden(t *testing.T) {
	got := renderCommandPage(command(t, cli.NewRootCmd(), "dialects"))

	golden := filepath.Join("testdata", "dialects.md")
	if *update {
		require.NoError(t, os.WriteFile(golden, got, 0600))
	}
	want, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

func TestRenderCommandPage_MapsFlagsToConfig(t *testing.T) {
	page := string(renderCommandPage(command(t, cli.NewRootCmd(), "extract")))

	assert.Contains(t, page, "## Options")
	assert.Contains(t, page, "| `--dsn` |  |  | `source.dsn` | `QUERYLINEAGE_SOURCE__DSN` |")
	assert.Contains(t, page, "| `--lookback` |  | `7` | `lookback_days` | `QUERYLINEAGE_LOOKBACK_DAYS` |")
	assert.Contains(t, page, "| `--dry-run` |  | false |  |  |", "command-only flags have no config key")
}

func TestRenderCLIIndex(t *testing.T) {
	root := cli.NewRootCmd()
	index := string(renderCLIIndex(root))

	for _, cmd := range documentedCommands(root) {
		assert.Contains(t, index, "[`"+cmd.Name()+"`](/cli/"+cmd.Name()+")")
	}
	assert.NotContains(t, index, "(/cli/help)")

	for _, key := range config.Keys() {
		assert.Contains(t, index, "| `"+key+"` | `"+config.EnvVar(key)+"` |")
	}
	assert.Contains(t, index, "| `server.addr` | `QUERYLINEAGE_SERVER__ADDR` | `127.0.0.1:8765` |")
	assert.Equal(t, strings.Count(index, "```")%2, 0)
}

func TestKeyDocs(t *testing.T) {
	keys := config.Keys()
	for _, key := range keys {
		assert.NotEmpty(t, keyDocs[key], "undocumented config key %s", key)
	}
	for key := range keyDocs {
		assert.Contains(t, keys, key, "documented key %s does not exist", key)
	}
}

func TestWriteFlagsTable(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("workers", 0, "Parser goroutines")
	fs.StringP("format", "f", "jsonl", "Log file format")
	fs.Bool("dry-run", false, "Do not save")
	fs.String("secret", "", "hidden")
	require.NoError(t, fs.MarkHidden("secret"))

	w := NewMarkdownWriter()
	writeFlagsTable(w, fs)

	assert.Equal(t, strings.Join([]string{
		"| Option | Short | Default | Config key | Environment | Description |",
		"| --- | --- | --- | --- | --- | --- |",
		"| `--dry-run` |  | false |  |  | Do not save |",
		"| `--format` | -f | `jsonl` | `source.format` | `QUERYLINEAGE_SOURCE__FORMAT` | Log file format |",
		"| `--workers` |  | `0` | `workers` | `QUERYLINEAGE_WORKERS` | Parser goroutines |",
		"", "",
	}, "\n"), string(w.Bytes()))
}

func TestRenderDialectDocs(t *testing.T) {
	doc := string(renderDialectDocs())
	assert.Contains(t, doc, "| `mssql` | dbo | <default> | strip |")
	assert.Contains(t, doc, "## postgres")
	assert.Contains(t, doc, "```sql")
}

func TestGenerateCLIDocs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, generateCLIDocs(dir))

	assert.FileExists(t, filepath.Join(dir, "index.md"))
	for _, name := range []string{"extract", "lineage", "serve", "dialects"} {
		assert.FileExists(t, filepath.Join(dir, name+".md"))
	}
	assert.NoFileExists(t, filepath.Join(dir, "help.md"))
}

func TestCleanExample(t *testing.T) {
	in := "  # list\n  querylineage edges\n\n    --table t"
	assert.Equal(t, "# list\nquerylineage edges\n\n  --table t", cleanExample(in))
}
