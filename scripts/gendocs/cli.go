package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/leapstack-labs/querylineage/internal/cli"
	"github.com/leapstack-labs/querylineage/internal/cli/config"
)

// keyDocs describes every configuration key. TestKeyDocs keeps it in step
// with the config package.
var keyDocs = map[string]string{
	"dialect":               "SQL dialect of the query log",
	"lookback_days":         "Days of log before today to read",
	"workers":               "Parser goroutines (0 = one per CPU)",
	"queue_size":            "Capacity of each pipeline queue (0 = default)",
	"filter":                "Starlark expression; matching records are skipped",
	"log_filter":            "SQL predicate pushed into the dialect's log query",
	"column_lineage":        "Also extract column-level lineage",
	"default_schema_policy": "Default-schema sentinel handling: strip or keep",
	"max_query_samples":     "Sample queries kept per edge",
	"state_path":            "State database path",
	"verbose":               "Debug logging",
	"output":                "Output format: auto, text, markdown or json",
	"source.type":           "Log source: sql or file",
	"source.driver":         "database/sql driver: pgx, duckdb or sqlite",
	"source.dsn":            "Connection string; ${VAR} is expanded",
	"source.query":          "Replaces the dialect's log query",
	"source.path":           "Exported log file, or the file a DuckDB log query reads",
	"source.format":         "File format: jsonl or yaml (detected from the extension when empty)",
	"server.addr":           "Listen address of serve",
	"server.refresh":        "Re-extract interval while serving (0 = off)",
	"server.watch":          "Re-extract when the file source changes",
}

// generateCLIDocs writes an index page and one page per command.
func generateCLIDocs(outDir string) error {
	log.Printf("Generating CLI docs to %s", outDir)
	if err := os.MkdirAll(outDir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	rootCmd := cli.NewRootCmd()
	if err := writeDoc(outDir, "index.md", renderCLIIndex(rootCmd)); err != nil {
		return err
	}
	for _, cmd := range documentedCommands(rootCmd) {
		if err := writeDoc(outDir, cmd.Name()+".md", renderCommandPage(cmd)); err != nil {
			return err
		}
	}
	return nil
}

func writeDoc(dir, name string, content []byte) error {
	if err := os.WriteFile(filepath.Join(dir, name), content, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	log.Printf("  Generated %s", name)
	return nil
}

func documentedCommands(root *cobra.Command) []*cobra.Command {
	var out []*cobra.Command
	for _, cmd := range root.Commands() {
		if cmd.Hidden || cmd.Name() == "help" || cmd.Name() == "__complete" {
			continue
		}
		out = append(out, cmd)
	}
	return out
}

// renderCLIIndex renders the overview page: commands, global flags and the
// configuration keys with their environment variables.
func renderCLIIndex(root *cobra.Command) []byte {
	w := NewMarkdownWriter()
	w.Frontmatter("CLI Reference", "Command-line interface reference for querylineage")
	w.GeneratedMarker()

	w.Header(1, "CLI Reference")
	w.Paragraph(root.Long)
	w.CodeBlock("bash", "go install github.com/leapstack-labs/querylineage/cmd/querylineage@latest")

	w.Header(2, "Commands")
	var rows [][]string
	for _, cmd := range documentedCommands(root) {
		link := fmt.Sprintf("[%s](/cli/%s)", InlineCode(cmd.Name()), cmd.Name())
		rows = append(rows, []string{link, cleanDescription(cmd.Short)})
	}
	w.Table([]string{"Command", "Description"}, rows)

	w.Header(2, "Global Options")
	writeFlagsTable(w, root.PersistentFlags())

	w.Header(2, "Configuration")
	w.Paragraph(fmt.Sprintf("Values are read from defaults, then %s, then %s variables, then flags; later sources win. "+
		"Nested keys use a double underscore in variable names.",
		InlineCode("querylineage.yaml"), InlineCode(config.EnvPrefix+"*")))
	defaults := config.Defaults()
	rows = nil
	for _, key := range config.Keys() {
		rows = append(rows, []string{
			InlineCode(key),
			InlineCode(config.EnvVar(key)),
			formatDefault(defaults[key]),
			keyDocs[key],
		})
	}
	w.Table([]string{"Key", "Environment", "Default", "Description"}, rows)

	w.Header(2, "Exit Codes")
	w.Table([]string{"Code", "Meaning"}, [][]string{
		{InlineCode("0"), "Success"},
		{InlineCode("1"), "Error (check stderr for details)"},
	})
	return w.Bytes()
}

// renderCommandPage renders the reference page of one command.
func renderCommandPage(cmd *cobra.Command) []byte {
	w := NewMarkdownWriter()
	w.Frontmatter(cmd.Name(), cmd.Short)
	w.GeneratedMarker()

	w.Header(1, cmd.Name())
	if cmd.Long != "" {
		w.Paragraph(cmd.Long)
	} else {
		w.Paragraph(cmd.Short)
	}

	w.Header(2, "Usage")
	w.CodeBlock("bash", cmd.UseLine())

	if cmd.HasLocalFlags() {
		w.Header(2, "Options")
		writeFlagsTable(w, cmd.LocalFlags())
	}
	if cmd.HasInheritedFlags() {
		w.Header(2, "Global Options")
		writeFlagsTable(w, cmd.InheritedFlags())
	}

	if cmd.Example != "" {
		w.Header(2, "Examples")
		w.CodeBlock("bash", cleanExample(cmd.Example))
	}
	return w.Bytes()
}

// writeFlagsTable lists flags with the configuration key and environment
// variable each one overrides.
func writeFlagsTable(w *MarkdownWriter, flags *pflag.FlagSet) {
	var rows [][]string
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		short := ""
		if f.Shorthand != "" {
			short = "-" + f.Shorthand
		}
		key, env := "", ""
		if k, ok := config.FlagKey(f.Name); ok {
			key, env = InlineCode(k), InlineCode(config.EnvVar(k))
		}
		def := f.DefValue
		if f.Value.Type() != "bool" && def != "" {
			def = InlineCode(def)
		}
		rows = append(rows, []string{InlineCode("--" + f.Name), short, def, key, env, cleanDescription(f.Usage)})
	})
	w.Table([]string{"Option", "Short", "Default", "Config key", "Environment", "Description"}, rows)
}

func formatDefault(v any) string {
	s := fmt.Sprint(v)
	switch s {
	case "", "0", "0s", "false":
		return ""
	}
	return InlineCode(s)
}

// cleanExample removes the common indentation of example lines.
func cleanExample(example string) string {
	lines := strings.Split(example, "\n")
	indent := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := len(line) - len(strings.TrimLeft(line, " \t"))
		if indent == -1 || n < indent {
			indent = n
		}
	}
	if indent <= 0 {
		return strings.TrimSpace(example)
	}
	for i, line := range lines {
		if len(line) >= indent {
			lines[i] = line[indent:]
		} else {
			lines[i] = strings.TrimLeft(line, " \t")
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
