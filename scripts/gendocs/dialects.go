package main

import (
	"fmt"
	"log"
	"os"

	"github.com/leapstack-labs/querylineage/pkg/dialect"
)

// generateDialectDocs writes a reference page for the registered dialects.
func generateDialectDocs(outDir string) error {
	log.Printf("Generating dialect docs to %s", outDir)

	if err := os.MkdirAll(outDir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return writeDoc(outDir, "index.md", renderDialectDocs())
}

// renderDialectDocs renders a table of the registered dialects followed by
// each dialect's log query.
func renderDialectDocs() []byte {
	w := NewMarkdownWriter()
	w.Frontmatter("Dialects", "SQL dialects understood by querylineage")
	w.GeneratedMarker()
	w.Header(1, "Dialects")
	w.Paragraph("Select a dialect with `--dialect` or the `dialect` config key.")

	headers := []string{"Dialect", "Default schema", "Sentinel", "Policy", "Placeholder", "Log query"}
	var rows [][]string
	for _, name := range dialect.List() {
		d, _ := dialect.Get(name)
		logQuery := "no"
		if d.LogQuery != "" {
			logQuery = "yes"
		}
		rows = append(rows, []string{
			InlineCode(d.Name),
			d.DefaultSchema,
			d.SchemaSentinel,
			string(d.SentinelPolicy),
			InlineCode(d.FormatPlaceholder(1)),
			logQuery,
		})
	}
	w.Table(headers, rows)

	for _, name := range dialect.List() {
		d, _ := dialect.Get(name)
		if d.LogQuery == "" {
			continue
		}
		w.Header(2, d.Name)
		w.CodeBlock("sql", d.LogQuery)
	}

	return w.Bytes()
}
