// Package duckdb provides the DuckDB SQL dialect definition.
// This package is pure Go with no database driver dependencies.
package duckdb

import (
	"github.com/leapstack-labs/querylineage/pkg/dialect"
)

func init() {
	dialect.Register(DuckDB)
}

// DuckDB keeps no persistent query history. Logs exported as JSON lines are
// read through read_json_auto; the path comes from source.path and replaces
// {{path}} before the query runs.
const logQuery = `
SELECT
    text AS query_text,
    CAST(executed_at AS TIMESTAMP) AS executed_at,
    * EXCLUDE (text, executed_at)
FROM read_json_auto('{{path}}')
WHERE CAST(executed_at AS TIMESTAMP) >= ? AND CAST(executed_at AS TIMESTAMP) < ?{{filter}}`

// DuckDB is the DuckDB dialect. "main" is DuckDB's default schema and is
// a real name, so it is kept.
var DuckDB = dialect.NewDialect("duckdb").
	Quotes(`""`).
	DefaultSchema("main").
	PlaceholderStyle(dialect.PlaceholderQuestion).
	LogQuery(logQuery).
	Build()
