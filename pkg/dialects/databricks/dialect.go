// Package databricks provides the Databricks SQL dialect definition.
// This package is pure Go with no database driver dependencies.
package databricks

import (
	"github.com/leapstack-labs/querylineage/pkg/dialect"
)

func init() {
	dialect.Register(Databricks)
}

const logQuery = `
SELECT
    statement_text AS query_text,
    start_time AS executed_at,
    executed_by AS user_name,
    statement_type
FROM system.query.history
WHERE start_time >= ? AND start_time < ?
  AND execution_status = 'FINISHED'{{filter}}`

// Databricks is the Databricks SQL dialect. Identifiers use backticks.
var Databricks = dialect.NewDialect("databricks").
	Quotes("``").
	DefaultSchema("default").
	PlaceholderStyle(dialect.PlaceholderQuestion).
	LogQuery(logQuery).
	LogFilter(`statement_type NOT IN ('SHOW', 'USE', 'DESCRIBE')`).
	Build()
