// Package snowflake provides the Snowflake SQL dialect definition.
// This package is pure Go with no database driver dependencies.
package snowflake

import (
	"github.com/leapstack-labs/querylineage/pkg/dialect"
)

func init() {
	dialect.Register(Snowflake)
}

const logQuery = `
SELECT
    query_text,
    start_time AS executed_at,
    database_name,
    schema_name,
    user_name,
    query_type
FROM snowflake.account_usage.query_history
WHERE start_time >= ? AND start_time < ?
  AND execution_status = 'SUCCESS'{{filter}}
ORDER BY start_time`

// Snowflake is the Snowflake dialect.
var Snowflake = dialect.NewDialect("snowflake").
	Quotes(`""`).
	DefaultSchema("PUBLIC").
	PlaceholderStyle(dialect.PlaceholderQuestion).
	LogQuery(logQuery).
	LogFilter(`query_type NOT IN ('SHOW', 'USE', 'DESCRIBE', 'ALTER_SESSION') AND query_text NOT ILIKE '/* querylineage */%'`).
	Build()
