// Package mssql provides the SQL Server dialect definition.
// This package is pure Go with no database driver dependencies.
package mssql

import (
	"github.com/leapstack-labs/querylineage/pkg/dialect"
)

func init() {
	dialect.Register(MSSQL)
}

// DefaultSentinel is the qualifier SQL Server lineage output uses for "the
// caller's default schema".
const DefaultSentinel = "<default>"

// logQuery reads recently executed statements from the plan cache. The plan
// cache only keeps the last execution per plan, so the window is applied to
// last_execution_time.
const logQuery = `
SELECT
    t.text AS query_text,
    s.last_execution_time AS executed_at,
    db.name AS database_name,
    s.execution_count AS execution_count,
    s.total_elapsed_time / 1000 AS duration_ms
FROM sys.dm_exec_cached_plans AS p
INNER JOIN sys.dm_exec_query_stats AS s ON p.plan_handle = s.plan_handle
CROSS APPLY sys.dm_exec_sql_text(p.plan_handle) AS t
INNER JOIN sys.databases AS db ON db.database_id = t.dbid
WHERE s.last_execution_time >= @p1 AND s.last_execution_time < @p2{{filter}}
ORDER BY s.last_execution_time DESC`

// MSSQL is the SQL Server dialect. Identifiers may be bracketed or double
// quoted; # and @ start temp tables and variables. The <default> sentinel is
// unambiguous here, so it is stripped.
var MSSQL = dialect.NewDialect("mssql").
	Quotes("[]", `""`).
	IdentStart("#@").
	DefaultSchema("dbo").
	Sentinel(DefaultSentinel, dialect.SentinelStrip).
	PlaceholderStyle(dialect.PlaceholderAtP).
	LogQuery(logQuery).
	Build()
