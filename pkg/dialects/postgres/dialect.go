// Package postgres provides the PostgreSQL SQL dialect definition.
// This package is pure Go with no database driver dependencies,
// making it usable for parsing logs without a database connection.
package postgres

import (
	"github.com/leapstack-labs/querylineage/pkg/dialect"
)

func init() {
	dialect.Register(Postgres)
}

// logQuery reads pg_stat_statements (PostgreSQL 17+, for stats_since).
const logQuery = `
SELECT
    s.query AS query_text,
    s.stats_since AS executed_at,
    d.datname AS database_name,
    r.rolname AS user_name,
    s.calls AS calls
FROM pg_stat_statements s
JOIN pg_database d ON d.oid = s.dbid
JOIN pg_roles r ON r.oid = s.userid
WHERE s.stats_since >= $1 AND s.stats_since < $2{{filter}}`

// Postgres is the PostgreSQL dialect. "public" is a real schema name, not a
// sentinel, so qualifiers are never stripped.
var Postgres = dialect.NewDialect("postgres").
	Quotes(`""`).
	DefaultSchema("public").
	PlaceholderStyle(dialect.PlaceholderDollar).
	LogQuery(logQuery).
	LogFilter(`s.query NOT ILIKE '%pg_stat_statements%' AND s.query NOT ILIKE '/* querylineage */%'`).
	Build()
