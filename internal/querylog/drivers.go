package querylog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/marcboeker/go-duckdb" // registers "duckdb"
	_ "modernc.org/sqlite"              // registers "sqlite"

	"github.com/leapstack-labs/querylineage/pkg/core"
)

// driverAliases maps accepted driver names to registered database/sql drivers.
var driverAliases = map[string]string{
	"pgx":        "pgx",
	"postgres":   "pgx",
	"postgresql": "pgx",
	"duckdb":     "duckdb",
	"sqlite":     "sqlite",
	"sqlite3":    "sqlite",
}

// defaultDrivers picks a driver when only the dialect is configured.
var defaultDrivers = map[string]string{
	"postgres": "pgx",
	"duckdb":   "duckdb",
}

// resolveDriver returns the database/sql driver name for a configured driver
// or, when none is configured, for the dialect.
func resolveDriver(driver, dialectName string) (string, error) {
	if driver == "" {
		d, ok := defaultDrivers[dialectName]
		if !ok {
			return "", core.InvalidConfigf("no default driver for dialect %q; set source.driver or export the log and use source.type=file", dialectName)
		}
		return d, nil
	}
	d, ok := driverAliases[strings.ToLower(driver)]
	if !ok {
		return "", core.InvalidConfigf("unsupported driver %q (supported: pgx, duckdb, sqlite)", driver)
	}
	return d, nil
}

// openDB opens and pings a database.
func openDB(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}
	return db, nil
}
