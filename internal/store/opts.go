package store

import (
	"os"
	"strings"
)

// Opts holds configuration for store backends.
type Opts struct {
	// DSN is the database connection string. For SQLite it is a file path;
	// for Postgres a postgres:// URL or key=value connection string.
	DSN string
}

// Option configures store backends.
type Option func(*Opts)

// WithPostgresDSN sets a PostgreSQL connection string, falling back to the
// DATABASE_URL environment variable.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		if dsn == "" {
			dsn = os.Getenv("DATABASE_URL")
		}
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports which backend a DSN belongs to: "postgres" for URL or
// key=value connection strings, "sqlite3" for file paths.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}
