package db

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate runs all pending migrations against database and, when the
// schema version changed, logs the old and new versions, so a deploy that silently failed to embed a
// new migration file is visible in the startup log rather than only
// surfacing later as a missing-column error.
func Migrate(database *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	before, _ := goose.GetDBVersion(database)
	if err := goose.Up(database, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	after, err := goose.GetDBVersion(database)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if after != before {
		slog.Info("db: schema migrated", "from_version", before, "to_version", after)
	}
	return nil
}

// Version returns the auth database's current schema version.
func Version(database *sql.DB) (int64, error) {
	return goose.GetDBVersion(database)
}
