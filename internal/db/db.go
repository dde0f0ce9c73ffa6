// Package db opens and migrates the gateway's auth database: the user
// table behind the web channel's login flow. Web sessions are stateless
// JWTs and are not stored here.
package db

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database at path, configured for the gateway's
// access pattern: a single executor-process writer (auth writes happen
// only on user creation and login, rarely concurrent with anything else) and
// WAL-mode readers that never block behind it. Use ":memory:" for an
// ephemeral database (tests).
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_busy_timeout=5000"
	}
	database, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := database.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := database.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("set synchronous mode: %w", err)
	}
	if _, err := database.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	database.SetMaxOpenConns(1)
	return database, nil
}

// Close checkpoints the WAL into the main database file before closing
// the connection, so a gateway restart after an ungraceful shutdown
// starts from a merged file rather than replaying a leftover -wal.
func Close(database *sql.DB) error {
	if _, err := database.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		slog.Warn("db: wal checkpoint failed before close", "error", err)
	}
	return database.Close()
}
