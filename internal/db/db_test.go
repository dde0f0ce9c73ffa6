package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAndMigrate(t *testing.T) {
	database, err := Open(":memory:")
	require.NoError(t, err)
	defer database.Close()

	require.NoError(t, Migrate(database))

	_, err = database.Exec("INSERT INTO users (id, username, password_hash, created_at, last_seen_at) VALUES (?, ?, ?, ?, ?)",
		"user-1", "alice", "hash", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z")
	require.NoError(t, err)

	var count int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM users").Scan(&count))
	require.Equal(t, 1, count)
}

func TestVersion_ReflectsAppliedMigrations(t *testing.T) {
	database, err := Open(":memory:")
	require.NoError(t, err)
	defer database.Close()

	v, err := Version(database)
	require.NoError(t, err)
	require.Zero(t, v)

	require.NoError(t, Migrate(database))

	v, err = Version(database)
	require.NoError(t, err)
	require.Positive(t, v)
}

func TestClose_ChecksPointsAndClosesCleanly(t *testing.T) {
	database, err := Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, Migrate(database))

	require.NoError(t, Close(database))
	require.Error(t, database.Ping(), "connection should be unusable after Close")
}
