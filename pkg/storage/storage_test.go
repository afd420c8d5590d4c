package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open("sqlite::memory:")
	require.NoError(t, err)
	require.NoError(t, e.Migrate(context.Background()))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestMigrateCreatesAllTables(t *testing.T) {
	e := newTestEngine(t)

	for _, table := range []string{"sessions", "messages", "agent_memory", "audit_log", "tokens", "migrations"} {
		var name string
		err := e.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		require.Equal(t, table, name)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Migrate(context.Background()))

	applied, err := NewMigrationManager(e.DB()).AppliedMigrations(context.Background())
	require.NoError(t, err)
	require.Len(t, applied, len(schemaMigrations()))
}

func TestWithTxRollsBackOnError(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := e.WithTx(ctx, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx, "INSERT INTO sessions (id, purpose, created_by, created_at, updated_at) VALUES ('s1','p','a','t','t')")
		require.NoError(t, execErr)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, e.DB().QueryRow("SELECT COUNT(*) FROM sessions").Scan(&count))
	require.Equal(t, 0, count)
}

func TestOpenRejectsUnsupportedScheme(t *testing.T) {
	_, err := Open("postgres://localhost/db")
	require.Error(t, err)
}

func TestOpenDefaultsToLocalFile(t *testing.T) {
	path, err := sqlitePathFromURL("")
	require.NoError(t, err)
	require.Equal(t, "./shared_context.db", path)
}
