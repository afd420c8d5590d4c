// Package storage is the relational persistence layer: connection pooling,
// migrations, and a transaction-scoped querier abstraction shared by every
// component that needs durable state.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/leoric-crown/shared-context-server/pkg/sqliteutil"
)

// Querier is implemented by both *sql.DB and *sql.Tx, letting callers write
// one code path that works whether or not it's inside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Engine owns the pooled connection and exposes transaction-scoped access.
// Only SQLite is wired today; the Querier abstraction is what a second
// backend would plug into without touching any caller.
type Engine struct {
	db *sql.DB
}

// Open parses a DATABASE_URL of the form "sqlite+file:<path>",
// "sqlite:<path>" or "sqlite::memory:" and opens the corresponding backend. An empty URL
// defaults to a local SQLite file, matching spec's "if absent, default
// SQLite file" rule.
func Open(databaseURL string) (*Engine, error) {
	path, err := sqlitePathFromURL(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sqliteutil.OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("opening storage engine: %w", err)
	}

	return &Engine{db: db}, nil
}

func sqlitePathFromURL(databaseURL string) (string, error) {
	if databaseURL == "" {
		return "./shared_context.db", nil
	}
	switch {
	case databaseURL == "sqlite::memory:":
		return ":memory:", nil
	case strings.HasPrefix(databaseURL, "sqlite+file:"):
		return strings.TrimPrefix(databaseURL, "sqlite+file:"), nil
	case strings.HasPrefix(databaseURL, "sqlite:"):
		return strings.TrimPrefix(databaseURL, "sqlite:"), nil
	default:
		return "", fmt.Errorf("unsupported DATABASE_URL scheme: %q (only sqlite+file:, sqlite: and sqlite::memory: are wired)", databaseURL)
	}
}

// Migrate runs the schema to the latest version. It must be called once at
// startup before any other Engine method; a failure here is fatal.
func (e *Engine) Migrate(ctx context.Context) error {
	return NewMigrationManager(e.db).InitializeMigrations(ctx)
}

// DB exposes the pooled *sql.DB for callers that need raw access (pool
// stats, ad hoc audit queries).
func (e *Engine) DB() *sql.DB { return e.db }

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic. fn must only use the supplied *sql.Tx for
// storage access so the whole unit of work is atomic. Transient contention
// failures (SQLITE_BUSY/LOCKED) are retried up to 3 attempts with
// exponential backoff bounded under 200ms total; fn must therefore be safe
// to re-run from scratch.
func (e *Engine) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	backoff := 25 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		err = e.withTxOnce(ctx, fn)
		if err == nil || !sqliteutil.IsBusyError(err) {
			return err
		}
	}
	return err
}

func (e *Engine) withTxOnce(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	committed = true
	return nil
}

// Stats exposes connection-pool statistics for C9.
func (e *Engine) Stats() sql.DBStats { return e.db.Stats() }

// Close releases the underlying connection pool.
func (e *Engine) Close() error { return e.db.Close() }
