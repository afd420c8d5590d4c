package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration is one forward-only schema step. UpFunc, when set, runs after
// UpSQL commits — for data backfills that can't be expressed as plain DDL.
type Migration struct {
	ID          int
	Name        string
	Description string
	UpSQL       string
	UpFunc      func(ctx context.Context, db *sql.DB) error
	AppliedAt   time.Time
}

// MigrationManager tracks and applies migrations against a single database.
type MigrationManager struct {
	db *sql.DB
}

func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// InitializeMigrations creates the tracking table (if absent) and applies
// every migration not yet recorded there, in order.
func (m *MigrationManager) InitializeMigrations(ctx context.Context) error {
	if err := m.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}
	if err := m.runPending(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

func (m *MigrationManager) createMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			description TEXT,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

func (m *MigrationManager) runPending(ctx context.Context) error {
	for _, migration := range schemaMigrations() {
		applied, err := m.isApplied(ctx, migration.Name)
		if err != nil {
			return fmt.Errorf("checking migration %s: %w", migration.Name, err)
		}
		if applied {
			continue
		}
		if err := m.apply(ctx, &migration); err != nil {
			return fmt.Errorf("applying migration %s: %w", migration.Name, err)
		}
	}
	return nil
}

func (m *MigrationManager) isApplied(ctx context.Context, name string) (bool, error) {
	var count int
	err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM migrations WHERE name = ?", name).Scan(&count)
	return count > 0, err
}

func (m *MigrationManager) apply(ctx context.Context, migration *Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if migration.UpSQL != "" {
		if _, err := tx.ExecContext(ctx, migration.UpSQL); err != nil {
			return fmt.Errorf("executing migration SQL: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO migrations (id, name, description, applied_at) VALUES (?, ?, ?, ?)",
		migration.ID, migration.Name, migration.Description, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration transaction: %w", err)
	}

	if migration.UpFunc != nil {
		if err := migration.UpFunc(ctx, m.db); err != nil {
			return fmt.Errorf("running migration function: %w", err)
		}
	}

	return nil
}

// AppliedMigrations returns the migration history, oldest first.
func (m *MigrationManager) AppliedMigrations(ctx context.Context) ([]Migration, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT id, name, description, applied_at FROM migrations ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Migration
	for rows.Next() {
		var mig Migration
		var appliedAt string
		if err := rows.Scan(&mig.ID, &mig.Name, &mig.Description, &appliedAt); err != nil {
			return nil, err
		}
		mig.AppliedAt, err = time.Parse(time.RFC3339Nano, appliedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, mig)
	}
	return out, rows.Err()
}
