package sqliteutil

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// memoryDSN is the sentinel path callers pass to get an in-memory database
// (used by tests; never persisted). It is opened with a shared cache, so
// databases opened on it at the same time in one process share their data;
// the data is gone once the last connection to it closes.
const memoryDSN = ":memory:"

// pragmas are applied to every connection. synchronous=NORMAL trades a small
// durability window (survives app crash, not OS crash) for write throughput,
// acceptable since WAL checkpointing still flushes regularly; temp_store and
// cache_size keep the ~8MB working set spec'd for query scratch space in
// memory instead of spilling to disk.
const pragmas = "_pragma=busy_timeout(5000)" +
	"&_pragma=journal_mode(WAL)" +
	"&_pragma=foreign_keys(1)" +
	"&_pragma=synchronous(NORMAL)" +
	"&_pragma=temp_store(MEMORY)" +
	"&_pragma=cache_size(-8000)"

// OpenDB opens a SQLite database with the pragmas this server requires for
// concurrency, durability, and foreign-key correctness. The connection pool
// is pinned to a single connection (MaxOpenConns=1): SQLite allows only one
// writer at a time, so serializing at the pool level turns lock contention
// into queueing instead of "database is locked" errors.
func OpenDB(path string) (*sql.DB, error) {
	var dsn string
	if path == memoryDSN {
		dsn = fmt.Sprintf("file::memory:?cache=shared&%s", pragmas)
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("cannot create database directory %q: %w", dir, err)
		}
		dsn = fmt.Sprintf("%s?%s", path, pragmas)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		if IsCantOpenError(err) {
			return nil, DiagnoseDBOpenError(path, err)
		}
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		if IsCantOpenError(err) {
			return nil, DiagnoseDBOpenError(path, err)
		}
		return nil, err
	}

	return db, nil
}

// IsBusyError checks if the error is a SQLite BUSY or LOCKED error, the
// transient contention failures worth retrying.
func IsBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

// IsCantOpenError checks if the error is a SQLite CANTOPEN error (code 14).
func IsCantOpenError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CANTOPEN
	}
	return false
}

// DiagnoseDBOpenError provides a more helpful error message when SQLite
// fails to open/create a database file.
func DiagnoseDBOpenError(path string, originalErr error) error {
	dir := filepath.Dir(path)

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("cannot create database at %q: directory %q does not exist", path, dir)
		}
		return fmt.Errorf("cannot create database at %q: %w", path, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("cannot create database at %q: %q is not a directory", path, dir)
	}

	return fmt.Errorf("cannot create database at %q: permission denied or file cannot be created in %q (original error: %v)", path, dir, originalErr)
}
