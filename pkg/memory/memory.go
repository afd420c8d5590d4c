// Package memory implements the Agent Memory Store: per-agent key/value
// state, optionally scoped to a session, with optional TTL expiry.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	sctxerrors "github.com/leoric-crown/shared-context-server/pkg/errors"
	"github.com/leoric-crown/shared-context-server/pkg/storage"
)

const (
	maxKeyLen     = 255
	maxValueBytes = 100 * 1024
)

var (
	ErrEmptyKey     = errors.New("memory key cannot be empty")
	ErrAlreadyExist = errors.New("memory key already exists")
	ErrNotFound     = errors.New("memory entry not found")
)

// Entry is one agent_memory row. SessionID is nil for agent-global entries.
// The row id is internal and never serialized.
type Entry struct {
	ID        int64           `json:"-"`
	AgentID   string          `json:"agent_id"`
	SessionID *string         `json:"session_id,omitempty"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// Store persists agent memory entries in the agent_memory table.
type Store struct {
	engine *storage.Engine
}

func NewStore(engine *storage.Engine) *Store {
	return &Store{engine: engine}
}

// Set writes a value under (agentID, sessionID, key). If overwrite is false
// and the key already exists (and has not expired), ErrAlreadyExist is
// returned without modifying the stored value.
func (s *Store) Set(ctx context.Context, agentID string, sessionID *string, key string, value any, ttl time.Duration, overwrite bool) (*Entry, error) {
	if key == "" {
		return nil, sctxerrors.Wrap(sctxerrors.CodeValidation, sctxerrors.SeverityWarning, true, "memory key cannot be empty", ErrEmptyKey)
	}
	if len(key) > maxKeyLen {
		return nil, sctxerrors.Validation("memory key must be at most 255 characters")
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, sctxerrors.Validation("memory value must be JSON-serializable")
	}
	if len(encoded) > maxValueBytes {
		return nil, sctxerrors.Validation("memory value must serialize to at most 100KB")
	}

	if err := s.gcExpired(ctx); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var expiresAt *time.Time
	if ttl > 0 {
		t := now.Add(ttl)
		expiresAt = &t
	}

	existing, err := s.getRaw(ctx, agentID, sessionID, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil && !overwrite {
		return nil, sctxerrors.Wrap(sctxerrors.CodeMemoryConflict, sctxerrors.SeverityWarning, true, "memory key already exists", ErrAlreadyExist)
	}

	sessionArg := nullableString(sessionID)
	var expiresArg sql.NullString
	if expiresAt != nil {
		expiresArg = sql.NullString{String: expiresAt.Format(time.RFC3339Nano), Valid: true}
	}

	if existing != nil {
		_, err = s.engine.DB().ExecContext(ctx,
			`UPDATE agent_memory SET value = ?, updated_at = ?, expires_at = ?
			 WHERE agent_id = ? AND IFNULL(session_id, '') = IFNULL(?, '') AND key = ?`,
			string(encoded), now.Format(time.RFC3339Nano), expiresArg, agentID, sessionArg, key)
		if err != nil {
			return nil, sctxerrors.Storage("failed to update memory entry", err)
		}
		existing.Value = encoded
		existing.UpdatedAt = now
		existing.ExpiresAt = expiresAt
		return existing, nil
	}

	res, err := s.engine.DB().ExecContext(ctx,
		`INSERT INTO agent_memory (agent_id, session_id, key, value, created_at, updated_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		agentID, sessionArg, key, string(encoded), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), expiresArg)
	if err != nil {
		return nil, sctxerrors.Storage("failed to create memory entry", err)
	}
	id, _ := res.LastInsertId()

	return &Entry{
		ID: id, AgentID: agentID, SessionID: sessionID, Key: key,
		Value: encoded, CreatedAt: now, UpdatedAt: now, ExpiresAt: expiresAt,
	}, nil
}

// Get returns the current value stored under (agentID, sessionID, key).
func (s *Store) Get(ctx context.Context, agentID string, sessionID *string, key string) (*Entry, error) {
	if err := s.gcExpired(ctx); err != nil {
		return nil, err
	}
	return s.getRaw(ctx, agentID, sessionID, key)
}

func (s *Store) getRaw(ctx context.Context, agentID string, sessionID *string, key string) (*Entry, error) {
	row := s.engine.DB().QueryRowContext(ctx,
		`SELECT id, agent_id, session_id, key, value, created_at, updated_at, expires_at
		 FROM agent_memory
		 WHERE agent_id = ? AND IFNULL(session_id, '') = IFNULL(?, '') AND key = ?`,
		agentID, nullableString(sessionID), key)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sctxerrors.Wrap(sctxerrors.CodeMemoryNotFound, sctxerrors.SeverityWarning, false, "memory entry not found", ErrNotFound)
	}
	if err != nil {
		return nil, sctxerrors.Storage("failed to load memory entry", err)
	}
	return entry, nil
}

// DefaultListLimit is list_memory's default page size per spec.md §4.4/§6.
const DefaultListLimit = 50

// List returns entries for agentID (optionally scoped to sessionID) whose
// key begins with prefix, up to limit entries (DefaultListLimit if limit is
// non-positive). An empty prefix matches every key.
func (s *Store) List(ctx context.Context, agentID string, sessionID *string, prefix string, limit int) ([]Entry, error) {
	if err := s.gcExpired(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT id, agent_id, session_id, key, value, created_at, updated_at, expires_at
	          FROM agent_memory WHERE agent_id = ? AND IFNULL(session_id, '') = IFNULL(?, '')`
	args := []any{agentID, nullableString(sessionID)}
	if prefix != "" {
		query += " AND key LIKE ? ESCAPE '\\'"
		args = append(args, escapeLike(prefix)+"%")
	}
	query += " ORDER BY key ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.engine.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, sctxerrors.Storage("failed to list memory entries", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, sctxerrors.Storage("failed to scan memory entry", err)
		}
		out = append(out, *entry)
	}
	return out, rows.Err()
}

// Delete removes the entry under (agentID, sessionID, key). Deleting a
// nonexistent key is not an error.
func (s *Store) Delete(ctx context.Context, agentID string, sessionID *string, key string) error {
	_, err := s.engine.DB().ExecContext(ctx,
		`DELETE FROM agent_memory WHERE agent_id = ? AND IFNULL(session_id, '') = IFNULL(?, '') AND key = ?`,
		agentID, nullableString(sessionID), key)
	if err != nil {
		return sctxerrors.Storage("failed to delete memory entry", err)
	}
	return nil
}

// gcExpired opportunistically removes expired entries. It runs at the start
// of Set, Get and List (Delete does not call it) rather than on a
// background timer, so expiry is only ever observed lazily, on access.
func (s *Store) gcExpired(ctx context.Context) error {
	_, err := s.engine.DB().ExecContext(ctx,
		`DELETE FROM agent_memory WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return sctxerrors.Storage("failed to garbage-collect expired memory", err)
	}
	return nil
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*Entry, error) {
	var e Entry
	var sessionID, createdAtStr, updatedAtStr, value sql.NullString
	var expiresAt sql.NullString

	if err := scanner.Scan(&e.ID, &e.AgentID, &sessionID, &e.Key, &value, &createdAtStr, &updatedAtStr, &expiresAt); err != nil {
		return nil, err
	}

	if sessionID.Valid && sessionID.String != "" {
		v := sessionID.String
		e.SessionID = &v
	}
	e.Value = json.RawMessage(value.String)
	if createdAtStr.Valid {
		t, err := time.Parse(time.RFC3339Nano, createdAtStr.String)
		if err != nil {
			return nil, err
		}
		e.CreatedAt = t
	}
	if updatedAtStr.Valid {
		t, err := time.Parse(time.RFC3339Nano, updatedAtStr.String)
		if err != nil {
			return nil, err
		}
		e.UpdatedAt = t
	}
	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err != nil {
			return nil, err
		}
		e.ExpiresAt = &t
	}

	return &e, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '%', '_':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
