package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sctxerrors "github.com/leoric-crown/shared-context-server/pkg/errors"
	"github.com/leoric-crown/shared-context-server/pkg/identity"
	"github.com/leoric-crown/shared-context-server/pkg/storage"
)

// Store is the persistence-only layer for sessions and messages: no
// visibility filtering, no notification fan-out, no audit — those live in
// Service, which composes a Store with the rest of the system.
type Store struct {
	engine *storage.Engine
}

func NewStore(engine *storage.Engine) *Store {
	return &Store{engine: engine}
}

// CreateSession inserts a new session row with a freshly generated id.
func (s *Store) CreateSession(ctx context.Context, purpose, createdBy string, metadata map[string]any) (*Session, error) {
	purpose, err := validatePurpose(purpose)
	if err != nil {
		return nil, err
	}
	if err := validateMetadata(metadata); err != nil {
		return nil, err
	}

	id, err := newSessionID()
	if err != nil {
		return nil, err
	}

	metadataJSON := "{}"
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return nil, sctxerrors.Validation("metadata must be JSON-serializable")
		}
		metadataJSON = string(b)
	}

	now := time.Now().UTC()
	_, err = s.engine.DB().ExecContext(ctx,
		`INSERT INTO sessions (id, purpose, created_by, created_at, updated_at, is_active, metadata, message_count, last_message_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?, 0, NULL)`,
		id, purpose, createdBy, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), metadataJSON)
	if err != nil {
		return nil, sctxerrors.Storage("failed to create session", err)
	}

	return &Session{
		ID:        id,
		Purpose:   purpose,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
		IsActive:  true,
		Metadata:  metadata,
	}, nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	return s.getSessionWith(ctx, s.engine.DB(), id)
}

func (s *Store) getSessionWith(ctx context.Context, q storage.Querier, id string) (*Session, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, purpose, created_by, created_at, updated_at, is_active, metadata, message_count, last_message_at
		 FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, sctxerrors.Wrap(sctxerrors.CodeSessionNotFound, sctxerrors.SeverityWarning, false, "session not found", ErrNotFound)
	}
	if err != nil {
		return nil, sctxerrors.Storage("failed to load session", err)
	}
	return sess, nil
}

func scanSession(scanner interface{ Scan(dest ...any) error }) (*Session, error) {
	var id, purpose, createdBy, createdAtStr, updatedAtStr, metadataJSON string
	var isActive int
	var lastMessageAt sql.NullString
	var messageCount int

	err := scanner.Scan(&id, &purpose, &createdBy, &createdAtStr, &updatedAtStr, &isActive, &metadataJSON, &messageCount, &lastMessageAt)
	if err != nil {
		return nil, err
	}

	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	var metadata map[string]any
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
			return nil, fmt.Errorf("parsing metadata: %w", err)
		}
	}

	sess := &Session{
		ID:           id,
		Purpose:      purpose,
		CreatedBy:    createdBy,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		IsActive:     isActive != 0,
		Metadata:     metadata,
		MessageCount: messageCount,
	}

	if lastMessageAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastMessageAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_message_at: %w", err)
		}
		sess.LastMessageAt = &t
	}

	return sess, nil
}

// AddMessage persists a message and bumps the owning session's updated_at,
// message_count, and last_message_at in the same transaction.
func (s *Store) AddMessage(ctx context.Context, sessionID string, in NewMessageInput) (*Message, error) {
	content, err := validateContent(in.Content)
	if err != nil {
		return nil, err
	}
	in.Content = content
	if err := validateVisibility(in.Visibility); err != nil {
		return nil, err
	}
	if err := validateMetadata(in.Metadata); err != nil {
		return nil, err
	}

	var msg *Message

	err = s.engine.WithTx(ctx, func(tx *sql.Tx) error {
		sess, err := s.getSessionWith(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if !sess.IsActive {
			return sctxerrors.Wrap(sctxerrors.CodeSessionInactive, sctxerrors.SeverityWarning, false, "session is inactive", ErrInactive)
		}

		metadataJSON := "{}"
		if in.Metadata != nil {
			b, err := json.Marshal(in.Metadata)
			if err != nil {
				return sctxerrors.Validation("metadata must be JSON-serializable")
			}
			metadataJSON = string(b)
		}

		now := time.Now().UTC()
		messageType := in.MessageType
		if messageType == "" {
			messageType = MessageTypeAgentResponse
		}

		var parentID any
		if in.ParentMessageID != nil {
			parentID = *in.ParentMessageID
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, sender, sender_type, content, visibility, message_type, metadata, parent_message_id, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, in.Sender, string(in.SenderType), in.Content, string(in.Visibility), string(messageType),
			metadataJSON, parentID, now.Format(time.RFC3339Nano))
		if err != nil {
			return sctxerrors.Storage("failed to insert message", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return sctxerrors.Storage("failed to read inserted message id", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE sessions SET updated_at = ?, message_count = message_count + 1, last_message_at = ? WHERE id = ?`,
			now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), sessionID)
		if err != nil {
			return sctxerrors.Storage("failed to update session counters", err)
		}

		msg = &Message{
			ID:              id,
			SessionID:       sessionID,
			Sender:          in.Sender,
			SenderType:      in.SenderType,
			Content:         in.Content,
			Visibility:      in.Visibility,
			MessageType:     messageType,
			Metadata:        in.Metadata,
			ParentMessageID: in.ParentMessageID,
			Timestamp:       now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessages returns a (timestamp, id)-ordered page of a session's
// messages, unfiltered by visibility — callers apply FilterVisible.
func (s *Store) GetMessages(ctx context.Context, sessionID string, limit, offset int) ([]Message, error) {
	rows, err := s.engine.DB().QueryContext(ctx,
		`SELECT id, session_id, sender, sender_type, content, visibility, message_type, metadata, parent_message_id, timestamp
		 FROM messages WHERE session_id = ? ORDER BY timestamp ASC, id ASC LIMIT ? OFFSET ?`,
		sessionID, limit, offset)
	if err != nil {
		return nil, sctxerrors.Storage("failed to load messages", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetMessagesSince returns messages strictly after sinceMessageID, ordered
// ascending. message_id is the chosen cursor type (see DESIGN.md): it's
// already the total, monotonic order this spec requires.
func (s *Store) GetMessagesSince(ctx context.Context, sessionID string, sinceMessageID int64, limit int) ([]Message, error) {
	rows, err := s.engine.DB().QueryContext(ctx,
		`SELECT id, session_id, sender, sender_type, content, visibility, message_type, metadata, parent_message_id, timestamp
		 FROM messages WHERE session_id = ? AND id > ? ORDER BY timestamp ASC, id ASC LIMIT ?`,
		sessionID, sinceMessageID, limit)
	if err != nil {
		return nil, sctxerrors.Storage("failed to load messages", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetRecentMessages returns the most recent n messages in a session, ordered
// ascending (oldest of the tail first), unfiltered by visibility.
func (s *Store) GetRecentMessages(ctx context.Context, sessionID string, n int) ([]Message, error) {
	rows, err := s.engine.DB().QueryContext(ctx,
		`SELECT id, session_id, sender, sender_type, content, visibility, message_type, metadata, parent_message_id, timestamp
		 FROM (
		     SELECT id, session_id, sender, sender_type, content, visibility, message_type, metadata, parent_message_id, timestamp
		     FROM messages WHERE session_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?
		 ) ORDER BY timestamp ASC, id ASC`,
		sessionID, n)
	if err != nil {
		return nil, sctxerrors.Storage("failed to load recent messages", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var m Message
		var senderType, visibility, messageType, metadataJSON, tsStr string
		var parentID sql.NullInt64

		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &senderType, &m.Content, &visibility, &messageType, &metadataJSON, &parentID, &tsStr); err != nil {
			return nil, sctxerrors.Storage("failed to scan message row", err)
		}

		ts, err := time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message timestamp: %w", err)
		}

		m.SenderType = identity.AgentType(senderType)
		m.Visibility = Visibility(visibility)
		m.MessageType = MessageType(messageType)
		m.Timestamp = ts
		if parentID.Valid {
			v := parentID.Int64
			m.ParentMessageID = &v
		}
		if metadataJSON != "" {
			_ = json.Unmarshal([]byte(metadataJSON), &m.Metadata)
		}

		out = append(out, m)
	}
	return out, rows.Err()
}
