// Package session implements the Session/Message Core: session lifecycle,
// the blackboard message log, visibility filtering, and the ordered read
// path that every other component relies on.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/leoric-crown/shared-context-server/pkg/identity"
)

var (
	ErrEmptyID     = errors.New("session ID cannot be empty")
	ErrNotFound    = errors.New("session not found")
	ErrInactive    = errors.New("session is inactive")
	ErrMsgNotFound = errors.New("message not found")
)

// Visibility is the rule attached to each message determining which agents
// may read it.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityPrivate   Visibility = "private"
	VisibilityAgentOnly Visibility = "agent_only"
	VisibilityAdminOnly Visibility = "admin_only"
)

func ValidVisibility(v Visibility) bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityAgentOnly, VisibilityAdminOnly:
		return true
	default:
		return false
	}
}

// MessageType is a small closed enum distinguishing ordinary agent
// responses from system/error/admin-generated entries.
type MessageType string

const (
	MessageTypeAgentResponse MessageType = "agent_response"
	MessageTypeSystem        MessageType = "system"
	MessageTypeError         MessageType = "error"
	MessageTypeAdmin         MessageType = "admin"
)

// Session is a named, persistent blackboard with an ordered message log.
type Session struct {
	ID            string         `json:"id"`
	Purpose       string         `json:"purpose"`
	CreatedBy     string         `json:"created_by"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	IsActive      bool           `json:"is_active"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	MessageCount  int            `json:"message_count"`
	LastMessageAt *time.Time     `json:"last_message_at,omitempty"`
}

// RecentMessagesLimit bounds the message tail get_session attaches to its
// summary when the caller doesn't ask for the full log.
const RecentMessagesLimit = 20

// SessionSummary is what get_session returns: the session row plus a
// bounded, visibility-filtered tail of its most recent messages.
type SessionSummary struct {
	Session
	Messages []Message `json:"messages"`
}

// Message is one entry in a session's blackboard. Messages are never
// mutated or deleted once persisted.
type Message struct {
	ID              int64              `json:"id"`
	SessionID       string             `json:"session_id"`
	Sender          string             `json:"sender"`
	SenderType      identity.AgentType `json:"sender_type"`
	Content         string             `json:"content"`
	Visibility      Visibility         `json:"visibility"`
	MessageType     MessageType        `json:"message_type"`
	Metadata        map[string]any     `json:"metadata,omitempty"`
	ParentMessageID *int64             `json:"parent_message_id,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
}

// NewMessageInput is what callers supply to AddMessage; Sender/SenderType
// are always taken from the authenticated caller, never from client input.
type NewMessageInput struct {
	Sender          string
	SenderType      identity.AgentType
	Content         string
	Visibility      Visibility
	MessageType     MessageType
	Metadata        map[string]any
	ParentMessageID *int64
}

// newSessionID generates an id of the form "session_" + 16 hex chars.
func newSessionID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return "session_" + hex.EncodeToString(buf), nil
}
