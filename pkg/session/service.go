package session

import (
	"context"

	"github.com/leoric-crown/shared-context-server/pkg/audit"
	"github.com/leoric-crown/shared-context-server/pkg/identity"
)

// Publisher is the subset of notify.Hub that Service depends on. Declaring
// it here (rather than importing pkg/notify) keeps pkg/session free of a
// dependency on the notification hub's own types.
type Publisher interface {
	Publish(sessionID string, msg Message)
}

// Service composes the Store with audit logging and notification fan-out,
// implementing the named create_session / add_message / get_session /
// get_messages / get_messages_since operations. It assumes the caller has
// already been authorized for the operation's required permission; Service
// itself only enforces visibility, not permission checks.
type Service struct {
	store   *Store
	pub     Publisher
	auditor *audit.Recorder
}

func NewService(store *Store, pub Publisher, auditor *audit.Recorder) *Service {
	return &Service{store: store, pub: pub, auditor: auditor}
}

func (s *Service) CreateSession(ctx context.Context, caller identity.Identity, purpose string, metadata map[string]any) (*Session, error) {
	sess, err := s.store.CreateSession(ctx, purpose, caller.AgentID, metadata)
	if err != nil {
		s.record(ctx, caller, "create_session", nil, err)
		return nil, err
	}
	s.record(ctx, caller, "create_session", &sess.ID, nil)
	return sess, nil
}

// GetSession fetches a session's metadata plus a visibility-filtered tail of
// its most recent messages, bounded to RecentMessagesLimit.
func (s *Service) GetSession(ctx context.Context, caller identity.Identity, sessionID string) (*SessionSummary, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.GetRecentMessages(ctx, sessionID, RecentMessagesLimit)
	if err != nil {
		return nil, err
	}
	return &SessionSummary{Session: *sess, Messages: FilterVisible(msgs, caller)}, nil
}

// AddMessage persists a message, records it to the audit log, and publishes
// it to session subscribers, all after the triggering transaction commits.
func (s *Service) AddMessage(ctx context.Context, caller identity.Identity, sessionID string, in NewMessageInput) (*Message, error) {
	in.Sender = caller.AgentID
	in.SenderType = caller.AgentType

	msg, err := s.store.AddMessage(ctx, sessionID, in)
	if err != nil {
		s.record(ctx, caller, "add_message", &sessionID, err)
		return nil, err
	}
	s.record(ctx, caller, "add_message", &sessionID, nil)

	if s.pub != nil {
		s.pub.Publish(sessionID, *msg)
	}
	return msg, nil
}

// readScanCap bounds how many stored rows one filtered read scans. It must
// stay comfortably above any realistic session so limit/offset always apply
// to the complete visible set, never a truncated prefix of it.
const readScanCap = 10_000

// GetMessages returns one page of the caller-visible messages in a session
// plus the total visible count. Visibility (and the optional visibility
// filter) is applied before limit/offset, so pages are dense and offsets
// count only messages the caller is entitled to see.
func (s *Service) GetMessages(ctx context.Context, caller identity.Identity, sessionID string, visFilter Visibility, limit, offset int) ([]Message, int, error) {
	msgs, err := s.store.GetMessages(ctx, sessionID, readScanCap, 0)
	if err != nil {
		return nil, 0, err
	}

	visible := FilterVisible(msgs, caller)
	if visFilter != "" {
		kept := make([]Message, 0, len(visible))
		for _, m := range visible {
			if m.Visibility == visFilter {
				kept = append(kept, m)
			}
		}
		visible = kept
	}

	total := len(visible)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []Message{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return visible[offset:end], total, nil
}

// GetMessagesSince returns up to limit caller-visible messages strictly
// after sinceMessageID. As with GetMessages, the limit applies to the
// visible subset, not the raw row set.
func (s *Service) GetMessagesSince(ctx context.Context, caller identity.Identity, sessionID string, sinceMessageID int64, limit int) ([]Message, error) {
	msgs, err := s.store.GetMessagesSince(ctx, sessionID, sinceMessageID, readScanCap)
	if err != nil {
		return nil, err
	}
	visible := FilterVisible(msgs, caller)
	if limit > 0 && len(visible) > limit {
		visible = visible[:limit]
	}
	return visible, nil
}

func (s *Service) record(ctx context.Context, caller identity.Identity, eventType string, sessionID *string, opErr error) {
	if s.auditor == nil {
		return
	}
	result := audit.ResultSuccess
	details := map[string]any{}
	if opErr != nil {
		result = audit.ResultError
		details["error"] = opErr.Error()
	}
	_ = s.auditor.Record(ctx, audit.Record{
		AgentID:   caller.AgentID,
		EventType: eventType,
		SessionID: sessionID,
		Result:    result,
		Details:   details,
	})
}
