package session

import "github.com/leoric-crown/shared-context-server/pkg/identity"

// Visible is the single visibility predicate. get_messages,
// get_messages_since, search, and session summaries all call this and only
// this function — never reimplement the rule elsewhere.
func Visible(msg Message, caller identity.Identity) bool {
	if msg.Sender == caller.AgentID {
		return true
	}
	switch msg.Visibility {
	case VisibilityPublic:
		return true
	case VisibilityPrivate:
		return false // only the sender, already handled above
	case VisibilityAgentOnly:
		return caller.AgentType == msg.SenderType
	case VisibilityAdminOnly:
		return caller.Has(identity.PermissionAdmin)
	default:
		return false
	}
}

// FilterVisible returns the subset of msgs the caller is entitled to see,
// preserving order.
func FilterVisible(msgs []Message, caller identity.Identity) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if Visible(m, caller) {
			out = append(out, m)
		}
	}
	return out
}
