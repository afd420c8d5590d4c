// Package identity implements the Identity & Token Service: minting,
// resolving, refreshing, and revoking opaque agent tokens, and deciding the
// permissions bound to them.
package identity

import "time"

// Permission is one of the four permission classes an agent may hold.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionDebug Permission = "debug"
	PermissionAdmin Permission = "admin"
)

func validPermission(p Permission) bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionDebug, PermissionAdmin:
		return true
	default:
		return false
	}
}

// AgentType is the enum shared between AgentIdentity.agent_type and
// Message.sender_type.
type AgentType string

const (
	AgentTypeGeneric AgentType = "generic"
	AgentTypeClaude  AgentType = "claude"
	AgentTypeGemini  AgentType = "gemini"
	AgentTypeCustom  AgentType = "custom"
	AgentTypeAdmin   AgentType = "admin"
	AgentTypeSystem  AgentType = "system"
	AgentTypeTest    AgentType = "test"
)

func ValidAgentType(t AgentType) bool {
	switch t {
	case AgentTypeGeneric, AgentTypeClaude, AgentTypeGemini, AgentTypeCustom, AgentTypeAdmin, AgentTypeSystem, AgentTypeTest:
		return true
	default:
		return false
	}
}

// Identity is the runtime caller identity produced by Resolve and consumed
// by every other component. It is never persisted beyond the token record
// that backs it.
type Identity struct {
	AgentID         string
	AgentType       AgentType
	Permissions     []Permission
	TokenID         string
	AuthenticatedAt time.Time
}

// Has reports whether the identity carries the given permission.
func (i Identity) Has(p Permission) bool {
	for _, have := range i.Permissions {
		if have == p {
			return true
		}
	}
	return false
}
