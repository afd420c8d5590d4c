package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leoric-crown/shared-context-server/pkg/identity"
)

// wireFields marshals an envelope the way the transport would and decodes
// the raw bytes back, so assertions run against the actual wire shape
// rather than the in-process Go struct.
func wireFields(t *testing.T, env Envelope) map[string]any {
	t.Helper()
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func requireFlatSuccess(t *testing.T, env Envelope, topLevelKeys ...string) map[string]any {
	t.Helper()
	require.True(t, env.Success)
	m := wireFields(t, env)
	require.Equal(t, true, m["success"])
	require.NotContains(t, m, "data", "payload fields must be flat, not nested under data")
	for _, key := range topLevelKeys {
		require.Contains(t, m, key)
	}
	return m
}

// Every tool's success payload must serialize as {success:true, ...fields}
// with its documented keys at the top level of the JSON object.
func TestEveryToolReturnsFlatWireShape(t *testing.T) {
	r, idSvc := newTestRegistry(t)
	ctx := context.Background()

	authEnv := Invoke(ctx, r, nil, "authenticate_agent", identity.Identity{}, map[string]any{
		"agent_id": "agent-1", "agent_type": "claude",
		"permissions": []any{"read", "write"},
	})
	auth := requireFlatSuccess(t, authEnv, "token", "token_type", "expires_at", "permissions", "agent_id")
	require.Equal(t, "agent-1", auth["agent_id"])

	caller, err := idSvc.Resolve(ctx, auth["token"].(string))
	require.NoError(t, err)

	refreshEnv := Invoke(ctx, r, nil, "refresh_token", *caller, map[string]any{"token": auth["token"]})
	refresh := requireFlatSuccess(t, refreshEnv, "token", "expires_at")
	caller, err = idSvc.Resolve(ctx, refresh["token"].(string))
	require.NoError(t, err)

	sessEnv := Invoke(ctx, r, nil, "create_session", *caller, map[string]any{"purpose": "wire shape"})
	sess := requireFlatSuccess(t, sessEnv, "session_id", "created_at")
	sessID := sess["session_id"].(string)

	msgEnv := Invoke(ctx, r, nil, "add_message", *caller, map[string]any{"session_id": sessID, "content": "hello world"})
	requireFlatSuccess(t, msgEnv, "message_id", "timestamp")

	getSessEnv := Invoke(ctx, r, nil, "get_session", *caller, map[string]any{"session_id": sessID})
	summary := requireFlatSuccess(t, getSessEnv, "id", "purpose", "messages")
	require.Equal(t, sessID, summary["id"])

	getMsgsEnv := Invoke(ctx, r, nil, "get_messages", *caller, map[string]any{"session_id": sessID})
	msgs := requireFlatSuccess(t, getMsgsEnv, "messages", "metadata")
	first := msgs["messages"].([]any)[0].(map[string]any)
	require.Equal(t, "hello world", first["content"])
	require.Equal(t, "agent-1", first["sender"])

	sinceEnv := Invoke(ctx, r, nil, "get_messages_since", *caller, map[string]any{"session_id": sessID, "since_message_id": float64(0)})
	requireFlatSuccess(t, sinceEnv, "messages")

	searchEnv := Invoke(ctx, r, nil, "search_context", *caller, map[string]any{"session_id": sessID, "query": "hello"})
	requireFlatSuccess(t, searchEnv, "results")

	senderEnv := Invoke(ctx, r, nil, "search_by_sender", *caller, map[string]any{"session_id": sessID, "sender": "agent-1"})
	requireFlatSuccess(t, senderEnv, "results")

	rangeEnv := Invoke(ctx, r, nil, "search_by_timerange", *caller, map[string]any{
		"session_id": sessID,
		"start_time": time.Now().UTC().Add(-time.Hour).Format(time.RFC3339),
		"end_time":   time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	})
	requireFlatSuccess(t, rangeEnv, "results")

	setEnv := Invoke(ctx, r, nil, "set_memory", *caller, map[string]any{"key": "k", "value": map[string]any{"n": float64(1)}})
	requireFlatSuccess(t, setEnv, "key", "value")

	getMemEnv := Invoke(ctx, r, nil, "get_memory", *caller, map[string]any{"key": "k"})
	mem := requireFlatSuccess(t, getMemEnv, "key", "value")
	require.Equal(t, map[string]any{"n": float64(1)}, mem["value"], "value is a top-level key holding the stored JSON")

	listEnv := Invoke(ctx, r, nil, "list_memory", *caller, map[string]any{})
	list := requireFlatSuccess(t, listEnv, "entries", "count")
	entry := list["entries"].([]any)[0].(map[string]any)
	require.Equal(t, "k", entry["key"])
	require.Equal(t, "global", entry["scope"])

	delEnv := Invoke(ctx, r, nil, "delete_memory", *caller, map[string]any{"key": "k"})
	requireFlatSuccess(t, delEnv, "deleted")

	guideEnv := Invoke(ctx, r, nil, "get_usage_guidance", *caller, map[string]any{})
	requireFlatSuccess(t, guideEnv, "guidance")

	adminRes, err := idSvc.Authenticate(ctx, "admin-1", identity.AgentTypeAdmin,
		[]identity.Permission{identity.PermissionRead, identity.PermissionWrite, identity.PermissionDebug, identity.PermissionAdmin})
	require.NoError(t, err)
	admin, err := idSvc.Resolve(ctx, adminRes.Token)
	require.NoError(t, err)

	auditEnv := Invoke(ctx, r, nil, "audit_query", *admin, map[string]any{})
	auditOut := requireFlatSuccess(t, auditEnv, "records")
	record := auditOut["records"].([]any)[0].(map[string]any)
	require.Contains(t, record, "agent_id")
	require.Contains(t, record, "event_type")
	require.Contains(t, record, "result")

	perfEnv := Invoke(ctx, r, nil, "get_performance_metrics", *admin, map[string]any{})
	requireFlatSuccess(t, perfEnv, "operations", "cache_hit_ratio", "pool")
}

func TestFailureEnvelopeWireShape(t *testing.T) {
	r, _ := newTestRegistry(t)
	env := Invoke(context.Background(), r, nil, "create_session",
		identity.Identity{AgentID: "agent-1", Permissions: []identity.Permission{identity.PermissionRead}},
		map[string]any{"purpose": "nope"})
	require.False(t, env.Success)

	m := wireFields(t, env)
	require.Equal(t, false, m["success"])
	require.Equal(t, "PERMISSION_DENIED", m["code"])
	require.Contains(t, m, "error")
	require.Contains(t, m, "severity")
	require.Contains(t, m, "recoverable")
}
