package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/leoric-crown/shared-context-server/pkg/audit"
	"github.com/leoric-crown/shared-context-server/pkg/identity"
	"github.com/leoric-crown/shared-context-server/pkg/memory"
	"github.com/leoric-crown/shared-context-server/pkg/search"
	"github.com/leoric-crown/shared-context-server/pkg/session"
	"github.com/leoric-crown/shared-context-server/pkg/storage"
	"github.com/leoric-crown/shared-context-server/pkg/telemetry"
)

func newTestRegistry(t *testing.T) (*Registry, *identity.Service) {
	t.Helper()
	engine, err := storage.Open("sqlite::memory:")
	require.NoError(t, err)
	require.NoError(t, engine.Migrate(context.Background()))
	t.Cleanup(func() { _ = engine.Close() })

	idSvc, err := identity.NewService(engine, identity.Config{CurrentSecret: "0123456789012345678901234567890123456789012345678901234567890123"})
	require.NoError(t, err)

	sessionStore := session.NewStore(engine)
	sessionSvc := session.NewService(sessionStore, nil, audit.NewRecorder(engine))

	collector, err := telemetry.NewCollector(sdkmetric.NewMeterProvider(), engine, idSvc)
	require.NoError(t, err)

	services := &Services{
		Identity:  idSvc,
		Sessions:  sessionSvc,
		Memory:    memory.NewStore(engine),
		Search:    search.NewEngine(sessionStore),
		Audit:     audit.NewRecorder(engine),
		Telemetry: collector,
	}
	return NewRegistry(services), idSvc
}

func TestInvokeUnknownTool(t *testing.T) {
	r, _ := newTestRegistry(t)
	env := Invoke(context.Background(), r, nil, "does_not_exist", identity.Identity{}, nil)
	require.False(t, env.Success)
	require.Equal(t, "NOT_FOUND", env.Code)
}

func TestAuthenticateThenCreateSessionThenAddMessage(t *testing.T) {
	r, idSvc := newTestRegistry(t)
	ctx := context.Background()

	authEnv := Invoke(ctx, r, nil, "authenticate_agent", identity.Identity{}, map[string]any{
		"agent_id": "agent-1", "agent_type": "claude",
	})
	require.True(t, authEnv.Success)

	res, err := idSvc.Authenticate(ctx, "agent-1", identity.AgentTypeClaude, []identity.Permission{identity.PermissionRead, identity.PermissionWrite})
	require.NoError(t, err)
	caller, err := idSvc.Resolve(ctx, res.Token)
	require.NoError(t, err)

	sessEnv := Invoke(ctx, r, nil, "create_session", *caller, map[string]any{"purpose": "demo"})
	require.True(t, sessEnv.Success)
	sessID := sessEnv.Data.(map[string]any)["session_id"].(string)

	msgEnv := Invoke(ctx, r, nil, "add_message", *caller, map[string]any{
		"session_id": sessID, "content": "hello", "visibility": "public",
	})
	require.True(t, msgEnv.Success)
}

func TestInvokeRejectsMissingPermission(t *testing.T) {
	r, _ := newTestRegistry(t)
	readOnly := identity.Identity{AgentID: "agent-1", AgentType: identity.AgentTypeClaude, Permissions: []identity.Permission{identity.PermissionRead}}

	env := Invoke(context.Background(), r, nil, "create_session", readOnly, map[string]any{"purpose": "demo"})
	require.False(t, env.Success)
	require.Equal(t, "PERMISSION_DENIED", env.Code)
}

func TestAuditQueryRequiresAdminPermission(t *testing.T) {
	r, _ := newTestRegistry(t)
	writer := identity.Identity{AgentID: "agent-1", AgentType: identity.AgentTypeClaude, Permissions: []identity.Permission{identity.PermissionWrite}}

	env := Invoke(context.Background(), r, nil, "audit_query", writer, map[string]any{})
	require.False(t, env.Success)
	require.Equal(t, "PERMISSION_DENIED", env.Code)
}

func TestAuditQueryReturnsRecords(t *testing.T) {
	r, idSvc := newTestRegistry(t)
	ctx := context.Background()

	res, err := idSvc.Authenticate(ctx, "agent-1", identity.AgentTypeAdmin, []identity.Permission{identity.PermissionWrite, identity.PermissionAdmin})
	require.NoError(t, err)
	admin, err := idSvc.Resolve(ctx, res.Token)
	require.NoError(t, err)

	Invoke(ctx, r, nil, "create_session", *admin, map[string]any{"purpose": "demo"})

	env := Invoke(ctx, r, nil, "audit_query", *admin, map[string]any{})
	require.True(t, env.Success)
}

func TestGetPerformanceMetricsAcceptsDebugOrAdmin(t *testing.T) {
	r, _ := newTestRegistry(t)
	debugOnly := identity.Identity{AgentID: "agent-1", AgentType: identity.AgentTypeClaude, Permissions: []identity.Permission{identity.PermissionDebug}}

	env := Invoke(context.Background(), r, nil, "get_performance_metrics", debugOnly, map[string]any{})
	require.True(t, env.Success)
}

func TestGetPerformanceMetricsRejectsReadOnly(t *testing.T) {
	r, _ := newTestRegistry(t)
	readOnly := identity.Identity{AgentID: "agent-1", AgentType: identity.AgentTypeClaude, Permissions: []identity.Permission{identity.PermissionRead}}

	env := Invoke(context.Background(), r, nil, "get_performance_metrics", readOnly, map[string]any{})
	require.False(t, env.Success)
	require.Equal(t, "PERMISSION_DENIED", env.Code)
}

func TestInvokeValidatesRequiredArgs(t *testing.T) {
	r, _ := newTestRegistry(t)
	admin := identity.Identity{AgentID: "agent-1", AgentType: identity.AgentTypeAdmin, Permissions: []identity.Permission{identity.PermissionWrite}}

	env := Invoke(context.Background(), r, nil, "create_session", admin, map[string]any{})
	require.False(t, env.Success)
}

func authedCaller(t *testing.T, idSvc *identity.Service, agentID string, agentType identity.AgentType) identity.Identity {
	t.Helper()
	ctx := context.Background()
	res, err := idSvc.Authenticate(ctx, agentID, agentType, []identity.Permission{identity.PermissionRead, identity.PermissionWrite})
	require.NoError(t, err)
	caller, err := idSvc.Resolve(ctx, res.Token)
	require.NoError(t, err)
	return *caller
}

func TestSearchContextThroughToolSurface(t *testing.T) {
	r, idSvc := newTestRegistry(t)
	ctx := context.Background()
	caller := authedCaller(t, idSvc, "agent-1", identity.AgentTypeClaude)

	sessEnv := Invoke(ctx, r, nil, "create_session", caller, map[string]any{"purpose": "search demo"})
	require.True(t, sessEnv.Success)
	sessID := sessEnv.Data.(map[string]any)["session_id"].(string)

	for _, content := range []string{"refactor the database layer", "refactoring plan draft", "unrelated topic"} {
		env := Invoke(ctx, r, nil, "add_message", caller, map[string]any{"session_id": sessID, "content": content})
		require.True(t, env.Success)
	}

	env := Invoke(ctx, r, nil, "search_context", caller, map[string]any{
		"session_id": sessID, "query": "refactor plan", "fuzzy_threshold": 50.0,
	})
	require.True(t, env.Success)
	results := env.Data.(map[string]any)["results"].([]search.Result)
	require.NotEmpty(t, results)
	for _, res := range results {
		require.GreaterOrEqual(t, res.Score, 50.0)
		require.NotEqual(t, "unrelated topic", res.Message.Content)
	}
}

func TestMemoryRoundTripScalarValue(t *testing.T) {
	r, idSvc := newTestRegistry(t)
	ctx := context.Background()
	caller := authedCaller(t, idSvc, "agent-1", identity.AgentTypeClaude)

	setEnv := Invoke(ctx, r, nil, "set_memory", caller, map[string]any{"key": "t", "value": float64(1)})
	require.True(t, setEnv.Success)

	getEnv := Invoke(ctx, r, nil, "get_memory", caller, map[string]any{"key": "t"})
	require.True(t, getEnv.Success)
}

func TestDeleteMemoryTwiceReportsNotFound(t *testing.T) {
	r, idSvc := newTestRegistry(t)
	ctx := context.Background()
	caller := authedCaller(t, idSvc, "agent-1", identity.AgentTypeClaude)

	setEnv := Invoke(ctx, r, nil, "set_memory", caller, map[string]any{"key": "gone", "value": "v"})
	require.True(t, setEnv.Success)

	first := Invoke(ctx, r, nil, "delete_memory", caller, map[string]any{"key": "gone"})
	require.True(t, first.Success)

	second := Invoke(ctx, r, nil, "delete_memory", caller, map[string]any{"key": "gone"})
	require.False(t, second.Success)
	require.Equal(t, "MEMORY_NOT_FOUND", second.Code)
}

func TestSearchByTimerangeRejectsInvertedRange(t *testing.T) {
	r, idSvc := newTestRegistry(t)
	ctx := context.Background()
	caller := authedCaller(t, idSvc, "agent-1", identity.AgentTypeClaude)

	sessEnv := Invoke(ctx, r, nil, "create_session", caller, map[string]any{"purpose": "range demo"})
	require.True(t, sessEnv.Success)
	sessID := sessEnv.Data.(map[string]any)["session_id"].(string)

	env := Invoke(ctx, r, nil, "search_by_timerange", caller, map[string]any{
		"session_id": sessID,
		"start_time": "2026-01-02T00:00:00Z",
		"end_time":   "2026-01-01T00:00:00Z",
	})
	require.False(t, env.Success)
	require.Equal(t, "VALIDATION_ERROR", env.Code)
}
