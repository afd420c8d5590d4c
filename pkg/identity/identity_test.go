package identity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leoric-crown/shared-context-server/pkg/storage"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	engine, err := storage.Open("sqlite::memory:")
	require.NoError(t, err)
	require.NoError(t, engine.Migrate(context.Background()))
	t.Cleanup(func() { _ = engine.Close() })

	svc, err := NewService(engine, Config{
		CurrentSecret: strings.Repeat("a", 64),
		TokenTTL:      time.Hour,
	})
	require.NoError(t, err)
	return svc
}

func TestAuthenticateAndResolve(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, err := svc.Authenticate(ctx, "agent-1", AgentTypeClaude, []Permission{PermissionRead, PermissionWrite, PermissionAdmin})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(res.Token, "sct_"))
	require.ElementsMatch(t, []Permission{PermissionRead, PermissionWrite}, res.Permissions, "admin should be dropped for a non-admin agent_type")

	ident, err := svc.Resolve(ctx, res.Token)
	require.NoError(t, err)
	require.Equal(t, "agent-1", ident.AgentID)
	require.Equal(t, AgentTypeClaude, ident.AgentType)
}

func TestResolveRejectsUnknownToken(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Resolve(context.Background(), "sct_does-not-exist")
	require.Error(t, err)
}

func TestRevokeIsIdempotentAndBlocksResolve(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, err := svc.Authenticate(ctx, "agent-1", AgentTypeGeneric, []Permission{PermissionRead})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, res.Token))

	_, err = svc.Resolve(ctx, res.Token)
	require.Error(t, err)

	err = svc.Revoke(ctx, res.Token)
	require.Error(t, err, "revoking an already-revoked token reports NotFound, not success")
}

func TestRefreshRotatesToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, err := svc.Authenticate(ctx, "agent-1", AgentTypeGeneric, []Permission{PermissionRead, PermissionWrite})
	require.NoError(t, err)

	refreshed, err := svc.Refresh(ctx, res.Token)
	require.NoError(t, err)
	require.NotEqual(t, res.Token, refreshed.Token)

	ident, err := svc.Resolve(ctx, refreshed.Token)
	require.NoError(t, err)
	require.Equal(t, "agent-1", ident.AgentID)

	_, err = svc.Resolve(ctx, res.Token)
	require.Error(t, err)
}

func TestPermissionIntersectionDropsUnknown(t *testing.T) {
	got := intersectPermissions(AgentTypeGeneric, []Permission{PermissionRead, "bogus", PermissionRead})
	require.Equal(t, []Permission{PermissionRead}, got)
}
