package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leoric-crown/shared-context-server/pkg/identity"
	"github.com/leoric-crown/shared-context-server/pkg/session"
	"github.com/leoric-crown/shared-context-server/pkg/storage"
)

func TestSearchContextFindsFuzzyMatch(t *testing.T) {
	e := NewEngine(nil)
	ctx := context.Background()
	caller := identity.Identity{AgentID: "agent-1", AgentType: identity.AgentTypeClaude}

	require.NoError(t, e.Index(session.Message{
		ID: 1, SessionID: "s1", Sender: "agent-1", SenderType: identity.AgentTypeClaude,
		Content: "the deployment pipeline failed", Visibility: session.VisibilityPublic, Timestamp: time.Now(),
	}))
	require.NoError(t, e.Index(session.Message{
		ID: 2, SessionID: "s1", Sender: "agent-1", SenderType: identity.AgentTypeClaude,
		Content: "lunch is at noon", Visibility: session.VisibilityPublic, Timestamp: time.Now(),
	}))

	results, err := e.SearchContext(ctx, "s1", caller, ContextQuery{Text: "deployment", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, int64(1), results[0].Message.ID)
}

func TestSearchContextRespectsVisibility(t *testing.T) {
	e := NewEngine(nil)
	ctx := context.Background()
	other := identity.Identity{AgentID: "agent-2", AgentType: identity.AgentTypeGemini}

	require.NoError(t, e.Index(session.Message{
		ID: 1, SessionID: "s1", Sender: "agent-1", SenderType: identity.AgentTypeClaude,
		Content: "a private secret value", Visibility: session.VisibilityPrivate, Timestamp: time.Now(),
	}))

	results, err := e.SearchContext(ctx, "s1", other, ContextQuery{Text: "secret", Limit: 10})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchContextScopeFiltersCategory(t *testing.T) {
	e := NewEngine(nil)
	ctx := context.Background()
	caller := identity.Identity{AgentID: "agent-1", AgentType: identity.AgentTypeClaude}

	require.NoError(t, e.Index(session.Message{
		ID: 1, SessionID: "s1", Sender: "agent-1", SenderType: identity.AgentTypeClaude,
		Content: "release notes draft", Visibility: session.VisibilityPublic, Timestamp: time.Now(),
	}))
	require.NoError(t, e.Index(session.Message{
		ID: 2, SessionID: "s1", Sender: "agent-1", SenderType: identity.AgentTypeClaude,
		Content: "release credentials", Visibility: session.VisibilityPrivate, Timestamp: time.Now(),
	}))

	results, err := e.SearchContext(ctx, "s1", caller, ContextQuery{Text: "release", Limit: 10, Scope: ScopePublic})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, int64(1), results[0].Message.ID)
}

func TestSearchContextHonorsThreshold(t *testing.T) {
	e := NewEngine(nil)
	ctx := context.Background()
	caller := identity.Identity{AgentID: "agent-1", AgentType: identity.AgentTypeClaude}

	require.NoError(t, e.Index(session.Message{
		ID: 1, SessionID: "s1", Sender: "agent-1", SenderType: identity.AgentTypeClaude,
		Content: "refactoring plan draft", Visibility: session.VisibilityPublic, Timestamp: time.Now(),
	}))

	results, err := e.SearchContext(ctx, "s1", caller, ContextQuery{Text: "refactor plan", Limit: 10, FuzzyThreshold: 50})
	require.NoError(t, err)
	for _, r := range results {
		require.GreaterOrEqual(t, r.Score, 50.0)
	}
}

func TestSearchContextRejectsBadInputs(t *testing.T) {
	e := NewEngine(nil)
	ctx := context.Background()
	caller := identity.Identity{AgentID: "agent-1"}

	_, err := e.SearchContext(ctx, "s1", caller, ContextQuery{Text: "   "})
	require.Error(t, err)

	_, err = e.SearchContext(ctx, "s1", caller, ContextQuery{Text: "ok", FuzzyThreshold: 101})
	require.Error(t, err)

	_, err = e.SearchContext(ctx, "s1", caller, ContextQuery{Text: "ok", Scope: "bogus"})
	require.Error(t, err)
}

func TestSearchBySenderNormalizesName(t *testing.T) {
	e := NewEngine(nil)
	ctx := context.Background()
	caller := identity.Identity{AgentID: "agent-1", AgentType: identity.AgentTypeClaude}

	require.NoError(t, e.Index(session.Message{
		ID: 1, SessionID: "s1", Sender: "Agent-One", SenderType: identity.AgentTypeClaude,
		Content: "hello", Visibility: session.VisibilityPublic, Timestamp: time.Now(),
	}))

	results, err := e.SearchBySender(ctx, "s1", "agent_one", caller, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSearchByTimerange(t *testing.T) {
	e := NewEngine(nil)
	ctx := context.Background()
	caller := identity.Identity{AgentID: "agent-1", AgentType: identity.AgentTypeClaude}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, e.Index(session.Message{
		ID: 1, SessionID: "s1", Sender: "agent-1", SenderType: identity.AgentTypeClaude,
		Content: "early", Visibility: session.VisibilityPublic, Timestamp: base,
	}))
	require.NoError(t, e.Index(session.Message{
		ID: 2, SessionID: "s1", Sender: "agent-1", SenderType: identity.AgentTypeClaude,
		Content: "late", Visibility: session.VisibilityPublic, Timestamp: base.Add(48 * time.Hour),
	}))

	results, err := e.SearchByTimerange(ctx, "s1", base.Add(-time.Hour), base.Add(time.Hour), caller, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, int64(1), results[0].Message.ID)
}

func TestSearchByTimerangeRejectsInvertedRange(t *testing.T) {
	e := NewEngine(nil)
	caller := identity.Identity{AgentID: "agent-1"}
	now := time.Now().UTC()

	_, err := e.SearchByTimerange(context.Background(), "s1", now, now.Add(-time.Hour), caller, 10)
	require.Error(t, err)
}

func TestSearchBackfillsFromStorage(t *testing.T) {
	engine, err := storage.Open("sqlite::memory:")
	require.NoError(t, err)
	require.NoError(t, engine.Migrate(context.Background()))
	t.Cleanup(func() { _ = engine.Close() })

	store := session.NewStore(engine)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "backfill test", "agent-1", nil)
	require.NoError(t, err)
	_, err = store.AddMessage(ctx, sess.ID, session.NewMessageInput{
		Sender: "agent-1", SenderType: identity.AgentTypeClaude,
		Content: "persisted before the engine existed", Visibility: session.VisibilityPublic,
	})
	require.NoError(t, err)

	// A fresh engine (as after a restart) must still find the message.
	e := NewEngine(store)
	caller := identity.Identity{AgentID: "agent-1", AgentType: identity.AgentTypeClaude}
	results, err := e.SearchContext(ctx, sess.ID, caller, ContextQuery{Text: "persisted", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSearchUnknownSessionFails(t *testing.T) {
	engine, err := storage.Open("sqlite::memory:")
	require.NoError(t, err)
	require.NoError(t, engine.Migrate(context.Background()))
	t.Cleanup(func() { _ = engine.Close() })

	e := NewEngine(session.NewStore(engine))
	caller := identity.Identity{AgentID: "agent-1"}

	_, err = e.SearchContext(context.Background(), "session_missing", caller, ContextQuery{Text: "anything", Limit: 10})
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestNormalizeSender(t *testing.T) {
	require.Equal(t, "agent one", NormalizeSender("Agent-One"))
	require.Equal(t, "agent one", NormalizeSender("agent_one"))
	require.Equal(t, "agent one", NormalizeSender("  Agent  One  "))
}
