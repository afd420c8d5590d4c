package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leoric-crown/shared-context-server/pkg/session"
)

func TestSubscribePublishDeliversInOrder(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("session_1")
	defer sub.Close()

	for i := 0; i < 3; i++ {
		hub.Publish("session_1", session.Message{ID: int64(i + 1)})
	}

	for i := 0; i < 3; i++ {
		select {
		case evt := <-sub.C:
			require.Equal(t, int64(i+1), evt.Message.ID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestPublishDropsOldestWhenBufferFull(t *testing.T) {
	hub := NewHub()
	hub.bufferSize = 2
	sub := hub.Subscribe("session_1")
	defer sub.Close()

	for i := 0; i < 5; i++ {
		hub.Publish("session_1", session.Message{ID: int64(i + 1)})
	}

	first := <-sub.C
	require.Equal(t, int64(4), first.Message.ID, "oldest three entries should have been dropped")
}

func TestUnrelatedSessionsDoNotCrossDeliver(t *testing.T) {
	hub := NewHub()
	subA := hub.Subscribe("session_a")
	subB := hub.Subscribe("session_b")
	defer subA.Close()
	defer subB.Close()

	hub.Publish("session_a", session.Message{ID: 1})

	select {
	case <-subB.C:
		t.Fatal("session_b should not receive session_a's event")
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case evt := <-subA.C:
		require.Equal(t, int64(1), evt.Message.ID)
	default:
		t.Fatal("session_a should have received its own event")
	}
}

func TestWireShapesChangeEvent(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	evt := Event{SessionID: "session_1", Message: session.Message{ID: 7, Timestamp: ts}}

	wire := evt.Wire()
	require.Equal(t, "session_changed", wire.Type)
	require.Equal(t, "session_1", wire.SessionID)
	require.Equal(t, "new_message", wire.Cause)
	require.Equal(t, int64(7), wire.Hint.MessageID)
	require.Equal(t, ts, wire.Hint.Timestamp)
}

func TestCloseUnsubscribes(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("session_1")
	require.Equal(t, 1, hub.SubscriberCount("session_1"))

	sub.Close()
	require.Equal(t, 0, hub.SubscriberCount("session_1"))
}
