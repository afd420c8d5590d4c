package bridge

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leoric-crown/shared-context-server/pkg/session"
)

type fakePublisher struct {
	sessionID string
	msg       session.Message
	called    bool
}

func (f *fakePublisher) Publish(sessionID string, msg session.Message) {
	f.sessionID = sessionID
	f.msg = msg
	f.called = true
}

func TestReceiverRepublishesBroadcast(t *testing.T) {
	pub := &fakePublisher{}
	recv := NewReceiver(pub)
	srv := httptest.NewServer(recv.Handler())
	defer srv.Close()

	sender := NewSender([]string{srv.URL})
	msg := session.Message{ID: 1, SessionID: "sess-1", Sender: "agent-1", Content: "hi"}

	sender.Broadcast(context.Background(), "sess-1", msg)

	require.Eventually(t, func() bool { return pub.called }, time.Second, 10*time.Millisecond)
	require.Equal(t, "sess-1", pub.sessionID)
	require.Equal(t, "hi", pub.msg.Content)
}

func TestBroadcastWithNoPeersIsNoop(t *testing.T) {
	sender := NewSender(nil)
	sender.Broadcast(context.Background(), "sess-1", session.Message{})
}
