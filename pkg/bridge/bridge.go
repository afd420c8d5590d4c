// Package bridge implements the Broadcast Bridge: a fire-and-forget HTTP
// fan-out that relays session events to peer server instances, and a
// receiver that republishes events arriving from those peers into the
// local Notification Hub.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/leoric-crown/shared-context-server/pkg/notify"
	"github.com/leoric-crown/shared-context-server/pkg/session"
)

const sendTimeout = 2 * time.Second

// Payload is the request body posted to a peer's /broadcast/{session_id}:
// the session_changed envelope clients would see, plus the full message so
// the receiving instance can republish it into its own hub (where
// per-subscriber visibility filtering happens). The endpoint is
// internal-only; the raw message never reaches a client unfiltered.
type Payload struct {
	Event   notify.ChangeEvent `json:"event"`
	Message session.Message    `json:"message"`
}

// Sender fans a published message out to every configured peer. Failures
// are logged and swallowed: a peer being unreachable must never fail the
// local write that triggered the broadcast.
type Sender struct {
	client *http.Client
	peers  []string
}

// NewSender builds a Sender posting to the given peer base URLs
// (e.g. "http://peer-2:8080").
func NewSender(peers []string) *Sender {
	return &Sender{
		client: &http.Client{Timeout: sendTimeout},
		peers:  peers,
	}
}

// Broadcast posts msg to every peer concurrently and returns once all
// attempts have finished or timed out. Per-peer errors are logged, never
// returned: the caller already committed the message locally.
func (s *Sender) Broadcast(ctx context.Context, sessionID string, msg session.Message) {
	if len(s.peers) == 0 {
		return
	}

	body, err := json.Marshal(Payload{
		Event:   notify.Event{SessionID: sessionID, Message: msg}.Wire(),
		Message: msg,
	})
	if err != nil {
		slog.Error("bridge: failed to marshal broadcast payload", "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, peer := range s.peers {
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			s.post(ctx, peer, sessionID, body)
		}(peer)
	}
	wg.Wait()
}

// LocalPublisher is satisfied by notify.Hub: the in-process side of a
// FanOut, delivering to subscribers on this instance.
type LocalPublisher interface {
	Publish(sessionID string, msg session.Message)
}

// FanOut composes a local Publisher with a Sender so that session.Service
// can publish once and have the message both notify local subscribers and
// broadcast to peers, without depending on pkg/bridge directly.
type FanOut struct {
	local  LocalPublisher
	sender *Sender
}

// NewFanOut builds a FanOut over local and sender.
func NewFanOut(local LocalPublisher, sender *Sender) *FanOut {
	return &FanOut{local: local, sender: sender}
}

// Publish satisfies session.Publisher: it delivers to local subscribers
// synchronously, then broadcasts to peers in the background.
func (f *FanOut) Publish(sessionID string, msg session.Message) {
	f.local.Publish(sessionID, msg)
	go f.sender.Broadcast(context.Background(), sessionID, msg)
}

func (s *Sender) post(ctx context.Context, peer, sessionID string, body []byte) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/broadcast/%s", peer, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		slog.Error("bridge: failed to build request", "peer", peer, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Warn("bridge: broadcast to peer failed", "peer", peer, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		slog.Warn("bridge: peer rejected broadcast", "peer", peer, "status", resp.StatusCode)
	}
}
