// Package notify implements the Notification Hub: per-session subscriber
// registries delivering new-message events over buffered channels.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/leoric-crown/shared-context-server/pkg/concurrent"
	"github.com/leoric-crown/shared-context-server/pkg/identity"
	"github.com/leoric-crown/shared-context-server/pkg/session"
)

// DefaultBufferSize bounds how many pending events a slow subscriber can
// accumulate before the oldest is dropped to make room for the newest.
const DefaultBufferSize = 64

// Event is published to every subscriber of a session when a new message
// is added, before visibility filtering. Subscribers receive the raw event
// and must apply session.Visible themselves against their own identity.
type Event struct {
	SessionID string
	Message   session.Message
}

// ChangeEvent is the wire form of an Event: what push transports frame to
// clients and what the broadcast bridge posts to peers. It carries no
// message content, only a hint the subscriber uses to re-read through the
// session core (which applies visibility).
type ChangeEvent struct {
	Type      string     `json:"type"`
	SessionID string     `json:"session_id"`
	Cause     string     `json:"cause"`
	Hint      ChangeHint `json:"hint"`
}

type ChangeHint struct {
	MessageID int64     `json:"message_id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Wire converts the event to its client-facing shape.
func (e Event) Wire() ChangeEvent {
	return ChangeEvent{
		Type:      "session_changed",
		SessionID: e.SessionID,
		Cause:     "new_message",
		Hint:      ChangeHint{MessageID: e.Message.ID, Timestamp: e.Message.Timestamp},
	}
}

// Subscription is a single subscriber's view of a session's event stream.
type Subscription struct {
	ID        string
	SessionID string
	C         <-chan Event

	hub *Hub
}

// Close unsubscribes, releasing the subscription's channel.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.SessionID, s.ID)
}

type subscriber struct {
	id      string
	ch      chan Event
	dropped atomic.Int64

	mu     sync.Mutex
	closed bool
}

// send enqueues evt, evicting the oldest buffered event if the buffer is
// full. Holding mu across the channel operations keeps send and close from
// racing: a closed subscriber silently drops the event instead.
func (s *subscriber) send(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- evt:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
			return
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Hub fans new-message events out to subscribers of a session. Delivery is
// best-effort: a subscriber that falls behind loses its oldest buffered
// event rather than blocking the publisher.
type Hub struct {
	bufferSize int
	sessions   sync.Map // sessionID -> *concurrent.Map[string, *subscriber]
	nextID     atomic.Int64
}

func NewHub() *Hub {
	return &Hub{
		bufferSize: DefaultBufferSize,
	}
}

func (h *Hub) sessionSubs(sessionID string) *concurrent.Map[string, *subscriber] {
	v, _ := h.sessions.LoadOrStore(sessionID, concurrent.NewMap[string, *subscriber]())
	return v.(*concurrent.Map[string, *subscriber])
}

// Subscribe registers a new subscriber for sessionID. Callers should defer
// Close() on the returned Subscription.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	id := fmtID(h.nextID.Add(1))
	sub := &subscriber{id: id, ch: make(chan Event, h.bufferSize)}
	h.sessionSubs(sessionID).Store(id, sub)

	return &Subscription{ID: id, SessionID: sessionID, C: sub.ch, hub: h}
}

func (h *Hub) unsubscribe(sessionID, id string) {
	subs := h.sessionSubs(sessionID)
	if sub, ok := subs.Load(id); ok {
		sub.close()
	}
	subs.Delete(id)
}

// Publish fans msg out to every current subscriber of sessionID. A full
// subscriber buffer has its oldest event dropped to make room; Publish
// itself never blocks.
func (h *Hub) Publish(sessionID string, msg session.Message) {
	evt := Event{SessionID: sessionID, Message: msg}
	h.sessionSubs(sessionID).Range(func(_ string, sub *subscriber) bool {
		sub.send(evt)
		return true
	})
}

// DroppedTotal reports how many events have been evicted from full
// subscriber buffers across every session since the hub was created.
func (h *Hub) DroppedTotal() int64 {
	var total int64
	h.sessions.Range(func(_, v any) bool {
		v.(*concurrent.Map[string, *subscriber]).Range(func(_ string, sub *subscriber) bool {
			total += sub.dropped.Load()
			return true
		})
		return true
	})
	return total
}

// SubscriberCount reports how many live subscribers a session currently has.
func (h *Hub) SubscriberCount(sessionID string) int {
	return h.sessionSubs(sessionID).Length()
}

func fmtID(n int64) string {
	const digits = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n == 0 {
		return "0"
	}
	var buf [13]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = digits[n%int64(len(digits))]
		n /= int64(len(digits))
	}
	return string(buf[i:])
}

// VisibleTo adapts an Event to the caller's identity, returning ok=false if
// the caller is not entitled to see the message.
func VisibleTo(evt Event, caller identity.Identity) (session.Message, bool) {
	if session.Visible(evt.Message, caller) {
		return evt.Message, true
	}
	return session.Message{}, false
}
