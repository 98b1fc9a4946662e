package broadcast

import (
	"context"
	"sync"
)

// DefaultBuffer is the per-subscriber channel size.
const DefaultBuffer = 32

// Hub fans events out to in-process subscribers of a session. A subscriber
// whose buffer is full is dropped: its channel is closed and it must
// resubscribe.
type Hub struct {
	buffer int

	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

// NewHub creates a hub with buffer-sized subscriber channels.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[string]map[*Subscription]struct{}),
	}
}

// Subscription is one reader of a session's events.
type Subscription struct {
	hub       *Hub
	sessionID string
	ch        chan Event
	once      sync.Once
}

// C receives events. It is closed on Close, on a terminal event, or when
// the subscriber falls behind.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	s.hub.remove(s)
	s.hub.mu.Unlock()
}

// Subscribe registers a reader for sessionID. When current is not nil it is
// delivered first; a terminal current closes the subscription right after.
func (h *Hub) Subscribe(sessionID string, current *Event) *Subscription {
	sub := &Subscription{
		hub:       h,
		sessionID: sessionID,
		ch:        make(chan Event, h.buffer),
	}

	if current != nil {
		sub.ch <- *current
		if current.Terminal() {
			sub.once.Do(func() { close(sub.ch) })
			return sub
		}
	}

	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Publish delivers e to the session's subscribers without blocking.
func (h *Hub) Publish(_ context.Context, e Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[e.SessionID] {
		select {
		case sub.ch <- e:
			if e.Terminal() {
				h.remove(sub)
			}
		default:
			h.remove(sub)
		}
	}
	return nil
}

// Subscribers returns the number of readers of sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

// remove must be called with h.mu held.
func (h *Hub) remove(sub *Subscription) {
	if set, ok := h.subs[sub.sessionID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.sessionID)
		}
	}
	sub.once.Do(func() { close(sub.ch) })
}
