package streamhub

import (
	"sync"

	"orgai/services/chat-api/internal/domain/chat"
	"orgai/services/chat-api/internal/infrastructure/metrics"
)

// subscriberBuffer bounds each subscriber channel. A subscriber that falls
// this far behind starts losing events rather than stalling the stream.
const subscriberBuffer = 256

// Message is one streaming event addressed to a user's subscribers.
type Message struct {
	ConversationID string     `json:"conversation_id"`
	InstanceID     string     `json:"instance_id"`
	Event          chat.Event `json:"event"`
}

type subscriber struct {
	ch chan Message
}

// Hub fans streaming events out to a user's connected clients. Each
// conversation has at most one active stream instance; events tagged with
// any other instance are stale left-overs from an abandoned stream and are
// dropped. The abandoned stream itself keeps running to completion so its
// usage is still billed.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[*subscriber]struct{}
	active      map[string]string
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[*subscriber]struct{}),
		active:      make(map[string]string),
	}
}

// Subscribe registers a client for the user's events. The returned cancel
// function must be called when the client disconnects; it closes the
// channel.
func (h *Hub) Subscribe(userEmail string) (<-chan Message, func()) {
	sub := &subscriber{ch: make(chan Message, subscriberBuffer)}

	h.mu.Lock()
	subs, ok := h.subscribers[userEmail]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.subscribers[userEmail] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs, ok := h.subscribers[userEmail]
		if !ok {
			return
		}
		if _, present := subs[sub]; !present {
			return
		}
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subscribers, userEmail)
		}
		close(sub.ch)
	}
	return sub.ch, cancel
}

// SetActive marks instanceID as the conversation's live stream. Any
// previously active instance becomes stale.
func (h *Hub) SetActive(userEmail, conversationID, instanceID string) {
	h.mu.Lock()
	h.active[userEmail+"|"+conversationID] = instanceID
	h.mu.Unlock()
}

// Publish delivers the event to every subscriber of the user, unless the
// instance is stale. Slow subscribers lose the event instead of blocking
// the producer. A terminal event retires the conversation's active entry.
func (h *Hub) Publish(userEmail, conversationID, instanceID string, ev chat.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := userEmail + "|" + conversationID
	if h.active[key] != instanceID {
		metrics.StreamEventsDropped.Inc()
		return
	}

	msg := Message{ConversationID: conversationID, InstanceID: instanceID, Event: ev}
	for sub := range h.subscribers[userEmail] {
		select {
		case sub.ch <- msg:
		default:
			metrics.StreamEventsDropped.Inc()
		}
	}

	if ev.Type == chat.EventCompleted || ev.Type == chat.EventFailed {
		delete(h.active, key)
	}
}
