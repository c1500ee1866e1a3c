// Package notification provides the in-process broadcast hub for queue
// change notifications.
package notification

import (
	"sync"

	"github.com/google/uuid"

	"github.com/playdeck/playdeck/internal/domain/episode"
)

// Snapshot is the full queue state carried by every change
// notification. Both fields are defensive copies.
type Snapshot struct {
	Current *episode.Episode
	Queue   []episode.Episode
}

// Handler receives queue snapshots.
type Handler func(Snapshot)

// Hub manages subscriptions and broadcasts queue snapshots. Dispatch
// is synchronous: a mutation completes, including notifying its
// consumers, before the publishing call returns.
type Hub struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHub creates a new hub.
func NewHub() *Hub {
	return &Hub{handlers: make(map[string]Handler)}
}

// Subscribe registers a handler and returns its subscription ID.
func (h *Hub) Subscribe(handler Handler) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.New().String()
	h.handlers[id] = handler
	return id
}

// Unsubscribe removes a subscription.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.handlers, id)
}

// Publish delivers the snapshot to every subscriber. Handlers run on
// the caller's goroutine; the subscriber list is copied first so a
// handler may subscribe or unsubscribe without deadlocking.
func (h *Hub) Publish(snapshot Snapshot) {
	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		handlers = append(handlers, handler)
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(snapshot)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}
