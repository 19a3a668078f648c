// Package events carries realtime notifications between processes. The
// worker publishes document events, the api process relays them to its
// connected websocket clients. Delivery is best-effort: an event published
// while no relay is listening is lost, and the next document list query is
// the ground truth.
package events

import (
	"context"
	"encoding/json"
	"sync"
)

// Event is one push notification, routed by Key (an owner id, or the
// fixed "logs" admin channel).
type Event struct {
	Key     string          `json:"key"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// Publisher emits events toward connected clients.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Handler consumes a single event.
type Handler func(Event)

// MemoryBus is an in-process Publisher for tests and single-binary runs.
// Publish dispatches synchronously to every subscriber.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewMemoryBus initializes an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Subscribe registers a handler for all subsequent events.
func (m *MemoryBus) Subscribe(fn Handler) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.handlers = append(m.handlers, fn)
	m.mu.Unlock()
}

// Publish dispatches the event to every subscriber.
func (m *MemoryBus) Publish(_ context.Context, ev Event) error {
	m.mu.RLock()
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.RUnlock()
	for _, fn := range handlers {
		fn(ev)
	}
	return nil
}
