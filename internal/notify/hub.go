// Package notify tracks live client connections and pushes best-effort
// events to them. Exactly one connection is tracked per key: a new
// connection for the same key replaces the old mapping entry
// (last-connect-wins). A push to an absent key is dropped silently;
// missed notifications are never resent, the next list query is the
// ground truth.
package notify

import (
	"log/slog"
	"sync"
)

// Conn is the slice of a websocket connection the hub needs.
// *websocket.Conn from gorilla satisfies it.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Envelope is the wire shape of one push.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub maps principal keys to their single live connection.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// NewHub initializes an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]Conn)}
}

// Register indexes a connection under key, replacing any previous entry.
// The replaced connection is left open; it is simply no longer addressed.
func (h *Hub) Register(key string, c Conn) {
	if key == "" || c == nil {
		return
	}
	h.mu.Lock()
	h.conns[key] = c
	h.mu.Unlock()
}

// Unregister removes the mapping only when it still points at c, so a
// stale disconnect never evicts a newer connection for the same key.
func (h *Hub) Unregister(key string, c Conn) {
	h.mu.Lock()
	if existing, ok := h.conns[key]; ok && existing == c {
		delete(h.conns, key)
	}
	h.mu.Unlock()
}

// Notify pushes an event to the connection registered under key, if any.
// Write failures are logged and otherwise ignored.
func (h *Hub) Notify(key, event string, payload any) {
	h.mu.RLock()
	c, ok := h.conns[key]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if err := c.WriteJSON(Envelope{Event: event, Data: payload}); err != nil {
		slog.Warn("realtime push failed", "key", key, "event", event, "err", err)
	}
}

// Connected reports whether a live connection is tracked for key.
func (h *Hub) Connected(key string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[key]
	return ok
}
