package notify

import "docvault/internal/events"

// Relay adapts a hub into an event-bus handler: each consumed event is
// pushed to the connection registered under its key. This is how an api
// instance turns worker-published events into websocket pushes.
func Relay(h *Hub) events.Handler {
	return func(ev events.Event) {
		h.Notify(ev.Key, ev.Name, ev.Payload)
	}
}
