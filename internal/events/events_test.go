package events

import (
	"context"
	"encoding/json"
	"testing"
)

func TestMemoryBusDispatchesToAllSubscribers(t *testing.T) {
	bus := NewMemoryBus()
	var got []Event
	bus.Subscribe(func(ev Event) { got = append(got, ev) })
	bus.Subscribe(func(ev Event) { got = append(got, ev) })

	ev := Event{Key: "user-1", Name: "document-upload", Payload: json.RawMessage(`[]`)}
	if err := bus.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	for _, g := range got {
		if g.Key != "user-1" || g.Name != "document-upload" {
			t.Fatalf("unexpected event: %+v", g)
		}
	}
}

func TestMemoryBusWithoutSubscribersDropsSilently(t *testing.T) {
	bus := NewMemoryBus()
	if err := bus.Publish(context.Background(), Event{Key: "user-1", Name: "document-update"}); err != nil {
		t.Fatalf("publish without subscribers must not error: %v", err)
	}
}
