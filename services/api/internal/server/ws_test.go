package server

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"docvault/internal/events"
	"docvault/pkg/domain"
)

func dialWS(t *testing.T, ts *testServer, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	if token != "" {
		wsURL += "?token=" + token
	}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitConnected(t *testing.T, ts *testServer, key string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ts.hub.Connected(key) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no connection registered for %q", key)
}

func TestWebsocketReceivesOwnerScopedEvents(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "admin@example.com")
	user := ts.register(t, "alice@example.com")
	token := ts.login(t, "alice@example.com")

	conn := dialWS(t, ts, token)
	waitConnected(t, ts, user.ID)

	payload, _ := json.Marshal([]domain.DocumentView{{
		Document: domain.Document{ID: "d1", Name: "report.txt", OwnerID: user.ID},
		URL:      "https://example.com/d1",
		Types:    "txt",
	}})
	// An event for someone else first: it must never reach this socket.
	_ = ts.bus.Publish(context.Background(), events.Event{Key: "u-other", Name: domain.EventDocumentUpload, Payload: payload})
	_ = ts.bus.Publish(context.Background(), events.Event{Key: user.ID, Name: domain.EventDocumentUpload, Payload: payload})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var envelope struct {
		Event string                `json:"event"`
		Data  []domain.DocumentView `json:"data"`
	}
	if err := conn.ReadJSON(&envelope); err != nil {
		t.Fatalf("read push: %v", err)
	}
	if envelope.Event != domain.EventDocumentUpload {
		t.Fatalf("event = %q, want %q", envelope.Event, domain.EventDocumentUpload)
	}
	if len(envelope.Data) != 1 || envelope.Data[0].Types != "txt" {
		t.Fatalf("data = %+v", envelope.Data)
	}
}

func TestWebsocketAdminJoinsLogChannel(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.register(t, "admin@example.com")
	token := ts.login(t, "admin@example.com")

	conn := dialWS(t, ts, token)
	waitConnected(t, ts, admin.ID)
	waitConnected(t, ts, domain.LogsChannelKey)

	entry, _ := json.Marshal(domain.LogEntry{ID: "l1", Type: domain.LogAuth, Message: "user logged in", Timestamp: time.Now().UTC()})
	_ = ts.bus.Publish(context.Background(), events.Event{Key: domain.LogsChannelKey, Name: domain.EventLog, Payload: entry})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var envelope struct {
		Event string          `json:"event"`
		Data  domain.LogEntry `json:"data"`
	}
	if err := conn.ReadJSON(&envelope); err != nil {
		t.Fatalf("read push: %v", err)
	}
	if envelope.Event != domain.EventLog {
		t.Fatalf("event = %q, want %q", envelope.Event, domain.EventLog)
	}
	if envelope.Data.Type != domain.LogAuth {
		t.Fatalf("entry type = %q", envelope.Data.Type)
	}
}

func TestWebsocketInvalidTokenStaysUnsubscribed(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "admin@example.com")

	conn := dialWS(t, ts, "not-a-token")
	// The socket stays open but is never registered, so pushes cannot
	// reach it. Give the handler a moment, then check nothing was mapped.
	time.Sleep(50 * time.Millisecond)
	if ts.hub.Connected(domain.LogsChannelKey) {
		t.Fatal("invalid token joined the log channel")
	}

	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("unexpected push on unauthenticated socket")
	}
}
