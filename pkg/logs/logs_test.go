package logs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"docvault/internal/events"
	"docvault/pkg/domain"
	"docvault/pkg/queue"
)

func newLogQueue(t *testing.T) *queue.RedisQueue {
	t.Helper()
	srv := miniredis.RunT(t)
	q, err := queue.New(queue.Config{
		Client: redis.NewClient(&redis.Options{Addr: srv.Addr()}),
		Name:   "logs",
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q
}

func TestAddThenFilteredRead(t *testing.T) {
	q := newLogQueue(t)
	producer := NewProducer(q, nil)
	reader := NewReader(q)
	ctx := context.Background()

	if err := producer.Add(ctx, domain.LogDocument, "X"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := producer.Add(ctx, domain.LogAuth, "login a@x.com"); err != nil {
		t.Fatalf("add: %v", err)
	}

	docLogs, err := reader.Logs(ctx, domain.LogDocument)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(docLogs) != 1 {
		t.Fatalf("expected 1 document log, got %d", len(docLogs))
	}
	if docLogs[0].Type != domain.LogDocument || docLogs[0].Message != "X" {
		t.Fatalf("unexpected entry: %+v", docLogs[0])
	}
	if docLogs[0].ID == "" || docLogs[0].Timestamp.IsZero() {
		t.Fatalf("entry missing id/timestamp: %+v", docLogs[0])
	}
}

func TestReadWithoutFilterReturnsAllTypes(t *testing.T) {
	q := newLogQueue(t)
	producer := NewProducer(q, nil)
	reader := NewReader(q)
	ctx := context.Background()

	for _, typ := range []string{domain.LogDocument, domain.LogUser, domain.LogAuth, domain.LogError} {
		if err := producer.Add(ctx, typ, "msg "+typ); err != nil {
			t.Fatalf("add %s: %v", typ, err)
		}
	}
	all, err := reader.Logs(ctx)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(all))
	}
}

func TestAddPushesLiveEntryToLogsChannel(t *testing.T) {
	q := newLogQueue(t)
	bus := events.NewMemoryBus()
	var got []events.Event
	bus.Subscribe(func(ev events.Event) { got = append(got, ev) })

	producer := NewProducer(q, bus)
	if err := producer.Add(context.Background(), domain.LogUser, "user registered"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one live event, got %d", len(got))
	}
	if got[0].Key != domain.LogsChannelKey || got[0].Name != domain.EventLog {
		t.Fatalf("unexpected routing: %+v", got[0])
	}
	var entry domain.LogEntry
	if err := json.Unmarshal(got[0].Payload, &entry); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if entry.Type != domain.LogUser || entry.Message != "user registered" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}
