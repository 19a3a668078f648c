// Package logs is the activity log pipeline. Entries are not kept in a
// database table: each Add enqueues a job on a dedicated logging queue,
// and history is reconstructed by scanning that queue's retained job
// records. Retention therefore bounds log history the same way it bounds
// job history.
package logs

import (
	"context"
	"encoding/json"
	"slices"

	"docvault/internal/events"
	"docvault/pkg/domain"
	"docvault/pkg/queue"
)

// JobName is the single job type on the logging queue. Nothing consumes
// it; the enqueue itself is the durability mechanism.
const JobName = "log"

type payload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Producer appends log entries and pushes them live to connected admins.
type Producer struct {
	queue *queue.RedisQueue
	bus   events.Publisher
}

// NewProducer builds a producer over the logging queue. bus may be nil.
func NewProducer(q *queue.RedisQueue, bus events.Publisher) *Producer {
	return &Producer{queue: q, bus: bus}
}

// Add durably records one entry and publishes it on the "logs" channel.
// The publish is best-effort: a missing admin session loses the push, not
// the entry.
func (p *Producer) Add(ctx context.Context, logType, message string) error {
	job, err := p.queue.Enqueue(ctx, JobName, payload{Type: logType, Message: message})
	if err != nil {
		return err
	}
	if p.bus != nil {
		entry := domain.LogEntry{
			ID:        job.ID,
			Type:      logType,
			Message:   message,
			Timestamp: job.CreatedAt,
		}
		raw, err := json.Marshal(entry)
		if err == nil {
			_ = p.bus.Publish(ctx, events.Event{
				Key:     domain.LogsChannelKey,
				Name:    domain.EventLog,
				Payload: raw,
			})
		}
	}
	return nil
}

// Reader reconstructs log history from the queue's job records.
type Reader struct {
	queue *queue.RedisQueue
}

// NewReader builds a reader over the logging queue.
func NewReader(q *queue.RedisQueue) *Reader {
	return &Reader{queue: q}
}

// Logs scans every retained state and maps jobs to entries. With types
// given, only matching categories are returned; empty means all.
func (r *Reader) Logs(ctx context.Context, types ...string) ([]domain.LogEntry, error) {
	jobs, err := r.queue.Jobs(ctx,
		queue.StatusWaiting, queue.StatusActive, queue.StatusCompleted, queue.StatusFailed)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.LogEntry, 0, len(jobs))
	for _, job := range jobs {
		var p payload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			continue
		}
		if len(types) > 0 && !slices.Contains(types, p.Type) {
			continue
		}
		entries = append(entries, domain.LogEntry{
			ID:        job.ID,
			Type:      p.Type,
			Message:   p.Message,
			Timestamp: job.CreatedAt,
		})
	}
	return entries, nil
}
