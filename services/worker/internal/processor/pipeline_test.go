package processor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"docvault/pkg/domain"
	"docvault/pkg/queue"
)

// Drives a job through the real queue into the processor: enqueue on one
// side, observe the blob, the record and the realtime push on the other.
func TestPipelineProcessesEnqueuedUpload(t *testing.T) {
	env := newTestEnv(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q, err := queue.New(queue.Config{Client: client, Name: "documents", Block: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Run(ctx, 2, env.proc.Process)

	payload := domain.UploadJob{
		FileData:         []byte("hello"),
		OriginalFilename: "report.txt",
		OwnerID:          "u-alice",
		OwnerEmail:       "alice@example.com",
	}
	if _, err := q.Enqueue(ctx, domain.JobUploadDocument, payload,
		queue.WithAttempts(3), queue.WithBackoff(20*time.Millisecond)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		_, ok, _ := env.store.FindDocumentByOwnerAndName("u-alice", "report.txt")
		return ok
	})
	if !env.blobs.Has("alice@example.com/report.txt") {
		t.Fatal("blob missing after pipeline run")
	}
	waitFor(t, 5*time.Second, func() bool {
		jobs, err := q.Jobs(context.Background(), queue.StatusCompleted)
		return err == nil && len(jobs) == 1
	})
	if len(*env.events) == 0 {
		t.Fatal("no realtime event published")
	}
}
