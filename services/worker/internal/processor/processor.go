package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"docvault/internal/events"
	"docvault/internal/util"
	"docvault/pkg/domain"
	"docvault/pkg/queue"
	"docvault/pkg/storage"
	"docvault/pkg/store"
)

// Config wires the dependencies of the document worker.
type Config struct {
	Store store.Store
	Blobs storage.BlobStore
	Bus   events.Publisher
}

// Processor executes document jobs: it owns every blob write and every
// Document record mutation in the system. Returning an error hands the
// job back to the queue for retry.
type Processor struct {
	store         store.Store
	blobs         storage.BlobStore
	bus           events.Publisher
	presignExpiry time.Duration
}

func New(cfg Config) *Processor {
	return &Processor{
		store:         cfg.Store,
		blobs:         cfg.Blobs,
		bus:           cfg.Bus,
		presignExpiry: 15 * time.Minute,
	}
}

// task is the decoded form of a queue job. Each variant knows how to run
// itself, so adding a job kind means adding a type here and a case in
// decodeTask; an unknown name fails loudly instead of being dropped.
type task interface {
	run(ctx context.Context, p *Processor) error
}

func decodeTask(job queue.Job) (task, error) {
	switch job.Name {
	case domain.JobUploadDocument:
		var t uploadTask
		if err := json.Unmarshal(job.Payload, &t.UploadJob); err != nil {
			return nil, fmt.Errorf("decode upload payload: %w", err)
		}
		return t, nil
	case domain.JobUpdateDocument:
		var t updateTask
		if err := json.Unmarshal(job.Payload, &t.UpdateJob); err != nil {
			return nil, fmt.Errorf("decode update payload: %w", err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown job type %q", job.Name)
	}
}

// Process is the queue handler.
func (p *Processor) Process(ctx context.Context, job queue.Job) error {
	t, err := decodeTask(job)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := t.run(ctx, p); err != nil {
		return err
	}
	slog.Info("job processed", "job", job.Name, "jobId", job.ID, "attempt", job.Attempts+1, "took", time.Since(start))
	return nil
}

type uploadTask struct {
	domain.UploadJob
}

// run writes the blob at the deterministic path and creates the Document
// record. Both steps are idempotent, so a redelivered job converges on
// the same blob and the same record.
func (t uploadTask) run(ctx context.Context, p *Processor) error {
	key := domain.BlobPath(t.OwnerEmail, t.OriginalFilename)
	contentType := contentTypeFor(t.OriginalFilename)
	if err := p.blobs.Put(ctx, key, t.FileData, contentType); err != nil {
		return fmt.Errorf("put blob %s: %w", key, err)
	}
	now := time.Now().UTC()
	doc := domain.Document{
		ID:          util.NewID(),
		Name:        t.OriginalFilename,
		Status:      domain.StatusUploaded,
		OwnerID:     t.OwnerID,
		Size:        int64(len(t.FileData)),
		ContentType: contentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := p.store.CreateDocument(doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return p.notifyOwner(ctx, t.OwnerID, t.OwnerEmail, domain.EventDocumentUpload)
}

type updateTask struct {
	domain.UpdateJob
}

// run overwrites the existing blob in place. The stored document name
// decides the path, so a client renaming the file locally cannot fork
// the blob away from its record.
func (t updateTask) run(ctx context.Context, p *Processor) error {
	doc, ok, err := p.store.GetDocument(t.DocumentID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", t.DocumentID, err)
	}
	if !ok {
		return fmt.Errorf("document %s not found", t.DocumentID)
	}
	if doc.OwnerID != t.OwnerID {
		return fmt.Errorf("document %s not owned by %s", t.DocumentID, t.OwnerID)
	}
	key := domain.BlobPath(t.OwnerEmail, doc.Name)
	contentType := contentTypeFor(doc.Name)
	if err := p.blobs.Put(ctx, key, t.FileData, contentType); err != nil {
		return fmt.Errorf("put blob %s: %w", key, err)
	}
	if err := p.store.SetDocumentStatus(doc.ID, domain.StatusUpdated, int64(len(t.FileData)), contentType); err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return p.notifyOwner(ctx, t.OwnerID, t.OwnerEmail, domain.EventDocumentUpdate)
}

// notifyOwner publishes the owner's full refreshed document list, each
// entry annotated with a fresh read URL and its file type. Keyed by the
// owner's user ID so only their socket sees it.
func (p *Processor) notifyOwner(ctx context.Context, ownerID, ownerEmail, event string) error {
	docs, err := p.store.ListDocumentsByOwner(ownerID)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	views := make([]domain.DocumentView, 0, len(docs))
	for _, doc := range docs {
		url, err := p.blobs.PresignGet(ctx, domain.BlobPath(ownerEmail, doc.Name), p.presignExpiry)
		if err != nil {
			slog.Warn("presign failed", "document", doc.ID, "err", err)
			url = ""
		}
		views = append(views, domain.DocumentView{
			Document: doc,
			URL:      url,
			Types:    domain.FileType(doc.Name),
		})
	}
	payload, err := json.Marshal(views)
	if err != nil {
		return fmt.Errorf("marshal views: %w", err)
	}
	if err := p.bus.Publish(ctx, events.Event{Key: ownerID, Name: event, Payload: payload}); err != nil {
		// Realtime delivery is best effort; the work already committed.
		slog.Warn("publish realtime event", "event", event, "err", err)
	}
	return nil
}

func contentTypeFor(name string) string {
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return ct
}
