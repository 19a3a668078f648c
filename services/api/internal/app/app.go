package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docvault/internal/usertoken"
	"docvault/pkg/domain"
	"docvault/pkg/logs"
	"docvault/pkg/queue"
	"docvault/pkg/storage"
	"docvault/pkg/store"
)

// Per-job retry policy for document jobs: up to 3 attempts with an
// exponentially growing delay starting at 2s.
const (
	jobAttempts = 3
	jobBackoff  = 2 * time.Second
)

// Config wires the dependencies of the API core.
type Config struct {
	Store     store.Store
	Blobs     storage.BlobStore
	Documents *queue.RedisQueue
	Logs      *logs.Producer
	LogReader *logs.Reader
	Tokens    *usertoken.Service
}

// App validates requests, enqueues document jobs and answers reads.
// Document mutations never touch blob storage here; the worker owns
// those side effects.
type App struct {
	store         store.Store
	blobs         storage.BlobStore
	docs          *queue.RedisQueue
	logs          *logs.Producer
	logReader     *logs.Reader
	tokens        *usertoken.Service
	presignExpiry time.Duration
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("app: store is required")
	}
	if cfg.Blobs == nil {
		return nil, errors.New("app: blob store is required")
	}
	if cfg.Documents == nil {
		return nil, errors.New("app: document queue is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("app: token service is required")
	}
	return &App{
		store:         cfg.Store,
		blobs:         cfg.Blobs,
		docs:          cfg.Documents,
		logs:          cfg.Logs,
		logReader:     cfg.LogReader,
		tokens:        cfg.Tokens,
		presignExpiry: 15 * time.Minute,
	}, nil
}

// SubmitUpload checks the per-owner name uniqueness invariant and, if it
// holds, enqueues an upload-document job. The write itself happens later
// in the worker; callers only learn that the job was accepted.
func (a *App) SubmitUpload(ctx context.Context, owner domain.Principal, filename string, data []byte) error {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return errors.New("filename required")
	}
	if _, exists, err := a.store.FindDocumentByOwnerAndName(owner.ID, filename); err != nil {
		return fmt.Errorf("check name: %w", err)
	} else if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, filename)
	}
	payload := domain.UploadJob{
		FileData:         data,
		OriginalFilename: filename,
		OwnerID:          owner.ID,
		OwnerEmail:       owner.Email,
	}
	if _, err := a.docs.Enqueue(ctx, domain.JobUploadDocument, payload,
		queue.WithAttempts(jobAttempts), queue.WithBackoff(jobBackoff)); err != nil {
		return fmt.Errorf("enqueue upload: %w", err)
	}
	a.audit(ctx, domain.LogDocument, fmt.Sprintf("document %q submitted by user %s", filename, owner.ID))
	return nil
}

// SubmitUpdate verifies the caller owns the document and enqueues an
// update-document job. The stored document name decides the blob path;
// the incoming filename is carried only for logging.
func (a *App) SubmitUpdate(ctx context.Context, owner domain.Principal, documentID, filename string, data []byte) error {
	doc, ok, err := a.store.GetDocument(documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if !ok || doc.OwnerID != owner.ID {
		// Missing and foreign documents answer alike so callers cannot
		// probe for other users' document IDs.
		return ErrUnauthorized
	}
	payload := domain.UpdateJob{
		DocumentID:       documentID,
		FileData:         data,
		OriginalFilename: filename,
		OwnerID:          owner.ID,
		OwnerEmail:       owner.Email,
	}
	if _, err := a.docs.Enqueue(ctx, domain.JobUpdateDocument, payload,
		queue.WithAttempts(jobAttempts), queue.WithBackoff(jobBackoff)); err != nil {
		return fmt.Errorf("enqueue update: %w", err)
	}
	a.audit(ctx, domain.LogDocument, fmt.Sprintf("document %q update submitted by user %s", doc.Name, owner.ID))
	return nil
}

// ListDocuments returns the caller's documents. No URLs are signed here;
// annotated views arrive over the realtime channel after each mutation.
func (a *App) ListDocuments(ctx context.Context, owner domain.Principal) ([]domain.Document, error) {
	return a.store.ListDocumentsByOwner(owner.ID)
}

// DeleteDocument removes the blob first and the record second, so a
// failure between the two leaves a missing blob rather than an orphaned
// one. Deletion is synchronous; it does not go through the queue.
func (a *App) DeleteDocument(ctx context.Context, owner domain.Principal, documentID string) error {
	doc, ok, err := a.store.GetDocument(documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if !ok || doc.OwnerID != owner.ID {
		return ErrUnauthorized
	}
	if err := a.blobs.Delete(ctx, domain.BlobPath(owner.Email, doc.Name)); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	if err := a.store.DeleteDocument(doc.ID); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	a.audit(ctx, domain.LogDocument, fmt.Sprintf("document %q deleted by user %s", doc.Name, owner.ID))
	return nil
}

// SecuredReadURL returns a short-lived presigned URL for the document blob.
func (a *App) SecuredReadURL(ctx context.Context, owner domain.Principal, documentID string) (string, error) {
	doc, err := a.ownedDocument(owner, documentID)
	if err != nil {
		return "", err
	}
	url, err := a.blobs.PresignGet(ctx, domain.BlobPath(owner.Email, doc.Name), a.presignExpiry)
	if err != nil {
		return "", fmt.Errorf("presign: %w", err)
	}
	return url, nil
}

// DocumentContent returns the raw bytes of a plain-text document. Any
// other extension is refused with ErrUnsupportedType.
func (a *App) DocumentContent(ctx context.Context, owner domain.Principal, documentID string) ([]byte, error) {
	doc, err := a.ownedDocument(owner, documentID)
	if err != nil {
		return nil, err
	}
	if domain.FileType(doc.Name) != "txt" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, doc.Name)
	}
	data, err := a.blobs.Get(ctx, domain.BlobPath(owner.Email, doc.Name))
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// Logs returns the persisted log history, admin only. An empty filter
// returns every type.
func (a *App) Logs(ctx context.Context, caller domain.Principal, types ...string) ([]domain.LogEntry, error) {
	if caller.Role != domain.RoleAdmin {
		return nil, ErrUnauthorized
	}
	if a.logReader == nil {
		return nil, errors.New("log reader not configured")
	}
	return a.logReader.Logs(ctx, types...)
}

// ownedDocument resolves a document for read-style operations: missing
// documents are ErrNotFound, foreign ones ErrUnauthorized.
func (a *App) ownedDocument(owner domain.Principal, documentID string) (domain.Document, error) {
	doc, ok, err := a.store.GetDocument(documentID)
	if err != nil {
		return domain.Document{}, fmt.Errorf("load document: %w", err)
	}
	if !ok {
		return domain.Document{}, ErrNotFound
	}
	if doc.OwnerID != owner.ID {
		return domain.Document{}, ErrUnauthorized
	}
	return doc, nil
}

// audit is fire and forget: a broken log pipeline never fails the request.
func (a *App) audit(ctx context.Context, logType, message string) {
	if a.logs == nil {
		return
	}
	_ = a.logs.Add(ctx, logType, message)
}

// RecordFailure pushes an error-type entry into the log stream. The HTTP
// layer calls this for unhandled failures so admins see them in history.
func (a *App) RecordFailure(ctx context.Context, message string) {
	a.audit(ctx, domain.LogError, message)
}
