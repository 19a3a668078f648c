package domain

import (
	"path/filepath"
	"strings"
	"time"
)

type DocumentStatus string

const (
	StatusUploaded DocumentStatus = "uploaded"
	StatusUpdated  DocumentStatus = "updated"
)

type UserRole string

const (
	RoleUser  UserRole = "USER"
	RoleAdmin UserRole = "ADMIN"
)

type Document struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Status      DocumentStatus `json:"status"`
	OwnerID     string         `json:"ownerId"`
	Size        int64          `json:"size"`
	ContentType string         `json:"contentType,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// DocumentView is the shape pushed to clients: a document annotated with a
// short-lived read URL and its filename extension.
type DocumentView struct {
	Document
	URL   string `json:"url"`
	Types string `json:"types"`
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"displayName,omitempty"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Principal is the authenticated identity derived from a verified token.
type Principal struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Role  UserRole `json:"role"`
}

// Job names understood by the document worker.
const (
	JobUploadDocument = "upload-document"
	JobUpdateDocument = "update-document"
)

// UploadJob is the payload of an upload-document job.
type UploadJob struct {
	FileData         []byte `json:"fileData"`
	OriginalFilename string `json:"originalFilename"`
	OwnerID          string `json:"ownerId"`
	OwnerEmail       string `json:"ownerEmail"`
}

// UpdateJob is the payload of an update-document job. The worker resolves
// the blob path from the stored document name, not the incoming filename.
type UpdateJob struct {
	DocumentID       string `json:"documentId"`
	FileData         []byte `json:"fileData"`
	OriginalFilename string `json:"originalFilename"`
	OwnerID          string `json:"ownerId"`
	OwnerEmail       string `json:"ownerEmail"`
}

// Log entry categories.
const (
	LogDocument = "document"
	LogUser     = "user"
	LogAuth     = "auth"
	LogError    = "error"
)

type LogEntry struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Realtime event names.
const (
	EventDocumentUpload = "document-upload"
	EventDocumentUpdate = "document-update"
	EventLog            = "log"
)

// LogsChannelKey indexes the single admin log subscription in the notifier.
const LogsChannelKey = "logs"

// BlobPath returns the deterministic object key for a document,
// "{ownerEmail}/{documentName}". The same key addresses the blob for
// write, read, delete, and URL signing.
func BlobPath(ownerEmail, documentName string) string {
	return ownerEmail + "/" + documentName
}

// FileType returns the filename extension without the leading dot,
// lower-cased ("report.TXT" -> "txt").
func FileType(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}
