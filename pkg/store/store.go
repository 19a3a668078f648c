package store

import "docvault/pkg/domain"

// Store defines persistence operations for users and documents.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	UserCount() (int64, error)

	// documents
	//
	// CreateDocument is idempotent on (ownerID, name): replaying the same
	// create keeps a single record, so at-least-once job redelivery is safe.
	CreateDocument(domain.Document) (domain.Document, error)
	GetDocument(id string) (domain.Document, bool, error)
	FindDocumentByOwnerAndName(ownerID, name string) (domain.Document, bool, error)
	ListDocumentsByOwner(ownerID string) ([]domain.Document, error)
	SetDocumentStatus(id string, status domain.DocumentStatus, size int64, contentType string) error
	DeleteDocument(id string) error
}
