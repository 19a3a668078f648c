package store

import (
	"fmt"
	"sync"
	"time"

	"docvault/pkg/domain"
)

// MemoryStore keeps users and documents in-process. It implements the
// same idempotency contract as GormStore and backs unit tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]domain.User // user ID -> user
	email map[string]string      // email -> user ID
	docs  map[string]domain.Document
	order []string // document insertion order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]domain.User),
		email: make(map[string]string),
		docs:  make(map[string]domain.Document),
	}
}

func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	return users, nil
}

func (m *MemoryStore) UserCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.users)), nil
}

// CreateDocument inserts a document, converging replays for the same
// (owner, name) onto the first record.
func (m *MemoryStore) CreateDocument(d domain.Document) (domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		existing, ok := m.docs[id]
		if ok && existing.OwnerID == d.OwnerID && existing.Name == d.Name {
			existing.Status = d.Status
			existing.Size = d.Size
			existing.ContentType = d.ContentType
			existing.UpdatedAt = time.Now().UTC()
			m.docs[id] = existing
			return existing, nil
		}
	}
	m.docs[d.ID] = d
	m.order = append(m.order, d.ID)
	return d, nil
}

func (m *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	return d, ok, nil
}

func (m *MemoryStore) FindDocumentByOwnerAndName(ownerID, name string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		if d, ok := m.docs[id]; ok && d.OwnerID == ownerID && d.Name == name {
			return d, true, nil
		}
	}
	return domain.Document{}, false, nil
}

func (m *MemoryStore) ListDocumentsByOwner(ownerID string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := make([]domain.Document, 0, len(m.order))
	for _, id := range m.order {
		if d, ok := m.docs[id]; ok && d.OwnerID == ownerID {
			docs = append(docs, d)
		}
	}
	return docs, nil
}

func (m *MemoryStore) SetDocumentStatus(id string, status domain.DocumentStatus, size int64, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s not found", id)
	}
	d.Status = status
	d.Size = size
	d.ContentType = contentType
	d.UpdatedAt = time.Now().UTC()
	m.docs[id] = d
	return nil
}

func (m *MemoryStore) DeleteDocument(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	filtered := m.order[:0]
	for _, item := range m.order {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.order = filtered
	return nil
}
