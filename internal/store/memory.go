package store

import (
	"context"
	"sync"
	"time"

	"github.com/syncpad/backend/internal/models"
)

// Memory is an in-process Store used by tests and local runs without
// postgres. Reads hand out copies so callers cannot mutate shared state.
type Memory struct {
	mu    sync.RWMutex
	users map[string]*models.User
	docs  map[string]*models.Document
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]*models.User),
		docs:  make(map[string]*models.Document),
	}
}

// PutUser inserts or replaces a user
func (m *Memory) PutUser(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
}

func (m *Memory) GetUser(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListDocumentsForUser(_ context.Context, userID string) ([]*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var docs []*models.Document
	for _, d := range m.docs {
		if d.CanEdit(userID) {
			docs = append(docs, copyDoc(d))
		}
	}
	return docs, nil
}

func (m *Memory) GetDocument(_ context.Context, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, nil
	}
	return copyDoc(d), nil
}

func (m *Memory) CreateDocument(_ context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = copyDoc(doc)
	return nil
}

func (m *Memory) UpdateTitle(_ context.Context, id, title string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, nil
	}
	d.Title = title
	d.LastModified = time.Now()
	return copyDoc(d), nil
}

func (m *Memory) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

func (m *Memory) AddCollaborator(_ context.Context, docID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[docID]
	if !ok {
		return nil
	}
	for _, id := range d.CollaboratorIDs {
		if id == userID {
			return nil
		}
	}
	d.CollaboratorIDs = append(d.CollaboratorIDs, userID)
	return nil
}

func (m *Memory) RemoveCollaborator(_ context.Context, docID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[docID]
	if !ok {
		return nil
	}
	out := d.CollaboratorIDs[:0]
	for _, id := range d.CollaboratorIDs {
		if id != userID {
			out = append(out, id)
		}
	}
	d.CollaboratorIDs = out
	return nil
}

func (m *Memory) SaveDocumentHead(_ context.Context, id, content string, modified time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil
	}
	d.Content = content
	d.LastModified = modified
	return nil
}

func (m *Memory) AppendVersion(_ context.Context, id string, v models.Version) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return 0, nil
	}
	d.Versions = append(d.Versions, v)
	d.CurrentVersion = len(d.Versions) - 1
	return d.CurrentVersion, nil
}

func (m *Memory) GetVersions(_ context.Context, id string) ([]models.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, nil
	}
	return append([]models.Version(nil), d.Versions...), nil
}

func copyDoc(d *models.Document) *models.Document {
	cp := *d
	cp.CollaboratorIDs = append([]string(nil), d.CollaboratorIDs...)
	cp.Versions = append([]models.Version(nil), d.Versions...)
	cp.ActiveEditors = nil
	return &cp
}
