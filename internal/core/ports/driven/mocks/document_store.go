package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
)

// MockDocumentStore is an in-memory DocumentStore for testing
type MockDocumentStore struct {
	mu   sync.RWMutex
	docs map[string]*domain.Document // key: connectionID:id

	// Error injection
	GetErr    error
	UpsertErr error
	UpdateErr error
	DeleteErr error
}

// NewMockDocumentStore creates a new MockDocumentStore
func NewMockDocumentStore() *MockDocumentStore {
	return &MockDocumentStore{
		docs: make(map[string]*domain.Document),
	}
}

func key(connectionID, id string) string {
	return connectionID + ":" + id
}

// Seed inserts documents directly, bypassing mirror-field semantics.
func (m *MockDocumentStore) Seed(docs ...*domain.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		cp := *d
		m.docs[key(d.ConnectionID, d.ID)] = &cp
	}
}

// All returns a snapshot of every stored document.
func (m *MockDocumentStore) All() []*domain.Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Document, 0, len(m.docs))
	for _, d := range m.docs {
		cp := *d
		out = append(out, &cp)
	}
	return out
}

func (m *MockDocumentStore) Get(ctx context.Context, connectionID, id string) (*domain.Document, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[key(connectionID, id)]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MockDocumentStore) FindChildren(ctx context.Context, connectionID, parentID string) ([]*domain.Document, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Document
	for _, d := range m.docs {
		if d.ConnectionID != connectionID {
			continue
		}
		if parentID == "" {
			if d.ParentID == nil || *d.ParentID == "" {
				cp := *d
				out = append(out, &cp)
			}
			continue
		}
		if d.ParentID != nil && *d.ParentID == parentID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockDocumentStore) FindByIDs(ctx context.Context, connectionID string, ids []string) ([]*domain.Document, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Document
	for _, id := range ids {
		if d, ok := m.docs[key(connectionID, id)]; ok {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockDocumentStore) FindSubscribed(ctx context.Context, userID string) ([]*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Document
	for _, d := range m.docs {
		if d.UserID == userID && d.IsSubscribed {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockDocumentStore) FindWithStorageKey(ctx context.Context, connectionID string) ([]*domain.Document, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Document
	for _, d := range m.docs {
		if d.ConnectionID == connectionID && d.StorageKey != nil && *d.StorageKey != "" {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockDocumentStore) UpsertMirror(ctx context.Context, docs []*domain.Document) error {
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		k := key(d.ConnectionID, d.ID)
		if existing, ok := m.docs[k]; ok {
			// Mirror fields only; pipeline state is preserved.
			existing.Title = d.Title
			existing.ParentID = d.ParentID
			existing.CanHaveChildren = d.CanHaveChildren
			existing.CanDownload = d.CanDownload
			existing.ResourceURI = d.ResourceURI
			existing.CreatedAt = d.CreatedAt
			existing.UpdatedAt = d.UpdatedAt
			existing.UserID = d.UserID
			continue
		}
		cp := *d
		m.docs[k] = &cp
	}
	return nil
}

func (m *MockDocumentStore) InsertIfAbsent(ctx context.Context, doc *domain.Document) (bool, error) {
	if m.UpsertErr != nil {
		return false, m.UpsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(doc.ConnectionID, doc.ID)
	if _, ok := m.docs[k]; ok {
		return false, nil
	}
	cp := *doc
	m.docs[k] = &cp
	return true, nil
}

func (m *MockDocumentStore) SetSubscription(ctx context.Context, connectionID string, ids []string, subscribed bool) error {
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if d, ok := m.docs[key(connectionID, id)]; ok {
			d.IsSubscribed = subscribed
		}
	}
	return nil
}

func (m *MockDocumentStore) UpdateDownloadState(ctx context.Context, connectionID, id string, from []domain.DownloadState, to domain.DownloadState) (bool, error) {
	if m.UpdateErr != nil {
		return false, m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[key(connectionID, id)]
	if !ok {
		return false, domain.ErrDocumentNotFound
	}
	if len(from) > 0 {
		allowed := false
		for _, f := range from {
			if d.DownloadState == f {
				allowed = true
				break
			}
		}
		if !allowed {
			return false, nil
		}
	}
	d.DownloadState = to
	return true, nil
}

func (m *MockDocumentStore) Update(ctx context.Context, connectionID, id string, patch domain.DocumentPatch) error {
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[key(connectionID, id)]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	if patch.Title != nil {
		d.Title = *patch.Title
	}
	if patch.ResourceURI != nil {
		d.ResourceURI = *patch.ResourceURI
	}
	if patch.UpdatedAt != nil {
		d.UpdatedAt = *patch.UpdatedAt
	}
	if patch.IsSubscribed != nil {
		d.IsSubscribed = *patch.IsSubscribed
	}
	if patch.DownloadState != nil {
		d.DownloadState = *patch.DownloadState
	}
	if patch.DownloadError != nil {
		d.DownloadError = patch.DownloadError
	}
	if patch.StorageKey != nil {
		d.StorageKey = patch.StorageKey
	}
	if patch.Content != nil {
		d.Content = patch.Content
	}
	if patch.LastSyncedAt != nil {
		d.LastSyncedAt = patch.LastSyncedAt
	}
	return nil
}

func (m *MockDocumentStore) Delete(ctx context.Context, connectionID string, ids []string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.docs, key(connectionID, id))
	}
	return nil
}

func (m *MockDocumentStore) DeleteByConnection(ctx context.Context, connectionID string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, d := range m.docs {
		if d.ConnectionID == connectionID {
			delete(m.docs, k)
		}
	}
	return nil
}

func (m *MockDocumentStore) CountByConnection(ctx context.Context, connectionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, d := range m.docs {
		if d.ConnectionID == connectionID {
			n++
		}
	}
	return n, nil
}
