package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
)

// MockBlobStore is an in-memory BlobStore for testing
type MockBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	PutErr error
	GetErr error
	// DeleteErrs injects per-key delete failures.
	DeleteErrs map[string]error

	// Deleted records every key a Delete was attempted for.
	Deleted []string
}

// NewMockBlobStore creates a new MockBlobStore
func NewMockBlobStore() *MockBlobStore {
	return &MockBlobStore{
		blobs:      make(map[string][]byte),
		DeleteErrs: make(map[string]error),
	}
}

func (m *MockBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if m.PutErr != nil {
		return "", m.PutErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[key] = cp
	return key, nil
}

func (m *MockBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *MockBlobStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deleted = append(m.Deleted, key)
	if err, ok := m.DeleteErrs[key]; ok {
		return err
	}
	delete(m.blobs, key)
	return nil
}

func (m *MockBlobStore) Ping(ctx context.Context) error {
	return nil
}

// Has reports whether a blob exists under key.
func (m *MockBlobStore) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[key]
	return ok
}

// Len returns the number of stored blobs.
func (m *MockBlobStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
