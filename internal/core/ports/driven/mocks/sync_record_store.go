package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
)

// MockSyncRecordStore is an in-memory SyncRecordStore for testing
type MockSyncRecordStore struct {
	mu      sync.RWMutex
	records map[string]*domain.SyncRecord

	UpsertErr error
}

// NewMockSyncRecordStore creates a new MockSyncRecordStore
func NewMockSyncRecordStore() *MockSyncRecordStore {
	return &MockSyncRecordStore{
		records: make(map[string]*domain.SyncRecord),
	}
}

func (m *MockSyncRecordStore) Get(ctx context.Context, connectionID string) (*domain.SyncRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[connectionID]
	if !ok {
		return nil, domain.ErrSyncRecordNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MockSyncRecordStore) Upsert(ctx context.Context, record *domain.SyncRecord) error {
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *record
	m.records[record.ConnectionID] = &cp
	return nil
}

func (m *MockSyncRecordStore) Complete(ctx context.Context, connectionID string, totalDocuments int, truncated bool, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[connectionID]
	if !ok {
		return domain.ErrSyncRecordNotFound
	}
	r.SyncStatus = domain.SyncStatusCompleted
	r.SyncCompletedAt = &completedAt
	r.SyncError = nil
	r.TotalDocuments = totalDocuments
	r.IsTruncated = truncated
	return nil
}

func (m *MockSyncRecordStore) Fail(ctx context.Context, connectionID, message string, totalDocuments int, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[connectionID]
	if !ok {
		return domain.ErrSyncRecordNotFound
	}
	r.SyncStatus = domain.SyncStatusFailed
	r.SyncCompletedAt = &completedAt
	r.SyncError = &message
	r.TotalDocuments = totalDocuments
	return nil
}

func (m *MockSyncRecordStore) Delete(ctx context.Context, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, connectionID)
	return nil
}

func (m *MockSyncRecordStore) ListByUser(ctx context.Context, userID string) ([]*domain.SyncRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.SyncRecord
	for _, r := range m.records {
		if r.UserID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}
