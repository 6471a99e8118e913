package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/docsync-core/internal/core/ports/driven"
)

// MockRemoteProvider is a scripted RemoteProvider for testing
type MockRemoteProvider struct {
	mu sync.Mutex

	// Pages are returned in order by successive ListDocuments calls.
	Pages    []*driven.DocumentPage
	ListErr  error
	pageIdx  int
	ListCnt  int

	ResolveURI string
	ResolveErr error

	DownloadData *driven.DownloadResult
	DownloadErr  error
	// DownloadDelayed blocks Download until the context is done when set.
	DownloadDelayed bool
	DownloadCnt     int
}

// NewMockRemoteProvider creates a new MockRemoteProvider
func NewMockRemoteProvider() *MockRemoteProvider {
	return &MockRemoteProvider{}
}

func (m *MockRemoteProvider) ListDocuments(ctx context.Context, connectionID, cursor string) (*driven.DocumentPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCnt++
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	if m.pageIdx >= len(m.Pages) {
		return &driven.DocumentPage{}, nil
	}
	page := m.Pages[m.pageIdx]
	m.pageIdx++
	return page, nil
}

func (m *MockRemoteProvider) ResolveDownload(ctx context.Context, connectionID, documentID string) (string, error) {
	if m.ResolveErr != nil {
		return "", m.ResolveErr
	}
	if m.ResolveURI != "" {
		return m.ResolveURI, nil
	}
	return "https://remote.example/" + documentID, nil
}

func (m *MockRemoteProvider) Download(ctx context.Context, uri string) (*driven.DownloadResult, error) {
	m.mu.Lock()
	m.DownloadCnt++
	m.mu.Unlock()
	if m.DownloadDelayed {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.DownloadErr != nil {
		return nil, m.DownloadErr
	}
	if m.DownloadData != nil {
		return m.DownloadData, nil
	}
	return &driven.DownloadResult{
		Data:        []byte("file-bytes"),
		ContentType: "application/octet-stream",
	}, nil
}
