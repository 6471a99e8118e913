package mocks

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
)

// MockTextExtractor is a configurable TextExtractor for testing
type MockTextExtractor struct {
	mu sync.Mutex

	Disabled   bool
	Text       string
	ExtractErr error
	// Delayed blocks Extract until the context is done when set.
	Delayed    bool
	ExtractCnt int
}

// NewMockTextExtractor creates a new MockTextExtractor
func NewMockTextExtractor() *MockTextExtractor {
	return &MockTextExtractor{Text: "extracted text"}
}

func (m *MockTextExtractor) Enabled() bool {
	return !m.Disabled
}

func (m *MockTextExtractor) Supports(filename string) bool {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	switch strings.ToLower(ext) {
	case "pdf", "doc", "docx", "txt", "rtf", "md", "csv", "xls", "xlsx", "ppt", "pptx":
		return true
	}
	return false
}

func (m *MockTextExtractor) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	m.mu.Lock()
	m.ExtractCnt++
	m.mu.Unlock()
	if m.Delayed {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if m.ExtractErr != nil {
		return "", m.ExtractErr
	}
	return m.Text, nil
}
