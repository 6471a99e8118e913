package services

import (
	"context"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driven"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driving"
)

// DocumentService is a thin read facade over the document store.
type DocumentService struct {
	documentStore driven.DocumentStore
}

// NewDocumentService creates a new document service.
func NewDocumentService(documentStore driven.DocumentStore) *DocumentService {
	return &DocumentService{documentStore: documentStore}
}

var _ driving.DocumentService = (*DocumentService)(nil)

func (s *DocumentService) Get(ctx context.Context, connectionID, id string) (*domain.Document, error) {
	return s.documentStore.Get(ctx, connectionID, id)
}

func (s *DocumentService) ListChildren(ctx context.Context, connectionID, parentID string) ([]*domain.Document, error) {
	return s.documentStore.FindChildren(ctx, connectionID, parentID)
}

func (s *DocumentService) ListSubscribed(ctx context.Context, userID string) ([]*domain.Document, error) {
	return s.documentStore.FindSubscribed(ctx, userID)
}
