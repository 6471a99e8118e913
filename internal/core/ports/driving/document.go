package driving

import (
	"context"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
)

// DocumentService exposes read access to the mirrored tree.
type DocumentService interface {
	// Get retrieves one document by business key.
	Get(ctx context.Context, connectionID, id string) (*domain.Document, error)

	// ListChildren lists the direct children of parentID; an empty
	// parentID lists the connection's roots.
	ListChildren(ctx context.Context, connectionID, parentID string) ([]*domain.Document, error)

	// ListSubscribed lists every subscribed document owned by a user.
	ListSubscribed(ctx context.Context, userID string) ([]*domain.Document, error)
}
