package driven

import (
	"context"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
)

// DocumentStore persists the mirrored document tree.
// Implementations: PostgreSQL (default) and MongoDB.
//
// All single-document mutations are atomic conditional updates keyed by
// (id, connection_id) - the row is the only shared mutable resource
// contended by webhooks, cascades, and download jobs, so read-modify-write
// across round trips is not allowed.
type DocumentStore interface {
	// Get retrieves a document by its business key.
	// Returns domain.ErrDocumentNotFound if it does not exist.
	Get(ctx context.Context, connectionID, id string) (*domain.Document, error)

	// FindChildren lists the direct children of parentID within a
	// connection. An empty parentID lists root documents (null parent).
	FindChildren(ctx context.Context, connectionID, parentID string) ([]*domain.Document, error)

	// FindByIDs retrieves the documents with the given IDs within a
	// connection. Missing IDs are skipped, not errors.
	FindByIDs(ctx context.Context, connectionID string, ids []string) ([]*domain.Document, error)

	// FindSubscribed lists all subscribed documents for a user across connections.
	FindSubscribed(ctx context.Context, userID string) ([]*domain.Document, error)

	// FindWithStorageKey lists every document of a connection holding a
	// stored object, regardless of its position in the tree.
	FindWithStorageKey(ctx context.Context, connectionID string) ([]*domain.Document, error)

	// UpsertMirror bulk-upserts documents keyed by (id, connection_id),
	// writing only the mirrored fields (title, parent, flags, resource URI,
	// source timestamps, user). Pipeline state of existing rows -
	// is_subscribed, download_state, storage_key, content - is never
	// touched, which makes re-running a sync with identical remote data a
	// no-op.
	UpsertMirror(ctx context.Context, docs []*domain.Document) error

	// InsertIfAbsent creates the document unless its business key already
	// exists. Returns true if a row was inserted.
	InsertIfAbsent(ctx context.Context, doc *domain.Document) (bool, error)

	// SetSubscription flips is_subscribed on exactly the given IDs.
	SetSubscription(ctx context.Context, connectionID string, ids []string, subscribed bool) error

	// UpdateDownloadState transitions download_state, guarded by the set of
	// states the transition is valid from. An empty from set means
	// unconditional. Returns domain.ErrDocumentNotFound when no row matches
	// the key, and (false, nil) when the row exists but the guard rejected
	// the transition.
	UpdateDownloadState(ctx context.Context, connectionID, id string, from []domain.DownloadState, to domain.DownloadState) (bool, error)

	// Update applies a partial patch to a single document.
	// Returns domain.ErrDocumentNotFound when the row is gone.
	Update(ctx context.Context, connectionID, id string, patch domain.DocumentPatch) error

	// Delete removes the documents with the given IDs in one batch.
	Delete(ctx context.Context, connectionID string, ids []string) error

	// DeleteByConnection removes every document of a connection.
	DeleteByConnection(ctx context.Context, connectionID string) error

	// CountByConnection returns the number of documents mirrored for a connection.
	CountByConnection(ctx context.Context, connectionID string) (int, error)
}
