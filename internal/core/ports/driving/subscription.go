package driving

import (
	"context"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
)

// SubscriptionResult summarises a cascade run.
type SubscriptionResult struct {
	// Affected is the number of documents whose flag was set,
	// after expanding folders to their subtrees.
	Affected int `json:"affected"`
	// Triggered is the number of download jobs enqueued.
	Triggered int `json:"triggered"`
}

// SubscriptionManager applies subscribe/unsubscribe cascades and reacts to
// source-side create/delete notifications.
type SubscriptionManager interface {
	// SetSubscription expands each given ID to itself plus all
	// descendants, persists the flag on the expansion, and enqueues
	// downloads for newly-subscribed files.
	SetSubscription(ctx context.Context, connectionID string, documentIDs []string, subscribed bool, token string) (*SubscriptionResult, error)

	// HandleDocumentCreated mirrors a single created document, inheriting
	// subscription from its ancestors.
	HandleDocumentCreated(ctx context.Context, event domain.DocumentCreatedEvent) error

	// HandleDocumentUpdated patches the mirrored metadata of a single
	// document. Updates for unknown documents are acknowledged silently.
	HandleDocumentUpdated(ctx context.Context, event domain.DocumentUpdatedEvent) error

	// HandleDocumentDeleted removes the node's deletion closure from both
	// the document store and the blob store.
	HandleDocumentDeleted(ctx context.Context, event domain.DocumentDeletedEvent) error

	// HandleFlowFailure marks documents failed after a terminal remote
	// flow failure.
	HandleFlowFailure(ctx context.Context, event domain.FlowFailureEvent) error

	// Disconnect tears down a connection: sync record, blobs, documents.
	Disconnect(ctx context.Context, connectionID string) error
}
