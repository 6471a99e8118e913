package driving

import (
	"context"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
)

// StartSyncRequest carries everything needed to begin mirroring a connection.
type StartSyncRequest struct {
	ConnectionID    string `json:"connection_id"`
	UserID          string `json:"user_id"`
	IntegrationID   string `json:"integration_id"`
	IntegrationName string `json:"integration_name"`
	IntegrationLogo string `json:"integration_logo,omitempty"`
}

// SyncOrchestrator drives the paginated mirror of a connection's hierarchy.
type SyncOrchestrator interface {
	// StartSync accepts a sync request: it resets the sync record, clears
	// the connection's documents, and enqueues the mirror task. Returns
	// domain.ErrSyncInProgress if a run is already active.
	StartSync(ctx context.Context, req StartSyncRequest) error

	// SyncStatus returns the connection's sync record for polling.
	SyncStatus(ctx context.Context, connectionID string) (*domain.SyncRecord, error)
}
