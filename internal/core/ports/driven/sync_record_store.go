package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
)

// SyncRecordStore persists per-connection sync health.
type SyncRecordStore interface {
	// Get retrieves the record for a connection.
	// Returns domain.ErrSyncRecordNotFound if none exists.
	Get(ctx context.Context, connectionID string) (*domain.SyncRecord, error)

	// Upsert writes the record at the start of a sync run, replacing any
	// previous run's status.
	Upsert(ctx context.Context, record *domain.SyncRecord) error

	// Complete marks the record completed, stamping totals and the
	// completion time. It only updates an existing record; if the record
	// was deleted mid-sync it returns domain.ErrSyncRecordNotFound so the
	// caller can treat the run as superseded.
	Complete(ctx context.Context, connectionID string, totalDocuments int, truncated bool, completedAt time.Time) error

	// Fail marks the record failed with the error message.
	// Returns domain.ErrSyncRecordNotFound if the record is gone.
	Fail(ctx context.Context, connectionID, message string, totalDocuments int, completedAt time.Time) error

	// Delete removes the record for a connection.
	Delete(ctx context.Context, connectionID string) error

	// ListByUser retrieves all records owned by a user.
	ListByUser(ctx context.Context, userID string) ([]*domain.SyncRecord, error)
}
