package domain

import "time"

// SyncStatus represents the state of a connection's mirror operation
type SyncStatus string

const (
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusInProgress SyncStatus = "in_progress"
	SyncStatusCompleted  SyncStatus = "completed"
	SyncStatusFailed     SyncStatus = "failed"
)

// SyncRecord tracks the health of the last or current mirror run for one
// connection. There is exactly one record per connection; starting a new
// sync re-upserts it.
type SyncRecord struct {
	ConnectionID    string     `json:"connection_id" bson:"connectionId"`
	UserID          string     `json:"user_id" bson:"userId"`
	IntegrationID   string     `json:"integration_id" bson:"integrationId"`
	IntegrationName string     `json:"integration_name" bson:"integrationName"`
	IntegrationLogo string     `json:"integration_logo,omitempty" bson:"integrationLogo,omitempty"`
	SyncStatus      SyncStatus `json:"sync_status" bson:"syncStatus"`
	SyncStartedAt   time.Time  `json:"sync_started_at" bson:"syncStartedAt"`
	SyncCompletedAt *time.Time `json:"sync_completed_at,omitempty" bson:"syncCompletedAt,omitempty"`
	SyncError       *string    `json:"sync_error,omitempty" bson:"syncError,omitempty"`

	// IsTruncated is set when the mirror hit the document cap and stopped
	// paging early. A truncated sync still completes successfully.
	IsTruncated    bool `json:"is_truncated" bson:"isTruncated"`
	TotalDocuments int  `json:"total_documents" bson:"totalDocuments"`
}

// InProgress reports whether a sync run is currently active for the record.
func (r *SyncRecord) InProgress() bool {
	return r.SyncStatus == SyncStatusInProgress
}
