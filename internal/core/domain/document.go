package domain

import "time"

// DownloadState tracks where a document is in the download pipeline.
// Transitions are monotonic: FLOW_TRIGGERED → DOWNLOADING_FROM_URL →
// EXTRACTING_TEXT → DONE, with FAILED reachable from any state.
type DownloadState string

const (
	// DownloadStateNone means no download has ever been triggered
	DownloadStateNone DownloadState = ""
	// DownloadStateTriggered means a download job has been enqueued
	DownloadStateTriggered DownloadState = "FLOW_TRIGGERED"
	// DownloadStateDownloading means the job is fetching bytes from the source
	DownloadStateDownloading DownloadState = "DOWNLOADING_FROM_URL"
	// DownloadStateExtracting means the stored file is being run through text extraction
	DownloadStateExtracting DownloadState = "EXTRACTING_TEXT"
	// DownloadStateDone means the download (and any extraction) finished
	DownloadStateDone DownloadState = "DONE"
	// DownloadStateFailed is terminal and carries a DownloadError
	DownloadStateFailed DownloadState = "FAILED"
)

// CanTrigger reports whether a new download may be started from this state.
// A document already downloading or extracting must not be re-triggered;
// DONE and FAILED documents may be re-downloaded.
func (s DownloadState) CanTrigger() bool {
	return s != DownloadStateDownloading && s != DownloadStateExtracting
}

// InFlight reports whether a download job is currently working on the document.
func (s DownloadState) InFlight() bool {
	return s == DownloadStateDownloading || s == DownloadStateExtracting
}

// Document is a node of a remote document hierarchy mirrored locally.
// The business key is (ID, ConnectionID); IDs are only unique within a
// connection.
type Document struct {
	ID           string  `json:"id" bson:"id"`
	ConnectionID string  `json:"connection_id" bson:"connectionId"`
	UserID       string  `json:"user_id" bson:"userId"`
	Title        string  `json:"title" bson:"title"`
	ParentID     *string `json:"parent_id,omitempty" bson:"parentId,omitempty"`

	// CanHaveChildren distinguishes folders (true) from files (false).
	CanHaveChildren bool `json:"can_have_children" bson:"canHaveChildren"`
	// CanDownload reflects whether the source exposes the document for download.
	CanDownload bool `json:"can_download" bson:"canDownload"`

	// ResourceURI is the remote locator used for preview and download resolution.
	ResourceURI string `json:"resource_uri" bson:"resourceURI"`

	// CreatedAt and UpdatedAt are timestamps from the source system,
	// passed through as-is.
	CreatedAt string `json:"created_at" bson:"createdAt"`
	UpdatedAt string `json:"updated_at" bson:"updatedAt"`

	// Pipeline state, owned by this system rather than the source.
	IsSubscribed  bool          `json:"is_subscribed" bson:"isSubscribed"`
	DownloadState DownloadState `json:"download_state,omitempty" bson:"downloadState,omitempty"`
	DownloadError *string       `json:"download_error,omitempty" bson:"downloadError,omitempty"`
	StorageKey    *string       `json:"storage_key,omitempty" bson:"storageKey,omitempty"`
	Content       *string       `json:"content,omitempty" bson:"content,omitempty"`
	LastSyncedAt  *time.Time    `json:"last_synced_at,omitempty" bson:"lastSyncedAt,omitempty"`
}

// IsFile reports whether the document has file semantics.
// Folders are never downloaded.
func (d *Document) IsFile() bool {
	return !d.CanHaveChildren
}

// DocumentPatch holds a partial update applied atomically to a single
// document, keyed by (ID, ConnectionID). Nil fields are left untouched.
type DocumentPatch struct {
	// Mirror fields, written when the source reports an update.
	Title       *string
	ResourceURI *string
	UpdatedAt   *string

	// Pipeline fields.
	IsSubscribed  *bool
	DownloadState *DownloadState
	DownloadError *string
	StorageKey    *string
	Content       *string
	LastSyncedAt  *time.Time
}
