package domain

// Webhook payloads from the remote provider. The source sends several
// variants of the same events; they are normalised at the HTTP boundary
// into these structs after JSON Schema validation.

// DocumentFields is the document snapshot carried by a create notification.
type DocumentFields struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	ParentID        string `json:"parentId"`
	CanHaveChildren bool   `json:"canHaveChildren"`
	ResourceURI     string `json:"resourceURI"`
	CreatedAt       string `json:"createdAt"`
	UpdatedAt       string `json:"updatedAt"`
}

// DocumentCreatedEvent is emitted when a document appears in the source.
type DocumentCreatedEvent struct {
	ConnectionID string         `json:"connectionId"`
	Fields       DocumentFields `json:"fields"`
	// Token authenticates follow-up provider calls (download trigger).
	Token string `json:"-"`
}

// DocumentUpdatedEvent is emitted when a document's metadata changes in
// the source. Only the mirrored fields are applied; pipeline state and
// tree position are untouched.
type DocumentUpdatedEvent struct {
	ConnectionID string         `json:"connectionId"`
	Fields       DocumentFields `json:"fields"`
}

// DocumentDeletedEvent is emitted when a document is removed from the
// source. The source fires it for the deleted node only; descendants are
// resolved locally via the deletion closure.
type DocumentDeletedEvent struct {
	Source       string `json:"source"`
	ConnectionID string `json:"connectionId"`
	ID           string `json:"id"`
}

// FlowFailureEvent reports a remote flow run that failed terminally.
type FlowFailureEvent struct {
	EventType    string   `json:"eventType"`
	FlowKey      string   `json:"flowKey"`
	ConnectionID string   `json:"connectionId"`
	DocumentIDs  []string `json:"documentIds"`
}

// FlowKeyDownloadDocument is the remote flow that feeds the download pipeline.
const FlowKeyDownloadDocument = "download-document"

// EventTypeFlowRunFailed is the notification event type for failed flow runs.
const EventTypeFlowRunFailed = "flowRun.failed"
