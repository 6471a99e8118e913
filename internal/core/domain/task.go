package domain

import (
	"time"

	"github.com/google/uuid"
)

// GenerateID creates a unique random ID.
func GenerateID() string {
	return uuid.NewString()
}

// TaskType identifies the type of background task
type TaskType string

const (
	// TaskTypeSyncConnection mirrors the full hierarchy for one connection
	TaskTypeSyncConnection TaskType = "sync_connection"
	// TaskTypeDownloadDocument downloads one document and extracts its text
	TaskTypeDownloadDocument TaskType = "download_document"
)

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task represents a background job to be processed by workers.
// Delivery is at-least-once; handlers must be idempotent.
type Task struct {
	// ID is the unique identifier for this task
	ID string `json:"id"`

	// Type identifies what kind of task this is
	Type TaskType `json:"type"`

	// ConnectionID is the connection this task belongs to
	ConnectionID string `json:"connection_id"`

	// Payload contains task-specific data
	// For sync_connection: {} (the connection id is on the task)
	// For download_document: document_id, download_uri, title,
	// storage_key (previous, for cleanup), token
	Payload map[string]string `json:"payload"`

	// Status is the current state of the task
	Status TaskStatus `json:"status"`

	// Priority determines processing order (higher = more urgent)
	Priority int `json:"priority"`

	// Attempts is how many times this task has been attempted
	Attempts int `json:"attempts"`

	// MaxAttempts is the maximum retry count before giving up
	MaxAttempts int `json:"max_attempts"`

	// Error contains the last error message if failed
	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// StartedAt is when processing began (nil if not started)
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when processing finished (nil if not complete)
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ScheduledFor is when the task should be processed (for delayed tasks)
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewTask creates a new task with default values
func NewTask(taskType TaskType, connectionID string, payload map[string]string) *Task {
	now := time.Now()
	return &Task{
		ID:           GenerateID(),
		Type:         taskType,
		ConnectionID: connectionID,
		Payload:      payload,
		Status:       TaskStatusPending,
		Priority:     0,
		Attempts:     0,
		MaxAttempts:  3,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: now,
	}
}

// NewSyncConnectionTask creates a task that runs the full mirror for a connection
func NewSyncConnectionTask(connectionID string) *Task {
	return NewTask(TaskTypeSyncConnection, connectionID, nil)
}

// DownloadJob carries everything the download pipeline needs to run
// independently of the document row.
type DownloadJob struct {
	ConnectionID string
	DocumentID   string
	DownloadURI  string
	Title        string
	// StorageKey is the document's previous blob key, deleted after the
	// new object is written.
	StorageKey string
	// Token authenticates against the remote provider.
	Token string
}

// NewDownloadDocumentTask creates a task that downloads one document
func NewDownloadDocumentTask(job DownloadJob) *Task {
	return NewTask(TaskTypeDownloadDocument, job.ConnectionID, map[string]string{
		"document_id":  job.DocumentID,
		"download_uri": job.DownloadURI,
		"title":        job.Title,
		"storage_key":  job.StorageKey,
		"token":        job.Token,
	})
}

// DownloadJob extracts the download payload from a download_document task.
func (t *Task) DownloadJob() DownloadJob {
	return DownloadJob{
		ConnectionID: t.ConnectionID,
		DocumentID:   t.payload("document_id"),
		DownloadURI:  t.payload("download_uri"),
		Title:        t.payload("title"),
		StorageKey:   t.payload("storage_key"),
		Token:        t.payload("token"),
	}
}

func (t *Task) payload(key string) string {
	if t.Payload == nil {
		return ""
	}
	return t.Payload[key]
}

// CanRetry returns true if the task can be retried
func (t *Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}

// IsReady returns true if the task is ready to be processed
func (t *Task) IsReady() bool {
	return t.Status == TaskStatusPending && time.Now().After(t.ScheduledFor)
}

// MarkProcessing updates the task to processing state
func (t *Task) MarkProcessing() {
	now := time.Now()
	t.Status = TaskStatusProcessing
	t.StartedAt = &now
	t.UpdatedAt = now
	t.Attempts++
}

// MarkCompleted updates the task to completed state
func (t *Task) MarkCompleted() {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.Error = ""
}

// MarkFailed updates the task to failed state
func (t *Task) MarkFailed(err string) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.UpdatedAt = now
	t.Error = err
}

// Retry resets the task for retry with exponential backoff
func (t *Task) Retry(err string) {
	now := time.Now()
	t.Status = TaskStatusPending
	t.UpdatedAt = now
	t.Error = err

	// Exponential backoff: 1s, 2s, 4s, 8s, etc.
	backoff := time.Duration(1<<t.Attempts) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	t.ScheduledFor = now.Add(backoff)
}
