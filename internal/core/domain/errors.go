package domain

import (
	"errors"
	"fmt"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConnectionNotFound indicates the remote connection no longer exists.
	// Work referencing a dead connection is never retried.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrDocumentNotFound indicates the document row is gone, usually
	// because it was deleted while a job was in flight
	ErrDocumentNotFound = errors.New("document not found")

	// ErrSyncRecordNotFound indicates the sync record for a connection is gone
	ErrSyncRecordNotFound = errors.New("sync record not found")

	// ErrSyncInProgress indicates a sync is already running for the connection
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrExtractionDisabled indicates no text extraction backend is configured
	ErrExtractionDisabled = errors.New("text extraction disabled")
)

// NonRetriableError marks an error that must not consume further retry
// attempts. The worker routes such failures straight to the terminal
// failure handler.
type NonRetriableError struct {
	Err error
}

// NonRetriable wraps err so that IsNonRetriable reports true for it.
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetriableError{Err: err}
}

func (e *NonRetriableError) Error() string {
	return fmt.Sprintf("non-retriable: %v", e.Err)
}

func (e *NonRetriableError) Unwrap() error {
	return e.Err
}

// IsNonRetriable reports whether err (or anything it wraps) should
// short-circuit the retry budget. Dead connections and deleted documents
// are non-retriable by definition.
func IsNonRetriable(err error) bool {
	if err == nil {
		return false
	}
	var nr *NonRetriableError
	if errors.As(err, &nr) {
		return true
	}
	return errors.Is(err, ErrConnectionNotFound) ||
		errors.Is(err, ErrDocumentNotFound) ||
		errors.Is(err, ErrSyncRecordNotFound)
}
