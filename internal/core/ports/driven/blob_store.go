package driven

import "context"

// BlobStore is content storage for downloaded file payloads, keyed by an
// opaque string. Implementations: S3-compatible object storage (default)
// and a PostgreSQL bytea table for single-node deployments.
type BlobStore interface {
	// Put writes data under key and returns the key actually stored,
	// which may differ from the input (e.g. an appended file extension).
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Get reads the object back. Returns domain.ErrNotFound for unknown keys.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping checks backend health.
	Ping(ctx context.Context) error
}
