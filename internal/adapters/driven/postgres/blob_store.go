package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.BlobStore = (*BlobStore)(nil)

// BlobStore stores downloaded files as bytea rows. It is the fallback
// when no object store is configured; fine for development and small
// deployments, not for large corpora.
type BlobStore struct {
	db *DB
}

// NewBlobStore creates a new PostgreSQL blob store.
func NewBlobStore(db *DB) *BlobStore {
	return &BlobStore{db: db}
}

func (s *BlobStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (key, data, content_type) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, content_type = EXCLUDED.content_type`,
		key, data, contentType,
	)
	if err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}
	return key, nil
}

func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE key = $1`, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get blob: %w", err)
	}
	return data, nil
}

func (s *BlobStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (s *BlobStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
