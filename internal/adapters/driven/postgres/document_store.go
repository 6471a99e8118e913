package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DocumentStore = (*DocumentStore)(nil)

// DocumentStore implements the document store on PostgreSQL.
// Every mutation is a single conditional statement so concurrent
// webhooks, cascades, and download jobs never race on read-modify-write.
type DocumentStore struct {
	db *DB
}

// NewDocumentStore creates a new PostgreSQL document store.
func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db}
}

const documentColumns = `id, connection_id, user_id, title, parent_id,
	can_have_children, can_download, resource_uri, created_at, updated_at,
	is_subscribed, download_state, download_error, storage_key, content, last_synced_at`

func scanDocument(row interface{ Scan(...interface{}) error }) (*domain.Document, error) {
	var doc domain.Document
	var parentID, downloadError, storageKey, content sql.NullString
	var lastSyncedAt sql.NullTime

	err := row.Scan(
		&doc.ID, &doc.ConnectionID, &doc.UserID, &doc.Title, &parentID,
		&doc.CanHaveChildren, &doc.CanDownload, &doc.ResourceURI, &doc.CreatedAt, &doc.UpdatedAt,
		&doc.IsSubscribed, &doc.DownloadState, &downloadError, &storageKey, &content, &lastSyncedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.ParentID = StringPtr(parentID)
	doc.DownloadError = StringPtr(downloadError)
	doc.StorageKey = StringPtr(storageKey)
	doc.Content = StringPtr(content)
	doc.LastSyncedAt = TimePtr(lastSyncedAt)
	return &doc, nil
}

func (s *DocumentStore) Get(ctx context.Context, connectionID, id string) (*domain.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE connection_id = $1 AND id = $2`, documentColumns)

	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, connectionID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *DocumentStore) FindChildren(ctx context.Context, connectionID, parentID string) ([]*domain.Document, error) {
	var query string
	var args []interface{}
	if parentID == "" {
		query = fmt.Sprintf(`SELECT %s FROM documents WHERE connection_id = $1 AND parent_id IS NULL ORDER BY title`, documentColumns)
		args = []interface{}{connectionID}
	} else {
		query = fmt.Sprintf(`SELECT %s FROM documents WHERE connection_id = $1 AND parent_id = $2 ORDER BY title`, documentColumns)
		args = []interface{}{connectionID, parentID}
	}

	return s.queryDocuments(ctx, query, args...)
}

func (s *DocumentStore) FindByIDs(ctx context.Context, connectionID string, ids []string) ([]*domain.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE connection_id = $1 AND id = ANY($2)`, documentColumns)
	return s.queryDocuments(ctx, query, connectionID, pq.Array(ids))
}

func (s *DocumentStore) FindSubscribed(ctx context.Context, userID string) ([]*domain.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE user_id = $1 AND is_subscribed ORDER BY connection_id, title`, documentColumns)
	return s.queryDocuments(ctx, query, userID)
}

func (s *DocumentStore) FindWithStorageKey(ctx context.Context, connectionID string) ([]*domain.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE connection_id = $1 AND storage_key IS NOT NULL`, documentColumns)
	return s.queryDocuments(ctx, query, connectionID)
}

func (s *DocumentStore) queryDocuments(ctx context.Context, query string, args ...interface{}) ([]*domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpsertMirror bulk-upserts the mirrored fields. The ON CONFLICT update
// deliberately omits the pipeline columns so re-syncing never clobbers
// subscriptions or download progress.
func (s *DocumentStore) UpsertMirror(ctx context.Context, docs []*domain.Document) error {
	if len(docs) == 0 {
		return nil
	}

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO documents (
				id, connection_id, user_id, title, parent_id,
				can_have_children, can_download, resource_uri, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (connection_id, id) DO UPDATE SET
				user_id = EXCLUDED.user_id,
				title = EXCLUDED.title,
				parent_id = EXCLUDED.parent_id,
				can_have_children = EXCLUDED.can_have_children,
				can_download = EXCLUDED.can_download,
				resource_uri = EXCLUDED.resource_uri,
				created_at = EXCLUDED.created_at,
				updated_at = EXCLUDED.updated_at`)
		if err != nil {
			return fmt.Errorf("prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, doc := range docs {
			_, err := stmt.ExecContext(ctx,
				doc.ID, doc.ConnectionID, doc.UserID, doc.Title, NullString(doc.ParentID),
				doc.CanHaveChildren, doc.CanDownload, doc.ResourceURI, doc.CreatedAt, doc.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("upsert document %s: %w", doc.ID, err)
			}
		}
		return nil
	})
}

func (s *DocumentStore) InsertIfAbsent(ctx context.Context, doc *domain.Document) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (
			id, connection_id, user_id, title, parent_id,
			can_have_children, can_download, resource_uri, created_at, updated_at,
			is_subscribed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (connection_id, id) DO NOTHING`,
		doc.ID, doc.ConnectionID, doc.UserID, doc.Title, NullString(doc.ParentID),
		doc.CanHaveChildren, doc.CanDownload, doc.ResourceURI, doc.CreatedAt, doc.UpdatedAt,
		doc.IsSubscribed,
	)
	if err != nil {
		return false, fmt.Errorf("insert document: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *DocumentStore) SetSubscription(ctx context.Context, connectionID string, ids []string, subscribed bool) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET is_subscribed = $1 WHERE connection_id = $2 AND id = ANY($3)`,
		subscribed, connectionID, pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("set subscription: %w", err)
	}
	return nil
}

func (s *DocumentStore) UpdateDownloadState(ctx context.Context, connectionID, id string, from []domain.DownloadState, to domain.DownloadState) (bool, error) {
	var query string
	args := []interface{}{to, connectionID, id}

	if len(from) == 0 {
		query = `UPDATE documents SET download_state = $1 WHERE connection_id = $2 AND id = $3`
	} else {
		states := make([]string, len(from))
		for i, f := range from {
			states[i] = string(f)
		}
		query = `UPDATE documents SET download_state = $1 WHERE connection_id = $2 AND id = $3 AND download_state = ANY($4)`
		args = append(args, pq.Array(states))
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update download state: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	// Guard rejected, or no such row at all. Distinguish the two.
	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE connection_id = $1 AND id = $2)`,
		connectionID, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check document exists: %w", err)
	}
	if !exists {
		return false, domain.ErrDocumentNotFound
	}
	return false, nil
}

func (s *DocumentStore) Update(ctx context.Context, connectionID, id string, patch domain.DocumentPatch) error {
	sets := make([]string, 0, 6)
	args := make([]interface{}, 0, 8)
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.Title != nil {
		sets = append(sets, "title = "+next(*patch.Title))
	}
	if patch.ResourceURI != nil {
		sets = append(sets, "resource_uri = "+next(*patch.ResourceURI))
	}
	if patch.UpdatedAt != nil {
		sets = append(sets, "updated_at = "+next(*patch.UpdatedAt))
	}
	if patch.IsSubscribed != nil {
		sets = append(sets, "is_subscribed = "+next(*patch.IsSubscribed))
	}
	if patch.DownloadState != nil {
		sets = append(sets, "download_state = "+next(string(*patch.DownloadState)))
	}
	if patch.DownloadError != nil {
		sets = append(sets, "download_error = "+next(*patch.DownloadError))
	}
	if patch.StorageKey != nil {
		sets = append(sets, "storage_key = "+next(*patch.StorageKey))
	}
	if patch.Content != nil {
		sets = append(sets, "content = "+next(*patch.Content))
	}
	if patch.LastSyncedAt != nil {
		sets = append(sets, "last_synced_at = "+next(*patch.LastSyncedAt))
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf(
		`UPDATE documents SET %s WHERE connection_id = %s AND id = %s`,
		strings.Join(sets, ", "), next(connectionID), next(id),
	)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (s *DocumentStore) Delete(ctx context.Context, connectionID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE connection_id = $1 AND id = ANY($2)`,
		connectionID, pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

func (s *DocumentStore) DeleteByConnection(ctx context.Context, connectionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE connection_id = $1`, connectionID)
	if err != nil {
		return fmt.Errorf("delete connection documents: %w", err)
	}
	return nil
}

func (s *DocumentStore) CountByConnection(ctx context.Context, connectionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE connection_id = $1`, connectionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}
