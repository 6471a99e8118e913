package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SyncRecordStore = (*SyncRecordStore)(nil)

// SyncRecordStore implements the sync record store on PostgreSQL.
type SyncRecordStore struct {
	db *DB
}

// NewSyncRecordStore creates a new PostgreSQL sync record store.
func NewSyncRecordStore(db *DB) *SyncRecordStore {
	return &SyncRecordStore{db: db}
}

const syncRecordColumns = `connection_id, user_id, integration_id, integration_name,
	integration_logo, sync_status, sync_started_at, sync_completed_at, sync_error,
	is_truncated, total_documents`

func scanSyncRecord(row interface{ Scan(...interface{}) error }) (*domain.SyncRecord, error) {
	var r domain.SyncRecord
	var status string
	var completedAt sql.NullTime
	var syncError sql.NullString

	err := row.Scan(
		&r.ConnectionID, &r.UserID, &r.IntegrationID, &r.IntegrationName,
		&r.IntegrationLogo, &status, &r.SyncStartedAt, &completedAt, &syncError,
		&r.IsTruncated, &r.TotalDocuments,
	)
	if err != nil {
		return nil, err
	}

	r.SyncStatus = domain.SyncStatus(status)
	r.SyncCompletedAt = TimePtr(completedAt)
	r.SyncError = StringPtr(syncError)
	return &r, nil
}

func (s *SyncRecordStore) Get(ctx context.Context, connectionID string) (*domain.SyncRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_records WHERE connection_id = $1`, syncRecordColumns)

	record, err := scanSyncRecord(s.db.QueryRowContext(ctx, query, connectionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSyncRecordNotFound
		}
		return nil, fmt.Errorf("get sync record: %w", err)
	}
	return record, nil
}

func (s *SyncRecordStore) Upsert(ctx context.Context, record *domain.SyncRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_records (
			connection_id, user_id, integration_id, integration_name,
			integration_logo, sync_status, sync_started_at, sync_completed_at,
			sync_error, is_truncated, total_documents
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (connection_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			integration_id = EXCLUDED.integration_id,
			integration_name = EXCLUDED.integration_name,
			integration_logo = EXCLUDED.integration_logo,
			sync_status = EXCLUDED.sync_status,
			sync_started_at = EXCLUDED.sync_started_at,
			sync_completed_at = EXCLUDED.sync_completed_at,
			sync_error = EXCLUDED.sync_error,
			is_truncated = EXCLUDED.is_truncated,
			total_documents = EXCLUDED.total_documents`,
		record.ConnectionID, record.UserID, record.IntegrationID, record.IntegrationName,
		record.IntegrationLogo, string(record.SyncStatus), record.SyncStartedAt,
		NullTime(record.SyncCompletedAt), NullString(record.SyncError),
		record.IsTruncated, record.TotalDocuments,
	)
	if err != nil {
		return fmt.Errorf("upsert sync record: %w", err)
	}
	return nil
}

func (s *SyncRecordStore) Complete(ctx context.Context, connectionID string, totalDocuments int, truncated bool, completedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_records SET
			sync_status = $1,
			sync_completed_at = $2,
			sync_error = NULL,
			is_truncated = $3,
			total_documents = $4
		WHERE connection_id = $5`,
		string(domain.SyncStatusCompleted), completedAt, truncated, totalDocuments, connectionID,
	)
	if err != nil {
		return fmt.Errorf("complete sync record: %w", err)
	}
	return requireRow(result)
}

func (s *SyncRecordStore) Fail(ctx context.Context, connectionID, message string, totalDocuments int, completedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_records SET
			sync_status = $1,
			sync_completed_at = $2,
			sync_error = $3,
			total_documents = $4
		WHERE connection_id = $5`,
		string(domain.SyncStatusFailed), completedAt, message, totalDocuments, connectionID,
	)
	if err != nil {
		return fmt.Errorf("fail sync record: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrSyncRecordNotFound
	}
	return nil
}

func (s *SyncRecordStore) Delete(ctx context.Context, connectionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_records WHERE connection_id = $1`, connectionID)
	if err != nil {
		return fmt.Errorf("delete sync record: %w", err)
	}
	return nil
}

func (s *SyncRecordStore) ListByUser(ctx context.Context, userID string) ([]*domain.SyncRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_records WHERE user_id = $1 ORDER BY sync_started_at DESC`, syncRecordColumns)

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list sync records: %w", err)
	}
	defer rows.Close()

	var records []*domain.SyncRecord
	for rows.Next() {
		record, err := scanSyncRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
