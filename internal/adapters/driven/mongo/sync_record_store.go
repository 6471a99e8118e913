package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SyncRecordStore = (*SyncRecordStore)(nil)

const syncRecordsCollection = "sync_records"

// SyncRecordStore implements the sync record store on MongoDB.
type SyncRecordStore struct {
	db *DB
}

// NewSyncRecordStore creates a new MongoDB sync record store.
func NewSyncRecordStore(db *DB) *SyncRecordStore {
	return &SyncRecordStore{db: db}
}

func (s *SyncRecordStore) collection() *mongo.Collection {
	return s.db.Collection(syncRecordsCollection)
}

func (s *SyncRecordStore) Get(ctx context.Context, connectionID string) (*domain.SyncRecord, error) {
	var record domain.SyncRecord
	err := s.collection().FindOne(ctx, bson.M{"connectionId": connectionID}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrSyncRecordNotFound
		}
		return nil, fmt.Errorf("get sync record: %w", err)
	}
	return &record, nil
}

func (s *SyncRecordStore) Upsert(ctx context.Context, record *domain.SyncRecord) error {
	_, err := s.collection().ReplaceOne(ctx,
		bson.M{"connectionId": record.ConnectionID},
		record,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert sync record: %w", err)
	}
	return nil
}

func (s *SyncRecordStore) Complete(ctx context.Context, connectionID string, totalDocuments int, truncated bool, completedAt time.Time) error {
	result, err := s.collection().UpdateOne(ctx,
		bson.M{"connectionId": connectionID},
		bson.M{
			"$set": bson.M{
				"syncStatus":      string(domain.SyncStatusCompleted),
				"syncCompletedAt": completedAt,
				"isTruncated":     truncated,
				"totalDocuments":  totalDocuments,
			},
			"$unset": bson.M{"syncError": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("complete sync record: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrSyncRecordNotFound
	}
	return nil
}

func (s *SyncRecordStore) Fail(ctx context.Context, connectionID, message string, totalDocuments int, completedAt time.Time) error {
	result, err := s.collection().UpdateOne(ctx,
		bson.M{"connectionId": connectionID},
		bson.M{
			"$set": bson.M{
				"syncStatus":      string(domain.SyncStatusFailed),
				"syncCompletedAt": completedAt,
				"syncError":       message,
				"totalDocuments":  totalDocuments,
			},
		},
	)
	if err != nil {
		return fmt.Errorf("fail sync record: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrSyncRecordNotFound
	}
	return nil
}

func (s *SyncRecordStore) Delete(ctx context.Context, connectionID string) error {
	_, err := s.collection().DeleteOne(ctx, bson.M{"connectionId": connectionID})
	if err != nil {
		return fmt.Errorf("delete sync record: %w", err)
	}
	return nil
}

func (s *SyncRecordStore) ListByUser(ctx context.Context, userID string) ([]*domain.SyncRecord, error) {
	cursor, err := s.collection().Find(ctx,
		bson.M{"userId": userID},
		options.Find().SetSort(bson.D{{Key: "syncStartedAt", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list sync records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*domain.SyncRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode sync records: %w", err)
	}
	return records, nil
}
