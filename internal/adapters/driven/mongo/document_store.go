package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DocumentStore = (*DocumentStore)(nil)

const documentsCollection = "documents"

// DocumentStore implements the document store on MongoDB. Mutations use
// single conditional updates on the (connectionId, id) key, mirroring the
// atomicity guarantees of the PostgreSQL implementation.
type DocumentStore struct {
	db *DB
}

// NewDocumentStore creates a new MongoDB document store.
func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) collection() *mongo.Collection {
	return s.db.Collection(documentsCollection)
}

func documentKey(connectionID, id string) bson.M {
	return bson.M{"connectionId": connectionID, "id": id}
}

func (s *DocumentStore) Get(ctx context.Context, connectionID, id string) (*domain.Document, error) {
	var doc domain.Document
	err := s.collection().FindOne(ctx, documentKey(connectionID, id)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

func (s *DocumentStore) FindChildren(ctx context.Context, connectionID, parentID string) ([]*domain.Document, error) {
	filter := bson.M{"connectionId": connectionID}
	if parentID == "" {
		// Root documents either lack the field or carry an explicit null;
		// a nil match covers both.
		filter["parentId"] = nil
	} else {
		filter["parentId"] = parentID
	}
	return s.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "title", Value: 1}}))
}

func (s *DocumentStore) FindByIDs(ctx context.Context, connectionID string, ids []string) ([]*domain.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	filter := bson.M{"connectionId": connectionID, "id": bson.M{"$in": ids}}
	return s.find(ctx, filter, nil)
}

func (s *DocumentStore) FindSubscribed(ctx context.Context, userID string) ([]*domain.Document, error) {
	filter := bson.M{"userId": userID, "isSubscribed": true}
	return s.find(ctx, filter, options.Find().SetSort(bson.D{
		{Key: "connectionId", Value: 1},
		{Key: "title", Value: 1},
	}))
}

func (s *DocumentStore) FindWithStorageKey(ctx context.Context, connectionID string) ([]*domain.Document, error) {
	filter := bson.M{
		"connectionId": connectionID,
		"storageKey":   bson.M{"$exists": true, "$nin": []interface{}{nil, ""}},
	}
	return s.find(ctx, filter, nil)
}

func (s *DocumentStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domain.Document, error) {
	var cursor *mongo.Cursor
	var err error
	if opts != nil {
		cursor, err = s.collection().Find(ctx, filter, opts)
	} else {
		cursor, err = s.collection().Find(ctx, filter)
	}
	if err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []*domain.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}
	return docs, nil
}

// UpsertMirror bulk-upserts the mirrored fields. $set carries only the
// mirror fields; pipeline state of existing documents is never touched.
func (s *DocumentStore) UpsertMirror(ctx context.Context, docs []*domain.Document) error {
	if len(docs) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(docs))
	for _, doc := range docs {
		var parentID interface{}
		if doc.ParentID != nil {
			parentID = *doc.ParentID
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(documentKey(doc.ConnectionID, doc.ID)).
			SetUpdate(bson.M{
				"$set": bson.M{
					"userId":          doc.UserID,
					"title":           doc.Title,
					"parentId":        parentID,
					"canHaveChildren": doc.CanHaveChildren,
					"canDownload":     doc.CanDownload,
					"resourceURI":     doc.ResourceURI,
					"createdAt":       doc.CreatedAt,
					"updatedAt":       doc.UpdatedAt,
				},
				"$setOnInsert": bson.M{
					"isSubscribed": false,
				},
			}).
			SetUpsert(true))
	}

	_, err := s.collection().BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("upsert documents: %w", err)
	}
	return nil
}

func (s *DocumentStore) InsertIfAbsent(ctx context.Context, doc *domain.Document) (bool, error) {
	result, err := s.collection().UpdateOne(ctx,
		documentKey(doc.ConnectionID, doc.ID),
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, fmt.Errorf("insert document: %w", err)
	}
	return result.UpsertedCount > 0, nil
}

func (s *DocumentStore) SetSubscription(ctx context.Context, connectionID string, ids []string, subscribed bool) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.collection().UpdateMany(ctx,
		bson.M{"connectionId": connectionID, "id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"isSubscribed": subscribed}},
	)
	if err != nil {
		return fmt.Errorf("set subscription: %w", err)
	}
	return nil
}

func (s *DocumentStore) UpdateDownloadState(ctx context.Context, connectionID, id string, from []domain.DownloadState, to domain.DownloadState) (bool, error) {
	filter := documentKey(connectionID, id)
	if len(from) > 0 {
		states := make([]interface{}, 0, len(from)+1)
		for _, f := range from {
			if f == domain.DownloadStateNone {
				// The zero state is stored as a missing field.
				states = append(states, nil, "")
				continue
			}
			states = append(states, string(f))
		}
		filter["downloadState"] = bson.M{"$in": states}
	}

	result, err := s.collection().UpdateOne(ctx, filter,
		bson.M{"$set": bson.M{"downloadState": string(to)}},
	)
	if err != nil {
		return false, fmt.Errorf("update download state: %w", err)
	}
	if result.MatchedCount > 0 {
		return true, nil
	}

	// Guard rejected, or no such document at all. Distinguish the two.
	n, err := s.collection().CountDocuments(ctx, documentKey(connectionID, id))
	if err != nil {
		return false, fmt.Errorf("check document exists: %w", err)
	}
	if n == 0 {
		return false, domain.ErrDocumentNotFound
	}
	return false, nil
}

func (s *DocumentStore) Update(ctx context.Context, connectionID, id string, patch domain.DocumentPatch) error {
	set := bson.M{}
	if patch.Title != nil {
		set["title"] = *patch.Title
	}
	if patch.ResourceURI != nil {
		set["resourceURI"] = *patch.ResourceURI
	}
	if patch.UpdatedAt != nil {
		set["updatedAt"] = *patch.UpdatedAt
	}
	if patch.IsSubscribed != nil {
		set["isSubscribed"] = *patch.IsSubscribed
	}
	if patch.DownloadState != nil {
		set["downloadState"] = string(*patch.DownloadState)
	}
	if patch.DownloadError != nil {
		set["downloadError"] = *patch.DownloadError
	}
	if patch.StorageKey != nil {
		set["storageKey"] = *patch.StorageKey
	}
	if patch.Content != nil {
		set["content"] = *patch.Content
	}
	if patch.LastSyncedAt != nil {
		set["lastSyncedAt"] = *patch.LastSyncedAt
	}
	if len(set) == 0 {
		return nil
	}

	result, err := s.collection().UpdateOne(ctx, documentKey(connectionID, id), bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (s *DocumentStore) Delete(ctx context.Context, connectionID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.collection().DeleteMany(ctx,
		bson.M{"connectionId": connectionID, "id": bson.M{"$in": ids}},
	)
	if err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

func (s *DocumentStore) DeleteByConnection(ctx context.Context, connectionID string) error {
	_, err := s.collection().DeleteMany(ctx, bson.M{"connectionId": connectionID})
	if err != nil {
		return fmt.Errorf("delete connection documents: %w", err)
	}
	return nil
}

func (s *DocumentStore) CountByConnection(ctx context.Context, connectionID string) (int, error) {
	n, err := s.collection().CountDocuments(ctx, bson.M{"connectionId": connectionID})
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return int(n), nil
}
