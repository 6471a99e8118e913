package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config holds MongoDB connection configuration.
type Config struct {
	URI      string
	Database string

	// ConnectTimeout bounds the initial dial and ping.
	ConnectTimeout time.Duration
}

// DefaultConfig returns sensible connection defaults.
func DefaultConfig() Config {
	return Config{
		Database:       "docsync",
		ConnectTimeout: 10 * time.Second,
	}
}

// DB wraps a MongoDB database handle shared by the store adapters.
type DB struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect establishes a MongoDB connection and verifies it with a ping.
func Connect(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.Database == "" {
		cfg.Database = "docsync"
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return &DB{client: client, db: client.Database(cfg.Database)}, nil
}

// EnsureIndexes creates the indexes the stores rely on. Safe to call on
// every startup; index creation is idempotent.
func (d *DB) EnsureIndexes(ctx context.Context) error {
	_, err := d.db.Collection(documentsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "connectionId", Value: 1}, {Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "connectionId", Value: 1}, {Key: "parentId", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "isSubscribed", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create document indexes: %w", err)
	}

	_, err = d.db.Collection(syncRecordsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "connectionId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "userId", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create sync record indexes: %w", err)
	}
	return nil
}

// Collection exposes a raw collection handle.
func (d *DB) Collection(name string) *mongo.Collection {
	return d.db.Collection(name)
}

// Ping verifies the connection is alive.
func (d *DB) Ping(ctx context.Context) error {
	return d.client.Ping(ctx, nil)
}

// Close disconnects from MongoDB.
func (d *DB) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}
