package storage

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const defaultDatabase = "cakisi"

type mongoStorage struct {
	client   *mongo.Client
	database *mongo.Database
}

// NewMongoDB connects to cfg.URL and selects cfg.Database.
func NewMongoDB(ctx context.Context, cfg MongoDBConfig) (MongoBackend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("MongoDB URL is required")
	}
	name := cfg.Database
	if name == "" {
		name = defaultDatabase
	}

	client, err := mongo.Connect(options.Client().
		ApplyURI(cfg.URL).
		SetAppName("cakisi").
		SetServerSelectionTimeout(connectTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &mongoStorage{client: client, database: client.Database(name)}, nil
}

func (s *mongoStorage) Type() string { return TypeMongoDB }

func (s *mongoStorage) Database() *mongo.Database { return s.database }

func (s *mongoStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects with a bounded timeout so shutdown cannot hang on an
// unreachable server.
func (s *mongoStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
