package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/quill/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/users"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

const mongoConnectTimeout = 10 * time.Second

var errMissingMongoURI = errors.New("mongo uri is required")

// MongoStores bundles the document-store backends sharing one client.
type MongoStores struct {
	Client *mongo.Client
	Users  *users.MongoStore
	Posts  *posts.MongoStore
}

// Close disconnects the underlying client.
func (s *MongoStores) Close(ctx context.Context) error {
	return s.Client.Disconnect(ctx)
}

// OpenMongo connects, pings, and ensures collection indexes.
func OpenMongo(ctx context.Context, uri, databaseName string, logger *zap.Logger) (*MongoStores, error) {
	if uri == "" {
		return nil, errMissingMongoURI
	}

	client, err := mongo.Connect(options.Client().
		ApplyURI(uri).
		SetConnectTimeout(mongoConnectTimeout).
		SetRetryWrites(true).
		SetRetryReads(true))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	database := client.Database(databaseName)
	userStore, err := users.NewMongoStore(database)
	if err != nil {
		return nil, err
	}
	postStore, err := posts.NewMongoStore(database)
	if err != nil {
		return nil, err
	}
	if err := userStore.EnsureIndexes(pingCtx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo user indexes: %w", err)
	}
	if err := postStore.EnsureIndexes(pingCtx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo post indexes: %w", err)
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", "mongo"), zap.String("database", databaseName))
	}
	return &MongoStores{Client: client, Users: userStore, Posts: postStore}, nil
}
