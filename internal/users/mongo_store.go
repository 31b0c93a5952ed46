package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/quill/backend/internal/auth"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	usersCollection = "users"

	indexHandle   = "idx_users_handle"
	indexGoogleID = "idx_users_google_id"
	indexGitHubID = "idx_users_github_id"
	indexAppleID  = "idx_users_apple_id"
)

// MongoStore persists accounts in a MongoDB collection.
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore constructs a Store over the users collection of database.
func NewMongoStore(database *mongo.Database) (*MongoStore, error) {
	if database == nil {
		return nil, errMissingDatabase
	}
	return &MongoStore{collection: database.Collection(usersCollection)}, nil
}

// EnsureIndexes creates the unique handle index and the sparse unique provider indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "handle", Value: 1}},
			Options: options.Index().SetName(indexHandle).SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "google_id", Value: 1}},
			Options: options.Index().SetName(indexGoogleID).SetUnique(true).SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "github_id", Value: 1}},
			Options: options.Index().SetName(indexGitHubID).SetUnique(true).SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "apple_id", Value: 1}},
			Options: options.Index().SetName(indexAppleID).SetUnique(true).SetSparse(true),
		},
	}
	_, err := s.collection.Indexes().CreateMany(ctx, models)
	return err
}

// Create inserts a new account.
func (s *MongoStore) Create(ctx context.Context, user *User) error {
	if _, err := s.collection.InsertOne(ctx, user); err != nil {
		return classifyMongoError(err)
	}
	return nil
}

// FindByID loads an account by id.
func (s *MongoStore) FindByID(ctx context.Context, id string) (*User, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// FindByHandle loads an account by handle.
func (s *MongoStore) FindByHandle(ctx context.Context, handle string) (*User, error) {
	return s.findOne(ctx, bson.M{"handle": handle})
}

// FindByExternalID loads the account linked to a provider subject.
func (s *MongoStore) FindByExternalID(ctx context.Context, provider auth.Provider, subject string) (*User, error) {
	field, err := externalIDColumn(provider)
	if err != nil {
		return nil, err
	}
	return s.findOne(ctx, bson.M{field: subject})
}

// UpdateProfile applies the supplied profile fields and returns the updated account.
func (s *MongoStore) UpdateProfile(ctx context.Context, id string, update ProfileUpdate, updatedAt time.Time) (*User, error) {
	set := bson.M{"updated_at": updatedAt}
	unset := bson.M{}
	if update.Handle != nil {
		set["handle"] = *update.Handle
	}
	if update.FirstName != nil {
		set["first_name"] = *update.FirstName
	}
	if update.LastName != nil {
		if *update.LastName == "" {
			unset["last_name"] = ""
		} else {
			set["last_name"] = *update.LastName
		}
	}
	document := bson.M{"$set": set}
	if len(unset) > 0 {
		document["$unset"] = unset
	}

	var updated User
	err := s.collection.FindOneAndUpdate(
		ctx,
		bson.M{"_id": id},
		document,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyMongoError(err)
	}
	return &updated, nil
}

// UpdatePasswordHash replaces the stored password hash.
func (s *MongoStore) UpdatePasswordHash(ctx context.Context, id string, hash string, updatedAt time.Time) error {
	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"password_hash": hash,
		"updated_at":    updatedAt,
	}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Search matches query against handle and names, case-insensitively.
func (s *MongoStore) Search(ctx context.Context, query string, limit int) ([]User, error) {
	pattern := bson.M{"$regex": regexp.QuoteMeta(query), "$options": "i"}
	filter := bson.M{"$or": []bson.M{
		{"handle": pattern},
		{"first_name": pattern},
		{"last_name": pattern},
	}}
	cursor, err := s.collection.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "handle", Value: 1}}).SetLimit(int64(clampSearchLimit(limit))))
	if err != nil {
		return nil, err
	}
	found := make([]User, 0)
	if err := cursor.All(ctx, &found); err != nil {
		return nil, err
	}
	return found, nil
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*User, error) {
	var user User
	err := s.collection.FindOne(ctx, filter).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func classifyMongoError(err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}
	if strings.Contains(err.Error(), indexHandle) {
		return fmt.Errorf("%w: %v", ErrHandleTaken, err)
	}
	return fmt.Errorf("%w: %v", ErrExternalIDTaken, err)
}
