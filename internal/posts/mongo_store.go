package posts

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const postsCollection = "posts"

// MongoStore persists posts as documents with an embedded likes array.
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore constructs a Store over the posts collection of database.
func NewMongoStore(database *mongo.Database) (*MongoStore, error) {
	if database == nil {
		return nil, errMissingDatabase
	}
	return &MongoStore{collection: database.Collection(postsCollection)}, nil
}

// EnsureIndexes creates the listing indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
			Options: options.Index().SetName("idx_posts_created"),
		},
		{
			Keys:    bson.D{{Key: "author_id", Value: 1}},
			Options: options.Index().SetName("idx_posts_author"),
		},
		{
			Keys:    bson.D{{Key: "tags", Value: 1}},
			Options: options.Index().SetName("idx_posts_tags"),
		},
	})
	return err
}

func (s *MongoStore) Create(ctx context.Context, post *Post) error {
	post.Likes = nonNil(post.Likes)
	if post.Tags == nil {
		post.Tags = []string{}
	}
	_, err := s.collection.InsertOne(ctx, post)
	return err
}

func (s *MongoStore) Get(ctx context.Context, id PostID) (*Post, error) {
	var post Post
	err := s.collection.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&post)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	post.Likes = nonNil(post.Likes)
	return &post, nil
}

func (s *MongoStore) List(ctx context.Context, filter ListFilter) ([]Post, error) {
	query := bson.M{}
	if authorID := strings.TrimSpace(filter.AuthorID); authorID != "" {
		query["author_id"] = authorID
	}
	if tag := strings.TrimSpace(filter.Tag); tag != "" {
		query["tags"] = tag
	}
	if text := strings.TrimSpace(filter.Query); text != "" {
		pattern := bson.M{"$regex": regexp.QuoteMeta(text), "$options": "i"}
		query["$or"] = []bson.M{{"title": pattern}, {"content": pattern}}
	}

	cursor, err := s.collection.Find(ctx, query, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(filter.limit())))
	if err != nil {
		return nil, err
	}
	posts := make([]Post, 0)
	if err := cursor.All(ctx, &posts); err != nil {
		return nil, err
	}
	for index := range posts {
		posts[index].Likes = nonNil(posts[index].Likes)
	}
	return posts, nil
}

func (s *MongoStore) UpdateOwned(ctx context.Context, id PostID, authorID string, draft Draft, updatedAt time.Time) (*Post, error) {
	return s.findOneAndUpdate(ctx,
		bson.M{"_id": id.String(), "author_id": authorID},
		bson.M{"$set": bson.M{
			"title":      draft.Title,
			"content":    draft.Content,
			"tags":       draft.Tags,
			"updated_at": updatedAt,
		}})
}

func (s *MongoStore) DeleteOwned(ctx context.Context, id PostID, authorID string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": id.String(), "author_id": authorID})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleLike adds the like when absent and removes it when present, each as a single atomic update.
func (s *MongoStore) ToggleLike(ctx context.Context, id PostID, userID string, _ time.Time) (*Post, bool, error) {
	post, err := s.findOneAndUpdate(ctx,
		bson.M{"_id": id.String(), "likes": bson.M{"$ne": userID}},
		bson.M{"$addToSet": bson.M{"likes": userID}})
	if err == nil {
		return post, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	post, err = s.findOneAndUpdate(ctx,
		bson.M{"_id": id.String(), "likes": userID},
		bson.M{"$pull": bson.M{"likes": userID}})
	if err != nil {
		return nil, false, err
	}
	return post, false, nil
}

func (s *MongoStore) findOneAndUpdate(ctx context.Context, filter, update bson.M) (*Post, error) {
	var post Post
	err := s.collection.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&post)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	post.Likes = nonNil(post.Likes)
	return &post, nil
}
