package posts

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("database handle is required")

// GormStore persists posts in SQL through gorm. Likes live in the post_likes table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a gorm-backed Store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Create(ctx context.Context, post *Post) error {
	return s.db.WithContext(ctx).Create(post).Error
}

func (s *GormStore) Get(ctx context.Context, id PostID) (*Post, error) {
	return s.get(s.db.WithContext(ctx), id)
}

func (s *GormStore) List(ctx context.Context, filter ListFilter) ([]Post, error) {
	query := s.db.WithContext(ctx).Model(&Post{})
	if authorID := strings.TrimSpace(filter.AuthorID); authorID != "" {
		query = query.Where("author_id = ?", authorID)
	}
	if tag := strings.TrimSpace(filter.Tag); tag != "" {
		encoded, err := json.Marshal(tag)
		if err != nil {
			return nil, err
		}
		query = query.Where(`CAST(tags AS TEXT) LIKE ? ESCAPE '\'`, "%"+escapeLike(string(encoded))+"%")
	}
	if text := strings.TrimSpace(filter.Query); text != "" {
		pattern := "%" + escapeLike(strings.ToLower(text)) + "%"
		query = query.Where(`LOWER(title) LIKE ? ESCAPE '\' OR LOWER(content) LIKE ? ESCAPE '\'`, pattern, pattern)
	}

	var posts []Post
	if err := query.Order("created_at DESC").Order("id DESC").Limit(filter.limit()).Find(&posts).Error; err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return posts, nil
	}

	ids := make([]string, 0, len(posts))
	for _, post := range posts {
		ids = append(ids, post.ID)
	}
	var likes []Like
	if err := s.db.WithContext(ctx).Where("post_id IN ?", ids).Order("created_at ASC").Find(&likes).Error; err != nil {
		return nil, err
	}
	byPost := make(map[string][]string, len(posts))
	for _, like := range likes {
		byPost[like.PostID] = append(byPost[like.PostID], like.UserID)
	}
	for index := range posts {
		posts[index].Likes = nonNil(byPost[posts[index].ID])
	}
	return posts, nil
}

func (s *GormStore) UpdateOwned(ctx context.Context, id PostID, authorID string, draft Draft, updatedAt time.Time) (*Post, error) {
	result := s.db.WithContext(ctx).Model(&Post{}).
		Where("id = ? AND author_id = ?", id.String(), authorID).
		Updates(map[string]interface{}{
			"title":      draft.Title,
			"content":    draft.Content,
			"tags":       datatypes.JSONSlice[string](draft.Tags),
			"updated_at": updatedAt,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *GormStore) DeleteOwned(ctx context.Context, id PostID, authorID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND author_id = ?", id.String(), authorID).Delete(&Post{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("post_id = ?", id.String()).Delete(&Like{}).Error
	})
}

func (s *GormStore) ToggleLike(ctx context.Context, id PostID, userID string, at time.Time) (*Post, bool, error) {
	var (
		updated *Post
		liked   bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&Post{}).Where("id = ?", id.String()).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}

		removed := tx.Where("post_id = ? AND user_id = ?", id.String(), userID).Delete(&Like{})
		if removed.Error != nil {
			return removed.Error
		}
		if removed.RowsAffected == 0 {
			if err := tx.Create(&Like{PostID: id.String(), UserID: userID, CreatedAt: at}).Error; err != nil {
				return err
			}
			liked = true
		}

		post, err := s.get(tx, id)
		if err != nil {
			return err
		}
		updated = post
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return updated, liked, nil
}

func (s *GormStore) get(db *gorm.DB, id PostID) (*Post, error) {
	var post Post
	err := db.Where("id = ?", id.String()).Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var likers []string
	if err := db.Model(&Like{}).Where("post_id = ?", id.String()).Order("created_at ASC").Pluck("user_id", &likers).Error; err != nil {
		return nil, err
	}
	post.Likes = nonNil(likers)
	return &post, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
