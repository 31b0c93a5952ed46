package posts

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
)

const (
	// MaxTitleLength bounds a trimmed title, in characters.
	MaxTitleLength = 120
	// MinContentLength is the shortest accepted sanitized body, in characters.
	MinContentLength = 50
	// MaxTags bounds the number of distinct tags on a post.
	MaxTags = 5

	maxTagLength        = 40
	maxIdentifierLength = 190
)

var (
	// ErrValidation indicates the submitted post fields were rejected.
	ErrValidation = errors.New("posts: validation failed")
	// ErrNotFound covers both a missing post and a post owned by someone else.
	ErrNotFound = errors.New("posts: post not found or unauthorized")
	// ErrInvalidPostID indicates an empty or oversized post identifier.
	ErrInvalidPostID = errors.New("posts: invalid post id")
)

// PostID represents a validated post identifier.
type PostID string

// NewPostID validates raw input and returns a PostID.
func NewPostID(rawInput string) (PostID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPostID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPostID, maxIdentifierLength)
	}
	return PostID(trimmed), nil
}

// String returns the underlying string identifier.
func (id PostID) String() string {
	return string(id)
}

// Post is a persisted blog post. Likes holds the ids of users who liked it.
type Post struct {
	ID        string                      `gorm:"column:id;primaryKey;size:64" bson:"_id"`
	AuthorID  string                      `gorm:"column:author_id;size:64;not null;index:idx_posts_author" bson:"author_id"`
	Title     string                      `gorm:"column:title;size:120;not null" bson:"title"`
	Content   string                      `gorm:"column:content;type:text;not null" bson:"content"`
	Tags      datatypes.JSONSlice[string] `gorm:"column:tags" bson:"tags"`
	Likes     []string                    `gorm:"-" bson:"likes"`
	CreatedAt time.Time                   `gorm:"column:created_at;not null;index:idx_posts_created" bson:"created_at"`
	UpdatedAt time.Time                   `gorm:"column:updated_at;not null" bson:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Post) TableName() string {
	return "posts"
}

// Like records one user's like of one post.
type Like struct {
	PostID    string    `gorm:"column:post_id;primaryKey;size:64"`
	UserID    string    `gorm:"column:user_id;primaryKey;size:64;index:idx_post_likes_user"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Like) TableName() string {
	return "post_likes"
}

// Draft is a validated, sanitized set of post fields ready to persist.
type Draft struct {
	Title   string
	Content string
	Tags    []string
}

// DraftInput is the raw post payload submitted by a client.
type DraftInput struct {
	Title   string
	Content string
	Tags    []string
}

// NewDraft trims and sanitizes input and enforces title, content and tag limits.
func NewDraft(input DraftInput, sanitizer *Sanitizer) (Draft, error) {
	title := strings.TrimSpace(sanitizer.Text(input.Title))
	if title == "" {
		return Draft{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return Draft{}, fmt.Errorf("%w: title exceeds %d characters", ErrValidation, MaxTitleLength)
	}

	content := strings.TrimSpace(sanitizer.Content(input.Content))
	if content == "" {
		return Draft{}, fmt.Errorf("%w: content is required", ErrValidation)
	}
	if utf8.RuneCountInString(content) < MinContentLength {
		return Draft{}, fmt.Errorf("%w: content must be at least %d characters", ErrValidation, MinContentLength)
	}

	tags, err := normalizeTags(input.Tags, sanitizer)
	if err != nil {
		return Draft{}, err
	}

	return Draft{Title: title, Content: content, Tags: tags}, nil
}

func normalizeTags(raw []string, sanitizer *Sanitizer) ([]string, error) {
	tags := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, candidate := range raw {
		tag := strings.TrimSpace(sanitizer.Text(candidate))
		if tag == "" {
			continue
		}
		if utf8.RuneCountInString(tag) > maxTagLength {
			return nil, fmt.Errorf("%w: tag %q exceeds %d characters", ErrValidation, tag, maxTagLength)
		}
		key := strings.ToLower(tag)
		if _, duplicate := seen[key]; duplicate {
			continue
		}
		seen[key] = struct{}{}
		tags = append(tags, tag)
	}
	if len(tags) > MaxTags {
		return nil, fmt.Errorf("%w: at most %d tags allowed", ErrValidation, MaxTags)
	}
	return tags, nil
}

// Author is the public profile attached to a post.
type Author struct {
	ID        string
	Handle    string
	FirstName string
	LastName  string
}

// View is a post with its author populated.
type View struct {
	Post   Post
	Author Author
}

// LikedBy reports whether userID has liked the post.
func (p *Post) LikedBy(userID string) bool {
	for _, liker := range p.Likes {
		if liker == userID {
			return true
		}
	}
	return false
}

// ListFilter narrows a post listing. Zero values match everything.
type ListFilter struct {
	Query    string
	Tag      string
	AuthorID string
	Limit    int
}

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	if f.Limit > maxListLimit {
		return maxListLimit
	}
	return f.Limit
}
