package posts

import (
	"context"
	"time"
)

// Store persists posts and likes. Owned mutations match on both post id and author id,
// so a post owned by someone else is indistinguishable from a missing one (ErrNotFound).
type Store interface {
	Create(ctx context.Context, post *Post) error
	Get(ctx context.Context, id PostID) (*Post, error)
	List(ctx context.Context, filter ListFilter) ([]Post, error)
	UpdateOwned(ctx context.Context, id PostID, authorID string, draft Draft, updatedAt time.Time) (*Post, error)
	DeleteOwned(ctx context.Context, id PostID, authorID string) error
	ToggleLike(ctx context.Context, id PostID, userID string, at time.Time) (*Post, bool, error)
}
