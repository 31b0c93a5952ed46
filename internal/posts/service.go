package posts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("post store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingAuthors    = errors.New("author directory is required")
	errMissingUserID     = errors.New("user identifier is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a dotted "<operation>.<reason>" code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "posts.service.new"
	opCreate     = "posts.create"
	opGet        = "posts.get"
	opList       = "posts.list"
	opUpdate     = "posts.update"
	opDelete     = "posts.delete"
	opToggleLike = "posts.toggle_like"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for new posts.
type IDProvider interface {
	NewID() (string, error)
}

// AuthorDirectory resolves author profiles for a set of user ids.
// Unknown ids are simply absent from the result.
type AuthorDirectory interface {
	LookupAuthors(ctx context.Context, ids []string) (map[string]Author, error)
}

// EventType names a post change broadcast to realtime subscribers.
type EventType string

const (
	EventCreated EventType = "post-created"
	EventUpdated EventType = "post-updated"
	EventDeleted EventType = "post-deleted"
	EventLiked   EventType = "post-liked"
)

// Event describes a committed post change.
type Event struct {
	Type      EventType
	PostID    string
	AuthorID  string
	Likes     int
	Timestamp time.Time
}

// Publisher receives post events after each committed change.
type Publisher interface {
	PublishPostEvent(Event)
}

type ServiceConfig struct {
	Store      Store
	Authors    AuthorDirectory
	IDProvider IDProvider
	Sanitizer  *Sanitizer
	Publisher  Publisher
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service implements post CRUD and likes with author-only mutation.
type Service struct {
	store      Store
	authors    AuthorDirectory
	idProvider IDProvider
	sanitizer  *Sanitizer
	publisher  Publisher
	clock      func() time.Time
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Authors == nil {
		return nil, newServiceError(opServiceNew, "missing_authors", errMissingAuthors)
	}

	sanitizer := cfg.Sanitizer
	if sanitizer == nil {
		sanitizer = NewSanitizer()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		store:      cfg.Store,
		authors:    cfg.Authors,
		idProvider: cfg.IDProvider,
		sanitizer:  sanitizer,
		publisher:  cfg.Publisher,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Create validates and stores a new post authored by authorID.
func (s *Service) Create(ctx context.Context, authorID string, input DraftInput) (View, error) {
	if authorID == "" {
		return View{}, newServiceError(opCreate, "missing_user_id", errMissingUserID)
	}
	draft, err := NewDraft(input, s.sanitizer)
	if err != nil {
		return View{}, newServiceError(opCreate, "invalid_draft", err)
	}

	postID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return View{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	post := &Post{
		ID:        postID,
		AuthorID:  authorID,
		Title:     draft.Title,
		Content:   draft.Content,
		Tags:      draft.Tags,
		Likes:     []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, post); err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("author_id", authorID))
		return View{}, newServiceError(opCreate, "insert_failed", err)
	}

	s.publish(EventCreated, post)
	return s.view(ctx, opCreate, post)
}

// Get returns one post with its author.
func (s *Service) Get(ctx context.Context, rawID string) (View, error) {
	postID, err := NewPostID(rawID)
	if err != nil {
		return View{}, newServiceError(opGet, "invalid_post_id", ErrNotFound)
	}
	post, err := s.store.Get(ctx, postID)
	if err != nil {
		return View{}, s.storeError(opGet, err, zap.String("post_id", postID.String()))
	}
	return s.view(ctx, opGet, post)
}

// List returns posts newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]View, error) {
	posts, err := s.store.List(ctx, filter)
	if err != nil {
		s.logError(opList, "query_failed", err)
		return nil, newServiceError(opList, "query_failed", err)
	}

	authorIDs := make([]string, 0, len(posts))
	for _, post := range posts {
		authorIDs = append(authorIDs, post.AuthorID)
	}
	authors, err := s.authors.LookupAuthors(ctx, authorIDs)
	if err != nil {
		s.logError(opList, "author_lookup_failed", err)
		return nil, newServiceError(opList, "author_lookup_failed", err)
	}

	views := make([]View, 0, len(posts))
	for _, post := range posts {
		views = append(views, View{Post: post, Author: authorOrPlaceholder(authors, post.AuthorID)})
	}
	return views, nil
}

// Update replaces title, content and tags. Only the author may update; anyone else gets ErrNotFound.
func (s *Service) Update(ctx context.Context, userID, rawID string, input DraftInput) (View, error) {
	if userID == "" {
		return View{}, newServiceError(opUpdate, "missing_user_id", errMissingUserID)
	}
	postID, err := NewPostID(rawID)
	if err != nil {
		return View{}, newServiceError(opUpdate, "invalid_post_id", ErrNotFound)
	}
	draft, err := NewDraft(input, s.sanitizer)
	if err != nil {
		return View{}, newServiceError(opUpdate, "invalid_draft", err)
	}

	post, err := s.store.UpdateOwned(ctx, postID, userID, draft, s.clock().UTC())
	if err != nil {
		return View{}, s.storeError(opUpdate, err, zap.String("post_id", postID.String()))
	}

	s.publish(EventUpdated, post)
	return s.view(ctx, opUpdate, post)
}

// Delete removes a post. Only the author may delete; anyone else gets ErrNotFound.
func (s *Service) Delete(ctx context.Context, userID, rawID string) error {
	if userID == "" {
		return newServiceError(opDelete, "missing_user_id", errMissingUserID)
	}
	postID, err := NewPostID(rawID)
	if err != nil {
		return newServiceError(opDelete, "invalid_post_id", ErrNotFound)
	}
	if err := s.store.DeleteOwned(ctx, postID, userID); err != nil {
		return s.storeError(opDelete, err, zap.String("post_id", postID.String()))
	}

	s.publish(EventDeleted, &Post{ID: postID.String(), AuthorID: userID})
	return nil
}

// ToggleLike likes the post for userID, or removes an existing like.
func (s *Service) ToggleLike(ctx context.Context, userID, rawID string) (View, bool, error) {
	if userID == "" {
		return View{}, false, newServiceError(opToggleLike, "missing_user_id", errMissingUserID)
	}
	postID, err := NewPostID(rawID)
	if err != nil {
		return View{}, false, newServiceError(opToggleLike, "invalid_post_id", ErrNotFound)
	}
	post, liked, err := s.store.ToggleLike(ctx, postID, userID, s.clock().UTC())
	if err != nil {
		return View{}, false, s.storeError(opToggleLike, err, zap.String("post_id", postID.String()))
	}

	s.publish(EventLiked, post)
	view, err := s.view(ctx, opToggleLike, post)
	return view, liked, err
}

func (s *Service) view(ctx context.Context, operation string, post *Post) (View, error) {
	authors, err := s.authors.LookupAuthors(ctx, []string{post.AuthorID})
	if err != nil {
		s.logError(operation, "author_lookup_failed", err, zap.String("post_id", post.ID))
		return View{}, newServiceError(operation, "author_lookup_failed", err)
	}
	return View{Post: *post, Author: authorOrPlaceholder(authors, post.AuthorID)}, nil
}

func (s *Service) storeError(operation string, err error, fields ...zap.Field) error {
	if errors.Is(err, ErrNotFound) {
		return newServiceError(operation, "not_found", err)
	}
	s.logError(operation, "store_failed", err, fields...)
	return newServiceError(operation, "store_failed", err)
}

func (s *Service) publish(eventType EventType, post *Post) {
	if s.publisher == nil || post == nil {
		return
	}
	s.publisher.PublishPostEvent(Event{
		Type:      eventType,
		PostID:    post.ID,
		AuthorID:  post.AuthorID,
		Likes:     len(post.Likes),
		Timestamp: s.clock().UTC(),
	})
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	s.logger.Error("posts service failure", append(attrs, fields...)...)
}

func authorOrPlaceholder(authors map[string]Author, id string) Author {
	if author, ok := authors[id]; ok {
		return author
	}
	return Author{ID: id}
}
