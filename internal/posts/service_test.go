package posts

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const validContent = "This post body is comfortably longer than the fifty character minimum."

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("post-%03d", p.next), nil
}

type staticAuthors map[string]Author

func (a staticAuthors) LookupAuthors(_ context.Context, ids []string) (map[string]Author, error) {
	found := make(map[string]Author, len(ids))
	for _, id := range ids {
		if author, ok := a[id]; ok {
			found[id] = author
		}
	}
	return found, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) PublishPostEvent(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

type serviceFixture struct {
	service   *Service
	publisher *recordingPublisher
	now       time.Time
}

func newGormTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "posts.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Post{}, &Like{}))
	store, err := NewGormStore(db)
	require.NoError(t, err)
	return store
}

func newServiceFixture(t *testing.T, store Store) *serviceFixture {
	t.Helper()
	fixture := &serviceFixture{
		publisher: &recordingPublisher{},
		now:       time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
	}
	service, err := NewService(ServiceConfig{
		Store:      store,
		IDProvider: &sequenceIDProvider{},
		Authors: staticAuthors{
			"alice": {ID: "alice", Handle: "alice", FirstName: "A", LastName: "B"},
			"bob":   {ID: "bob", Handle: "bob", FirstName: "Bob"},
		},
		Publisher: fixture.publisher,
		Clock: func() time.Time {
			fixture.now = fixture.now.Add(time.Second)
			return fixture.now
		},
	})
	require.NoError(t, err)
	fixture.service = service
	return fixture
}

func TestCreatePopulatesAuthorAndSanitizes(t *testing.T) {
	fixture := newServiceFixture(t, newGormTestStore(t))

	view, err := fixture.service.Create(context.Background(), "alice", DraftInput{
		Title:   "  Hello <b>World</b>  ",
		Content: validContent + `<script>alert("x")</script><p onclick="steal()">safe</p>`,
		Tags:    []string{"go", " Go ", "", "web"},
	})
	require.NoError(t, err)

	assert.Equal(t, "post-001", view.Post.ID)
	assert.Equal(t, "Hello World", view.Post.Title)
	assert.NotContains(t, view.Post.Content, "<script")
	assert.NotContains(t, view.Post.Content, "onclick")
	assert.Contains(t, view.Post.Content, "<p>safe</p>")
	assert.Equal(t, []string{"go", "web"}, []string(view.Post.Tags))
	assert.Empty(t, view.Post.Likes)
	assert.Equal(t, Author{ID: "alice", Handle: "alice", FirstName: "A", LastName: "B"}, view.Author)
	assert.Equal(t, []EventType{EventCreated}, fixture.publisher.types())
}

func TestCreateValidation(t *testing.T) {
	fixture := newServiceFixture(t, newGormTestStore(t))

	testCases := map[string]DraftInput{
		"missing title":   {Title: "  ", Content: validContent},
		"markup title":    {Title: "<script>x</script>", Content: validContent},
		"long title":      {Title: strings.Repeat("t", MaxTitleLength+1), Content: validContent},
		"short content":   {Title: "Title", Content: "too short"},
		"script only":     {Title: "Title", Content: "<script>" + strings.Repeat("x", 80) + "</script>"},
		"too many tags":   {Title: "Title", Content: validContent, Tags: []string{"a", "b", "c", "d", "e", "f"}},
		"oversized tag":   {Title: "Title", Content: validContent, Tags: []string{strings.Repeat("x", 41)}},
		"missing content": {Title: "Title"},
	}
	for name, input := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := fixture.service.Create(context.Background(), "alice", input)
			require.ErrorIs(t, err, ErrValidation)
			var serviceErr *ServiceError
			require.ErrorAs(t, err, &serviceErr)
			assert.Equal(t, "posts.create.invalid_draft", serviceErr.Code())
		})
	}

	_, err := fixture.service.Create(context.Background(), "alice", DraftInput{
		Title: strings.Repeat("t", MaxTitleLength), Content: validContent,
	})
	assert.NoError(t, err, "a title of exactly the maximum length is accepted")

	view, err := fixture.service.Create(context.Background(), "alice", DraftInput{
		Title: "<b>" + strings.Repeat("t", MaxTitleLength-2) + "</b>", Content: validContent,
	})
	require.NoError(t, err, "markup does not count towards the title limit")
	assert.Equal(t, strings.Repeat("t", MaxTitleLength-2), view.Post.Title)
}

func TestListNewestFirstWithFilters(t *testing.T) {
	fixture := newServiceFixture(t, newGormTestStore(t))
	ctx := context.Background()

	_, err := fixture.service.Create(ctx, "alice", DraftInput{Title: "First", Content: validContent, Tags: []string{"go"}})
	require.NoError(t, err)
	_, err = fixture.service.Create(ctx, "bob", DraftInput{Title: "Second about gardens", Content: validContent, Tags: []string{"garden"}})
	require.NoError(t, err)
	_, err = fixture.service.Create(ctx, "alice", DraftInput{Title: "Third", Content: validContent, Tags: []string{"go", "web"}})
	require.NoError(t, err)

	all, err := fixture.service.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Third", all[0].Post.Title)
	assert.Equal(t, "First", all[2].Post.Title)
	assert.Equal(t, "bob", all[1].Author.Handle)

	tagged, err := fixture.service.List(ctx, ListFilter{Tag: "go"})
	require.NoError(t, err)
	assert.Len(t, tagged, 2)

	byAuthor, err := fixture.service.List(ctx, ListFilter{AuthorID: "bob"})
	require.NoError(t, err)
	require.Len(t, byAuthor, 1)
	assert.Equal(t, "Second about gardens", byAuthor[0].Post.Title)

	searched, err := fixture.service.List(ctx, ListFilter{Query: "GARDEN"})
	require.NoError(t, err)
	assert.Len(t, searched, 1)

	limited, err := fixture.service.List(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestUpdateAndDeleteAreAuthorOnly(t *testing.T) {
	fixture := newServiceFixture(t, newGormTestStore(t))
	ctx := context.Background()

	created, err := fixture.service.Create(ctx, "alice", DraftInput{Title: "Original", Content: validContent})
	require.NoError(t, err)

	_, err = fixture.service.Update(ctx, "bob", created.Post.ID, DraftInput{Title: "Hijacked", Content: validContent})
	require.ErrorIs(t, err, ErrNotFound)

	err = fixture.service.Delete(ctx, "bob", created.Post.ID)
	require.ErrorIs(t, err, ErrNotFound)

	updated, err := fixture.service.Update(ctx, "alice", created.Post.ID, DraftInput{
		Title: "Edited", Content: validContent, Tags: []string{"news"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Edited", updated.Post.Title)
	assert.Equal(t, []string{"news"}, []string(updated.Post.Tags))
	assert.True(t, updated.Post.UpdatedAt.After(created.Post.UpdatedAt))

	require.NoError(t, fixture.service.Delete(ctx, "alice", created.Post.ID))

	_, err = fixture.service.Get(ctx, created.Post.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = fixture.service.Update(ctx, "alice", "missing", DraftInput{Title: "x", Content: validContent})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []EventType{EventCreated, EventUpdated, EventDeleted}, fixture.publisher.types())
}

func TestToggleLike(t *testing.T) {
	fixture := newServiceFixture(t, newGormTestStore(t))
	ctx := context.Background()

	created, err := fixture.service.Create(ctx, "alice", DraftInput{Title: "Likeable", Content: validContent})
	require.NoError(t, err)

	view, liked, err := fixture.service.ToggleLike(ctx, "bob", created.Post.ID)
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, []string{"bob"}, view.Post.Likes)
	assert.True(t, view.Post.LikedBy("bob"))

	_, _, err = fixture.service.ToggleLike(ctx, "alice", created.Post.ID)
	require.NoError(t, err)

	listed, err := fixture.service.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.ElementsMatch(t, []string{"alice", "bob"}, listed[0].Post.Likes)

	view, liked, err = fixture.service.ToggleLike(ctx, "bob", created.Post.ID)
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, []string{"alice"}, view.Post.Likes)

	_, _, err = fixture.service.ToggleLike(ctx, "bob", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetUnknownAuthorFallsBackToID(t *testing.T) {
	fixture := newServiceFixture(t, newGormTestStore(t))
	created, err := fixture.service.Create(context.Background(), "carol", DraftInput{Title: "Orphan", Content: validContent})
	require.NoError(t, err)

	view, err := fixture.service.Get(context.Background(), created.Post.ID)
	require.NoError(t, err)
	assert.Equal(t, Author{ID: "carol"}, view.Author)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	var serviceErr *ServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, "posts.service.new.missing_store", serviceErr.Code())

	_, err = NewService(ServiceConfig{Store: newGormTestStore(t)})
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, "posts.service.new.missing_id_provider", serviceErr.Code())
}
