package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/quill/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	postNotFoundMessage            = "Post not found"
	postNotFoundOrForbiddenMessage = "Post not found or unauthorized"
	realtimeEventReady             = "ready"
)

// userAuthorDirectory resolves post authors from the account store.
type userAuthorDirectory struct {
	users *users.Service
}

// NewAuthorDirectory exposes account profiles as post authors.
func NewAuthorDirectory(service *users.Service) posts.AuthorDirectory {
	return userAuthorDirectory{users: service}
}

func (d userAuthorDirectory) LookupAuthors(ctx context.Context, ids []string) (map[string]posts.Author, error) {
	authors := make(map[string]posts.Author, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, seen := authors[id]; seen {
			continue
		}
		user, err := d.users.Get(ctx, id)
		if errors.Is(err, users.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		authors[id] = posts.Author{
			ID:        user.ID,
			Handle:    user.Handle,
			FirstName: user.FirstName,
			LastName:  user.LastName,
		}
	}
	return authors, nil
}

type authorPayload struct {
	ID        string `json:"id"`
	Handle    string `json:"handle"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName,omitempty"`
}

type postPayload struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Content   string        `json:"content"`
	Tags      []string      `json:"tags"`
	Author    authorPayload `json:"author"`
	Likes     []string      `json:"likes"`
	LikeCount int           `json:"likeCount"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

func newPostPayload(view posts.View) postPayload {
	tags := []string(view.Post.Tags)
	if tags == nil {
		tags = []string{}
	}
	likes := view.Post.Likes
	if likes == nil {
		likes = []string{}
	}
	return postPayload{
		ID:      view.Post.ID,
		Title:   view.Post.Title,
		Content: view.Post.Content,
		Tags:    tags,
		Author: authorPayload{
			ID:        view.Author.ID,
			Handle:    view.Author.Handle,
			FirstName: view.Author.FirstName,
			LastName:  view.Author.LastName,
		},
		Likes:     likes,
		LikeCount: len(likes),
		CreatedAt: view.Post.CreatedAt,
		UpdatedAt: view.Post.UpdatedAt,
	}
}

type postRequestPayload struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

func (p postRequestPayload) draftInput() posts.DraftInput {
	return posts.DraftInput{Title: p.Title, Content: p.Content, Tags: p.Tags}
}

func (h *httpHandler) handleListPosts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	views, err := h.posts.List(c.Request.Context(), posts.ListFilter{
		Query:    strings.TrimSpace(c.Query("q")),
		Tag:      strings.TrimSpace(c.Query("tag")),
		AuthorID: strings.TrimSpace(c.Query("author")),
		Limit:    limit,
	})
	if err != nil {
		h.respondPostError(c, err, "Error fetching posts", postNotFoundMessage)
		return
	}

	payload := make([]postPayload, 0, len(views))
	for _, view := range views {
		payload = append(payload, newPostPayload(view))
	}
	c.JSON(http.StatusOK, gin.H{"posts": payload})
}

func (h *httpHandler) handleGetPost(c *gin.Context) {
	view, err := h.posts.Get(c.Request.Context(), c.Param("postId"))
	if err != nil {
		h.respondPostError(c, err, "Error fetching post", postNotFoundMessage)
		return
	}
	c.JSON(http.StatusOK, newPostPayload(view))
}

func (h *httpHandler) handleCreatePost(c *gin.Context) {
	user, ok := h.requireSessionUser(c)
	if !ok {
		return
	}
	var request postRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "Title and content are required", "invalid_request")
		return
	}

	view, err := h.posts.Create(c.Request.Context(), user.ID, request.draftInput())
	if err != nil {
		h.respondPostError(c, err, "Error creating post", postNotFoundMessage)
		return
	}
	c.JSON(http.StatusCreated, newPostPayload(view))
}

func (h *httpHandler) handleUpdatePost(c *gin.Context) {
	user, ok := h.requireSessionUser(c)
	if !ok {
		return
	}
	var request postRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "Title and content are required", "invalid_request")
		return
	}

	view, err := h.posts.Update(c.Request.Context(), user.ID, c.Param("postId"), request.draftInput())
	if err != nil {
		h.respondPostError(c, err, "Error updating post", postNotFoundOrForbiddenMessage)
		return
	}
	c.JSON(http.StatusOK, newPostPayload(view))
}

func (h *httpHandler) handleDeletePost(c *gin.Context) {
	user, ok := h.requireSessionUser(c)
	if !ok {
		return
	}
	if err := h.posts.Delete(c.Request.Context(), user.ID, c.Param("postId")); err != nil {
		h.respondPostError(c, err, "Error deleting post", postNotFoundOrForbiddenMessage)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Post deleted successfully"})
}

func (h *httpHandler) handleToggleLike(c *gin.Context) {
	user, ok := h.requireSessionUser(c)
	if !ok {
		return
	}
	view, liked, err := h.posts.ToggleLike(c.Request.Context(), user.ID, c.Param("postId"))
	if err != nil {
		h.respondPostError(c, err, "Error liking post", postNotFoundMessage)
		return
	}
	c.JSON(http.StatusOK, gin.H{"liked": liked, "post": newPostPayload(view)})
}

func (h *httpHandler) respondPostError(c *gin.Context, err error, failureMessage, notFoundMessage string) {
	code := "posts.failed"
	var serviceErr *posts.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}
	switch {
	case errors.Is(err, posts.ErrValidation):
		respondError(c, http.StatusBadRequest, errorDetail(err, posts.ErrValidation), code)
	case errors.Is(err, posts.ErrNotFound):
		respondError(c, http.StatusNotFound, notFoundMessage, code)
	default:
		h.logger.Error("post request failed", zap.String("code", code), zap.Error(err))
		respondError(c, http.StatusInternalServerError, failureMessage, code)
	}
}

type realtimeEventPayload struct {
	PostID    string `json:"postId"`
	AuthorID  string `json:"authorId"`
	Likes     int    `json:"likes"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

// handlePostEvents streams post changes as server-sent events. ?author=<id> narrows the feed to one author.
func (h *httpHandler) handlePostEvents(c *gin.Context) {
	topic := realtimeTopicAllPosts
	if author := strings.TrimSpace(c.Query("author")); author != "" {
		topic = AuthorTopic(author)
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, topic)
	defer cleanup()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(realtimeEventReady, gin.H{"source": realtimeSourceBackend})
	c.Writer.Flush()

	heartbeat := time.NewTicker(realtimeHeartbeatPeriod)
	defer heartbeat.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, realtimeEventPayload{
				PostID:    message.PostID,
				AuthorID:  message.AuthorID,
				Likes:     message.Likes,
				Timestamp: message.Timestamp.UTC().Format(time.RFC3339),
				Source:    realtimeSourceBackend,
			})
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
			return true
		}
	})
}
