package server

import (
	"errors"
	"net/http"
	"testing"

	"github.com/MarcoPoloResearchLab/quill/backend/internal/chat"
)

func TestChatFiltersOffTopicMessages(t *testing.T) {
	app := newTestApplication(t, testApplicationOptions{})

	recorder := app.do(t, http.MethodPost, "/api/chat", "", map[string]string{"message": "What is the capital of France?"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	var payload struct {
		Reply string `json:"reply"`
	}
	decodeBody(t, recorder, &payload)
	if payload.Reply != chat.DisallowedReply {
		t.Fatalf("unexpected reply %q", payload.Reply)
	}
	if app.generator.promptCount() != 0 {
		t.Fatalf("expected the generator not to be called")
	}

	allowed := app.do(t, http.MethodPost, "/api/chat", "", map[string]string{"message": "How do I create a post?"})
	decodeBody(t, allowed, &payload)
	if payload.Reply != "Open the editor and press publish." {
		t.Fatalf("unexpected reply %q", payload.Reply)
	}
}

func TestChatParaphraseAndTip(t *testing.T) {
	app := newTestApplication(t, testApplicationOptions{})

	paraphrase := app.do(t, http.MethodPost, "/api/chat/paraphrase", "", map[string]string{"text": "my frist post", "type": "title"})
	if paraphrase.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", paraphrase.Code)
	}
	var improved struct {
		ImprovedText string `json:"improvedText"`
	}
	decodeBody(t, paraphrase, &improved)
	if improved.ImprovedText == "" {
		t.Fatalf("expected improved text")
	}

	tip := app.do(t, http.MethodGet, "/api/chat/tip", "", nil)
	if tip.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", tip.Code)
	}

	empty := app.do(t, http.MethodPost, "/api/chat/paraphrase", "", map[string]string{"text": "  "})
	if empty.Code != http.StatusBadRequest {
		t.Fatalf("expected empty text to be rejected, got %d", empty.Code)
	}
}

func TestChatGeneratorFailureIs500(t *testing.T) {
	app := newTestApplication(t, testApplicationOptions{})
	app.generator.err = errors.New("quota exceeded")

	recorder := app.do(t, http.MethodGet, "/api/chat/tip", "", nil)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	var payload struct {
		Error string `json:"error"`
	}
	decodeBody(t, recorder, &payload)
	if payload.Error == "" {
		t.Fatalf("expected an error message")
	}
}

func TestChatRateLimitPerClient(t *testing.T) {
	app := newTestApplication(t, testApplicationOptions{chatBurst: 2})

	for attempt := 0; attempt < 2; attempt++ {
		recorder := app.do(t, http.MethodGet, "/api/chat/tip", "", nil)
		if recorder.Code != http.StatusOK {
			t.Fatalf("attempt %d: unexpected status %d", attempt, recorder.Code)
		}
	}

	limited := app.do(t, http.MethodGet, "/api/chat/tip", "", nil)
	if limited.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %d", limited.Code)
	}
	if retryAfter := limited.Header().Get("Retry-After"); retryAfter != "10" {
		t.Fatalf("unexpected Retry-After %q", retryAfter)
	}
}
