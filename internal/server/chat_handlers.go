package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/quill/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/metrics"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) limitChat(c *gin.Context) {
	if h.chatLimiter == nil {
		c.Next()
		return
	}
	allowed, retryAfter := h.chatLimiter.Allow(c.ClientIP())
	if !allowed {
		h.metrics.RecordChatRequest(metrics.OutcomeLimited)
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		respondError(c, http.StatusTooManyRequests, "Too many requests, please slow down", "rate_limited")
		return
	}
	c.Next()
}

type chatRequestPayload struct {
	Message string `json:"message"`
}

func (h *httpHandler) handleChat(c *gin.Context) {
	var request chatRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "Message is required", "invalid_request")
		return
	}

	reply, err := h.assistant.Reply(c.Request.Context(), request.Message)
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	if reply.Filtered {
		h.metrics.RecordChatRequest(metrics.OutcomeRejected)
	} else {
		h.metrics.RecordChatRequest(metrics.OutcomeSuccess)
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply.Text})
}

type paraphraseRequestPayload struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

func (h *httpHandler) handleParaphrase(c *gin.Context) {
	var request paraphraseRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "Text is required", "invalid_request")
		return
	}

	improved, err := h.assistant.Paraphrase(c.Request.Context(), request.Text, chat.ParseParaphraseKind(request.Type))
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	h.metrics.RecordChatRequest(metrics.OutcomeSuccess)
	c.JSON(http.StatusOK, gin.H{"improvedText": improved})
}

func (h *httpHandler) handleTip(c *gin.Context) {
	tip, err := h.assistant.Tip(c.Request.Context())
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	h.metrics.RecordChatRequest(metrics.OutcomeSuccess)
	c.JSON(http.StatusOK, gin.H{"tip": tip})
}

func (h *httpHandler) respondChatError(c *gin.Context, err error) {
	if errors.Is(err, chat.ErrInvalidInput) {
		h.metrics.RecordChatRequest(metrics.OutcomeRejected)
		respondError(c, http.StatusBadRequest, errorDetail(err, chat.ErrInvalidInput), "invalid_request")
		return
	}
	h.metrics.RecordChatRequest(metrics.OutcomeFailure)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "The assistant is unavailable right now"})
}
