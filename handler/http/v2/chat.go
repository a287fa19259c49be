package v2

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"agentrag/src/core/agent"
	"agentrag/src/core/orchestrator"
	"agentrag/src/log"
)

// statusClientClosedRequest is reported when the caller went away before
// an answer was produced.
const statusClientClosedRequest = 499

type chatRequest struct {
	Question    string       `json:"question"`
	ChatHistory []agent.Turn `json:"chat_history"`
	FastMode    bool         `json:"fast_mode"`
}

// Chat godoc
// @Summary Answer a question
// @Tags chat
// @Accept json
// @Produce json
// @Param body body chatRequest true "Question and conversation"
// @Success 200 {object} orchestrator.Response
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} orchestrator.Response
// @Router /api/v1/chat [post]
func (h *Handler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}

	resp, err := h.resolver.Resolve(c.Request.Context(), orchestrator.Request{
		Question:    req.Question,
		ChatHistory: req.ChatHistory,
		FastMode:    req.FastMode,
	})
	switch {
	case err == nil:
		sendJSON(c, http.StatusOK, resp)
	case errors.Is(err, orchestrator.ErrInvalidInput):
		sendError(c, http.StatusBadRequest, err)
	case errors.Is(err, context.Canceled):
		c.AbortWithStatus(statusClientClosedRequest)
	case resp != nil:
		// the response carries the generic failure answer; details stay in the log
		log.Error(err, "query failed", "trace_id", resp.TraceID)
		sendJSON(c, http.StatusServiceUnavailable, resp)
	default:
		sendError(c, http.StatusInternalServerError, err)
	}
}
