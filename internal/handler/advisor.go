package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

type AdvisorAsker interface {
	Ask(ctx context.Context, chatID int64, userMessage string) (string, error)
}

type askRequest struct {
	SessionID int64  `json:"session_id"`
	Message   string `json:"message" binding:"required"`
}

// AskAdvisor godoc
// @Summary      Ask the market advisor a question
// @Description  Sends a question to the LLM advisor grounded in live whale metrics; session_id keeps conversation history apart
// @Tags         advisor
// @Accept       json
// @Produce      json
// @Param        request  body  askRequest  true  "Question payload"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/advisor/ask [post]
func (h *Handler) AskAdvisor(c *gin.Context) {
	if h.advisor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "advisor unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.ask-advisor")
	defer span.End()

	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	span.SetAttributes(attribute.Int64("session_id", req.SessionID))

	reply, err := h.advisor.Ask(ctx, req.SessionID, req.Message)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reply": reply})
}
