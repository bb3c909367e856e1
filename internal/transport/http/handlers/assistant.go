package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jjdj0315/localagent-gateway/internal/core/port"
	"github.com/jjdj0315/localagent-gateway/internal/transport/http/middleware"
)

// Assistant invocation modes forwarded to the inference backend.
const (
	AssistantModeChat     = "chat"
	AssistantModeReact    = "react"
	AssistantModeAgent    = "agent"
	AssistantModeWorkflow = "workflow"
)

// AssistantHandler proxies chat requests to the assistant backend. The gateway
// performs admission and identity propagation only; request and reply bodies
// pass through untouched.
type AssistantHandler struct {
	backend port.AssistantBackend
	logger  *zap.Logger
}

// NewAssistantHandler constructs an assistant handler.
func NewAssistantHandler(backend port.AssistantBackend, logger *zap.Logger) *AssistantHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssistantHandler{backend: backend, logger: logger}
}

// Chat godoc
// @Summary Send a plain chat message
// @Description Forwards a chat message to the assistant backend without reasoning-loop admission.
// @Tags Assistant
// @Accept json
// @Produce json
// @Param request body AssistantChatRequest true "Chat request"
// @Success 200 {object} AssistantChatResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Failure 504 {object} ErrorResponse
// @Router /api/v1/assistant/chat [post]
func (h *AssistantHandler) Chat(c *gin.Context) {
	h.forward(c, AssistantModeChat)
}

// ChatReact godoc
// @Summary Send a chat message through the ReAct loop
// @Description Forwards a chat message to the assistant backend's ReAct reasoning loop. Guarded by the react admission class.
// @Tags Assistant
// @Accept json
// @Produce json
// @Param request body AssistantChatRequest true "Chat request"
// @Success 200 {object} AssistantChatResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Failure 504 {object} ErrorResponse
// @Router /api/v1/assistant/chat/react [post]
func (h *AssistantHandler) ChatReact(c *gin.Context) {
	h.forward(c, AssistantModeReact)
}

// RunAgent godoc
// @Summary Run an agent task
// @Description Forwards an agent invocation to the assistant backend. Guarded by the agent admission class.
// @Tags Assistant
// @Accept json
// @Produce json
// @Param request body AssistantChatRequest true "Agent request"
// @Success 200 {object} AssistantChatResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Failure 504 {object} ErrorResponse
// @Router /api/v1/assistant/agents [post]
func (h *AssistantHandler) RunAgent(c *gin.Context) {
	h.forward(c, AssistantModeAgent)
}

// RunWorkflow godoc
// @Summary Run a workflow
// @Description Forwards a workflow invocation to the assistant backend. Guarded by the agent admission class.
// @Tags Assistant
// @Accept json
// @Produce json
// @Param request body AssistantChatRequest true "Workflow request"
// @Success 200 {object} AssistantChatResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Failure 504 {object} ErrorResponse
// @Router /api/v1/assistant/workflows [post]
func (h *AssistantHandler) RunWorkflow(c *gin.Context) {
	h.forward(c, AssistantModeWorkflow)
}

func (h *AssistantHandler) forward(c *gin.Context, mode string) {
	if h.backend == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "assistant backend unavailable"))
		return
	}

	var req AssistantChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "message is required"))
		return
	}

	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	resp, err := h.backend.Chat(c.Request.Context(), port.AssistantRequest{
		UserID:         userID,
		ConversationID: strings.TrimSpace(req.ConversationID),
		Message:        req.Message,
		Mode:           mode,
	})
	if err != nil {
		h.logger.Error("assistant backend call failed",
			zap.String("mode", mode),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		if errors.Is(err, context.DeadlineExceeded) {
			c.JSON(http.StatusGatewayTimeout, NewErrorResponse(c, "assistant backend timed out"))
			return
		}
		c.JSON(http.StatusBadGateway, NewErrorResponse(c, "assistant backend unavailable"))
		return
	}

	c.JSON(http.StatusOK, AssistantChatResponse{
		ConversationID: resp.ConversationID,
		Reply:          resp.Reply,
		Model:          resp.Model,
		DurationMillis: resp.DurationMillis,
	})
}
