package handlers

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jjdj0315/localagent-gateway/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// UserSummary describes a minimal view of a user returned by the API.
type UserSummary struct {
	ID          string          `json:"id"`
	Username    string          `json:"username"`
	Role        domain.UserRole `json:"role"`
	DisplayName *string         `json:"display_name,omitempty"`
}

// AuthLoginRequest defines the payload for the login endpoint.
type AuthLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SessionSummary provides a compact view of session context in login responses.
type SessionSummary struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AuthLoginResponse describes the response returned for a successful login.
// The session token itself travels only in the HttpOnly cookie.
type AuthLoginResponse struct {
	User    UserSummary    `json:"user"`
	Session SessionSummary `json:"session"`
}

// SessionPayload describes a session view in API responses.
type SessionPayload struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	IP           *string   `json:"ip,omitempty"`
	UserAgent    *string   `json:"user_agent,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	IsCurrent    bool      `json:"is_current,omitempty"`
}

// SessionValidateRequest carries the raw session token presented by an
// internal service for verification.
type SessionValidateRequest struct {
	Token string `json:"token" binding:"required"`
}

// SessionValidateResponse conveys session validation results.
type SessionValidateResponse struct {
	Valid   bool           `json:"valid"`
	User    UserSummary    `json:"user"`
	Session SessionSummary `json:"session"`
}

// SessionListResponse wraps a list of sessions for a user.
type SessionListResponse struct {
	Sessions []SessionPayload `json:"sessions"`
	Total    int              `json:"total"`
}

// SessionBulkRevokeResponse summarises bulk revocation operations.
type SessionBulkRevokeResponse struct {
	RevokedCount int `json:"revoked_count"`
}

// AssistantChatRequest defines the payload forwarded to the assistant backend.
type AssistantChatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message" binding:"required"`
}

// AssistantChatResponse relays the assistant backend's reply to the client.
type AssistantChatResponse struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
	Model          string `json:"model,omitempty"`
	DurationMillis int64  `json:"duration_ms,omitempty"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// newUserSummary converts a domain user to a summary suitable for API responses.
func newUserSummary(user domain.User) UserSummary {
	summary := UserSummary{
		ID:       user.ID,
		Username: user.Username,
		Role:     user.Role,
	}

	if user.DisplayName != nil {
		name := strings.TrimSpace(*user.DisplayName)
		if name != "" {
			summary.DisplayName = &name
		}
	}

	return summary
}

// newSessionPayload converts a domain session to an API session payload.
func newSessionPayload(session domain.Session) SessionPayload {
	payload := SessionPayload{
		ID:           session.ID,
		UserID:       session.UserID,
		CreatedAt:    session.CreatedAt,
		LastActivity: session.LastActivity,
		ExpiresAt:    session.ExpiresAt,
	}

	if session.IP != nil {
		payload.IP = session.IP
	}
	if session.UserAgent != nil {
		payload.UserAgent = session.UserAgent
	}

	return payload
}

func newSessionSummary(session domain.Session) SessionSummary {
	return SessionSummary{
		ID:           session.ID,
		CreatedAt:    session.CreatedAt,
		LastActivity: session.LastActivity,
		ExpiresAt:    session.ExpiresAt,
	}
}
