package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jjdj0315/localagent-gateway/internal/transport/http/middleware"
	"github.com/jjdj0315/localagent-gateway/internal/usecase"
)

// SessionHandler exposes endpoints for session management and validation.
type SessionHandler struct {
	auth     *usecase.AuthService
	sessions *usecase.SessionService
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(auth *usecase.AuthService, sessions *usecase.SessionService) *SessionHandler {
	return &SessionHandler{auth: auth, sessions: sessions}
}

// RegisterRoutes binds REST session management routes to the provided router group.
// The caller is expected to guard the group with the session middleware.
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.GET("", h.ListSessions)
	r.DELETE("/others", h.RevokeOtherSessions)
	r.DELETE("/:session_id", h.RevokeSession)
	r.DELETE("", h.RevokeAllSessions)
}

// RegisterAdminRoutes binds the administrative session surface. The caller
// guards the group with session auth plus the admin role check.
func (h *SessionHandler) RegisterAdminRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.DELETE("/users/:user_id/sessions", h.RevokeUserSessions)
}

// ValidateSession godoc
// @Summary Validate a session token
// @Description Checks whether the provided session token is still valid, refreshing its expiry window on success. Intended for internal service-to-service calls.
// @Tags Sessions
// @Accept json
// @Produce json
// @Param request body SessionValidateRequest true "Session validation request"
// @Success 200 {object} SessionValidateResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /internal/session/validate [post]
func (h *SessionHandler) ValidateSession(c *gin.Context) {
	if h.auth == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "session validation unavailable"))
		return
	}

	var req SessionValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "token is required"))
		return
	}

	session, user, err := h.auth.ValidateToken(c.Request.Context(), req.Token)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, NewErrorResponse(c, "session not found"))
		case errors.Is(err, usecase.ErrSessionExpired):
			c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "session expired"))
		case errors.Is(err, usecase.ErrAccountDisabled):
			c.JSON(http.StatusForbidden, NewErrorResponse(c, "account disabled"))
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to validate session"))
		}
		return
	}

	c.JSON(http.StatusOK, SessionValidateResponse{
		Valid:   true,
		User:    newUserSummary(user),
		Session: newSessionSummary(*session),
	})
}

// ListSessions godoc
// @Summary List sessions for the authenticated user
// @Description Retrieves the caller's active sessions ordered by most recent activity.
// @Tags Sessions
// @Produce json
// @Success 200 {object} SessionListResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/sessions [get]
func (h *SessionHandler) ListSessions(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "session service unavailable"))
		return
	}

	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	sessions, err := h.sessions.ListForUser(c.Request.Context(), userID)
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	currentSessionID, _ := middleware.GetSessionID(c)

	response := make([]SessionPayload, 0, len(sessions))
	for _, session := range sessions {
		payload := newSessionPayload(session)
		if currentSessionID != "" && session.ID == currentSessionID {
			payload.IsCurrent = true
		}
		response = append(response, payload)
	}

	c.JSON(http.StatusOK, SessionListResponse{Sessions: response, Total: len(response)})
}

// RevokeSession godoc
// @Summary Revoke a specific session
// @Description Revokes a session owned by the authenticated user. A session belonging to another user reads as not found.
// @Tags Sessions
// @Produce json
// @Param session_id path string true "Session identifier"
// @Param reason query string false "Optional revocation reason"
// @Success 204 "Session revoked"
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/sessions/{session_id} [delete]
func (h *SessionHandler) RevokeSession(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "session service unavailable"))
		return
	}

	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "session_id is required"))
		return
	}

	reason := strings.TrimSpace(c.Query("reason"))
	if reason == "" {
		reason = "user_revoked"
	}

	if err := h.sessions.RevokeByID(c.Request.Context(), userID, sessionID, userID, reason); err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrSessionNotFound, Status: http.StatusNotFound, Message: "session not found"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to revoke session")
		return
	}

	c.Status(http.StatusNoContent)
}

// RevokeAllSessions godoc
// @Summary Revoke all sessions
// @Description Revokes all active sessions for the authenticated user, including the current one.
// @Tags Sessions
// @Produce json
// @Param all query bool true "Must be true to confirm bulk revocation"
// @Param reason query string false "Optional revocation reason"
// @Success 200 {object} SessionBulkRevokeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/sessions [delete]
func (h *SessionHandler) RevokeAllSessions(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "session service unavailable"))
		return
	}

	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	confirm, err := strconv.ParseBool(c.DefaultQuery("all", "false"))
	if err != nil || !confirm {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "query parameter all=true required"))
		return
	}

	reason := strings.TrimSpace(c.Query("reason"))
	if reason == "" {
		reason = "user_logout_all"
	}

	count, revokeErr := h.sessions.RevokeAllForUser(c.Request.Context(), userID, userID, reason)
	if revokeErr != nil {
		RespondWithMappedError(c, revokeErr, nil, http.StatusInternalServerError, "failed to revoke sessions")
		return
	}

	c.JSON(http.StatusOK, SessionBulkRevokeResponse{RevokedCount: count})
}

// RevokeUserSessions godoc
// @Summary Revoke all sessions of a user
// @Description Revokes every active session belonging to the given user, forcing a fresh login. Used to lock out compromised or offboarded accounts.
// @Tags Sessions
// @Produce json
// @Param user_id path string true "Target user identifier"
// @Param reason query string false "Optional revocation reason"
// @Success 200 {object} SessionBulkRevokeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/admin/users/{user_id}/sessions [delete]
func (h *SessionHandler) RevokeUserSessions(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "session service unavailable"))
		return
	}

	adminID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok || adminID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	targetID := strings.TrimSpace(c.Param("user_id"))
	if targetID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "user_id is required"))
		return
	}

	reason := strings.TrimSpace(c.Query("reason"))
	if reason == "" {
		reason = "admin_revoked"
	}

	count, err := h.sessions.RevokeAllForUser(c.Request.Context(), targetID, adminID, reason)
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to revoke sessions")
		return
	}

	c.JSON(http.StatusOK, SessionBulkRevokeResponse{RevokedCount: count})
}

// RevokeOtherSessions godoc
// @Summary Revoke all other sessions
// @Description Revokes all active sessions except the current session.
// @Tags Sessions
// @Produce json
// @Param reason query string false "Optional revocation reason"
// @Success 200 {object} SessionBulkRevokeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/sessions/others [delete]
func (h *SessionHandler) RevokeOtherSessions(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "session service unavailable"))
		return
	}

	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	currentSessionID, ok := middleware.GetSessionID(c)
	if !ok || strings.TrimSpace(currentSessionID) == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "current session unknown"))
		return
	}

	reason := strings.TrimSpace(c.Query("reason"))
	if reason == "" {
		reason = "logout_others"
	}

	count, err := h.sessions.RevokeOthers(c.Request.Context(), userID, currentSessionID, userID, reason)
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to revoke other sessions")
		return
	}

	c.JSON(http.StatusOK, SessionBulkRevokeResponse{RevokedCount: count})
}
