package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jjdj0315/localagent-gateway/internal/core/domain"
	"github.com/jjdj0315/localagent-gateway/internal/usecase"
)

// SessionCookieName is the HttpOnly cookie carrying the opaque session token.
const SessionCookieName = "session_token"

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// newErrorResponse creates an error response with trace ID
func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// RequireSession resolves the session cookie into an authenticated user and
// slides the session's expiry window. The reason a request is turned away is
// logged, but every failure looks the same to the caller apart from the
// expired case, which the frontend uses to prompt a fresh login.
func RequireSession(auth *usecase.AuthService, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		token, err := c.Cookie(SessionCookieName)
		if err != nil || token == "" {
			logger.Debug("session cookie absent", zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "authentication required"))
			return
		}

		session, user, err := auth.ValidateToken(c.Request.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, usecase.ErrSessionExpired):
				logger.Debug("session expired", zap.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "session expired"))
			case errors.Is(err, usecase.ErrSessionNotFound):
				logger.Debug("session not found", zap.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "invalid session"))
			case errors.Is(err, usecase.ErrAccountDisabled):
				logger.Info("disabled account presented a session", zap.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusForbidden,
					newErrorResponse(c, "account disabled"))
			default:
				logger.Error("session validation failed", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					newErrorResponse(c, "authentication failed"))
			}
			return
		}

		c.Set(UserIDKey, user.ID)
		c.Set(SessionIDKey, session.ID)
		c.Set(UserKey, user)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.UserID = user.ID
			reqCtx.SessionID = session.ID
		}

		c.Next()
	}
}

// RequireRole checks if the authenticated user holds one of the given roles.
func RequireRole(roles ...domain.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := GetAuthenticatedUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "authentication required"))
			return
		}

		for _, role := range roles {
			if user.Role == role {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden,
			newErrorResponse(c, "insufficient permissions"))
	}
}

// GetAuthenticatedUserID retrieves the user ID from context (helper for handlers)
func GetAuthenticatedUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}

	if id, ok := userID.(string); ok {
		return id, true
	}

	return "", false
}

// GetAuthenticatedUser retrieves the resolved user from context.
func GetAuthenticatedUser(c *gin.Context) (domain.User, bool) {
	raw, exists := c.Get(UserKey)
	if !exists {
		return domain.User{}, false
	}

	if user, ok := raw.(domain.User); ok {
		return user, true
	}

	return domain.User{}, false
}

// GetSessionID retrieves the current session's identifier from context.
func GetSessionID(c *gin.Context) (string, bool) {
	raw, exists := c.Get(SessionIDKey)
	if !exists {
		return "", false
	}

	if id, ok := raw.(string); ok {
		return id, true
	}

	return "", false
}
