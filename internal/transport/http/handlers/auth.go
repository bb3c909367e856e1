package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jjdj0315/localagent-gateway/internal/infra/security"
	"github.com/jjdj0315/localagent-gateway/internal/transport/http/middleware"
	"github.com/jjdj0315/localagent-gateway/internal/usecase"
)

const csrfTokenBytes = 32

// CookieSettings controls the attributes stamped onto the session and CSRF
// cookies. Secure defaults to false so local development over plain HTTP
// works; production configuration must enable it. TTL normally mirrors the
// session timeout; zero falls back to browser-session cookies.
type CookieSettings struct {
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
	TTL      time.Duration
}

func defaultCookieSettings() CookieSettings {
	return CookieSettings{
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	}
}

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	auth    *usecase.AuthService
	cookies CookieSettings
}

// AuthHandlerOption configures optional AuthHandler dependencies.
type AuthHandlerOption func(*AuthHandler)

// WithCookieSettings overrides the cookie attributes used for login artifacts.
func WithCookieSettings(settings CookieSettings) AuthHandlerOption {
	return func(h *AuthHandler) {
		if settings.Path == "" {
			settings.Path = "/"
		}
		if settings.SameSite == 0 {
			settings.SameSite = http.SameSiteLaxMode
		}
		h.cookies = settings
	}
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth *usecase.AuthService, opts ...AuthHandlerOption) *AuthHandler {
	handler := &AuthHandler{
		auth:    auth,
		cookies: defaultCookieSettings(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}

	return handler
}

// RegisterRoutes binds authentication routes, applying optional middleware ahead of handlers.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, requireSession gin.HandlerFunc, loginMiddlewares ...gin.HandlerFunc) {
	if len(loginMiddlewares) > 0 {
		chain := append([]gin.HandlerFunc{}, loginMiddlewares...)
		chain = append(chain, h.login)
		r.POST("/login", chain...)
	} else {
		r.POST("/login", h.login)
	}

	r.POST("/logout", h.logout)

	if requireSession != nil {
		r.GET("/me", requireSession, h.me)
	}
}

// Login godoc
// @Summary Authenticate a user with credentials
// @Description Validates the username and password, creates a session and sets the session and CSRF cookies.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body AuthLoginRequest true "Login request"
// @Success 200 {object} AuthLoginResponse "Successfully authenticated"
// @Failure 400 {object} ErrorResponse "Invalid request payload"
// @Failure 401 {object} ErrorResponse "Invalid credentials"
// @Failure 403 {object} ErrorResponse "Account disabled"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Failure 429 {object} middleware.ProblemDetails "Rate limit exceeded"
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	var req AuthLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	csrfToken, err := security.GenerateSecureToken(csrfTokenBytes)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "authentication failed"))
		return
	}

	var ip *string
	if addr := strings.TrimSpace(c.ClientIP()); addr != "" {
		ip = &addr
	}
	var userAgent *string
	if ua := strings.TrimSpace(c.Request.UserAgent()); ua != "" {
		userAgent = &ua
	}

	session, token, user, err := h.auth.Login(c.Request.Context(), strings.TrimSpace(req.Username), req.Password, ip, userAgent)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid credentials"))
		case errors.Is(err, usecase.ErrAccountDisabled):
			c.JSON(http.StatusForbidden, NewErrorResponse(c, "account disabled"))
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "authentication failed"))
		}
		return
	}

	h.setAuthCookies(c, token, csrfToken)

	c.JSON(http.StatusOK, AuthLoginResponse{
		User:    newUserSummary(user),
		Session: newSessionSummary(*session),
	})
}

// Logout godoc
// @Summary Logout the current session
// @Description Revokes the session referenced by the session cookie and clears both auth cookies. Idempotent.
// @Tags Authentication
// @Produce json
// @Success 204 {string} string ""
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) logout(c *gin.Context) {
	token, err := c.Cookie(middleware.SessionCookieName)
	if err != nil || strings.TrimSpace(token) == "" {
		// No cookie means nothing to revoke; still clear any stale artifacts.
		h.clearAuthCookies(c)
		c.Status(http.StatusNoContent)
		return
	}

	if _, err := h.auth.Logout(c.Request.Context(), token); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to revoke session"))
		return
	}

	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

// Me godoc
// @Summary Describe the authenticated user
// @Description Returns the profile of the user bound to the current session.
// @Tags Authentication
// @Produce json
// @Success 200 {object} UserSummary
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) me(c *gin.Context) {
	user, ok := middleware.GetAuthenticatedUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	c.JSON(http.StatusOK, newUserSummary(user))
}

// setAuthCookies stamps the session token (HttpOnly) and the CSRF token
// (script-readable, so the frontend can mirror it into the request header).
// Max-Age matches the session timeout; the server-side expiry stays
// authoritative because every validated request slides it forward.
func (h *AuthHandler) setAuthCookies(c *gin.Context, sessionToken, csrfToken string) {
	maxAge := 0
	if h.cookies.TTL > 0 {
		maxAge = int(h.cookies.TTL / time.Second)
	}

	c.SetSameSite(h.cookies.SameSite)
	c.SetCookie(middleware.SessionCookieName, sessionToken, maxAge, h.cookies.Path, h.cookies.Domain, h.cookies.Secure, true)
	c.SetCookie(middleware.CSRFCookieName, csrfToken, maxAge, h.cookies.Path, h.cookies.Domain, h.cookies.Secure, false)
}

func (h *AuthHandler) clearAuthCookies(c *gin.Context) {
	c.SetSameSite(h.cookies.SameSite)
	c.SetCookie(middleware.SessionCookieName, "", -1, h.cookies.Path, h.cookies.Domain, h.cookies.Secure, true)
	c.SetCookie(middleware.CSRFCookieName, "", -1, h.cookies.Path, h.cookies.Domain, h.cookies.Secure, false)
}
