package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jjdj0315/localagent-gateway/internal/infra/security"
)

const (
	// CSRFCookieName is the script-readable cookie carrying the CSRF token.
	CSRFCookieName = "csrf_token"
	// CSRFHeaderName is the header the frontend must echo the cookie into.
	CSRFHeaderName = "X-CSRF-Token"

	csrfTokenBytes = 32
)

// CSRFOptions configures the double-submit guard. The Cookie* fields shape the
// token cookie issued on safe requests; CookieTTL normally mirrors the session
// timeout so the token and the session age out together.
type CSRFOptions struct {
	CookieName     string
	HeaderName     string
	ExemptPaths    []string
	ExemptPrefixes []string
	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite
	CookieTTL      time.Duration
}

// CSRFGuard enforces the double-submit cookie pattern: mutating requests must
// echo the CSRF cookie in a request header, which cross-site callers cannot
// do because they can neither read the cookie nor set custom headers.
type CSRFGuard struct {
	cookieName     string
	headerName     string
	exemptPaths    map[string]struct{}
	exemptPrefixes []string
	cookiePath     string
	cookieDomain   string
	cookieSecure   bool
	cookieSameSite http.SameSite
	cookieTTL      time.Duration
	logger         *zap.Logger
	metrics        *PipelineMetrics
}

// NewCSRFGuard builds the guard. Zero-value options fall back to the
// csrf_token cookie, X-CSRF-Token header, path "/" and SameSite=Lax.
func NewCSRFGuard(opts CSRFOptions, logger *zap.Logger) *CSRFGuard {
	if logger == nil {
		logger = zap.NewNop()
	}

	cookieName := strings.TrimSpace(opts.CookieName)
	if cookieName == "" {
		cookieName = CSRFCookieName
	}

	headerName := strings.TrimSpace(opts.HeaderName)
	if headerName == "" {
		headerName = CSRFHeaderName
	}

	cookiePath := strings.TrimSpace(opts.CookiePath)
	if cookiePath == "" {
		cookiePath = "/"
	}

	sameSite := opts.CookieSameSite
	if sameSite == 0 {
		sameSite = http.SameSiteLaxMode
	}

	exemptPaths := make(map[string]struct{}, len(opts.ExemptPaths))
	for _, path := range opts.ExemptPaths {
		path = strings.TrimSpace(path)
		if path != "" {
			exemptPaths[path] = struct{}{}
		}
	}

	exemptPrefixes := make([]string, 0, len(opts.ExemptPrefixes))
	for _, prefix := range opts.ExemptPrefixes {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" {
			exemptPrefixes = append(exemptPrefixes, prefix)
		}
	}

	return &CSRFGuard{
		cookieName:     cookieName,
		headerName:     headerName,
		exemptPaths:    exemptPaths,
		exemptPrefixes: exemptPrefixes,
		cookiePath:     cookiePath,
		cookieDomain:   opts.CookieDomain,
		cookieSecure:   opts.CookieSecure,
		cookieSameSite: sameSite,
		cookieTTL:      opts.CookieTTL,
		logger:         logger,
	}
}

// WithMetrics wires the pipeline rejection collectors.
func (g *CSRFGuard) WithMetrics(metrics *PipelineMetrics) *CSRFGuard {
	g.metrics = metrics
	return g
}

// Protect returns the middleware enforcing the double-submit check on
// mutating methods. Safe methods pass through, picking up a token cookie
// when they do not carry one yet; exempt paths pass through untouched.
func (g *CSRFGuard) Protect() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			if !g.isExempt(c.Request.URL.Path) {
				g.ensureToken(c)
			}
			c.Next()
			return
		}

		if g.isExempt(c.Request.URL.Path) {
			c.Next()
			return
		}

		cookie, err := c.Cookie(g.cookieName)
		header := strings.TrimSpace(c.GetHeader(g.headerName))

		// Missing and mismatching tokens are distinguished in logs and
		// metrics but collapse into one response so callers learn nothing
		// about which half was absent.
		if err != nil || cookie == "" || header == "" {
			g.reject(c, "missing")
			return
		}

		if subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) != 1 {
			g.reject(c, "mismatch")
			return
		}

		c.Next()
	}
}

func (g *CSRFGuard) isExempt(path string) bool {
	if _, ok := g.exemptPaths[path]; ok {
		return true
	}
	for _, prefix := range g.exemptPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// ensureToken issues the token cookie on read requests that arrive without
// one. An existing cookie is never reissued, so the token a client holds
// stays stable until it expires or the cookies are cleared.
func (g *CSRFGuard) ensureToken(c *gin.Context) {
	if cookie, err := c.Cookie(g.cookieName); err == nil && cookie != "" {
		return
	}

	token, err := security.GenerateSecureToken(csrfTokenBytes)
	if err != nil {
		// The read itself still proceeds; the client gets a token on its
		// next safe request.
		g.logger.Warn("csrf token generation failed", zap.Error(err))
		return
	}

	maxAge := 0
	if g.cookieTTL > 0 {
		maxAge = int(g.cookieTTL / time.Second)
	}

	c.SetSameSite(g.cookieSameSite)
	c.SetCookie(g.cookieName, token, maxAge, g.cookiePath, g.cookieDomain, g.cookieSecure, false)
}

func (g *CSRFGuard) reject(c *gin.Context, reason string) {
	g.logger.Warn("csrf check failed",
		zap.String("reason", reason),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
	)
	g.metrics.RecordRejection("csrf", reason)
	c.AbortWithStatusJSON(http.StatusForbidden, newErrorResponse(c, "invalid csrf token"))
}

// ParseSameSite maps a configured same-site policy name onto the http
// constant, defaulting to Lax for unrecognized values.
func ParseSameSite(mode string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
