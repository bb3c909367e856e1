package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

func newCSRFRouter(t *testing.T, opts CSRFOptions) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	guard := NewCSRFGuard(opts, zaptest.NewLogger(t))

	router := gin.New()
	router.Use(guard.Protect())
	router.GET("/api/v1/sessions", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.POST("/api/v1/auth/login", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.POST("/api/v1/assistant/chat", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.POST("/internal/session/validate", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	return router
}

func sendCSRF(router *gin.Engine, method, path, cookie, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: cookie})
	}
	if header != "" {
		req.Header.Set(CSRFHeaderName, header)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestCSRFGuardSkipsSafeMethods(t *testing.T) {
	router := newCSRFRouter(t, CSRFOptions{})

	if rr := sendCSRF(router, http.MethodGet, "/api/v1/sessions", "", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected GET to bypass csrf, got %d", rr.Code)
	}
}

func TestCSRFGuardSkipsExemptPaths(t *testing.T) {
	router := newCSRFRouter(t, CSRFOptions{
		ExemptPaths:    []string{"/api/v1/auth/login"},
		ExemptPrefixes: []string{"/internal/"},
	})

	if rr := sendCSRF(router, http.MethodPost, "/api/v1/auth/login", "", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected exempt path to bypass csrf, got %d", rr.Code)
	}

	if rr := sendCSRF(router, http.MethodPost, "/internal/session/validate", "", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected exempt prefix to bypass csrf, got %d", rr.Code)
	}
}

func TestCSRFGuardRejectsMissingAndMismatchedTokens(t *testing.T) {
	router := newCSRFRouter(t, CSRFOptions{})

	missingHeader := sendCSRF(router, http.MethodPost, "/api/v1/assistant/chat", "abc123", "")
	if missingHeader.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing header, got %d", missingHeader.Code)
	}

	missingCookie := sendCSRF(router, http.MethodPost, "/api/v1/assistant/chat", "", "abc123")
	if missingCookie.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing cookie, got %d", missingCookie.Code)
	}

	mismatch := sendCSRF(router, http.MethodPost, "/api/v1/assistant/chat", "abc123", "xyz999")
	if mismatch.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for mismatched tokens, got %d", mismatch.Code)
	}

	// Callers must not be able to tell which half failed.
	if missingHeader.Body.String() != mismatch.Body.String() {
		t.Fatalf("expected identical rejection bodies, got %q vs %q", missingHeader.Body.String(), mismatch.Body.String())
	}
}

func TestCSRFGuardAllowsMatchingTokens(t *testing.T) {
	router := newCSRFRouter(t, CSRFOptions{})

	if rr := sendCSRF(router, http.MethodPost, "/api/v1/assistant/chat", "abc123", "abc123"); rr.Code != http.StatusOK {
		t.Fatalf("expected matching tokens to pass, got %d", rr.Code)
	}
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestCSRFGuardIssuesTokenOnSafeRequests(t *testing.T) {
	router := newCSRFRouter(t, CSRFOptions{CookieTTL: 30 * time.Minute})

	rr := sendCSRF(router, http.MethodGet, "/api/v1/sessions", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	issued := findCookie(rr.Result().Cookies(), CSRFCookieName)
	if issued == nil || issued.Value == "" {
		t.Fatal("expected a csrf cookie on the first safe request")
	}
	if issued.HttpOnly {
		t.Fatal("csrf cookie must stay script-readable")
	}
	if want := int(30 * time.Minute / time.Second); issued.MaxAge != want {
		t.Fatalf("expected cookie max-age %d, got %d", want, issued.MaxAge)
	}

	// A request already holding a token keeps it.
	rr = sendCSRF(router, http.MethodGet, "/api/v1/sessions", issued.Value, "")
	if reissued := findCookie(rr.Result().Cookies(), CSRFCookieName); reissued != nil {
		t.Fatalf("expected no reissue for a tokened request, got %q", reissued.Value)
	}
}

func TestCSRFGuardDoesNotIssueOnExemptPaths(t *testing.T) {
	router := newCSRFRouter(t, CSRFOptions{ExemptPaths: []string{"/api/v1/sessions"}})

	rr := sendCSRF(router, http.MethodGet, "/api/v1/sessions", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if c := findCookie(rr.Result().Cookies(), CSRFCookieName); c != nil {
		t.Fatalf("expected no csrf cookie on an exempt path, got %q", c.Value)
	}
}
