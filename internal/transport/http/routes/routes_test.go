package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/jjdj0315/localagent-gateway/internal/core/domain"
	"github.com/jjdj0315/localagent-gateway/internal/core/port"
	"github.com/jjdj0315/localagent-gateway/internal/infra/config"
	"github.com/jjdj0315/localagent-gateway/internal/infra/security"
	"github.com/jjdj0315/localagent-gateway/internal/repository"
	"github.com/jjdj0315/localagent-gateway/internal/repository/memory"
	"github.com/jjdj0315/localagent-gateway/internal/transport/http/middleware"
	httproutes "github.com/jjdj0315/localagent-gateway/internal/transport/http/routes"
	"github.com/jjdj0315/localagent-gateway/internal/usecase"
)

type memoryUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func (r *memoryUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	userCopy := *user
	return &userCopy, nil
}

func (r *memoryUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Username == username {
			userCopy := *user
			return &userCopy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memoryUserRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.LastLoginAt = &at
	return nil
}

type memorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{sessions: make(map[string]*domain.Session)}
}

func (r *memorySessionRepo) Create(ctx context.Context, session domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessionCopy := session
	r.sessions[session.ID] = &sessionCopy
	return nil
}

func (r *memorySessionRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range r.sessions {
		if session.TokenHash == tokenHash {
			sessionCopy := *session
			return &sessionCopy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memorySessionRepo) OldestByUser(ctx context.Context, userID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest *domain.Session
	for _, session := range r.sessions {
		if session.UserID != userID {
			continue
		}
		if oldest == nil || session.LastActivity.Before(oldest.LastActivity) {
			oldest = session
		}
	}
	if oldest == nil {
		return nil, repository.ErrNotFound
	}
	sessionCopy := *oldest
	return &sessionCopy, nil
}

func (r *memorySessionRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, session := range r.sessions {
		if session.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (r *memorySessionRepo) ListByUser(ctx context.Context, userID string) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]domain.Session, 0)
	for _, session := range r.sessions {
		if session.UserID == userID {
			result = append(result, *session)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastActivity.After(result[j].LastActivity)
	})
	return result, nil
}

func (r *memorySessionRepo) Refresh(ctx context.Context, sessionID string, lastActivity, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	session.LastActivity = lastActivity
	session.ExpiresAt = expiresAt
	return nil
}

func (r *memorySessionRepo) Delete(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.sessions, sessionID)
	return nil
}

func (r *memorySessionRepo) DeleteByTokenHash(ctx context.Context, tokenHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, session := range r.sessions {
		if session.TokenHash == tokenHash {
			delete(r.sessions, id)
			return true, nil
		}
	}
	return false, nil
}

func (r *memorySessionRepo) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, session := range r.sessions {
		if session.UserID == userID {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (r *memorySessionRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, session := range r.sessions {
		if !session.ExpiresAt.After(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// scriptedBackend echoes chat requests and can hold react calls open so the
// tests observe admission behaviour while a slot is occupied.
type scriptedBackend struct {
	mu         sync.Mutex
	calls      []port.AssistantRequest
	blockReact chan struct{}
	entered    chan struct{}
}

func (b *scriptedBackend) Chat(ctx context.Context, req port.AssistantRequest) (*port.AssistantResponse, error) {
	b.mu.Lock()
	b.calls = append(b.calls, req)
	blockReact := b.blockReact
	entered := b.entered
	b.mu.Unlock()

	if req.Mode == "react" && blockReact != nil {
		if entered != nil {
			select {
			case entered <- struct{}{}:
			default:
			}
		}
		select {
		case <-blockReact:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return &port.AssistantResponse{
		ConversationID: req.ConversationID,
		Reply:          "echo: " + req.Message,
		Model:          "test-model",
		DurationMillis: 5,
	}, nil
}

func (b *scriptedBackend) modes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	result := make([]string, 0, len(b.calls))
	for _, call := range b.calls {
		result = append(result, call.Mode)
	}
	return result
}

type testEnv struct {
	router  *gin.Engine
	backend *scriptedBackend
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		App: config.AppSettings{Name: "localagent-gateway", Env: "development", Host: "0.0.0.0", Port: 8080},
		Session: config.SessionSettings{
			Timeout:       30 * time.Minute,
			MaxPerUser:    3,
			PurgeInterval: 5 * time.Minute,
		},
		RateLimit: config.RateLimitSettings{
			Store:             "memory",
			RequestsPerMinute: 100,
			WindowDuration:    time.Minute,
			LoginMaxAttempts:  50,
			IdleTTL:           3 * time.Minute,
			CleanupInterval:   time.Minute,
		},
		CSRF: config.CSRFSettings{
			ExemptPaths:    []string{"/api/v1/auth/login"},
			ExemptPrefixes: []string{"/internal/"},
		},
		Admission: config.AdmissionSettings{ReactSlots: 1, AgentSlots: 1},
		Assistant: config.AssistantSettings{BaseURL: "http://localhost:8001", Timeout: 2 * time.Minute},
		Cookie:    config.CookieSettings{SameSite: "lax"},
	}
}

func newTestEnv(t *testing.T, mutate func(*config.AppConfig)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	hash, err := security.HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	users := &memoryUserRepo{users: map[string]*domain.User{
		"user-1": {ID: "user-1", Username: "alice", PasswordHash: hash, Role: domain.UserRoleUser, CreatedAt: time.Now().UTC()},
		"user-2": {ID: "user-2", Username: "it-admin", PasswordHash: hash, Role: domain.UserRoleAdmin, CreatedAt: time.Now().UTC()},
	}}

	sessionService := usecase.NewSessionService(newMemorySessionRepo(), nil, cfg.Session.Timeout, cfg.Session.MaxPerUser, logger)
	authService := usecase.NewAuthService(users, sessionService, logger)

	store := memory.NewRateLimitStore(cfg.RateLimit.IdleTTL, cfg.RateLimit.CleanupInterval)
	t.Cleanup(store.Close)

	controller := usecase.NewAdmissionController(map[usecase.AdmissionClass]int{
		usecase.AdmissionClassReAct: cfg.Admission.ReactSlots,
		usecase.AdmissionClassAgent: cfg.Admission.AgentSlots,
	}, logger)

	backend := &scriptedBackend{}

	router := httproutes.Register(httproutes.Dependencies{
		Config:         cfg,
		Logger:         logger,
		RateLimiter:    middleware.NewRateLimiter(store, logger),
		CSRFGuard:      middleware.NewCSRFGuard(middleware.CSRFOptions{ExemptPaths: cfg.CSRF.ExemptPaths, ExemptPrefixes: cfg.CSRF.ExemptPrefixes}, logger),
		AdmissionGuard: middleware.NewAdmissionGuard(controller, logger),
		Services:       httproutes.ServiceSet{Auth: authService, Sessions: sessionService},
		Assistant:      backend,
	})

	return &testEnv{router: router, backend: backend}
}

func login(t *testing.T, router *gin.Engine) (sessionCookie, csrfCookie *http.Cookie) {
	t.Helper()
	return loginAs(t, router, "alice")
}

func loginAs(t *testing.T, router *gin.Engine, username string) (sessionCookie, csrfCookie *http.Cookie) {
	t.Helper()

	body := bytes.NewBufferString(fmt.Sprintf(`{"username":%q,"password":"correct horse"}`, username))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("login %s: expected status 200, got %d (%s)", username, w.Code, w.Body.String())
	}

	for _, cookie := range w.Result().Cookies() {
		switch cookie.Name {
		case middleware.SessionCookieName:
			sessionCookie = cookie
		case middleware.CSRFCookieName:
			csrfCookie = cookie
		}
	}
	if sessionCookie == nil || csrfCookie == nil {
		t.Fatalf("login %s: expected session and csrf cookies, got %v", username, w.Result().Cookies())
	}

	return sessionCookie, csrfCookie
}

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)
	cfg := testConfig()

	r := httproutes.Register(httproutes.Dependencies{
		Config: cfg,
		Logger: logger,
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestLoginIssuesCookiesAndSessionEndpointsFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	sessionCookie, csrfCookie := login(t, env.router)

	if !sessionCookie.HttpOnly {
		t.Fatalf("expected session cookie to be HttpOnly")
	}
	if csrfCookie.HttpOnly {
		t.Fatalf("expected csrf cookie to be script-readable")
	}

	// List sessions through the session middleware.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.AddCookie(sessionCookie)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("list sessions: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	var list struct {
		Sessions []struct {
			ID        string `json:"id"`
			IsCurrent bool   `json:"is_current"`
		} `json:"sessions"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode session list: %v", err)
	}
	if list.Total != 1 || len(list.Sessions) != 1 {
		t.Fatalf("expected one session, got %+v", list)
	}
	if !list.Sessions[0].IsCurrent {
		t.Fatalf("expected the listed session to be marked current")
	}

	// Mutating call without the CSRF header is refused.
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/sessions?all=true", nil)
	req.AddCookie(sessionCookie)
	req.AddCookie(csrfCookie)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf header, got %d", w.Code)
	}

	// Same call with the double-submit header succeeds.
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/sessions?all=true", nil)
	req.AddCookie(sessionCookie)
	req.AddCookie(csrfCookie)
	req.Header.Set(middleware.CSRFHeaderName, csrfCookie.Value)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("revoke all: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	var revoke struct {
		RevokedCount int `json:"revoked_count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &revoke); err != nil {
		t.Fatalf("decode revoke response: %v", err)
	}
	if revoke.RevokedCount != 1 {
		t.Fatalf("expected 1 revoked session, got %d", revoke.RevokedCount)
	}

	// The revoked cookie no longer authenticates.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.AddCookie(sessionCookie)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after bulk revoke, got %d", w.Code)
	}
}

func TestGuardedRoutesRequireSessionCookie(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session cookie, got %d", w.Code)
	}
}

func TestRateLimitRunsBeforeCSRF(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.AppConfig) {
		cfg.RateLimit.RequestsPerMinute = 1
	})

	// First request passes the limiter and fails CSRF.
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/sessions", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 from csrf guard, got %d", w.Code)
	}

	// Second request is shed by the limiter before CSRF runs.
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/sessions", nil)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 ahead of csrf check, got %d", w.Code)
	}
}

func TestAssistantReactShedsWhileChatBypassesAdmission(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.blockReact = make(chan struct{})
	env.backend.entered = make(chan struct{}, 1)

	sessionCookie, csrfCookie := login(t, env.router)

	assistantRequest := func(path string) *httptest.ResponseRecorder {
		body := bytes.NewBufferString(`{"conversation_id":"conv-1","message":"hello"}`)
		req := httptest.NewRequest(http.MethodPost, path, body)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.CSRFHeaderName, csrfCookie.Value)
		req.AddCookie(sessionCookie)
		req.AddCookie(csrfCookie)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		return w
	}

	firstDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		firstDone <- assistantRequest("/api/v1/assistant/chat/react")
	}()

	select {
	case <-env.backend.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the first react call to reach the backend")
	}

	// The only react slot is held, so the second react call is shed.
	if w := assistantRequest("/api/v1/assistant/chat/react"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while react slot held, got %d (%s)", w.Code, w.Body.String())
	}

	// Plain chat skips admission entirely and still succeeds.
	if w := assistantRequest("/api/v1/assistant/chat"); w.Code != http.StatusOK {
		t.Fatalf("expected plain chat to bypass admission, got %d (%s)", w.Code, w.Body.String())
	}

	close(env.backend.blockReact)

	select {
	case w := <-firstDone:
		if w.Code != http.StatusOK {
			t.Fatalf("expected held react call to complete with 200, got %d", w.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the held react call to finish")
	}

	// Slot released, react admits again.
	if w := assistantRequest("/api/v1/assistant/chat/react"); w.Code != http.StatusOK {
		t.Fatalf("expected react call to succeed after release, got %d (%s)", w.Code, w.Body.String())
	}

	modes := env.backend.modes()
	want := []string{"react", "chat", "react"}
	if fmt.Sprint(modes) != fmt.Sprint(want) {
		t.Fatalf("expected backend calls %v, got %v", want, modes)
	}
}

func TestInternalValidateBypassesCSRF(t *testing.T) {
	env := newTestEnv(t, nil)

	sessionCookie, _ := login(t, env.router)

	body := bytes.NewBufferString(`{"token":"` + sessionCookie.Value + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/internal/session/validate", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for internal validate, got %d (%s)", w.Code, w.Body.String())
	}

	var resp struct {
		Valid bool `json:"valid"`
		User  struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode validate response: %v", err)
	}
	if !resp.Valid || resp.User.Username != "alice" {
		t.Fatalf("expected valid session for alice, got %+v", resp)
	}

	// A token that was never issued reads as not found.
	body = bytes.NewBufferString(`{"token":"never-issued"}`)
	req = httptest.NewRequest(http.MethodPost, "/internal/session/validate", body)
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown token, got %d", w.Code)
	}
}

func TestAdminRevokesAnotherUsersSessions(t *testing.T) {
	env := newTestEnv(t, nil)

	userSession, userCSRF := login(t, env.router)
	adminSession, adminCSRF := loginAs(t, env.router, "it-admin")

	// A regular account clears CSRF but is stopped by the role check.
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/admin/users/user-2/sessions", nil)
	req.AddCookie(userSession)
	req.AddCookie(userCSRF)
	req.Header.Set(middleware.CSRFHeaderName, userCSRF.Value)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin caller, got %d (%s)", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/admin/users/user-1/sessions", nil)
	req.AddCookie(adminSession)
	req.AddCookie(adminCSRF)
	req.Header.Set(middleware.CSRFHeaderName, adminCSRF.Value)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin revocation, got %d (%s)", w.Code, w.Body.String())
	}

	var resp struct {
		RevokedCount int `json:"revoked_count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode revoke response: %v", err)
	}
	if resp.RevokedCount != 1 {
		t.Fatalf("expected 1 revoked session, got %d", resp.RevokedCount)
	}

	// The revoked user's cookie no longer authenticates.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.AddCookie(userSession)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after admin revocation, got %d", w.Code)
	}
}
