package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jjdj0315/localagent-gateway/internal/core/domain"
	"github.com/jjdj0315/localagent-gateway/internal/core/port"
	"github.com/jjdj0315/localagent-gateway/internal/infra/security"
	"github.com/jjdj0315/localagent-gateway/internal/repository"
)

var (
	// ErrInvalidCredentials indicates the provided username or password are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled indicates the account exists but may not authenticate.
	ErrAccountDisabled = errors.New("account disabled")
)

// AuthService coordinates authentication flows: it verifies credentials at
// login and resolves session tokens back to accounts on every request.
type AuthService struct {
	users    port.UserRepository
	sessions *SessionService
	logger   *zap.Logger
	now      func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users port.UserRepository, sessions *SessionService, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &AuthService{
		users:    users,
		sessions: sessions,
		logger:   logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (s *AuthService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Login validates credentials and opens a session. Unknown accounts and wrong
// passwords collapse into the same error so responses cannot be used to probe
// which usernames exist.
func (s *AuthService) Login(ctx context.Context, username, password string, ip, userAgent *string) (*domain.Session, string, domain.User, error) {
	if username == "" {
		return nil, "", domain.User{}, fmt.Errorf("username is required")
	}
	if password == "" {
		return nil, "", domain.User{}, fmt.Errorf("password is required")
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", domain.User{}, ErrInvalidCredentials
		}
		return nil, "", domain.User{}, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, "", domain.User{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, "", domain.User{}, ErrInvalidCredentials
	}

	if !user.CanAuthenticate() {
		return nil, "", domain.User{}, ErrAccountDisabled
	}

	session, token, err := s.sessions.Create(ctx, user.ID, ip, userAgent)
	if err != nil {
		return nil, "", domain.User{}, fmt.Errorf("create session: %w", err)
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, s.now()); err != nil {
		s.logger.Warn("update last login failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	sanitized := *user
	sanitized.PasswordHash = ""

	return session, token, sanitized, nil
}

// Logout revokes the session owning the token. Logging out an already-gone
// session succeeds: the caller only cares that the session no longer exists.
func (s *AuthService) Logout(ctx context.Context, token string) (bool, error) {
	return s.sessions.Revoke(ctx, token, "", "user_logout")
}

// ValidateToken resolves a session token to its account, extending the
// session's expiry window on success. Sessions of accounts disabled since
// login are revoked on sight.
func (s *AuthService) ValidateToken(ctx context.Context, token string) (*domain.Session, domain.User, error) {
	session, err := s.sessions.ValidateAndRefresh(ctx, token)
	if err != nil {
		return nil, domain.User{}, err
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if _, revokeErr := s.sessions.Revoke(ctx, token, "system", "account_missing"); revokeErr != nil {
				s.logger.Warn("revoke orphaned session failed", zap.String("session_id", session.ID), zap.Error(revokeErr))
			}
			return nil, domain.User{}, ErrSessionNotFound
		}
		return nil, domain.User{}, fmt.Errorf("lookup user: %w", err)
	}

	if !user.CanAuthenticate() {
		if _, revokeErr := s.sessions.Revoke(ctx, token, "system", "account_disabled"); revokeErr != nil {
			s.logger.Warn("revoke disabled account session failed", zap.String("session_id", session.ID), zap.Error(revokeErr))
		}
		return nil, domain.User{}, ErrAccountDisabled
	}

	sanitized := *user
	sanitized.PasswordHash = ""

	return session, sanitized, nil
}
