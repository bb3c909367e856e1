package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jjdj0315/localagent-gateway/internal/core/domain"
	"github.com/jjdj0315/localagent-gateway/internal/core/port"
	"github.com/jjdj0315/localagent-gateway/internal/infra/security"
	"github.com/jjdj0315/localagent-gateway/internal/repository"
)

var (
	// ErrSessionNotFound indicates that no session owns the presented token.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired indicates the session existed but its expiry has passed.
	ErrSessionExpired = errors.New("session expired")
)

const sessionTokenBytes = 32

// SessionService coordinates session creation, validation, and revocation.
// Creation for one user is serialized through a per-user lock so the count,
// evict, insert sequence cannot interleave and overshoot the cap.
type SessionService struct {
	sessions   port.SessionRepository
	events     port.EventPublisher
	timeout    time.Duration
	maxPerUser int
	logger     *zap.Logger
	now        func() time.Time

	userLocksMu sync.Mutex
	userLocks   map[string]*sync.Mutex
}

// NewSessionService constructs a SessionService.
func NewSessionService(sessions port.SessionRepository, events port.EventPublisher, timeout time.Duration, maxPerUser int, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if maxPerUser <= 0 {
		maxPerUser = 3
	}
	service := &SessionService{
		sessions:   sessions,
		events:     events,
		timeout:    timeout,
		maxPerUser: maxPerUser,
		logger:     logger,
		userLocks:  make(map[string]*sync.Mutex),
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (s *SessionService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Timeout exposes the configured sliding-window duration, used by the
// transport layer to align cookie lifetimes with session expiry.
func (s *SessionService) Timeout() time.Duration {
	return s.timeout
}

// Create mints a session for the user. When the user already holds the maximum
// number of sessions, the one with the stalest activity is evicted to make
// room. Returns the persisted session and the raw token; the token is never
// stored and cannot be recovered later.
func (s *SessionService) Create(ctx context.Context, userID string, ip, userAgent *string) (*domain.Session, string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, "", fmt.Errorf("user id is required")
	}
	if s.sessions == nil {
		return nil, "", fmt.Errorf("session repository not configured")
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	count, err := s.sessions.CountByUser(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("count sessions: %w", err)
	}

	now := s.now()
	session := domain.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(s.timeout),
	}
	session.Touch(now, ip, userAgent)

	for count >= s.maxPerUser {
		if err := s.evictOldest(ctx, userID, session.ID, count); err != nil {
			return nil, "", err
		}
		count--
	}

	token, err := security.GenerateSecureToken(sessionTokenBytes)
	if err != nil {
		return nil, "", fmt.Errorf("generate session token: %w", err)
	}
	session.TokenHash = security.HashToken(token)

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, "", fmt.Errorf("create session: %w", err)
	}

	s.publishCreated(ctx, session)

	return &session, token, nil
}

// ValidateAndRefresh resolves the presented token, rejects expired sessions,
// and slides the expiry window forward on success. Expired sessions are
// removed before the error is returned, so a stale token cannot be replayed.
func (s *SessionService) ValidateAndRefresh(ctx context.Context, token string) (*domain.Session, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrSessionNotFound
	}
	if s.sessions == nil {
		return nil, fmt.Errorf("session repository not configured")
	}

	tokenHash := security.HashToken(token)
	session, err := s.sessions.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	now := s.now()
	if session.IsExpired(now) {
		if err := s.sessions.Delete(ctx, session.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("delete expired session failed", zap.String("session_id", session.ID), zap.Error(err))
		}
		return nil, ErrSessionExpired
	}

	session.Refresh(now, s.timeout)
	if err := s.sessions.Refresh(ctx, session.ID, session.LastActivity, session.ExpiresAt); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	return session, nil
}

// Revoke removes the session owning the token. Revoking an unknown token is
// not an error; the boolean reports whether a session actually existed.
func (s *SessionService) Revoke(ctx context.Context, token, revokedBy, reason string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, nil
	}
	if s.sessions == nil {
		return false, fmt.Errorf("session repository not configured")
	}

	tokenHash := security.HashToken(token)
	session, err := s.sessions.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get session: %w", err)
	}

	deleted, err := s.sessions.DeleteByTokenHash(ctx, tokenHash)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	if !deleted {
		return false, nil
	}

	s.publishRevoked(ctx, *session, revokedBy, reason)

	return true, nil
}

// RevokeByID removes a specific session owned by the supplied user. Used by
// the session management endpoints where the caller addresses sessions by ID.
func (s *SessionService) RevokeByID(ctx context.Context, userID, sessionID, revokedBy, reason string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if s.sessions == nil {
		return fmt.Errorf("session repository not configured")
	}

	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	for i := range sessions {
		if sessions[i].ID != sessionID {
			continue
		}
		if err := s.sessions.Delete(ctx, sessionID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("delete session: %w", err)
		}
		s.publishRevoked(ctx, sessions[i], revokedBy, reason)
		return nil
	}

	return ErrSessionNotFound
}

// RevokeAllForUser removes every session the user holds and reports the count.
func (s *SessionService) RevokeAllForUser(ctx context.Context, userID, revokedBy, reason string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("user id is required")
	}
	if s.sessions == nil {
		return 0, fmt.Errorf("session repository not configured")
	}

	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	removed, err := s.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions for user: %w", err)
	}

	for i := range sessions {
		s.publishRevoked(ctx, sessions[i], revokedBy, reason)
	}

	return removed, nil
}

// RevokeOthers removes every session the user holds except the current one,
// so a "log out everywhere else" action keeps the caller signed in.
func (s *SessionService) RevokeOthers(ctx context.Context, userID, currentSessionID, revokedBy, reason string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(currentSessionID) == "" {
		return 0, fmt.Errorf("current session id is required")
	}
	if s.sessions == nil {
		return 0, fmt.Errorf("session repository not configured")
	}

	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	removed := 0
	for i := range sessions {
		if sessions[i].ID == currentSessionID {
			continue
		}
		if err := s.sessions.Delete(ctx, sessions[i].ID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return removed, fmt.Errorf("delete session: %w", err)
		}
		removed++
		s.publishRevoked(ctx, sessions[i], revokedBy, reason)
	}

	return removed, nil
}

// ListForUser returns the user's sessions, most recent activity first.
func (s *SessionService) ListForUser(ctx context.Context, userID string) ([]domain.Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if s.sessions == nil {
		return nil, fmt.Errorf("session repository not configured")
	}

	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	return sessions, nil
}

// PurgeExpired bulk-removes sessions whose expiry has passed. Invoked by the
// background sweep; validation already deletes expired sessions it touches, so
// this catches sessions nobody presented again.
func (s *SessionService) PurgeExpired(ctx context.Context) (int, error) {
	if s.sessions == nil {
		return 0, fmt.Errorf("session repository not configured")
	}

	now := s.now()
	purged, err := s.sessions.DeleteExpiredBefore(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired sessions: %w", err)
	}

	if purged > 0 {
		s.logger.Info("purged expired sessions", zap.Int("count", purged))
		s.publishPurged(ctx, purged, now)
	}

	return purged, nil
}

func (s *SessionService) evictOldest(ctx context.Context, userID, replacedBy string, active int) error {
	oldest, err := s.sessions.OldestByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("find oldest session: %w", err)
	}

	if err := s.sessions.Delete(ctx, oldest.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("evict session: %w", err)
	}

	s.logger.Info("evicted session over cap",
		zap.String("user_id", oldest.UserID),
		zap.String("session_id", oldest.ID),
		zap.Time("last_activity", oldest.LastActivity))

	if s.events != nil {
		event := domain.SessionEvictedEvent{
			EventID:        uuid.NewString(),
			SessionID:      oldest.ID,
			UserID:         oldest.UserID,
			LastActivity:   oldest.LastActivity,
			EvictedAt:      s.now(),
			ReplacedBy:     replacedBy,
			SessionsActive: active,
		}
		if err := s.events.PublishSessionEvicted(ctx, event); err != nil {
			s.logger.Warn("publish session evicted failed", zap.String("session_id", oldest.ID), zap.Error(err))
		}
	}

	return nil
}

func (s *SessionService) publishCreated(ctx context.Context, session domain.Session) {
	if s.events == nil {
		return
	}
	event := domain.SessionCreatedEvent{
		EventID:   uuid.NewString(),
		SessionID: session.ID,
		UserID:    session.UserID,
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
		IPAddress: session.IP,
		UserAgent: session.UserAgent,
	}
	if err := s.events.PublishSessionCreated(ctx, event); err != nil {
		s.logger.Warn("publish session created failed", zap.String("session_id", session.ID), zap.Error(err))
	}
}

func (s *SessionService) publishRevoked(ctx context.Context, session domain.Session, revokedBy, reason string) {
	if s.events == nil {
		return
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "user_logout"
	}
	revoker := strings.TrimSpace(revokedBy)
	if revoker == "" {
		revoker = session.UserID
	}
	event := domain.SessionRevokedEvent{
		EventID:   uuid.NewString(),
		SessionID: session.ID,
		UserID:    session.UserID,
		RevokedAt: s.now(),
		RevokedBy: revoker,
		Reason:    reason,
		IPAddress: session.IP,
	}
	if err := s.events.PublishSessionRevoked(ctx, event); err != nil {
		s.logger.Warn("publish session revoked failed", zap.String("session_id", session.ID), zap.Error(err))
	}
}

func (s *SessionService) publishPurged(ctx context.Context, purged int, before time.Time) {
	if s.events == nil {
		return
	}
	event := domain.SessionsPurgedEvent{
		EventID:  uuid.NewString(),
		Purged:   purged,
		Before:   before,
		PurgedAt: s.now(),
	}
	if err := s.events.PublishSessionsPurged(ctx, event); err != nil {
		s.logger.Warn("publish sessions purged failed", zap.Error(err))
	}
}

// userLock returns the mutex serializing session creation for one user.
// Lock entries are never removed; the user population is small and bounded.
func (s *SessionService) userLock(userID string) *sync.Mutex {
	s.userLocksMu.Lock()
	defer s.userLocksMu.Unlock()

	lock, ok := s.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.userLocks[userID] = lock
	}
	return lock
}
