package port

import (
	"context"
	"time"

	"github.com/jjdj0315/localagent-gateway/internal/core/domain"
)

// SessionRepository deals with session storage. Sessions are addressed by the
// hash of their opaque token; raw tokens never reach the store. Each operation
// is individually atomic, callers serialize multi-step flows themselves.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	OldestByUser(ctx context.Context, userID string) (*domain.Session, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Session, error)
	Refresh(ctx context.Context, sessionID string, lastActivity, expiresAt time.Time) error
	Delete(ctx context.Context, sessionID string) error
	DeleteByTokenHash(ctx context.Context, tokenHash string) (bool, error)
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)
}
