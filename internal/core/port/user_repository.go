package port

import (
	"context"
	"time"

	"github.com/jjdj0315/localagent-gateway/internal/core/domain"
)

// UserRepository exposes persistence behavior for accounts. The gateway only
// reads credentials and records login activity; provisioning is out of scope.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}
