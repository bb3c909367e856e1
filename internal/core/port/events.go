package port

import (
	"context"

	"github.com/jjdj0315/localagent-gateway/internal/core/domain"
)

// EventPublisher publishes session lifecycle and admission audit events to the
// message bus.
type EventPublisher interface {
	PublishSessionCreated(ctx context.Context, event domain.SessionCreatedEvent) error
	PublishSessionEvicted(ctx context.Context, event domain.SessionEvictedEvent) error
	PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error
	PublishSessionsPurged(ctx context.Context, event domain.SessionsPurgedEvent) error
	PublishAdmissionRejected(ctx context.Context, event domain.AdmissionRejectedEvent) error
}
