package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jjdj0315/localagent-gateway/internal/core/domain"
	"github.com/jjdj0315/localagent-gateway/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published",
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishSessionCreated logs gateway.session.created events.
func (p *StubPublisher) PublishSessionCreated(_ context.Context, event domain.SessionCreatedEvent) error {
	payload := map[string]any{
		"session_id": event.SessionID,
		"user_id":    event.UserID,
		"created_at": event.CreatedAt,
		"expires_at": event.ExpiresAt,
		"ip_address": event.IPAddress,
		"user_agent": event.UserAgent,
		"metadata":   event.Metadata,
	}
	p.logEvent("gateway.session.created", event.UserID, event.CreatedAt, payload)
	return nil
}

// PublishSessionEvicted logs gateway.session.evicted events.
func (p *StubPublisher) PublishSessionEvicted(_ context.Context, event domain.SessionEvictedEvent) error {
	payload := map[string]any{
		"session_id":      event.SessionID,
		"user_id":         event.UserID,
		"last_activity":   event.LastActivity,
		"evicted_at":      event.EvictedAt,
		"replaced_by":     event.ReplacedBy,
		"sessions_active": event.SessionsActive,
		"metadata":        event.Metadata,
	}
	p.logEvent("gateway.session.evicted", event.UserID, event.EvictedAt, payload)
	return nil
}

// PublishSessionRevoked logs gateway.session.revoked events.
func (p *StubPublisher) PublishSessionRevoked(_ context.Context, event domain.SessionRevokedEvent) error {
	payload := map[string]any{
		"session_id": event.SessionID,
		"user_id":    event.UserID,
		"revoked_at": event.RevokedAt,
		"revoked_by": event.RevokedBy,
		"reason":     event.Reason,
		"ip_address": event.IPAddress,
		"metadata":   event.Metadata,
	}
	p.logEvent("gateway.session.revoked", event.UserID, event.RevokedAt, payload)
	return nil
}

// PublishSessionsPurged logs gateway.session.purged events.
func (p *StubPublisher) PublishSessionsPurged(_ context.Context, event domain.SessionsPurgedEvent) error {
	payload := map[string]any{
		"purged":    event.Purged,
		"before":    event.Before,
		"purged_at": event.PurgedAt,
		"metadata":  event.Metadata,
	}
	p.logEvent("gateway.session.purged", "", event.PurgedAt, payload)
	return nil
}

// PublishAdmissionRejected logs gateway.admission.rejected events.
func (p *StubPublisher) PublishAdmissionRejected(_ context.Context, event domain.AdmissionRejectedEvent) error {
	payload := map[string]any{
		"class":       event.Class,
		"capacity":    event.Capacity,
		"path":        event.Path,
		"user_id":     event.UserID,
		"rejected_at": event.RejectedAt,
		"metadata":    event.Metadata,
	}
	p.logEvent("gateway.admission.rejected", event.UserID, event.RejectedAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
