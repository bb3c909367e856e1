package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jjdj0315/localagent-gateway/internal/core/domain"
	"github.com/jjdj0315/localagent-gateway/internal/core/port"
	"github.com/jjdj0315/localagent-gateway/internal/infra/config"
	"github.com/jjdj0315/localagent-gateway/internal/infra/logger"
)

const schemaVersion = "1.0"

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	if requestID := logger.RequestIDFromContext(ctx); requestID != "" {
		metadata["request_id"] = requestID
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishSessionCreated publishes gateway.session.created events.
func (p *EventPublisher) PublishSessionCreated(ctx context.Context, event domain.SessionCreatedEvent) error {
	payload := struct {
		SessionID string         `json:"session_id"`
		UserID    string         `json:"user_id"`
		CreatedAt time.Time      `json:"created_at"`
		ExpiresAt time.Time      `json:"expires_at"`
		IPAddress *string        `json:"ip_address,omitempty"`
		UserAgent *string        `json:"user_agent,omitempty"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}{
		SessionID: event.SessionID,
		UserID:    event.UserID,
		CreatedAt: event.CreatedAt.UTC(),
		ExpiresAt: event.ExpiresAt.UTC(),
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
		Metadata:  event.Metadata,
	}

	return p.publish(ctx, event.EventID, "gateway.session.created", event.UserID, event.CreatedAt, payload)
}

// PublishSessionEvicted publishes gateway.session.evicted events.
func (p *EventPublisher) PublishSessionEvicted(ctx context.Context, event domain.SessionEvictedEvent) error {
	payload := struct {
		SessionID      string         `json:"session_id"`
		UserID         string         `json:"user_id"`
		LastActivity   time.Time      `json:"last_activity"`
		EvictedAt      time.Time      `json:"evicted_at"`
		ReplacedBy     string         `json:"replaced_by,omitempty"`
		SessionsActive int            `json:"sessions_active"`
		Metadata       map[string]any `json:"metadata,omitempty"`
	}{
		SessionID:      event.SessionID,
		UserID:         event.UserID,
		LastActivity:   event.LastActivity.UTC(),
		EvictedAt:      event.EvictedAt.UTC(),
		ReplacedBy:     event.ReplacedBy,
		SessionsActive: event.SessionsActive,
		Metadata:       event.Metadata,
	}

	return p.publish(ctx, event.EventID, "gateway.session.evicted", event.UserID, event.EvictedAt, payload)
}

// PublishSessionRevoked publishes gateway.session.revoked events.
func (p *EventPublisher) PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error {
	payload := struct {
		SessionID string         `json:"session_id"`
		UserID    string         `json:"user_id"`
		RevokedAt time.Time      `json:"revoked_at"`
		RevokedBy string         `json:"revoked_by"`
		Reason    string         `json:"reason"`
		IPAddress *string        `json:"ip_address,omitempty"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}{
		SessionID: event.SessionID,
		UserID:    event.UserID,
		RevokedAt: event.RevokedAt.UTC(),
		RevokedBy: event.RevokedBy,
		Reason:    event.Reason,
		IPAddress: event.IPAddress,
		Metadata:  event.Metadata,
	}

	return p.publish(ctx, event.EventID, "gateway.session.revoked", event.UserID, event.RevokedAt, payload)
}

// PublishSessionsPurged publishes gateway.session.purged events.
func (p *EventPublisher) PublishSessionsPurged(ctx context.Context, event domain.SessionsPurgedEvent) error {
	payload := struct {
		Purged   int            `json:"purged"`
		Before   time.Time      `json:"before"`
		PurgedAt time.Time      `json:"purged_at"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}{
		Purged:   event.Purged,
		Before:   event.Before.UTC(),
		PurgedAt: event.PurgedAt.UTC(),
		Metadata: event.Metadata,
	}

	// Purge sweeps are not tied to a single user, so the envelope carries no user_id.
	return p.publish(ctx, event.EventID, "gateway.session.purged", "", event.PurgedAt, payload)
}

// PublishAdmissionRejected publishes gateway.admission.rejected events.
func (p *EventPublisher) PublishAdmissionRejected(ctx context.Context, event domain.AdmissionRejectedEvent) error {
	payload := struct {
		Class      string         `json:"class"`
		Capacity   int            `json:"capacity"`
		Path       string         `json:"path,omitempty"`
		UserID     string         `json:"user_id,omitempty"`
		RejectedAt time.Time      `json:"rejected_at"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}{
		Class:      event.Class,
		Capacity:   event.Capacity,
		Path:       event.Path,
		UserID:     event.UserID,
		RejectedAt: event.RejectedAt.UTC(),
		Metadata:   event.Metadata,
	}

	return p.publish(ctx, event.EventID, "gateway.admission.rejected", event.UserID, event.RejectedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
