package domain

import "time"

// SessionCreatedEvent represents the payload for gateway.session.created messages.
type SessionCreatedEvent struct {
	EventID   string
	SessionID string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	IPAddress *string
	UserAgent *string
	Metadata  map[string]any
}

// SessionEvictedEvent represents the payload for gateway.session.evicted messages.
// Emitted when creating a session pushed the owner past the per-user cap and the
// stalest session was removed to make room.
type SessionEvictedEvent struct {
	EventID        string
	SessionID      string
	UserID         string
	LastActivity   time.Time
	EvictedAt      time.Time
	ReplacedBy     string
	SessionsActive int
	Metadata       map[string]any
}

// SessionRevokedEvent represents the payload for gateway.session.revoked messages.
type SessionRevokedEvent struct {
	EventID   string
	SessionID string
	UserID    string
	RevokedAt time.Time
	RevokedBy string
	Reason    string
	IPAddress *string
	Metadata  map[string]any
}

// SessionsPurgedEvent represents the payload for gateway.session.purged messages,
// emitted by the background sweep that removes expired rows in bulk.
type SessionsPurgedEvent struct {
	EventID  string
	Purged   int
	Before   time.Time
	PurgedAt time.Time
	Metadata map[string]any
}

// AdmissionRejectedEvent represents the payload for gateway.admission.rejected
// messages, emitted when a concurrency class sheds a request at capacity.
type AdmissionRejectedEvent struct {
	EventID    string
	Class      string
	Capacity   int
	Path       string
	UserID     string
	RejectedAt time.Time
	Metadata   map[string]any
}
