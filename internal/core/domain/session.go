package domain

import "time"

// Session represents a persisted login session addressed by an opaque bearer token.
// The raw token is returned to the client exactly once at creation; only its hash
// is stored at rest.
type Session struct {
	ID           string
	UserID       string
	TokenHash    string
	IP           *string
	UserAgent    *string
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
}

// IsExpired reports whether the session has passed its expiry at the supplied moment.
func (s Session) IsExpired(at time.Time) bool {
	return !s.ExpiresAt.After(at)
}

// Refresh slides the expiry window forward and records the activity timestamp.
// Every successful validation extends the session by the full timeout.
func (s *Session) Refresh(at time.Time, timeout time.Duration) {
	s.LastActivity = at
	s.ExpiresAt = at.Add(timeout)
}

// Touch updates last-seen metadata for the session when activity occurs.
func (s *Session) Touch(at time.Time, ip, userAgent *string) {
	s.LastActivity = at
	if ip != nil {
		ipCopy := *ip
		s.IP = &ipCopy
	}
	if userAgent != nil {
		uaCopy := *userAgent
		s.UserAgent = &uaCopy
	}
}
