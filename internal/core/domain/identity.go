package domain

import "time"

// UserRole enumerates the access levels the gateway distinguishes.
type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

// User mirrors the persisted representation in the users table.
// The gateway consumes accounts read-mostly; provisioning lives elsewhere.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	DisplayName  *string
	Role         UserRole
	Disabled     bool
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

// CanAuthenticate reports whether the account may start or keep a session.
func (u User) CanAuthenticate() bool {
	return !u.Disabled
}

// IsAdmin reports whether the account carries administrative privileges.
func (u User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}
