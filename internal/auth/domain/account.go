package domain

import "time"

// Account is a student account. A student holds at most one current session;
// a new login replaces it.
type Account struct {
	ID                string
	MobileNumber      string // E.164
	FirstName         string
	LastName          string
	PasswordHash      string // argon2 encoded
	MobileVerified    bool
	MobileVerifiedAt  *time.Time
	IsActive          bool
	DeactivatedAt     *time.Time
	Lockout           LockoutState
	LastLoginAt       *time.Time
	LastLoginIP       string
	PasswordChangedAt *time.Time
	Session           *Session // nil when logged out
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
