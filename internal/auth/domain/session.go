package domain

import (
	"time"

	"github.com/aussiebroadwan/gatehouse/pkg/cryptox"
)

// Session is one issued login. TokenHash is the fingerprint of the opaque
// session token carried in the credential; the token itself is never stored.
type Session struct {
	ID         string // admin sessions only
	TokenHash  string
	DeviceID   string
	DeviceName string
	IPAddress  string
	UserAgent  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	LastSeenAt time.Time
	IsActive   bool
}

// Validate reports whether token and deviceID present this session at now.
// The token comparison is constant time.
func (s *Session) Validate(token, deviceID string, now time.Time) bool {
	if s == nil || !s.IsActive || s.TokenHash == "" {
		return false
	}
	if !cryptox.MatchesFingerprint(token, s.TokenHash) {
		return false
	}
	if s.DeviceID != deviceID {
		return false
	}
	return s.ExpiresAt.After(now)
}

// Live reports whether the session is active and unexpired at now.
func (s *Session) Live(now time.Time) bool {
	return s != nil && s.IsActive && s.ExpiresAt.After(now)
}
