package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default session lifetimes. Services override these from config.
const (
	DefaultSessionTTL      = 24 * time.Hour
	DefaultAdminSessionTTL = 8 * time.Hour
)

// Principal kinds carried in the "typ" claim.
const (
	KindStudent = "student"
	KindAdmin   = "admin"
)

// Claims are the session credential claims. The JWT only proves the token
// was issued here; the session record it points at decides whether it is
// still live.
type Claims struct {
	jwt.RegisteredClaims

	// Opaque session token. Only its fingerprint is stored server side.
	SID string `json:"sid"`

	// Device the session was issued to.
	DeviceID string `json:"did"`

	// Principal kind, "student" or "admin".
	Kind string `json:"typ"`

	// Admin session id, empty for students.
	AdminSessionID string `json:"asid,omitempty"`

	Role string `json:"role,omitempty"`
}

// NewSessionClaims builds minimally-correct claims.
func NewSessionClaims(
	subject, kind, role, sid, deviceID, adminSessionID string,
	ttl time.Duration,
	issuer string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{kind},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		SID:            sid,
		DeviceID:       deviceID,
		Kind:           kind,
		AdminSessionID: adminSessionID,
		Role:           role,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuer
	}

	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}

	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}

	return ErrAudience
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't before nbf.
func (c *Claims) ValidateExpiry() error {
	return c.ValidateExpiryAt(time.Now().UTC())
}

// ValidateExpiryAt is ValidateExpiry against an explicit instant.
func (c *Claims) ValidateExpiryAt(now time.Time) error {
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Time) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}

	return nil
}
