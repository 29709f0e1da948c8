package domain

import (
	"slices"
	"time"
)

// Purpose is what a challenge unlocks. Challenges for different purposes on
// the same mobile number never interact.
type Purpose string

const (
	PurposeRegistration            Purpose = "registration"
	PurposeLogin                   Purpose = "login"
	PurposePasswordReset           Purpose = "password_reset"
	PurposeMobileVerification      Purpose = "mobile_verification"
	PurposeTransactionVerification Purpose = "transaction_verification"
)

var Purposes = []Purpose{
	PurposeRegistration,
	PurposeLogin,
	PurposePasswordReset,
	PurposeMobileVerification,
	PurposeTransactionVerification,
}

func (p Purpose) Valid() bool { return slices.Contains(Purposes, p) }

// DeliveryStatus tracks the SMS carrying a challenge code. It is informational
// and never affects verification.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryPending, DeliverySent, DeliveryDelivered, DeliveryFailed:
		return true
	}
	return false
}

// ChallengeState is derived from a challenge's fields, never stored.
type ChallengeState string

const (
	ChallengePending    ChallengeState = "pending"
	ChallengeVerified   ChallengeState = "verified"
	ChallengeSuperseded ChallengeState = "superseded"
	ChallengeExpired    ChallengeState = "expired"
)

// Attempt is one code comparison against a challenge.
type Attempt struct {
	AttemptedAt time.Time `json:"attemptedAt"`
	IPAddress   string    `json:"ipAddress,omitempty"`
	UserAgent   string    `json:"userAgent,omitempty"`
	Success     bool      `json:"success"`
}

// Challenge is a one-time code sent to a mobile number. Only the bcrypt hash
// of the code is kept.
type Challenge struct {
	ID             string
	MobileNumber   string
	Purpose        Purpose
	CodeHash       string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Attempts       int
	MaxAttempts    int
	ResendCount    int
	MaxResends     int
	LastResendAt   *time.Time
	ResendCooldown time.Duration
	IsUsed         bool
	UsedAt         *time.Time

	DeliveryStatus   DeliveryStatus
	DeliveryAttempts int
	SMSProvider      string
	SMSMessageID     string

	IPAddress string
	UserAgent string
	Log       []Attempt

	// Version guards read-modify-write cycles against concurrent writers.
	Version int64
}

func (c *Challenge) Expired(now time.Time) bool { return now.After(c.ExpiresAt) }

func (c *Challenge) AttemptsExhausted() bool { return c.Attempts >= c.MaxAttempts }

func (c *Challenge) ResendsExhausted() bool { return c.ResendCount >= c.MaxResends }

func (c *Challenge) AttemptsRemaining() int { return max(c.MaxAttempts-c.Attempts, 0) }

// CooldownRemaining is how long until a resend is allowed. Zero means now.
func (c *Challenge) CooldownRemaining(now time.Time) time.Duration {
	if c.LastResendAt == nil {
		return 0
	}
	return max(c.LastResendAt.Add(c.ResendCooldown).Sub(now), 0)
}

// State derives the lifecycle state at now.
func (c *Challenge) State(now time.Time) ChallengeState {
	switch {
	case c.IsUsed && c.verified():
		return ChallengeVerified
	case c.IsUsed:
		return ChallengeSuperseded
	case c.Expired(now):
		return ChallengeExpired
	default:
		return ChallengePending
	}
}

func (c *Challenge) verified() bool {
	return slices.ContainsFunc(c.Log, func(a Attempt) bool { return a.Success })
}

// RecordAttempt appends an attempt and applies its outcome.
func (c *Challenge) RecordAttempt(a Attempt) {
	c.Log = append(c.Log, a)
	if a.Success {
		c.IsUsed = true
		at := a.AttemptedAt
		c.UsedAt = &at
		return
	}
	c.Attempts++
}

// Reissue swaps in a new code for a resend.
func (c *Challenge) Reissue(codeHash string, now time.Time, expiry time.Duration) {
	c.CodeHash = codeHash
	c.ExpiresAt = now.Add(expiry)
	c.Attempts = 0
	c.ResendCount++
	c.LastResendAt = &now
	c.DeliveryStatus = DeliveryPending
}

// PurposeStats are challenge counts for one purpose over a period.
type PurposeStats struct {
	Purpose     Purpose `json:"purpose"`
	Total       int64   `json:"total"`
	Used        int64   `json:"used"`
	Expired     int64   `json:"expired"`
	Resends     int64   `json:"resends"`
	AvgAttempts float64 `json:"avgAttempts"`
}
