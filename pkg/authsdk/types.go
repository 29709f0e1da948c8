package authsdk

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Envelope
// ============================================================================

// envelope is the {success, message, data} body every endpoint returns.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ============================================================================
// Student Types
// ============================================================================

// RegisterRequest creates an unverified student account and sends a
// registration code to MobileNumber.
type RegisterRequest struct {
	// MobileNumber in E.164 form, e.g. +94771234567
	MobileNumber string `json:"mobileNumber"`

	// Password is 8-128 chars with a lower, upper, digit and one of @$!%*?&
	Password string `json:"password"`

	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// MobileRequest carries only a mobile number (resend, forgot-password).
type MobileRequest struct {
	MobileNumber string `json:"mobileNumber"`
}

// VerifyOTPRequest submits a code received by SMS.
type VerifyOTPRequest struct {
	MobileNumber string `json:"mobileNumber"`
	OTP          string `json:"otp"`
}

// LoginRequest starts a student session on DeviceID. Any session the
// student holds on another device is ended.
type LoginRequest struct {
	MobileNumber string `json:"mobileNumber"`
	Password     string `json:"password"`
	DeviceID     string `json:"deviceId"`
	DeviceName   string `json:"deviceName,omitempty"`
}

// ResetPasswordRequest completes a forgot-password flow.
type ResetPasswordRequest struct {
	MobileNumber string `json:"mobileNumber"`
	OTP          string `json:"otp"`
	NewPassword  string `json:"newPassword"`
}

// OTPResponse describes a code that was just issued.
type OTPResponse struct {
	MobileNumber string `json:"mobileNumber"`
	OTPSent      bool   `json:"otpSent"`

	// ExpiresIn is the code lifetime in seconds.
	ExpiresIn int `json:"expiresIn"`

	ResendCount      int `json:"resendCount"`
	MaxResends       int `json:"maxResends"`
	RemainingResends int `json:"remainingResends"`

	// ResendAvailableIn is the number of seconds until a resend is allowed.
	ResendAvailableIn int `json:"resendAvailableIn"`
}

// RegisterResponse is returned by a successful registration.
type RegisterResponse struct {
	User AccountView `json:"user"`
	OTP  OTPResponse `json:"otp"`
}

// AccountView is the public view of a student account.
type AccountView struct {
	ID             string     `json:"id"`
	MobileNumber   string     `json:"mobileNumber"`
	FirstName      string     `json:"firstName"`
	LastName       string     `json:"lastName"`
	MobileVerified bool       `json:"mobileVerified"`
	IsActive       bool       `json:"isActive"`
	LastLoginAt    *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// TokenView is an issued session credential.
type TokenView struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresIn   int       `json:"expiresIn"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// SessionInfo reports a session this login replaced.
type SessionInfo struct {
	PreviousSessionCleared bool   `json:"previousSessionCleared"`
	PreviousDevice         string `json:"previousDevice,omitempty"`
	Message                string `json:"message,omitempty"`
}

// LoginResponse is returned by a successful student login.
type LoginResponse struct {
	User        AccountView  `json:"user"`
	Tokens      TokenView    `json:"tokens"`
	DeviceID    string       `json:"deviceId"`
	LoginAt     time.Time    `json:"loginAt"`
	SessionInfo *SessionInfo `json:"sessionInfo,omitempty"`
}

// ResetPasswordResponse is returned once a new password is in place.
type ResetPasswordResponse struct {
	PasswordChangedAt time.Time `json:"passwordChangedAt"`
}

// ============================================================================
// Admin Types
// ============================================================================

// AdminSetupRequest creates the first super admin. SetupKey must match the
// server's bootstrap token.
type AdminSetupRequest struct {
	SetupKey  string `json:"setupKey"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// AdminLoginRequest starts an admin session. Identifier is a username or
// an email address.
type AdminLoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName,omitempty"`
}

// CreateAdminRequest adds a staff account.
type CreateAdminRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

// StatusRequest activates or deactivates an account.
type StatusRequest struct {
	IsActive *bool `json:"isActive"`
}

// AdminView is the public view of an admin account.
type AdminView struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	Role        string     `json:"role"`
	IsActive    bool       `json:"isActive"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedBy   *string    `json:"createdBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// AdminLoginResponse is returned by a successful admin login.
type AdminLoginResponse struct {
	Admin       AdminView    `json:"admin"`
	Tokens      TokenView    `json:"tokens"`
	SessionID   string       `json:"sessionId"`
	DeviceID    string       `json:"deviceId"`
	LoginAt     time.Time    `json:"loginAt"`
	SessionInfo *SessionInfo `json:"sessionInfo,omitempty"`
}

// AdminSessionView is one of an admin's sessions.
type AdminSessionView struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"deviceId"`
	DeviceName string    `json:"deviceName,omitempty"`
	IPAddress  string    `json:"ipAddress,omitempty"`
	UserAgent  string    `json:"userAgent,omitempty"`
	IssuedAt   time.Time `json:"issuedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	IsActive   bool      `json:"isActive"`
	Current    bool      `json:"current"`
}

// ResetAdminPasswordResponse carries the generated password. It is shown
// once and never stored in clear.
type ResetAdminPasswordResponse struct {
	AdminID           string `json:"adminId"`
	TemporaryPassword string `json:"temporaryPassword"`
}

// OTPPurposeStats are challenge counts for one purpose.
type OTPPurposeStats struct {
	Purpose     string  `json:"purpose"`
	Total       int64   `json:"total"`
	Used        int64   `json:"used"`
	Expired     int64   `json:"expired"`
	Resends     int64   `json:"resends"`
	AvgAttempts float64 `json:"avgAttempts"`
}

// OTPStatsResponse summarises challenges over the last WindowHours.
type OTPStatsResponse struct {
	WindowHours int               `json:"windowHours"`
	Stats       []OTPPurposeStats `json:"stats"`
}

// LimiterStats describes one rate limiter's counter store.
type LimiterStats struct {
	Name               string    `json:"name"`
	Size               int       `json:"size"`
	MaxEntries         int       `json:"max_entries"`
	OldestExpiry       time.Time `json:"oldest_expiry,omitzero"`
	NewestExpiry       time.Time `json:"newest_expiry,omitzero"`
	Swept              uint64    `json:"swept"`
	EmergencyEvictions uint64    `json:"emergency_evictions"`
	Evicted            uint64    `json:"evicted"`
}

// ============================================================================
// Operational Types
// ============================================================================

// DeliveryReceipt is posted by the SMS provider when a message changes state.
type DeliveryReceipt struct {
	ChallengeID string `json:"challengeId"`
	Status      string `json:"status"`
	Provider    string `json:"provider"`
	MessageID   string `json:"messageId"`
}

// HealthResponse represents the response from health check endpoints.
type HealthResponse struct {
	// Status is the overall health status ("ok" or "degraded")
	Status string `json:"status"`

	// Uptime is the duration the service has been running
	Uptime string `json:"uptime"`

	// Version is the build version of the service
	Version string `json:"version"`

	// Checks contains individual component health checks (only present in readiness checks)
	Checks *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks contains the status of individual service components.
type HealthChecks struct {
	// Database is the primary store status ("ok" or "error: ...")
	Database string `json:"database"`

	// Challenges is the challenge store status when it is not the database
	Challenges string `json:"challenges,omitempty"`
}
