package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrRateLimited = errors.New("rate_limited")

	ErrChallengeInvalidOrExpired  = errors.New("challenge invalid or expired")
	ErrChallengeAttemptsExhausted = errors.New("challenge attempts exhausted")
	ErrChallengeInvalidCode       = errors.New("invalid challenge code")
	ErrResendCooldownActive       = errors.New("resend cooldown active")
	ErrResendExhausted            = errors.New("maximum resend attempts exceeded")

	ErrAccountLocked      = errors.New("account locked")
	ErrSessionInvalid     = errors.New("session invalid")
	ErrInvalidCredentials = errors.New("invalid_credentials")

	ErrInvalidRequest      = errors.New("invalid_request")
	ErrAccountNotFound     = errors.New("account not found")
	ErrMobileTaken         = errors.New("mobile number already registered")
	ErrNotVerified         = errors.New("mobile number not verified")
	ErrAlreadyVerified     = errors.New("mobile number already verified")
	ErrAccountInactive     = errors.New("account deactivated")
	ErrForbidden           = errors.New("forbidden")
	ErrAlreadyBootstrapped = errors.New("system already bootstrapped")
	ErrAdminTaken          = errors.New("username or email already taken")
)

// InvalidCodeError is a wrong code with attempts left to report. The attempt
// that uses up the last one also matches ErrChallengeAttemptsExhausted.
type InvalidCodeError struct {
	Remaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("%s: %d attempts remaining", ErrChallengeInvalidCode, e.Remaining)
}

func (e *InvalidCodeError) Is(target error) bool {
	switch target {
	case ErrChallengeInvalidCode:
		return true
	case ErrChallengeAttemptsExhausted:
		return e.Remaining == 0
	}
	return false
}

// CooldownError carries how long until a resend is allowed.
type CooldownError struct {
	Remaining   time.Duration
	ResendCount int
	MaxResends  int
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: retry in %s", ErrResendCooldownActive, e.Remaining)
}

func (e *CooldownError) Unwrap() error { return ErrResendCooldownActive }

// ResendExhaustedError is a resend refused because the challenge has used
// all of its resends.
type ResendExhaustedError struct {
	ResendCount int
	MaxResends  int
}

func (e *ResendExhaustedError) Error() string {
	return fmt.Sprintf("%s (%d/%d)", ErrResendExhausted, e.ResendCount, e.MaxResends)
}

func (e *ResendExhaustedError) Unwrap() error { return ErrResendExhausted }

// LockedError carries when a lock ends.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s until %s", ErrAccountLocked, e.Until.Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }
