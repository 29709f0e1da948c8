package service

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	mobilePattern   = regexp.MustCompile(`^\+[1-9]\d{1,14}$`) // E.164
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

const passwordSpecials = "@$!%*?&"

// ValidationError names the request field that failed. It matches
// ErrInvalidRequest.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func validateMobile(mobile string) error {
	if !mobilePattern.MatchString(mobile) {
		return invalid("mobileNumber", "must be in E.164 format")
	}
	return nil
}

// validatePassword requires 8-128 characters drawn from letters, digits and
// @$!%*?&, with at least one of each class.
func validatePassword(field, pw string) error {
	if len(pw) < 8 || len(pw) > 128 {
		return invalid(field, "must be 8-128 characters")
	}
	var lower, upper, digit, special bool
	for _, r := range pw {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		default:
			return invalid(field, "contains an unsupported character")
		}
	}
	if !lower || !upper || !digit || !special {
		return invalid(field, "needs an upper and lower case letter, a digit and one of "+passwordSpecials)
	}
	return nil
}

func validateName(field, v string) error {
	v = strings.TrimSpace(v)
	if v == "" || len(v) > 50 {
		return invalid(field, "must be 1-50 characters")
	}
	return nil
}
