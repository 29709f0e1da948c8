package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// APIError is a {success:false} response from the service.
type APIError struct {
	// StatusCode is the HTTP status code of the response
	StatusCode int `json:"-"`

	// Message is the human-readable failure reason
	Message string `json:"message"`

	// Errors holds per-field validation failures
	Errors map[string]string `json:"errors,omitempty"`

	// AttemptsRemaining is set when a code was wrong but the challenge is
	// still usable.
	AttemptsRemaining *int `json:"attemptsRemaining,omitempty"`

	// RetryAfter is set on rate limited responses, in the limiter's unit.
	RetryAfter int `json:"retryAfter,omitempty"`

	// LockedUntil is set when the account is locked.
	LockedUntil *time.Time `json:"lockedUntil,omitempty"`

	// Data carries endpoint specific detail, such as resend limits.
	Data json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// ResendLimit is the detail attached to a refused resend.
type ResendLimit struct {
	Reason         string `json:"reason"`
	MaxResends     int    `json:"maxResends"`
	CurrentResends int    `json:"currentResends"`

	// RemainingTime is the number of seconds until a resend is allowed.
	RemainingTime int `json:"remainingTime"`
}

// ResendLimit decodes the resend detail of a 429 from a resend endpoint.
func (e *APIError) ResendLimit() (ResendLimit, bool) {
	var rl ResendLimit
	if len(e.Data) == 0 || json.Unmarshal(e.Data, &rl) != nil || rl.Reason == "" {
		return ResendLimit{}, false
	}
	return rl, true
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// parseErrorResponse turns a non-2xx response into an *APIError.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
