package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatehouse/internal/auth/service"
	"github.com/stretchr/testify/require"
)

func TestWriteServiceError(t *testing.T) {
	t.Parallel()

	until := time.Date(2025, 3, 1, 9, 5, 0, 0, time.UTC)
	tests := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"invalid code", &service.InvalidCodeError{Remaining: 2}, http.StatusBadRequest, "Invalid OTP"},
		{"exhausted", service.ErrChallengeAttemptsExhausted, http.StatusBadRequest,
			"Maximum OTP verification attempts exceeded. Please request a new OTP."},
		{"expired", service.ErrChallengeInvalidOrExpired, http.StatusBadRequest,
			"Invalid or expired OTP. Please request a new OTP."},
		{"cooldown", &service.CooldownError{Remaining: 42 * time.Second, ResendCount: 1, MaxResends: 3},
			http.StatusTooManyRequests, "Please wait before requesting another OTP"},
		{"sms throttle", service.ErrRateLimited, http.StatusTooManyRequests,
			"Too many SMS requests, please try again later."},
		{"locked", &service.LockedError{Until: until}, http.StatusLocked,
			"Account is temporarily locked due to too many failed login attempts"},
		{"credentials", service.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid credentials"},
		{"not verified", service.ErrNotVerified, http.StatusForbidden, "Please verify your mobile number first"},
		{"forbidden", service.ErrForbidden, http.StatusForbidden, "Insufficient permissions"},
		{"not found", service.ErrAccountNotFound, http.StatusNotFound, "Account not found"},
		{"taken", fmt.Errorf("register: %w", service.ErrMobileTaken), http.StatusConflict,
			"User with this mobile number already exists"},
		{"bare invalid", service.ErrInvalidRequest, http.StatusBadRequest, "Invalid request"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "Something failed"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			writeServiceError(rec, req, tc.err, "Something failed")

			require.Equal(t, tc.code, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, false, body["success"])
			require.Equal(t, tc.msg, body["message"])
		})
	}
}

func TestWriteServiceErrorDetails(t *testing.T) {
	t.Parallel()

	decode := func(t *testing.T, err error) map[string]any {
		t.Helper()
		rec := httptest.NewRecorder()
		writeServiceError(rec, httptest.NewRequest(http.MethodPost, "/", nil), err, "failed")
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body
	}

	t.Run("attempts remaining", func(t *testing.T) {
		body := decode(t, &service.InvalidCodeError{Remaining: 1})
		require.EqualValues(t, 1, body["attemptsRemaining"])
	})

	t.Run("cooldown rounds up", func(t *testing.T) {
		body := decode(t, &service.CooldownError{Remaining: 1500 * time.Millisecond, ResendCount: 2, MaxResends: 3})
		data := body["data"].(map[string]any)
		require.Equal(t, "cooldown", data["reason"])
		require.EqualValues(t, 2, data["remainingTime"])
		require.EqualValues(t, 2, data["currentResends"])
	})

	t.Run("resends exhausted", func(t *testing.T) {
		body := decode(t, &service.ResendExhaustedError{ResendCount: 3, MaxResends: 3})
		data := body["data"].(map[string]any)
		require.Equal(t, "max_resends", data["reason"])
		require.EqualValues(t, 0, data["remainingTime"])
	})

	t.Run("locked until", func(t *testing.T) {
		until := time.Date(2025, 3, 1, 9, 5, 0, 0, time.UTC)
		body := decode(t, &service.LockedError{Until: until})
		require.Equal(t, until.Format(time.RFC3339), body["lockedUntil"])
	})

	t.Run("field errors", func(t *testing.T) {
		err := fmt.Errorf("register: %w", errors.Join(
			&service.ValidationError{Field: "mobileNumber", Reason: "must be E.164"},
			&service.ValidationError{Field: "password", Reason: "too short"},
			&service.ValidationError{Field: "password", Reason: "needs a digit"},
		))
		body := decode(t, err)
		require.Equal(t, "Validation failed", body["message"])
		require.Equal(t, map[string]any{
			"mobileNumber": "must be E.164",
			"password":     "too short",
		}, body["errors"])
	})
}
