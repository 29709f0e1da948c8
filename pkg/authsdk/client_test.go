package authsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLoginAndProfile(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "+94771234567", req.MobileNumber)

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Login successful",
			"data": LoginResponse{
				User:     AccountView{ID: "acct-1", MobileNumber: req.MobileNumber},
				Tokens:   TokenView{AccessToken: "tok-1", TokenType: "Bearer", ExpiresIn: 60},
				DeviceID: req.DeviceID,
				SessionInfo: &SessionInfo{
					PreviousSessionCleared: true,
					PreviousDevice:         "phone-0",
				},
			},
		})
	})
	mux.HandleFunc("GET /v1/auth/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid session. Please login again."})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    AccountView{ID: "acct-1", FirstName: "Nimal"},
		})
	})
	mux.HandleFunc("POST /v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logout successful"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewSDKClient(srv.URL + "/")
	ctx := context.Background()

	sess, resp, err := client.Login(ctx, LoginRequest{
		MobileNumber: "+94771234567",
		Password:     "Secret@123",
		DeviceID:     "phone-1",
	})
	require.NoError(t, err)
	require.Equal(t, "phone-1", sess.DeviceID())
	require.Equal(t, "tok-1", sess.AccessToken())
	require.NotNil(t, resp.SessionInfo)
	require.Equal(t, "phone-0", resp.SessionInfo.PreviousDevice)

	profile, err := sess.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, "Nimal", profile.FirstName)

	require.NoError(t, sess.Logout(ctx))
	require.Empty(t, sess.AccessToken())

	_, err = sess.Profile(ctx)
	require.Error(t, err)
}

func TestAPIErrors(t *testing.T) {
	t.Parallel()

	lockedUntil := time.Date(2025, 3, 1, 9, 5, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/verify-registration", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success":           false,
			"message":           "Invalid OTP",
			"attemptsRemaining": 2,
		})
	})
	mux.HandleFunc("POST /v1/auth/resend-registration-otp", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"success": false,
			"message": "Please wait before requesting another OTP",
			"data": map[string]any{
				"reason":         "cooldown",
				"maxResends":     3,
				"currentResends": 1,
				"remainingTime":  42,
			},
		})
	})
	mux.HandleFunc("POST /v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusLocked, map[string]any{
			"success":     false,
			"message":     "Account is temporarily locked",
			"lockedUntil": lockedUntil,
		})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not json"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewSDKClient(srv.URL)
	ctx := context.Background()

	t.Run("invalid code carries attempts", func(t *testing.T) {
		_, err := client.VerifyRegistration(ctx, "+94771234567", "000000")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		require.NotNil(t, apiErr.AttemptsRemaining)
		require.Equal(t, 2, *apiErr.AttemptsRemaining)
	})

	t.Run("resend limit detail", func(t *testing.T) {
		_, err := client.ResendRegistrationOTP(ctx, "+94771234567")
		require.True(t, IsStatus(err, http.StatusTooManyRequests))

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		rl, ok := apiErr.ResendLimit()
		require.True(t, ok)
		require.Equal(t, ResendLimit{Reason: "cooldown", MaxResends: 3, CurrentResends: 1, RemainingTime: 42}, rl)
	})

	t.Run("locked", func(t *testing.T) {
		_, _, err := client.Login(ctx, LoginRequest{MobileNumber: "+94771234567", Password: "x", DeviceID: "d"})
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		require.Equal(t, http.StatusLocked, apiErr.StatusCode)
		require.NotNil(t, apiErr.LockedUntil)
		require.True(t, lockedUntil.Equal(*apiErr.LockedUntil))
	})

	t.Run("non json failure", func(t *testing.T) {
		_, err := client.GetReadiness(ctx)
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		require.Equal(t, http.StatusText(http.StatusServiceUnavailable), apiErr.Message)
	})
}
