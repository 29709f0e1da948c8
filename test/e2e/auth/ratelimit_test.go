//go:build e2e

package auth_test

import (
	"net/http"
	"testing"

	"github.com/aussiebroadwan/gatehouse/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestRateLimitLogin verifies the login limiter with the production table:
// five failures per mobile number in 15 minutes, then 429.
func TestRateLimitLogin(t *testing.T) {
	s := setupService(t, nil)
	ctx := t.Context()

	s.registerStudent(t, studentMobile)

	wrong := authsdk.LoginRequest{MobileNumber: studentMobile, Password: "Wrong@123", DeviceID: "phone"}
	for range 5 {
		_, _, err := s.client.Login(ctx, wrong)
		requireStatus(t, err, http.StatusUnauthorized, "Failure before the limit")
	}

	_, _, err := s.client.Login(ctx, wrong)
	apiErr := requireStatus(t, err, http.StatusTooManyRequests, "Sixth failure")
	require.Positive(t, apiErr.RetryAfter)

	// Another number from the same address is counted separately.
	_, _, err = s.client.Login(ctx, authsdk.LoginRequest{
		MobileNumber: "+94770000000",
		Password:     "Wrong@123",
		DeviceID:     "phone",
	})
	requireStatus(t, err, http.StatusUnauthorized, "Separate key")
}

// TestRateLimitOTP verifies three OTP requests per minute per number,
// whatever their outcome.
func TestRateLimitOTP(t *testing.T) {
	s := setupService(t, nil)
	ctx := t.Context()

	const mobile = "+94779999999"
	for range 3 {
		_, err := s.client.ResendRegistrationOTP(ctx, mobile)
		requireStatus(t, err, http.StatusNotFound, "Unknown number before the limit")
	}

	_, err := s.client.ResendRegistrationOTP(ctx, mobile)
	apiErr := requireStatus(t, err, http.StatusTooManyRequests, "Fourth OTP request")
	require.Positive(t, apiErr.RetryAfter)
}

// TestRateLimitStats verifies every limiter reports its counter store.
func TestRateLimitStats(t *testing.T) {
	s := setupService(t, relaxedLimits)

	root := s.bootstrapAdmin(t, "laptop")
	stats, err := root.RateLimitStats(t.Context())
	require.NoError(t, err)
	require.Len(t, stats, 7)
}
