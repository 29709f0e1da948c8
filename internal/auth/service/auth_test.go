package service

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatehouse/internal/auth/domain"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	req := RegisterRequest{Mobile: testMobile, Password: testPassword, FirstName: "Nimal", LastName: "Perera"}
	res, err := h.auth.Register(ctx, req)
	require.NoError(t, err)
	require.False(t, res.Account.MobileVerified)
	require.True(t, res.Challenge.Delivered)
	require.Equal(t, 1, h.sender.count())
	require.Contains(t, h.sender.sent[0].Body, h.codes.Last())

	t.Run("duplicate mobile", func(t *testing.T) {
		_, err := h.auth.Register(ctx, req)
		require.ErrorIs(t, err, ErrMobileTaken)
	})

	t.Run("validation", func(t *testing.T) {
		bad := req
		bad.Mobile = "0771234567"
		bad.Password = "weakpass"
		_, err := h.auth.Register(ctx, bad)
		require.ErrorIs(t, err, ErrInvalidRequest)

		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		require.Equal(t, "mobileNumber", ve.Field)
		require.Contains(t, err.Error(), "password")
	})

	t.Run("login before verification", func(t *testing.T) {
		_, err := h.auth.Login(ctx, LoginRequest{Mobile: testMobile, Password: testPassword, Device: device("d1")})
		require.ErrorIs(t, err, ErrNotVerified)
	})

	t.Run("resend", func(t *testing.T) {
		r, err := h.auth.ResendRegistration(ctx, testMobile, "", "")
		require.NoError(t, err)
		require.Equal(t, 1, r.ResendCount)

		_, err = h.auth.ResendRegistration(ctx, "+15550000000", "", "")
		require.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("verify exactly once", func(t *testing.T) {
		_, err := h.auth.VerifyRegistration(ctx, testMobile, "000000", "", "")
		require.ErrorIs(t, err, ErrChallengeInvalidCode)

		acct, err := h.auth.VerifyRegistration(ctx, testMobile, h.codes.Last(), "", "")
		require.NoError(t, err)
		require.True(t, acct.MobileVerified)
		require.NotNil(t, acct.MobileVerifiedAt)

		_, err = h.auth.VerifyRegistration(ctx, testMobile, h.codes.Last(), "", "")
		require.ErrorIs(t, err, ErrAlreadyVerified)
		_, err = h.auth.ResendRegistration(ctx, testMobile, "", "")
		require.ErrorIs(t, err, ErrAlreadyVerified)
	})
}

func TestLoginLockout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	acct := h.verifiedStudent(t, testMobile)

	login := func(pw string) error {
		_, err := h.auth.Login(ctx, LoginRequest{Mobile: testMobile, Password: pw, Device: device("d1")})
		return err
	}
	failures := func() domain.LockoutState {
		a, err := h.store.Accounts().GetByID(ctx, acct.ID)
		require.NoError(t, err)
		return a.Lockout
	}

	t.Run("unknown mobile", func(t *testing.T) {
		_, err := h.auth.Login(ctx, LoginRequest{Mobile: "+15550000000", Password: testPassword, Device: device("d1")})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("success resets the counter", func(t *testing.T) {
		require.ErrorIs(t, login("Wrong@123"), ErrInvalidCredentials)
		require.ErrorIs(t, login("Wrong@123"), ErrInvalidCredentials)
		require.Equal(t, 2, failures().FailedAttempts)

		require.NoError(t, login(testPassword))
		require.Equal(t, domain.LockoutState{}, failures())
	})

	t.Run("locks at the threshold", func(t *testing.T) {
		for range domain.DefaultLockoutPolicy.MaxAttempts {
			require.ErrorIs(t, login("Wrong@123"), ErrInvalidCredentials)
		}
		st := failures()
		require.Equal(t, 5, st.FailedAttempts)
		require.NotNil(t, st.LockedUntil)
		require.True(t, h.clock.Now().Add(5*time.Minute).Equal(*st.LockedUntil))

		// Locked: even the right password is refused.
		err := login(testPassword)
		var le *LockedError
		require.ErrorAs(t, err, &le)
		require.ErrorIs(t, err, ErrAccountLocked)
		require.True(t, st.LockedUntil.Equal(le.Until))
	})

	t.Run("restarts at one after the lock", func(t *testing.T) {
		h.clock.Advance(5*time.Minute + time.Second)
		require.ErrorIs(t, login("Wrong@123"), ErrInvalidCredentials)

		st := failures()
		require.Equal(t, 1, st.FailedAttempts)
		require.Nil(t, st.LockedUntil)

		require.NoError(t, login(testPassword))
		require.Zero(t, failures().FailedAttempts)
	})

	t.Run("inactive account", func(t *testing.T) {
		require.NoError(t, h.store.Accounts().SetActive(ctx, acct.ID, false, h.clock.Now()))
		require.ErrorIs(t, login(testPassword), ErrAccountInactive)
	})
}

func TestPasswordReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	acct := h.verifiedStudent(t, testMobile)

	res, err := h.auth.Login(ctx, LoginRequest{Mobile: testMobile, Password: testPassword, Device: device("d1")})
	require.NoError(t, err)

	t.Run("unverified account", func(t *testing.T) {
		_, err := h.auth.Register(ctx, RegisterRequest{
			Mobile: "+94770000000", Password: testPassword, FirstName: "A", LastName: "B",
		})
		require.NoError(t, err)
		_, err = h.auth.ForgotPassword(ctx, "+94770000000", "", "")
		require.ErrorIs(t, err, ErrNotVerified)
	})

	_, err = h.auth.ForgotPassword(ctx, testMobile, "", "")
	require.NoError(t, err)
	h.clock.Advance(10 * time.Second)
	_, err = h.auth.ResendForgotPassword(ctx, testMobile, "", "")
	require.NoError(t, err)
	code := h.codes.Last()

	t.Run("weak password", func(t *testing.T) {
		_, err := h.auth.ResetPassword(ctx, ResetPasswordRequest{Mobile: testMobile, Code: code, NewPassword: "short"})
		require.ErrorIs(t, err, ErrInvalidRequest)
	})

	changedAt, err := h.auth.ResetPassword(ctx, ResetPasswordRequest{Mobile: testMobile, Code: code, NewPassword: "Changed&99"})
	require.NoError(t, err)
	require.True(t, h.clock.Now().Equal(changedAt))

	_, err = h.sessions.ValidateStudent(ctx, res.Session.Token)
	require.ErrorIs(t, err, ErrSessionInvalid)

	_, err = h.auth.Login(ctx, LoginRequest{Mobile: testMobile, Password: testPassword, Device: device("d1")})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = h.auth.Login(ctx, LoginRequest{Mobile: testMobile, Password: "Changed&99", Device: device("d1")})
	require.NoError(t, err)

	// The code was consumed.
	_, err = h.auth.ResetPassword(ctx, ResetPasswordRequest{Mobile: testMobile, Code: code, NewPassword: "Another@77"})
	require.ErrorIs(t, err, ErrChallengeInvalidOrExpired)

	profile, err := h.auth.Profile(ctx, acct.ID)
	require.NoError(t, err)
	require.NotNil(t, profile.PasswordChangedAt)
}
