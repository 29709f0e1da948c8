package service

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatehouse/internal/auth/domain"
	"github.com/aussiebroadwan/gatehouse/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestStudentSingleSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	acct := h.verifiedStudent(t, testMobile)

	login := func(dev string) *IssuedSession {
		t.Helper()
		res, err := h.auth.Login(ctx, LoginRequest{Mobile: testMobile, Password: testPassword, Device: device(dev)})
		require.NoError(t, err)
		return res.Session
	}

	a := login("device-a")
	require.False(t, a.PreviousCleared)

	p, err := h.sessions.ValidateStudent(ctx, a.Token)
	require.NoError(t, err)
	require.Equal(t, acct.ID, p.ID)
	require.Equal(t, "device-a", p.DeviceID)
	require.Equal(t, jwtx.KindStudent, p.Kind)

	h.clock.Advance(time.Minute)
	b := login("device-b")
	require.True(t, b.PreviousCleared)
	require.Equal(t, "device-a", b.PreviousDeviceID)

	t.Run("device a is revoked", func(t *testing.T) {
		_, err := h.sessions.ValidateStudent(ctx, a.Token)
		require.ErrorIs(t, err, ErrSessionInvalid)
	})

	t.Run("device b is live", func(t *testing.T) {
		p, err := h.sessions.ValidateStudent(ctx, b.Token)
		require.NoError(t, err)
		require.Equal(t, "device-b", p.DeviceID)
	})

	t.Run("same device again replaces too", func(t *testing.T) {
		b2 := login("device-b")
		require.True(t, b2.PreviousCleared)
		_, err := h.sessions.ValidateStudent(ctx, b.Token)
		require.ErrorIs(t, err, ErrSessionInvalid)
		_, err = h.sessions.ValidateStudent(ctx, b2.Token)
		require.NoError(t, err)

		require.NoError(t, h.auth.Logout(ctx, acct.ID))
		_, err = h.sessions.ValidateStudent(ctx, b2.Token)
		require.ErrorIs(t, err, ErrSessionInvalid)
	})

	t.Run("login after logout clears nothing", func(t *testing.T) {
		c := login("device-c")
		require.False(t, c.PreviousCleared)
	})
}

func TestStudentSessionRejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.verifiedStudent(t, testMobile)

	res, err := h.auth.Login(ctx, LoginRequest{Mobile: testMobile, Password: testPassword, Device: device("d1")})
	require.NoError(t, err)
	token := res.Session.Token

	t.Run("garbage", func(t *testing.T) {
		_, err := h.sessions.ValidateStudent(ctx, "not-a-jwt")
		require.ErrorIs(t, err, ErrSessionInvalid)
	})

	t.Run("wrong kind", func(t *testing.T) {
		_, err := h.sessions.ValidateAdmin(ctx, token)
		require.ErrorIs(t, err, ErrSessionInvalid)
	})

	t.Run("forged device", func(t *testing.T) {
		claims, err := h.sessions.Verifier.Verify(token)
		require.NoError(t, err)
		claims.DeviceID = "other"
		forged, err := h.sessions.Signer.Sign(claims)
		require.NoError(t, err)

		_, err = h.sessions.ValidateStudent(ctx, forged)
		require.ErrorIs(t, err, ErrSessionInvalid)
	})

	t.Run("missing device id", func(t *testing.T) {
		_, err := h.auth.Login(ctx, LoginRequest{Mobile: testMobile, Password: testPassword})
		require.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("expired", func(t *testing.T) {
		h.clock.Advance(jwtx.DefaultSessionTTL + time.Second)
		_, err := h.sessions.ValidateStudent(ctx, token)
		require.ErrorIs(t, err, ErrSessionInvalid)
	})
}

func TestAdminSessionPerDevice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	admin := h.superAdmin(t)

	login := func(dev string) *IssuedSession {
		t.Helper()
		res, err := h.admin.Login(ctx, AdminLoginRequest{Login: admin.Username, Password: testPassword, Device: device(dev)})
		require.NoError(t, err)
		return res.Session
	}

	a := login("laptop")
	b := login("desktop")
	require.False(t, b.PreviousCleared)

	for _, s := range []*IssuedSession{a, b} {
		p, err := h.sessions.ValidateAdmin(ctx, s.Token)
		require.NoError(t, err)
		require.Equal(t, admin.ID, p.ID)
		require.Equal(t, domain.RoleSuperAdmin, p.Role)
		require.Equal(t, s.SessionID, p.SessionID)
	}

	a2 := login("laptop")
	require.True(t, a2.PreviousCleared)

	_, err := h.sessions.ValidateAdmin(ctx, a.Token)
	require.ErrorIs(t, err, ErrSessionInvalid)
	_, err = h.sessions.ValidateAdmin(ctx, b.Token)
	require.NoError(t, err)

	sessions, err := h.admin.ListSessions(ctx, admin.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 3)

	t.Run("terminate one", func(t *testing.T) {
		require.NoError(t, h.admin.TerminateSession(ctx, admin.ID, b.SessionID))
		_, err := h.sessions.ValidateAdmin(ctx, b.Token)
		require.ErrorIs(t, err, ErrSessionInvalid)

		require.ErrorIs(t, h.admin.TerminateSession(ctx, admin.ID, b.SessionID), ErrSessionInvalid)
	})

	t.Run("terminate all", func(t *testing.T) {
		n, err := h.sessions.EndAllAdmin(ctx, h.store, admin.ID)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)
		_, err = h.sessions.ValidateAdmin(ctx, a2.Token)
		require.ErrorIs(t, err, ErrSessionInvalid)
	})
}
