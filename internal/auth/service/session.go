package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/gatehouse/internal/auth/domain"
	"github.com/aussiebroadwan/gatehouse/internal/auth/store"
	"github.com/aussiebroadwan/gatehouse/pkg/cryptox"
	"github.com/aussiebroadwan/gatehouse/pkg/httpx"
	"github.com/aussiebroadwan/gatehouse/pkg/jwtx"
	"github.com/aussiebroadwan/gatehouse/pkg/slogx"
	"github.com/google/uuid"
)

// SessionService issues session credentials and enforces the session rules:
// one session per student, one session per device for admins.
//
// A credential is a JWT whose sid claim is an opaque token. Only the token's
// fingerprint is stored, so a leaked database row is not a usable session.
type SessionService struct {
	Store    store.Store
	Signer   jwtx.Signer
	Verifier jwtx.Verifier
	Issuer   string

	StudentTTL time.Duration
	AdminTTL   time.Duration

	Now func() time.Time
}

type DeviceInfo struct {
	DeviceID   string
	DeviceName string
	IP         string
	UserAgent  string
}

type IssuedSession struct {
	Token     string
	SessionID string // admin sessions only
	ExpiresAt time.Time

	// PreviousCleared reports that a live session was revoked by this login.
	PreviousCleared  bool
	PreviousDeviceID string
}

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *SessionService) ttl(kind string) time.Duration {
	if kind == jwtx.KindAdmin {
		if s.AdminTTL > 0 {
			return s.AdminTTL
		}
		return jwtx.DefaultAdminSessionTTL
	}
	if s.StudentTTL > 0 {
		return s.StudentTTL
	}
	return jwtx.DefaultSessionTTL
}

// mint creates the opaque session token and its signed credential.
func (s *SessionService) mint(
	subject, kind, role, adminSessionID string,
	dev DeviceInfo,
	now time.Time,
) (token string, sess domain.Session, err error) {
	sid, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", domain.Session{}, err
	}
	ttl := s.ttl(kind)

	claims := jwtx.NewSessionClaims(subject, kind, role, sid, dev.DeviceID, adminSessionID, ttl, s.Issuer, now)
	token, err = s.Signer.Sign(claims)
	if err != nil {
		return "", domain.Session{}, fmt.Errorf("failed to sign session: %w", err)
	}

	sess = domain.Session{
		ID:         adminSessionID,
		TokenHash:  cryptox.FingerprintToken(sid),
		DeviceID:   dev.DeviceID,
		DeviceName: dev.DeviceName,
		IPAddress:  dev.IP,
		UserAgent:  dev.UserAgent,
		IssuedAt:   now,
		ExpiresAt:  claims.ExpiresAt.Time.UTC(),
		LastSeenAt: now,
		IsActive:   true,
	}
	return token, sess, nil
}

// StartStudent replaces the account's current session. Whatever session the
// account held before stops validating as soon as this returns.
func (s *SessionService) StartStudent(ctx context.Context, acct domain.Account, dev DeviceInfo) (*IssuedSession, error) {
	if dev.DeviceID == "" {
		return nil, ErrInvalidRequest
	}
	now := s.now()

	token, sess, err := s.mint(acct.ID, jwtx.KindStudent, jwtx.KindStudent, "", dev, now)
	if err != nil {
		return nil, err
	}
	if err := s.Store.Accounts().ReplaceSession(ctx, acct.ID, sess); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	out := &IssuedSession{Token: token, ExpiresAt: sess.ExpiresAt}
	if acct.Session.Live(now) {
		out.PreviousCleared = true
		out.PreviousDeviceID = acct.Session.DeviceID
		slogx.FromContext(ctx).Info("previous session replaced",
			slog.String("account_id", acct.ID),
			slog.String("previous_device", acct.Session.DeviceID),
			slog.String("device", dev.DeviceID),
		)
	}
	return out, nil
}

// StartAdmin opens a session for the admin on dev.DeviceID, ending any the
// admin already holds on that device. Sessions on other devices stay.
func (s *SessionService) StartAdmin(ctx context.Context, admin domain.Admin, dev DeviceInfo) (*IssuedSession, error) {
	if dev.DeviceID == "" {
		return nil, ErrInvalidRequest
	}
	now := s.now()
	sessionID := uuid.NewString()

	token, sess, err := s.mint(admin.ID, jwtx.KindAdmin, admin.Role, sessionID, dev, now)
	if err != nil {
		return nil, err
	}

	var replaced int64
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		n, err := tx.AdminSessions().DeactivateDevice(ctx, admin.ID, dev.DeviceID)
		if err != nil {
			return err
		}
		replaced = n
		return tx.AdminSessions().Insert(ctx, domain.AdminSession{AdminID: admin.ID, Session: sess})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store admin session: %w", err)
	}

	out := &IssuedSession{Token: token, SessionID: sessionID, ExpiresAt: sess.ExpiresAt}
	if replaced > 0 {
		out.PreviousCleared = true
		out.PreviousDeviceID = dev.DeviceID
	}
	return out, nil
}

func (s *SessionService) claims(token, kind string) (jwtx.Claims, error) {
	claims, err := s.Verifier.Verify(token)
	if err != nil {
		return jwtx.Claims{}, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	if claims.Kind != kind {
		return jwtx.Claims{}, ErrSessionInvalid
	}
	if err := claims.ValidateIssuer(s.Issuer); err != nil {
		return jwtx.Claims{}, ErrSessionInvalid
	}
	return claims, nil
}

// ValidateStudent checks a student credential against the stored session.
// Any mismatch is ErrSessionInvalid.
func (s *SessionService) ValidateStudent(ctx context.Context, token string) (httpx.Principal, error) {
	claims, err := s.claims(token, jwtx.KindStudent)
	if err != nil {
		return httpx.Principal{}, err
	}

	acct, err := s.Store.Accounts().GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return httpx.Principal{}, ErrSessionInvalid
		}
		return httpx.Principal{}, fmt.Errorf("failed to load account: %w", err)
	}
	if !acct.IsActive || !acct.MobileVerified {
		return httpx.Principal{}, ErrSessionInvalid
	}
	if !acct.Session.Validate(claims.SID, claims.DeviceID, s.now()) {
		return httpx.Principal{}, ErrSessionInvalid
	}

	return httpx.Principal{
		ID:       acct.ID,
		Kind:     jwtx.KindStudent,
		Role:     jwtx.KindStudent,
		DeviceID: claims.DeviceID,
	}, nil
}

// ValidateAdmin checks an admin credential against its stored session and
// records activity on it.
func (s *SessionService) ValidateAdmin(ctx context.Context, token string) (httpx.Principal, error) {
	claims, err := s.claims(token, jwtx.KindAdmin)
	if err != nil {
		return httpx.Principal{}, err
	}
	now := s.now()

	sess, err := s.Store.AdminSessions().GetByID(ctx, claims.AdminSessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return httpx.Principal{}, ErrSessionInvalid
		}
		return httpx.Principal{}, fmt.Errorf("failed to load admin session: %w", err)
	}
	if sess.AdminID != claims.Subject || !sess.Validate(claims.SID, claims.DeviceID, now) {
		return httpx.Principal{}, ErrSessionInvalid
	}

	admin, err := s.Store.Admins().GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return httpx.Principal{}, ErrSessionInvalid
		}
		return httpx.Principal{}, fmt.Errorf("failed to load admin: %w", err)
	}
	if !admin.IsActive {
		return httpx.Principal{}, ErrSessionInvalid
	}

	if err := s.Store.AdminSessions().Touch(ctx, sess.ID, now); err != nil && !errors.Is(err, store.ErrNotFound) {
		return httpx.Principal{}, fmt.Errorf("failed to touch admin session: %w", err)
	}

	return httpx.Principal{
		ID:        admin.ID,
		Kind:      jwtx.KindAdmin,
		Role:      admin.Role,
		SessionID: sess.ID,
		DeviceID:  claims.DeviceID,
	}, nil
}

// EndStudent logs the student out everywhere.
func (s *SessionService) EndStudent(ctx context.Context, accountID string) error {
	if err := s.Store.Accounts().ClearSession(ctx, accountID); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// EndAdmin terminates one of the admin's sessions.
func (s *SessionService) EndAdmin(ctx context.Context, adminID, sessionID string) error {
	err := s.Store.AdminSessions().Terminate(ctx, adminID, sessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to terminate session: %w", err)
	}
	return err
}

// EndAllAdmin terminates every session the admin holds, through st. Pass the
// Tx carrying the change that revokes the admin so both commit together.
func (s *SessionService) EndAllAdmin(ctx context.Context, st store.Store, adminID string) (int64, error) {
	n, err := st.AdminSessions().TerminateAll(ctx, adminID)
	if err != nil {
		return 0, fmt.Errorf("failed to terminate sessions: %w", err)
	}
	return n, nil
}

func (s *SessionService) ListAdmin(ctx context.Context, adminID string) ([]domain.AdminSession, error) {
	return s.Store.AdminSessions().ListByAdmin(ctx, adminID)
}
