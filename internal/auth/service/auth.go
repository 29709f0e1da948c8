package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/gatehouse/internal/auth/domain"
	"github.com/aussiebroadwan/gatehouse/internal/auth/store"
	"github.com/aussiebroadwan/gatehouse/pkg/cryptox"
	"github.com/aussiebroadwan/gatehouse/pkg/idx"
	"github.com/aussiebroadwan/gatehouse/pkg/slogx"
)

// AuthService implements the student account flows: registration with a
// mobile challenge, password login with lockout, and password reset.
type AuthService struct {
	Store    store.Store
	OTP      *OTPService
	Lockout  *LockoutService
	Sessions *SessionService
	Now      func() time.Time
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

type RegisterRequest struct {
	Mobile    string
	Password  string
	FirstName string
	LastName  string
	IP        string
	UserAgent string
}

type RegisterResult struct {
	Account   domain.Account
	Challenge *ChallengeResult
}

// Register creates an unverified account and sends a registration code.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	req.Mobile = strings.TrimSpace(req.Mobile)
	if err := errors.Join(
		validateMobile(req.Mobile),
		validatePassword("password", req.Password),
		validateName("firstName", req.FirstName),
		validateName("lastName", req.LastName),
	); err != nil {
		return nil, err
	}
	l := slogx.FromContext(ctx)

	hash, err := cryptox.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	acct := domain.Account{
		ID:           idx.NewAt(now).String(),
		MobileNumber: req.Mobile,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.Accounts().Create(ctx, acct); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, ErrMobileTaken
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	l.Info("account registered", slog.String("account_id", acct.ID))

	ch, err := s.OTP.Create(ctx, ChallengeRequest{
		Mobile:    acct.MobileNumber,
		Purpose:   domain.PurposeRegistration,
		IP:        req.IP,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	return &RegisterResult{Account: acct, Challenge: ch}, nil
}

func (s *AuthService) accountByMobile(ctx context.Context, mobile string) (domain.Account, error) {
	mobile = strings.TrimSpace(mobile)
	if err := validateMobile(mobile); err != nil {
		return domain.Account{}, err
	}
	acct, err := s.Store.Accounts().GetByMobile(ctx, mobile)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Account{}, ErrAccountNotFound
		}
		return domain.Account{}, fmt.Errorf("failed to load account: %w", err)
	}
	return acct, nil
}

// ResendRegistration sends a fresh registration code to an unverified account.
func (s *AuthService) ResendRegistration(ctx context.Context, mobile, ip, ua string) (*ChallengeResult, error) {
	acct, err := s.accountByMobile(ctx, mobile)
	if err != nil {
		return nil, err
	}
	if acct.MobileVerified {
		return nil, ErrAlreadyVerified
	}
	return s.OTP.Resend(ctx, ChallengeRequest{
		Mobile: acct.MobileNumber, Purpose: domain.PurposeRegistration, IP: ip, UserAgent: ua,
	})
}

// VerifyRegistration checks the registration code and marks the mobile
// number verified. This succeeds at most once per account.
func (s *AuthService) VerifyRegistration(ctx context.Context, mobile, code, ip, ua string) (domain.Account, error) {
	acct, err := s.accountByMobile(ctx, mobile)
	if err != nil {
		return domain.Account{}, err
	}
	if acct.MobileVerified {
		return domain.Account{}, ErrAlreadyVerified
	}

	if _, err := s.OTP.Verify(ctx, VerifyRequest{
		Mobile: acct.MobileNumber, Purpose: domain.PurposeRegistration, Code: code, IP: ip, UserAgent: ua,
	}); err != nil {
		return domain.Account{}, err
	}

	now := s.now()
	if err := s.Store.Accounts().MarkVerified(ctx, acct.ID, now); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Account{}, ErrAlreadyVerified
		}
		return domain.Account{}, fmt.Errorf("failed to mark account verified: %w", err)
	}
	acct.MobileVerified = true
	acct.MobileVerifiedAt = &now
	return acct, nil
}

type LoginRequest struct {
	Mobile   string
	Password string
	Device   DeviceInfo
}

type LoginResult struct {
	Account domain.Account
	Session *IssuedSession
}

// Login authenticates a student and replaces their current session.
//
// The lock is checked before the password is compared, so a locked account
// answers the same for a right or wrong password.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	l := slogx.FromContext(ctx)

	acct, err := s.accountByMobile(ctx, req.Mobile)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := s.Lockout.Check(acct.Lockout); err != nil {
		return nil, err
	}
	if !acct.MobileVerified {
		return nil, ErrNotVerified
	}
	if !acct.IsActive {
		return nil, ErrAccountInactive
	}

	if err := cryptox.VerifyPassword(req.Password, acct.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			return nil, fmt.Errorf("failed to verify password: %w", err)
		}
		if err := s.recordFailure(ctx, acct.ID); err != nil {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	}

	if err := s.Lockout.Success(ctx, s.Store.Accounts(), acct.ID, acct.Lockout); err != nil {
		return nil, err
	}
	acct.Lockout = acct.Lockout.Cleared()

	sess, err := s.Sessions.StartStudent(ctx, acct, req.Device)
	if err != nil {
		return nil, err
	}
	l.Info("student logged in", slog.String("account_id", acct.ID), slog.String("device", req.Device.DeviceID))
	return &LoginResult{Account: acct, Session: sess}, nil
}

// recordFailure re-reads the counter in a transaction so concurrent failures
// all count.
func (s *AuthService) recordFailure(ctx context.Context, accountID string) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		fresh, err := tx.Accounts().GetByID(ctx, accountID)
		if err != nil {
			return fmt.Errorf("failed to reload account: %w", err)
		}
		next, err := s.Lockout.Failure(ctx, tx.Accounts(), accountID, fresh.Lockout)
		if err != nil {
			return err
		}
		if now := s.now(); next.IsLocked(now) && !fresh.Lockout.IsLocked(now) {
			slogx.FromContext(ctx).Warn("account locked",
				slog.String("account_id", accountID),
				slog.Int("failed_attempts", next.FailedAttempts),
				slog.Time("locked_until", *next.LockedUntil),
			)
		}
		return nil
	})
}

func (s *AuthService) Logout(ctx context.Context, accountID string) error {
	return s.Sessions.EndStudent(ctx, accountID)
}

func (s *AuthService) Profile(ctx context.Context, accountID string) (domain.Account, error) {
	acct, err := s.Store.Accounts().GetByID(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Account{}, ErrAccountNotFound
	}
	return acct, err
}

func (s *AuthService) resettable(ctx context.Context, mobile string) (domain.Account, error) {
	acct, err := s.accountByMobile(ctx, mobile)
	if err != nil {
		return domain.Account{}, err
	}
	if !acct.MobileVerified {
		return domain.Account{}, ErrNotVerified
	}
	return acct, nil
}

// ForgotPassword sends a password reset code to a verified account.
func (s *AuthService) ForgotPassword(ctx context.Context, mobile, ip, ua string) (*ChallengeResult, error) {
	acct, err := s.resettable(ctx, mobile)
	if err != nil {
		return nil, err
	}
	return s.OTP.Create(ctx, ChallengeRequest{
		Mobile: acct.MobileNumber, Purpose: domain.PurposePasswordReset, IP: ip, UserAgent: ua,
	})
}

func (s *AuthService) ResendForgotPassword(ctx context.Context, mobile, ip, ua string) (*ChallengeResult, error) {
	acct, err := s.resettable(ctx, mobile)
	if err != nil {
		return nil, err
	}
	return s.OTP.Resend(ctx, ChallengeRequest{
		Mobile: acct.MobileNumber, Purpose: domain.PurposePasswordReset, IP: ip, UserAgent: ua,
	})
}

type ResetPasswordRequest struct {
	Mobile      string
	Code        string
	NewPassword string
	IP          string
	UserAgent   string
}

// ResetPassword checks the reset code, sets the new password and logs the
// account out.
func (s *AuthService) ResetPassword(ctx context.Context, req ResetPasswordRequest) (time.Time, error) {
	if err := validatePassword("newPassword", req.NewPassword); err != nil {
		return time.Time{}, err
	}
	acct, err := s.accountByMobile(ctx, req.Mobile)
	if err != nil {
		return time.Time{}, err
	}

	if _, err := s.OTP.Verify(ctx, VerifyRequest{
		Mobile: acct.MobileNumber, Purpose: domain.PurposePasswordReset,
		Code: req.Code, IP: req.IP, UserAgent: req.UserAgent,
	}); err != nil {
		return time.Time{}, err
	}

	hash, err := cryptox.HashPassword(req.NewPassword)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Accounts().UpdatePassword(ctx, acct.ID, hash, now); err != nil {
			return err
		}
		return tx.Accounts().ClearSession(ctx, acct.ID)
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to reset password: %w", err)
	}
	slogx.FromContext(ctx).Info("password reset", slog.String("account_id", acct.ID))
	return now, nil
}
