package service

import (
	"context"
	"crypto/subtle"
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

// generatedPasswordLength is the length of passwords issued on admin reset.
const generatedPasswordLength = 16

// AdminService implements the staff flows: one-time setup, login with a
// session per device, and management of admins and students.
type AdminService struct {
	Store    store.Store
	Lockout  *LockoutService
	Sessions *SessionService

	// BootstrapToken guards Setup. Empty disables it.
	BootstrapToken string

	Now func() time.Time
}

func (s *AdminService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

type CreateAdminRequest struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
}

func (r *CreateAdminRequest) normalize() error {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	var errs []error
	if !usernamePattern.MatchString(r.Username) {
		errs = append(errs, invalid("username", "must be 3-30 letters, digits or underscores"))
	}
	if !emailPattern.MatchString(r.Email) {
		errs = append(errs, invalid("email", "must be a valid address"))
	}
	if !domain.ValidRole(r.Role) {
		errs = append(errs, invalid("role", "must be one of "+strings.Join(domain.Roles, ", ")))
	}
	errs = append(errs,
		validatePassword("password", r.Password),
		validateName("firstName", r.FirstName),
		validateName("lastName", r.LastName),
	)
	return errors.Join(errs...)
}

func (s *AdminService) create(ctx context.Context, w store.Admins, req CreateAdminRequest, createdBy *string) (domain.Admin, error) {
	hash, err := cryptox.HashPassword(req.Password)
	if err != nil {
		return domain.Admin{}, fmt.Errorf("failed to hash password: %w", err)
	}
	now := s.now()
	a := domain.Admin{
		ID:           idx.NewAt(now).String(),
		Username:     req.Username,
		Email:        req.Email,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		PasswordHash: hash,
		Role:         req.Role,
		IsActive:     true,
		CreatedBy:    createdBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := w.Create(ctx, a); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.Admin{}, ErrAdminTaken
		}
		return domain.Admin{}, fmt.Errorf("failed to create admin: %w", err)
	}
	return a, nil
}

// Setup creates the first super admin. It works once, and only with the
// configured bootstrap token.
func (s *AdminService) Setup(ctx context.Context, token string, req CreateAdminRequest) (domain.Admin, error) {
	l := slogx.FromContext(ctx)

	if s.BootstrapToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.BootstrapToken)) != 1 {
		l.Warn("unauthorized admin setup attempt")
		return domain.Admin{}, ErrForbidden
	}

	req.Role = domain.RoleSuperAdmin
	if err := req.normalize(); err != nil {
		return domain.Admin{}, err
	}

	var admin domain.Admin
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		empty, err := tx.Admins().IsEmpty(ctx)
		if err != nil {
			return fmt.Errorf("failed to check admins: %w", err)
		}
		if !empty {
			return ErrAlreadyBootstrapped
		}
		admin, err = s.create(ctx, tx.Admins(), req, nil)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyBootstrapped) {
			l.Warn("admin setup attempted on bootstrapped system")
		}
		return domain.Admin{}, err
	}

	l.Info("super admin created", slog.String("admin_id", admin.ID))
	return admin, nil
}

type AdminLoginRequest struct {
	Login    string // username or email
	Password string
	Device   DeviceInfo
}

type AdminLoginResult struct {
	Admin   domain.Admin
	Session *IssuedSession
}

// Login authenticates an admin and opens a session on the request's device.
func (s *AdminService) Login(ctx context.Context, req AdminLoginRequest) (*AdminLoginResult, error) {
	l := slogx.FromContext(ctx)

	login := strings.TrimSpace(req.Login)
	if login == "" || req.Password == "" {
		return nil, ErrInvalidRequest
	}

	admin, err := s.Store.Admins().GetByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load admin: %w", err)
	}
	if err := s.Lockout.Check(admin.Lockout); err != nil {
		return nil, err
	}
	if !admin.IsActive {
		return nil, ErrAccountInactive
	}

	if err := cryptox.VerifyPassword(req.Password, admin.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			return nil, fmt.Errorf("failed to verify password: %w", err)
		}
		err := s.Store.WithTx(ctx, func(tx store.Tx) error {
			fresh, err := tx.Admins().GetByID(ctx, admin.ID)
			if err != nil {
				return fmt.Errorf("failed to reload admin: %w", err)
			}
			next, err := s.Lockout.Failure(ctx, tx.Admins(), admin.ID, fresh.Lockout)
			if err != nil {
				return err
			}
			if now := s.now(); next.IsLocked(now) && !fresh.Lockout.IsLocked(now) {
				l.Warn("admin locked", slog.String("admin_id", admin.ID), slog.Time("locked_until", *next.LockedUntil))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	}

	if err := s.Lockout.Success(ctx, s.Store.Admins(), admin.ID, admin.Lockout); err != nil {
		return nil, err
	}
	admin.Lockout = admin.Lockout.Cleared()

	sess, err := s.Sessions.StartAdmin(ctx, admin, req.Device)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.Store.Admins().RecordLogin(ctx, admin.ID, now, req.Device.IP); err != nil {
		return nil, fmt.Errorf("failed to record admin login: %w", err)
	}
	admin.LastLoginAt = &now
	admin.LastLoginIP = req.Device.IP

	l.Info("admin logged in",
		slog.String("admin_id", admin.ID),
		slog.String("session_id", sess.SessionID),
		slog.String("device", req.Device.DeviceID),
	)
	return &AdminLoginResult{Admin: admin, Session: sess}, nil
}

func (s *AdminService) Logout(ctx context.Context, adminID, sessionID string) error {
	return s.Sessions.EndAdmin(ctx, adminID, sessionID)
}

func (s *AdminService) ListSessions(ctx context.Context, adminID string) ([]domain.AdminSession, error) {
	return s.Sessions.ListAdmin(ctx, adminID)
}

// TerminateSession ends one of the caller's own sessions.
func (s *AdminService) TerminateSession(ctx context.Context, adminID, sessionID string) error {
	if err := s.Sessions.EndAdmin(ctx, adminID, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionInvalid
		}
		return err
	}
	return nil
}

// actor loads the acting admin and checks it may use allow.
func (s *AdminService) actor(ctx context.Context, id string, allow func(*domain.Admin) bool) (domain.Admin, error) {
	a, err := s.Store.Admins().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Admin{}, ErrForbidden
		}
		return domain.Admin{}, fmt.Errorf("failed to load admin: %w", err)
	}
	if !a.IsActive || !allow(&a) {
		return domain.Admin{}, ErrForbidden
	}
	return a, nil
}

func (s *AdminService) target(ctx context.Context, id string) (domain.Admin, error) {
	a, err := s.Store.Admins().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Admin{}, ErrAccountNotFound
		}
		return domain.Admin{}, fmt.Errorf("failed to load admin: %w", err)
	}
	return a, nil
}

// CreateAdmin adds an admin on behalf of a super admin.
func (s *AdminService) CreateAdmin(ctx context.Context, actorID string, req CreateAdminRequest) (domain.Admin, error) {
	actor, err := s.actor(ctx, actorID, (*domain.Admin).CanManageAdmins)
	if err != nil {
		return domain.Admin{}, err
	}
	if err := req.normalize(); err != nil {
		return domain.Admin{}, err
	}
	a, err := s.create(ctx, s.Store.Admins(), req, &actor.ID)
	if err != nil {
		return domain.Admin{}, err
	}
	slogx.FromContext(ctx).Info("admin created",
		slog.String("admin_id", a.ID),
		slog.String("role", a.Role),
		slog.String("created_by", actor.ID),
	)
	return a, nil
}

// ResetAdminPassword issues a generated password and ends every session the
// target holds. The password is returned once and never stored in clear.
func (s *AdminService) ResetAdminPassword(ctx context.Context, actorID, adminID string) (string, error) {
	if _, err := s.actor(ctx, actorID, (*domain.Admin).CanManageAdmins); err != nil {
		return "", err
	}
	target, err := s.target(ctx, adminID)
	if err != nil {
		return "", err
	}

	pw, err := cryptox.GeneratePassword(generatedPasswordLength)
	if err != nil {
		return "", err
	}
	hash, err := cryptox.HashPassword(pw)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	var ended int64
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Admins().UpdatePassword(ctx, target.ID, hash, s.now()); err != nil {
			return err
		}
		if err := tx.Admins().UpdateLockout(ctx, target.ID, domain.LockoutState{}); err != nil {
			return err
		}
		n, err := s.Sessions.EndAllAdmin(ctx, tx, target.ID)
		ended = n
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to reset admin password: %w", err)
	}

	slogx.FromContext(ctx).Info("admin password reset",
		slog.String("admin_id", target.ID),
		slog.String("by", actorID),
		slog.Int64("sessions_ended", ended),
	)
	return pw, nil
}

// SetAdminStatus (de)activates an admin. Deactivation ends all its sessions.
// An admin cannot deactivate itself.
func (s *AdminService) SetAdminStatus(ctx context.Context, actorID, adminID string, active bool) (domain.Admin, error) {
	if _, err := s.actor(ctx, actorID, (*domain.Admin).CanManageAdmins); err != nil {
		return domain.Admin{}, err
	}
	if actorID == adminID && !active {
		return domain.Admin{}, invalid("isActive", "cannot deactivate yourself")
	}
	target, err := s.target(ctx, adminID)
	if err != nil {
		return domain.Admin{}, err
	}

	now := s.now()
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Admins().SetActive(ctx, target.ID, active, now); err != nil {
			return err
		}
		if active {
			return nil
		}
		_, err := s.Sessions.EndAllAdmin(ctx, tx, target.ID)
		return err
	})
	if err != nil {
		return domain.Admin{}, fmt.Errorf("failed to update admin status: %w", err)
	}

	target.IsActive = active
	target.DeactivatedAt = nil
	if !active {
		target.DeactivatedAt = &now
	}
	slogx.FromContext(ctx).Info("admin status changed",
		slog.String("admin_id", target.ID),
		slog.Bool("active", active),
		slog.String("by", actorID),
	)
	return target, nil
}

// SetStudentStatus (de)activates a student. Deactivation logs them out.
func (s *AdminService) SetStudentStatus(ctx context.Context, actorID, accountID string, active bool) (domain.Account, error) {
	if _, err := s.actor(ctx, actorID, (*domain.Admin).CanManageStudents); err != nil {
		return domain.Account{}, err
	}
	acct, err := s.Store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Account{}, ErrAccountNotFound
		}
		return domain.Account{}, fmt.Errorf("failed to load account: %w", err)
	}

	now := s.now()
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Accounts().SetActive(ctx, acct.ID, active, now); err != nil {
			return err
		}
		if active {
			return nil
		}
		return tx.Accounts().ClearSession(ctx, acct.ID)
	})
	if err != nil {
		return domain.Account{}, fmt.Errorf("failed to update account status: %w", err)
	}

	acct.IsActive = active
	acct.DeactivatedAt = nil
	if !active {
		acct.DeactivatedAt = &now
		acct.Session = nil
	}
	slogx.FromContext(ctx).Info("student status changed",
		slog.String("account_id", acct.ID),
		slog.Bool("active", active),
		slog.String("by", actorID),
	)
	return acct, nil
}
