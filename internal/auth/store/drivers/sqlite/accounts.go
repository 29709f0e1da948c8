package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aussiebroadwan/gatehouse/internal/auth/domain"
	"github.com/aussiebroadwan/gatehouse/internal/auth/store"
)

type accountsRepo struct {
	db dbtx
}

const accountColumns = `
	id, mobile_number, first_name, last_name, password_hash,
	mobile_verified, mobile_verified_at, is_active, deactivated_at,
	failed_attempts, locked_until, last_login_at, last_login_ip, password_changed_at,
	session_token_hash, session_device_id, session_device_name,
	session_ip_address, session_user_agent, session_issued_at, session_expires_at,
	created_at, updated_at`

func scanAccount(row scanner) (domain.Account, error) {
	var (
		a                                       domain.Account
		verifiedAt, deactivatedAt, lockedUntil  sql.NullInt64
		lastLoginAt, passwordChangedAt          sql.NullInt64
		lastLoginIP                             sql.NullString
		tokenHash, deviceID, deviceName, ip, ua sql.NullString
		issuedAt, expiresAt                     sql.NullInt64
		createdAt, updatedAt                    int64
	)
	err := row.Scan(
		&a.ID, &a.MobileNumber, &a.FirstName, &a.LastName, &a.PasswordHash,
		&a.MobileVerified, &verifiedAt, &a.IsActive, &deactivatedAt,
		&a.Lockout.FailedAttempts, &lockedUntil, &lastLoginAt, &lastLoginIP, &passwordChangedAt,
		&tokenHash, &deviceID, &deviceName, &ip, &ua, &issuedAt, &expiresAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Account{}, mapNotFound(err)
	}

	a.MobileVerifiedAt = mapNullTimePtr(verifiedAt)
	a.DeactivatedAt = mapNullTimePtr(deactivatedAt)
	a.Lockout.LockedUntil = mapNullTimePtr(lockedUntil)
	a.LastLoginAt = mapNullTimePtr(lastLoginAt)
	a.LastLoginIP = mapNullString(lastLoginIP)
	a.PasswordChangedAt = mapNullTimePtr(passwordChangedAt)
	a.CreatedAt = fromUnixNano(createdAt)
	a.UpdatedAt = fromUnixNano(updatedAt)

	if tokenHash.Valid {
		a.Session = &domain.Session{
			TokenHash:  tokenHash.String,
			DeviceID:   mapNullString(deviceID),
			DeviceName: mapNullString(deviceName),
			IPAddress:  mapNullString(ip),
			UserAgent:  mapNullString(ua),
			IssuedAt:   fromUnixNano(issuedAt.Int64),
			ExpiresAt:  fromUnixNano(expiresAt.Int64),
			IsActive:   true,
		}
	}
	return a, nil
}

func (r *accountsRepo) Create(ctx context.Context, a domain.Account) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, mobile_number, first_name, last_name, password_hash,
			mobile_verified, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.MobileNumber, a.FirstName, a.LastName, a.PasswordHash,
		a.MobileVerified, a.IsActive, unixNano(a.CreatedAt), unixNano(a.CreatedAt),
	)
	return mapUnique(err)
}

func (r *accountsRepo) GetByID(ctx context.Context, id string) (domain.Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
}

func (r *accountsRepo) GetByMobile(ctx context.Context, mobile string) (domain.Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE mobile_number = ?`, mobile))
}

func (r *accountsRepo) MarkVerified(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET mobile_verified = 1, mobile_verified_at = ?, updated_at = ?
		WHERE id = ? AND mobile_verified = 0`,
		unixNano(at), unixNano(at), id,
	)
	if err := mustAffect(res, err); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (r *accountsRepo) UpdateLockout(ctx context.Context, id string, s domain.LockoutState) error {
	return mustAffect(r.db.ExecContext(ctx, `
		UPDATE accounts SET failed_attempts = ?, locked_until = ?
		WHERE id = ?`,
		s.FailedAttempts, mapOptionalTime(s.LockedUntil), id,
	))
}

func (r *accountsRepo) ReplaceSession(ctx context.Context, id string, s domain.Session) error {
	return mustAffect(r.db.ExecContext(ctx, `
		UPDATE accounts SET
			session_token_hash = ?, session_device_id = ?, session_device_name = ?,
			session_ip_address = ?, session_user_agent = ?,
			session_issued_at = ?, session_expires_at = ?,
			last_login_at = ?, last_login_ip = ?, updated_at = ?
		WHERE id = ?`,
		s.TokenHash, s.DeviceID, mapStringNull(s.DeviceName),
		mapStringNull(s.IPAddress), mapStringNull(s.UserAgent),
		unixNano(s.IssuedAt), unixNano(s.ExpiresAt),
		unixNano(s.IssuedAt), mapStringNull(s.IPAddress), unixNano(s.IssuedAt),
		id,
	))
}

func (r *accountsRepo) ClearSession(ctx context.Context, id string) error {
	return mustAffect(r.db.ExecContext(ctx, `
		UPDATE accounts SET
			session_token_hash = NULL, session_device_id = NULL, session_device_name = NULL,
			session_ip_address = NULL, session_user_agent = NULL,
			session_issued_at = NULL, session_expires_at = NULL
		WHERE id = ?`, id,
	))
}

func (r *accountsRepo) UpdatePassword(ctx context.Context, id, hash string, at time.Time) error {
	return mustAffect(r.db.ExecContext(ctx, `
		UPDATE accounts SET password_hash = ?, password_changed_at = ?, updated_at = ?
		WHERE id = ?`,
		hash, unixNano(at), unixNano(at), id,
	))
}

func (r *accountsRepo) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	deactivatedAt := sql.NullInt64{}
	if !active {
		deactivatedAt = sql.NullInt64{Int64: unixNano(at), Valid: true}
	}
	return mustAffect(r.db.ExecContext(ctx, `
		UPDATE accounts SET is_active = ?, deactivated_at = ?, updated_at = ?
		WHERE id = ?`,
		active, deactivatedAt, unixNano(at), id,
	))
}
