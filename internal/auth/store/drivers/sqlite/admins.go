package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/gatehouse/internal/auth/domain"
)

type adminsRepo struct {
	db dbtx
}

const adminColumns = `
	id, username, email, first_name, last_name, password_hash, role,
	is_active, deactivated_at, failed_attempts, locked_until,
	last_login_at, last_login_ip, password_changed_at, created_by,
	created_at, updated_at`

func scanAdmin(row scanner) (domain.Admin, error) {
	var (
		a                                       domain.Admin
		deactivatedAt, lockedUntil, lastLoginAt sql.NullInt64
		passwordChangedAt                       sql.NullInt64
		lastLoginIP, createdBy                  sql.NullString
		createdAt, updatedAt                    int64
	)
	err := row.Scan(
		&a.ID, &a.Username, &a.Email, &a.FirstName, &a.LastName, &a.PasswordHash, &a.Role,
		&a.IsActive, &deactivatedAt, &a.Lockout.FailedAttempts, &lockedUntil,
		&lastLoginAt, &lastLoginIP, &passwordChangedAt, &createdBy,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Admin{}, mapNotFound(err)
	}

	a.DeactivatedAt = mapNullTimePtr(deactivatedAt)
	a.Lockout.LockedUntil = mapNullTimePtr(lockedUntil)
	a.LastLoginAt = mapNullTimePtr(lastLoginAt)
	a.LastLoginIP = mapNullString(lastLoginIP)
	a.PasswordChangedAt = mapNullTimePtr(passwordChangedAt)
	a.CreatedBy = mapNullStringPtr(createdBy)
	a.CreatedAt = fromUnixNano(createdAt)
	a.UpdatedAt = fromUnixNano(updatedAt)
	return a, nil
}

func (r *adminsRepo) Create(ctx context.Context, a domain.Admin) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO admins (
			id, username, email, first_name, last_name, password_hash, role,
			is_active, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Username, a.Email, a.FirstName, a.LastName, a.PasswordHash, a.Role,
		a.IsActive, mapOptionalString(a.CreatedBy), unixNano(a.CreatedAt), unixNano(a.CreatedAt),
	)
	return mapUnique(err)
}

func (r *adminsRepo) GetByID(ctx context.Context, id string) (domain.Admin, error) {
	return scanAdmin(r.db.QueryRowContext(ctx, `SELECT `+adminColumns+` FROM admins WHERE id = ?`, id))
}

func (r *adminsRepo) GetByLogin(ctx context.Context, login string) (domain.Admin, error) {
	return scanAdmin(r.db.QueryRowContext(ctx,
		`SELECT `+adminColumns+` FROM admins WHERE username = ? OR email = lower(?) LIMIT 1`,
		login, login,
	))
}

func (r *adminsRepo) UpdateLockout(ctx context.Context, id string, s domain.LockoutState) error {
	return mustAffect(r.db.ExecContext(ctx,
		`UPDATE admins SET failed_attempts = ?, locked_until = ? WHERE id = ?`,
		s.FailedAttempts, mapOptionalTime(s.LockedUntil), id,
	))
}

func (r *adminsRepo) RecordLogin(ctx context.Context, id string, at time.Time, ip string) error {
	return mustAffect(r.db.ExecContext(ctx,
		`UPDATE admins SET last_login_at = ?, last_login_ip = ?, updated_at = ? WHERE id = ?`,
		unixNano(at), mapStringNull(ip), unixNano(at), id,
	))
}

func (r *adminsRepo) UpdatePassword(ctx context.Context, id, hash string, at time.Time) error {
	return mustAffect(r.db.ExecContext(ctx,
		`UPDATE admins SET password_hash = ?, password_changed_at = ?, updated_at = ? WHERE id = ?`,
		hash, unixNano(at), unixNano(at), id,
	))
}

func (r *adminsRepo) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	deactivatedAt := sql.NullInt64{}
	if !active {
		deactivatedAt = sql.NullInt64{Int64: unixNano(at), Valid: true}
	}
	return mustAffect(r.db.ExecContext(ctx,
		`UPDATE admins SET is_active = ?, deactivated_at = ?, updated_at = ? WHERE id = ?`,
		active, deactivatedAt, unixNano(at), id,
	))
}

func (r *adminsRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admins`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}
