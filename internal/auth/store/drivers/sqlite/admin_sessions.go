package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aussiebroadwan/gatehouse/internal/auth/domain"
)

type adminSessionsRepo struct {
	db dbtx
}

const adminSessionColumns = `
	id, admin_id, token_hash, device_id, device_name, ip_address, user_agent,
	issued_at, expires_at, last_seen_at, is_active`

func scanAdminSession(row scanner) (domain.AdminSession, error) {
	var (
		s                             domain.AdminSession
		deviceName, ip, ua            sql.NullString
		issuedAt, expiresAt, lastSeen int64
	)
	err := row.Scan(
		&s.ID, &s.AdminID, &s.TokenHash, &s.DeviceID, &deviceName, &ip, &ua,
		&issuedAt, &expiresAt, &lastSeen, &s.IsActive,
	)
	if err != nil {
		return domain.AdminSession{}, mapNotFound(err)
	}
	s.DeviceName = mapNullString(deviceName)
	s.IPAddress = mapNullString(ip)
	s.UserAgent = mapNullString(ua)
	s.IssuedAt = fromUnixNano(issuedAt)
	s.ExpiresAt = fromUnixNano(expiresAt)
	s.LastSeenAt = fromUnixNano(lastSeen)
	return s, nil
}

func (r *adminSessionsRepo) Insert(ctx context.Context, s domain.AdminSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO admin_sessions (
			id, admin_id, token_hash, device_id, device_name, ip_address, user_agent,
			issued_at, expires_at, last_seen_at, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		s.ID, s.AdminID, s.TokenHash, s.DeviceID,
		mapStringNull(s.DeviceName), mapStringNull(s.IPAddress), mapStringNull(s.UserAgent),
		unixNano(s.IssuedAt), unixNano(s.ExpiresAt), unixNano(s.IssuedAt),
	)
	return mapUnique(err)
}

func (r *adminSessionsRepo) DeactivateDevice(ctx context.Context, adminID, deviceID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE admin_sessions SET is_active = 0 WHERE admin_id = ? AND device_id = ? AND is_active = 1`,
		adminID, deviceID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *adminSessionsRepo) GetByID(ctx context.Context, sessionID string) (domain.AdminSession, error) {
	return scanAdminSession(r.db.QueryRowContext(ctx,
		`SELECT `+adminSessionColumns+` FROM admin_sessions WHERE id = ?`, sessionID,
	))
}

func (r *adminSessionsRepo) ListByAdmin(ctx context.Context, adminID string) ([]domain.AdminSession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+adminSessionColumns+` FROM admin_sessions WHERE admin_id = ? ORDER BY issued_at DESC`,
		adminID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AdminSession
	for rows.Next() {
		s, err := scanAdminSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan admin session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *adminSessionsRepo) Touch(ctx context.Context, sessionID string, at time.Time) error {
	return mustAffect(r.db.ExecContext(ctx,
		`UPDATE admin_sessions SET last_seen_at = ? WHERE id = ? AND is_active = 1`,
		unixNano(at), sessionID,
	))
}

func (r *adminSessionsRepo) Terminate(ctx context.Context, adminID, sessionID string) error {
	return mustAffect(r.db.ExecContext(ctx,
		`UPDATE admin_sessions SET is_active = 0 WHERE id = ? AND admin_id = ? AND is_active = 1`,
		sessionID, adminID,
	))
}

func (r *adminSessionsRepo) TerminateAll(ctx context.Context, adminID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE admin_sessions SET is_active = 0 WHERE admin_id = ? AND is_active = 1`,
		adminID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *adminSessionsRepo) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM admin_sessions WHERE expires_at < ? OR (is_active = 0 AND last_seen_at < ?)`,
		unixNano(cutoff), unixNano(cutoff),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
