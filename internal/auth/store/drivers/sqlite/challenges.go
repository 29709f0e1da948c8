package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aussiebroadwan/gatehouse/internal/auth/domain"
	"github.com/aussiebroadwan/gatehouse/internal/auth/store"
)

type challengesRepo struct {
	db dbtx
	// conn is set outside a transaction so Issue can open its own.
	conn *sql.DB
}

const challengeColumns = `
	id, mobile_number, purpose, code_hash, created_at, expires_at,
	attempts, max_attempts, resend_count, max_resends, last_resend_at, resend_cooldown_ms,
	is_used, used_at, delivery_status, delivery_attempts, sms_provider, sms_message_id,
	ip_address, user_agent, attempt_log, version`

func scanChallenge(row scanner) (domain.Challenge, error) {
	var (
		c                       domain.Challenge
		createdAt, expiresAt    int64
		lastResendAt, usedAt    sql.NullInt64
		cooldownMS              int64
		provider, msgID, ip, ua sql.NullString
		attemptLog              string
	)
	err := row.Scan(
		&c.ID, &c.MobileNumber, &c.Purpose, &c.CodeHash, &createdAt, &expiresAt,
		&c.Attempts, &c.MaxAttempts, &c.ResendCount, &c.MaxResends, &lastResendAt, &cooldownMS,
		&c.IsUsed, &usedAt, &c.DeliveryStatus, &c.DeliveryAttempts, &provider, &msgID,
		&ip, &ua, &attemptLog, &c.Version,
	)
	if err != nil {
		return domain.Challenge{}, mapNotFound(err)
	}

	c.CreatedAt = fromUnixNano(createdAt)
	c.ExpiresAt = fromUnixNano(expiresAt)
	c.LastResendAt = mapNullTimePtr(lastResendAt)
	c.ResendCooldown = time.Duration(cooldownMS) * time.Millisecond
	c.UsedAt = mapNullTimePtr(usedAt)
	c.SMSProvider = mapNullString(provider)
	c.SMSMessageID = mapNullString(msgID)
	c.IPAddress = mapNullString(ip)
	c.UserAgent = mapNullString(ua)
	if err := json.Unmarshal([]byte(attemptLog), &c.Log); err != nil {
		return domain.Challenge{}, fmt.Errorf("failed to decode attempt log: %w", err)
	}
	return c, nil
}

func encodeAttemptLog(log []domain.Attempt) (string, error) {
	if log == nil {
		return "[]", nil
	}
	b, err := json.Marshal(log)
	if err != nil {
		return "", fmt.Errorf("failed to encode attempt log: %w", err)
	}
	return string(b), nil
}

func (r *challengesRepo) Issue(ctx context.Context, c domain.Challenge, at time.Time) (int64, error) {
	if r.conn == nil {
		return issueChallenge(ctx, r.db, c, at)
	}

	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	n, err := issueChallenge(ctx, tx, c, at)
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func issueChallenge(ctx context.Context, db dbtx, c domain.Challenge, at time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE challenges SET is_used = 1, used_at = ?, version = version + 1
		WHERE mobile_number = ? AND purpose = ? AND is_used = 0`,
		unixNano(at), c.MobileNumber, string(c.Purpose),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to supersede challenges: %w", err)
	}
	superseded, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	log, err := encodeAttemptLog(c.Log)
	if err != nil {
		return 0, err
	}
	if c.DeliveryStatus == "" {
		c.DeliveryStatus = domain.DeliveryPending
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO challenges (
			id, mobile_number, purpose, code_hash, created_at, expires_at,
			attempts, max_attempts, resend_count, max_resends, last_resend_at, resend_cooldown_ms,
			is_used, used_at, delivery_status, delivery_attempts, sms_provider, sms_message_id,
			ip_address, user_agent, attempt_log, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		c.ID, c.MobileNumber, string(c.Purpose), c.CodeHash, unixNano(c.CreatedAt), unixNano(c.ExpiresAt),
		c.Attempts, c.MaxAttempts, c.ResendCount, c.MaxResends, mapOptionalTime(c.LastResendAt), c.ResendCooldown.Milliseconds(),
		c.IsUsed, mapOptionalTime(c.UsedAt), string(c.DeliveryStatus), c.DeliveryAttempts,
		mapStringNull(c.SMSProvider), mapStringNull(c.SMSMessageID),
		mapStringNull(c.IPAddress), mapStringNull(c.UserAgent), log,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert challenge: %w", mapUnique(err))
	}
	return superseded, nil
}

func (r *challengesRepo) Get(ctx context.Context, id string) (domain.Challenge, error) {
	return scanChallenge(r.db.QueryRowContext(ctx,
		`SELECT `+challengeColumns+` FROM challenges WHERE id = ?`, id,
	))
}

func (r *challengesRepo) LatestUnused(ctx context.Context, mobile string, p domain.Purpose) (domain.Challenge, error) {
	return scanChallenge(r.db.QueryRowContext(ctx, `
		SELECT `+challengeColumns+` FROM challenges
		WHERE mobile_number = ? AND purpose = ? AND is_used = 0
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		mobile, string(p),
	))
}

func (r *challengesRepo) LatestValid(ctx context.Context, mobile string, p domain.Purpose, now time.Time) (domain.Challenge, error) {
	return scanChallenge(r.db.QueryRowContext(ctx, `
		SELECT `+challengeColumns+` FROM challenges
		WHERE mobile_number = ? AND purpose = ? AND is_used = 0 AND expires_at >= ?
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		mobile, string(p), unixNano(now),
	))
}

func (r *challengesRepo) Update(ctx context.Context, c *domain.Challenge) error {
	log, err := encodeAttemptLog(c.Log)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE challenges SET
			code_hash = ?, expires_at = ?, attempts = ?, resend_count = ?, last_resend_at = ?,
			is_used = ?, used_at = ?, delivery_status = ?, delivery_attempts = ?,
			sms_provider = ?, sms_message_id = ?, attempt_log = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		c.CodeHash, unixNano(c.ExpiresAt), c.Attempts, c.ResendCount, mapOptionalTime(c.LastResendAt),
		c.IsUsed, mapOptionalTime(c.UsedAt), string(c.DeliveryStatus), c.DeliveryAttempts,
		mapStringNull(c.SMSProvider), mapStringNull(c.SMSMessageID), log,
		c.ID, c.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrConflict
	}
	c.Version++
	return nil
}

func (r *challengesRepo) UpdateDelivery(
	ctx context.Context,
	id string,
	status domain.DeliveryStatus,
	provider, messageID string,
) error {
	return mustAffect(r.db.ExecContext(ctx, `
		UPDATE challenges SET
			delivery_status = ?,
			delivery_attempts = delivery_attempts + 1,
			sms_provider = COALESCE(?, sms_provider),
			sms_message_id = COALESCE(?, sms_message_id),
			version = version + 1
		WHERE id = ?`,
		string(status), mapStringNull(provider), mapStringNull(messageID), id,
	))
}

func (r *challengesRepo) DeleteStale(ctx context.Context, now, usedBefore time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM challenges WHERE expires_at < ? OR (is_used = 1 AND used_at < ?)`,
		unixNano(now), unixNano(usedBefore),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *challengesRepo) Stats(ctx context.Context, since, now time.Time) ([]domain.PurposeStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT purpose, COUNT(*), SUM(is_used),
			SUM(CASE WHEN expires_at < ? THEN 1 ELSE 0 END),
			SUM(resend_count), AVG(attempts)
		FROM challenges
		WHERE created_at >= ?
		GROUP BY purpose
		ORDER BY purpose`,
		unixNano(now), unixNano(since),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PurposeStats
	for rows.Next() {
		var s domain.PurposeStats
		if err := rows.Scan(&s.Purpose, &s.Total, &s.Used, &s.Expired, &s.Resends, &s.AvgAttempts); err != nil {
			return nil, fmt.Errorf("failed to scan challenge stats: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
