// Package redis stores OTP challenges in Redis. Every other repository stays
// on sqlite; challenges are the one short-lived, high-churn record that may
// be shared between replicas.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/gatehouse/internal/auth/domain"
	"github.com/aussiebroadwan/gatehouse/internal/auth/store"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "gatehouse:challenge"

	// maxTxRetries bounds WATCH retries before a write reports ErrConflict.
	maxTxRetries = 4

	// retention keeps a record around after it expires so used challenges
	// still show up in stats. Matches the sqlite cleanup window.
	retention = 24 * time.Hour
)

// Challenges implements store.Challenges on Redis.
//
// Layout, under prefix:
//
//	{prefix}:{id}                    JSON record
//	{prefix}:idx:{purpose}:{mobile}  sorted set of ids by created_at
//	{prefix}:all                     sorted set of every id by created_at
type Challenges struct {
	rdb    goredis.UniversalClient
	prefix string
}

var _ store.Challenges = (*Challenges)(nil)

// NewChallenges returns a repository using prefix for every key. An empty
// prefix uses "gatehouse:challenge".
func NewChallenges(rdb goredis.UniversalClient, prefix string) *Challenges {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Challenges{rdb: rdb, prefix: prefix}
}

func (r *Challenges) key(id string) string { return r.prefix + ":" + id }
func (r *Challenges) allKey() string       { return r.prefix + ":all" }

func (r *Challenges) indexKey(mobile string, p domain.Purpose) string {
	return r.prefix + ":idx:" + string(p) + ":" + mobile
}

// record is the stored form of a challenge. Times are unix nanoseconds.
type record struct {
	ID               string           `json:"id"`
	MobileNumber     string           `json:"mobile"`
	Purpose          domain.Purpose   `json:"purpose"`
	CodeHash         string           `json:"codeHash"`
	CreatedAt        int64            `json:"createdAt"`
	ExpiresAt        int64            `json:"expiresAt"`
	Attempts         int              `json:"attempts"`
	MaxAttempts      int              `json:"maxAttempts"`
	ResendCount      int              `json:"resendCount"`
	MaxResends       int              `json:"maxResends"`
	LastResendAt     int64            `json:"lastResendAt,omitempty"`
	ResendCooldownMS int64            `json:"resendCooldownMs"`
	IsUsed           bool             `json:"isUsed"`
	UsedAt           int64            `json:"usedAt,omitempty"`
	DeliveryStatus   string           `json:"deliveryStatus"`
	DeliveryAttempts int              `json:"deliveryAttempts"`
	SMSProvider      string           `json:"smsProvider,omitempty"`
	SMSMessageID     string           `json:"smsMessageId,omitempty"`
	IPAddress        string           `json:"ip,omitempty"`
	UserAgent        string           `json:"ua,omitempty"`
	Log              []domain.Attempt `json:"log,omitempty"`
	Version          int64            `json:"version"`
}

func nanos(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) *time.Time {
	if n == 0 {
		return nil
	}
	t := time.Unix(0, n).UTC()
	return &t
}

func toRecord(c domain.Challenge) record {
	status := c.DeliveryStatus
	if status == "" {
		status = domain.DeliveryPending
	}
	return record{
		ID:               c.ID,
		MobileNumber:     c.MobileNumber,
		Purpose:          c.Purpose,
		CodeHash:         c.CodeHash,
		CreatedAt:        nanos(&c.CreatedAt),
		ExpiresAt:        nanos(&c.ExpiresAt),
		Attempts:         c.Attempts,
		MaxAttempts:      c.MaxAttempts,
		ResendCount:      c.ResendCount,
		MaxResends:       c.MaxResends,
		LastResendAt:     nanos(c.LastResendAt),
		ResendCooldownMS: c.ResendCooldown.Milliseconds(),
		IsUsed:           c.IsUsed,
		UsedAt:           nanos(c.UsedAt),
		DeliveryStatus:   string(status),
		DeliveryAttempts: c.DeliveryAttempts,
		SMSProvider:      c.SMSProvider,
		SMSMessageID:     c.SMSMessageID,
		IPAddress:        c.IPAddress,
		UserAgent:        c.UserAgent,
		Log:              c.Log,
		Version:          c.Version,
	}
}

func (rec record) challenge() domain.Challenge {
	return domain.Challenge{
		ID:               rec.ID,
		MobileNumber:     rec.MobileNumber,
		Purpose:          rec.Purpose,
		CodeHash:         rec.CodeHash,
		CreatedAt:        time.Unix(0, rec.CreatedAt).UTC(),
		ExpiresAt:        time.Unix(0, rec.ExpiresAt).UTC(),
		Attempts:         rec.Attempts,
		MaxAttempts:      rec.MaxAttempts,
		ResendCount:      rec.ResendCount,
		MaxResends:       rec.MaxResends,
		LastResendAt:     fromNanos(rec.LastResendAt),
		ResendCooldown:   time.Duration(rec.ResendCooldownMS) * time.Millisecond,
		IsUsed:           rec.IsUsed,
		UsedAt:           fromNanos(rec.UsedAt),
		DeliveryStatus:   domain.DeliveryStatus(rec.DeliveryStatus),
		DeliveryAttempts: rec.DeliveryAttempts,
		SMSProvider:      rec.SMSProvider,
		SMSMessageID:     rec.SMSMessageID,
		IPAddress:        rec.IPAddress,
		UserAgent:        rec.UserAgent,
		Log:              rec.Log,
		Version:          rec.Version,
	}
}

// ttl is how long Redis keeps a record: its lifetime plus retention.
func (rec record) ttl() time.Duration {
	return max(time.Duration(rec.ExpiresAt-rec.CreatedAt), 0) + retention
}

func (rec record) encode() ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode challenge: %w", err)
	}
	return b, nil
}

func decode(b []byte) (record, error) {
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return record{}, fmt.Errorf("failed to decode challenge: %w", err)
	}
	return rec, nil
}

type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func (r *Challenges) load(ctx context.Context, g getter, id string) (record, error) {
	b, err := g.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return record{}, store.ErrNotFound
	}
	if err != nil {
		return record{}, err
	}
	return decode(b)
}

// watch runs fn under WATCH on keys, retrying lost races. Exhausted retries
// are ErrConflict.
func (r *Challenges) watch(ctx context.Context, fn func(tx *goredis.Tx) error, keys ...string) error {
	for range maxTxRetries {
		err := r.rdb.Watch(ctx, fn, keys...)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return store.ErrConflict
}

func (r *Challenges) Issue(ctx context.Context, c domain.Challenge, at time.Time) (int64, error) {
	idx := r.indexKey(c.MobileNumber, c.Purpose)
	rec := toRecord(c)
	rec.Version = 0

	var superseded int64
	err := r.watch(ctx, func(tx *goredis.Tx) error {
		superseded = 0

		ids, err := tx.ZRange(ctx, idx, 0, -1).Result()
		if err != nil {
			return err
		}
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = r.key(id)
		}
		if len(keys) > 0 {
			if err := tx.Watch(ctx, keys...).Err(); err != nil {
				return err
			}
		}

		var open []record
		for _, id := range ids {
			old, err := r.load(ctx, tx, id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if old.IsUsed {
				continue
			}
			old.IsUsed = true
			old.UsedAt = nanos(&at)
			old.Version++
			open = append(open, old)
		}

		b, err := rec.encode()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			for _, old := range open {
				ob, err := old.encode()
				if err != nil {
					return err
				}
				pipe.Set(ctx, r.key(old.ID), ob, goredis.KeepTTL)
			}
			pipe.Set(ctx, r.key(rec.ID), b, rec.ttl())
			pipe.ZAdd(ctx, idx, goredis.Z{Score: float64(rec.CreatedAt), Member: rec.ID})
			pipe.Expire(ctx, idx, rec.ttl())
			pipe.ZAdd(ctx, r.allKey(), goredis.Z{Score: float64(rec.CreatedAt), Member: rec.ID})
			return nil
		})
		if err != nil {
			return err
		}
		superseded = int64(len(open))
		return nil
	}, idx)
	if err != nil {
		return 0, fmt.Errorf("failed to issue challenge: %w", err)
	}
	return superseded, nil
}

func (r *Challenges) Get(ctx context.Context, id string) (domain.Challenge, error) {
	rec, err := r.load(ctx, r.rdb, id)
	if err != nil {
		return domain.Challenge{}, err
	}
	return rec.challenge(), nil
}

// latest walks the index newest first and returns the first record match
// accepts.
func (r *Challenges) latest(ctx context.Context, mobile string, p domain.Purpose, match func(record) bool) (domain.Challenge, error) {
	ids, err := r.rdb.ZRevRange(ctx, r.indexKey(mobile, p), 0, -1).Result()
	if err != nil {
		return domain.Challenge{}, err
	}
	for _, id := range ids {
		rec, err := r.load(ctx, r.rdb, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return domain.Challenge{}, err
		}
		if match(rec) {
			return rec.challenge(), nil
		}
	}
	return domain.Challenge{}, store.ErrNotFound
}

func (r *Challenges) LatestUnused(ctx context.Context, mobile string, p domain.Purpose) (domain.Challenge, error) {
	return r.latest(ctx, mobile, p, func(rec record) bool { return !rec.IsUsed })
}

func (r *Challenges) LatestValid(ctx context.Context, mobile string, p domain.Purpose, now time.Time) (domain.Challenge, error) {
	n := now.UTC().UnixNano()
	return r.latest(ctx, mobile, p, func(rec record) bool { return !rec.IsUsed && rec.ExpiresAt >= n })
}

func (r *Challenges) Update(ctx context.Context, c *domain.Challenge) error {
	key := r.key(c.ID)
	next := toRecord(*c)
	next.Version = c.Version + 1

	err := r.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		cur, err := r.load(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		if cur.Version != c.Version {
			return store.ErrConflict
		}
		b, err := next.encode()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, b, next.ttl())
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		c.Version = next.Version
		return nil
	case errors.Is(err, goredis.TxFailedErr):
		return store.ErrConflict
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrConflict):
		return err
	default:
		return fmt.Errorf("failed to update challenge: %w", err)
	}
}

func (r *Challenges) UpdateDelivery(
	ctx context.Context,
	id string,
	status domain.DeliveryStatus,
	provider, messageID string,
) error {
	key := r.key(id)
	return r.watch(ctx, func(tx *goredis.Tx) error {
		rec, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		rec.DeliveryStatus = string(status)
		rec.DeliveryAttempts++
		if provider != "" {
			rec.SMSProvider = provider
		}
		if messageID != "" {
			rec.SMSMessageID = messageID
		}
		rec.Version++

		b, err := rec.encode()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, b, goredis.KeepTTL)
			return nil
		})
		return err
	}, key)
}

// DeleteStale removes records that expired before now or were used before
// usedBefore. Index entries whose record Redis already evicted are dropped
// without being counted.
func (r *Challenges) DeleteStale(ctx context.Context, now, usedBefore time.Time) (int64, error) {
	ids, err := r.rdb.ZRange(ctx, r.allKey(), 0, -1).Result()
	if err != nil {
		return 0, err
	}
	nowN, usedN := now.UTC().UnixNano(), usedBefore.UTC().UnixNano()

	var deleted int64
	for chunk := range slices.Chunk(ids, 100) {
		recs, missing, err := r.loadMany(ctx, chunk)
		if err != nil {
			return deleted, err
		}

		var stale []record
		for _, rec := range recs {
			if rec.ExpiresAt < nowN || (rec.IsUsed && rec.UsedAt != 0 && rec.UsedAt < usedN) {
				stale = append(stale, rec)
			}
		}
		if len(stale) == 0 && len(missing) == 0 {
			continue
		}

		_, err = r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			for _, rec := range stale {
				pipe.Del(ctx, r.key(rec.ID))
				pipe.ZRem(ctx, r.indexKey(rec.MobileNumber, rec.Purpose), rec.ID)
				pipe.ZRem(ctx, r.allKey(), rec.ID)
			}
			for _, id := range missing {
				pipe.ZRem(ctx, r.allKey(), id)
			}
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete challenges: %w", err)
		}
		deleted += int64(len(stale))
	}
	return deleted, nil
}

// loadMany fetches records with one MGET. Ids with no record are returned
// in missing.
func (r *Challenges) loadMany(ctx context.Context, ids []string) (recs []record, missing []string, err error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, err
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		rec, err := decode([]byte(s))
		if err != nil {
			return nil, nil, err
		}
		recs = append(recs, rec)
	}
	return recs, missing, nil
}

func (r *Challenges) Stats(ctx context.Context, since, now time.Time) ([]domain.PurposeStats, error) {
	ids, err := r.rdb.ZRangeByScore(ctx, r.allKey(), &goredis.ZRangeBy{
		Min: strconv.FormatInt(since.UTC().UnixNano(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	recs, _, err := r.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	nowN := now.UTC().UnixNano()
	type acc struct {
		domain.PurposeStats
		attempts int64
	}
	by := map[domain.Purpose]*acc{}
	for _, rec := range recs {
		a, ok := by[rec.Purpose]
		if !ok {
			a = &acc{PurposeStats: domain.PurposeStats{Purpose: rec.Purpose}}
			by[rec.Purpose] = a
		}
		a.Total++
		if rec.IsUsed {
			a.Used++
		}
		if rec.ExpiresAt < nowN {
			a.Expired++
		}
		a.Resends += int64(rec.ResendCount)
		a.attempts += int64(rec.Attempts)
	}

	out := make([]domain.PurposeStats, 0, len(by))
	for _, a := range by {
		a.AvgAttempts = float64(a.attempts) / float64(a.Total)
		out = append(out, a.PurposeStats)
	}
	slices.SortFunc(out, func(a, b domain.PurposeStats) int {
		return strings.Compare(string(a.Purpose), string(b.Purpose))
	})
	return out, nil
}

// Ping verifies the Redis connection is alive.
func (r *Challenges) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
