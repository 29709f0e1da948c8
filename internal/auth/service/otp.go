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
	"github.com/aussiebroadwan/gatehouse/pkg/sms"
)

// maxChallengeRetries bounds optimistic retries when a challenge changes
// between read and write.
const maxChallengeRetries = 4

// usedChallengeRetention is how long a used challenge is kept for stats.
const usedChallengeRetention = 24 * time.Hour

type OTPConfig struct {
	Expiry         time.Duration
	Length         int
	MaxAttempts    int
	MaxResends     int
	ResendCooldown time.Duration
	BcryptCost     int
}

func DefaultOTPConfig() OTPConfig {
	return OTPConfig{
		Expiry:         5 * time.Minute,
		Length:         cryptox.DefaultOTPDigits,
		MaxAttempts:    3,
		MaxResends:     3,
		ResendCooldown: 60 * time.Second,
		BcryptCost:     10,
	}
}

// OTPService issues and verifies one-time codes sent by SMS.
type OTPService struct {
	Challenges store.Challenges
	Sender     sms.Sender
	Templates  sms.Templates
	Config     OTPConfig

	// Generate produces a code; defaults to cryptox.GenerateOTPCode.
	Generate func(digits int) (string, error)
	Now      func() time.Time
}

type ChallengeRequest struct {
	Mobile    string
	Purpose   domain.Purpose
	IP        string
	UserAgent string
}

type ChallengeResult struct {
	ChallengeID       string
	ExpiresAt         time.Time
	Delivered         bool
	ResendCount       int
	MaxResends        int
	ResendAvailableIn time.Duration
}

// ResendsRemaining is how many more resends the challenge allows.
func (r *ChallengeResult) ResendsRemaining() int {
	return max(r.MaxResends-r.ResendCount, 0)
}

type VerifyRequest struct {
	Mobile    string
	Purpose   domain.Purpose
	Code      string
	IP        string
	UserAgent string
}

func (s *OTPService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *OTPService) newCode() (code, hash string, err error) {
	gen := s.Generate
	if gen == nil {
		gen = cryptox.GenerateOTPCode
	}
	code, err = gen(s.Config.Length)
	if err != nil {
		return "", "", err
	}
	hash, err = cryptox.HashOTP(code, s.Config.BcryptCost)
	if err != nil {
		return "", "", err
	}
	return code, hash, nil
}

func validChallengeRequest(mobile string, p domain.Purpose) error {
	if strings.TrimSpace(mobile) == "" || !p.Valid() {
		return ErrInvalidRequest
	}
	return nil
}

// Create supersedes any outstanding challenge for the mobile number and
// purpose, stores a new one and sends its code.
func (s *OTPService) Create(ctx context.Context, req ChallengeRequest) (*ChallengeResult, error) {
	if err := validChallengeRequest(req.Mobile, req.Purpose); err != nil {
		return nil, err
	}
	l := slogx.FromContext(ctx)
	now := s.now()

	code, hash, err := s.newCode()
	if err != nil {
		return nil, err
	}

	// Throttling must surface before the outstanding challenge is superseded.
	ctx, err = s.admit(ctx)
	if err != nil {
		return nil, err
	}

	c := domain.Challenge{
		ID:             idx.NewAt(now).String(),
		MobileNumber:   req.Mobile,
		Purpose:        req.Purpose,
		CodeHash:       hash,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.Config.Expiry),
		MaxAttempts:    s.Config.MaxAttempts,
		MaxResends:     s.Config.MaxResends,
		ResendCooldown: s.Config.ResendCooldown,
		DeliveryStatus: domain.DeliveryPending,
		IPAddress:      req.IP,
		UserAgent:      req.UserAgent,
	}

	superseded, err := s.Challenges.Issue(ctx, c, now)
	if err != nil {
		return nil, fmt.Errorf("failed to issue challenge: %w", err)
	}
	l.Info("challenge issued",
		slog.String("challenge_id", c.ID),
		slog.String("purpose", string(c.Purpose)),
		slog.Int64("superseded", superseded),
	)

	delivered, err := s.deliver(ctx, &c, code)
	if err != nil {
		return nil, err
	}

	return &ChallengeResult{
		ChallengeID:       c.ID,
		ExpiresAt:         c.ExpiresAt,
		Delivered:         delivered,
		MaxResends:        c.MaxResends,
		ResendAvailableIn: c.CooldownRemaining(now),
	}, nil
}

// Resend issues a fresh code on the latest unused challenge. Without one it
// behaves like Create.
func (s *OTPService) Resend(ctx context.Context, req ChallengeRequest) (*ChallengeResult, error) {
	if err := validChallengeRequest(req.Mobile, req.Purpose); err != nil {
		return nil, err
	}
	l := slogx.FromContext(ctx)

	code, hash, err := s.newCode()
	if err != nil {
		return nil, err
	}

	for range maxChallengeRetries {
		now := s.now()

		c, err := s.Challenges.LatestUnused(ctx, req.Mobile, req.Purpose)
		if errors.Is(err, store.ErrNotFound) {
			return s.Create(ctx, req)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load challenge: %w", err)
		}

		if c.ResendsExhausted() {
			return nil, &ResendExhaustedError{ResendCount: c.ResendCount, MaxResends: c.MaxResends}
		}
		if wait := c.CooldownRemaining(now); wait > 0 {
			return nil, &CooldownError{Remaining: wait, ResendCount: c.ResendCount, MaxResends: c.MaxResends}
		}

		// A throttled resend leaves the old code, count and cooldown alone.
		if ctx, err = s.admit(ctx); err != nil {
			return nil, err
		}

		c.Reissue(hash, now, s.Config.Expiry)
		if err := s.Challenges.Update(ctx, &c); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return nil, fmt.Errorf("failed to update challenge: %w", err)
		}

		l.Info("challenge resent",
			slog.String("challenge_id", c.ID),
			slog.Int("resend_count", c.ResendCount),
		)

		delivered, err := s.deliver(ctx, &c, code)
		if err != nil {
			return nil, err
		}
		return &ChallengeResult{
			ChallengeID:       c.ID,
			ExpiresAt:         c.ExpiresAt,
			Delivered:         delivered,
			ResendCount:       c.ResendCount,
			MaxResends:        c.MaxResends,
			ResendAvailableIn: c.CooldownRemaining(now),
		}, nil
	}
	return nil, fmt.Errorf("failed to resend challenge: %w", store.ErrConflict)
}

// Verify checks code against the newest valid challenge. The attempt ceiling
// is checked before the code is compared, so a correct code after the last
// attempt still fails.
func (s *OTPService) Verify(ctx context.Context, req VerifyRequest) (*domain.Challenge, error) {
	if err := validChallengeRequest(req.Mobile, req.Purpose); err != nil {
		return nil, err
	}
	l := slogx.FromContext(ctx)

	for range maxChallengeRetries {
		now := s.now()

		c, err := s.Challenges.LatestValid(ctx, req.Mobile, req.Purpose, now)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrChallengeInvalidOrExpired
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load challenge: %w", err)
		}

		if c.AttemptsExhausted() {
			return nil, ErrChallengeAttemptsExhausted
		}

		match := true
		if err := cryptox.CompareOTP(c.CodeHash, req.Code); err != nil {
			if !errors.Is(err, cryptox.ErrOTPMismatch) {
				return nil, err
			}
			match = false
		}

		c.RecordAttempt(domain.Attempt{
			AttemptedAt: now,
			IPAddress:   req.IP,
			UserAgent:   req.UserAgent,
			Success:     match,
		})
		if err := s.Challenges.Update(ctx, &c); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return nil, fmt.Errorf("failed to record challenge attempt: %w", err)
		}

		if !match {
			l.Info("challenge code mismatch",
				slog.String("challenge_id", c.ID),
				slog.Int("attempts", c.Attempts),
			)
			return nil, &InvalidCodeError{Remaining: c.AttemptsRemaining()}
		}

		l.Info("challenge verified", slog.String("challenge_id", c.ID))
		return &c, nil
	}
	return nil, fmt.Errorf("failed to verify challenge: %w", store.ErrConflict)
}

// admit reserves an outbound SMS slot. Once admitted, a send that still
// fails is an ordinary failed delivery.
func (s *OTPService) admit(ctx context.Context) (context.Context, error) {
	admitted, err := sms.Admit(ctx, s.Sender)
	if errors.Is(err, sms.ErrThrottled) {
		slogx.FromContext(ctx).Warn("sms throttled", slog.Any("error", err))
		return ctx, ErrRateLimited
	}
	if err != nil {
		return ctx, fmt.Errorf("failed to admit sms: %w", err)
	}
	return admitted, nil
}

// deliver sends the code and records the outcome. A failed send is not an
// error; the caller reports it and the user can ask for a resend.
func (s *OTPService) deliver(ctx context.Context, c *domain.Challenge, code string) (bool, error) {
	l := slogx.FromContext(ctx)
	msg := s.Templates.OTP(string(c.Purpose), code, s.Config.Expiry)

	res, sendErr := s.Sender.Send(ctx, c.MobileNumber, msg)
	status := domain.DeliverySent
	if sendErr != nil || !res.Success {
		status = domain.DeliveryFailed
		l.Warn("challenge delivery failed",
			slog.String("challenge_id", c.ID),
			slog.String("reason", res.Error),
			slog.Any("error", sendErr),
		)
	}

	if err := s.Challenges.UpdateDelivery(ctx, c.ID, status, res.Provider, res.MessageID); err != nil {
		return false, fmt.Errorf("failed to record delivery: %w", err)
	}
	c.DeliveryStatus = status
	return status == domain.DeliverySent, nil
}

// RecordDelivery applies a provider delivery receipt.
func (s *OTPService) RecordDelivery(
	ctx context.Context,
	challengeID string,
	status domain.DeliveryStatus,
	provider, messageID string,
) error {
	if challengeID == "" || !status.Valid() {
		return ErrInvalidRequest
	}
	if err := s.Challenges.UpdateDelivery(ctx, challengeID, status, provider, messageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// Cleanup removes expired challenges and used ones past retention.
func (s *OTPService) Cleanup(ctx context.Context) (int64, error) {
	now := s.now()
	return s.Challenges.DeleteStale(ctx, now, now.Add(-usedChallengeRetention))
}

// Stats summarises challenges created in the last window.
func (s *OTPService) Stats(ctx context.Context, window time.Duration) ([]domain.PurposeStats, error) {
	now := s.now()
	return s.Challenges.Stats(ctx, now.Add(-window), now)
}
