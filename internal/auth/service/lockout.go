package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/gatehouse/internal/auth/domain"
)

// lockoutWriter is implemented by both the account and admin repositories.
type lockoutWriter interface {
	UpdateLockout(ctx context.Context, id string, s domain.LockoutState) error
}

// LockoutService applies the failed-login policy. Callers load the row,
// call Check before comparing the password, then record the outcome
// against the same repository, inside one transaction.
type LockoutService struct {
	Policy domain.LockoutPolicy
	Now    func() time.Time
}

func (s *LockoutService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *LockoutService) policy() domain.LockoutPolicy {
	p := s.Policy
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = domain.DefaultLockoutPolicy.MaxAttempts
	}
	if p.LockFor <= 0 {
		p.LockFor = domain.DefaultLockoutPolicy.LockFor
	}
	return p
}

// Check returns a *LockedError while a lock is in force.
func (s *LockoutService) Check(state domain.LockoutState) error {
	if state.IsLocked(s.now()) {
		return &LockedError{Until: *state.LockedUntil}
	}
	return nil
}

// Failure records one failed attempt and returns the new state.
func (s *LockoutService) Failure(
	ctx context.Context,
	w lockoutWriter,
	id string,
	state domain.LockoutState,
) (domain.LockoutState, error) {
	next := state.RegisterFailure(s.now(), s.policy())
	if err := w.UpdateLockout(ctx, id, next); err != nil {
		return state, fmt.Errorf("failed to record login failure: %w", err)
	}
	return next, nil
}

// Success clears the counter. Nothing is written when it is already clear.
func (s *LockoutService) Success(
	ctx context.Context,
	w lockoutWriter,
	id string,
	state domain.LockoutState,
) error {
	if !state.Dirty() {
		return nil
	}
	if err := w.UpdateLockout(ctx, id, state.Cleared()); err != nil {
		return fmt.Errorf("failed to clear login failures: %w", err)
	}
	return nil
}
