package domain

import "time"

// LockoutPolicy is the failed-login threshold and how long a lock lasts.
type LockoutPolicy struct {
	MaxAttempts int
	LockFor     time.Duration
}

// DefaultLockoutPolicy locks for five minutes after five failures.
var DefaultLockoutPolicy = LockoutPolicy{MaxAttempts: 5, LockFor: 5 * time.Minute}

// LockoutState is the failed-login counter embedded in account and admin rows.
type LockoutState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// IsLocked reports whether a lock is in force at now.
func (s LockoutState) IsLocked(now time.Time) bool {
	return s.LockedUntil != nil && s.LockedUntil.After(now)
}

// RegisterFailure returns the state after one more failed attempt.
//
// A lock that has already run out restarts the count at 1 with no lock, so the
// next lock only happens after another full run of failures. Otherwise the
// count goes up and a lock is set once it reaches the threshold, unless one
// is already in force.
func (s LockoutState) RegisterFailure(now time.Time, p LockoutPolicy) LockoutState {
	if s.LockedUntil != nil && !s.LockedUntil.After(now) {
		return LockoutState{FailedAttempts: 1}
	}

	next := LockoutState{FailedAttempts: s.FailedAttempts + 1, LockedUntil: s.LockedUntil}
	if next.FailedAttempts >= p.MaxAttempts && !s.IsLocked(now) {
		until := now.Add(p.LockFor)
		next.LockedUntil = &until
	}
	return next
}

// Cleared is the state after a successful login.
func (s LockoutState) Cleared() LockoutState {
	return LockoutState{}
}

// Dirty reports whether the state differs from Cleared.
func (s LockoutState) Dirty() bool {
	return s.FailedAttempts != 0 || s.LockedUntil != nil
}
