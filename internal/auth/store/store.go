package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/gatehouse/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	// ErrConflict reports a write that lost a race: the row changed since it
	// was read. Callers reload and retry.
	ErrConflict = errors.New("store: conflicting update")
)

// Store is the root data access interface. Concrete drivers implement this.
// It exposes sub-repositories to keep concerns tidy and testable, and to stop
// transactions being opened inside transactions.
type Store interface {
	Accounts() Accounts
	Admins() Admins
	AdminSessions() AdminSessions
	Challenges() Challenges

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Accounts interface {
	// Create inserts a new account. A taken mobile number is ErrAlreadyExists.
	Create(ctx context.Context, a domain.Account) error

	GetByID(ctx context.Context, id string) (domain.Account, error)
	GetByMobile(ctx context.Context, mobile string) (domain.Account, error)

	// MarkVerified flips mobile_verified once. A second call is ErrConflict.
	MarkVerified(ctx context.Context, id string, at time.Time) error

	UpdateLockout(ctx context.Context, id string, s domain.LockoutState) error

	// ReplaceSession overwrites the current session in a single statement,
	// revoking whatever session was there before. It also records the login.
	ReplaceSession(ctx context.Context, id string, s domain.Session) error

	// ClearSession drops the current session.
	ClearSession(ctx context.Context, id string) error

	UpdatePassword(ctx context.Context, id, hash string, at time.Time) error

	// SetActive (de)activates an account. Deactivating stamps deactivated_at.
	SetActive(ctx context.Context, id string, active bool, at time.Time) error
}

type Admins interface {
	Create(ctx context.Context, a domain.Admin) error
	GetByID(ctx context.Context, id string) (domain.Admin, error)

	// GetByLogin finds an admin by username or email.
	GetByLogin(ctx context.Context, login string) (domain.Admin, error)

	UpdateLockout(ctx context.Context, id string, s domain.LockoutState) error
	RecordLogin(ctx context.Context, id string, at time.Time, ip string) error
	UpdatePassword(ctx context.Context, id, hash string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool, at time.Time) error

	// IsEmpty returns true if there are no admins.
	IsEmpty(ctx context.Context) (bool, error)
}

type AdminSessions interface {
	Insert(ctx context.Context, s domain.AdminSession) error

	// DeactivateDevice ends every active session the admin holds on deviceID.
	DeactivateDevice(ctx context.Context, adminID, deviceID string) (int64, error)

	GetByID(ctx context.Context, sessionID string) (domain.AdminSession, error)
	ListByAdmin(ctx context.Context, adminID string) ([]domain.AdminSession, error)

	// Touch records activity on a live session.
	Touch(ctx context.Context, sessionID string, at time.Time) error

	// Terminate ends one active session. ErrNotFound when there is none.
	Terminate(ctx context.Context, adminID, sessionID string) error
	TerminateAll(ctx context.Context, adminID string) (int64, error)

	// DeleteStale removes sessions that ended or expired before cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Challenges persists OTP challenges. It is the one repository with more
// than one driver, so it is kept free of Tx: every method is atomic on its
// own.
type Challenges interface {
	// Issue supersedes every unused challenge for c's mobile number and
	// purpose, then inserts c, as one atomic step.
	Issue(ctx context.Context, c domain.Challenge, at time.Time) (superseded int64, err error)

	Get(ctx context.Context, id string) (domain.Challenge, error)

	// LatestUnused returns the newest unused challenge, expired or not.
	LatestUnused(ctx context.Context, mobile string, p domain.Purpose) (domain.Challenge, error)

	// LatestValid returns the newest unused challenge that is unexpired at now.
	LatestValid(ctx context.Context, mobile string, p domain.Purpose, now time.Time) (domain.Challenge, error)

	// Update writes c back if nobody else has since c was read, then bumps
	// c.Version. A lost race is ErrConflict.
	Update(ctx context.Context, c *domain.Challenge) error

	// UpdateDelivery records an SMS delivery outcome. Empty provider and
	// message id keep what is stored.
	UpdateDelivery(ctx context.Context, id string, status domain.DeliveryStatus, provider, messageID string) error

	// DeleteStale removes challenges that expired before now or were used
	// before usedBefore.
	DeleteStale(ctx context.Context, now, usedBefore time.Time) (int64, error)

	// Stats summarises challenges created since.
	Stats(ctx context.Context, since, now time.Time) ([]domain.PurposeStats, error)
}
