package store

import (
	"context"
	"errors"
	"time"

	"github.com/perchboard/perch/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite, postgres)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable. We can change having the sub-repos as methods later but we do it
// now so we can have more control and actively stop people from accidently
// doing transactions within transactions.
type Store interface {
	Users() Users
	LoginAttempts() LoginAttempts

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// Use it for multi-step operations that must be atomic.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	// This is the recommended way to handle transactions as it automatically
	// handles commit/rollback logic.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources (optional for sqlite).
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

type Users interface {
	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id int64) (domain.User, error)

	// GetUserByUsername is used during password login. Lookup is
	// case-insensitive on the stored username.
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)

	// CreateUser inserts a new user and returns the assigned row id.
	CreateUser(ctx context.Context, u domain.User) (int64, error)

	// UpdateDisplayName mutates the display_name and bumps updated_at.
	UpdateDisplayName(ctx context.Context, userID int64, displayName string) error

	// UpdatePasswordHash sets the password_hash (argon2) and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, userID int64, newHash string) error

	// DeleteUser removes the user record.
	DeleteUser(ctx context.Context, userID int64) error

	// IsEmpty returns true if there are no users.
	IsEmpty(ctx context.Context) (bool, error)
}

type LoginAttempts interface {
	// RecordAttempt appends a single attempt record. Records are immutable
	// once written.
	RecordAttempt(ctx context.Context, a domain.LoginAttempt) error

	// CountFailuresByIdentifier counts failed attempts for an identifier
	// at or after since.
	CountFailuresByIdentifier(ctx context.Context, identifier string, since time.Time) (int64, error)

	// CountFailuresByOrigin counts failed attempts from an origin at or
	// after since.
	CountFailuresByOrigin(ctx context.Context, origin string, since time.Time) (int64, error)

	// LastAttemptByIdentifier returns the most recent attempt for an
	// identifier, ErrNotFound if none exist.
	LastAttemptByIdentifier(ctx context.Context, identifier string) (domain.LoginAttempt, error)

	// DeleteAttemptsBefore prunes records older than cutoff. Housekeeping
	// only; returns the number of rows removed.
	DeleteAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
