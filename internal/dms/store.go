package dms

import (
	"context"
	"time"
)

// Store persists users and email records. Every mutation goes through
// Transact so that a check-in, an edit, a delete and a sweep cannot
// interleave on the same record.
type Store interface {
	// Transact runs fn in a single transaction. A non-nil error from fn
	// rolls the transaction back and is returned unchanged.
	Transact(ctx context.Context, fn func(tx StoreTx) error) error

	// FindDueEmails returns records whose send time or next interval
	// trigger is at or before now, across all owners.
	FindDueEmails(ctx context.Context, now time.Time) ([]*EmailRecord, error)

	// CheckMigrations verifies the schema is at the latest version.
	CheckMigrations() error

	// Close closes the underlying connection.
	Close() error
}

// StoreTx is the set of operations available inside a transaction.
// Finders return nil, nil when nothing matches.
type StoreTx interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUser(ctx context.Context, id string) (*User, error)
	InsertUser(ctx context.Context, u *User) error
	UpdateUserNames(ctx context.Context, u *User) error

	// FindEmailsByCode returns the owner's records bound to the code digest,
	// oldest first. Implementations lock the returned rows where the engine
	// supports it.
	FindEmailsByCode(ctx context.Context, ownerID, codeDigest string) ([]*EmailRecord, error)

	// FindEmail returns one of the owner's records, locking it where the
	// engine supports it.
	FindEmail(ctx context.Context, ownerID, id string) (*EmailRecord, error)

	InsertEmail(ctx context.Context, r *EmailRecord) error
	UpdateEmail(ctx context.Context, r *EmailRecord) error
	DeleteEmail(ctx context.Context, ownerID, id string) error
}
