package storage

import (
	"context"
	"time"
)

// Store is the persistence boundary for users, files, and sessions.
// Two implementations exist: MemoryStore for tests and single-process
// deployments, and SQLStore backed by SQLite or PostgreSQL.
//
// Quota operations are atomic per user: ReserveQuota performs its
// check-and-reserve as one step so that concurrent reservations cannot
// jointly overshoot the allocation.
type Store interface {
	// CreateUser inserts a new user. Returns ErrUsernameTaken if the
	// username is already registered.
	CreateUser(ctx context.Context, u *User) error

	// UserByID returns the user with the given id, or ErrUserNotFound.
	UserByID(ctx context.Context, id string) (*User, error)

	// UserByUsername returns the user with the given username, or
	// ErrUserNotFound.
	UserByUsername(ctx context.Context, username string) (*User, error)

	// ListUsers returns all users ordered by username.
	ListUsers(ctx context.Context) ([]*User, error)

	// DeleteUser removes a user. Returns ErrMasterProtected for the
	// master account and ErrUserNotFound if the id does not exist.
	DeleteUser(ctx context.Context, id string) error

	// SetUserAllocation updates gb_allocation and the derived quota_bytes
	// together. Shrinking below current usage is allowed; the account is
	// simply over quota until files are deleted.
	SetUserAllocation(ctx context.Context, id string, gb int) error

	// ReserveQuota atomically checks that used+reserved+n fits within the
	// user's quota and reserves n bytes. Returns ErrQuotaExceeded when it
	// does not fit; a declared size landing exactly on the limit succeeds.
	ReserveQuota(ctx context.Context, userID string, n int64) error

	// CommitReserved converts n reserved bytes into used bytes after a
	// successful finalize. No quota re-check is performed.
	CommitReserved(ctx context.Context, userID string, n int64) error

	// ReleaseReserved returns n reserved bytes to the free pool when a
	// pending upload is abandoned or deleted.
	ReleaseReserved(ctx context.Context, userID string, n int64) error

	// ReleaseUsed subtracts n from used bytes when a complete file is
	// deleted. Usage is floored at zero.
	ReleaseUsed(ctx context.Context, userID string, n int64) error

	// CreateFile inserts a new file record in Pending status.
	CreateFile(ctx context.Context, f *File) error

	// FileByID returns the file with the given id, or ErrFileNotFound.
	FileByID(ctx context.Context, id string) (*File, error)

	// FilesByOwner returns all files owned by the user, newest first.
	FilesByOwner(ctx context.Context, ownerID string) ([]*File, error)

	// CountFilesByStatus counts files currently in the given status.
	CountFilesByStatus(ctx context.Context, status FileStatus) (int, error)

	// PendingFilesOlderThan returns pending files created before cutoff.
	// Used by the janitor to find abandoned uploads.
	PendingFilesOlderThan(ctx context.Context, cutoff time.Time) ([]*File, error)

	// MarkFileComplete transitions a file to Complete status.
	MarkFileComplete(ctx context.Context, id string) error

	// SetFileShareToken stores the share token for a file.
	SetFileShareToken(ctx context.Context, id, token string) error

	// DeleteFile removes a file record, or returns ErrFileNotFound.
	DeleteFile(ctx context.Context, id string) error

	// CreateSession inserts a new login session.
	CreateSession(ctx context.Context, s *Session) error

	// SessionByToken returns the session for a token, or
	// ErrSessionNotFound.
	SessionByToken(ctx context.Context, token string) (*Session, error)

	// TouchSession updates the session's last-active time.
	TouchSession(ctx context.Context, token string, at time.Time) error

	// DeleteSession removes a session. Deleting an unknown token is not
	// an error; logout is idempotent.
	DeleteSession(ctx context.Context, token string) error

	// DeleteSessionsIdleBefore removes sessions whose last activity is
	// older than cutoff and returns how many were removed.
	DeleteSessionsIdleBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases the underlying resources.
	Close() error
}
