// Package storage defines the filedepot data model and the Store interface
// implemented by the in-memory and SQL backends.
package storage

import (
	"time"
)

// GiB is the unit used for per-user storage allocations.
const GiB int64 = 1024 * 1024 * 1024

// Role is the access level of a user account.
type Role string

// Built-in roles. The set is closed: every account holds exactly one of these.
const (
	// RoleMaster is the singleton administrative account created at bootstrap.
	RoleMaster Role = "master"
	// RoleStaff is an operator account with access to all files and stats.
	RoleStaff Role = "staff"
	// RoleClient is a regular account restricted to its own files.
	RoleClient Role = "client"
)

// Valid reports whether r is one of the built-in roles.
func (r Role) Valid() bool {
	switch r {
	case RoleMaster, RoleStaff, RoleClient:
		return true
	}
	return false
}

// Elevated reports whether r grants access to resources owned by other users.
func (r Role) Elevated() bool {
	return r == RoleMaster || r == RoleStaff
}

// User is a registered account with its storage allocation and live usage.
type User struct {
	ID           string `json:"id" db:"id"`
	Username     string `json:"username" db:"username"`
	PasswordHash string `json:"-" db:"password_hash"`
	Role         Role   `json:"role" db:"role"`

	// GBAllocation is the admin-facing quota knob. QuotaBytes is derived
	// from it (GBAllocation * GiB) and kept in sync on every change.
	GBAllocation int   `json:"gb_allocation" db:"gb_allocation"`
	QuotaBytes   int64 `json:"quota_bytes" db:"quota_bytes"`

	// UsedBytes counts finalized uploads. ReservedBytes counts declared
	// sizes of uploads still in flight. Both are mutated only through the
	// Store quota operations so that UsedBytes+ReservedBytes never passes
	// QuotaBytes.
	UsedBytes     int64 `json:"used_bytes" db:"used_bytes"`
	ReservedBytes int64 `json:"reserved_bytes" db:"reserved_bytes"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AvailableBytes returns the bytes still free under the user's quota.
func (u *User) AvailableBytes() int64 {
	avail := u.QuotaBytes - u.UsedBytes - u.ReservedBytes
	if avail < 0 {
		return 0
	}
	return avail
}

// FileStatus is the lifecycle state of an uploaded file.
type FileStatus string

const (
	// FilePending means the upload was initialized but not yet finalized.
	FilePending FileStatus = "pending"
	// FileComplete means all chunks were verified present at finalize.
	FileComplete FileStatus = "complete"
)

// File is the metadata record for one uploaded file.
type File struct {
	ID          string     `json:"id" db:"id"`
	OwnerID     string     `json:"owner_id" db:"owner_id"`
	Filename    string     `json:"filename" db:"filename"`
	MimeType    string     `json:"mime_type" db:"mime_type"`
	TotalSize   int64      `json:"total_size" db:"total_size"`
	TotalChunks int        `json:"total_chunks" db:"total_chunks"`
	Status      FileStatus `json:"status" db:"status"`

	// ShareToken is empty until a share link is generated. A non-empty
	// token grants unauthenticated access to this file only.
	ShareToken string `json:"share_token,omitempty" db:"share_token"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Shared reports whether a share link has been generated for the file.
func (f *File) Shared() bool {
	return f.ShareToken != ""
}

// Session is a server-side login session identified by an opaque token.
type Session struct {
	Token      string    `json:"token" db:"token"`
	UserID     string    `json:"user_id" db:"user_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	LastActive time.Time `json:"last_active" db:"last_active"`
}

// Expired reports whether the session has been idle longer than ttl at
// the given instant. A non-positive ttl disables expiry.
func (s *Session) Expired(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(s.LastActive) > ttl
}
