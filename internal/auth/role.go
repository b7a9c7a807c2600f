// Package auth implements authentication and authorization for filedepot:
// password hashing, opaque session and share tokens, login sessions, and
// the role capability policy.
package auth

import (
	"errors"

	"github.com/filedepot/filedepot/internal/storage"
)

// ErrUnauthorized is returned when the caller's role and ownership do not
// permit the requested operation.
var ErrUnauthorized = errors.New("not authorized")

// Capability is a discrete permission held by a role.
type Capability string

// Capabilities checked by the per-operation policies.
const (
	CapOwnFiles    Capability = "files:own"    // manage files you own
	CapAnyFile     Capability = "files:any"    // read/modify/delete any file
	CapOwnStats    Capability = "stats:own"    // view your own storage stats
	CapAnyStats    Capability = "stats:any"    // view any user's storage stats
	CapManageUsers Capability = "users:manage" // create/delete accounts, set allocations
)

// roleCapabilities is the closed grant table: each role maps to the full
// set of capabilities it holds. Roles outside the table hold nothing.
var roleCapabilities = map[storage.Role][]Capability{
	storage.RoleMaster: {CapOwnFiles, CapAnyFile, CapOwnStats, CapAnyStats, CapManageUsers},
	storage.RoleStaff:  {CapOwnFiles, CapAnyFile, CapOwnStats, CapAnyStats},
	storage.RoleClient: {CapOwnFiles, CapOwnStats},
}

// Can reports whether the role holds the capability.
func Can(role storage.Role, c Capability) bool {
	for _, held := range roleCapabilities[role] {
		if held == c {
			return true
		}
	}
	return false
}

// CanAccessFile reports whether the user may read, modify, or delete a
// file owned by ownerID. Owners always can; anyone else needs CapAnyFile.
func CanAccessFile(u *storage.User, ownerID string) bool {
	if u == nil {
		return false
	}
	if u.ID == ownerID {
		return Can(u.Role, CapOwnFiles)
	}
	return Can(u.Role, CapAnyFile)
}

// CanViewStats reports whether the user may view the storage stats of the
// subject account.
func CanViewStats(u *storage.User, subjectID string) bool {
	if u == nil {
		return false
	}
	if u.ID == subjectID {
		return Can(u.Role, CapOwnStats)
	}
	return Can(u.Role, CapAnyStats)
}

// CanManageUsers reports whether the user may create or delete accounts
// and change allocations.
func CanManageUsers(u *storage.User) bool {
	return u != nil && Can(u.Role, CapManageUsers)
}
