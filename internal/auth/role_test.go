package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/filedepot/filedepot/internal/storage"
)

func TestCan(t *testing.T) {
	assert.True(t, Can(storage.RoleMaster, CapManageUsers))
	assert.True(t, Can(storage.RoleMaster, CapAnyFile))

	assert.True(t, Can(storage.RoleStaff, CapAnyFile))
	assert.True(t, Can(storage.RoleStaff, CapAnyStats))
	assert.False(t, Can(storage.RoleStaff, CapManageUsers))

	assert.True(t, Can(storage.RoleClient, CapOwnFiles))
	assert.False(t, Can(storage.RoleClient, CapAnyFile))

	// Unknown roles hold nothing.
	assert.False(t, Can(storage.Role("admin"), CapOwnFiles))
}

func TestCanAccessFile(t *testing.T) {
	owner := &storage.User{ID: "u1", Role: storage.RoleClient}
	stranger := &storage.User{ID: "u2", Role: storage.RoleClient}
	staff := &storage.User{ID: "s1", Role: storage.RoleStaff}
	master := &storage.User{ID: "m1", Role: storage.RoleMaster}

	assert.True(t, CanAccessFile(owner, "u1"))
	assert.False(t, CanAccessFile(stranger, "u1"))
	assert.True(t, CanAccessFile(staff, "u1"))
	assert.True(t, CanAccessFile(master, "u1"))
	assert.False(t, CanAccessFile(nil, "u1"))
}

func TestCanViewStats(t *testing.T) {
	client := &storage.User{ID: "u1", Role: storage.RoleClient}
	staff := &storage.User{ID: "s1", Role: storage.RoleStaff}

	assert.True(t, CanViewStats(client, "u1"))
	assert.False(t, CanViewStats(client, "u2"))
	assert.True(t, CanViewStats(staff, "u1"))
	assert.False(t, CanViewStats(nil, "u1"))
}

func TestCanManageUsers(t *testing.T) {
	assert.True(t, CanManageUsers(&storage.User{ID: "m1", Role: storage.RoleMaster}))
	assert.False(t, CanManageUsers(&storage.User{ID: "s1", Role: storage.RoleStaff}))
	assert.False(t, CanManageUsers(&storage.User{ID: "u1", Role: storage.RoleClient}))
	assert.False(t, CanManageUsers(nil))
}
