package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and by single-process
// deployments that do not need persistence across restarts.
//
// A single mutex guards all three maps. That serializes quota mutations
// per process, which is exactly the atomicity ReserveQuota needs.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*User    // id -> user
	files    map[string]*File    // id -> file
	sessions map[string]*Session // token -> session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*User),
		files:    make(map[string]*File),
		sessions: make(map[string]*Session),
	}
}

// CreateUser inserts a new user.
func (m *MemoryStore) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Username == u.Username {
			return ErrUsernameTaken
		}
	}

	cp := *u
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.users[cp.ID] = &cp
	return nil
}

// UserByID returns a copy of the user with the given id.
func (m *MemoryStore) UserByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// UserByUsername returns a copy of the user with the given username.
func (m *MemoryStore) UserByUsername(_ context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

// ListUsers returns all users ordered by username.
func (m *MemoryStore) ListUsers(_ context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		users = append(users, &cp)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
	return users, nil
}

// DeleteUser removes a user along with their sessions and file records.
// The master account is refused.
func (m *MemoryStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	if u.Role == RoleMaster {
		return ErrMasterProtected
	}
	delete(m.users, id)
	for token, s := range m.sessions {
		if s.UserID == id {
			delete(m.sessions, token)
		}
	}
	for fid, f := range m.files {
		if f.OwnerID == id {
			delete(m.files, fid)
		}
	}
	return nil
}

// SetUserAllocation updates the allocation and derived quota together.
func (m *MemoryStore) SetUserAllocation(_ context.Context, id string, gb int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.GBAllocation = gb
	u.QuotaBytes = int64(gb) * GiB
	return nil
}

// ReserveQuota atomically checks and reserves n bytes for the user.
func (m *MemoryStore) ReserveQuota(_ context.Context, userID string, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if u.UsedBytes+u.ReservedBytes+n > u.QuotaBytes {
		return ErrQuotaExceeded
	}
	u.ReservedBytes += n
	return nil
}

// CommitReserved moves n bytes from reserved to used.
func (m *MemoryStore) CommitReserved(_ context.Context, userID string, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.UsedBytes += n
	u.ReservedBytes -= n
	if u.ReservedBytes < 0 {
		u.ReservedBytes = 0
	}
	return nil
}

// ReleaseReserved returns n reserved bytes to the free pool.
func (m *MemoryStore) ReleaseReserved(_ context.Context, userID string, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.ReservedBytes -= n
	if u.ReservedBytes < 0 {
		u.ReservedBytes = 0
	}
	return nil
}

// ReleaseUsed subtracts n from used bytes, flooring at zero.
func (m *MemoryStore) ReleaseUsed(_ context.Context, userID string, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.UsedBytes -= n
	if u.UsedBytes < 0 {
		u.UsedBytes = 0
	}
	return nil
}

// CreateFile inserts a new file record.
func (m *MemoryStore) CreateFile(_ context.Context, f *File) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *f
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.files[cp.ID] = &cp
	return nil
}

// FileByID returns a copy of the file with the given id.
func (m *MemoryStore) FileByID(_ context.Context, id string) (*File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[id]
	if !ok {
		return nil, ErrFileNotFound
	}
	cp := *f
	return &cp, nil
}

// FilesByOwner returns the user's files, newest first.
func (m *MemoryStore) FilesByOwner(_ context.Context, ownerID string) ([]*File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files := make([]*File, 0)
	for _, f := range m.files {
		if f.OwnerID == ownerID {
			cp := *f
			files = append(files, &cp)
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].CreatedAt.After(files[j].CreatedAt)
	})
	return files, nil
}

// CountFilesByStatus counts files currently in the given status.
func (m *MemoryStore) CountFilesByStatus(_ context.Context, status FileStatus) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, f := range m.files {
		if f.Status == status {
			n++
		}
	}
	return n, nil
}

// PendingFilesOlderThan returns pending files created before cutoff.
func (m *MemoryStore) PendingFilesOlderThan(_ context.Context, cutoff time.Time) ([]*File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files := make([]*File, 0)
	for _, f := range m.files {
		if f.Status == FilePending && f.CreatedAt.Before(cutoff) {
			cp := *f
			files = append(files, &cp)
		}
	}
	return files, nil
}

// MarkFileComplete transitions the file to Complete.
func (m *MemoryStore) MarkFileComplete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok {
		return ErrFileNotFound
	}
	f.Status = FileComplete
	return nil
}

// SetFileShareToken stores the share token for a file.
func (m *MemoryStore) SetFileShareToken(_ context.Context, id, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok {
		return ErrFileNotFound
	}
	f.ShareToken = token
	return nil
}

// DeleteFile removes a file record.
func (m *MemoryStore) DeleteFile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[id]; !ok {
		return ErrFileNotFound
	}
	delete(m.files, id)
	return nil
}

// CreateSession inserts a new session.
func (m *MemoryStore) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.sessions[cp.Token] = &cp
	return nil
}

// SessionByToken returns a copy of the session for the token.
func (m *MemoryStore) SessionByToken(_ context.Context, token string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

// TouchSession updates the session's last-active time.
func (m *MemoryStore) TouchSession(_ context.Context, token string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[token]
	if !ok {
		return ErrSessionNotFound
	}
	s.LastActive = at
	return nil
}

// DeleteSession removes a session if present.
func (m *MemoryStore) DeleteSession(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, token)
	return nil
}

// DeleteSessionsIdleBefore removes sessions idle since before cutoff.
func (m *MemoryStore) DeleteSessionsIdleBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for token, s := range m.sessions {
		if s.LastActive.Before(cutoff) {
			delete(m.sessions, token)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
