package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Supported SQL drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// SQLStore implements Store on SQLite or PostgreSQL through sqlx.
// Queries use $N placeholders, which both drivers accept, so the same
// statements run unchanged against either database.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

// OpenSQL connects to the database, configures the connection pool, and
// applies any pending migrations.
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	if driver == DriverSQLite {
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := runMigrations(db.DB, driver); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info().Str("driver", driver).Msg("database ready")
	return &SQLStore{db: db, driver: driver}, nil
}

// isUniqueViolation detects unique constraint errors from either driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// CreateUser inserts a new user.
func (s *SQLStore) CreateUser(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO users (id, username, password_hash, role, gb_allocation, quota_bytes, used_bytes, reserved_bytes, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.Username, u.PasswordHash, u.Role,
		u.GBAllocation, u.QuotaBytes, u.UsedBytes, u.ReservedBytes, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UserByID returns the user with the given id.
func (s *SQLStore) UserByID(ctx context.Context, id string) (*User, error) {
	u := &User{}
	err := s.db.GetContext(ctx, u, `SELECT * FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// UserByUsername returns the user with the given username.
func (s *SQLStore) UserByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	err := s.db.GetContext(ctx, u, `SELECT * FROM users WHERE username = $1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// ListUsers returns all users ordered by username.
func (s *SQLStore) ListUsers(ctx context.Context) ([]*User, error) {
	users := []*User{}
	err := s.db.SelectContext(ctx, &users, `SELECT * FROM users ORDER BY username`)
	return users, err
}

// DeleteUser removes a user along with their sessions and file records.
// Chunk blobs are the caller's responsibility. The master account is
// refused.
func (s *SQLStore) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1 AND role <> $2`, id, RoleMaster)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Either the user does not exist or it is the master account.
		if _, err := s.UserByID(ctx, id); err != nil {
			return err
		}
		return ErrMasterProtected
	}

	// Child rows go explicitly rather than through the schema's cascade,
	// which SQLite only honors when foreign key enforcement is enabled.
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = $1`, id); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM files WHERE owner_id = $1`, id); err != nil {
		return fmt.Errorf("delete user files: %w", err)
	}
	return nil
}

// SetUserAllocation updates gb_allocation and the derived quota together.
func (s *SQLStore) SetUserAllocation(ctx context.Context, id string, gb int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET gb_allocation = $1, quota_bytes = $2 WHERE id = $3`,
		gb, int64(gb)*GiB, id)
	if err != nil {
		return fmt.Errorf("update allocation: %w", err)
	}
	return requireRow(res, ErrUserNotFound)
}

// ReserveQuota atomically checks and reserves n bytes. The guard lives in
// the WHERE clause so concurrent reservations cannot jointly overshoot.
func (s *SQLStore) ReserveQuota(ctx context.Context, userID string, n int64) error {
	query := `UPDATE users
	             SET reserved_bytes = reserved_bytes + $1
	           WHERE id = $2 AND used_bytes + reserved_bytes + $1 <= quota_bytes`

	res, err := s.db.ExecContext(ctx, query, n, userID)
	if err != nil {
		return fmt.Errorf("reserve quota: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.UserByID(ctx, userID); err != nil {
			return err
		}
		return ErrQuotaExceeded
	}
	return nil
}

// CommitReserved moves n bytes from reserved to used.
func (s *SQLStore) CommitReserved(ctx context.Context, userID string, n int64) error {
	query := `UPDATE users
	             SET used_bytes = used_bytes + $1,
	                 reserved_bytes = CASE WHEN reserved_bytes > $1 THEN reserved_bytes - $1 ELSE 0 END
	           WHERE id = $2`

	res, err := s.db.ExecContext(ctx, query, n, userID)
	if err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	return requireRow(res, ErrUserNotFound)
}

// ReleaseReserved returns n reserved bytes to the free pool.
func (s *SQLStore) ReleaseReserved(ctx context.Context, userID string, n int64) error {
	query := `UPDATE users
	             SET reserved_bytes = CASE WHEN reserved_bytes > $1 THEN reserved_bytes - $1 ELSE 0 END
	           WHERE id = $2`

	res, err := s.db.ExecContext(ctx, query, n, userID)
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	return requireRow(res, ErrUserNotFound)
}

// ReleaseUsed subtracts n from used bytes, flooring at zero.
func (s *SQLStore) ReleaseUsed(ctx context.Context, userID string, n int64) error {
	query := `UPDATE users
	             SET used_bytes = CASE WHEN used_bytes > $1 THEN used_bytes - $1 ELSE 0 END
	           WHERE id = $2`

	res, err := s.db.ExecContext(ctx, query, n, userID)
	if err != nil {
		return fmt.Errorf("release usage: %w", err)
	}
	return requireRow(res, ErrUserNotFound)
}

// CreateFile inserts a new file record.
func (s *SQLStore) CreateFile(ctx context.Context, f *File) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO files (id, owner_id, filename, mime_type, total_size, total_chunks, status, share_token, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		f.ID, f.OwnerID, f.Filename, f.MimeType,
		f.TotalSize, f.TotalChunks, f.Status, f.ShareToken, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// FileByID returns the file with the given id.
func (s *SQLStore) FileByID(ctx context.Context, id string) (*File, error) {
	f := &File{}
	err := s.db.GetContext(ctx, f, `SELECT * FROM files WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	return f, err
}

// FilesByOwner returns the user's files, newest first.
func (s *SQLStore) FilesByOwner(ctx context.Context, ownerID string) ([]*File, error) {
	files := []*File{}
	err := s.db.SelectContext(ctx, &files,
		`SELECT * FROM files WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	return files, err
}

// CountFilesByStatus counts files currently in the given status.
func (s *SQLStore) CountFilesByStatus(ctx context.Context, status FileStatus) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM files WHERE status = $1`, status)
	return n, err
}

// PendingFilesOlderThan returns pending files created before cutoff.
// The time comparison happens in Go so it behaves identically across
// both databases.
func (s *SQLStore) PendingFilesOlderThan(ctx context.Context, cutoff time.Time) ([]*File, error) {
	pending := []*File{}
	err := s.db.SelectContext(ctx, &pending,
		`SELECT * FROM files WHERE status = $1`, FilePending)
	if err != nil {
		return nil, err
	}

	old := make([]*File, 0, len(pending))
	for _, f := range pending {
		if f.CreatedAt.Before(cutoff) {
			old = append(old, f)
		}
	}
	return old, nil
}

// MarkFileComplete transitions the file to Complete.
func (s *SQLStore) MarkFileComplete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET status = $1 WHERE id = $2`, FileComplete, id)
	if err != nil {
		return fmt.Errorf("mark complete: %w", err)
	}
	return requireRow(res, ErrFileNotFound)
}

// SetFileShareToken stores the share token for a file.
func (s *SQLStore) SetFileShareToken(ctx context.Context, id, token string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET share_token = $1 WHERE id = $2`, token, id)
	if err != nil {
		return fmt.Errorf("set share token: %w", err)
	}
	return requireRow(res, ErrFileNotFound)
}

// DeleteFile removes a file record.
func (s *SQLStore) DeleteFile(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return requireRow(res, ErrFileNotFound)
}

// CreateSession inserts a new session.
func (s *SQLStore) CreateSession(ctx context.Context, sess *Session) error {
	query := `INSERT INTO sessions (token, user_id, created_at, last_active)
	          VALUES ($1, $2, $3, $4)`

	_, err := s.db.ExecContext(ctx, query,
		sess.Token, sess.UserID, sess.CreatedAt, sess.LastActive)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// SessionByToken returns the session for the token.
func (s *SQLStore) SessionByToken(ctx context.Context, token string) (*Session, error) {
	sess := &Session{}
	err := s.db.GetContext(ctx, sess, `SELECT * FROM sessions WHERE token = $1`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

// TouchSession updates the session's last-active time.
func (s *SQLStore) TouchSession(ctx context.Context, token string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_active = $1 WHERE token = $2`, at, token)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return requireRow(res, ErrSessionNotFound)
}

// DeleteSession removes a session if present.
func (s *SQLStore) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteSessionsIdleBefore removes sessions idle since before cutoff.
func (s *SQLStore) DeleteSessionsIdleBefore(ctx context.Context, cutoff time.Time) (int, error) {
	sessions := []*Session{}
	err := s.db.SelectContext(ctx, &sessions, `SELECT * FROM sessions`)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, sess := range sessions {
		if !sess.LastActive.Before(cutoff) {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM sessions WHERE token = $1`, sess.Token); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Close closes the database connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// requireRow converts a zero-rows-affected result into notFound.
func requireRow(res sql.Result, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
