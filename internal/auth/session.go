package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/filedepot/filedepot/internal/storage"
)

var (
	// ErrInvalidCredentials is returned by Login for a wrong username or
	// password. The two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidSession is returned by Resolve when a token is unknown
	// or its session has expired.
	ErrInvalidSession = errors.New("invalid session")
)

// DefaultSessionTTL is how long a session may stay idle before it is
// rejected and purged.
const DefaultSessionTTL = 24 * time.Hour

// Manager owns login sessions and account creation. It issues opaque
// random tokens; a logout destroys the server-side session, so tokens
// are revocable immediately.
type Manager struct {
	store     storage.Store
	ttl       time.Duration
	defaultGB int
}

// NewManager creates a session manager. A non-positive ttl falls back to
// DefaultSessionTTL; defaultGB is the allocation given to self-registered
// accounts.
func NewManager(store storage.Store, ttl time.Duration, defaultGB int) *Manager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Manager{store: store, ttl: ttl, defaultGB: defaultGB}
}

// Register creates a client account with the default allocation.
func (m *Manager) Register(ctx context.Context, username, password string) (*storage.User, error) {
	return m.createUser(ctx, username, password, storage.RoleClient, m.defaultGB)
}

// CreateUser creates an account with an explicit role and allocation.
// The master role is refused here; it exists only through Bootstrap.
func (m *Manager) CreateUser(ctx context.Context, username, password string, role storage.Role, gb int) (*storage.User, error) {
	if role == storage.RoleMaster {
		return nil, fmt.Errorf("master account is created at bootstrap")
	}
	return m.createUser(ctx, username, password, role, gb)
}

func (m *Manager) createUser(ctx context.Context, username, password string, role storage.Role, gb int) (*storage.User, error) {
	if username == "" {
		return nil, fmt.Errorf("username required")
	}
	if password == "" {
		return nil, fmt.Errorf("password required")
	}
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if gb < 0 {
		return nil, fmt.Errorf("allocation must not be negative")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &storage.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		GBAllocation: gb,
		QuotaBytes:   int64(gb) * storage.GiB,
	}
	if err := m.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", u.ID).
		Str("username", u.Username).
		Str("role", string(u.Role)).
		Int("gb_allocation", u.GBAllocation).
		Msg("user created")

	return u, nil
}

// Bootstrap makes sure the master account exists, creating it on first
// run. An existing non-master user under the configured username is an
// error rather than a silent promotion.
func (m *Manager) Bootstrap(ctx context.Context, username, password string, gb int) (*storage.User, error) {
	existing, err := m.store.UserByUsername(ctx, username)
	if err == nil {
		if existing.Role != storage.RoleMaster {
			return nil, fmt.Errorf("user %q exists but is not the master account", username)
		}
		return existing, nil
	}
	if !errors.Is(err, storage.ErrUserNotFound) {
		return nil, err
	}

	if password == "" {
		return nil, fmt.Errorf("master password required on first run")
	}

	u, err := m.createUser(ctx, username, password, storage.RoleMaster, gb)
	if err != nil {
		return nil, err
	}

	log.Info().Str("username", username).Msg("master account created")
	return u, nil
}

// Login verifies the credentials and opens a new session. The returned
// token is the caller's credential for every later request.
func (m *Manager) Login(ctx context.Context, username, password string) (string, *storage.User, error) {
	u, err := m.store.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	if !CheckPassword(u.PasswordHash, password) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := NewToken()
	if err != nil {
		return "", nil, err
	}

	now := time.Now()
	sess := &storage.Session{
		Token:      token,
		UserID:     u.ID,
		CreatedAt:  now,
		LastActive: now,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return "", nil, err
	}

	log.Info().
		Str("user_id", u.ID).
		Str("username", u.Username).
		Msg("login")

	return token, u, nil
}

// Logout destroys the session. Unknown tokens are ignored so repeated
// logouts stay harmless.
func (m *Manager) Logout(ctx context.Context, token string) error {
	return m.store.DeleteSession(ctx, token)
}

// Resolve maps a session token to its user. Expired sessions are purged
// on sight and rejected; live ones get their idle clock reset.
func (m *Manager) Resolve(ctx context.Context, token string) (*storage.User, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}

	sess, err := m.store.SessionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}

	now := time.Now()
	if sess.Expired(m.ttl, now) {
		if err := m.store.DeleteSession(ctx, token); err != nil {
			log.Warn().Err(err).Msg("purge expired session")
		}
		return nil, ErrInvalidSession
	}

	u, err := m.store.UserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			// The account was deleted while the session lived on.
			_ = m.store.DeleteSession(ctx, token)
			return nil, ErrInvalidSession
		}
		return nil, err
	}

	if err := m.store.TouchSession(ctx, token, now); err != nil {
		log.Warn().Err(err).Msg("touch session")
	}

	return u, nil
}

// PurgeIdleSessions removes sessions idle past the ttl and returns how
// many were dropped.
func (m *Manager) PurgeIdleSessions(ctx context.Context) (int, error) {
	return m.store.DeleteSessionsIdleBefore(ctx, time.Now().Add(-m.ttl))
}
