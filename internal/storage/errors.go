package storage

import "errors"

// Sentinel errors returned by Store implementations. Callers match these
// with errors.Is to map them onto API responses.
var (
	// ErrUserNotFound is returned when a user id or username does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUsernameTaken is returned when creating a user with a username
	// that already exists.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrFileNotFound is returned when a file id does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrSessionNotFound is returned when a session token does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrQuotaExceeded is returned by ReserveQuota when the declared size
	// does not fit in the user's remaining allocation.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrMasterProtected is returned when attempting to delete the master
	// account.
	ErrMasterProtected = errors.New("master account is protected")
)
