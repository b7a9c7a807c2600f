package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// tokenBytes is the entropy of generated tokens. 32 bytes gives 256 bits,
// far beyond guessability for both session and share tokens.
const tokenBytes = 32

// NewToken returns a cryptographically random opaque token. Tokens are
// hex-encoded so they stay URL-safe and contain no underscores, which
// keeps the {fileId}_{token} share-link form unambiguous.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
