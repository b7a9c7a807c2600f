package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShareLink_RoundTrip(t *testing.T) {
	link := ShareLink("9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d", "a3f8c2")
	assert.Equal(t, "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d_a3f8c2", link)

	fileID, token, err := SplitShareLink(link)
	require.NoError(t, err)
	assert.Equal(t, "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d", fileID)
	assert.Equal(t, "a3f8c2", token)
}

func TestSplitShareLink_TokenKeepsUnderscores(t *testing.T) {
	// The token is opaque: only the first underscore belongs to the link
	// form itself.
	fileID, token, err := SplitShareLink("abc-123_tok_en_with_underscores")
	require.NoError(t, err)
	assert.Equal(t, "abc-123", fileID)
	assert.Equal(t, "tok_en_with_underscores", token)
}

func TestSplitShareLink_Malformed(t *testing.T) {
	tests := []struct {
		name string
		link string
	}{
		{"no underscore", "abc-123"},
		{"empty", ""},
		{"empty file id", "_token"},
		{"empty token", "abc-123_"},
		{"only underscore", "_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := SplitShareLink(tt.link)
			assert.Error(t, err)
		})
	}
}
