// Package proto defines the wire types of the filedepot HTTP API.
package proto

import (
	"fmt"
	"strings"
)

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RegisterRequest creates a client account with the default allocation.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=8"`
}

// LoginRequest authenticates an account.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the session token presented in the
// Authorization header of later requests.
type LoginResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// CreateUserRequest creates an account with an explicit role and
// allocation. Admin only; the master role cannot be assigned.
type CreateUserRequest struct {
	Username     string `json:"username" validate:"required,min=3,max=64"`
	Password     string `json:"password" validate:"required,min=8"`
	Role         string `json:"role" validate:"omitempty,oneof=staff client"`
	GBAllocation int    `json:"gb_allocation" validate:"gte=0"`
}

// SetAllocationRequest changes an account's storage allocation.
type SetAllocationRequest struct {
	GBAllocation int `json:"gb_allocation" validate:"gte=0"`
}

// InitUploadRequest declares a new upload: its name and how many chunks
// of how many total bytes will follow.
type InitUploadRequest struct {
	Filename    string `json:"filename" validate:"required,max=512"`
	MimeType    string `json:"mime_type"`
	TotalSize   int64  `json:"total_size" validate:"gte=0"`
	TotalChunks int    `json:"total_chunks" validate:"gte=0"`
}

// ChunkResponse reports how many distinct chunks are present after a
// chunk write.
type ChunkResponse struct {
	ChunksPresent int `json:"chunks_present"`
}

// ShareLinkResponse carries the external share form of a file. QRCode
// is only set by the QR endpoint and holds a data: URL with a PNG
// rendering of the download URL.
type ShareLinkResponse struct {
	Link   string `json:"link"`
	QRCode string `json:"qr_code,omitempty"`
}

// ShareLink composes the external share form from a file id and its
// share token.
func ShareLink(fileID, token string) string {
	return fileID + "_" + token
}

// SplitShareLink splits the external share form back into file id and
// token. File ids are UUIDs and never contain an underscore, so the
// split happens at the first one and the token keeps whatever structure
// it has.
func SplitShareLink(link string) (fileID, token string, err error) {
	fileID, token, ok := strings.Cut(link, "_")
	if !ok || fileID == "" || token == "" {
		return "", "", fmt.Errorf("malformed share link %q", link)
	}
	return fileID, token, nil
}
