// Package chunk implements storage backends for file chunks keyed by
// file id and chunk index.
//
// Chunks arrive out of order and may be retransmitted. Put is therefore
// an upsert: writing an index that already exists replaces the previous
// data, and completeness is always derived by scanning which indexes
// are present, never by counting writes.
package chunk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
)

// ErrNoChunks is returned when assembling a file that has no chunks to
// assemble.
var ErrNoChunks = errors.New("no chunks found")

// MissingChunkError reports the lowest missing index discovered while
// verifying or assembling a file.
type MissingChunkError struct {
	Index int
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("chunk %d is missing", e.Index)
}

// Store persists chunk payloads for files.
type Store interface {
	// Put stores data at (fileID, index), replacing any previous chunk
	// at that index.
	Put(ctx context.Context, fileID string, index int, data []byte) error

	// Get returns the chunk at (fileID, index). A missing chunk yields
	// a *MissingChunkError.
	Get(ctx context.Context, fileID string, index int) ([]byte, error)

	// Count returns how many distinct indexes are present for fileID.
	Count(ctx context.Context, fileID string) (int, error)

	// Indexes returns the set of chunk indexes present for fileID.
	Indexes(ctx context.Context, fileID string) (map[int]bool, error)

	// DeleteAll removes every chunk belonging to fileID. Removing a
	// file that has no chunks is not an error.
	DeleteAll(ctx context.Context, fileID string) error
}

// CheckComplete verifies that every index in [0, totalChunks) is present
// in the store. It fails with a *MissingChunkError naming the lowest
// missing index. A zero-chunk file is vacuously complete.
func CheckComplete(ctx context.Context, s Store, fileID string, totalChunks int) error {
	if totalChunks <= 0 {
		return nil
	}

	present, err := s.Indexes(ctx, fileID)
	if err != nil {
		return err
	}

	for i := 0; i < totalChunks; i++ {
		if !present[i] {
			return &MissingChunkError{Index: i}
		}
	}
	return nil
}

// Assemble concatenates the chunks of a file in index order. Reading in
// order means a gap surfaces as a *MissingChunkError for the lowest
// missing index. Files declared with zero chunks cannot be assembled.
func Assemble(ctx context.Context, s Store, fileID string, totalChunks int) ([]byte, error) {
	if totalChunks <= 0 {
		return nil, ErrNoChunks
	}

	var buf bytes.Buffer
	for i := 0; i < totalChunks; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		data, err := s.Get(ctx, fileID, i)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}
