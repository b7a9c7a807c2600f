package chunk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const chunkExt = ".zst"

// DiskStore keeps chunks on the local filesystem, zstd-compressed, one
// directory per file: {dir}/{fileID}/{index}.zst.
//
// Writes go through a unique temp file followed by an atomic rename, so
// readers always see either the previous chunk or the complete new one,
// and concurrent retransmissions of the same index resolve to whichever
// write renamed last.
type DiskStore struct {
	dir string

	// Compression encoder/decoder pools for reuse
	encoderPool sync.Pool
	decoderPool sync.Pool
}

// NewDiskStore creates the chunk directory and returns a store rooted there.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}

	d := &DiskStore{dir: dir}

	d.encoderPool = sync.Pool{
		New: func() interface{} {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
			return enc
		},
	}
	d.decoderPool = sync.Pool{
		New: func() interface{} {
			dec, _ := zstd.NewReader(nil)
			return dec
		},
	}

	return d, nil
}

// validateKey rejects file ids that could escape the chunk directory and
// negative indexes.
func validateKey(fileID string, index int) error {
	if fileID == "" || strings.ContainsAny(fileID, `/\`) || fileID == "." || fileID == ".." {
		return fmt.Errorf("invalid file id %q", fileID)
	}
	if index < 0 {
		return fmt.Errorf("invalid chunk index %d", index)
	}
	return nil
}

func (d *DiskStore) fileDir(fileID string) string {
	return filepath.Join(d.dir, fileID)
}

func (d *DiskStore) chunkPath(fileID string, index int) string {
	return filepath.Join(d.fileDir(fileID), strconv.Itoa(index)+chunkExt)
}

// Put compresses and stores a chunk, replacing any previous data at the
// same index.
func (d *DiskStore) Put(ctx context.Context, fileID string, index int, data []byte) error {
	if err := validateKey(fileID, index); err != nil {
		return err
	}

	dir := d.fileDir(fileID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create file dir: %w", err)
	}

	compressed := d.compress(data)

	tmpFile, err := os.CreateTemp(dir, ".chunk-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(compressed); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write chunk: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, d.chunkPath(fileID, index)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename chunk: %w", err)
	}

	return nil
}

// Get reads and decompresses the chunk at (fileID, index).
func (d *DiskStore) Get(ctx context.Context, fileID string, index int) ([]byte, error) {
	if err := validateKey(fileID, index); err != nil {
		return nil, err
	}

	compressed, err := os.ReadFile(d.chunkPath(fileID, index))
	if os.IsNotExist(err) {
		return nil, &MissingChunkError{Index: index}
	}
	if err != nil {
		return nil, fmt.Errorf("read chunk: %w", err)
	}

	data, err := d.decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("decompress chunk: %w", err)
	}
	return data, nil
}

// Count returns how many distinct chunk indexes exist for the file.
func (d *DiskStore) Count(ctx context.Context, fileID string) (int, error) {
	indexes, err := d.Indexes(ctx, fileID)
	if err != nil {
		return 0, err
	}
	return len(indexes), nil
}

// Indexes scans the file's directory and returns the set of present
// chunk indexes. Temp files from in-flight writes are ignored.
func (d *DiskStore) Indexes(ctx context.Context, fileID string) (map[int]bool, error) {
	if err := validateKey(fileID, 0); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(d.fileDir(fileID))
	if os.IsNotExist(err) {
		return map[int]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read file dir: %w", err)
	}

	present := make(map[int]bool, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, chunkExt) {
			continue
		}
		index, err := strconv.Atoi(strings.TrimSuffix(name, chunkExt))
		if err != nil || index < 0 {
			continue
		}
		present[index] = true
	}
	return present, nil
}

// DeleteAll removes the file's chunk directory.
func (d *DiskStore) DeleteAll(ctx context.Context, fileID string) error {
	if err := validateKey(fileID, 0); err != nil {
		return err
	}
	if err := os.RemoveAll(d.fileDir(fileID)); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

func (d *DiskStore) compress(data []byte) []byte {
	enc := d.encoderPool.Get().(*zstd.Encoder)
	defer d.encoderPool.Put(enc)

	return enc.EncodeAll(data, nil)
}

func (d *DiskStore) decompress(data []byte) ([]byte, error) {
	dec := d.decoderPool.Get().(*zstd.Decoder)
	defer d.decoderPool.Put(dec)

	return dec.DecodeAll(data, nil)
}
