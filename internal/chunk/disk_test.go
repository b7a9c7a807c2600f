package chunk

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDiskStore(t *testing.T) *DiskStore {
	t.Helper()
	store, err := NewDiskStore(filepath.Join(t.TempDir(), "chunks"))
	require.NoError(t, err)
	return store
}

func TestDiskStore_PutGet(t *testing.T) {
	store := newTestDiskStore(t)
	ctx := context.Background()

	data := bytes.Repeat([]byte("chunk payload "), 100)
	require.NoError(t, store.Put(ctx, "file1", 0, data))

	got, err := store.Get(ctx, "file1", 0)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDiskStore_Get_Missing(t *testing.T) {
	store := newTestDiskStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "file1", 3)
	var missing *MissingChunkError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, 3, missing.Index)
}

func TestDiskStore_Put_Overwrite(t *testing.T) {
	store := newTestDiskStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "file1", 2, []byte("first")))
	require.NoError(t, store.Put(ctx, "file1", 2, []byte("second")))

	got, err := store.Get(ctx, "file1", 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)

	// A retransmission must not inflate the count.
	count, err := store.Count(ctx, "file1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDiskStore_Indexes(t *testing.T) {
	store := newTestDiskStore(t)
	ctx := context.Background()

	// Chunks arrive out of order.
	require.NoError(t, store.Put(ctx, "file1", 2, []byte("c")))
	require.NoError(t, store.Put(ctx, "file1", 0, []byte("a")))

	present, err := store.Indexes(ctx, "file1")
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{0: true, 2: true}, present)

	// Unknown file has no indexes rather than an error.
	present, err = store.Indexes(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, present)
}

func TestDiskStore_Indexes_IgnoresTempFiles(t *testing.T) {
	store := newTestDiskStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "file1", 0, []byte("a")))

	// Simulate an in-flight write that crashed before rename.
	stray := filepath.Join(store.fileDir("file1"), ".chunk-123.tmp")
	require.NoError(t, os.WriteFile(stray, []byte("partial"), 0o644))

	count, err := store.Count(ctx, "file1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDiskStore_DeleteAll(t *testing.T) {
	store := newTestDiskStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "file1", 0, []byte("a")))
	require.NoError(t, store.Put(ctx, "file1", 1, []byte("b")))
	require.NoError(t, store.Put(ctx, "file2", 0, []byte("x")))

	require.NoError(t, store.DeleteAll(ctx, "file1"))

	count, err := store.Count(ctx, "file1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Other files are untouched, and a second delete is a no-op.
	got, err := store.Get(ctx, "file2", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
	require.NoError(t, store.DeleteAll(ctx, "file1"))
}

func TestDiskStore_RejectsTraversal(t *testing.T) {
	store := newTestDiskStore(t)
	ctx := context.Background()

	assert.Error(t, store.Put(ctx, "../escape", 0, []byte("x")))
	assert.Error(t, store.Put(ctx, "", 0, []byte("x")))
	assert.Error(t, store.Put(ctx, "file1", -1, []byte("x")))
}

func TestCheckComplete(t *testing.T) {
	store := newTestDiskStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "file1", 0, []byte("a")))
	require.NoError(t, store.Put(ctx, "file1", 2, []byte("c")))

	err := CheckComplete(ctx, store, "file1", 3)
	var missing *MissingChunkError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, 1, missing.Index, "the lowest missing index is reported")

	require.NoError(t, store.Put(ctx, "file1", 1, []byte("b")))
	assert.NoError(t, CheckComplete(ctx, store, "file1", 3))

	// Zero declared chunks is vacuously complete.
	assert.NoError(t, CheckComplete(ctx, store, "empty", 0))
}

func TestAssemble(t *testing.T) {
	store := newTestDiskStore(t)
	ctx := context.Background()

	// Stored out of order, assembled in index order.
	require.NoError(t, store.Put(ctx, "file1", 1, []byte("world")))
	require.NoError(t, store.Put(ctx, "file1", 0, []byte("hello ")))

	data, err := Assemble(ctx, store, "file1", 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), data)
}

func TestAssemble_MissingChunk(t *testing.T) {
	store := newTestDiskStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "file1", 0, []byte("a")))
	require.NoError(t, store.Put(ctx, "file1", 3, []byte("d")))

	_, err := Assemble(ctx, store, "file1", 4)
	var missing *MissingChunkError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, 1, missing.Index)
}

func TestAssemble_NoChunks(t *testing.T) {
	store := newTestDiskStore(t)
	ctx := context.Background()

	_, err := Assemble(ctx, store, "file1", 0)
	assert.ErrorIs(t, err, ErrNoChunks)
}
