package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStore_Volume(t *testing.T) {
	store := newTestDiskStore(t)

	info, err := store.Volume()
	require.NoError(t, err)

	assert.Positive(t, info.TotalBytes)
	assert.Positive(t, info.AvailableBytes)
	assert.GreaterOrEqual(t, info.UsedBytes, int64(0))
	assert.LessOrEqual(t, info.UsedBytes, info.TotalBytes)
}

func TestDiskStore_ImplementsVolumeReporter(t *testing.T) {
	store := newTestDiskStore(t)

	var _ VolumeReporter = store

	// The generic Store interface does not require volume reporting.
	var s Store = store
	_, ok := s.(VolumeReporter)
	assert.True(t, ok)
}
