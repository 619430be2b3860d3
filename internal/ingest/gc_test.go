package ingest

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/kvfabric/internal/blobstore"
	"github.com/dreamware/kvfabric/internal/cache"
	"github.com/dreamware/kvfabric/internal/delta"
)

func buildDeltaFileWithLCTRange(t *testing.T, minLCT, maxLCT int64) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := delta.NewWriter(&buf)
	require.NoError(t, w.WriteMetadata(delta.FileMetadata{ShardID: 0, MinLCT: minLCT, MaxLCT: maxLCT, RecordCount: 0}))
	return buf.Bytes()
}

func TestTombstoneGCReclaimsBelowFileFloor(t *testing.T) {
	store := blobstore.NewLocalFSClient(t.TempDir())
	require.NoError(t, store.Put(context.Background(), "deltas/0001.delta", bytes.NewReader(buildDeltaFileWithLCTRange(t, 50, 100))))

	c := cache.New(4)
	c.Delete("old", 10)
	c.Delete("recent", 60)

	gc := NewTombstoneGC(store, c, nil, "deltas/", 0)
	gc.sweepOnce(context.Background())

	assert.Equal(t, 1, c.Len(), "expected exactly one surviving tombstone after GC")
	_, ok := c.Get([]string{"recent"})["recent"]
	assert.False(t, ok, "recent should still be tombstoned, not resurrected")
}

func TestTombstoneGCNoFilesSkipsSweep(t *testing.T) {
	store := blobstore.NewLocalFSClient(t.TempDir())

	c := cache.New(4)
	c.Delete("old", 10)

	gc := NewTombstoneGC(store, c, nil, "deltas/", 0)
	gc.sweepOnce(context.Background())

	assert.Equal(t, 1, c.Len(), "tombstone must survive when there is no safe floor")
}

func TestTombstoneGCUsesLowestFloorAcrossFiles(t *testing.T) {
	store := blobstore.NewLocalFSClient(t.TempDir())
	require.NoError(t, store.Put(context.Background(), "deltas/0001.delta", bytes.NewReader(buildDeltaFileWithLCTRange(t, 80, 200))))
	require.NoError(t, store.Put(context.Background(), "deltas/0002.delta", bytes.NewReader(buildDeltaFileWithLCTRange(t, 5, 50))))

	gc := NewTombstoneGC(store, cache.New(4), nil, "deltas/", 0)
	floor, ok := gc.floor(context.Background())

	require.True(t, ok)
	assert.Equal(t, int64(5), floor)
}
