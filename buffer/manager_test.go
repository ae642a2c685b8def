package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luigitni/simpledb/disk"
	"github.com/luigitni/simpledb/storage"
	"github.com/luigitni/simpledb/walog"
)

func newTestPool(t *testing.T, size int) (*disk.Manager, *walog.Manager, *Manager) {
	t.Helper()
	dm, err := disk.NewManager(t.TempDir(), 64)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	lm, err := walog.NewManager(dm, "test.wal")
	require.NoError(t, err)

	return dm, lm, NewManager(dm, lm, size)
}

func TestReadCachesAcrossCalls(t *testing.T) {
	_, _, bm := newTestPool(t, 3)
	block := storage.NewBlockID("data.tbl", 0)

	b1, err := bm.Read(block)
	require.NoError(t, err)
	b2, err := bm.Read(block)
	require.NoError(t, err)

	require.Same(t, b1, b2)
}

func TestWriteOnUncachedBlockInstallsDirectly(t *testing.T) {
	_, _, bm := newTestPool(t, 3)
	block := storage.NewBlockID("data.tbl", 0)

	blk := storage.NewBlock(64)
	require.NoError(t, blk.SetInt32(0, 55))

	require.NoError(t, bm.Write(block, blk, 1))

	buf, err := bm.Read(block)
	require.NoError(t, err)
	v, err := buf.Contents().GetInt32(0)
	require.NoError(t, err)
	require.EqualValues(t, 55, v)
}

func TestEvictionFlushesDirtyVictim(t *testing.T) {
	dm, _, bm := newTestPool(t, 1)

	blockA := storage.NewBlockID("data.tbl", 0)
	require.NoError(t, dm.AllocateNewBlocks(blockA))
	bufA, err := bm.Read(blockA)
	require.NoError(t, err)
	require.NoError(t, bufA.Contents().SetInt32(0, 7))
	bufA.SetModified(1)

	blockB := storage.NewBlockID("data.tbl", 1)
	require.NoError(t, dm.AllocateNewBlocks(blockB))
	_, err = bm.Read(blockB) // evicts the only slot, which holds blockA

	require.NoError(t, err)

	dst := storage.NewBlock(64)
	require.NoError(t, dm.Read(blockA, dst))
	v, err := dst.GetInt32(0)
	require.NoError(t, err)
	require.EqualValues(t, 7, v)
}

func TestAvailableTracksFreeSlots(t *testing.T) {
	_, _, bm := newTestPool(t, 2)
	require.Equal(t, 2, bm.Available())

	_, err := bm.Read(storage.NewBlockID("data.tbl", 0))
	require.NoError(t, err)
	require.Equal(t, 1, bm.Available())
}

func TestFlushAllWritesEveryDirtyBuffer(t *testing.T) {
	dm, _, bm := newTestPool(t, 4)

	for i := int32(0); i < 3; i++ {
		block := storage.NewBlockID("data.tbl", i)
		require.NoError(t, dm.AllocateNewBlocks(block))
		buf, err := bm.Read(block)
		require.NoError(t, err)
		require.NoError(t, buf.Contents().SetInt32(0, int32(i)))
		buf.SetModified(walog.LSN(i + 1))
	}

	require.NoError(t, bm.FlushAll())

	for i := int32(0); i < 3; i++ {
		dst := storage.NewBlock(64)
		require.NoError(t, dm.Read(storage.NewBlockID("data.tbl", i), dst))
		v, err := dst.GetInt32(0)
		require.NoError(t, err)
		require.EqualValues(t, i, v)
	}
}
