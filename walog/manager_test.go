package walog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luigitni/simpledb/disk"
)

func newTestLog(t *testing.T, blockSize int32) (*disk.Manager, *Manager) {
	t.Helper()
	dm, err := disk.NewManager(t.TempDir(), blockSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	lm, err := NewManager(dm, "test.wal")
	require.NoError(t, err)
	return dm, lm
}

func TestWriteLogAssignsIncreasingLSNs(t *testing.T) {
	_, lm := newTestLog(t, 64)

	lsn1, err := lm.WriteLog([]byte("first"))
	require.NoError(t, err)
	lsn2, err := lm.WriteLog([]byte("second"))
	require.NoError(t, err)

	require.Less(t, uint32(lsn1), uint32(lsn2))
}

func TestIteratorForwardTraversal(t *testing.T) {
	_, lm := newTestLog(t, 64)

	records := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, r := range records {
		_, err := lm.WriteLog(r)
		require.NoError(t, err)
	}

	it, err := lm.Iterator()
	require.NoError(t, err)

	var got [][]byte
	for it.HasNext() {
		body, err := it.Next()
		require.NoError(t, err)
		got = append(got, body)
	}

	require.Equal(t, records, got)
}

func TestIteratorBackwardTraversal(t *testing.T) {
	_, lm := newTestLog(t, 64)

	records := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, r := range records {
		_, err := lm.WriteLog(r)
		require.NoError(t, err)
	}

	it, err := lm.LastLog()
	require.NoError(t, err)

	var got [][]byte
	body, err := it.LogBody()
	require.NoError(t, err)
	got = append(got, body)

	for it.HasPrevious() {
		body, err := it.Previous()
		require.NoError(t, err)
		got = append(got, body)
	}

	require.Len(t, got, len(records))
	require.Equal(t, []byte("three"), got[0])
	require.Equal(t, []byte("one"), got[len(got)-1])
}

func TestIteratorSpansBlockBoundaries(t *testing.T) {
	// a small block size forces multiple records to straddle block
	// boundaries, exercising the logical/physical position conversion.
	_, lm := newTestLog(t, 16)

	records := make([][]byte, 0, 10)
	for i := 0; i < 10; i++ {
		body := []byte{byte(i), byte(i + 1), byte(i + 2)}
		records = append(records, body)
		_, err := lm.WriteLog(body)
		require.NoError(t, err)
	}

	it, err := lm.Iterator()
	require.NoError(t, err)

	var got [][]byte
	for it.HasNext() {
		body, err := it.Next()
		require.NoError(t, err)
		got = append(got, body)
	}

	require.Equal(t, records, got)
}

func TestChecksumMatchesBody(t *testing.T) {
	_, lm := newTestLog(t, 64)
	body := []byte("checked")
	_, err := lm.WriteLog(body)
	require.NoError(t, err)

	it, err := lm.LastLog()
	require.NoError(t, err)

	checksum, err := it.Checksum()
	require.NoError(t, err)

	gotBody, err := it.LogBody()
	require.NoError(t, err)
	require.Equal(t, body, gotBody)
	require.NotZero(t, checksum)
}

func TestEmptyLogIteratorHasNothing(t *testing.T) {
	_, lm := newTestLog(t, 64)

	fwd, err := lm.Iterator()
	require.NoError(t, err)
	require.False(t, fwd.HasNext())

	last, err := lm.LastLog()
	require.NoError(t, err)
	require.False(t, last.HasPrevious())
}
