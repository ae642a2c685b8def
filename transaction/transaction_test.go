package transaction

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luigitni/simpledb/buffer"
	"github.com/luigitni/simpledb/disk"
	"github.com/luigitni/simpledb/lock"
	"github.com/luigitni/simpledb/storage"
	"github.com/luigitni/simpledb/walog"
)

func newTestStack(t *testing.T) (*disk.Manager, *walog.Manager, *buffer.Manager, *lock.Table) {
	t.Helper()
	dm, err := disk.NewManager(t.TempDir(), 128)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	lm, err := walog.NewManager(dm, "test.wal")
	require.NoError(t, err)

	bm := buffer.NewManager(dm, lm, 8)
	return dm, lm, bm, lock.NewTable(0)
}

func TestWriteThenReadInSameTransaction(t *testing.T) {
	dm, lm, bm, lt := newTestStack(t)
	tx, err := Begin(dm, lm, bm, lt)
	require.NoError(t, err)

	block, err := tx.AllocateNewBlocks("data.tbl")
	require.NoError(t, err)

	require.NoError(t, tx.WriteInt32(block, 0, 123, true))
	v, err := tx.ReadInt32(block, 0)
	require.NoError(t, err)
	require.EqualValues(t, 123, v)

	require.NoError(t, tx.Commit())
}

func TestCommitSurvivesAcrossTransactions(t *testing.T) {
	dm, lm, bm, lt := newTestStack(t)

	tx1, err := Begin(dm, lm, bm, lt)
	require.NoError(t, err)
	block, err := tx1.AllocateNewBlocks("data.tbl")
	require.NoError(t, err)
	require.NoError(t, tx1.WriteInt32(block, 0, 55, true))
	require.NoError(t, tx1.Commit())

	tx2, err := Begin(dm, lm, bm, lt)
	require.NoError(t, err)
	v, err := tx2.ReadInt32(block, 0)
	require.NoError(t, err)
	require.EqualValues(t, 55, v)
	require.NoError(t, tx2.Commit())
}

func TestRollbackUndoesWrite(t *testing.T) {
	dm, lm, bm, lt := newTestStack(t)

	tx1, err := Begin(dm, lm, bm, lt)
	require.NoError(t, err)
	block, err := tx1.AllocateNewBlocks("data.tbl")
	require.NoError(t, err)
	require.NoError(t, tx1.WriteInt32(block, 0, 1, true))
	require.NoError(t, tx1.Commit())

	tx2, err := Begin(dm, lm, bm, lt)
	require.NoError(t, err)
	require.NoError(t, tx2.WriteInt32(block, 0, 999, true))
	require.NoError(t, tx2.Rollback())

	tx3, err := Begin(dm, lm, bm, lt)
	require.NoError(t, err)
	v, err := tx3.ReadInt32(block, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, v)
	require.NoError(t, tx3.Commit())
}

func TestRunRollsBackOnError(t *testing.T) {
	dm, lm, bm, lt := newTestStack(t)

	var block storage.BlockID
	err := Run(dm, lm, bm, lt, func(tx *Transaction) error {
		b, err := tx.AllocateNewBlocks("data.tbl")
		require.NoError(t, err)
		block = b
		require.NoError(t, tx.WriteInt32(block, 0, 7, true))
		return errFailed
	})
	require.ErrorIs(t, err, errFailed)

	tx, err := Begin(dm, lm, bm, lt)
	require.NoError(t, err)
	v, err := tx.ReadInt32(block, 0)
	require.NoError(t, err)
	require.Zero(t, v)
	require.NoError(t, tx.Commit())
}

func TestRunCommitsOnSuccess(t *testing.T) {
	dm, lm, bm, lt := newTestStack(t)

	var block storage.BlockID
	err := Run(dm, lm, bm, lt, func(tx *Transaction) error {
		b, err := tx.AllocateNewBlocks("data.tbl")
		require.NoError(t, err)
		block = b
		return tx.WriteInt32(block, 0, 321, true)
	})
	require.NoError(t, err)

	tx, err := Begin(dm, lm, bm, lt)
	require.NoError(t, err)
	v, err := tx.ReadInt32(block, 0)
	require.NoError(t, err)
	require.EqualValues(t, 321, v)
	require.NoError(t, tx.Commit())
}

// TestPrimitiveFailureRollsBackWithoutRun checks that a primitive called
// directly (not through Run) still rolls back and releases locks on
// failure - the caller must never have to pair a failed call with a
// manual Rollback.
func TestPrimitiveFailureRollsBackWithoutRun(t *testing.T) {
	dm, lm, bm, lt := newTestStack(t)

	tx1, err := Begin(dm, lm, bm, lt)
	require.NoError(t, err)
	block, err := tx1.AllocateNewBlocks("data.tbl")
	require.NoError(t, err)
	require.NoError(t, tx1.WriteInt32(block, 0, 1, true))
	require.NoError(t, tx1.Commit())

	tx2, err := Begin(dm, lm, bm, lt)
	require.NoError(t, err)
	require.NoError(t, tx2.WriteInt32(block, 0, 999, true))

	// an out-of-bounds read fails and must roll tx2 back automatically.
	_, err = tx2.ReadInt32(block, dm.BlockSize())
	require.Error(t, err)

	// the transaction is now finished; Commit must refuse to run again.
	require.Error(t, tx2.Commit())

	// a fresh transaction must get a shared lock on the block (tx2's
	// exclusive lock would block it, so this proves tx2's locks were
	// released) and see the pre-tx2 value (proving tx2's write was undone).
	tx3, err := Begin(dm, lm, bm, lt)
	require.NoError(t, err)
	v, err := tx3.ReadInt32(block, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, v)
	require.NoError(t, tx3.Commit())
}

func TestWriteFixedStringRoundTrips(t *testing.T) {
	dm, lm, bm, lt := newTestStack(t)
	tx, err := Begin(dm, lm, bm, lt)
	require.NoError(t, err)

	block, err := tx.AllocateNewBlocks("data.tbl")
	require.NoError(t, err)

	require.NoError(t, tx.WriteFixedString(block, 0, 20, "hello", true))
	s, err := tx.ReadFixedString(block, 0, 20)
	require.NoError(t, err)
	require.Equal(t, "hello", s)

	require.NoError(t, tx.Commit())
}

var errFailed = simpleError("operation failed")

type simpleError string

func (e simpleError) Error() string { return string(e) }
