// Package transaction implements the client-facing transactional façade:
// lock acquisition, read-through buffer access, before/after-image
// logging and the commit/rollback protocol, composed from the lock,
// buffer, walog, recovery and txlog packages beneath it. It is grounded
// on simpledb's tx.TransactionImpl (tx/tx.go), generalized to drop
// Pin/Unpin (this core replaces buffers by pool eviction policy, never
// by client reference counts) and to use byte-oriented Block accessors
// alongside the original Int/String-only pair.
package transaction

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/luigitni/simpledb/buffer"
	"github.com/luigitni/simpledb/disk"
	"github.com/luigitni/simpledb/lock"
	"github.com/luigitni/simpledb/recovery"
	"github.com/luigitni/simpledb/storage"
	"github.com/luigitni/simpledb/txlog"
	"github.com/luigitni/simpledb/walog"
)

var nextTxID uint32

func nextID() storage.TxID {
	return storage.TxID(atomic.AddUint32(&nextTxID, 1))
}

// Transaction is one unit of work against the database: every block it
// touches is locked for its lifetime under strict two-phase locking, and
// every mutation it makes is undo/redo-logged before being applied. Every
// primitive below rolls the transaction back automatically on failure
// (see withRollback); once that has happened the transaction is done and
// must not be used further.
type Transaction struct {
	id storage.TxID

	dm   *disk.Manager
	bm   *buffer.Manager
	rm   *recovery.Manager
	cm   *lock.Manager
	done bool
}

// Begin starts a new transaction, writing its begin record to the log.
func Begin(dm *disk.Manager, lm *walog.Manager, bm *buffer.Manager, lockTable *lock.Table) (*Transaction, error) {
	id := nextID()

	rm, err := recovery.NewForTx(id, lm, bm)
	if err != nil {
		return nil, errors.Wrapf(err, "transaction: begin tx %d", id)
	}

	return &Transaction{
		id: id,
		dm: dm,
		bm: bm,
		rm: rm,
		cm: lock.NewManager(lockTable),
	}, nil
}

// ID returns the transaction's identifier.
func (tx *Transaction) ID() storage.TxID {
	return tx.id
}

// withRollback returns err unchanged when nil. On any non-nil err it
// rolls the transaction back - releasing every lock it holds and
// undoing every change it made - before returning the composed error, so
// a caller who invokes a primitive directly (not through Run) never has
// to pair a failed call with a manual Rollback.
func (tx *Transaction) withRollback(err error) error {
	if err == nil {
		return nil
	}
	if rbErr := tx.Rollback(); rbErr != nil {
		return errors.Wrap(err, rbErr.Error())
	}
	return err
}

// ReadInt32 returns the int32 stored at offset in block, under a shared
// lock.
func (tx *Transaction) ReadInt32(block storage.BlockID, offset int32) (int32, error) {
	if err := tx.cm.ReadLock(block); err != nil {
		return 0, tx.withRollback(err)
	}
	buf, err := tx.bm.Read(block)
	if err != nil {
		return 0, tx.withRollback(errors.Wrapf(err, "transaction: read %s", block))
	}
	v, err := buf.Contents().GetInt32(int(offset))
	if err != nil {
		return 0, tx.withRollback(err)
	}
	return v, nil
}

// ReadBytes returns length raw bytes at offset in block, under a shared
// lock.
func (tx *Transaction) ReadBytes(block storage.BlockID, offset, length int32) ([]byte, error) {
	if err := tx.cm.ReadLock(block); err != nil {
		return nil, tx.withRollback(err)
	}
	buf, err := tx.bm.Read(block)
	if err != nil {
		return nil, tx.withRollback(errors.Wrapf(err, "transaction: read %s", block))
	}
	v, err := buf.Contents().GetBytes(int(offset), int(length))
	if err != nil {
		return nil, tx.withRollback(err)
	}
	return v, nil
}

// ReadFixedString returns the length-prefixed ASCII string occupying the
// size-byte slot at offset in block, under a shared lock.
func (tx *Transaction) ReadFixedString(block storage.BlockID, offset, size int32) (string, error) {
	if err := tx.cm.ReadLock(block); err != nil {
		return "", tx.withRollback(err)
	}
	buf, err := tx.bm.Read(block)
	if err != nil {
		return "", tx.withRollback(errors.Wrapf(err, "transaction: read %s", block))
	}
	v, err := buf.Contents().GetFixedString(int(offset), int(size))
	if err != nil {
		return "", tx.withRollback(err)
	}
	return v, nil
}

// WriteInt32 stores val at offset in block, under an exclusive lock. When
// shouldLog is true (the normal case; false is reserved for callers that
// are themselves replaying already-durable log records) the before/after
// image is logged before the buffer is mutated.
func (tx *Transaction) WriteInt32(block storage.BlockID, offset, val int32, shouldLog bool) error {
	return tx.write(block, offset, 4, shouldLog, func(buf *storage.Block) ([]byte, error) {
		if err := buf.SetInt32(int(offset), val); err != nil {
			return nil, err
		}
		return buf.GetBytes(int(offset), 4)
	})
}

// WriteBytes stores data at offset in block, under an exclusive lock.
func (tx *Transaction) WriteBytes(block storage.BlockID, offset int32, data []byte, shouldLog bool) error {
	return tx.write(block, offset, len(data), shouldLog, func(buf *storage.Block) ([]byte, error) {
		return data, buf.SetBytes(int(offset), data)
	})
}

// WriteFixedString stores val into the size-byte length-prefixed slot at
// offset in block, under an exclusive lock.
func (tx *Transaction) WriteFixedString(block storage.BlockID, offset, size int32, val string, shouldLog bool) error {
	return tx.write(block, offset, int(size), shouldLog, func(buf *storage.Block) ([]byte, error) {
		if err := buf.SetFixedString(int(offset), int(size), val); err != nil {
			return nil, err
		}
		return buf.GetBytes(int(offset), int(size))
	})
}

// write is the shared lock/log/mutate sequence every Write* method
// follows: acquire the exclusive lock, snapshot the fieldLen-byte
// before-image, apply mutate, log the before/after pair (unless
// shouldLog is false), then mark the buffer modified with the resulting
// LSN. Any failure along the way rolls the transaction back.
func (tx *Transaction) write(block storage.BlockID, offset int32, fieldLen int, shouldLog bool, mutate func(*storage.Block) ([]byte, error)) error {
	if err := tx.cm.WriteLock(block); err != nil {
		return tx.withRollback(err)
	}

	buf, err := tx.bm.Read(block)
	if err != nil {
		return tx.withRollback(errors.Wrapf(err, "transaction: read %s", block))
	}

	var before []byte
	if shouldLog {
		before, err = buf.Contents().GetBytes(int(offset), fieldLen)
		if err != nil {
			return tx.withRollback(errors.Wrapf(err, "transaction: snapshot before-image %s", block))
		}
	}

	after, err := mutate(buf.Contents())
	if err != nil {
		return tx.withRollback(errors.Wrapf(err, "transaction: mutate %s", block))
	}

	var lsn walog.LSN
	if shouldLog {
		record := txlog.NewOperation(tx.id, block, offset, before, after)
		lsn, err = tx.rm.WriteLog(record)
		if err != nil {
			return tx.withRollback(err)
		}
	}

	buf.SetModified(lsn)
	return nil
}

// Size returns the number of blocks in filename, under a shared lock on
// the file's synthetic end-of-file marker (preventing concurrent
// AllocateNewBlocks calls from racing with this read).
func (tx *Transaction) Size(filename string) (int32, error) {
	eof := storage.EOFBlockID(filename)
	if err := tx.cm.ReadLock(eof); err != nil {
		return 0, tx.withRollback(err)
	}
	size, err := tx.dm.Size(filename)
	if err != nil {
		return 0, tx.withRollback(err)
	}
	return size, nil
}

// AllocateNewBlocks appends a new block to filename and returns its
// identifier, under an exclusive lock on the file's end-of-file marker.
func (tx *Transaction) AllocateNewBlocks(filename string) (storage.BlockID, error) {
	eof := storage.EOFBlockID(filename)
	if err := tx.cm.WriteLock(eof); err != nil {
		return storage.BlockID{}, tx.withRollback(err)
	}

	size, err := tx.dm.Size(filename)
	if err != nil {
		return storage.BlockID{}, tx.withRollback(err)
	}

	block := storage.NewBlockID(filename, size)
	if err := tx.dm.AllocateNewBlocks(block); err != nil {
		return storage.BlockID{}, tx.withRollback(err)
	}
	return block, nil
}

// BlockSize returns the configured block size.
func (tx *Transaction) BlockSize() int32 {
	return tx.dm.BlockSize()
}

// AvailableBuffers returns the number of buffer pool slots not currently
// caching any block.
func (tx *Transaction) AvailableBuffers() int {
	return tx.bm.Available()
}

// Commit makes every change this transaction made durable and releases
// its locks. If making the changes durable fails, the transaction is
// rolled back before its locks are released and the commit error is
// returned, composed with the rollback error if that fails too. It fails
// if the transaction already finished (committed or rolled back).
func (tx *Transaction) Commit() error {
	if tx.done {
		return errors.Errorf("transaction: tx %d already finished", tx.id)
	}
	tx.done = true
	defer tx.cm.Release()
	if err := tx.rm.Commit(); err != nil {
		if rbErr := tx.rm.Rollback(); rbErr != nil {
			return errors.Wrap(err, rbErr.Error())
		}
		return err
	}
	return nil
}

// Rollback undoes every change this transaction made and releases its
// locks. It is a no-op if the transaction already finished, so a
// primitive's internal withRollback and an enclosing Run's deferred
// cleanup can both call it without rolling back twice.
func (tx *Transaction) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	defer tx.cm.Release()
	return tx.rm.Rollback()
}

// Run executes fn against a fresh transaction begun from dm/lm/bm/lockTable,
// committing on success and rolling back automatically if fn or the
// commit itself fails. This is the auto-rollback-on-failure combinator:
// callers that do not need fine-grained control over transaction
// boundaries should prefer it over manually pairing Begin with
// Commit/Rollback.
func Run(dm *disk.Manager, lm *walog.Manager, bm *buffer.Manager, lockTable *lock.Table, fn func(*Transaction) error) (err error) {
	tx, err := Begin(dm, lm, bm, lockTable)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Wrap(err, rbErr.Error())
			}
		}
	}()

	if err = fn(tx); err != nil {
		return errors.Wrap(err, "transaction: operation failed, rolling back")
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "transaction: commit failed")
	}

	return nil
}
