// Package buffer implements the fixed-size page cache that sits between
// the transaction layer and disk, enforcing write-ahead-log discipline on
// every write-back. It is grounded on simpledb's buffer.Buffer /
// buffer.BufferManager, generalized to drop pin/unpin reference counting
// (this core replaces buffers by eviction policy, not client pins) and to
// carry the WAL watermark the recovery manager and spec's Buffer
// invariant require.
package buffer

import (
	"github.com/pkg/errors"

	"github.com/luigitni/simpledb/disk"
	"github.com/luigitni/simpledb/storage"
	"github.com/luigitni/simpledb/walog"
)

// Buffer caches one block's contents together with the highest LSN of any
// log record describing a modification to it. The WAL invariant this
// exists to uphold: before the block reaches disk, every log record with
// LSN <= latestLSN must already be durable.
type Buffer struct {
	dm *disk.Manager
	lm *walog.Manager

	blockID   storage.BlockID
	block     *storage.Block
	latestLSN walog.LSN
	dirty     bool
}

func newBuffer(dm *disk.Manager, lm *walog.Manager) *Buffer {
	return &Buffer{
		dm:    dm,
		lm:    lm,
		block: storage.NewBlock(int(dm.BlockSize())),
	}
}

// BlockID returns the block this buffer currently caches.
func (b *Buffer) BlockID() storage.BlockID {
	return b.blockID
}

// Contents returns the cached block for the caller to read or mutate
// directly. Mutating callers must also call SetModified with the LSN of
// the log record describing their change.
func (b *Buffer) Contents() *storage.Block {
	return b.block
}

// LatestLSN returns the highest LSN recorded against this buffer.
func (b *Buffer) LatestLSN() walog.LSN {
	return b.latestLSN
}

// SetModified marks the buffer dirty and raises its latestLSN watermark to
// max(latestLSN, lsn). Pass walog.LSN(0) for changes that do not need a
// new log record forced ahead of them (physical undo during rollback: the
// record being undone is already durable, so no new watermark is needed).
func (b *Buffer) SetModified(lsn walog.LSN) {
	b.dirty = true
	if lsn > b.latestLSN {
		b.latestLSN = lsn
	}
}

// flush enforces WAL discipline (forcing the log up to latestLSN) and then
// writes the buffer's block to disk, clearing the dirty flag.
func (b *Buffer) flush() error {
	if !b.dirty {
		return nil
	}

	if err := b.lm.Flush(b.latestLSN); err != nil {
		return errors.Wrapf(err, "buffer: flush log up to lsn %d", b.latestLSN)
	}
	if err := b.dm.Write(b.blockID, b.block); err != nil {
		return errors.Wrapf(err, "buffer: write block %s", b.blockID)
	}
	b.dirty = false
	return nil
}

// assign loads block's contents from disk into this buffer after flushing
// whatever it held previously.
func (b *Buffer) assign(block storage.BlockID) error {
	if err := b.flush(); err != nil {
		return err
	}

	b.blockID = block
	b.dirty = false
	b.latestLSN = 0
	if err := b.dm.Read(block, b.block); err != nil {
		return errors.Wrapf(err, "buffer: load %s", block)
	}
	return nil
}

// replace installs blk directly as this buffer's contents for block,
// without reading from disk first. Used by Manager.Write's "write a block
// that was never read" path (see Manager.Write).
func (b *Buffer) replace(block storage.BlockID, blk *storage.Block, lsn walog.LSN) error {
	if err := b.flush(); err != nil {
		return err
	}

	b.blockID = block
	b.block = blk
	b.dirty = true
	b.latestLSN = lsn
	return nil
}
