// Package recovery implements the write-ahead-log-driven recovery
// manager: per-transaction commit/rollback and whole-database crash
// recovery. It is grounded on simpledb's tx.recoveryManager
// (tx/recovery_manager.go) for WriteLog/Commit/Rollback, and its
// doRecover's undo-only restart scan is generalized into the two-pass
// undo-then-redo scan original_source/src/recovery.cc performs, which the
// teacher's single-pass recovery never implements.
package recovery

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/luigitni/simpledb/buffer"
	"github.com/luigitni/simpledb/storage"
	"github.com/luigitni/simpledb/txlog"
	"github.com/luigitni/simpledb/walog"
)

// Manager is the recovery manager for one transaction; it also exposes
// the whole-database Recover scan run once at startup.
type Manager struct {
	lm   *walog.Manager
	bm   *buffer.Manager
	txID storage.TxID
}

// NewForTx returns a recovery manager for txID, writing its begin record
// to the log immediately.
func NewForTx(txID storage.TxID, lm *walog.Manager, bm *buffer.Manager) (*Manager, error) {
	m := &Manager{lm: lm, bm: bm, txID: txID}
	if _, err := m.WriteLog(txlog.NewBegin(txID)); err != nil {
		return nil, errors.Wrapf(err, "recovery: write begin record for tx %d", txID)
	}
	return m, nil
}

// WriteLog encodes record and appends it to the log, returning its LSN.
func (m *Manager) WriteLog(record txlog.Record) (walog.LSN, error) {
	lsn, err := m.lm.WriteLog(record.Encode())
	if err != nil {
		return 0, errors.Wrapf(err, "recovery: write %s", record)
	}
	return lsn, nil
}

// Commit flushes every buffer this transaction modified, writes and
// forces a commit record, making the transaction's effects durable.
func (m *Manager) Commit() error {
	if err := m.bm.FlushAll(); err != nil {
		return errors.Wrap(err, "recovery: flush buffers before commit")
	}
	lsn, err := m.WriteLog(txlog.NewCommit(m.txID))
	if err != nil {
		return err
	}
	if err := m.lm.Flush(lsn); err != nil {
		return errors.Wrap(err, "recovery: force commit record")
	}
	log.Info().Uint32("tx", uint32(m.txID)).Msg("recovery: committed")
	return nil
}

// Rollback undoes every operation this transaction performed, by scanning
// the log backward from its tail to this transaction's begin record, then
// writes and forces a rollback record.
func (m *Manager) Rollback() error {
	if err := m.doRollback(); err != nil {
		return errors.Wrapf(err, "recovery: rollback tx %d", m.txID)
	}
	if err := m.bm.FlushAll(); err != nil {
		return errors.Wrap(err, "recovery: flush buffers after rollback")
	}
	lsn, err := m.WriteLog(txlog.NewRollback(m.txID))
	if err != nil {
		return err
	}
	if err := m.lm.Flush(lsn); err != nil {
		return errors.Wrap(err, "recovery: force rollback record")
	}
	log.Info().Uint32("tx", uint32(m.txID)).Msg("recovery: rolled back")
	return nil
}

func (m *Manager) doRollback() error {
	it, err := m.lm.LastLog()
	if err != nil {
		return err
	}

	for {
		if !it.Valid() {
			break
		}

		record, err := decodeCurrent(it)
		if err != nil {
			return err
		}

		if record.TxID() == m.txID {
			if record.Type() == txlog.TypeBegin {
				break
			}
			if err := record.Undo(m.bm); err != nil {
				return errors.Wrapf(err, "recovery: undo %s", record)
			}
		}

		if !it.HasPrevious() {
			break
		}
		if _, err := it.Previous(); err != nil {
			return err
		}
	}

	return nil
}

// Recover performs whole-database crash recovery: a backward pass
// undoing every operation belonging to a transaction that neither
// committed nor rolled back, followed by a forward pass redoing every
// operation belonging to a transaction that did commit. It then writes a
// quiescent checkpoint record.
func Recover(lm *walog.Manager, bm *buffer.Manager) error {
	it, err := lm.LastLog()
	if err != nil {
		return errors.Wrap(err, "recovery: open log iterator")
	}
	if !it.Valid() {
		return finishRecover(lm, bm)
	}

	committed := make(map[storage.TxID]struct{})
	finished := make(map[storage.TxID]struct{})

	if err := undoStage(it, committed, finished, bm); err != nil {
		return errors.Wrap(err, "recovery: undo stage")
	}
	if err := redoStage(it, committed, bm); err != nil {
		return errors.Wrap(err, "recovery: redo stage")
	}

	return finishRecover(lm, bm)
}

func finishRecover(lm *walog.Manager, bm *buffer.Manager) error {
	if err := bm.FlushAll(); err != nil {
		return errors.Wrap(err, "recovery: flush buffers after recover")
	}
	cp := txlog.NewCheckpoint()
	lsn, err := lm.WriteLog(cp.Encode())
	if err != nil {
		return errors.Wrap(err, "recovery: write checkpoint")
	}
	if err := lm.Flush(lsn); err != nil {
		return errors.Wrap(err, "recovery: force checkpoint")
	}
	log.Info().Msg("recovery: recover complete")
	return nil
}

// undoStage walks the log backward from its tail to its head, undoing
// every operation record whose transaction has not yet been observed to
// commit or roll back, and recording which transactions did either.
func undoStage(it *walog.Iterator, committed, finished map[storage.TxID]struct{}, bm *buffer.Manager) error {
	for {
		if !it.Valid() {
			break
		}

		record, err := decodeCurrent(it)
		if err != nil {
			return err
		}

		switch record.Type() {
		case txlog.TypeEndCommit:
			committed[record.TxID()] = struct{}{}
			finished[record.TxID()] = struct{}{}
		case txlog.TypeEndAbort:
			finished[record.TxID()] = struct{}{}
		case txlog.TypeOperation:
			if _, done := finished[record.TxID()]; !done {
				if err := record.Undo(bm); err != nil {
					return errors.Wrapf(err, "recovery: undo %s", record)
				}
			}
		}

		if !it.HasPrevious() {
			break
		}
		if _, err := it.Previous(); err != nil {
			return err
		}
	}
	return nil
}

// redoStage walks the log forward from wherever undoStage left the
// iterator (its head, after the backward scan bottoms out) to its tail,
// redoing every operation record belonging to a transaction that
// committed.
func redoStage(it *walog.Iterator, committed map[storage.TxID]struct{}, bm *buffer.Manager) error {
	for {
		if !it.Valid() {
			break
		}

		record, err := decodeCurrent(it)
		if err != nil {
			return err
		}

		if record.Type() == txlog.TypeOperation {
			if _, ok := committed[record.TxID()]; ok {
				if err := record.Redo(bm); err != nil {
					return errors.Wrapf(err, "recovery: redo %s", record)
				}
			}
		}

		if !it.HasNext() {
			break
		}
		if _, err := it.Next(); err != nil {
			return err
		}
	}
	return nil
}

// decodeCurrent reads and decodes the record the iterator currently sits
// on. Callers must only invoke this when it.Valid() is true; any error
// returned here - a read failure, a framing error, a checksum mismatch -
// is a genuine fault and must halt recovery rather than be mistaken for
// end-of-log.
func decodeCurrent(it *walog.Iterator) (txlog.Record, error) {
	body, err := it.LogBody()
	if err != nil {
		return nil, errors.Wrap(err, "recovery: read log body")
	}
	checksum, err := it.Checksum()
	if err != nil {
		return nil, errors.Wrap(err, "recovery: read checksum")
	}
	record, err := txlog.Decode(body, checksum)
	if err != nil {
		return nil, errors.Wrap(err, "recovery: decode log record")
	}
	return record, nil
}
