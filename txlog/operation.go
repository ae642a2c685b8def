package txlog

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/luigitni/simpledb/buffer"
	"github.com/luigitni/simpledb/storage"
)

// operationRecord describes one physical write to a block: the bytes it
// replaced (for Undo) and the bytes it installed (for Redo). It is
// grounded on simpledb's tx.setIntLogRecord/tx.setStringLogRecord
// (tx/set_fixedlen.go, tx/set_varlen.go), generalized into a single
// variable-length-byte-image shape (Block's accessors are all
// expressible as byte writes) and extended with an after-image Redo
// path that undo-only recovery never exercised.
type operationRecord struct {
	txID   storage.TxID
	block  storage.BlockID
	offset int32
	before []byte
	after  []byte
}

// NewOperation returns a record of a write to block at offset that
// replaced before with after.
func NewOperation(txID storage.TxID, block storage.BlockID, offset int32, before, after []byte) Record {
	return &operationRecord{
		txID:   txID,
		block:  block,
		offset: offset,
		before: before,
		after:  after,
	}
}

func (r *operationRecord) Type() Type         { return TypeOperation }
func (r *operationRecord) TxID() storage.TxID { return r.txID }

func (r *operationRecord) Block() storage.BlockID { return r.block }

func (r *operationRecord) Encode() []byte {
	w := newRecordWriter(TypeOperation)
	w.writeUint32(uint32(r.txID))
	w.writeBlock(r.block)
	w.writeInt32(r.offset)
	w.writeBytes(r.before)
	w.writeBytes(r.after)
	return w.bytes()
}

// Undo writes this record's before-image back into block through bm. lsn
// 0 is passed to SetModified: the record that justified this change is
// already durable, so undoing it does not need a new log watermark.
func (r *operationRecord) Undo(bm *buffer.Manager) error {
	buf, err := bm.Read(r.block)
	if err != nil {
		return errors.Wrapf(err, "txlog: undo read %s", r.block)
	}
	if err := buf.Contents().SetBytes(int(r.offset), r.before); err != nil {
		return errors.Wrapf(err, "txlog: undo write %s", r.block)
	}
	buf.SetModified(0)
	return nil
}

// Redo reapplies this record's after-image against block through bm.
func (r *operationRecord) Redo(bm *buffer.Manager) error {
	buf, err := bm.Read(r.block)
	if err != nil {
		return errors.Wrapf(err, "txlog: redo read %s", r.block)
	}
	if err := buf.Contents().SetBytes(int(r.offset), r.after); err != nil {
		return errors.Wrapf(err, "txlog: redo write %s", r.block)
	}
	buf.SetModified(0)
	return nil
}

func (r *operationRecord) String() string {
	return fmt.Sprintf("<OPERATION %d %s off=%d len=%d>", r.txID, r.block, r.offset, len(r.after))
}

func decodeOperation(body []byte) (Record, error) {
	rb := newRecordReader(body)
	if _, err := rb.readByte(); err != nil {
		return nil, err
	}
	txID, err := rb.readUint32()
	if err != nil {
		return nil, err
	}
	block, err := rb.readBlock()
	if err != nil {
		return nil, err
	}
	offset, err := rb.readInt32()
	if err != nil {
		return nil, err
	}
	before, err := rb.readBytes()
	if err != nil {
		return nil, err
	}
	after, err := rb.readBytes()
	if err != nil {
		return nil, err
	}

	return &operationRecord{
		txID:   storage.TxID(txID),
		block:  block,
		offset: offset,
		before: before,
		after:  after,
	}, nil
}
