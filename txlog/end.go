package txlog

import (
	"fmt"

	"github.com/luigitni/simpledb/buffer"
	"github.com/luigitni/simpledb/storage"
)

// endRecord marks a transaction's completion, either by commit or by
// rollback. It is grounded on simpledb's tx.commitLogRecord and
// tx.rollbackLogRecord (tx/commit.go), merged into a single shape here
// since the two differ only in their tag byte and carry identical
// fields.
type endRecord struct {
	txID    storage.TxID
	commit  bool
}

// NewCommit returns an end-by-commit record.
func NewCommit(txID storage.TxID) Record {
	return &endRecord{txID: txID, commit: true}
}

// NewRollback returns an end-by-rollback record.
func NewRollback(txID storage.TxID) Record {
	return &endRecord{txID: txID, commit: false}
}

func (r *endRecord) Type() Type {
	if r.commit {
		return TypeEndCommit
	}
	return TypeEndAbort
}

func (r *endRecord) TxID() storage.TxID { return r.txID }

func (r *endRecord) Encode() []byte {
	w := newRecordWriter(r.Type())
	w.writeUint32(uint32(r.txID))
	return w.bytes()
}

func (r *endRecord) Undo(bm *buffer.Manager) error { return nil }
func (r *endRecord) Redo(bm *buffer.Manager) error { return nil }

func (r *endRecord) String() string {
	if r.commit {
		return fmt.Sprintf("<COMMIT %d>", r.txID)
	}
	return fmt.Sprintf("<ROLLBACK %d>", r.txID)
}

func decodeEnd(body []byte) (Record, error) {
	rb := newRecordReader(body)
	tag, err := rb.readByte()
	if err != nil {
		return nil, err
	}
	txID, err := rb.readUint32()
	if err != nil {
		return nil, err
	}
	return &endRecord{txID: storage.TxID(txID), commit: Type(tag) == TypeEndCommit}, nil
}
