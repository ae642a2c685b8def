package txlog

import (
	"fmt"

	"github.com/luigitni/simpledb/buffer"
	"github.com/luigitni/simpledb/storage"
)

// beginRecord marks the start of a transaction. It is grounded on
// simpledb's tx.startLogRecord (tx/start.go).
type beginRecord struct {
	txID storage.TxID
}

// NewBegin returns a begin-transaction record ready to be encoded.
func NewBegin(txID storage.TxID) Record {
	return &beginRecord{txID: txID}
}

func (r *beginRecord) Type() Type        { return TypeBegin }
func (r *beginRecord) TxID() storage.TxID { return r.txID }

func (r *beginRecord) Encode() []byte {
	w := newRecordWriter(TypeBegin)
	w.writeUint32(uint32(r.txID))
	return w.bytes()
}

func (r *beginRecord) Undo(bm *buffer.Manager) error { return nil }
func (r *beginRecord) Redo(bm *buffer.Manager) error { return nil }

func (r *beginRecord) String() string {
	return fmt.Sprintf("<BEGIN %d>", r.txID)
}

func decodeBegin(body []byte) (Record, error) {
	rb := newRecordReader(body)
	if _, err := rb.readByte(); err != nil {
		return nil, err
	}
	txID, err := rb.readUint32()
	if err != nil {
		return nil, err
	}
	return &beginRecord{txID: storage.TxID(txID)}, nil
}
