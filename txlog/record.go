// Package txlog implements the write-ahead log's record taxonomy: the
// four tagged record shapes (begin, operation, end, checkpoint), their
// encode/decode and their undo/redo behavior. It is grounded on
// simpledb's tx.logRecord family (tx/logrecord.go, tx/start.go,
// tx/commit.go, tx/checkpoint.go, tx/set_fixedlen.go), generalized from
// a sequential iota tag byte to a two-high-bit tag layout, and extended
// with a Redo path an undo-only recovery manager never needed.
package txlog

import (
	"github.com/pkg/errors"
	"github.com/spaolacci/murmur3"

	"github.com/luigitni/simpledb/buffer"
	"github.com/luigitni/simpledb/storage"
)

// Type identifies one of the four record shapes.
type Type byte

const (
	// tag occupies the two high bits of the first body byte.
	tagMask Type = 0xC0

	TypeBegin      Type = 0x00
	TypeOperation  Type = 0x40
	TypeEndCommit  Type = 0x80
	TypeEndAbort   Type = 0xA0
	TypeCheckpoint Type = 0xC0
)

func (t Type) String() string {
	if t == TypeEndAbort {
		return "ROLLBACK"
	}
	switch t & tagMask {
	case TypeBegin:
		return "BEGIN"
	case TypeOperation:
		return "OPERATION"
	case TypeEndCommit:
		return "COMMIT"
	case TypeCheckpoint:
		return "CHECKPOINT"
	default:
		return "UNKNOWN"
	}
}

// ErrDecode is returned for any self-inconsistent or unrecognized record
// body: an unknown tag or a truncated body. Recovery halts rather than
// guess at a record it cannot decode.
var ErrDecode = errors.New("txlog: malformed log record")

// ErrChecksumMismatch is returned by Decode when the record's stored
// checksum does not match the body's recomputed one.
var ErrChecksumMismatch = errors.New("txlog: checksum mismatch")

// Record is a decoded log record: a tagged value that knows how to
// encode itself, report which transaction it belongs to, and physically
// undo or redo the mutation it describes (no-ops for the three record
// shapes that carry no mutation).
type Record interface {
	Type() Type
	TxID() storage.TxID
	Encode() []byte
	// Undo reverts the mutation this record describes by writing its
	// before-image back through bm. No-op for non-Operation records.
	Undo(bm *buffer.Manager) error
	// Redo reapplies the mutation this record describes by writing its
	// after-image through bm. No-op for non-Operation records.
	Redo(bm *buffer.Manager) error
	String() string
}

// Checksum returns the 32-bit checksum of an encoded record body.
func Checksum(body []byte) uint32 {
	return murmur3.Sum32(body)
}

// Decode parses a record body, verifying it against the record's stored
// checksum. gotChecksum is the checksum the log manager framed the record
// with (walog.Iterator.Checksum).
func Decode(body []byte, gotChecksum uint32) (Record, error) {
	if murmur3.Sum32(body) != gotChecksum {
		return nil, ErrChecksumMismatch
	}
	return decodeBody(body)
}

func decodeBody(body []byte) (Record, error) {
	if len(body) < 1 {
		return nil, errors.Wrap(ErrDecode, "empty record body")
	}

	switch Type(body[0]) & tagMask {
	case TypeBegin:
		return decodeBegin(body)
	case TypeOperation:
		return decodeOperation(body)
	case TypeEndCommit, TypeEndAbort:
		return decodeEnd(body)
	case TypeCheckpoint:
		return decodeCheckpoint(body)
	default:
		return nil, errors.Wrapf(ErrDecode, "unknown tag 0x%x", body[0])
	}
}
