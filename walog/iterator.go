package walog

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/luigitni/simpledb/disk"
	"github.com/luigitni/simpledb/storage"
)

// ErrLogDecode is returned when a record's framing is self-inconsistent:
// a trailer whose body_len would place the record's start before the
// beginning of the log. Header/trailer agreement is not checked here, and
// checksums are verified by txlog.Decode, not by the iterator.
var ErrLogDecode = errors.New("walog: corrupt record framing")

// Iterator walks the logical, block-boundary-agnostic stream of framed
// records making up the log, forward or backward.
type Iterator struct {
	dm        *disk.Manager
	logFile   string
	blockSize int32

	// tailBlock, when non-nil, is the in-memory copy of the block at
	// tailBlockID; it may contain bytes not yet flushed to disk. Every
	// Iterator built by Manager sets it to the manager's live tail block,
	// so blockContents never has to fall back to an undurable read.
	tailBlockID storage.BlockID
	tailBlock   *Block

	pos     int64 // logical offset of the current record's header
	bodyLen uint32
	valid   bool
}

func dataPerBlock(blockSize int32) int64 {
	return int64(blockSize) - cursorSize
}

// logicalPosition converts a physical (block, offset) position into its
// logical offset in the header-stripped record stream.
func logicalPosition(blockSize int32, block storage.BlockID, offset int32) int64 {
	return int64(block.Index)*dataPerBlock(blockSize) + int64(offset-cursorSize)
}

// physicalPosition is the inverse of logicalPosition.
func physicalPosition(blockSize int32, logFile string, logical int64) storage.DiskPosition {
	per := dataPerBlock(blockSize)
	idx := logical / per
	within := logical % per
	return storage.NewDiskPosition(storage.NewBlockID(logFile, int32(idx)), int32(within)+cursorSize)
}

// readLogical returns length bytes starting at logical offset from,
// transparently spanning block boundaries and skipping each block's
// 4-byte cursor header.
func (it *Iterator) readLogical(from int64, length int64) ([]byte, error) {
	out := make([]byte, length)
	filled := int64(0)

	for filled < length {
		pos := physicalPosition(it.blockSize, it.logFile, from+filled)
		avail := dataPerBlock(it.blockSize) - int64(pos.Offset-cursorSize)
		chunk := length - filled
		if chunk > avail {
			chunk = avail
		}

		raw, err := it.blockContents(pos.Block)
		if err != nil {
			return nil, err
		}

		b, err := raw.GetBytes(int(pos.Offset), int(chunk))
		if err != nil {
			return nil, errors.Wrap(err, "walog: read logical range")
		}

		copy(out[filled:], b)
		filled += chunk
	}

	return out, nil
}

// blockContents returns the raw bytes of block, preferring the in-memory
// tail when it matches and falling back to disk otherwise. Every
// Iterator is built from a live Manager that always supplies its current
// tail block (see newIterator), so the record an iterator walks is
// always fully available: either on disk, or in that tail.
func (it *Iterator) blockContents(block storage.BlockID) (*storage.Block, error) {
	if it.tailBlock != nil && block == it.tailBlockID {
		return it.tailBlock.Raw(), nil
	}

	raw := storage.NewBlock(int(it.blockSize))
	if err := it.dm.Read(block, raw); err != nil {
		return nil, errors.Wrap(err, "walog: read log block")
	}
	return raw, nil
}

// tailEnd returns the logical offset one past the last byte currently
// available to the iterator (durable or, with a tail, in-memory).
func (it *Iterator) tailEnd() int64 {
	return logicalPosition(it.blockSize, it.tailBlockID, it.tailBlock.Cursor())
}

// seekTo positions the iterator on the record whose logical end (header +
// body + trailer) is end. last is passed as true by LastLog and false by
// Previous; it does not affect positioning.
func (it *Iterator) seekTo(end int64, last bool) error {
	trailer, err := it.readLogical(end-trailerSize, trailerSize)
	if err != nil {
		return err
	}
	bodyLen := binary.LittleEndian.Uint32(trailer)

	start := end - trailerSize - int64(bodyLen) - headerSize
	if start < 0 {
		return errors.Wrap(ErrLogDecode, "walog: negative record start")
	}

	it.pos = start
	it.bodyLen = bodyLen
	it.valid = true
	_ = last
	return nil
}

// Valid reports whether the iterator currently sits on a record. It is
// false for a forward iterator that has not yet called Next, and for a
// backward iterator over an empty log; callers must check it before
// calling LogBody/Checksum, which otherwise error, or Position, whose
// result then names no record.
func (it *Iterator) Valid() bool {
	return it.valid
}

// HasNext reports whether a record follows the current position.
func (it *Iterator) HasNext() bool {
	if !it.valid {
		return it.pos < it.tailEnd()
	}
	return it.pos+headerSize+int64(it.bodyLen)+trailerSize < it.tailEnd()
}

// Next advances to the next record and returns its body.
func (it *Iterator) Next() ([]byte, error) {
	var nextStart int64
	if !it.valid {
		nextStart = it.pos
	} else {
		nextStart = it.pos + headerSize + int64(it.bodyLen) + trailerSize
	}

	header, err := it.readLogical(nextStart, headerSize)
	if err != nil {
		return nil, err
	}
	bodyLen := binary.LittleEndian.Uint32(header[4:8])

	it.pos = nextStart
	it.bodyLen = bodyLen
	it.valid = true

	return it.LogBody()
}

// HasPrevious reports whether a record precedes the current position.
func (it *Iterator) HasPrevious() bool {
	return it.valid && it.pos > 0
}

// Previous moves to the preceding record and returns its body.
func (it *Iterator) Previous() ([]byte, error) {
	if !it.valid {
		return nil, errors.New("walog: iterator has no current record")
	}

	if err := it.seekTo(it.pos, false); err != nil {
		return nil, err
	}
	return it.LogBody()
}

// LogBody returns the raw (unverified) body bytes of the current record.
func (it *Iterator) LogBody() ([]byte, error) {
	if !it.valid {
		return nil, errors.New("walog: iterator has no current record")
	}
	return it.readLogical(it.pos+headerSize, int64(it.bodyLen))
}

// Checksum returns the stored checksum of the current record, for the
// caller (txlog's decoder) to verify against the body it reads back.
func (it *Iterator) Checksum() (uint32, error) {
	if !it.valid {
		return 0, errors.New("walog: iterator has no current record")
	}
	header, err := it.readLogical(it.pos, headerSize)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(header[0:4]), nil
}

// Position returns the physical start position of the current record, as
// a DiskPosition-typed log_start.
func (it *Iterator) Position() storage.DiskPosition {
	return physicalPosition(it.blockSize, it.logFile, it.pos)
}

// Close releases the iterator's resources. Kept for symmetry with the
// teacher's pooled-page iterator; this implementation allocates no
// pooled resources of its own.
func (it *Iterator) Close() {}
