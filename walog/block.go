package walog

import (
	"github.com/pkg/errors"

	"github.com/luigitni/simpledb/storage"
)

// cursorSize is the width of a log block's leading append-cursor header.
const cursorSize = 4

// Block is a storage.Block specialized for the log: its first four bytes
// are a little-endian cursor naming the offset of the next free byte.
// Appends never overwrite the header; bytes past the cursor are zeroed and
// are never read in normal operation.
type Block struct {
	raw    *storage.Block
	cursor int32
}

// NewBlock wraps a freshly allocated storage.Block as an empty log block,
// cursor initialized just past the header.
func NewBlock(raw *storage.Block) *Block {
	b := &Block{raw: raw, cursor: cursorSize}
	// the error below can only fire if raw is smaller than the cursor
	// field itself, which would mean blockSize <= 4 - already rejected by
	// Manager construction.
	_ = raw.SetInt32(0, cursorSize)
	return b
}

// ReadBlock parses an existing on-disk log block: raw already holds its
// persisted bytes, and the cursor is recovered from the first four bytes.
func ReadBlock(raw *storage.Block) (*Block, error) {
	cursor, err := raw.GetInt32(0)
	if err != nil {
		return nil, errors.Wrap(err, "walog: read log block cursor")
	}
	return &Block{raw: raw, cursor: cursor}, nil
}

// Cursor returns the offset of the next free byte in the block.
func (b *Block) Cursor() int32 {
	return b.cursor
}

// Raw returns the underlying storage.Block, e.g. to hand to the disk
// manager for a write-back.
func (b *Block) Raw() *storage.Block {
	return b.raw
}

// Append consumes data[from:] into the block starting at the cursor. If
// every remaining byte fits, the cursor advances and ok is true. If the
// block fills first, as many bytes as fit are written, the cursor is
// pinned at the block size, and the returned offset names where the next
// block's append must resume from.
func (b *Block) Append(data []byte, from int) (next int, ok bool, err error) {
	consumed, werr := b.raw.WriteBytesAt(int(b.cursor), data, from)

	var full *storage.ErrBlockFull
	switch {
	case werr == nil:
		b.cursor += int32(consumed)
		if err := b.raw.SetInt32(0, b.cursor); err != nil {
			return from, false, errors.Wrap(err, "walog: update cursor")
		}
		return from + consumed, true, nil
	case errors.As(werr, &full):
		b.cursor = int32(b.raw.Len())
		if err := b.raw.SetInt32(0, b.cursor); err != nil {
			return from, false, errors.Wrap(err, "walog: update cursor")
		}
		return from + full.Consumed, false, nil
	default:
		return from, false, errors.Wrap(werr, "walog: append")
	}
}
