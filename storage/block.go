package storage

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrOutOfBounds is returned by a Block accessor whose offset/length would
// read or write past the end of the block.
var ErrOutOfBounds = errors.New("storage: offset/length out of block bounds")

// ErrBlockFull is returned by WriteBytesAt when the destination block fills
// before every source byte has been copied. It carries the number of bytes
// actually consumed so the caller (the log manager's block-spanning append
// loop) knows where to resume writing into the next block.
type ErrBlockFull struct {
	Consumed int
}

func (e *ErrBlockFull) Error() string {
	return "storage: block filled mid-copy"
}

// Block is an owned, fixed-length byte buffer: one page of the configured
// block size. Every Block returned by the disk manager has len(buf) ==
// blockSize; that invariant is enforced at construction and never broken
// by any accessor.
type Block struct {
	buf []byte
}

// NewBlock allocates a zeroed block of exactly size bytes.
func NewBlock(size int) *Block {
	return &Block{buf: make([]byte, size)}
}

// WrapBlock adopts buf as a block's backing storage without copying. The
// caller must not retain a reference to buf after this call.
func WrapBlock(buf []byte) *Block {
	return &Block{buf: buf}
}

// Contents returns the block's full backing byte slice.
func (b *Block) Contents() []byte {
	return b.buf
}

// Len returns the configured block size.
func (b *Block) Len() int {
	return len(b.buf)
}

func (b *Block) checkBounds(offset, length int) error {
	if offset < 0 || length < 0 || offset+length > len(b.buf) {
		return errors.Wrapf(ErrOutOfBounds, "offset=%d length=%d blockSize=%d", offset, length, len(b.buf))
	}
	return nil
}

// GetU8 reads a single byte at offset.
func (b *Block) GetU8(offset int) (byte, error) {
	if err := b.checkBounds(offset, 1); err != nil {
		return 0, err
	}
	return b.buf[offset], nil
}

// SetU8 writes a single byte at offset.
func (b *Block) SetU8(offset int, v byte) error {
	if err := b.checkBounds(offset, 1); err != nil {
		return err
	}
	b.buf[offset] = v
	return nil
}

// GetInt32 reads a little-endian 4-byte integer at offset.
func (b *Block) GetInt32(offset int) (int32, error) {
	if err := b.checkBounds(offset, 4); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b.buf[offset:])), nil
}

// SetInt32 writes a little-endian 4-byte integer at offset.
func (b *Block) SetInt32(offset int, v int32) error {
	if err := b.checkBounds(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b.buf[offset:], uint32(v))
	return nil
}

// GetBytes copies and returns length raw bytes starting at offset.
func (b *Block) GetBytes(offset, length int) ([]byte, error) {
	if err := b.checkBounds(offset, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, b.buf[offset:offset+length])
	return out, nil
}

// SetBytes copies src into the block starting at offset.
func (b *Block) SetBytes(offset int, src []byte) error {
	if err := b.checkBounds(offset, len(src)); err != nil {
		return err
	}
	copy(b.buf[offset:], src)
	return nil
}

// GetFixedString reads a length-prefixed ASCII string occupying exactly
// size bytes: one length byte followed by size-1 bytes of payload.
func (b *Block) GetFixedString(offset, size int) (string, error) {
	if err := b.checkBounds(offset, size); err != nil {
		return "", err
	}
	n := int(b.buf[offset])
	if n > size-1 {
		n = size - 1
	}
	return string(b.buf[offset+1 : offset+1+n]), nil
}

// SetFixedString writes s into a fixed-size, length-prefixed slot. s is
// truncated if it does not fit in size-1 bytes.
func (b *Block) SetFixedString(offset, size int, s string) error {
	if err := b.checkBounds(offset, size); err != nil {
		return err
	}
	n := len(s)
	if n > size-1 {
		n = size - 1
	}
	b.buf[offset] = byte(n)
	copy(b.buf[offset+1:offset+1+n], s[:n])
	for i := offset + 1 + n; i < offset+size; i++ {
		b.buf[i] = 0
	}
	return nil
}

// WriteItem writes a raw item of exactly len(item) bytes at offset. It is
// a thin convenience over SetBytes used by callers that already know the
// field's length (the log record codecs, mainly).
func (b *Block) WriteItem(offset int, item []byte) error {
	return b.SetBytes(offset, item)
}

// WriteBytesAt copies src[srcOffset:] into the block starting at
// blockOffset. If every byte fits, it returns (len(src), nil). If the
// block fills before all of src is copied, it writes as many bytes as fit
// and returns an *ErrBlockFull carrying the number of source bytes
// actually consumed - the log block's append loop uses this to resume
// writing the remainder into the next block.
func (b *Block) WriteBytesAt(blockOffset int, src []byte, srcOffset int) (int, error) {
	if blockOffset < 0 || blockOffset > len(b.buf) {
		return 0, errors.Wrapf(ErrOutOfBounds, "blockOffset=%d blockSize=%d", blockOffset, len(b.buf))
	}

	avail := len(b.buf) - blockOffset
	remaining := len(src) - srcOffset
	if remaining <= avail {
		copy(b.buf[blockOffset:], src[srcOffset:])
		return remaining, nil
	}

	copy(b.buf[blockOffset:], src[srcOffset:srcOffset+avail])
	return avail, &ErrBlockFull{Consumed: avail}
}
