package txlog

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/luigitni/simpledb/storage"
)

// recordBuffer is a small sequential reader/writer over a record's body
// bytes. It is grounded on simpledb's tx.recordBuffer (tx/logrecord.go),
// adapted to a plain []byte cursor instead of a Block wrapper since a
// record body, unlike a page, is never resized or shared after encoding.
type recordBuffer struct {
	buf []byte
	pos int
}

func newRecordWriter(tag Type) *recordBuffer {
	rb := &recordBuffer{buf: make([]byte, 0, 32)}
	rb.writeByte(byte(tag))
	return rb
}

func newRecordReader(body []byte) *recordBuffer {
	return &recordBuffer{buf: body}
}

func (rb *recordBuffer) writeByte(v byte) {
	rb.buf = append(rb.buf, v)
}

func (rb *recordBuffer) writeInt32(v int32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	rb.buf = append(rb.buf, tmp[:]...)
}

func (rb *recordBuffer) writeUint32(v uint32) {
	rb.writeInt32(int32(v))
}

func (rb *recordBuffer) writeString(s string) {
	rb.writeInt32(int32(len(s)))
	rb.buf = append(rb.buf, s...)
}

func (rb *recordBuffer) writeBytes(b []byte) {
	rb.writeInt32(int32(len(b)))
	rb.buf = append(rb.buf, b...)
}

func (rb *recordBuffer) bytes() []byte {
	return rb.buf
}

func (rb *recordBuffer) writeBlock(block storage.BlockID) {
	rb.writeString(block.Filename)
	rb.writeInt32(block.Index)
}

func (rb *recordBuffer) readByte() (byte, error) {
	if rb.pos+1 > len(rb.buf) {
		return 0, errors.Wrap(ErrDecode, "truncated record: byte")
	}
	v := rb.buf[rb.pos]
	rb.pos++
	return v, nil
}

func (rb *recordBuffer) readInt32() (int32, error) {
	if rb.pos+4 > len(rb.buf) {
		return 0, errors.Wrap(ErrDecode, "truncated record: int32")
	}
	v := int32(binary.LittleEndian.Uint32(rb.buf[rb.pos:]))
	rb.pos += 4
	return v, nil
}

func (rb *recordBuffer) readUint32() (uint32, error) {
	v, err := rb.readInt32()
	return uint32(v), err
}

func (rb *recordBuffer) readString() (string, error) {
	n, err := rb.readInt32()
	if err != nil {
		return "", err
	}
	if n < 0 || rb.pos+int(n) > len(rb.buf) {
		return "", errors.Wrap(ErrDecode, "truncated record: string")
	}
	s := string(rb.buf[rb.pos : rb.pos+int(n)])
	rb.pos += int(n)
	return s, nil
}

func (rb *recordBuffer) readBlock() (storage.BlockID, error) {
	filename, err := rb.readString()
	if err != nil {
		return storage.BlockID{}, err
	}
	index, err := rb.readInt32()
	if err != nil {
		return storage.BlockID{}, err
	}
	return storage.NewBlockID(filename, index), nil
}

func (rb *recordBuffer) readBytes() ([]byte, error) {
	n, err := rb.readInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 || rb.pos+int(n) > len(rb.buf) {
		return nil, errors.Wrap(ErrDecode, "truncated record: bytes")
	}
	out := make([]byte, n)
	copy(out, rb.buf[rb.pos:rb.pos+int(n)])
	rb.pos += int(n)
	return out, nil
}
