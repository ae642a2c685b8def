// Package walog implements the write-ahead log: a block-paged, append-only
// file of checksum-framed variable-length records, with lazy LSN-watermark
// flushing and bidirectional iteration. It is grounded on simpledb's
// log.WalWriter/wal.WalIterator, generalized to the checksummed,
// forward-appending wire format this core's recovery protocol requires.
package walog

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spaolacci/murmur3"

	"github.com/luigitni/simpledb/disk"
	"github.com/luigitni/simpledb/storage"
)

// LSN is a monotonically increasing log sequence number assigned at
// write time. LSN zero is never assigned; it is used as "no record yet".
type LSN uint32

const headerSize = 8 // checksum u32 LE + body_len u32 LE
const trailerSize = 4 // body_len u32 LE, repeated

// Manager owns one append-only log file and serializes all writes and
// flushes through an internal lock.
type Manager struct {
	mu sync.Mutex

	dm        *disk.Manager
	logFile   string
	blockSize int32

	currentBlockID storage.BlockID
	currentBlock   *Block

	nextLSN     LSN
	nextSaveLSN LSN
}

// NewManager opens or initializes the log file logFile within dm's
// directory. blockSize must be greater than 4 (the cursor header alone
// must fit, with room for at least one record).
func NewManager(dm *disk.Manager, logFile string) (*Manager, error) {
	blockSize := dm.BlockSize()
	if blockSize <= 4 {
		return nil, errors.Errorf("walog: block size %d too small, must exceed 4", blockSize)
	}

	m := &Manager{
		dm:          dm,
		logFile:     logFile,
		blockSize:   blockSize,
		nextLSN:     1,
		nextSaveLSN: 1,
	}

	size, err := dm.Size(logFile)
	if err != nil {
		return nil, errors.Wrap(err, "walog: size log file")
	}

	if size == 0 {
		id, blk, err := m.allocateBlock(0)
		if err != nil {
			return nil, err
		}
		m.currentBlockID = id
		m.currentBlock = blk
		return m, nil
	}

	id := storage.NewBlockID(logFile, size-1)
	raw := storage.NewBlock(int(blockSize))
	if err := dm.Read(id, raw); err != nil {
		return nil, errors.Wrap(err, "walog: read tail block")
	}
	blk, err := ReadBlock(raw)
	if err != nil {
		return nil, err
	}

	m.currentBlockID = id
	m.currentBlock = blk
	return m, nil
}

func (m *Manager) allocateBlock(index int32) (storage.BlockID, *Block, error) {
	id := storage.NewBlockID(m.logFile, index)
	if err := m.dm.AllocateNewBlocks(id); err != nil {
		return storage.BlockID{}, nil, errors.Wrap(err, "walog: allocate block")
	}

	raw := storage.NewBlock(int(m.blockSize))
	blk := NewBlock(raw)
	if err := m.dm.Write(id, raw); err != nil {
		return storage.BlockID{}, nil, errors.Wrap(err, "walog: write fresh block")
	}
	return id, blk, nil
}

// WriteLog frames body with its checksum/length header and trailer and
// appends the frame to the log, spanning blocks as needed. On any failure
// the manager's tail state is restored to what it was before the call, so
// a failed append never leaves the log in a half-advanced state.
func (m *Manager) WriteLog(body []byte) (LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	savedBlockID := m.currentBlockID
	savedBlock := m.currentBlock

	frame := frameRecord(body)

	if err := m.appendFrame(frame); err != nil {
		m.currentBlockID = savedBlockID
		m.currentBlock = savedBlock
		return 0, err
	}

	lsn := m.nextLSN
	m.nextLSN++

	log.Debug().Uint32("lsn", uint32(lsn)).Int("bytes", len(body)).Msg("walog: appended record")
	return lsn, nil
}

func frameRecord(body []byte) []byte {
	frame := make([]byte, headerSize+len(body)+trailerSize)
	checksum := murmur3.Sum32(body)
	binary.LittleEndian.PutUint32(frame[0:4], checksum)
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(body)))
	copy(frame[8:8+len(body)], body)
	binary.LittleEndian.PutUint32(frame[8+len(body):], uint32(len(body)))
	return frame
}

// appendFrame writes frame into the current block, rolling to freshly
// allocated blocks as needed. Caller must hold m.mu.
func (m *Manager) appendFrame(frame []byte) error {
	from := 0
	for {
		next, ok, err := m.currentBlock.Append(frame, from)
		if err != nil {
			return errors.Wrap(err, "walog: append frame")
		}
		from = next

		if ok {
			return nil
		}

		// the block filled mid-frame: write it back and roll to a new one.
		if err := m.dm.Write(m.currentBlockID, m.currentBlock.Raw()); err != nil {
			return errors.Wrap(err, "walog: write full block")
		}

		id, blk, err := m.allocateBlock(m.currentBlockID.Index + 1)
		if err != nil {
			return err
		}
		m.currentBlockID = id
		m.currentBlock = blk
	}
}

// Flush forces the log durably to disk if it might contain any record up
// to and including lsn that has not yet been synced.
func (m *Manager) Flush(lsn LSN) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.flushLocked(lsn)
}

func (m *Manager) flushLocked(lsn LSN) error {
	if lsn < m.nextSaveLSN {
		return nil
	}

	if err := m.dm.Write(m.currentBlockID, m.currentBlock.Raw()); err != nil {
		return errors.Wrap(err, "walog: flush write")
	}
	if err := m.dm.Flush(m.logFile); err != nil {
		return errors.Wrap(err, "walog: flush fsync")
	}

	m.nextSaveLSN = m.nextLSN
	return nil
}

// LastLog flushes the tail and returns an iterator positioned on the most
// recently written record, ready for backward traversal via
// HasPrevious/Previous.
func (m *Manager) LastLog() (*Iterator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.flushLocked(m.nextLSN - 1); err != nil {
		return nil, err
	}

	it := m.newIterator()
	end := logicalPosition(m.blockSize, m.currentBlockID, m.currentBlock.Cursor())
	if end == 0 {
		it.valid = false
		return it, nil
	}

	if err := it.seekTo(end, true); err != nil {
		return nil, err
	}
	return it, nil
}

// Iterator returns an iterator positioned before the first record, ready
// for forward traversal via HasNext/Next.
func (m *Manager) Iterator() (*Iterator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.flushLocked(m.nextLSN - 1); err != nil {
		return nil, err
	}

	it := m.newIterator()
	it.pos = 0
	it.valid = false
	return it, nil
}

func (m *Manager) newIterator() *Iterator {
	return &Iterator{
		dm:          m.dm,
		logFile:     m.logFile,
		blockSize:   m.blockSize,
		tailBlockID: m.currentBlockID,
		tailBlock:   m.currentBlock,
	}
}
