package buffer

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/luigitni/simpledb/disk"
	"github.com/luigitni/simpledb/storage"
	"github.com/luigitni/simpledb/walog"
)

// Manager is a fixed-size pool of buffers shared by every transaction.
// Lookups (an already-cached block) share the lock; installing a new
// buffer or flushing is exclusive, matching spec's "reads share, installs
// and flushes are exclusive" rule.
type Manager struct {
	mu sync.RWMutex

	dm *disk.Manager
	lm *walog.Manager

	slots   []*Buffer
	byBlock map[storage.BlockID]int
	clock   int // next victim candidate, round-robin
}

// NewManager preallocates size buffers against dm/lm.
func NewManager(dm *disk.Manager, lm *walog.Manager, size int) *Manager {
	slots := make([]*Buffer, size)
	for i := range slots {
		slots[i] = newBuffer(dm, lm)
	}

	return &Manager{
		dm:      dm,
		lm:      lm,
		slots:   slots,
		byBlock: make(map[storage.BlockID]int, size),
	}
}

// Read returns the buffer caching block, loading it from disk into an
// evicted slot on a cache miss.
func (m *Manager) Read(block storage.BlockID) (*Buffer, error) {
	m.mu.RLock()
	if i, ok := m.byBlock[block]; ok {
		buf := m.slots[i]
		m.mu.RUnlock()
		return buf, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// re-check: another writer may have installed it while we upgraded.
	if i, ok := m.byBlock[block]; ok {
		return m.slots[i], nil
	}

	i, err := m.evictLocked()
	if err != nil {
		return nil, err
	}

	if err := m.slots[i].assign(block); err != nil {
		return nil, err
	}

	m.byBlock[block] = i
	return m.slots[i], nil
}

// Write updates the buffer caching block with blk's contents and raises
// its LSN watermark to max(latestLSN, lsn). If no buffer currently caches
// block, a new one is installed carrying blk directly as its "current
// image" without first reading the existing on-disk contents; callers in
// this repository always Read a block before Write-ing to it, so the
// miss path here only exists to preserve that literal contract for
// callers that do not.
func (m *Manager) Write(block storage.BlockID, blk *storage.Block, lsn walog.LSN) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i, ok := m.byBlock[block]; ok {
		buf := m.slots[i]
		buf.block = blk
		buf.SetModified(lsn)
		return nil
	}

	i, err := m.evictLocked()
	if err != nil {
		return err
	}

	if err := m.slots[i].replace(block, blk, lsn); err != nil {
		return err
	}
	m.byBlock[block] = i
	return nil
}

// evictLocked picks the next victim slot round-robin and drops its old
// block from the index. It does not flush the slot itself: assign and
// replace flush the victim's dirty contents before overwriting them.
// Caller must hold m.mu for writing.
func (m *Manager) evictLocked() (int, error) {
	if len(m.slots) == 0 {
		return 0, errors.New("buffer: pool has zero capacity")
	}

	victim := m.clock
	m.clock = (m.clock + 1) % len(m.slots)

	for old, idx := range m.byBlock {
		if idx == victim {
			delete(m.byBlock, old)
			log.Debug().Str("evicted", old.String()).Msg("buffer: evicting slot")
			break
		}
	}

	return victim, nil
}

// Flush writes the buffer caching block to disk if one is cached;
// otherwise it fsyncs the block's file directly, matching spec's
// "otherwise fsyncs the file" fallback.
func (m *Manager) Flush(block storage.BlockID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i, ok := m.byBlock[block]; ok {
		return m.slots[i].flush()
	}

	return m.dm.Flush(block.Filename)
}

// FlushAll flushes every dirty buffer, syncing each touched file exactly
// once.
func (m *Manager) FlushAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	touched := make(map[string]struct{})
	for _, buf := range m.slots {
		if !buf.dirty {
			continue
		}
		file := buf.blockID.Filename
		if err := buf.flush(); err != nil {
			return err
		}
		touched[file] = struct{}{}
	}

	for file := range touched {
		if err := m.dm.Flush(file); err != nil {
			return errors.Wrapf(err, "buffer: flush-all sync %q", file)
		}
	}
	return nil
}

// Available returns the number of buffer slots not currently caching any
// block.
func (m *Manager) Available() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.slots) - len(m.byBlock)
}
