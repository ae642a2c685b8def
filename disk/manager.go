// Package disk owns the byte-level layout of the database directory: it
// reads and writes fixed-size blocks to files and allocates file space for
// new blocks. It never caches a block's contents - that is the buffer
// pool's job - it is a thin, synchronized I/O adapter, grounded on
// simpledb's file.FileManager.
package disk

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/luigitni/simpledb/storage"
)

const tmpFilePrefix = "__tmp_"

// Manager reads and writes fixed-size blocks within a directory. Every
// call reads or writes exactly blockSize bytes at a block boundary, so
// each call incurs at most one disk access. All methods are serialized by
// an internal readers-writer lock so concurrent callers see a consistent
// file table.
type Manager struct {
	mu        sync.RWMutex
	dir       string
	blockSize int32
	isNew     bool
	openFiles map[string]*os.File
}

// NewManager opens (or creates) the database directory dir, configured for
// blocks of blockSize bytes. A directory that does not yet exist is
// created and IsNew reports true; any temp files left over from a crashed
// run (files created by CreateTempFile-style callers, prefixed __tmp_) are
// removed.
func NewManager(dir string, blockSize int32) (*Manager, error) {
	_, statErr := os.Stat(dir)
	isNew := os.IsNotExist(statErr)

	if isNew {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "disk: create directory %q", dir)
		}
	} else if statErr != nil {
		return nil, errors.Wrapf(statErr, "disk: stat directory %q", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "disk: read directory %q", dir)
	}

	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tmpFilePrefix) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return nil, errors.Wrapf(err, "disk: remove stale temp file %q", e.Name())
			}
		}
	}

	return &Manager{
		dir:       dir,
		blockSize: blockSize,
		isNew:     isNew,
		openFiles: make(map[string]*os.File),
	}, nil
}

// IsNew reports whether the database directory was created by this call
// to NewManager, i.e. whether there is anything to recover.
func (m *Manager) IsNew() bool {
	return m.isNew
}

// BlockSize returns the configured block size in bytes.
func (m *Manager) BlockSize() int32 {
	return m.blockSize
}

// Close closes every open file handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, f := range m.openFiles {
		if err := f.Close(); err != nil {
			return errors.Wrapf(err, "disk: close %q", name)
		}
	}
	return nil
}

// getOrOpenLocked returns the open file handle for filename, opening it
// (creating it if necessary) on first use. Caller must hold m.mu.
func (m *Manager) getOrOpenLocked(filename string) (*os.File, error) {
	if f, ok := m.openFiles[filename]; ok {
		return f, nil
	}

	p := filepath.Join(m.dir, filename)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "disk: open %q", p)
	}

	m.openFiles[filename] = f
	return f, nil
}

// Read loads the contents of block into dst. dst must already be sized to
// BlockSize(). A short read (including a file that does not yet cover the
// requested block) is tolerated and the remainder of dst is left zeroed,
// matching the semantics of a block that was allocated but never written.
func (m *Manager) Read(block storage.BlockID, dst *storage.Block) error {
	if block.IsEOF() {
		return errors.Errorf("disk: cannot read end-of-file marker block %s", block)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.getOrOpenLocked(block.Filename)
	if err != nil {
		return err
	}

	off := int64(block.Index) * int64(m.blockSize)
	_, err = f.ReadAt(dst.Contents(), off)
	// io.EOF (including ErrUnexpectedEOF for a short trailing read) means
	// we read into a block that was allocated but never written; that is
	// fine, the page is left zeroed past whatever was on disk.
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return errors.Wrapf(err, "disk: read %s", block)
	}
	return nil
}

// Write persists block's contents to disk at its block-aligned offset. It
// never extends the file implicitly; callers must have pre-allocated the
// block with AllocateNewBlocks.
func (m *Manager) Write(block storage.BlockID, src *storage.Block) error {
	if block.IsEOF() {
		return errors.Errorf("disk: cannot write end-of-file marker block %s", block)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.getOrOpenLocked(block.Filename)
	if err != nil {
		return err
	}

	off := int64(block.Index) * int64(m.blockSize)
	if _, err := f.WriteAt(src.Contents(), off); err != nil {
		return errors.Wrapf(err, "disk: write %s", block)
	}
	return nil
}

// Flush forces filename's contents durably to disk. It fails if the file
// has never been created.
func (m *Manager) Flush(filename string) error {
	m.mu.Lock()
	f, ok := m.openFiles[filename]
	m.mu.Unlock()

	if !ok {
		p := filepath.Join(m.dir, filename)
		if _, err := os.Stat(p); err != nil {
			return errors.Wrapf(err, "disk: flush %q: file missing", filename)
		}

		m.mu.Lock()
		var err error
		f, err = m.getOrOpenLocked(filename)
		m.mu.Unlock()
		if err != nil {
			return err
		}
	}

	if err := f.Sync(); err != nil {
		return errors.Wrapf(err, "disk: fsync %q", filename)
	}
	return nil
}

// Size returns the number of whole blocks currently stored in filename.
func (m *Manager) Size(filename string) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.getOrOpenLocked(filename)
	if err != nil {
		return 0, err
	}

	info, err := f.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "disk: stat %q", filename)
	}

	return int32(info.Size() / int64(m.blockSize)), nil
}

// AllocateNewBlocks ensures the directory and backing file of block exist
// and that the file is sized to hold exactly block.Index+1 blocks. It is
// the only method that may change a file's length; resizing down is
// permitted (if block.Index+1 is smaller than the current block count)
// but is not exercised by any caller in this package.
func (m *Manager) AllocateNewBlocks(block storage.BlockID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return errors.Wrapf(err, "disk: create directory %q", m.dir)
	}

	f, err := m.getOrOpenLocked(block.Filename)
	if err != nil {
		return err
	}

	want := int64(block.Index+1) * int64(m.blockSize)
	if err := f.Truncate(want); err != nil {
		return errors.Wrapf(err, "disk: allocate %s", block)
	}

	log.Debug().Str("file", block.Filename).Int32("index", block.Index).Msg("disk: allocated block")
	return nil
}
