// Package simpledb wires the disk manager, write-ahead log, buffer pool
// and lock table into a single transactional core and runs crash
// recovery at startup. It is grounded on simpledb's db.DB/db.NewDB
// (db/db.go), generalized to drop the metadata manager and SQL execution
// dispatch it owns: those are external collaborators this core exposes a
// seam for (Open returns the pieces a SQL layer would need) but does not
// itself implement.
package simpledb

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/luigitni/simpledb/buffer"
	"github.com/luigitni/simpledb/disk"
	"github.com/luigitni/simpledb/lock"
	"github.com/luigitni/simpledb/recovery"
	"github.com/luigitni/simpledb/transaction"
	"github.com/luigitni/simpledb/walog"
)

const (
	defaultBlockSize = 4096
	defaultBuffers   = 100
	defaultLogFile   = "simpledb.wal"
)

// Config controls how a DB is brought up. Zero values select the
// defaults (4KB blocks, 100 buffers, log file "simpledb.wal").
type Config struct {
	Dir        string
	BlockSize  int32
	NumBuffers int
	LogFile    string
}

func (c Config) withDefaults() Config {
	if c.BlockSize <= 0 {
		c.BlockSize = defaultBlockSize
	}
	if c.NumBuffers <= 0 {
		c.NumBuffers = defaultBuffers
	}
	if c.LogFile == "" {
		c.LogFile = defaultLogFile
	}
	return c
}

// DB is a running instance of the transactional core: every component a
// transaction needs, already wired together and recovered.
type DB struct {
	Disk      *disk.Manager
	Log       *walog.Manager
	Buffers   *buffer.Manager
	LockTable *lock.Table
}

// Open brings up a database rooted at cfg.Dir, creating it if it does not
// exist, and runs crash recovery against whatever log it finds (a fresh
// log recovers as a no-op). It is the sole startup path: callers must
// not touch disk/walog/buffer directly before this returns.
func Open(cfg Config) (*DB, error) {
	cfg = cfg.withDefaults()

	dm, err := disk.NewManager(cfg.Dir, cfg.BlockSize)
	if err != nil {
		return nil, errors.Wrap(err, "simpledb: open disk manager")
	}

	if dm.IsNew() {
		log.Info().Str("dir", cfg.Dir).Msg("simpledb: initializing new database")
	} else {
		log.Info().Str("dir", cfg.Dir).Msg("simpledb: opening existing database")
	}

	lm, err := walog.NewManager(dm, cfg.LogFile)
	if err != nil {
		return nil, errors.Wrap(err, "simpledb: open log manager")
	}

	bm := buffer.NewManager(dm, lm, cfg.NumBuffers)

	if err := recovery.Recover(lm, bm); err != nil {
		return nil, errors.Wrap(err, "simpledb: recover")
	}

	return &DB{
		Disk:      dm,
		Log:       lm,
		Buffers:   bm,
		LockTable: lock.NewTable(0),
	}, nil
}

// Close releases the database's open file handles.
func (db *DB) Close() error {
	return db.Disk.Close()
}

// Begin starts a new transaction against this database.
func (db *DB) Begin() (*transaction.Transaction, error) {
	return transaction.Begin(db.Disk, db.Log, db.Buffers, db.LockTable)
}

// Run executes fn inside a new transaction, committing on success and
// rolling back automatically on failure. See transaction.Run.
func (db *DB) Run(fn func(*transaction.Transaction) error) error {
	return transaction.Run(db.Disk, db.Log, db.Buffers, db.LockTable, fn)
}
