package lock

import (
	"github.com/luigitni/simpledb/storage"
)

type mode byte

const (
	modeNone mode = iota
	modeShared
	modeExclusive
)

// Manager is a per-transaction view onto a shared Table: it remembers
// which locks this transaction already holds so that repeated requests
// for the same block are no-ops, and drives the shared-to-exclusive
// upgrade path. It is grounded on simpledb's tx.ConcurrencyManager
// (tx/concurrency_manager.go).
type Manager struct {
	table *Table
	held  map[storage.BlockID]mode
}

// NewManager returns a concurrency manager for one transaction, backed by
// the shared table.
func NewManager(table *Table) *Manager {
	return &Manager{
		table: table,
		held:  make(map[storage.BlockID]mode),
	}
}

// ReadLock ensures the transaction holds at least a shared lock on block.
func (m *Manager) ReadLock(block storage.BlockID) error {
	if m.held[block] != modeNone {
		return nil
	}
	if err := m.table.ReadLock(block); err != nil {
		return err
	}
	m.held[block] = modeShared
	return nil
}

// WriteLock ensures the transaction holds an exclusive lock on block,
// upgrading its existing shared lock in place if it has one.
func (m *Manager) WriteLock(block storage.BlockID) error {
	switch m.held[block] {
	case modeExclusive:
		return nil
	case modeShared:
		if err := m.table.WriteLockWhenOwningReadLock(block); err != nil {
			return err
		}
	default:
		if err := m.table.WriteLock(block); err != nil {
			return err
		}
	}
	m.held[block] = modeExclusive
	return nil
}

// Release drops every lock this transaction holds. Called exactly once,
// at transaction end (commit or rollback) per strict two-phase locking.
func (m *Manager) Release() {
	for block := range m.held {
		m.table.Release(block)
	}
	m.held = make(map[storage.BlockID]mode)
}
