package storage

// TxID identifies one transaction for the lifetime of a single process
// run. IDs are assigned by a monotonic in-process counter starting at
// zero; they carry no meaning across restarts, which is why recovery only
// ever needs to reason about the IDs it observes within the log it reads.
type TxID uint32
