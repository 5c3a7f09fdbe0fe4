package txn

import "sync"

// StatementLock serializes connection-level statement execution at the
// engine handle (spec §4.D): read statements take the shared lock, write
// statements take the exclusive lock. It is a conservative baseline —
// MVCC visibility, not this lock, is what lets concurrent readers see
// consistent snapshots; this just keeps two writers from interleaving
// their storage calls.
type StatementLock struct {
	mu sync.RWMutex
}

func (l *StatementLock) ReadLock()    { l.mu.RLock() }
func (l *StatementLock) ReadUnlock()  { l.mu.RUnlock() }
func (l *StatementLock) WriteLock()   { l.mu.Lock() }
func (l *StatementLock) WriteUnlock() { l.mu.Unlock() }
