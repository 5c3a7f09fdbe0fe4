package storage

import (
	"math"
	"sync"
)

// TransactionRegistry tracks active storage.Transaction snapshots to find the
// oldest one still live, the floor below which Vacuum may reclaim tombstones.
// This is a different concern from pkg/txn.Manager, which tracks SQL-level
// transaction state (write-sets, commit/abort, write-write conflicts) keyed
// by an opaque txn id: TransactionRegistry only ever sees a *Transaction's
// SnapshotLSN, never a row it touched, and has no notion of commit ordering
// or conflicts — it exists purely to answer "is it safe to reclaim this
// tombstone yet".
//
// A tombstone with DeleteLSN < minActiveLSN is safe to remove: every future
// transaction gets SnapshotLSN >= the current LSN >= DeleteLSN and already
// sees it as deleted, and every currently active transaction has
// SnapshotLSN >= minActiveLSN > DeleteLSN and sees it as deleted too.
type TransactionRegistry struct {
	mu           sync.Mutex
	activeTxns   map[*Transaction]struct{}
	minActiveLSN uint64
}

func NewTransactionRegistry() *TransactionRegistry {
	return &TransactionRegistry{
		activeTxns:   make(map[*Transaction]struct{}),
		minActiveLSN: math.MaxUint64,
	}
}

// Register records tx's snapshot LSN as active.
func (tr *TransactionRegistry) Register(tx *Transaction) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.activeTxns[tx] = struct{}{}
	if tx.SnapshotLSN < tr.minActiveLSN {
		tr.minActiveLSN = tx.SnapshotLSN
	}
}

// Unregister drops tx and recomputes minActiveLSN from what remains. A full
// rescan is simpler than tracking whether tx was the minimum and is cheap
// enough given how few transactions are active at once.
func (tr *TransactionRegistry) Unregister(tx *Transaction) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	delete(tr.activeTxns, tx)

	if len(tr.activeTxns) == 0 {
		tr.minActiveLSN = math.MaxUint64
		return
	}

	min := uint64(math.MaxUint64)
	for t := range tr.activeTxns {
		if t.SnapshotLSN < min {
			min = t.SnapshotLSN
		}
	}
	tr.minActiveLSN = min
}

// GetMinActiveLSN returns the smallest SnapshotLSN among all active transactions.
// Returns MaxUint64 if no transactions are active.
func (tr *TransactionRegistry) GetMinActiveLSN() uint64 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.minActiveLSN
}
