package storage_test

import (
	"testing"

	"github.com/maxBogovick/relmem/pkg/storage"
	"github.com/maxBogovick/relmem/pkg/types"
)

func TestSnapshotIsolation_HidesLaterWrites(t *testing.T) {
	se := newMemEngine(t)
	se.Put("users", "id", types.Integer(1), `{"id": 1, "v": "old"}`)

	tx := se.BeginTransaction(storage.RepeatableRead)
	defer tx.Close()

	// Committed after the snapshot was taken: must stay invisible to tx.
	se.Put("users", "id", types.Integer(2), `{"id": 2, "v": "new"}`)

	_, found, err := tx.Get("users", "id", types.Integer(2))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("repeatable-read snapshot should not see a write committed after it began")
	}

	// Row visible before the snapshot stays visible throughout the transaction.
	_, found, err = tx.Get("users", "id", types.Integer(1))
	if err != nil || !found {
		t.Fatalf("expected pre-snapshot row visible, found=%v err=%v", found, err)
	}
}

func TestReadCommitted_SeesLaterWrites(t *testing.T) {
	se := newMemEngine(t)
	se.Put("users", "id", types.Integer(1), `{"id": 1, "v": "old"}`)

	tx := se.BeginTransaction(storage.ReadCommitted)
	defer tx.Close()

	se.Put("users", "id", types.Integer(2), `{"id": 2, "v": "new"}`)

	_, found, err := tx.Get("users", "id", types.Integer(2))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("read-committed transaction should refresh its snapshot and see the new row")
	}
}

func TestDelete_InvisibleToLaterSnapshotButVisibleToEarlier(t *testing.T) {
	se := newMemEngine(t)
	se.Put("users", "id", types.Integer(1), `{"id": 1, "v": "old"}`)

	txBefore := se.BeginTransaction(storage.RepeatableRead)
	defer txBefore.Close()

	se.Del("users", "id", types.Integer(1))

	txAfter := se.BeginTransaction(storage.RepeatableRead)
	defer txAfter.Close()

	if _, found, _ := txBefore.Get("users", "id", types.Integer(1)); !found {
		t.Fatal("transaction started before the delete should still see the row")
	}
	if _, found, _ := txAfter.Get("users", "id", types.Integer(1)); found {
		t.Fatal("transaction started after the delete should not see the row")
	}
}

func TestMinActiveLSN_TracksOpenTransactions(t *testing.T) {
	se := newMemEngine(t)
	se.Put("users", "id", types.Integer(1), `{"id": 1}`)

	tx1 := se.BeginTransaction(storage.RepeatableRead)
	before := tx1.SnapshotLSN

	tx2 := se.BeginTransaction(storage.RepeatableRead)
	tx2.Close()

	if got := se.TxRegistry.GetMinActiveLSN(); got != before {
		t.Fatalf("expected min active LSN %d while tx1 is open, got %d", before, got)
	}
	tx1.Close()
}
