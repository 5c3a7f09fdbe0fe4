package storage_test

import (
	"testing"

	"github.com/maxBogovick/relmem/pkg/storage"
	"github.com/maxBogovick/relmem/pkg/types"
)

func TestVacuum_RemovesDeadTombstonesWhenNoActiveTransactions(t *testing.T) {
	se := newMemEngine(t)
	se.Put("users", "id", types.Integer(1), `{"id": 1, "name": "ana"}`)
	se.Put("users", "id", types.Integer(2), `{"id": 2, "name": "bia"}`)
	se.Del("users", "id", types.Integer(1))

	if _, err := se.Vacuum("users"); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}

	_, found, err := se.Get("users", "id", types.Integer(1))
	if err != nil {
		t.Fatalf("Get deleted row: %v", err)
	}
	if found {
		t.Fatal("deleted row should not resurface after vacuum")
	}

	doc, found, err := se.Get("users", "id", types.Integer(2))
	if err != nil || !found {
		t.Fatalf("expected surviving row 2 after vacuum, found=%v err=%v", found, err)
	}
	if doc == "" {
		t.Fatal("expected non-empty document for surviving row")
	}
}

func TestVacuum_KeepsTombstoneVisibleToActiveTransaction(t *testing.T) {
	se := newMemEngine(t)
	se.Put("users", "id", types.Integer(1), `{"id": 1, "name": "ana"}`)

	tx := se.BeginTransaction(storage.RepeatableRead)
	defer tx.Close()

	se.Del("users", "id", types.Integer(1))

	if _, err := se.Vacuum("users"); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}

	// The open snapshot predates the delete, so it must still resolve the row
	// through the vacuumed (compacted) heap.
	_, found, err := tx.Get("users", "id", types.Integer(1))
	if err != nil {
		t.Fatalf("Get within open snapshot: %v", err)
	}
	if !found {
		t.Fatal("row visible to an older snapshot must survive vacuum")
	}
}

func TestVacuum_UnknownTable(t *testing.T) {
	se := newMemEngine(t)
	if _, err := se.Vacuum("missing"); err == nil {
		t.Fatal("expected error for unknown table")
	}
}
