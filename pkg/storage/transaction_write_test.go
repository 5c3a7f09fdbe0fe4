package storage_test

import (
	"testing"

	"github.com/maxBogovick/relmem/pkg/types"
)

func TestWriteTransaction_CommitAppliesAllOps(t *testing.T) {
	se := newMemEngine(t)
	se.Put("users", "id", types.Integer(1), `{"id": 1, "name": "ana"}`)

	tx := se.BeginWriteTransaction()
	if err := tx.Put("users", "id", types.Integer(2), `{"id": 2, "name": "bia"}`); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tx.Del("users", "id", types.Integer(1)); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	_, found, err := se.Get("users", "id", types.Integer(2))
	if err != nil || !found {
		t.Fatalf("expected row 2 visible after commit, found=%v err=%v", found, err)
	}
	_, found, err = se.Get("users", "id", types.Integer(1))
	if err != nil {
		t.Fatalf("Get row 1: %v", err)
	}
	if found {
		t.Fatal("expected row 1 to be deleted after commit")
	}
}

func TestWriteTransaction_RollbackDiscardsOps(t *testing.T) {
	se := newMemEngine(t)

	tx := se.BeginWriteTransaction()
	if err := tx.Put("users", "id", types.Integer(5), `{"id": 5}`); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	_, found, err := se.Get("users", "id", types.Integer(5))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("expected rolled-back write to never become visible")
	}
}

func TestWriteTransaction_RejectsOpsAfterCommit(t *testing.T) {
	se := newMemEngine(t)
	tx := se.BeginWriteTransaction()
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := tx.Put("users", "id", types.Integer(1), `{"id": 1}`); err == nil {
		t.Fatal("expected error putting into a finished transaction")
	}
	if err := tx.Del("users", "id", types.Integer(1)); err == nil {
		t.Fatal("expected error deleting in a finished transaction")
	}
	if err := tx.Commit(); err == nil {
		t.Fatal("expected error committing a finished transaction twice")
	}
}

func TestWriteTransaction_Put_RejectsWrongKeyType(t *testing.T) {
	se := newMemEngine(t)
	tx := se.BeginWriteTransaction()
	if err := tx.Put("users", "id", types.Text("not-an-int"), `{"id": "x"}`); err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestWriteTransaction_Commit_PersistsThroughWAL(t *testing.T) {
	dir := t.TempDir()
	se := newWalEngine(t, dir)

	tx := se.BeginWriteTransaction()
	if err := tx.Put("users", "id", types.Integer(1), `{"id": 1, "name": "ana"}`); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	se.Close()

	recovered := newWalEngine(t, dir)
	if err := recovered.Recover(recovered.WAL.Dir()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	_, found, err := recovered.Get("users", "id", types.Integer(1))
	if err != nil || !found {
		t.Fatalf("expected transaction to survive recovery, found=%v err=%v", found, err)
	}
}
