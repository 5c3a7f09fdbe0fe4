package storage_test

import (
	"testing"

	"github.com/maxBogovick/relmem/pkg/storage"
	"github.com/maxBogovick/relmem/pkg/types"
)

func newMultiIndexEngine(t *testing.T) *storage.StorageEngine {
	t.Helper()
	mgr := storage.NewTableMenager()
	if err := mgr.NewTable("users", []storage.Index{
		{Name: "id", Primary: true, Type: storage.TypeInt},
		{Name: "email", Type: storage.TypeVarchar},
	}, 3, newHeap(t)); err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	se, err := storage.NewStorageEngine(mgr, nil)
	if err != nil {
		t.Fatalf("NewStorageEngine: %v", err)
	}
	t.Cleanup(func() { se.Close() })
	return se
}

func TestInsertRow_UpdatesAllIndicesFromOneHeapWrite(t *testing.T) {
	se := newMultiIndexEngine(t)

	err := se.InsertRow("users", `{"id": 1, "email": "ana@example.com"}`, map[string]types.Value{
		"id":    types.Integer(1),
		"email": types.Text("ana@example.com"),
	})
	if err != nil {
		t.Fatalf("InsertRow: %v", err)
	}

	byID, found, err := se.Get("users", "id", types.Integer(1))
	if err != nil || !found {
		t.Fatalf("Get by id: found=%v err=%v", found, err)
	}
	byEmail, found, err := se.Get("users", "email", types.Text("ana@example.com"))
	if err != nil || !found {
		t.Fatalf("Get by email: found=%v err=%v", found, err)
	}
	if byID != byEmail {
		t.Fatalf("expected both indices to resolve to the same row, got %q vs %q", byID, byEmail)
	}
}

func TestInsertRow_RejectsDuplicatePrimaryKey(t *testing.T) {
	se := newMultiIndexEngine(t)

	keys := map[string]types.Value{"id": types.Integer(1), "email": types.Text("a@example.com")}
	if err := se.InsertRow("users", `{"id": 1, "email": "a@example.com"}`, keys); err != nil {
		t.Fatalf("first InsertRow: %v", err)
	}

	keys2 := map[string]types.Value{"id": types.Integer(1), "email": types.Text("b@example.com")}
	if err := se.InsertRow("users", `{"id": 1, "email": "b@example.com"}`, keys2); err == nil {
		t.Fatal("expected duplicate primary key error")
	}
}

func TestInsertRow_RejectsWrongKeyType(t *testing.T) {
	se := newMultiIndexEngine(t)
	keys := map[string]types.Value{"id": types.Text("not-an-int"), "email": types.Text("a@example.com")}
	if err := se.InsertRow("users", `{"id": "not-an-int", "email": "a@example.com"}`, keys); err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestInsertRow_RejectsUnknownIndex(t *testing.T) {
	se := newMultiIndexEngine(t)
	keys := map[string]types.Value{"nickname": types.Text("ana")}
	if err := se.InsertRow("users", `{"nickname": "ana"}`, keys); err == nil {
		t.Fatal("expected error for unknown index")
	}
}
