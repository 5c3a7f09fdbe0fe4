package storage_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/maxBogovick/relmem/pkg/storage"
	"github.com/maxBogovick/relmem/pkg/types"
	"github.com/maxBogovick/relmem/pkg/wal"
)

func newMemEngine(t *testing.T) *storage.StorageEngine {
	t.Helper()
	mgr := storage.NewTableMenager()
	if err := mgr.NewTable("users", []storage.Index{
		{Name: "id", Primary: true, Type: storage.TypeInt},
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

func newWalEngine(t *testing.T, dir string) *storage.StorageEngine {
	t.Helper()
	mgr := storage.NewTableMenager()
	if err := mgr.NewTable("users", []storage.Index{
		{Name: "id", Primary: true, Type: storage.TypeInt},
	}, 3, newHeap(t)); err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	opts := wal.DefaultOptions()
	opts.DirPath = filepath.Join(dir, "wal")
	opts.SyncPolicy = wal.SyncEveryWrite
	w, err := wal.NewWALWriter(opts)
	if err != nil {
		t.Fatalf("NewWALWriter: %v", err)
	}
	se, err := storage.NewStorageEngine(mgr, w)
	if err != nil {
		t.Fatalf("NewStorageEngine: %v", err)
	}
	t.Cleanup(func() { se.Close() })
	return se
}

func TestPutGet_RoundTrip(t *testing.T) {
	se := newMemEngine(t)

	if err := se.Put("users", "id", types.Integer(1), `{"id": 1, "name": "ana"}`); err != nil {
		t.Fatalf("Put: %v", err)
	}

	doc, found, err := se.Get("users", "id", types.Integer(1))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected to find row")
	}
	if doc == "" {
		t.Fatal("expected non-empty document")
	}
}

func TestGet_MissingKey(t *testing.T) {
	se := newMemEngine(t)
	_, found, err := se.Get("users", "id", types.Integer(42))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("expected not found")
	}
}

func TestPut_UnknownTable(t *testing.T) {
	se := newMemEngine(t)
	if err := se.Put("missing", "id", types.Integer(1), "{}"); err == nil {
		t.Fatal("expected error for unknown table")
	}
}

func TestPut_UnknownIndex(t *testing.T) {
	se := newMemEngine(t)
	if err := se.Put("users", "missing", types.Integer(1), "{}"); err == nil {
		t.Fatal("expected error for unknown index")
	}
}

func TestPut_UpdateOverwritesValue(t *testing.T) {
	se := newMemEngine(t)
	if err := se.Put("users", "id", types.Integer(1), `{"id": 1, "name": "ana"}`); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := se.Put("users", "id", types.Integer(1), `{"id": 1, "name": "bia"}`); err != nil {
		t.Fatalf("Put update: %v", err)
	}

	doc, found, err := se.Get("users", "id", types.Integer(1))
	if err != nil || !found {
		t.Fatalf("Get after update: found=%v err=%v", found, err)
	}
	if !strings.Contains(doc, "bia") {
		t.Fatalf("expected updated value in %q", doc)
	}
}

func TestDel_RemovesVisibility(t *testing.T) {
	se := newMemEngine(t)
	se.Put("users", "id", types.Integer(1), `{"id": 1, "name": "ana"}`)

	found, err := se.Del("users", "id", types.Integer(1))
	if err != nil {
		t.Fatalf("Del: %v", err)
	}
	if !found {
		t.Fatal("expected Del to report found=true")
	}

	_, found, err = se.Get("users", "id", types.Integer(1))
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if found {
		t.Fatal("expected row to be invisible after delete")
	}
}

func TestDel_MissingKey(t *testing.T) {
	se := newMemEngine(t)
	found, err := se.Del("users", "id", types.Integer(999))
	if err != nil {
		t.Fatalf("Del: %v", err)
	}
	if found {
		t.Fatal("expected found=false for missing key")
	}
}
