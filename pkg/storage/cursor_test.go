package storage_test

import (
	"testing"

	"github.com/maxBogovick/relmem/pkg/types"
)

func TestCursor_SeekAndNext_WalksKeysInOrder(t *testing.T) {
	se := newMemEngine(t)
	for _, id := range []int64{5, 1, 3, 2, 4} {
		if err := se.Put("users", "id", types.Integer(id), `{"id": 1}`); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	table, err := se.TableMetaData.GetTableByName("users")
	if err != nil {
		t.Fatalf("GetTableByName: %v", err)
	}
	idx, err := table.GetIndex("id")
	if err != nil {
		t.Fatalf("GetIndex: %v", err)
	}

	cursor := se.Cursor(idx.Tree)
	cursor.Seek(types.Integer(0))
	defer cursor.Close()

	var seen []int64
	for cursor.Valid() {
		key := cursor.Key().(types.Value)
		seen = append(seen, key.Int())
		if !cursor.Next() {
			break
		}
	}

	want := []int64{1, 2, 3, 4, 5}
	if len(seen) != len(want) {
		t.Fatalf("expected %v keys, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, seen)
		}
	}
}

func TestCursor_SeekFromMiddle(t *testing.T) {
	se := newMemEngine(t)
	for _, id := range []int64{1, 2, 3, 4, 5} {
		se.Put("users", "id", types.Integer(id), `{"id": 1}`)
	}

	table, _ := se.TableMetaData.GetTableByName("users")
	idx, _ := table.GetIndex("id")

	cursor := se.Cursor(idx.Tree)
	cursor.Seek(types.Integer(3))
	defer cursor.Close()

	if !cursor.Valid() {
		t.Fatal("expected cursor to land on a valid entry")
	}
	if got := cursor.Key().(types.Value).Int(); got != 3 {
		t.Fatalf("expected seek to land on key 3, got %d", got)
	}
}

func TestCursor_SeekPastEnd_IsInvalid(t *testing.T) {
	se := newMemEngine(t)
	se.Put("users", "id", types.Integer(1), `{"id": 1}`)

	table, _ := se.TableMetaData.GetTableByName("users")
	idx, _ := table.GetIndex("id")

	cursor := se.Cursor(idx.Tree)
	cursor.Seek(types.Integer(100))
	defer cursor.Close()

	if cursor.Valid() {
		t.Fatal("expected cursor to be invalid when seeking past the last key")
	}
}

func TestCursor_EmptyTree_IsInvalid(t *testing.T) {
	se := newMemEngine(t)

	table, _ := se.TableMetaData.GetTableByName("users")
	idx, _ := table.GetIndex("id")

	cursor := se.Cursor(idx.Tree)
	cursor.Seek(types.Integer(0))
	defer cursor.Close()

	if cursor.Valid() {
		t.Fatal("expected empty tree cursor to be invalid")
	}
}
