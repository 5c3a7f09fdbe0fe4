package storage_test

import (
	"testing"

	"github.com/maxBogovick/relmem/pkg/btree"
	"github.com/maxBogovick/relmem/pkg/storage"
	"github.com/maxBogovick/relmem/pkg/types"
)

func TestSerializeBPlusTree_RoundTripInteger(t *testing.T) {
	tree := btree.NewTree(3)
	for i := int64(1); i <= 20; i++ {
		if err := tree.Insert(types.Integer(i), i*100); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	data, err := storage.SerializeBPlusTree(tree, 42)
	if err != nil {
		t.Fatalf("SerializeBPlusTree: %v", err)
	}

	restored, lsn, err := storage.DeserializeBPlusTree(data)
	if err != nil {
		t.Fatalf("DeserializeBPlusTree: %v", err)
	}
	if lsn != 42 {
		t.Fatalf("expected LSN 42, got %d", lsn)
	}

	for i := int64(1); i <= 20; i++ {
		offset, found := restored.Get(types.Integer(i))
		if !found {
			t.Fatalf("expected key %d to be present after restore", i)
		}
		if offset != i*100 {
			t.Fatalf("key %d: expected offset %d, got %d", i, i*100, offset)
		}
	}
}

func TestSerializeBPlusTree_RoundTripMixedKinds(t *testing.T) {
	cases := map[string]struct {
		key    types.Value
		offset int64
	}{
		"null":    {types.Null, 1},
		"integer": {types.Integer(5), 2},
		"float":   {types.Float(2.5), 3},
		"text":    {types.Text("abc"), 4},
		"boolean": {types.Boolean(true), 5},
	}

	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			tree := btree.NewTree(3)
			if err := tree.Insert(c.key, c.offset); err != nil {
				t.Fatalf("Insert: %v", err)
			}

			data, err := storage.SerializeBPlusTree(tree, 1)
			if err != nil {
				t.Fatalf("SerializeBPlusTree: %v", err)
			}
			restored, _, err := storage.DeserializeBPlusTree(data)
			if err != nil {
				t.Fatalf("DeserializeBPlusTree: %v", err)
			}

			offset, found := restored.Get(c.key)
			if !found {
				t.Fatalf("expected key %v to be present after restore", c.key)
			}
			if offset != c.offset {
				t.Fatalf("expected offset %d, got %d", c.offset, offset)
			}
		})
	}
}

func TestDeserializeBPlusTree_RejectsBadMagic(t *testing.T) {
	if _, _, err := storage.DeserializeBPlusTree([]byte("not a checkpoint")); err == nil {
		t.Fatal("expected error for malformed checkpoint data")
	}
}
