package storage

import (
	"fmt"

	"github.com/maxBogovick/relmem/pkg/types"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// keyWire is the on-disk shape of a types.Value used as an index key.
// kind mirrors types.Kind; only the field matching kind is populated.
type keyWire struct {
	Kind  uint8   `bson:"k"`
	Int   int64   `bson:"i,omitempty"`
	Float float64 `bson:"f,omitempty"`
	Text  string  `bson:"s,omitempty"`
	Bool  bool    `bson:"b,omitempty"`
}

func valueToWire(v types.Value) keyWire {
	w := keyWire{Kind: uint8(v.Kind())}
	switch v.Kind() {
	case types.KindInteger:
		w.Int = v.Int()
	case types.KindFloat:
		w.Float = v.Float64()
	case types.KindText:
		w.Text = v.Text()
	case types.KindBoolean:
		w.Bool = v.Bool()
	}
	return w
}

func wireToValue(w keyWire) types.Value {
	switch types.Kind(w.Kind) {
	case types.KindInteger:
		return types.Integer(w.Int)
	case types.KindFloat:
		return types.Float(w.Float)
	case types.KindText:
		return types.Text(w.Text)
	case types.KindBoolean:
		return types.Boolean(w.Bool)
	default:
		return types.Null
	}
}

type documentEntryWire struct {
	TableName string  `bson:"t"`
	IndexName string  `bson:"x"`
	Key       keyWire `bson:"k"`
	Document  []byte  `bson:"d,omitempty"`
}

// SerializeDocumentEntry encodes a single-index WAL record (Insert/Update/
// Delete): the table and index it targets, the index key, and the row
// payload (nil for a delete tombstone).
func SerializeDocumentEntry(tableName, indexName string, key types.Value, document []byte) ([]byte, error) {
	return bson.Marshal(documentEntryWire{
		TableName: tableName,
		IndexName: indexName,
		Key:       valueToWire(key),
		Document:  document,
	})
}

// DeserializeDocumentEntry decodes a record written by SerializeDocumentEntry.
func DeserializeDocumentEntry(data []byte) (tableName, indexName string, key types.Value, document []byte, err error) {
	var w documentEntryWire
	if err = bson.Unmarshal(data, &w); err != nil {
		return
	}
	tableName = w.TableName
	indexName = w.IndexName
	key = wireToValue(w.Key)
	document = w.Document
	return
}

type indexKeyWire struct {
	IndexName string  `bson:"x"`
	Key       keyWire `bson:"k"`
}

type multiIndexEntryWire struct {
	TableName string         `bson:"t"`
	Keys      []indexKeyWire `bson:"keys"`
	Document  []byte         `bson:"d,omitempty"`
}

// SerializeMultiIndexEntry encodes an EntryMultiInsert record: one row
// write observed by several indices at once (InsertRow), as a single WAL
// record instead of one per index.
func SerializeMultiIndexEntry(tableName string, keys map[string]types.Value, document []byte) ([]byte, error) {
	w := multiIndexEntryWire{
		TableName: tableName,
		Keys:      make([]indexKeyWire, 0, len(keys)),
		Document:  document,
	}
	for indexName, key := range keys {
		w.Keys = append(w.Keys, indexKeyWire{IndexName: indexName, Key: valueToWire(key)})
	}
	return bson.Marshal(w)
}

// DeserializeMultiIndexEntry decodes a record written by
// SerializeMultiIndexEntry.
func DeserializeMultiIndexEntry(data []byte) (tableName string, keys map[string]types.Value, document []byte, err error) {
	var w multiIndexEntryWire
	if err = bson.Unmarshal(data, &w); err != nil {
		return
	}
	tableName = w.TableName
	document = w.Document
	keys = make(map[string]types.Value, len(w.Keys))
	for _, k := range w.Keys {
		keys[k.IndexName] = wireToValue(k.Key)
	}
	if len(keys) == 0 {
		err = fmt.Errorf("multi-index entry has no keys")
	}
	return
}
