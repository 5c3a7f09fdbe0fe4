package storage

import (
	"sync"

	"github.com/maxBogovick/relmem/pkg/btree"
	"github.com/maxBogovick/relmem/pkg/errors"
	"github.com/maxBogovick/relmem/pkg/heap"
)

type DataType int

const (
	TypeInt     DataType = iota // 0: int64
	TypeVarchar                 // 1: variable-length string
	TypeBoolean                 // 2: bool
	TypeFloat                   // 3: float64
	TypeDate                    // 4: timestamp
)

func (d DataType) String() string {
	return [...]string{"INT", "VARCHAR", "BOOL", "FLOAT", "DATE"}[d]
}

type Index struct {
	Name    string
	Primary bool
	Unique  bool
	Type    DataType
	Tree    *btree.BPlusTree
}

// Table is the runtime registry of indices and the heap backing row
// versions for a single table. A table can be addressed by several
// indices at once (InsertRow writes to all of them; Put to one), so every mutation
// that touches more than one index holds mu for the duration.
type Table struct {
	Name    string
	Heap    *heap.HeapManager
	Indices map[string]*Index

	mu sync.RWMutex
}

func (t *Table) Lock()    { t.mu.Lock() }
func (t *Table) Unlock()  { t.mu.Unlock() }
func (t *Table) RLock()   { t.mu.RLock() }
func (t *Table) RUnlock() { t.mu.RUnlock() }

// GetIndex looks up one named index. Caller must hold at least RLock
// unless the table was just constructed and is not yet shared.
func (t *Table) GetIndex(name string) (*Index, error) {
	idx, ok := t.Indices[name]
	if !ok {
		return nil, &errors.IndexNotFoundError{Name: name}
	}
	return idx, nil
}

// GetIndices returns a snapshot of all indices, taking RLock itself.
func (t *Table) GetIndices() []*Index {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.GetIndicesUnsafe()
}

// GetIndicesUnsafe returns a snapshot of all indices without locking;
// the caller must already hold Lock or RLock.
func (t *Table) GetIndicesUnsafe() []*Index {
	out := make([]*Index, 0, len(t.Indices))
	for _, idx := range t.Indices {
		out = append(out, idx)
	}
	return out
}

// PrimaryIndex returns the table's single primary-key index.
func (t *Table) PrimaryIndex() (*Index, error) {
	for _, idx := range t.Indices {
		if idx.Primary {
			return idx, nil
		}
	}
	return nil, &errors.PrimarykeyNotDefinedError{TableName: t.Name}
}

type TableMetaData struct {
	tables map[string]*Table
	metaMu sync.RWMutex
}

func NewTableMenager() *TableMetaData {
	return &TableMetaData{
		tables: make(map[string]*Table),
	}
}

// NewTable registers a table with the given indices backed by hm, the
// heap manager that stores its row versions. t is the B+Tree branching
// factor shared by every index tree.
func (tb *TableMetaData) NewTable(tableName string, indices []Index, t int, hm *heap.HeapManager) error {
	tb.metaMu.Lock()
	defer tb.metaMu.Unlock()

	if _, exists := tb.tables[tableName]; exists {
		return &errors.TableAlreadyExistsError{
			Name: tableName,
		}
	}

	tempIndices := make(map[string]*Index, len(indices))

	primaryCount := 0
	for _, value := range indices {
		var tree *btree.BPlusTree
		if value.Primary || value.Unique {
			tree = btree.NewUniqueTree(t)
		} else {
			tree = btree.NewTree(t)
		}
		if value.Primary {
			primaryCount++
		}

		idxPtr := &Index{
			Name:    value.Name,
			Primary: value.Primary,
			Unique:  value.Unique,
			Type:    value.Type,
			Tree:    tree,
		}

		tempIndices[value.Name] = idxPtr
	}

	if primaryCount == 0 {
		return &errors.PrimarykeyNotDefinedError{
			TableName: tableName,
		}
	}

	if primaryCount > 1 {
		return &errors.TwoPrimarykeysError{
			Total: primaryCount,
		}
	}

	tb.tables[tableName] = &Table{
		Name:    tableName,
		Heap:    hm,
		Indices: tempIndices,
	}

	return nil
}

func (tb *TableMetaData) GetTableByName(name string) (*Table, error) {
	tb.metaMu.RLock()
	defer tb.metaMu.RUnlock()
	table, ok := tb.tables[name]
	if !ok {
		return nil, &errors.TableNotFoundError{
			Name: name,
		}
	}
	return table, nil
}

func (tb *TableMetaData) GetIndexByName(tableName string, indexName string) (*Index, error) {
	table, err := tb.GetTableByName(tableName)
	if err != nil {
		return nil, err
	}

	table.RLock()
	defer table.RUnlock()
	return table.GetIndex(indexName)
}

// ListTables returns the names of every registered table.
func (tb *TableMetaData) ListTables() []string {
	tb.metaMu.RLock()
	defer tb.metaMu.RUnlock()
	names := make([]string, 0, len(tb.tables))
	for name := range tb.tables {
		names = append(names, name)
	}
	return names
}

// RemoveIndex drops a non-primary index's tree from the table. It does
// not touch the heap; rows remain addressable through the remaining
// indices.
func (tb *TableMetaData) RemoveIndex(tableName, indexName string) error {
	table, err := tb.GetTableByName(tableName)
	if err != nil {
		return err
	}

	table.Lock()
	defer table.Unlock()

	idx, ok := table.Indices[indexName]
	if !ok {
		return &errors.IndexNotFoundError{Name: indexName}
	}
	if idx.Primary {
		return errors.NewConstraintViolation("cannot drop primary index %q on table %q", indexName, tableName)
	}
	delete(table.Indices, indexName)
	return nil
}

// DropTable removes a table's registration. It does not close its heap;
// callers that own the heap's lifecycle must close it separately.
func (tb *TableMetaData) DropTable(name string) error {
	tb.metaMu.Lock()
	defer tb.metaMu.Unlock()
	if _, ok := tb.tables[name]; !ok {
		return &errors.TableNotFoundError{Name: name}
	}
	delete(tb.tables, name)
	return nil
}
