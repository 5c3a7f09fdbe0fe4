package catalog

import (
	"sync"
	"sync/atomic"

	"github.com/maxBogovick/relmem/pkg/errors"
)

// AlterKind enumerates the ALTER TABLE changes spec §4.B allows.
type AlterKind uint8

const (
	AlterAddColumn AlterKind = iota
	AlterDropColumn
	AlterRenameColumn
	AlterRenameTable
	AlterAddIndex
	AlterDropIndex
)

// AlterChange describes one ALTER TABLE statement's worth of change.
// Only the fields relevant to Kind are read.
type AlterChange struct {
	Kind       AlterKind
	Column     ColumnSchema // AlterAddColumn
	ColumnName string       // AlterDropColumn, AlterRenameColumn (old name)
	NewName    string       // AlterRenameColumn, AlterRenameTable
	Index      IndexSchema  // AlterAddIndex
	IndexName  string       // AlterDropIndex
}

type tableMap = map[string]*TableSchema

// Catalog is the copy-on-write schema registry. Reads dereference an
// atomic pointer to an immutable map and never take a lock; every
// mutation builds a new map from the old one under mu and swaps the
// pointer, so a reader in flight always sees either the whole old map
// or the whole new one, never a partial update.
type Catalog struct {
	tables atomic.Pointer[tableMap]
	mu     sync.Mutex
}

// New returns an empty catalog.
func New() *Catalog {
	c := &Catalog{}
	empty := make(tableMap)
	c.tables.Store(&empty)
	return c
}

// Get returns the schema registered for name, if any.
func (c *Catalog) Get(name string) (*TableSchema, bool) {
	m := *c.tables.Load()
	s, ok := m[name]
	return s, ok
}

// Contains reports whether name is a registered table.
func (c *Catalog) Contains(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// List returns every registered table name, in no particular order.
func (c *Catalog) List() []string {
	m := *c.tables.Load()
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return names
}

// Create registers a new table. Returns TableExistsError if the name is
// already taken.
func (c *Catalog) Create(schema *TableSchema) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := *c.tables.Load()
	if _, exists := old[schema.Name]; exists {
		return &errors.TableExistsError{Name: schema.Name}
	}

	next := make(tableMap, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[schema.Name] = schema
	c.tables.Store(&next)
	return nil
}

// Drop removes a table. Returns TableNotFoundSQLError if it doesn't exist.
func (c *Catalog) Drop(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := *c.tables.Load()
	if _, exists := old[name]; !exists {
		return &errors.TableNotFoundSQLError{Name: name}
	}

	next := make(tableMap, len(old)-1)
	for k, v := range old {
		if k != name {
			next[k] = v
		}
	}
	c.tables.Store(&next)
	return nil
}

// Alter applies one schema change to the named table.
func (c *Catalog) Alter(name string, change AlterChange) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := *c.tables.Load()
	schema, exists := old[name]
	if !exists {
		return &errors.TableNotFoundSQLError{Name: name}
	}

	updated, newName, err := applyAlter(schema, change)
	if err != nil {
		return err
	}
	if newName != name {
		if _, collides := old[newName]; collides {
			return &errors.TableExistsError{Name: newName}
		}
	}

	next := make(tableMap, len(old))
	for k, v := range old {
		if k != name {
			next[k] = v
		}
	}
	next[newName] = updated
	c.tables.Store(&next)
	return nil
}

func applyAlter(schema *TableSchema, change AlterChange) (*TableSchema, string, error) {
	cp := schema.clone()

	switch change.Kind {
	case AlterAddColumn:
		if !change.Column.Nullable && change.Column.Default == nil {
			return nil, "", errors.NewConstraintViolation(
				"column %q must be nullable or have a default to be added to table %q with existing rows",
				change.Column.Name, schema.Name)
		}
		if _, exists := cp.Column(change.Column.Name); exists {
			return nil, "", errors.NewConstraintViolation(
				"column %q already exists on table %q", change.Column.Name, schema.Name)
		}
		cp.Columns = append(cp.Columns, change.Column)
		return cp, cp.Name, nil

	case AlterDropColumn:
		idx := -1
		for i, col := range cp.Columns {
			if col.Name == change.ColumnName {
				idx = i
				break
			}
		}
		if idx == -1 {
			return nil, "", &errors.ColumnNotFoundError{Table: schema.Name, Column: change.ColumnName}
		}
		cp.Columns = append(cp.Columns[:idx], cp.Columns[idx+1:]...)
		return cp, cp.Name, nil

	case AlterRenameColumn:
		found := false
		for i, col := range cp.Columns {
			if col.Name == change.ColumnName {
				cp.Columns[i].Name = change.NewName
				found = true
				break
			}
		}
		if !found {
			return nil, "", &errors.ColumnNotFoundError{Table: schema.Name, Column: change.ColumnName}
		}
		for i, idx := range cp.Indexes {
			for j, col := range idx.Columns {
				if col == change.ColumnName {
					cp.Indexes[i].Columns[j] = change.NewName
				}
			}
		}
		return cp, cp.Name, nil

	case AlterRenameTable:
		cp.Name = change.NewName
		return cp, cp.Name, nil

	case AlterAddIndex:
		for _, idx := range cp.Indexes {
			if idx.Name == change.Index.Name {
				return nil, "", errors.NewConstraintViolation(
					"index %q already exists on table %q", change.Index.Name, schema.Name)
			}
		}
		for _, col := range change.Index.Columns {
			if _, exists := cp.Column(col); !exists {
				return nil, "", &errors.ColumnNotFoundError{Table: schema.Name, Column: col}
			}
		}
		cp.Indexes = append(cp.Indexes, change.Index)
		return cp, cp.Name, nil

	case AlterDropIndex:
		idx := -1
		for i, ix := range cp.Indexes {
			if ix.Name == change.IndexName {
				idx = i
				break
			}
		}
		if idx == -1 {
			return nil, "", &errors.IndexNotFoundError{Name: change.IndexName}
		}
		if cp.Indexes[idx].Primary {
			return nil, "", errors.NewConstraintViolation(
				"cannot drop primary index %q on table %q", change.IndexName, schema.Name)
		}
		cp.Indexes = append(cp.Indexes[:idx], cp.Indexes[idx+1:]...)
		return cp, cp.Name, nil

	default:
		return nil, "", errors.NewUnsupportedOperation("unknown ALTER TABLE change kind %d", change.Kind)
	}
}
