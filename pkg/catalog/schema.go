// Package catalog implements the schema registry (spec §4.B): the
// mapping from table name to its column and index definitions. It is
// read by the planner/executor on every statement and mutated only by
// DDL, so reads never block on a writer and writers never wait on a
// reader — the whole registry is an immutable map swapped atomically.
package catalog

import (
	"github.com/maxBogovick/relmem/pkg/errors"
	"github.com/maxBogovick/relmem/pkg/types"
)

// ColumnSchema describes one column of a table.
type ColumnSchema struct {
	Name     string
	Type     types.DataType
	Nullable bool
	Default  *types.Value
}

// IndexSchema describes a secondary or primary index over one or more
// columns.
type IndexSchema struct {
	Name    string
	Columns []string
	Unique  bool
	Primary bool
}

// TableSchema is the catalog's record for a single table.
type TableSchema struct {
	Name    string
	Columns []ColumnSchema
	Indexes []IndexSchema
}

// Column returns the column named name, or ok=false if it doesn't exist.
func (s *TableSchema) Column(name string) (ColumnSchema, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSchema{}, false
}

// PrimaryKeyColumn returns the single column backing the table's
// primary index. Catalog.Create does not check for one; it returns an
// error for any schema with no primary index entry, which the CREATE
// TABLE executor in pkg/exec never registers (it rejects such tables).
func (s *TableSchema) PrimaryKeyColumn() (string, error) {
	for _, idx := range s.Indexes {
		if idx.Primary {
			return idx.Columns[0], nil
		}
	}
	return "", &errors.PrimarykeyNotDefinedError{TableName: s.Name}
}

// clone returns a deep-enough copy of s: a new Columns/Indexes slice so
// an Alter can mutate the copy without touching the version other
// readers are still holding.
func (s *TableSchema) clone() *TableSchema {
	cp := &TableSchema{
		Name:    s.Name,
		Columns: make([]ColumnSchema, len(s.Columns)),
		Indexes: make([]IndexSchema, len(s.Indexes)),
	}
	copy(cp.Columns, s.Columns)
	copy(cp.Indexes, s.Indexes)
	for i := range cp.Indexes {
		cp.Indexes[i].Columns = append([]string(nil), s.Indexes[i].Columns...)
	}
	return cp
}
