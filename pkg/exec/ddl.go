package exec

import (
	"github.com/maxBogovick/relmem/pkg/catalog"
	"github.com/maxBogovick/relmem/pkg/errors"
	"github.com/maxBogovick/relmem/pkg/sqlparser"
	"github.com/maxBogovick/relmem/pkg/storage"
	"github.com/maxBogovick/relmem/pkg/types"
)

// defaultTreeOrder is the B+Tree branching factor used for every index
// this executor creates, matching the teacher's own example programs'
// choice.
const defaultTreeOrder = 32

func columnTypeFromName(name string) (types.DataType, error) {
	switch name {
	case "INT", "INTEGER":
		return types.TypeInteger, nil
	case "FLOAT":
		return types.TypeFloat, nil
	case "TEXT":
		return types.TypeText, nil
	case "BOOLEAN", "BOOL":
		return types.TypeBoolean, nil
	default:
		return 0, errors.NewUnsupportedOperation("unsupported column type %q", name)
	}
}

func storageTypeOf(t types.DataType) storage.DataType {
	switch t {
	case types.TypeInteger:
		return storage.TypeInt
	case types.TypeFloat:
		return storage.TypeFloat
	case types.TypeText:
		return storage.TypeVarchar
	case types.TypeBoolean:
		return storage.TypeBoolean
	default:
		return storage.TypeVarchar
	}
}

func (s *Session) execCreateTable(stmt *sqlparser.CreateTableStatement) (*QueryResult, error) {
	schema := &catalog.TableSchema{Name: stmt.Name}
	var primaryCol string

	for _, col := range stmt.Columns {
		dt, err := columnTypeFromName(col.Type)
		if err != nil {
			return nil, err
		}
		cs := catalog.ColumnSchema{Name: col.Name, Type: dt, Nullable: col.Nullable}
		if col.Default != nil {
			lit, ok := col.Default.(*sqlparser.Literal)
			if !ok {
				return nil, errors.NewUnsupportedOperation("column defaults must be constant literals")
			}
			v := literalToValue(lit.Val)
			cs.Default = &v
		}
		schema.Columns = append(schema.Columns, cs)
		if col.Primary {
			if primaryCol != "" {
				return nil, &errors.TwoPrimarykeysError{Total: 2}
			}
			primaryCol = col.Name
		}
	}
	if primaryCol == "" {
		return nil, &errors.PrimarykeyNotDefinedError{TableName: stmt.Name}
	}
	// pkg/storage addresses an index by the exact document field it
	// keys on, so the physical index name must equal its column name;
	// the catalog records that same name for the primary key entry.
	schema.Indexes = append(schema.Indexes, catalog.IndexSchema{
		Name: primaryCol, Columns: []string{primaryCol}, Unique: true, Primary: true,
	})

	if err := s.Catalog.Create(schema); err != nil {
		return nil, err
	}

	pkColumn, _ := schema.Column(primaryCol)
	hm, err := s.newHeap(stmt.Name)
	if err != nil {
		return nil, err
	}
	indices := []storage.Index{{Name: primaryCol, Primary: true, Type: storageTypeOf(pkColumn.Type)}}
	if err := s.Storage.TableMetaData.NewTable(stmt.Name, indices, defaultTreeOrder, hm); err != nil {
		return nil, err
	}

	return &QueryResult{}, nil
}

func (s *Session) execDropTable(stmt *sqlparser.DropTableStatement) (*QueryResult, error) {
	if err := s.Catalog.Drop(stmt.Name); err != nil {
		return nil, err
	}
	return &QueryResult{}, nil
}

// execCreateIndex registers a secondary index in the catalog and builds
// its physical B+Tree by scanning the table's current rows once.
// Multi-column indexes are accepted by the grammar but rejected here
// with UnsupportedOperation; only a single key column is supported.
func (s *Session) execCreateIndex(stmt *sqlparser.CreateIndexStatement) (*QueryResult, error) {
	schema, ok := s.Catalog.Get(stmt.Table)
	if !ok {
		return nil, &errors.TableNotFoundSQLError{Name: stmt.Table}
	}
	if len(stmt.Columns) != 1 {
		return nil, errors.NewUnsupportedOperation("CREATE INDEX %s: only single-column indexes are supported", stmt.Name)
	}
	col := stmt.Columns[0]
	colSchema, ok := schema.Column(col)
	if !ok {
		return nil, &errors.ColumnNotFoundError{Table: stmt.Table, Column: col}
	}

	// The physical index is keyed by its column name (pkg/storage
	// addresses an index by the document field it indexes); stmt.Name
	// is kept only as the catalog-level handle DROP INDEX looks up.
	if err := s.Storage.AddIndex(stmt.Table, col, storage.Index{
		Name:   col,
		Unique: stmt.Unique,
		Type:   storageTypeOf(colSchema.Type),
	}, defaultTreeOrder); err != nil {
		return nil, err
	}

	change := catalog.AlterChange{
		Kind: catalog.AlterAddIndex,
		Index: catalog.IndexSchema{
			Name: stmt.Name, Columns: stmt.Columns, Unique: stmt.Unique,
		},
	}
	if err := s.Catalog.Alter(stmt.Table, change); err != nil {
		return nil, err
	}
	return &QueryResult{}, nil
}

// execDropIndex resolves the owning table by scanning the catalog,
// since DROP INDEX names only the index (matching Postgres, where
// index names are unique across the whole schema, not per table).
func (s *Session) execDropIndex(stmt *sqlparser.DropIndexStatement) (*QueryResult, error) {
	var tableName, column string
	for _, name := range s.Catalog.List() {
		schema, ok := s.Catalog.Get(name)
		if !ok {
			continue
		}
		for _, idx := range schema.Indexes {
			if idx.Name == stmt.Name {
				tableName = name
				column = idx.Columns[0]
				break
			}
		}
		if tableName != "" {
			break
		}
	}
	if tableName == "" {
		return nil, &errors.IndexNotFoundError{Name: stmt.Name}
	}

	if err := s.Catalog.Alter(tableName, catalog.AlterChange{Kind: catalog.AlterDropIndex, IndexName: stmt.Name}); err != nil {
		return nil, err
	}
	if err := s.Storage.TableMetaData.RemoveIndex(tableName, column); err != nil {
		return nil, err
	}
	return &QueryResult{}, nil
}

func (s *Session) execAlterTable(stmt *sqlparser.AlterTableStatement) (*QueryResult, error) {
	var change catalog.AlterChange
	switch stmt.Kind {
	case sqlparser.AlterAddColumn:
		dt, err := columnTypeFromName(stmt.Column.Type)
		if err != nil {
			return nil, err
		}
		cs := catalog.ColumnSchema{Name: stmt.Column.Name, Type: dt, Nullable: stmt.Column.Nullable}
		if stmt.Column.Default != nil {
			lit, ok := stmt.Column.Default.(*sqlparser.Literal)
			if !ok {
				return nil, errors.NewUnsupportedOperation("column defaults must be constant literals")
			}
			v := literalToValue(lit.Val)
			cs.Default = &v
		}
		change = catalog.AlterChange{Kind: catalog.AlterAddColumn, Column: cs}
	case sqlparser.AlterDropColumn:
		change = catalog.AlterChange{Kind: catalog.AlterDropColumn, ColumnName: stmt.ColumnName}
	case sqlparser.AlterRenameColumn:
		change = catalog.AlterChange{Kind: catalog.AlterRenameColumn, ColumnName: stmt.ColumnName, NewName: stmt.NewName}
	default:
		return nil, errors.NewUnsupportedOperation("unsupported ALTER TABLE kind")
	}
	if err := s.Catalog.Alter(stmt.Table, change); err != nil {
		return nil, err
	}
	return &QueryResult{}, nil
}

func (s *Session) execRenameTable(stmt *sqlparser.RenameTableStatement) (*QueryResult, error) {
	change := catalog.AlterChange{Kind: catalog.AlterRenameTable, NewName: stmt.NewName}
	if err := s.Catalog.Alter(stmt.Table, change); err != nil {
		return nil, err
	}
	return &QueryResult{}, nil
}

func (s *Session) execCreateView(stmt *sqlparser.CreateViewStatement) (*QueryResult, error) {
	if _, ok := s.lookupView(stmt.Name); ok {
		return nil, &errors.TableExistsError{Name: stmt.Name}
	}
	s.registerView(stmt.Name, stmt.Query)
	return &QueryResult{}, nil
}

func (s *Session) execDropView(stmt *sqlparser.DropViewStatement) (*QueryResult, error) {
	if !s.dropView(stmt.Name) {
		return nil, &errors.TableNotFoundSQLError{Name: stmt.Name}
	}
	return &QueryResult{}, nil
}

func literalToValue(val any) types.Value {
	switch v := val.(type) {
	case nil:
		return types.Null
	case int64:
		return types.Integer(v)
	case float64:
		return types.Float(v)
	case string:
		return types.Text(v)
	case bool:
		return types.Boolean(v)
	default:
		return types.Null
	}
}
