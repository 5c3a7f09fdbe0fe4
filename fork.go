package relmem

import (
	"os"

	"github.com/maxBogovick/relmem/pkg/catalog"
	"github.com/maxBogovick/relmem/pkg/sqlparser"
	"github.com/maxBogovick/relmem/pkg/types"
)

// Fork produces an independent copy of e's tables and data in a fresh
// in-memory Engine. The heap backing each table is file-backed rather
// than a purely in-memory structure sharable between two engines, so
// this is not a structural-sharing clone; Fork instead replays each
// table's schema and rows into a new session, O(total rows) rather
// than O(1).
func (e *Engine) Fork() (*Engine, error) {
	forkDir, err := os.MkdirTemp("", "relmem-fork-*")
	if err != nil {
		return nil, err
	}

	fork, err := NewEngine(EngineOptions{DataDir: forkDir})
	if err != nil {
		return nil, err
	}

	for _, name := range e.session.Catalog.List() {
		schema, ok := e.session.Catalog.Get(name)
		if !ok {
			continue
		}
		if err := forkCreateTable(fork, schema); err != nil {
			return nil, err
		}
		if err := forkCreateIndexes(fork, schema); err != nil {
			return nil, err
		}
		if err := forkCopyRows(e, fork, name); err != nil {
			return nil, err
		}
	}
	return fork, nil
}

func forkCreateTable(fork *Engine, schema *catalog.TableSchema) error {
	cols := make([]sqlparser.ColumnDef, 0, len(schema.Columns))
	primary, _ := schema.PrimaryKeyColumn()
	for _, col := range schema.Columns {
		def := sqlparser.ColumnDef{
			Name:     col.Name,
			Type:     col.Type.String(),
			Nullable: col.Nullable,
			Primary:  col.Name == primary,
		}
		if col.Default != nil {
			def.Default = valueToLiteral(*col.Default)
		}
		cols = append(cols, def)
	}
	_, err := fork.session.ExecuteStatement(&sqlparser.CreateTableStatement{Name: schema.Name, Columns: cols})
	return err
}

func forkCreateIndexes(fork *Engine, schema *catalog.TableSchema) error {
	for _, idx := range schema.Indexes {
		if idx.Primary {
			continue
		}
		_, err := fork.session.ExecuteStatement(&sqlparser.CreateIndexStatement{
			Name: idx.Name, Table: schema.Name, Columns: idx.Columns, Unique: idx.Unique,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func forkCopyRows(source, fork *Engine, table string) error {
	res, err := source.session.ExecuteStatement(&sqlparser.SelectStatement{
		Columns: []sqlparser.SelectItem{{Expr: &sqlparser.Star{}}},
		From:    &sqlparser.TableRef{Name: table},
	})
	if err != nil {
		return err
	}
	for _, row := range res.Rows {
		values := make([]sqlparser.Expr, len(row))
		for i, v := range row {
			values[i] = valueToLiteral(v)
		}
		if _, err := fork.session.ExecuteStatement(&sqlparser.InsertStatement{
			Table: table, Columns: res.Columns, Values: [][]sqlparser.Expr{values},
		}); err != nil {
			return err
		}
	}
	return nil
}

func valueToLiteral(v types.Value) *sqlparser.Literal {
	if v.IsNull() {
		return &sqlparser.Literal{Val: nil}
	}
	switch v.Kind() {
	case types.KindInteger:
		return &sqlparser.Literal{Val: v.Int()}
	case types.KindFloat:
		return &sqlparser.Literal{Val: v.Float64()}
	case types.KindBoolean:
		return &sqlparser.Literal{Val: v.Bool()}
	default:
		return &sqlparser.Literal{Val: v.Text()}
	}
}
