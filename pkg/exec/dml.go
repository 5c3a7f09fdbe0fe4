package exec

import (
	"encoding/json"
	"hash/fnv"

	"github.com/maxBogovick/relmem/pkg/catalog"
	"github.com/maxBogovick/relmem/pkg/errors"
	"github.com/maxBogovick/relmem/pkg/eval"
	"github.com/maxBogovick/relmem/pkg/sqlparser"
	"github.com/maxBogovick/relmem/pkg/storage"
	"github.com/maxBogovick/relmem/pkg/txn"
	"github.com/maxBogovick/relmem/pkg/types"
)

// rowRefFor identifies a row by its primary key for write-write
// conflict tracking. Primary keys aren't always int64 (pkg/txn.RowRef
// is, to keep the conflict map cheap), so the key's kind-tagged display
// form is folded into one with FNV-1a; a collision only makes the
// conflict check overly conservative, never silently misses a real one.
func rowRefFor(table string, pk types.Value) txn.RowRef {
	h := fnv.New64a()
	h.Write([]byte{byte(pk.Kind())})
	h.Write([]byte(types.Display(pk)))
	return txn.RowRef{Table: table, RowID: int64(h.Sum64())}
}

// valueToJSON converts a typed value to the Go native shape
// encoding/json needs to produce the document text pkg/storage's
// JsonToBson consumes.
func valueToJSON(v types.Value) any {
	switch v.Kind() {
	case types.KindInteger:
		return v.Int()
	case types.KindFloat:
		return v.Float64()
	case types.KindText:
		return v.Text()
	case types.KindBoolean:
		return v.Bool()
	default:
		return nil
	}
}

func rowToDocument(row map[string]types.Value) (string, error) {
	native := make(map[string]any, len(row))
	for k, v := range row {
		native[k] = valueToJSON(v)
	}
	b, err := json.Marshal(native)
	if err != nil {
		return "", errors.NewExecutionError("encode row: %v", err)
	}
	return string(b), nil
}

// indexKeys builds the indexName->key map pkg/storage.InsertRow/Put
// needs from a fully-built row, one entry per index the schema
// declares (physical index names equal their column name).
func indexKeys(schema *catalog.TableSchema, row map[string]types.Value) map[string]types.Value {
	keys := make(map[string]types.Value, len(schema.Indexes))
	for _, idx := range schema.Indexes {
		col := idx.Columns[0]
		if v, ok := row[col]; ok {
			keys[col] = v
		}
	}
	return keys
}

// buildRow resolves one VALUES tuple (or one SELECT result row) into a
// fully-typed row: explicit columns take the evaluated expression,
// missing columns fall back to their schema default, and every column
// is checked for type compatibility and nullability.
func (s *Session) buildRow(schema *catalog.TableSchema, columns []string, exprs []sqlparser.Expr) (map[string]types.Value, error) {
	if len(columns) != len(exprs) {
		return nil, errors.NewExecutionError("column count %d does not match value count %d", len(columns), len(exprs))
	}
	given := make(map[string]types.Value, len(exprs))
	for i, col := range columns {
		if _, ok := schema.Column(col); !ok {
			return nil, &errors.ColumnNotFoundError{Table: schema.Name, Column: col}
		}
		v, err := s.Evaluator.Eval(exprs[i], eval.Row{}, s)
		if err != nil {
			return nil, err
		}
		given[col] = v
	}

	row := make(map[string]types.Value, len(schema.Columns))
	for _, cs := range schema.Columns {
		v, has := given[cs.Name]
		if !has {
			switch {
			case cs.Default != nil:
				v = *cs.Default
			case cs.Nullable:
				v = types.Null
			default:
				return nil, errors.NewConstraintViolation("column %q on table %q has no value and no default", cs.Name, schema.Name)
			}
		}
		if v.IsNull() {
			if !cs.Nullable {
				return nil, errors.NewConstraintViolation("column %q on table %q cannot be null", cs.Name, schema.Name)
			}
		} else if !cs.Type.IsCompatible(v) {
			return nil, errors.NewTypeMismatch("column %q on table %q expects %s, got %s", cs.Name, schema.Name, cs.Type, v.Kind())
		}
		row[cs.Name] = v
	}
	return row, nil
}

// allColumnsOf returns every declared column name, used when an INSERT
// omits an explicit column list.
func allColumnsOf(schema *catalog.TableSchema) []string {
	cols := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		cols[i] = c.Name
	}
	return cols
}

func (s *Session) execInsert(stmt *sqlparser.InsertStatement) (*QueryResult, error) {
	schema, ok := s.Catalog.Get(stmt.Table)
	if !ok {
		return nil, &errors.TableNotFoundSQLError{Name: stmt.Table}
	}

	var valueRows [][]sqlparser.Expr
	if stmt.Select != nil {
		result, err := s.execSelect(stmt.Select)
		if err != nil {
			return nil, err
		}
		for _, r := range result.Rows {
			exprs := make([]sqlparser.Expr, len(r))
			for i, v := range r {
				exprs[i] = &sqlparser.Literal{Val: valueToJSON(v)}
			}
			valueRows = append(valueRows, exprs)
		}
	} else {
		valueRows = stmt.Values
	}

	columns := stmt.Columns
	if len(columns) == 0 {
		columns = allColumnsOf(schema)
	}

	var affected int64
	err := s.withWriteStatement(func(wtx *storage.WriteTransaction, rtx *storage.Transaction, txnID uint64) error {
		for _, exprs := range valueRows {
			row, err := s.buildRow(schema, columns, exprs)
			if err != nil {
				return err
			}
			keys := indexKeys(schema, row)
			primary, err := schema.PrimaryKeyColumn()
			if err != nil {
				return err
			}
			if _, found, _ := rtx.Get(stmt.Table, primary, keys[primary]); found {
				return &errors.ConstraintViolationError{Msg: "duplicate key in primary index " + primary}
			}
			doc, err := rowToDocument(row)
			if err != nil {
				return err
			}
			for indexName, key := range keys {
				if err := wtx.Put(stmt.Table, indexName, key, doc); err != nil {
					return err
				}
			}
			if err := s.Txns.RecordWrite(txnID, rowRefFor(stmt.Table, keys[primary])); err != nil {
				return err
			}
			affected++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &QueryResult{AffectedRows: affected}, nil
}

// scanTable reads every document currently visible to rtx through the
// table's primary index, decoded into eval.Row values keyed by column
// name.
func (s *Session) scanTable(schema *catalog.TableSchema, rtx *storage.Transaction) ([]eval.Row, error) {
	primary, err := schema.PrimaryKeyColumn()
	if err != nil {
		return nil, err
	}
	docs, err := rtx.Scan(schema.Name, primary, nil)
	if err != nil {
		return nil, err
	}
	rows := make([]eval.Row, 0, len(docs))
	for _, doc := range docs {
		row, err := documentToRow(schema, doc)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func documentToRow(schema *catalog.TableSchema, doc string) (eval.Row, error) {
	var native map[string]any
	if err := json.Unmarshal([]byte(doc), &native); err != nil {
		return nil, errors.NewExecutionError("decode row on table %q: %v", schema.Name, err)
	}
	row := make(eval.Row, len(schema.Columns))
	for _, cs := range schema.Columns {
		raw, ok := native[cs.Name]
		if !ok || raw == nil {
			row[cs.Name] = types.Null
			continue
		}
		switch v := raw.(type) {
		case float64:
			if cs.Type == types.TypeInteger {
				row[cs.Name] = types.Integer(int64(v))
			} else {
				row[cs.Name] = types.Float(v)
			}
		case string:
			row[cs.Name] = types.Text(v)
		case bool:
			row[cs.Name] = types.Boolean(v)
		default:
			row[cs.Name] = types.Null
		}
	}
	return row, nil
}

func (s *Session) execUpdate(stmt *sqlparser.UpdateStatement) (*QueryResult, error) {
	schema, ok := s.Catalog.Get(stmt.Table)
	if !ok {
		return nil, &errors.TableNotFoundSQLError{Name: stmt.Table}
	}
	primary, err := schema.PrimaryKeyColumn()
	if err != nil {
		return nil, err
	}

	var affected int64
	err = s.withWriteStatement(func(wtx *storage.WriteTransaction, rtx *storage.Transaction, txnID uint64) error {
		rows, err := s.scanTable(schema, rtx)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if stmt.Where != nil {
				ok, err := s.Evaluator.AsBool(stmt.Where, row, s)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
			}
			updated := make(map[string]types.Value, len(row))
			for k, v := range row {
				updated[k] = v
			}
			for _, assign := range stmt.Set {
				v, err := s.Evaluator.Eval(assign.Value, row, s)
				if err != nil {
					return err
				}
				cs, ok := schema.Column(assign.Column)
				if !ok {
					return &errors.ColumnNotFoundError{Table: schema.Name, Column: assign.Column}
				}
				if v.IsNull() {
					if !cs.Nullable {
						return errors.NewConstraintViolation("column %q on table %q cannot be null", cs.Name, schema.Name)
					}
				} else if !cs.Type.IsCompatible(v) {
					return errors.NewTypeMismatch("column %q on table %q expects %s, got %s", cs.Name, schema.Name, cs.Type, v.Kind())
				}
				updated[assign.Column] = v
			}
			doc, err := rowToDocument(updated)
			if err != nil {
				return err
			}
			keys := indexKeys(schema, updated)
			oldPK := row[primary]
			newPK := updated[primary]
			if err := s.Txns.RecordWrite(txnID, rowRefFor(stmt.Table, oldPK)); err != nil {
				return err
			}
			if ok, _ := types.Equal(oldPK, newPK); !ok {
				if _, found, _ := rtx.Get(stmt.Table, primary, newPK); found {
					return &errors.ConstraintViolationError{Msg: "duplicate key in primary index " + primary}
				}
				if err := wtx.Del(stmt.Table, primary, oldPK); err != nil {
					return err
				}
				if err := s.Txns.RecordWrite(txnID, rowRefFor(stmt.Table, newPK)); err != nil {
					return err
				}
			}
			for indexName, key := range keys {
				if err := wtx.Put(stmt.Table, indexName, key, doc); err != nil {
					return err
				}
			}
			affected++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &QueryResult{AffectedRows: affected}, nil
}

func (s *Session) execDelete(stmt *sqlparser.DeleteStatement) (*QueryResult, error) {
	schema, ok := s.Catalog.Get(stmt.Table)
	if !ok {
		return nil, &errors.TableNotFoundSQLError{Name: stmt.Table}
	}
	primary, err := schema.PrimaryKeyColumn()
	if err != nil {
		return nil, err
	}

	var affected int64
	err = s.withWriteStatement(func(wtx *storage.WriteTransaction, rtx *storage.Transaction, txnID uint64) error {
		rows, err := s.scanTable(schema, rtx)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if stmt.Where != nil {
				ok, err := s.Evaluator.AsBool(stmt.Where, row, s)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
			}
			if err := s.Txns.RecordWrite(txnID, rowRefFor(stmt.Table, row[primary])); err != nil {
				return err
			}
			keys := indexKeys(schema, row)
			for indexName, key := range keys {
				if err := wtx.Del(stmt.Table, indexName, key); err != nil {
					return err
				}
			}
			affected++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &QueryResult{AffectedRows: affected}, nil
}
