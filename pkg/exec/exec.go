package exec

import (
	"fmt"

	"github.com/maxBogovick/relmem/pkg/errors"
	"github.com/maxBogovick/relmem/pkg/planner"
	"github.com/maxBogovick/relmem/pkg/sqlparser"
	"github.com/maxBogovick/relmem/pkg/types"
)

// Execute parses sql and routes the resulting statement to its
// executor. DDL, DML, Query, transaction control, and EXPLAIN each own
// their slice of the statement space; a SELECT whose FROM names a
// CREATE VIEW is swapped for the view's query in dispatchStatement,
// before execSelect runs.
func (s *Session) Execute(sql string) (*QueryResult, error) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, err
	}
	return s.ExecuteStatement(stmt)
}

// ExecuteStatement dispatches an already-parsed statement, the entry
// point Execute uses and that callers driving their own parse/plan
// pipeline (EXPLAIN, batched scripts) can call directly.
func (s *Session) ExecuteStatement(stmt sqlparser.Statement) (*QueryResult, error) {
	result, err := s.dispatchStatement(stmt)
	s.Metrics.RecordStatement(statementKind(stmt), err)
	return result, err
}

func (s *Session) dispatchStatement(stmt sqlparser.Statement) (*QueryResult, error) {
	switch n := stmt.(type) {
	case *sqlparser.SelectStatement:
		if view, ok := s.expandView(n); ok {
			return s.execSelect(view)
		}
		return s.execSelect(n)
	case *sqlparser.InsertStatement:
		return s.execInsert(n)
	case *sqlparser.UpdateStatement:
		return s.execUpdate(n)
	case *sqlparser.DeleteStatement:
		return s.execDelete(n)
	case *sqlparser.CreateTableStatement:
		return s.execCreateTable(n)
	case *sqlparser.DropTableStatement:
		return s.execDropTable(n)
	case *sqlparser.CreateIndexStatement:
		return s.execCreateIndex(n)
	case *sqlparser.DropIndexStatement:
		return s.execDropIndex(n)
	case *sqlparser.AlterTableStatement:
		return s.execAlterTable(n)
	case *sqlparser.RenameTableStatement:
		return s.execRenameTable(n)
	case *sqlparser.CreateViewStatement:
		return s.execCreateView(n)
	case *sqlparser.DropViewStatement:
		return s.execDropView(n)
	case *sqlparser.TxnControlStatement:
		return s.execTxnControl(n)
	case *sqlparser.ExplainStatement:
		return s.execExplain(n)
	default:
		return nil, errors.NewUnsupportedOperation("unsupported statement type %T", stmt)
	}
}

// statementKind labels a statement for metrics, lowercase and
// independent of its concrete Go type name.
func statementKind(stmt sqlparser.Statement) string {
	switch stmt.(type) {
	case *sqlparser.SelectStatement:
		return "select"
	case *sqlparser.InsertStatement:
		return "insert"
	case *sqlparser.UpdateStatement:
		return "update"
	case *sqlparser.DeleteStatement:
		return "delete"
	case *sqlparser.CreateTableStatement:
		return "create_table"
	case *sqlparser.DropTableStatement:
		return "drop_table"
	case *sqlparser.CreateIndexStatement:
		return "create_index"
	case *sqlparser.DropIndexStatement:
		return "drop_index"
	case *sqlparser.AlterTableStatement:
		return "alter_table"
	case *sqlparser.RenameTableStatement:
		return "rename_table"
	case *sqlparser.CreateViewStatement:
		return "create_view"
	case *sqlparser.DropViewStatement:
		return "drop_view"
	case *sqlparser.TxnControlStatement:
		return "txn_control"
	case *sqlparser.ExplainStatement:
		return "explain"
	default:
		return "unknown"
	}
}

// expandView resolves stmt's FROM table against the registered views and
// returns the view's stored query itself. The outer statement's select
// list, joins, WHERE, ORDER BY and LIMIT are not applied: any SELECT
// from a view runs the view's own query as-is.
func (s *Session) expandView(stmt *sqlparser.SelectStatement) (*sqlparser.SelectStatement, bool) {
	if stmt.From == nil {
		return nil, false
	}
	query, ok := s.lookupView(stmt.From.Name)
	if !ok {
		return nil, false
	}
	return query, true
}

func (s *Session) execTxnControl(stmt *sqlparser.TxnControlStatement) (*QueryResult, error) {
	switch stmt.Kind {
	case sqlparser.TxnBegin:
		if err := s.Begin(); err != nil {
			return nil, err
		}
	case sqlparser.TxnCommit:
		if err := s.Commit(); err != nil {
			return nil, err
		}
	case sqlparser.TxnRollback:
		if err := s.Rollback(); err != nil {
			return nil, err
		}
	default:
		return nil, errors.NewUnsupportedOperation("unsupported transaction control statement")
	}
	return &QueryResult{}, nil
}

func (s *Session) execExplain(stmt *sqlparser.ExplainStatement) (*QueryResult, error) {
	plan, err := planner.PlanStatement(stmt.Target)
	if err != nil {
		return nil, err
	}
	result := &QueryResult{Columns: []string{"QUERY PLAN"}}
	for _, line := range explainPlan(plan, 0) {
		result.Rows = append(result.Rows, []types.Value{types.Text(line)})
	}
	return result, nil
}

// explainPlan renders a LogicalPlan tree as indented lines, one node
// per line, children indented two spaces under their parent.
func explainPlan(plan planner.LogicalPlan, depth int) []string {
	indent := func(s string) string {
		prefix := ""
		for i := 0; i < depth; i++ {
			prefix += "  "
		}
		return prefix + s
	}
	switch n := plan.(type) {
	case *planner.TableScan:
		label := fmt.Sprintf("TableScan %s", n.Table)
		if n.Alias != "" {
			label += " AS " + n.Alias
		}
		if n.PushedFilter != nil {
			label += " (filter pushed down)"
		}
		return []string{indent(label)}
	case *planner.CteScan:
		return []string{indent(fmt.Sprintf("CteScan %s", n.Name))}
	case *planner.Values:
		return []string{indent("Values")}
	case *planner.Filter:
		return append([]string{indent("Filter")}, explainPlan(n.Input, depth+1)...)
	case *planner.Project:
		return append([]string{indent("Project")}, explainPlan(n.Input, depth+1)...)
	case *planner.Sort:
		return append([]string{indent("Sort")}, explainPlan(n.Input, depth+1)...)
	case *planner.Limit:
		return append([]string{indent("Limit")}, explainPlan(n.Input, depth+1)...)
	case *planner.HashAggregate:
		return append([]string{indent("HashAggregate")}, explainPlan(n.Input, depth+1)...)
	case *planner.Distinct:
		return append([]string{indent("Distinct")}, explainPlan(n.Input, depth+1)...)
	case *planner.Window:
		return append([]string{indent("Window")}, explainPlan(n.Input, depth+1)...)
	case *planner.NestedLoopJoin:
		lines := []string{indent("NestedLoopJoin")}
		lines = append(lines, explainPlan(n.Left, depth+1)...)
		lines = append(lines, explainPlan(n.Right, depth+1)...)
		return lines
	default:
		return []string{indent(fmt.Sprintf("%T", plan))}
	}
}
