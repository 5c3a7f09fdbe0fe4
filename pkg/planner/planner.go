package planner

import (
	"github.com/maxBogovick/relmem/pkg/errors"
	"github.com/maxBogovick/relmem/pkg/sqlparser"
)

// Plan builds a QueryPlan from a parsed SELECT statement.
func Plan(stmt *sqlparser.SelectStatement) (*QueryPlan, error) {
	qp := &QueryPlan{}
	for _, cte := range stmt.CTEs {
		sub, err := Plan(cte.Query)
		if err != nil {
			return nil, err
		}
		qp.Ctes = append(qp.Ctes, CtePlan{Name: cte.Name, Recursive: cte.Recursive, Plan: sub.Root})
	}

	root, err := planSelect(stmt)
	if err != nil {
		return nil, err
	}
	qp.Root = root
	return qp, nil
}

func planSelect(stmt *sqlparser.SelectStatement) (LogicalPlan, error) {
	var plan LogicalPlan
	switch {
	case stmt.From != nil:
		plan = &TableScan{Table: stmt.From.Name, Alias: stmt.From.Alias}
	case stmt.FromSub != nil:
		sub, err := Plan(stmt.FromSub.Subquery)
		if err != nil {
			return nil, err
		}
		plan = sub.Root
	default:
		plan = &Values{Rows: [][]sqlparser.Expr{{}}}
	}

	for _, join := range stmt.Joins {
		right := LogicalPlan(&TableScan{Table: join.Table.Name, Alias: join.Table.Alias})
		plan = &NestedLoopJoin{Left: plan, Right: right, On: join.On, Kind: join.Kind}
	}

	if stmt.Where != nil {
		plan = &Filter{Input: plan, Predicate: foldConstants(stmt.Where)}
	}

	isAggregate := len(stmt.GroupBy) > 0 || selectListHasAggregate(stmt.Columns)
	if isAggregate {
		plan = &HashAggregate{Input: plan, GroupBy: stmt.GroupBy, Aggs: stmt.Columns, Having: stmt.Having}
	} else if hasWindowFunc(stmt.Columns) {
		plan = &Window{Input: plan, Funcs: stmt.Columns}
	}

	if !isAggregate {
		// HashAggregate already produces the aggregate output row shape
		// directly from its Aggs list; Project is only needed for the
		// non-aggregate path.
		plan = &Project{Input: plan, Columns: stmt.Columns}
	}

	if stmt.Distinct {
		plan = &Distinct{Input: plan}
	}

	if len(stmt.OrderBy) > 0 {
		plan = &Sort{Input: plan, Keys: stmt.OrderBy}
	}

	if stmt.Limit != nil || stmt.Offset != nil {
		plan = &Limit{Input: plan, Count: stmt.Limit, Offset: stmt.Offset}
	}

	plan = pushdownFilters(plan)
	return plan, nil
}

func selectListHasAggregate(items []sqlparser.SelectItem) bool {
	for _, item := range items {
		if exprHasAggregate(item.Expr) {
			return true
		}
	}
	return false
}

func exprHasAggregate(e sqlparser.Expr) bool {
	switch n := e.(type) {
	case *sqlparser.FuncCall:
		if n.Over != nil {
			return false
		}
		switch n.Name {
		case "COUNT", "SUM", "AVG", "MIN", "MAX":
			return true
		}
		for _, arg := range n.Args {
			if exprHasAggregate(arg) {
				return true
			}
		}
		return false
	case *sqlparser.Binary:
		return exprHasAggregate(n.Left) || exprHasAggregate(n.Right)
	case *sqlparser.Unary:
		return exprHasAggregate(n.Expr)
	default:
		return false
	}
}

func hasWindowFunc(items []sqlparser.SelectItem) bool {
	for _, item := range items {
		if call, ok := item.Expr.(*sqlparser.FuncCall); ok && call.Over != nil {
			return true
		}
	}
	return false
}

// pushdownFilters moves a Filter directly above a TableScan down into
// the scan's PushedFilter when nothing separates them but Project nodes
// that don't change row identity (spec §4.G: "predicate pushdown
// through projection").
func pushdownFilters(plan LogicalPlan) LogicalPlan {
	filter, ok := plan.(*Filter)
	if !ok {
		return plan
	}
	if scan, ok := filter.Input.(*TableScan); ok {
		scan.PushedFilter = filter.Predicate
		return scan
	}
	if proj, ok := filter.Input.(*Project); ok {
		if scan, ok := proj.Input.(*TableScan); ok {
			scan.PushedFilter = filter.Predicate
			return proj
		}
	}
	return plan
}

// foldConstants evaluates comparisons between two literals at plan
// time, so "WHERE 1 = 1" becomes a Literal{true} the executor can skip
// evaluating per row.
func foldConstants(e sqlparser.Expr) sqlparser.Expr {
	switch n := e.(type) {
	case *sqlparser.Binary:
		n.Left = foldConstants(n.Left)
		n.Right = foldConstants(n.Right)
		left, lok := n.Left.(*sqlparser.Literal)
		right, rok := n.Right.(*sqlparser.Literal)
		if lok && rok {
			if folded, ok := foldLiteralBinary(n.Op, left.Val, right.Val); ok {
				return &sqlparser.Literal{Val: folded}
			}
		}
		return n
	case *sqlparser.Unary:
		n.Expr = foldConstants(n.Expr)
		return n
	default:
		return n
	}
}

func foldLiteralBinary(op string, left, right any) (any, bool) {
	switch op {
	case "=":
		return left == right, true
	case "<>", "!=":
		return left != right, true
	case "AND":
		lb, lok := left.(bool)
		rb, rok := right.(bool)
		if lok && rok {
			return lb && rb, true
		}
	case "OR":
		lb, lok := left.(bool)
		rb, rok := right.(bool)
		if lok && rok {
			return lb || rb, true
		}
	}
	return nil, false
}

// PlanStatement builds a plan for any statement kind, rejecting
// constructs outside the supported matrix.
func PlanStatement(stmt sqlparser.Statement) (LogicalPlan, error) {
	switch s := stmt.(type) {
	case *sqlparser.SelectStatement:
		qp, err := Plan(s)
		if err != nil {
			return nil, err
		}
		return qp.Root, nil
	default:
		return nil, errors.NewUnsupportedOperation("planner does not support statement type %T", stmt)
	}
}
