// Package planner turns a sqlparser AST into a LogicalPlan tree. There is
// no cost-based optimization: only predicate pushdown through projection
// and constant folding of literal comparisons, applied as simple
// rewrites over the tree planner.go builds directly from the AST.
package planner

import "github.com/maxBogovick/relmem/pkg/sqlparser"

// LogicalPlan is the sum type of every plan node. Consumers (pkg/exec)
// type-switch on the concrete node, the same interface{}-sum-type
// idiom sqlparser.Statement/Expr use.
type LogicalPlan interface{}

type (
	// TableScan reads every visible row of a table, optionally with a
	// filter already pushed down to the storage layer.
	TableScan struct {
		Table        string
		Alias        string
		PushedFilter sqlparser.Expr
	}

	// CteScan reads the materialized result of a named CTE.
	CteScan struct {
		Name string
	}

	// Values is a literal row source, used for VALUES lists and
	// single-row constant selects.
	Values struct {
		Rows [][]sqlparser.Expr
	}

	// Filter evaluates Predicate against each input row and keeps only
	// rows where it is true (three-valued NULL/false are dropped).
	Filter struct {
		Input     LogicalPlan
		Predicate sqlparser.Expr
	}

	// Project evaluates Exprs against each input row to build the
	// output row.
	Project struct {
		Input   LogicalPlan
		Columns []sqlparser.SelectItem
	}

	// Sort orders rows by Keys. NULLs always sort last regardless of
	// direction.
	Sort struct {
		Input LogicalPlan
		Keys  []sqlparser.OrderByItem
	}

	// Limit bounds and skips rows after Sort/Filter have run.
	Limit struct {
		Input  LogicalPlan
		Count  *int64
		Offset *int64
	}

	// HashAggregate groups Input by GroupBy and computes Aggs per group.
	// An empty GroupBy with a non-empty Aggs list still emits exactly one
	// row (the aggregate-default row for zero matching input rows).
	HashAggregate struct {
		Input   LogicalPlan
		GroupBy []sqlparser.Expr
		Aggs    []sqlparser.SelectItem
		Having  sqlparser.Expr
	}

	// NestedLoopJoin joins Left and Right by evaluating On per candidate
	// pair. Kind mirrors sqlparser.JoinKind (inner/left/right).
	NestedLoopJoin struct {
		Left  LogicalPlan
		Right LogicalPlan
		On    sqlparser.Expr
		Kind  sqlparser.JoinKind
	}

	// Distinct deduplicates rows by full row equality.
	Distinct struct {
		Input LogicalPlan
	}

	// Window computes one or more window functions (ROW_NUMBER, RANK)
	// over Input, partitioned and ordered per Spec, without collapsing
	// rows the way HashAggregate does.
	Window struct {
		Input LogicalPlan
		Funcs []sqlparser.SelectItem
	}
)

// CtePlan is a planned CTE: its LogicalPlan and whether it is
// recursive (recursive CTEs are re-evaluated by the executor until a
// fixed point, rather than materialized once).
type CtePlan struct {
	Name      string
	Recursive bool
	Plan      LogicalPlan
}

// QueryPlan is the top-level result of planning a SELECT: its CTEs (in
// dependency order) plus the root LogicalPlan.
type QueryPlan struct {
	Ctes []CtePlan
	Root LogicalPlan
}
