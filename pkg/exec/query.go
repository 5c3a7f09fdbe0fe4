package exec

import (
	"sort"
	"strconv"
	"strings"

	"github.com/maxBogovick/relmem/pkg/catalog"
	"github.com/maxBogovick/relmem/pkg/errors"
	"github.com/maxBogovick/relmem/pkg/eval"
	"github.com/maxBogovick/relmem/pkg/planner"
	"github.com/maxBogovick/relmem/pkg/sqlparser"
	"github.com/maxBogovick/relmem/pkg/storage"
	"github.com/maxBogovick/relmem/pkg/types"
)

// execEnv carries the state a single SELECT's plan-tree walk needs: the
// read transaction its rows are visible through, plus the materialized
// result of every CTE in scope.
type execEnv struct {
	s    *Session
	rtx  *storage.Transaction
	ctes map[string][]eval.Row
}

func (s *Session) execSelect(stmt *sqlparser.SelectStatement) (*QueryResult, error) {
	qp, err := planner.Plan(stmt)
	if err != nil {
		return nil, err
	}

	var rows []eval.Row
	err = s.withStatement(func(_ *storage.WriteTransaction, rtx *storage.Transaction) error {
		env := &execEnv{s: s, rtx: rtx, ctes: map[string][]eval.Row{}}
		for _, cte := range qp.Ctes {
			r, err := env.runCte(cte)
			if err != nil {
				return err
			}
			env.ctes[cte.Name] = r
		}
		r, err := env.run(qp.Root)
		if err != nil {
			return err
		}
		rows = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	columns := s.columnNamesForSelect(stmt, rows)
	return rowsToResult(columns, rows), nil
}

// ExecuteSubquery satisfies eval.Context: every scalar/correlated
// subquery, IN (SELECT ...), and EXISTS (SELECT ...) runs as an
// ordinary nested SELECT against the same session, reusing whatever
// transaction is currently open.
func (s *Session) ExecuteSubquery(query *sqlparser.SelectStatement) ([]eval.Row, error) {
	result, err := s.execSelect(query)
	if err != nil {
		return nil, err
	}
	rows := make([]eval.Row, len(result.Rows))
	for i, vals := range result.Rows {
		row := make(eval.Row, len(result.Columns))
		for j, col := range result.Columns {
			row[col] = vals[j]
		}
		rows[i] = row
	}
	return rows, nil
}

// runCte materializes one CTE's rows. A recursive CTE is re-run against
// its own accumulated output until a round adds nothing new; the
// grammar has no UNION combinator, so the single query body plays both
// the anchor and the recursive step, self-referencing its own name
// through the ctes map.
func (env *execEnv) runCte(cte planner.CtePlan) ([]eval.Row, error) {
	if !cte.Recursive {
		return env.run(cte.Plan)
	}
	var all []eval.Row
	seen := map[string]bool{}
	for {
		env.ctes[cte.Name] = all
		round, err := env.run(cte.Plan)
		if err != nil {
			return nil, err
		}
		added := false
		for _, r := range round {
			sig := rowSignature(r)
			if !seen[sig] {
				seen[sig] = true
				all = append(all, r)
				added = true
			}
		}
		if !added {
			break
		}
	}
	return all, nil
}

// run interprets one LogicalPlan node, returning the rows it produces.
func (env *execEnv) run(plan planner.LogicalPlan) ([]eval.Row, error) {
	switch n := plan.(type) {
	case *planner.TableScan:
		if rows, ok := env.ctes[n.Table]; ok {
			return rows, nil
		}
		return env.runTableScan(n)
	case *planner.CteScan:
		rows, ok := env.ctes[n.Name]
		if !ok {
			return nil, errors.NewExecutionError("reference to undefined CTE %q", n.Name)
		}
		return rows, nil
	case *planner.Values:
		rows := make([]eval.Row, len(n.Rows))
		for i := range rows {
			rows[i] = eval.Row{}
		}
		return rows, nil
	case *planner.Filter:
		return env.runFilter(n)
	case *planner.Project:
		return env.runProject(n)
	case *planner.Sort:
		rows, err := env.run(n.Input)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(rows, func(i, j int) bool {
			return env.compareByKeys(rows[i], rows[j], n.Keys) < 0
		})
		return rows, nil
	case *planner.Limit:
		return env.runLimit(n)
	case *planner.HashAggregate:
		return env.runAggregate(n)
	case *planner.NestedLoopJoin:
		return env.runJoin(n)
	case *planner.Distinct:
		rows, err := env.run(n.Input)
		if err != nil {
			return nil, err
		}
		return dedupeRows(rows), nil
	case *planner.Window:
		return env.runWindow(n)
	default:
		return nil, errors.NewUnsupportedOperation("unsupported plan node %T", plan)
	}
}

func (env *execEnv) runTableScan(n *planner.TableScan) ([]eval.Row, error) {
	schema, ok := env.s.Catalog.Get(n.Table)
	if !ok {
		return nil, &errors.TableNotFoundSQLError{Name: n.Table}
	}
	rows, err := env.s.scanTableQualified(schema, n.Alias, env.rtx)
	if err != nil {
		return nil, err
	}
	if n.PushedFilter == nil {
		return rows, nil
	}
	var out []eval.Row
	for _, r := range rows {
		ok, err := env.s.Evaluator.AsBool(n.PushedFilter, r, env.s)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (env *execEnv) runFilter(n *planner.Filter) ([]eval.Row, error) {
	rows, err := env.run(n.Input)
	if err != nil {
		return nil, err
	}
	var out []eval.Row
	for _, r := range rows {
		ok, err := env.s.Evaluator.AsBool(n.Predicate, r, env.s)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (env *execEnv) runProject(n *planner.Project) ([]eval.Row, error) {
	rows, err := env.run(n.Input)
	if err != nil {
		return nil, err
	}
	out := make([]eval.Row, len(rows))
	for i, r := range rows {
		nr := eval.Row{}
		for idx, item := range n.Columns {
			if _, ok := item.Expr.(*sqlparser.Star); ok {
				for k, v := range r {
					if !strings.Contains(k, ".") {
						nr[k] = v
					}
				}
				continue
			}
			// A window function's value was already computed onto the
			// row by runWindow under this same column name; Project
			// just carries it through rather than re-evaluating the
			// raw FuncCall (which evalFuncCall has no OVER handling for).
			if call, ok := item.Expr.(*sqlparser.FuncCall); ok && call.Over != nil {
				col := outputColumnName(item, idx)
				if v, ok := r.Get(col); ok {
					nr[col] = v
				}
				continue
			}
			v, err := env.s.Evaluator.Eval(item.Expr, r, env.s)
			if err != nil {
				return nil, err
			}
			nr[outputColumnName(item, idx)] = v
		}
		out[i] = nr
	}
	return out, nil
}

func (env *execEnv) runLimit(n *planner.Limit) ([]eval.Row, error) {
	rows, err := env.run(n.Input)
	if err != nil {
		return nil, err
	}
	start := int64(0)
	if n.Offset != nil {
		start = *n.Offset
	}
	if start < 0 {
		start = 0
	}
	if start > int64(len(rows)) {
		start = int64(len(rows))
	}
	rows = rows[start:]
	if n.Count != nil && *n.Count < int64(len(rows)) {
		if *n.Count < 0 {
			rows = rows[:0]
		} else {
			rows = rows[:*n.Count]
		}
	}
	return rows, nil
}

func (env *execEnv) runJoin(n *planner.NestedLoopJoin) ([]eval.Row, error) {
	left, err := env.run(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := env.run(n.Right)
	if err != nil {
		return nil, err
	}
	leftCols := columnsOf(left)
	if len(leftCols) == 0 {
		leftCols = env.planColumnNames(n.Left)
	}
	rightCols := columnsOf(right)
	if len(rightCols) == 0 {
		rightCols = env.planColumnNames(n.Right)
	}
	rightMatched := make([]bool, len(right))

	var out []eval.Row
	for _, l := range left {
		matchedAny := false
		for ri, r := range right {
			combined := mergeRows(l, r)
			ok := true
			if n.On != nil {
				v, err := env.s.Evaluator.AsBool(n.On, combined, env.s)
				if err != nil {
					return nil, err
				}
				ok = v
			}
			if ok {
				matchedAny = true
				rightMatched[ri] = true
				out = append(out, combined)
			}
		}
		if !matchedAny && n.Kind == sqlparser.JoinLeft {
			out = append(out, mergeRows(l, nullRow(rightCols)))
		}
	}
	if n.Kind == sqlparser.JoinRight {
		for ri, r := range right {
			if !rightMatched[ri] {
				out = append(out, mergeRows(nullRow(leftCols), r))
			}
		}
	}
	return out, nil
}

func (env *execEnv) runWindow(n *planner.Window) ([]eval.Row, error) {
	rows, err := env.run(n.Input)
	if err != nil {
		return nil, err
	}
	out := make([]eval.Row, len(rows))
	for i, r := range rows {
		cp := eval.Row{}
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	for idx, item := range n.Funcs {
		call, ok := item.Expr.(*sqlparser.FuncCall)
		if !ok || call.Over == nil {
			continue
		}
		col := outputColumnName(item, idx)
		if err := env.applyWindowFunc(out, call, col); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// applyWindowFunc partitions rows by call.Over.PartitionBy, orders each
// partition by call.Over.OrderBy when given, and writes the function's
// result into col on every row of the partition. ROW_NUMBER and RANK
// are computed directly; every other name is treated as an aggregate
// evaluated once over the whole partition (no running-frame support).
func (env *execEnv) applyWindowFunc(rows []eval.Row, call *sqlparser.FuncCall, col string) error {
	partitions := map[string][]int{}
	var order []string
	for i, r := range rows {
		parts := make([]string, len(call.Over.PartitionBy))
		for j, p := range call.Over.PartitionBy {
			v, err := env.s.Evaluator.Eval(p, r, env.s)
			if err != nil {
				return err
			}
			parts[j] = valueKeyString(v)
		}
		k := strings.Join(parts, "\x1f")
		if _, ok := partitions[k]; !ok {
			order = append(order, k)
		}
		partitions[k] = append(partitions[k], i)
	}

	for _, k := range order {
		idxs := partitions[k]
		if len(call.Over.OrderBy) > 0 {
			sort.SliceStable(idxs, func(a, b int) bool {
				return env.compareByKeys(rows[idxs[a]], rows[idxs[b]], call.Over.OrderBy) < 0
			})
		}
		switch strings.ToUpper(call.Name) {
		case "ROW_NUMBER":
			for pos, idx := range idxs {
				rows[idx][col] = types.Integer(int64(pos + 1))
			}
		case "RANK":
			rank := 1
			for pos, idx := range idxs {
				if pos > 0 && env.compareByKeys(rows[idxs[pos-1]], rows[idx], call.Over.OrderBy) != 0 {
					rank = pos + 1
				}
				rows[idx][col] = types.Integer(int64(rank))
			}
		default:
			group := make([]eval.Row, len(idxs))
			for j, idx := range idxs {
				group[j] = rows[idx]
			}
			v, err := env.computeAggCall(call, group)
			if err != nil {
				return err
			}
			for _, idx := range idxs {
				rows[idx][col] = v
			}
		}
	}
	return nil
}

func (env *execEnv) runAggregate(n *planner.HashAggregate) ([]eval.Row, error) {
	rows, err := env.run(n.Input)
	if err != nil {
		return nil, err
	}

	type group struct {
		rows []eval.Row
	}
	groups := map[string]*group{}
	var order []string
	for _, r := range rows {
		parts := make([]string, len(n.GroupBy))
		for i, g := range n.GroupBy {
			v, err := env.s.Evaluator.Eval(g, r, env.s)
			if err != nil {
				return nil, err
			}
			parts[i] = valueKeyString(v)
		}
		k := strings.Join(parts, "\x1f")
		grp, ok := groups[k]
		if !ok {
			grp = &group{}
			groups[k] = grp
			order = append(order, k)
		}
		grp.rows = append(grp.rows, r)
	}
	if len(n.GroupBy) == 0 && len(order) == 0 {
		groups[""] = &group{}
		order = append(order, "")
	}

	var out []eval.Row
	for _, k := range order {
		grp := groups[k]
		base := eval.Row{}
		if len(grp.rows) > 0 {
			base = grp.rows[0]
		}
		if n.Having != nil {
			expr, err := env.substituteAggregates(n.Having, grp.rows)
			if err != nil {
				return nil, err
			}
			ok, err := env.s.Evaluator.AsBool(expr, base, env.s)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		nr := eval.Row{}
		for idx, item := range n.Aggs {
			expr, err := env.substituteAggregates(item.Expr, grp.rows)
			if err != nil {
				return nil, err
			}
			v, err := env.s.Evaluator.Eval(expr, base, env.s)
			if err != nil {
				return nil, err
			}
			nr[outputColumnName(item, idx)] = v
		}
		out = append(out, nr)
	}
	return out, nil
}

// substituteAggregates walks expr, replacing every aggregate FuncCall
// with a Literal holding its computed value over rows. What's left is
// an ordinary scalar expression the evaluator can run unchanged, so
// arithmetic/comparison/type-coercion rules never need duplicating here.
func (env *execEnv) substituteAggregates(expr sqlparser.Expr, rows []eval.Row) (sqlparser.Expr, error) {
	switch n := expr.(type) {
	case *sqlparser.FuncCall:
		if isAggregateName(n.Name) {
			v, err := env.computeAggCall(n, rows)
			if err != nil {
				return nil, err
			}
			return &sqlparser.Literal{Val: valueToJSON(v)}, nil
		}
		newArgs := make([]sqlparser.Expr, len(n.Args))
		for i, a := range n.Args {
			na, err := env.substituteAggregates(a, rows)
			if err != nil {
				return nil, err
			}
			newArgs[i] = na
		}
		cp := *n
		cp.Args = newArgs
		return &cp, nil
	case *sqlparser.Binary:
		l, err := env.substituteAggregates(n.Left, rows)
		if err != nil {
			return nil, err
		}
		r, err := env.substituteAggregates(n.Right, rows)
		if err != nil {
			return nil, err
		}
		cp := *n
		cp.Left, cp.Right = l, r
		return &cp, nil
	case *sqlparser.Unary:
		e, err := env.substituteAggregates(n.Expr, rows)
		if err != nil {
			return nil, err
		}
		cp := *n
		cp.Expr = e
		return &cp, nil
	default:
		return expr, nil
	}
}

func isAggregateName(name string) bool {
	switch name {
	case "COUNT", "SUM", "AVG", "MIN", "MAX":
		return true
	default:
		return false
	}
}

func (env *execEnv) computeAggCall(call *sqlparser.FuncCall, rows []eval.Row) (types.Value, error) {
	switch call.Name {
	case "COUNT":
		if len(call.Args) == 1 {
			if _, isStar := call.Args[0].(*sqlparser.Star); isStar {
				return types.Integer(int64(len(rows))), nil
			}
		}
		var n int64
		for _, r := range rows {
			v, err := env.s.Evaluator.Eval(call.Args[0], r, env.s)
			if err != nil {
				return types.Null, err
			}
			if !v.IsNull() {
				n++
			}
		}
		return types.Integer(n), nil
	case "SUM", "AVG", "MIN", "MAX":
		var vals []types.Value
		for _, r := range rows {
			v, err := env.s.Evaluator.Eval(call.Args[0], r, env.s)
			if err != nil {
				return types.Null, err
			}
			if !v.IsNull() {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			return types.Null, nil
		}
		switch call.Name {
		case "SUM":
			acc := vals[0]
			for _, v := range vals[1:] {
				a, b, err := types.CoerceNumeric(acc, v)
				if err != nil {
					return types.Null, err
				}
				if a.Kind() == types.KindInteger {
					acc = types.Integer(a.Int() + b.Int())
				} else {
					acc = types.Float(a.Float64() + b.Float64())
				}
			}
			return acc, nil
		case "AVG":
			sum := 0.0
			for _, v := range vals {
				f, _, err := types.CoerceNumeric(v, types.Float(0))
				if err != nil {
					return types.Null, err
				}
				sum += f.Float64()
			}
			return types.Float(sum / float64(len(vals))), nil
		default: // MIN, MAX
			best := vals[0]
			for _, v := range vals[1:] {
				c := best.Compare(v)
				if (call.Name == "MIN" && c > 0) || (call.Name == "MAX" && c < 0) {
					best = v
				}
			}
			return best, nil
		}
	default:
		return types.Null, errors.NewUnsupportedOperation("unknown aggregate function %q", call.Name)
	}
}

// compareByKeys orders a against b by keys in turn, stopping at the
// first key that differs. NULLs always sort last regardless of
// direction, decided before Desc flips the sign of a real comparison.
func (env *execEnv) compareByKeys(a, b eval.Row, keys []sqlparser.OrderByItem) int {
	for _, k := range keys {
		va, err := env.s.Evaluator.Eval(k.Expr, a, env.s)
		if err != nil {
			continue
		}
		vb, err := env.s.Evaluator.Eval(k.Expr, b, env.s)
		if err != nil {
			continue
		}
		if va.IsNull() && vb.IsNull() {
			continue
		}
		if va.IsNull() {
			return 1
		}
		if vb.IsNull() {
			return -1
		}
		c := va.Compare(vb)
		if k.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// scanTableQualified reads every visible row of schema and attaches a
// second "alias.col" (or "table.col") copy of each value alongside its
// bare column key, so join predicates can disambiguate identically
// named columns from either side.
func (s *Session) scanTableQualified(schema *catalog.TableSchema, alias string, rtx *storage.Transaction) ([]eval.Row, error) {
	rows, err := s.scanTable(schema, rtx)
	if err != nil {
		return nil, err
	}
	qualifier := alias
	if qualifier == "" {
		qualifier = schema.Name
	}
	for _, r := range rows {
		for _, cs := range schema.Columns {
			r[qualifier+"."+cs.Name] = r[cs.Name]
		}
	}
	return rows, nil
}

func (s *Session) columnNamesForSelect(stmt *sqlparser.SelectStatement, rows []eval.Row) []string {
	names := make([]string, 0, len(stmt.Columns))
	for i, item := range stmt.Columns {
		if _, ok := item.Expr.(*sqlparser.Star); ok {
			if stmt.From != nil && len(stmt.Joins) == 0 {
				if schema, ok := s.Catalog.Get(stmt.From.Name); ok {
					for _, cs := range schema.Columns {
						names = append(names, cs.Name)
					}
					continue
				}
			}
			if len(rows) > 0 {
				bare := make([]string, 0, len(rows[0]))
				for k := range rows[0] {
					if !strings.Contains(k, ".") {
						bare = append(bare, k)
					}
				}
				sort.Strings(bare)
				names = append(names, bare...)
			}
			continue
		}
		names = append(names, outputColumnName(item, i))
	}
	return names
}

func outputColumnName(item sqlparser.SelectItem, idx int) string {
	if item.Alias != "" {
		return item.Alias
	}
	switch e := item.Expr.(type) {
	case *sqlparser.Ident:
		if i := strings.LastIndexByte(e.Name, '.'); i >= 0 {
			return e.Name[i+1:]
		}
		return e.Name
	case *sqlparser.FuncCall:
		return strings.ToLower(e.Name)
	default:
		return "col" + strconv.Itoa(idx+1)
	}
}

func rowsToResult(columns []string, rows []eval.Row) *QueryResult {
	result := &QueryResult{Columns: columns}
	for _, r := range rows {
		vals := make([]types.Value, len(columns))
		for i, c := range columns {
			if v, ok := r.Get(c); ok {
				vals[i] = v
			} else {
				vals[i] = types.Null
			}
		}
		result.Rows = append(result.Rows, vals)
	}
	return result
}

// planColumnNames best-effort derives a plan node's output column
// names without running it, so a join side that scanned zero rows can
// still build a properly-shaped NULL-padded row for the other side.
// Only TableScan (and pass-through Filter) are resolvable this way; any
// other node shape with zero rows simply contributes no columns.
func (env *execEnv) planColumnNames(plan planner.LogicalPlan) []string {
	switch n := plan.(type) {
	case *planner.TableScan:
		schema, ok := env.s.Catalog.Get(n.Table)
		if !ok {
			return nil
		}
		qualifier := n.Alias
		if qualifier == "" {
			qualifier = schema.Name
		}
		names := make([]string, 0, len(schema.Columns)*2)
		for _, cs := range schema.Columns {
			names = append(names, cs.Name, qualifier+"."+cs.Name)
		}
		return names
	case *planner.Filter:
		return env.planColumnNames(n.Input)
	default:
		return nil
	}
}

func columnsOf(rows []eval.Row) []string {
	if len(rows) == 0 {
		return nil
	}
	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	return cols
}

func mergeRows(a, b eval.Row) eval.Row {
	out := make(eval.Row, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func nullRow(cols []string) eval.Row {
	r := make(eval.Row, len(cols))
	for _, c := range cols {
		r[c] = types.Null
	}
	return r
}

func dedupeRows(rows []eval.Row) []eval.Row {
	seen := map[string]bool{}
	var out []eval.Row
	for _, r := range rows {
		sig := rowSignature(r)
		if !seen[sig] {
			seen[sig] = true
			out = append(out, r)
		}
	}
	return out
}

func rowSignature(r eval.Row) string {
	keys := make([]string, 0, len(r))
	for k := range r {
		if !strings.Contains(k, ".") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(valueKeyString(r[k]))
		b.WriteByte('\x1f')
	}
	return b.String()
}

func valueKeyString(v types.Value) string {
	if v.IsNull() {
		return "\x00null"
	}
	switch v.Kind() {
	case types.KindInteger:
		return "i:" + strconv.FormatInt(v.Int(), 10)
	case types.KindFloat:
		return "f:" + strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case types.KindText:
		return "s:" + v.Text()
	case types.KindBoolean:
		return "b:" + strconv.FormatBool(v.Bool())
	default:
		return ""
	}
}
