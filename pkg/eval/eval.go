package eval

import (
	"math"
	"strings"

	"github.com/maxBogovick/relmem/pkg/errors"
	"github.com/maxBogovick/relmem/pkg/sqlparser"
	"github.com/maxBogovick/relmem/pkg/types"
)

// Evaluator evaluates sqlparser.Expr nodes against a Row, dispatching
// function calls through a Registry.
type Evaluator struct {
	Registry *Registry
}

// New returns an Evaluator backed by the default scalar function
// registry.
func New() *Evaluator {
	return &Evaluator{Registry: NewDefaultRegistry()}
}

// Eval evaluates expr against row. ctx may be nil for expressions known
// not to contain a subquery.
func (ev *Evaluator) Eval(expr sqlparser.Expr, row Row, ctx Context) (types.Value, error) {
	switch n := expr.(type) {
	case *sqlparser.Literal:
		return literalValue(n.Val), nil

	case *sqlparser.Ident:
		v, ok := row.Get(n.Name)
		if !ok {
			return types.Null, &errors.ColumnNotFoundError{Column: n.Name}
		}
		return v, nil

	case *sqlparser.Star:
		return types.Null, errors.NewUnsupportedOperation("* cannot be evaluated as a scalar expression")

	case *sqlparser.Unary:
		return ev.evalUnary(n, row, ctx)

	case *sqlparser.Binary:
		return ev.evalBinary(n, row, ctx)

	case *sqlparser.IsNull:
		v, err := ev.Eval(n.Expr, row, ctx)
		if err != nil {
			return types.Null, err
		}
		result := v.IsNull()
		if n.Negate {
			result = !result
		}
		return types.Boolean(result), nil

	case *sqlparser.Like:
		return ev.evalLike(n, row, ctx)

	case *sqlparser.Between:
		return ev.evalBetween(n, row, ctx)

	case *sqlparser.In:
		return ev.evalIn(n, row, ctx)

	case *sqlparser.Exists:
		return ev.evalExists(n, row, ctx)

	case *sqlparser.CaseExpr:
		return ev.evalCase(n, row, ctx)

	case *sqlparser.ScalarSubquery:
		return ev.evalScalarSubquery(n, row, ctx)

	case *sqlparser.FuncCall:
		return ev.evalFuncCall(n, row, ctx)

	default:
		return types.Null, errors.NewUnsupportedOperation("cannot evaluate expression of type %T", expr)
	}
}

// AsBool evaluates expr and collapses the three-valued result to a
// plain bool via types.AsBool, the way WHERE/ON predicates do.
func (ev *Evaluator) AsBool(expr sqlparser.Expr, row Row, ctx Context) (bool, error) {
	v, err := ev.Eval(expr, row, ctx)
	if err != nil {
		return false, err
	}
	return types.AsBool(v), nil
}

func literalValue(val any) types.Value {
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

func (ev *Evaluator) evalUnary(n *sqlparser.Unary, row Row, ctx Context) (types.Value, error) {
	v, err := ev.Eval(n.Expr, row, ctx)
	if err != nil {
		return types.Null, err
	}
	switch n.Op {
	case "-":
		if v.IsNull() {
			return types.Null, nil
		}
		switch v.Kind() {
		case types.KindInteger:
			return types.Integer(-v.Int()), nil
		case types.KindFloat:
			return types.Float(-v.Float64()), nil
		default:
			return types.Null, errors.NewTypeMismatch("cannot negate %s", v.Kind())
		}
	case "NOT":
		return types.Boolean(!types.AsBool(v)), nil
	default:
		return types.Null, errors.NewUnsupportedOperation("unknown unary operator %q", n.Op)
	}
}

func (ev *Evaluator) evalBinary(n *sqlparser.Binary, row Row, ctx Context) (types.Value, error) {
	switch n.Op {
	case "AND":
		left, err := ev.AsBool(n.Left, row, ctx)
		if err != nil {
			return types.Null, err
		}
		if !left {
			return types.Boolean(false), nil
		}
		right, err := ev.AsBool(n.Right, row, ctx)
		if err != nil {
			return types.Null, err
		}
		return types.Boolean(right), nil
	case "OR":
		left, err := ev.AsBool(n.Left, row, ctx)
		if err != nil {
			return types.Null, err
		}
		if left {
			return types.Boolean(true), nil
		}
		right, err := ev.AsBool(n.Right, row, ctx)
		if err != nil {
			return types.Null, err
		}
		return types.Boolean(right), nil
	}

	left, err := ev.Eval(n.Left, row, ctx)
	if err != nil {
		return types.Null, err
	}
	right, err := ev.Eval(n.Right, row, ctx)
	if err != nil {
		return types.Null, err
	}

	switch n.Op {
	case "=", "<>", "!=", "<", "<=", ">", ">=":
		return evalComparison(n.Op, left, right)
	case "+", "-", "*", "/", "%":
		return evalArithmetic(n.Op, left, right)
	case "->", "->>":
		return types.Null, errors.NewUnsupportedOperation("JSON operator %q requires a JSON-typed column, which this engine does not store", n.Op)
	default:
		return types.Null, errors.NewUnsupportedOperation("unknown binary operator %q", n.Op)
	}
}

func evalComparison(op string, left, right types.Value) (types.Value, error) {
	cmp, ok := types.Compare(left, right)
	if !ok {
		if left.IsNull() || right.IsNull() {
			return types.Null, nil
		}
		return types.Null, errors.NewTypeMismatch("cannot compare %s and %s", left.Kind(), right.Kind())
	}
	switch op {
	case "=":
		return types.Boolean(cmp == 0), nil
	case "<>", "!=":
		return types.Boolean(cmp != 0), nil
	case "<":
		return types.Boolean(cmp < 0), nil
	case "<=":
		return types.Boolean(cmp <= 0), nil
	case ">":
		return types.Boolean(cmp > 0), nil
	case ">=":
		return types.Boolean(cmp >= 0), nil
	default:
		return types.Null, errors.NewUnsupportedOperation("unknown comparison operator %q", op)
	}
}

// evalArithmetic implements spec §4.H's numeric rules: integer/integer
// stays integer (truncating division), any float operand promotes both
// to float, and division by zero is always an ExecutionError rather
// than infinity or NaN.
func evalArithmetic(op string, left, right types.Value) (types.Value, error) {
	if left.IsNull() || right.IsNull() {
		return types.Null, nil
	}
	if left.Kind() == types.KindText || right.Kind() == types.KindText || left.Kind() == types.KindBoolean || right.Kind() == types.KindBoolean {
		return types.Null, errors.NewTypeMismatch("cannot apply %q to %s and %s", op, left.Kind(), right.Kind())
	}

	bothInt := left.Kind() == types.KindInteger && right.Kind() == types.KindInteger
	if bothInt {
		a, b := left.Int(), right.Int()
		switch op {
		case "+":
			return types.Integer(a + b), nil
		case "-":
			return types.Integer(a - b), nil
		case "*":
			return types.Integer(a * b), nil
		case "/":
			if b == 0 {
				return types.Null, errors.NewExecutionError("division by zero")
			}
			return types.Integer(a / b), nil
		case "%":
			if b == 0 {
				return types.Null, errors.NewExecutionError("division by zero")
			}
			return types.Integer(a % b), nil
		}
	}

	a, b, err := types.CoerceNumeric(left, right)
	if err != nil {
		return types.Null, errors.NewTypeMismatch("%s", err)
	}
	af, bf := a.Float64(), b.Float64()
	switch op {
	case "+":
		return types.Float(af + bf), nil
	case "-":
		return types.Float(af - bf), nil
	case "*":
		return types.Float(af * bf), nil
	case "/":
		if bf == 0 {
			return types.Null, errors.NewExecutionError("division by zero")
		}
		return types.Float(af / bf), nil
	case "%":
		if bf == 0 {
			return types.Null, errors.NewExecutionError("division by zero")
		}
		return types.Float(math.Mod(af, bf)), nil
	default:
		return types.Null, errors.NewUnsupportedOperation("unknown arithmetic operator %q", op)
	}
}

func (ev *Evaluator) evalLike(n *sqlparser.Like, row Row, ctx Context) (types.Value, error) {
	v, err := ev.Eval(n.Expr, row, ctx)
	if err != nil {
		return types.Null, err
	}
	pattern, err := ev.Eval(n.Pattern, row, ctx)
	if err != nil {
		return types.Null, err
	}
	if v.IsNull() || pattern.IsNull() {
		return types.Null, nil
	}
	if v.Kind() != types.KindText || pattern.Kind() != types.KindText {
		return types.Null, errors.NewTypeMismatch("LIKE requires text operands, got %s and %s", v.Kind(), pattern.Kind())
	}
	matched := likeMatch(v.Text(), pattern.Text())
	if n.Negate {
		matched = !matched
	}
	return types.Boolean(matched), nil
}

// likeMatch implements SQL LIKE: '%' matches zero-or-more characters,
// '_' matches exactly one, '\' escapes the following pattern character.
// Matching is case-sensitive.
func likeMatch(s, pattern string) bool {
	return likeMatchRunes([]rune(s), []rune(pattern))
}

func likeMatchRunes(s, p []rune) bool {
	var si, pi int
	var starIdx = -1
	var starSi int
	for si < len(s) {
		switch {
		case pi < len(p) && p[pi] == '\\' && pi+1 < len(p):
			if si < len(s) && s[si] == p[pi+1] {
				si++
				pi += 2
				continue
			}
		case pi < len(p) && p[pi] == '_':
			si++
			pi++
			continue
		case pi < len(p) && p[pi] == '%':
			starIdx = pi
			starSi = si
			pi++
			continue
		case pi < len(p) && s[si] == p[pi]:
			si++
			pi++
			continue
		}
		if starIdx >= 0 {
			pi = starIdx + 1
			starSi++
			si = starSi
			continue
		}
		return false
	}
	for pi < len(p) && p[pi] == '%' {
		pi++
	}
	return pi == len(p)
}

func (ev *Evaluator) evalBetween(n *sqlparser.Between, row Row, ctx Context) (types.Value, error) {
	v, err := ev.Eval(n.Expr, row, ctx)
	if err != nil {
		return types.Null, err
	}
	lo, err := ev.Eval(n.Low, row, ctx)
	if err != nil {
		return types.Null, err
	}
	hi, err := ev.Eval(n.High, row, ctx)
	if err != nil {
		return types.Null, err
	}
	geLo, err := evalComparison(">=", v, lo)
	if err != nil {
		return types.Null, err
	}
	leHi, err := evalComparison("<=", v, hi)
	if err != nil {
		return types.Null, err
	}
	if geLo.IsNull() || leHi.IsNull() {
		return types.Null, nil
	}
	result := geLo.Bool() && leHi.Bool()
	if n.Negate {
		result = !result
	}
	return types.Boolean(result), nil
}

func (ev *Evaluator) evalIn(n *sqlparser.In, row Row, ctx Context) (types.Value, error) {
	v, err := ev.Eval(n.Expr, row, ctx)
	if err != nil {
		return types.Null, err
	}

	var candidates []types.Value
	if n.Subquery != nil {
		if ctx == nil {
			return types.Null, errors.NewUnsupportedOperation("IN subquery requires an execution context")
		}
		rows, err := ctx.ExecuteSubquery(n.Subquery)
		if err != nil {
			return types.Null, err
		}
		for _, r := range rows {
			for _, val := range r {
				candidates = append(candidates, val)
				break
			}
		}
	} else {
		for _, e := range n.List {
			val, err := ev.Eval(e, row, ctx)
			if err != nil {
				return types.Null, err
			}
			candidates = append(candidates, val)
		}
	}

	sawNull := v.IsNull()
	found := false
	for _, c := range candidates {
		eq, ok := types.Equal(v, c)
		if !ok {
			sawNull = sawNull || c.IsNull()
			continue
		}
		if eq {
			found = true
			break
		}
	}
	if found {
		return types.Boolean(!n.Negate), nil
	}
	if sawNull {
		return types.Null, nil
	}
	return types.Boolean(n.Negate), nil
}

func (ev *Evaluator) evalExists(n *sqlparser.Exists, row Row, ctx Context) (types.Value, error) {
	if ctx == nil {
		return types.Null, errors.NewUnsupportedOperation("EXISTS requires an execution context")
	}
	rows, err := ctx.ExecuteSubquery(n.Subquery)
	if err != nil {
		return types.Null, err
	}
	exists := len(rows) > 0
	if n.Negate {
		exists = !exists
	}
	return types.Boolean(exists), nil
}

func (ev *Evaluator) evalCase(n *sqlparser.CaseExpr, row Row, ctx Context) (types.Value, error) {
	for _, when := range n.Whens {
		ok, err := ev.AsBool(when.Cond, row, ctx)
		if err != nil {
			return types.Null, err
		}
		if ok {
			return ev.Eval(when.Then, row, ctx)
		}
	}
	if n.Else != nil {
		return ev.Eval(n.Else, row, ctx)
	}
	return types.Null, nil
}

func (ev *Evaluator) evalScalarSubquery(n *sqlparser.ScalarSubquery, row Row, ctx Context) (types.Value, error) {
	if ctx == nil {
		return types.Null, errors.NewUnsupportedOperation("scalar subquery requires an execution context")
	}
	rows, err := ctx.ExecuteSubquery(n.Subquery)
	if err != nil {
		return types.Null, err
	}
	if len(rows) == 0 {
		return types.Null, nil
	}
	if len(rows) > 1 {
		return types.Null, errors.NewExecutionError("scalar subquery returned more than one row")
	}
	for _, v := range rows[0] {
		return v, nil
	}
	return types.Null, nil
}

func (ev *Evaluator) evalFuncCall(n *sqlparser.FuncCall, row Row, ctx Context) (types.Value, error) {
	name := strings.ToUpper(n.Name)
	args := make([]types.Value, 0, len(n.Args))
	for _, a := range n.Args {
		if _, ok := a.(*sqlparser.Star); ok {
			continue
		}
		v, err := ev.Eval(a, row, ctx)
		if err != nil {
			return types.Null, err
		}
		args = append(args, v)
	}
	return ev.Registry.Call(name, args)
}
