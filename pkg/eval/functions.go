package eval

import (
	"strings"
	"time"

	"github.com/maxBogovick/relmem/pkg/errors"
	"github.com/maxBogovick/relmem/pkg/types"
)

// FuncEvaluator is one entry of the scalar-function registry. CanEvaluate
// reports whether this evaluator handles the (already-uppercased) name;
// the registry walks its list in order and uses the first match, so a
// later-registered evaluator can never shadow an earlier one.
type FuncEvaluator interface {
	CanEvaluate(name string) bool
	Evaluate(name string, args []types.Value) (types.Value, error)
}

// Registry holds an ordered list of FuncEvaluators.
type Registry struct {
	evaluators []FuncEvaluator
}

// NewDefaultRegistry returns a Registry pre-populated with the scalar
// functions spec §4.F names: UPPER, LOWER, LENGTH, COALESCE, NOW.
func NewDefaultRegistry() *Registry {
	r := &Registry{}
	r.Register(scalarFuncs{})
	return r
}

// Register appends an evaluator to the end of the registry, so earlier
// registrations still take precedence for any name they both claim.
func (r *Registry) Register(e FuncEvaluator) {
	r.evaluators = append(r.evaluators, e)
}

// Call dispatches name (already uppercased by the caller) to the first
// registered evaluator that claims it.
func (r *Registry) Call(name string, args []types.Value) (types.Value, error) {
	for _, e := range r.evaluators {
		if e.CanEvaluate(name) {
			return e.Evaluate(name, args)
		}
	}
	return types.Null, errors.NewUnsupportedOperation("unknown function %s", name)
}

// scalarFuncs implements the built-in scalar function set.
type scalarFuncs struct{}

func (scalarFuncs) CanEvaluate(name string) bool {
	switch name {
	case "UPPER", "LOWER", "LENGTH", "COALESCE", "NOW":
		return true
	default:
		return false
	}
}

func (scalarFuncs) Evaluate(name string, args []types.Value) (types.Value, error) {
	switch name {
	case "UPPER":
		if err := requireArgs(name, args, 1); err != nil {
			return types.Null, err
		}
		if args[0].IsNull() {
			return types.Null, nil
		}
		return types.Text(strings.ToUpper(args[0].Text())), nil
	case "LOWER":
		if err := requireArgs(name, args, 1); err != nil {
			return types.Null, err
		}
		if args[0].IsNull() {
			return types.Null, nil
		}
		return types.Text(strings.ToLower(args[0].Text())), nil
	case "LENGTH":
		if err := requireArgs(name, args, 1); err != nil {
			return types.Null, err
		}
		if args[0].IsNull() {
			return types.Null, nil
		}
		return types.Integer(int64(len(args[0].Text()))), nil
	case "COALESCE":
		for _, a := range args {
			if !a.IsNull() {
				return a, nil
			}
		}
		return types.Null, nil
	case "NOW":
		return types.FromTime(time.Now()), nil
	default:
		return types.Null, errors.NewUnsupportedOperation("unknown function %s", name)
	}
}

func requireArgs(name string, args []types.Value, n int) error {
	if len(args) != n {
		return errors.NewExecutionError("%s expects %d argument(s), got %d", name, n, len(args))
	}
	return nil
}
