// Package eval implements the expression evaluator spec §4.I describes:
// it operates on (expr, row, context) and returns a types.Value,
// dispatching function calls by uppercased name through an ordered
// registry of FuncEvaluators — the first one whose CanEvaluate matches
// performs the call, mirroring the "first converter whose can_handle
// returns true converts" plugin shape spec §4.F asks for in the parser
// and reused here for functions.
package eval

import (
	"github.com/maxBogovick/relmem/pkg/sqlparser"
	"github.com/maxBogovick/relmem/pkg/types"
)

// Row is a single evaluated tuple: column name (possibly qualified as
// "alias.column") to value. Table scans populate both the qualified and
// bare form of every column; when a join merges two rows whose bare
// names collide, the right-hand row's value wins. Ident resolution in
// Eval checks the exact name first, then falls back to the unqualified
// suffix.
type Row map[string]types.Value

// Get resolves an identifier against the row, trying the exact name
// first and then, for a qualified "t.col" reference, the bare column.
func (r Row) Get(name string) (types.Value, bool) {
	if v, ok := r[name]; ok {
		return v, true
	}
	if idx := lastDot(name); idx >= 0 {
		if v, ok := r[name[idx+1:]]; ok {
			return v, true
		}
	}
	return types.Null, false
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

// Context supplies the pieces of evaluator state that don't live on the
// row itself: running scalar/correlated subqueries (IN/EXISTS, scalar
// subquery expressions) against the enclosing transaction's snapshot,
// per spec §4.I ("no new snapshot").
type Context interface {
	// ExecuteSubquery runs a planned subquery and returns its result
	// rows using the caller's transaction/snapshot.
	ExecuteSubquery(query *sqlparser.SelectStatement) ([]Row, error)
}
