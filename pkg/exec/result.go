// Package exec dispatches parsed statements to executors through a
// chain-of-responsibility pipeline (spec §4.H): DDL, Insert, Update,
// Delete, Query, and Begin/Commit/Rollback each own their slice of the
// statement space, bound to a Session that carries the engine handle,
// the active transaction (if any), and an implicit fallback when the
// caller never opened one explicitly.
package exec

import "github.com/maxBogovick/relmem/pkg/types"

// QueryResult is the uniform shape every statement returns: Columns and
// Rows for a SELECT, AffectedRows for INSERT/UPDATE/DELETE.
type QueryResult struct {
	Columns      []string
	Rows         [][]types.Value
	AffectedRows int64
}
