package persist

import (
	"github.com/maxBogovick/relmem/pkg/sqlparser"
)

// IdempotentResult is the replayed response the layer stores for a
// scope_key (spec §4.J "Idempotency"). Response is an opaque,
// caller-chosen encoding (typically a JSON string); the layer never
// interprets it, only stores and replays it.
type IdempotentResult struct {
	Response string
	Replayed bool
}

func scopeKey(aggregateID, operation, idempotencyKey string) string {
	return aggregateID + ":" + operation + ":" + idempotencyKey
}

// checkIdempotent looks up scope_key; if present, the caller should
// skip re-running its reducer and just replay the stored response.
func (a *AutonomousAggregate[T, D, P, C]) checkIdempotent(scope string) (string, bool, error) {
	res, err := a.session.ExecuteStatement(&sqlparser.SelectStatement{
		Columns: []sqlparser.SelectItem{{Expr: &sqlparser.Star{}}},
		From:    &sqlparser.TableRef{Name: receiptTable(a.name)},
		Where:   eq("scope_key", scope),
	})
	if err != nil {
		return "", false, err
	}
	if len(res.Rows) == 0 {
		return "", false, nil
	}
	for i, c := range res.Columns {
		if c == "response" {
			if res.Rows[0][i].IsNull() {
				return "", true, nil
			}
			return res.Rows[0][i].Text(), true, nil
		}
	}
	return "", true, nil
}

func (a *AutonomousAggregate[T, D, P, C]) storeIdempotent(scope, response string) error {
	_, err := a.session.ExecuteStatement(&sqlparser.InsertStatement{
		Table:   receiptTable(a.name),
		Columns: []string{"scope_key", "response", "created_at"},
		Values:  [][]sqlparser.Expr{{lit(scope), lit(response), lit(nowMillis())}},
	})
	return err
}

// WithIdempotencyKey wraps a command endpoint invocation: {scope_key:
// aggregateID:operation:key, response} is checked first, and a
// duplicate key replays the stored response without re-running fn
// (spec §4.J "Idempotency", invariant 7 "Idempotent commands"). fn
// should return the response encoding the caller wants replayed on a
// duplicate call.
func (a *AutonomousAggregate[T, D, P, C]) WithIdempotencyKey(aggregateID, operation, idempotencyKey string, fn func() (string, error)) (IdempotentResult, error) {
	scope := scopeKey(aggregateID, operation, idempotencyKey)
	if response, found, err := a.checkIdempotent(scope); err != nil {
		return IdempotentResult{}, newDomainError(DomainInternal, "idempotency lookup", err)
	} else if found {
		return IdempotentResult{Response: response, Replayed: true}, nil
	}
	response, err := fn()
	if err != nil {
		return IdempotentResult{}, err
	}
	if err := a.storeIdempotent(scope, response); err != nil {
		return IdempotentResult{}, newDomainError(DomainInternal, "idempotency store", err)
	}
	return IdempotentResult{Response: response, Replayed: false}, nil
}
