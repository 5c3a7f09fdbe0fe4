package persist

import (
	"github.com/maxBogovick/relmem/pkg/exec"
	"github.com/maxBogovick/relmem/pkg/sqlparser"
	"github.com/maxBogovick/relmem/pkg/storage"
)

// DomainHandle is the plain-table sibling of AutonomousAggregate: a
// typed CRUD handle with no version column, no optimistic CAS, no
// audit/outbox/idempotency tables — just a model stored one
// bson-encoded row per id. Use this when a type needs durable storage
// but none of AutonomousAggregate's command/versioning machinery.
type DomainHandle[T any] struct {
	name    string
	session *exec.Session
}

// OpenDomainHandle bootstraps (if absent) a two-column table —
// persist_id, state_data — and returns a handle bound to it.
func OpenDomainHandle[T any](session *exec.Session, name string) (*DomainHandle[T], error) {
	if err := ensureTable(session, name, []sqlparser.ColumnDef{
		{Name: "persist_id", Type: "TEXT", Primary: true},
		{Name: "state_data", Type: "TEXT", Nullable: true},
	}); err != nil {
		return nil, err
	}
	return &DomainHandle[T]{name: name, session: session}, nil
}

// Put inserts a new row under a freshly generated id and returns it.
func (d *DomainHandle[T]) Put(value T) (string, error) {
	encoded, err := encodeState(value)
	if err != nil {
		return "", newDomainError(DomainInternal, "encode state", err)
	}
	id := storage.GenerateKey()
	_, err = d.session.ExecuteStatement(&sqlparser.InsertStatement{
		Table:   d.name,
		Columns: []string{"persist_id", "state_data"},
		Values:  [][]sqlparser.Expr{{lit(id), lit(encoded)}},
	})
	if err != nil {
		kind := ClassifyConflict(err)
		return "", newDomainError(domainKindOf(kind), "put", err)
	}
	return id, nil
}

// Get loads the value stored under id.
func (d *DomainHandle[T]) Get(id string) (T, error) {
	var zero T
	res, err := d.session.ExecuteStatement(&sqlparser.SelectStatement{
		Columns: []sqlparser.SelectItem{{Expr: &sqlparser.Star{}}},
		From:    &sqlparser.TableRef{Name: d.name},
		Where:   eq("persist_id", id),
	})
	if err != nil {
		return zero, newDomainError(DomainInternal, "get", err)
	}
	if len(res.Rows) == 0 {
		return zero, newDomainError(DomainNotFound, "domain value "+id+" not found", nil)
	}
	for i, col := range res.Columns {
		if col == "state_data" && !res.Rows[0][i].IsNull() {
			if err := decodeState(res.Rows[0][i].Text(), &zero); err != nil {
				return zero, newDomainError(DomainInternal, "decode state", err)
			}
			return zero, nil
		}
	}
	return zero, newDomainError(DomainInternal, "state_data column missing", nil)
}

// List returns every stored value, in no particular order.
func (d *DomainHandle[T]) List() ([]T, error) {
	res, err := d.session.ExecuteStatement(&sqlparser.SelectStatement{
		Columns: []sqlparser.SelectItem{{Expr: &sqlparser.Star{}}},
		From:    &sqlparser.TableRef{Name: d.name},
	})
	if err != nil {
		return nil, newDomainError(DomainInternal, "list", err)
	}
	return decodeRows[T](res)
}

// Delete removes the row stored under id outright (no tombstone — a
// DomainHandle has no audit trail to preserve history for).
func (d *DomainHandle[T]) Delete(id string) error {
	res, err := d.session.ExecuteStatement(&sqlparser.DeleteStatement{
		Table: d.name,
		Where: eq("persist_id", id),
	})
	if err != nil {
		return newDomainError(DomainInternal, "delete", err)
	}
	if res.AffectedRows == 0 {
		return newDomainError(DomainNotFound, "domain value "+id+" not found", nil)
	}
	return nil
}
