package persist

import (
	"sort"
	"time"

	"github.com/maxBogovick/relmem/pkg/exec"
	"github.com/maxBogovick/relmem/pkg/sqlparser"
	"github.com/maxBogovick/relmem/pkg/storage"
)

// Reducers bundles the three deterministic mutation shapes spec §4.J
// names: a constructor from a Draft, a partial update from a Patch, and
// an explicit domain event applied via Command. All three must be pure
// functions of (old state, input) — apply() relies on being able to
// call them speculatively and retry.
type Reducers[T, D, P, C any] struct {
	FromDraft func(D) (T, error)
	Patch     func(T, P) (T, error)
	Apply     func(T, C) (T, error)
}

// IntentMapper maps a business intent name to the Command it
// represents, the "derived mapping" spec §4.J's intent()/intent_many()
// operations consult.
type IntentMapper[C any] func(intent string) (C, error)

// AutonomousAggregate is the runtime façade over one logical collection
// of aggregates (spec §4.J), one state row per aggregate plus its
// sibling audit/outbox/idempotency tables.
type AutonomousAggregate[T, D, P, C any] struct {
	name     string
	session  *exec.Session
	reducers Reducers[T, D, P, C]
	intents  IntentMapper[C]
	retry    RetryPolicy
}

func stateTable(name string) string    { return name }
func auditTable(name string) string    { return name + "__audits" }
func outboxTable(name string) string   { return name + "__outbox" }
func receiptTable(name string) string  { return name + "__idempotency" }

// OpenAggregate bootstraps (if absent) the state table and its three
// sibling tables — audits, outbox, idempotency receipts — and returns a
// façade bound to them. intents may be nil if the caller never uses
// intent()/intent_many().
func OpenAggregate[T, D, P, C any](session *exec.Session, name string, reducers Reducers[T, D, P, C], intents IntentMapper[C], retry RetryPolicy) (*AutonomousAggregate[T, D, P, C], error) {
	if err := ensureTable(session, stateTable(name), []sqlparser.ColumnDef{
		{Name: "persist_id", Type: "TEXT", Primary: true},
		{Name: "version", Type: "INT"},
		{Name: "tombstoned", Type: "BOOLEAN", Default: &sqlparser.Literal{Val: false}},
		{Name: "state_data", Type: "TEXT", Nullable: true},
	}); err != nil {
		return nil, err
	}
	if err := ensureTable(session, auditTable(name), []sqlparser.ColumnDef{
		{Name: "id", Type: "TEXT", Primary: true},
		{Name: "target_id", Type: "TEXT"},
		{Name: "operation", Type: "TEXT"},
		{Name: "version_before", Type: "INT", Nullable: true},
		{Name: "version_after", Type: "INT", Nullable: true},
		{Name: "ts", Type: "INT"},
		{Name: "payload_summary", Type: "TEXT", Nullable: true},
	}); err != nil {
		return nil, err
	}
	if err := ensureTable(session, outboxTable(name), []sqlparser.ColumnDef{
		{Name: "id", Type: "TEXT", Primary: true},
		{Name: "aggregate_id", Type: "TEXT"},
		{Name: "kind", Type: "TEXT"},
		{Name: "payload", Type: "TEXT", Nullable: true},
		{Name: "dispatched", Type: "BOOLEAN", Default: &sqlparser.Literal{Val: false}},
		{Name: "created_at", Type: "INT"},
	}); err != nil {
		return nil, err
	}
	if err := ensureTable(session, receiptTable(name), []sqlparser.ColumnDef{
		{Name: "scope_key", Type: "TEXT", Primary: true},
		{Name: "response", Type: "TEXT", Nullable: true},
		{Name: "created_at", Type: "INT"},
	}); err != nil {
		return nil, err
	}
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy
	}
	return &AutonomousAggregate[T, D, P, C]{name: name, session: session, reducers: reducers, intents: intents, retry: retry}, nil
}

// ensureTable is idempotent: CREATE TABLE IF NOT EXISTS isn't in the
// grammar, so this checks the catalog directly and skips creation when
// the table (and hence its sibling tables, since they're always
// bootstrapped together) already exists.
func ensureTable(session *exec.Session, name string, cols []sqlparser.ColumnDef) error {
	if session.Catalog.Contains(name) {
		return nil
	}
	_, err := session.ExecuteStatement(&sqlparser.CreateTableStatement{Name: name, Columns: cols})
	return err
}

func ident(name string) *sqlparser.Ident   { return &sqlparser.Ident{Name: name} }
func lit(v any) *sqlparser.Literal         { return &sqlparser.Literal{Val: v} }
func eq(col string, v any) *sqlparser.Binary {
	return &sqlparser.Binary{Op: "=", Left: ident(col), Right: lit(v)}
}
func and(exprs ...sqlparser.Expr) sqlparser.Expr {
	if len(exprs) == 0 {
		return nil
	}
	out := exprs[0]
	for _, e := range exprs[1:] {
		out = &sqlparser.Binary{Op: "AND", Left: out, Right: e}
	}
	return out
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// row fetched by persist_id: (version, tombstoned, state_data, found).
func (a *AutonomousAggregate[T, D, P, C]) fetchRaw(id string) (uint64, bool, string, bool, error) {
	res, err := a.session.ExecuteStatement(&sqlparser.SelectStatement{
		Columns: []sqlparser.SelectItem{{Expr: &sqlparser.Star{}}},
		From:    &sqlparser.TableRef{Name: stateTable(a.name)},
		Where:   eq("persist_id", id),
	})
	if err != nil {
		return 0, false, "", false, err
	}
	if len(res.Rows) == 0 {
		return 0, false, "", false, nil
	}
	row := res.Rows[0]
	var version uint64
	var tombstoned bool
	var stateData string
	for i, col := range res.Columns {
		switch col {
		case "version":
			version = uint64(row[i].Int())
		case "tombstoned":
			tombstoned = row[i].Bool()
		case "state_data":
			if !row[i].IsNull() {
				stateData = row[i].Text()
			}
		}
	}
	return version, tombstoned, stateData, true, nil
}

// GetOne loads a live aggregate by id (spec §4.J get_one).
func (a *AutonomousAggregate[T, D, P, C]) GetOne(id string) (T, uint64, error) {
	var zero T
	version, tombstoned, stateData, found, err := a.fetchRaw(id)
	if err != nil {
		return zero, 0, newDomainError(DomainInternal, "get_one", err)
	}
	if !found || tombstoned {
		return zero, 0, newDomainError(DomainNotFound, "aggregate "+id+" not found", nil)
	}
	var state T
	if err := decodeState(stateData, &state); err != nil {
		return zero, 0, newDomainError(DomainInternal, "decode state", err)
	}
	return state, version, nil
}

// List returns every live (non-tombstoned) aggregate (spec §4.J list()).
func (a *AutonomousAggregate[T, D, P, C]) List() ([]T, error) {
	res, err := a.session.ExecuteStatement(&sqlparser.SelectStatement{
		Columns: []sqlparser.SelectItem{{Expr: &sqlparser.Star{}}},
		From:    &sqlparser.TableRef{Name: stateTable(a.name)},
		Where:   eq("tombstoned", false),
	})
	if err != nil {
		return nil, newDomainError(DomainInternal, "list", err)
	}
	return decodeRows[T](res)
}

// ListPage returns a LIMIT/OFFSET page of live aggregates (spec §4.J
// list_page).
func (a *AutonomousAggregate[T, D, P, C]) ListPage(offset, limit int64) ([]T, error) {
	res, err := a.session.ExecuteStatement(&sqlparser.SelectStatement{
		Columns: []sqlparser.SelectItem{{Expr: &sqlparser.Star{}}},
		From:    &sqlparser.TableRef{Name: stateTable(a.name)},
		Where:   eq("tombstoned", false),
		Limit:   &limit,
		Offset:  &offset,
	})
	if err != nil {
		return nil, newDomainError(DomainInternal, "list_page", err)
	}
	return decodeRows[T](res)
}

// FindFirst scans live aggregates and returns the first one pred
// accepts (spec §4.J find_first), or DomainNotFound if none match.
func (a *AutonomousAggregate[T, D, P, C]) FindFirst(pred func(T) bool) (T, error) {
	var zero T
	all, err := a.List()
	if err != nil {
		return zero, err
	}
	for _, v := range all {
		if pred(v) {
			return v, nil
		}
	}
	return zero, newDomainError(DomainNotFound, "no aggregate matched predicate", nil)
}

// QueryPageFilteredSorted applies filter then comparator-based sort
// in-process before paginating (spec §4.J query_page_filtered_sorted);
// the engine's own WHERE/ORDER BY only understand SQL-literal
// predicates, not arbitrary Go closures over a decoded aggregate.
func (a *AutonomousAggregate[T, D, P, C]) QueryPageFilteredSorted(page, perPage int, filter func(T) bool, less func(a, b T) bool) ([]T, error) {
	all, err := a.List()
	if err != nil {
		return nil, err
	}
	filtered := all[:0:0]
	for _, v := range all {
		if filter == nil || filter(v) {
			filtered = append(filtered, v)
		}
	}
	if less != nil {
		sort.SliceStable(filtered, func(i, j int) bool { return less(filtered[i], filtered[j]) })
	}
	start := page * perPage
	if start >= len(filtered) {
		return nil, nil
	}
	end := start + perPage
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[start:end], nil
}

func decodeRows[T any](res *exec.QueryResult) ([]T, error) {
	idx := -1
	for i, c := range res.Columns {
		if c == "state_data" {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, nil
	}
	out := make([]T, 0, len(res.Rows))
	for _, row := range res.Rows {
		if row[idx].IsNull() {
			continue
		}
		var v T
		if err := decodeState(row[idx].Text(), &v); err != nil {
			return nil, newDomainError(DomainInternal, "decode state", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// CreateOne constructs a new aggregate from a Draft (spec §4.J
// create_one): runs FromDraft, inserts version 1, and appends the
// creation audit row in the same transaction.
func (a *AutonomousAggregate[T, D, P, C]) CreateOne(draft D) (string, T, error) {
	var zero T
	state, err := a.reducers.FromDraft(draft)
	if err != nil {
		return "", zero, newDomainError(DomainValidation, "from_draft", err)
	}
	encoded, err := encodeState(state)
	if err != nil {
		return "", zero, newDomainError(DomainInternal, "encode state", err)
	}
	id := storage.GenerateKey()

	if err := a.session.Begin(); err != nil {
		return "", zero, newDomainError(DomainInternal, "begin txn", err)
	}
	commit := func() error { return a.session.Commit() }
	abort := func() { _ = a.session.Rollback() }

	_, err = a.session.ExecuteStatement(&sqlparser.InsertStatement{
		Table:   stateTable(a.name),
		Columns: []string{"persist_id", "version", "tombstoned", "state_data"},
		Values:  [][]sqlparser.Expr{{lit(id), lit(int64(1)), lit(false), lit(encoded)}},
	})
	if err != nil {
		abort()
		kind := ClassifyConflict(err)
		return "", zero, newDomainError(domainKindOf(kind), "create_one", err)
	}
	if err := a.appendAudit(id, "create", nil, uint64Ptr(1), encoded); err != nil {
		abort()
		return "", zero, newDomainError(DomainInternal, "append audit", err)
	}
	if err := commit(); err != nil {
		abort()
		return "", zero, newDomainError(DomainInternal, "commit create_one", err)
	}
	return id, state, nil
}

func uint64Ptr(v uint64) *uint64 { return &v }

// applyCAS runs the read-mutate-write optimistic concurrency protocol
// of spec §4.J verbatim: read v0, optionally check it against an
// explicit expectedVersion, run the reducer, then
// `UPDATE ... SET state=new, version=v0+1 WHERE persist_id=id AND
// version=v0` — zero rows affected means someone else won the race.
// Engine write-write conflicts are retried per a.retry; the business
// optimistic-lock conflict from the expectedVersion check is not.
func (a *AutonomousAggregate[T, D, P, C]) applyCAS(id string, expectedVersion *uint64, operation string, mutate func(T) (T, error)) (uint64, T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < a.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(a.retry.backoff(attempt))
		}
		v0, tombstoned, stateData, found, err := a.fetchRaw(id)
		if err != nil {
			return 0, zero, newDomainError(DomainInternal, operation, err)
		}
		if !found || tombstoned {
			return 0, zero, newDomainError(DomainNotFound, "aggregate "+id+" not found", nil)
		}
		if expectedVersion != nil && *expectedVersion != v0 {
			return 0, zero, newDomainError(DomainConflictConcurrent, "expected version does not match current version", nil)
		}
		var oldState T
		if err := decodeState(stateData, &oldState); err != nil {
			return 0, zero, newDomainError(DomainInternal, "decode state", err)
		}
		newState, err := mutate(oldState)
		if err != nil {
			return 0, zero, newDomainError(DomainValidation, operation, err)
		}
		encoded, err := encodeState(newState)
		if err != nil {
			return 0, zero, newDomainError(DomainInternal, "encode state", err)
		}

		if err := a.session.Begin(); err != nil {
			return 0, zero, newDomainError(DomainInternal, "begin txn", err)
		}
		res, err := a.session.ExecuteStatement(&sqlparser.UpdateStatement{
			Table: stateTable(a.name),
			Set: []sqlparser.Assignment{
				{Column: "version", Value: lit(int64(v0 + 1))},
				{Column: "state_data", Value: lit(encoded)},
			},
			Where: and(eq("persist_id", id), eq("version", int64(v0))),
		})
		if err != nil {
			_ = a.session.Rollback()
			return 0, zero, newDomainError(DomainInternal, operation, err)
		}
		if res.AffectedRows == 0 {
			_ = a.session.Rollback()
			lastErr = newDomainError(DomainConflictConcurrent, "version changed concurrently", nil)
			continue
		}
		if err := a.appendAudit(id, operation, uint64Ptr(v0), uint64Ptr(v0+1), encoded); err != nil {
			_ = a.session.Rollback()
			return 0, zero, newDomainError(DomainInternal, "append audit", err)
		}
		if err := a.session.Commit(); err != nil {
			_ = a.session.Rollback()
			lastErr = newDomainError(DomainInternal, "commit "+operation, err)
			continue
		}
		return v0 + 1, newState, nil
	}
	return 0, zero, lastErr
}

// Intent maps a business intent string to a Command via the
// aggregate's IntentMapper and applies it (spec §4.J intent()).
func (a *AutonomousAggregate[T, D, P, C]) Intent(id string, intent string, expectedVersion *uint64) (uint64, T, error) {
	var zero T
	if a.intents == nil {
		return 0, zero, newDomainError(DomainInternal, "no intent mapper configured", nil)
	}
	cmd, err := a.intents(intent)
	if err != nil {
		return 0, zero, newDomainError(DomainValidation, "unmapped intent "+intent, err)
	}
	return a.applyCAS(id, expectedVersion, "intent:"+intent, func(state T) (T, error) {
		return a.reducers.Apply(state, cmd)
	})
}

// IntentMany applies the same business intent to many aggregate ids in
// sequence (spec §4.J intent_many()); a failure on one id does not roll
// back ids already applied, each is its own CAS transaction.
func (a *AutonomousAggregate[T, D, P, C]) IntentMany(ids []string, intent string) (map[string]uint64, map[string]error) {
	versions := make(map[string]uint64, len(ids))
	failures := make(map[string]error)
	for _, id := range ids {
		v, _, err := a.Intent(id, intent, nil)
		if err != nil {
			failures[id] = err
			continue
		}
		versions[id] = v
	}
	return versions, failures
}

// Apply runs an explicit Command through the reducer (the
// lower-level sibling of Intent when the caller already has a
// Command value rather than a business-intent string).
func (a *AutonomousAggregate[T, D, P, C]) Apply(id string, cmd C, expectedVersion *uint64) (uint64, T, error) {
	return a.applyCAS(id, expectedVersion, "apply", func(state T) (T, error) {
		return a.reducers.Apply(state, cmd)
	})
}

// Patch applies a partial field update (spec §4.J patch()/patch_one).
func (a *AutonomousAggregate[T, D, P, C]) Patch(id string, patch P, expectedVersion *uint64) (uint64, T, error) {
	return a.applyCAS(id, expectedVersion, "patch", func(state T) (T, error) {
		return a.reducers.Patch(state, patch)
	})
}

// PatchOne is an alias matching the spec's patch_one naming for a
// single-aggregate patch (identical to Patch; kept distinct since the
// spec names both operations explicitly).
func (a *AutonomousAggregate[T, D, P, C]) PatchOne(id string, patch P) (uint64, T, error) {
	return a.Patch(id, patch, nil)
}

// Remove soft-deletes an aggregate via tombstone (spec §4.J
// remove()/remove_one()): the row is set tombstoned=true rather than
// deleted, so it stays invisible to get_one/list but remains in the
// audit stream until a future vacuum collects it.
func (a *AutonomousAggregate[T, D, P, C]) Remove(id string) error {
	if err := a.session.Begin(); err != nil {
		return newDomainError(DomainInternal, "begin txn", err)
	}
	res, err := a.session.ExecuteStatement(&sqlparser.UpdateStatement{
		Table: stateTable(a.name),
		Set:   []sqlparser.Assignment{{Column: "tombstoned", Value: lit(true)}},
		Where: and(eq("persist_id", id), eq("tombstoned", false)),
	})
	if err != nil {
		_ = a.session.Rollback()
		return newDomainError(DomainInternal, "remove", err)
	}
	if res.AffectedRows == 0 {
		_ = a.session.Rollback()
		return newDomainError(DomainNotFound, "aggregate "+id+" not found", nil)
	}
	if err := a.appendAudit(id, "remove", nil, nil, ""); err != nil {
		_ = a.session.Rollback()
		return newDomainError(DomainInternal, "append audit", err)
	}
	if err := a.session.Commit(); err != nil {
		_ = a.session.Rollback()
		return newDomainError(DomainInternal, "commit remove", err)
	}
	return nil
}

// RemoveOne is the spec's remove_one() naming, identical to Remove.
func (a *AutonomousAggregate[T, D, P, C]) RemoveOne(id string) error { return a.Remove(id) }

// MutateOneWith runs a load-mutate-save closure, preserving a
// BusinessError the closure returns distinctly from an infrastructure
// error (spec §4.J mutate_one_with) — fn's error, if any, is wrapped as
// DomainValidation rather than DomainInternal, so a caller can tell
// "my closure rejected this" from "the engine broke".
func (a *AutonomousAggregate[T, D, P, C]) MutateOneWith(id string, fn func(T) (T, error)) (uint64, T, error) {
	return a.applyCAS(id, nil, "mutate_one_with", fn)
}

// WorkflowWithCreate runs a cross-collection workflow atomically
// (spec §4.J workflow_with_create): workflow receives this aggregate's
// current state and a createDraft callback that creates aggregates in
// other; every such create shares one engine transaction, and if
// workflow returns an error the transaction rolls back and none of the
// creates persist. This aggregate's own row is only read: the workflow
// is given no way to update it.
func WorkflowWithCreate[T, D, P, C, OT, OD, OP, OC any](
	self *AutonomousAggregate[T, D, P, C],
	other *AutonomousAggregate[OT, OD, OP, OC],
	id string,
	workflow func(selfState T, createDraft func(OD) (string, OT, error)) error,
) error {
	if self.session != other.session {
		return newDomainError(DomainInternal, "workflow_with_create requires aggregates sharing one session", nil)
	}
	v0, tombstoned, stateData, found, err := self.fetchRaw(id)
	if err != nil {
		return newDomainError(DomainInternal, "workflow_with_create", err)
	}
	if !found || tombstoned {
		return newDomainError(DomainNotFound, "aggregate "+id+" not found", nil)
	}
	var state T
	if err := decodeState(stateData, &state); err != nil {
		return newDomainError(DomainInternal, "decode state", err)
	}

	if err := self.session.Begin(); err != nil {
		return newDomainError(DomainInternal, "begin txn", err)
	}
	rollback := func() { _ = self.session.Rollback() }

	var workflowErr error
	createDraft := func(draft OD) (string, OT, error) {
		otherState, ferr := other.reducers.FromDraft(draft)
		if ferr != nil {
			workflowErr = ferr
			var zero OT
			return "", zero, ferr
		}
		encoded, eerr := encodeState(otherState)
		if eerr != nil {
			workflowErr = eerr
			var zero OT
			return "", zero, eerr
		}
		otherID := storage.GenerateKey()
		_, ierr := other.session.ExecuteStatement(&sqlparser.InsertStatement{
			Table:   stateTable(other.name),
			Columns: []string{"persist_id", "version", "tombstoned", "state_data"},
			Values:  [][]sqlparser.Expr{{lit(otherID), lit(int64(1)), lit(false), lit(encoded)}},
		})
		if ierr != nil {
			workflowErr = ierr
			var zero OT
			return "", zero, ierr
		}
		if aerr := other.appendAudit(otherID, "create", nil, uint64Ptr(1), encoded); aerr != nil {
			workflowErr = aerr
			var zero OT
			return "", zero, aerr
		}
		return otherID, otherState, nil
	}

	if err := workflow(state, createDraft); err != nil {
		rollback()
		return newDomainError(DomainValidation, "workflow_with_create", err)
	}
	if workflowErr != nil {
		rollback()
		return newDomainError(DomainInternal, "workflow_with_create", workflowErr)
	}
	if err := self.session.Commit(); err != nil {
		rollback()
		return newDomainError(DomainInternal, "commit workflow_with_create", err)
	}
	return nil
}
