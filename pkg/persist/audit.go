package persist

import (
	"github.com/maxBogovick/relmem/pkg/exec"
	"github.com/maxBogovick/relmem/pkg/sqlparser"
	"github.com/maxBogovick/relmem/pkg/storage"
)

// AuditEntry is one row of an aggregate's sibling `<name>__audits`
// table (spec §4.J "Audit"): every successful command appends one of
// these in the same engine transaction as the state change.
type AuditEntry struct {
	ID             string
	TargetID       string
	Operation      string
	VersionBefore  *uint64
	VersionAfter   *uint64
	Timestamp      int64
	PayloadSummary string
}

// appendAudit inserts one audit row. Callers always invoke this inside
// an already-open Session transaction (Begin has been called), so the
// insert lands in the same commit as the state mutation it describes.
func (a *AutonomousAggregate[T, D, P, C]) appendAudit(targetID, operation string, before, after *uint64, payloadSummary string) error {
	var beforeVal, afterVal any
	if before != nil {
		beforeVal = int64(*before)
	}
	if after != nil {
		afterVal = int64(*after)
	}
	_, err := a.session.ExecuteStatement(&sqlparser.InsertStatement{
		Table:   auditTable(a.name),
		Columns: []string{"id", "target_id", "operation", "version_before", "version_after", "ts", "payload_summary"},
		Values: [][]sqlparser.Expr{{
			lit(storage.GenerateKey()),
			lit(targetID),
			lit(operation),
			lit(beforeVal),
			lit(afterVal),
			lit(nowMillis()),
			lit(payloadSummary),
		}},
	})
	return err
}

// AuditTrail returns every audit row for one target aggregate, ordered
// by version (spec §5 "Aggregate audit rows for the same persist_id
// are ordered by version").
func (a *AutonomousAggregate[T, D, P, C]) AuditTrail(targetID string) ([]AuditEntry, error) {
	res, err := a.session.ExecuteStatement(&sqlparser.SelectStatement{
		Columns: []sqlparser.SelectItem{{Expr: &sqlparser.Star{}}},
		From:    &sqlparser.TableRef{Name: auditTable(a.name)},
		Where:   eq("target_id", targetID),
		OrderBy: []sqlparser.OrderByItem{{Expr: ident("version_after")}},
	})
	if err != nil {
		return nil, newDomainError(DomainInternal, "audit_trail", err)
	}
	return decodeAuditRows(res)
}

func decodeAuditRows(res *exec.QueryResult) ([]AuditEntry, error) {
	idxOf := make(map[string]int, len(res.Columns))
	for i, c := range res.Columns {
		idxOf[c] = i
	}
	out := make([]AuditEntry, 0, len(res.Rows))
	for _, row := range res.Rows {
		e := AuditEntry{}
		if i, ok := idxOf["id"]; ok {
			e.ID = row[i].Text()
		}
		if i, ok := idxOf["target_id"]; ok {
			e.TargetID = row[i].Text()
		}
		if i, ok := idxOf["operation"]; ok {
			e.Operation = row[i].Text()
		}
		if i, ok := idxOf["version_before"]; ok && !row[i].IsNull() {
			v := uint64(row[i].Int())
			e.VersionBefore = &v
		}
		if i, ok := idxOf["version_after"]; ok && !row[i].IsNull() {
			v := uint64(row[i].Int())
			e.VersionAfter = &v
		}
		if i, ok := idxOf["ts"]; ok {
			e.Timestamp = row[i].Int()
		}
		if i, ok := idxOf["payload_summary"]; ok && !row[i].IsNull() {
			e.PayloadSummary = row[i].Text()
		}
		out = append(out, e)
	}
	return out, nil
}
