package persist

import (
	"github.com/maxBogovick/relmem/pkg/errors"
	"github.com/maxBogovick/relmem/pkg/exec"
	"github.com/maxBogovick/relmem/pkg/sqlparser"
)

const schemaVersionsTable = "schema_versions"

// PersistMigrationStep is one ordered step of a PersistMigrationPlan
// (spec §4.J "Migration"): From/To are schema_version numbers; SQL, if
// non-empty, is executed against the session; StateFn, if non-nil, is
// applied to every row's decoded state map (for migrations that can't
// be expressed as plain SQL, e.g. reshaping a nested field).
type PersistMigrationStep struct {
	From    int
	To      int
	SQL     string
	StateFn func(map[string]any) (map[string]any, error)
}

// PersistMigrationPlan is an ordered sequence of steps for one table.
// Run reads the table's current_schema_version from the
// schema_versions table, applies every step whose From matches the
// current version in order, and fails fast on an unhandled gap (a step
// whose From doesn't match any reachable version).
type PersistMigrationPlan struct {
	Table string
	Steps []PersistMigrationStep
}

func ensureSchemaVersionsTable(session *exec.Session) error {
	if session.Catalog.Contains(schemaVersionsTable) {
		return nil
	}
	_, err := session.ExecuteStatement(&sqlparser.CreateTableStatement{
		Name: schemaVersionsTable,
		Columns: []sqlparser.ColumnDef{
			{Name: "table_name", Type: "TEXT", Primary: true},
			{Name: "current_schema_version", Type: "INT"},
		},
	})
	return err
}

func currentSchemaVersion(session *exec.Session, table string) (int, bool, error) {
	res, err := session.ExecuteStatement(&sqlparser.SelectStatement{
		Columns: []sqlparser.SelectItem{{Expr: &sqlparser.Star{}}},
		From:    &sqlparser.TableRef{Name: schemaVersionsTable},
		Where:   eq("table_name", table),
	})
	if err != nil {
		return 0, false, err
	}
	if len(res.Rows) == 0 {
		return 0, false, nil
	}
	for i, c := range res.Columns {
		if c == "current_schema_version" {
			return int(res.Rows[0][i].Int()), true, nil
		}
	}
	return 0, false, nil
}

func setSchemaVersion(session *exec.Session, table string, version int) error {
	_, found, err := currentSchemaVersion(session, table)
	if err != nil {
		return err
	}
	if found {
		_, err = session.ExecuteStatement(&sqlparser.UpdateStatement{
			Table: schemaVersionsTable,
			Set:   []sqlparser.Assignment{{Column: "current_schema_version", Value: lit(int64(version))}},
			Where: eq("table_name", table),
		})
		return err
	}
	_, err = session.ExecuteStatement(&sqlparser.InsertStatement{
		Table:   schemaVersionsTable,
		Columns: []string{"table_name", "current_schema_version"},
		Values:  [][]sqlparser.Expr{{lit(table), lit(int64(version))}},
	})
	return err
}

// Run applies p's steps in order against session, starting from the
// table's registered current_schema_version (0 if never recorded). A
// step is applied when its From equals the running version; if no
// remaining step's From matches, Run fails fast rather than skipping a
// gap silently.
func (p *PersistMigrationPlan) Run(session *exec.Session) error {
	if err := ensureSchemaVersionsTable(session); err != nil {
		return err
	}
	version, _, err := currentSchemaVersion(session, p.Table)
	if err != nil {
		return err
	}
	remaining := append([]PersistMigrationStep(nil), p.Steps...)
	for len(remaining) > 0 {
		idx := -1
		for i, step := range remaining {
			if step.From == version {
				idx = i
				break
			}
		}
		if idx == -1 {
			return errors.Newf("migration plan for %q has no step from schema_version %d (unhandled gap)", p.Table, version)
		}
		step := remaining[idx]
		remaining = append(remaining[:idx], remaining[idx+1:]...)

		if step.SQL != "" {
			if _, err := session.Execute(step.SQL); err != nil {
				return errors.Wrapf(err, "migration step %d->%d on %q", step.From, step.To, p.Table)
			}
		}
		if step.StateFn != nil {
			if err := runStateFn(session, p.Table, step.StateFn); err != nil {
				return errors.Wrapf(err, "migration step %d->%d on %q", step.From, step.To, p.Table)
			}
		}
		if err := setSchemaVersion(session, p.Table, step.To); err != nil {
			return err
		}
		version = step.To
	}
	return nil
}

// runStateFn rewrites every aggregate row's state_data under fn, used
// for a migration step that reshapes the document rather than running
// plain SQL.
func runStateFn(session *exec.Session, table string, fn func(map[string]any) (map[string]any, error)) error {
	res, err := session.ExecuteStatement(&sqlparser.SelectStatement{
		Columns: []sqlparser.SelectItem{{Expr: &sqlparser.Star{}}},
		From:    &sqlparser.TableRef{Name: table},
	})
	if err != nil {
		return err
	}
	pkIdx, stateIdx := -1, -1
	for i, c := range res.Columns {
		switch c {
		case "persist_id":
			pkIdx = i
		case "state_data":
			stateIdx = i
		}
	}
	if pkIdx == -1 || stateIdx == -1 {
		return errors.Newf("table %q has no persist_id/state_data columns to migrate", table)
	}
	for _, row := range res.Rows {
		if row[stateIdx].IsNull() {
			continue
		}
		var decoded map[string]any
		if err := decodeState(row[stateIdx].Text(), &decoded); err != nil {
			return err
		}
		migrated, err := fn(decoded)
		if err != nil {
			return err
		}
		encoded, err := encodeState(migrated)
		if err != nil {
			return err
		}
		if _, err := session.ExecuteStatement(&sqlparser.UpdateStatement{
			Table: table,
			Set:   []sqlparser.Assignment{{Column: "state_data", Value: lit(encoded)}},
			Where: eq("persist_id", row[pkIdx].Text()),
		}); err != nil {
			return err
		}
	}
	return nil
}
