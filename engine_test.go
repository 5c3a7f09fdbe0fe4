package relmem_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/maxBogovick/relmem"
)

var errRollbackProbe = errors.New("rollback probe")

func newTestEngine(t *testing.T) *relmem.Engine {
	t.Helper()
	e, err := relmem.NewEngine(relmem.EngineOptions{DataDir: t.TempDir(), Metrics: true})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestEngineExecuteCreateInsertSelect(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.Execute("CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := e.Execute("INSERT INTO users (id, name) VALUES (1, 'ada')"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := e.Query("SELECT * FROM users WHERE id = 1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Rows))
	}
}

func TestEngineTransactionCommitsAndRollsBack(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Execute("CREATE TABLE counters (id INTEGER PRIMARY KEY, n INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	_, err := relmem.Transaction(e, func(tx *relmem.Engine) (int, error) {
		if _, err := tx.Execute("INSERT INTO counters (id, n) VALUES (1, 10)"); err != nil {
			return 0, err
		}
		return 10, nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	res, err := e.Query("SELECT * FROM counters")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected committed row to be visible, got %d rows", len(res.Rows))
	}

	_, err = relmem.Transaction(e, func(tx *relmem.Engine) (int, error) {
		if _, err := tx.Execute("INSERT INTO counters (id, n) VALUES (2, 20)"); err != nil {
			return 0, err
		}
		return 0, errRollbackProbe
	})
	if err == nil {
		t.Fatal("expected transaction error to propagate")
	}

	res, err = e.Query("SELECT * FROM counters")
	if err != nil {
		t.Fatalf("query after rollback: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected rollback to discard the second row, got %d rows", len(res.Rows))
	}
}

func TestEngineEnablePersistenceRejectsSecondCall(t *testing.T) {
	root := t.TempDir()
	walDir := filepath.Join(root, "wal")

	e, err := relmem.NewEngine(relmem.EngineOptions{DataDir: filepath.Join(root, "data")})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := e.EnablePersistence(walDir, relmem.DurabilitySyncEveryWrite); err != nil {
		t.Fatalf("EnablePersistence: %v", err)
	}
	if _, err := e.Execute("CREATE TABLE items (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := e.EnablePersistence(walDir, relmem.DurabilitySyncEveryWrite); err == nil {
		t.Fatal("expected a second EnablePersistence call to fail")
	}
}

func TestOpenAutoRootedAtPath(t *testing.T) {
	root := t.TempDir()
	e, err := relmem.OpenAuto(root)
	if err != nil {
		t.Fatalf("OpenAuto: %v", err)
	}
	if _, err := e.Execute("CREATE TABLE events (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
}

func TestEngineForkIsIndependentCopy(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Execute("CREATE TABLE widgets (id INTEGER PRIMARY KEY, label TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := e.Execute("INSERT INTO widgets (id, label) VALUES (1, 'gear')"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	forked, err := e.Fork()
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}

	if _, err := e.Execute("INSERT INTO widgets (id, label) VALUES (2, 'bolt')"); err != nil {
		t.Fatalf("insert into source after fork: %v", err)
	}

	res, err := forked.Query("SELECT * FROM widgets")
	if err != nil {
		t.Fatalf("query fork: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected fork to see only the pre-fork row, got %d rows", len(res.Rows))
	}
}

func TestAPIVersionCompatibility(t *testing.T) {
	v := relmem.APIVersion()
	if !v.Compatible(relmem.Version{Major: v.Major}) {
		t.Fatal("expected same-major version to be compatible")
	}
	if !v.Compatible(relmem.Version{Major: v.Major + 1}) {
		t.Fatal("expected one-major-behind version to be compatible")
	}
	if v.Compatible(relmem.Version{Major: v.Major + 2}) {
		t.Fatal("expected two-or-more-major-behind version to be incompatible")
	}
}
