// Package relmem is the embeddable facade: one SQL session, its
// optional WAL-backed durability, and the metrics and
// persistence-object layers built on top of it, assembled behind a
// single Engine handle.
package relmem

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/maxBogovick/relmem/pkg/errors"
	"github.com/maxBogovick/relmem/pkg/exec"
	"github.com/maxBogovick/relmem/pkg/metrics"
)

// QueryResult is the facade's statement-result type: column names,
// result rows, and the affected-row count for INSERT/UPDATE/DELETE.
type QueryResult = exec.QueryResult

// Engine is one embedded database instance: a SQL session plus
// whatever durability and metrics machinery EngineOptions asked for.
type Engine struct {
	session    *exec.Session
	metrics    *metrics.Collector
	logger     *slog.Logger
	dataDir    string
	durability *DurabilityOptions
}

// NewEngine constructs an Engine per opts. With no Durability set, the
// engine is in-memory only — tables live for the process lifetime and
// are lost on restart.
func NewEngine(opts EngineOptions) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = "."
	}

	var collector *metrics.Collector
	if opts.Metrics {
		collector = metrics.NewCollector()
	}

	var session *exec.Session
	var err error
	var durability *DurabilityOptions
	if opts.Durability != nil {
		d := *opts.Durability
		wo := d.walOptions()
		session, err = exec.NewDurableSession(dataDir, d.Dir, &wo, collector)
		durability = &d
	} else {
		session, err = exec.NewSession(dataDir)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("engine started", "data_dir", dataDir, "durable", durability != nil)
	return &Engine{session: session, metrics: collector, logger: logger, dataDir: dataDir, durability: durability}, nil
}

// OpenAuto opens a new Engine rooted at root with default WAL-backed
// durability and a metrics collector enabled, replaying any WAL
// segments and checkpoints already present under root before
// returning.
func OpenAuto(root string) (*Engine, error) {
	walDir := filepath.Join(root, "wal")
	dataDir := filepath.Join(root, "data")
	durability := DefaultDurabilityOptions(walDir)
	e, err := NewEngine(EngineOptions{DataDir: dataDir, Durability: &durability, Metrics: true})
	if err != nil {
		return nil, err
	}
	if err := e.session.Storage.Recover(walDir); err != nil {
		return nil, fmt.Errorf("recover engine rooted at %s: %w", root, err)
	}
	e.logger.Info("engine recovered", "root", root)
	return e, nil
}

// EnablePersistence switches a running in-memory Engine onto
// WAL-backed durability rooted at dir. It only succeeds before the
// engine has created any tables: splicing live in-memory tables onto
// a fresh WAL without backfilling their history would leave recovery
// unable to reconstruct them, so this deliberately refuses rather than
// silently producing a WAL that doesn't describe the tables it covers.
func (e *Engine) EnablePersistence(dir string, mode DurabilityMode) error {
	if e.durability != nil {
		return errors.NewExecutionError("persistence already enabled at %q", e.durability.Dir)
	}
	if len(e.session.Catalog.List()) > 0 {
		return errors.NewExecutionError("enable_persistence must be called before any tables are created")
	}
	d := DurabilityOptions{Dir: dir, Mode: mode}
	wo := d.walOptions()
	session, err := exec.NewDurableSession(e.dataDir, dir, &wo, e.metrics)
	if err != nil {
		return err
	}
	e.session = session
	e.durability = &d
	e.logger.Info("persistence enabled", "dir", dir)
	return nil
}

// Execute parses and runs one SQL statement.
func (e *Engine) Execute(sql string) (*QueryResult, error) {
	return e.session.Execute(sql)
}

// Query is an alias of Execute for read statements, kept distinct at
// the call site for readability.
func (e *Engine) Query(sql string) (*QueryResult, error) {
	return e.Execute(sql)
}

// Checkpoint snapshots every table's indices, bounding how much WAL a
// future Recover has to replay.
func (e *Engine) Checkpoint() error {
	return e.session.Checkpoint()
}

// Vacuum compacts table's heap file and returns the bytes reclaimed.
func (e *Engine) Vacuum(table string) (int64, error) {
	return e.session.Vacuum(table)
}

// MetricsRegistry returns the engine's Prometheus registry, or nil if
// EngineOptions.Metrics was false.
func (e *Engine) MetricsRegistry() *prometheus.Registry {
	return e.metrics.Registry()
}

// Session exposes the underlying SQL session for persistence-object
// helpers (OpenDomain, OpenAutonomous, OpenAggregate) that need to bind
// directly to it.
func (e *Engine) Session() *exec.Session { return e.session }
