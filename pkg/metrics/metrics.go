// Package metrics exposes a Prometheus collector for the engine:
// statements executed, commits, rollbacks, conflicts by kind, vacuum
// bytes freed, and WAL fsync latency. A Collector owns its own
// registry rather than registering against prometheus.DefaultRegisterer,
// so an embedder can mount several engines side by side without a
// collector name collision.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/maxBogovick/relmem/pkg/errors"
)

// Collector bundles every counter/gauge/histogram the engine records
// to. Nil-receiver methods are all safe no-ops, so callers that never
// construct a Collector (most embedded uses) pay nothing.
type Collector struct {
	registry *prometheus.Registry

	statementsTotal  *prometheus.CounterVec
	commitsTotal     prometheus.Counter
	rollbacksTotal   prometheus.Counter
	conflictsTotal   *prometheus.CounterVec
	vacuumBytesFreed prometheus.Counter
	walFsyncSeconds  prometheus.Histogram
}

// NewCollector builds a Collector with its own private registry and
// registers every metric once.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		statementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relmem_statements_total",
			Help: "Total statements executed by kind and outcome.",
		}, []string{"kind", "status"}),
		commitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relmem_commits_total",
			Help: "Total session transactions committed.",
		}),
		rollbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relmem_rollbacks_total",
			Help: "Total session transactions rolled back.",
		}),
		conflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relmem_conflicts_total",
			Help: "Total conflicts raised at commit time, by kind.",
		}, []string{"kind"}),
		vacuumBytesFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relmem_vacuum_bytes_freed_total",
			Help: "Total bytes reclaimed by Vacuum across all tables.",
		}),
		walFsyncSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relmem_wal_fsync_seconds",
			Help:    "WAL fsync latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	c.registry.MustRegister(c.statementsTotal, c.commitsTotal, c.rollbacksTotal,
		c.conflictsTotal, c.vacuumBytesFreed, c.walFsyncSeconds)
	return c
}

// Registry returns the Collector's private prometheus.Registry, the
// handle an embedder mounts behind a /metrics HTTP endpoint.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordStatement records one executed statement, labeled by its
// sqlparser statement kind (e.g. "select", "insert") and "ok"/"error".
func (c *Collector) RecordStatement(kind string, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.statementsTotal.WithLabelValues(kind, status).Inc()
}

// RecordCommit counts one successful Session.Commit.
func (c *Collector) RecordCommit() {
	if c == nil {
		return
	}
	c.commitsTotal.Inc()
}

// RecordRollback counts one explicit Session.Rollback. A failed
// implicit single-statement transaction is rolled back without being
// counted here.
func (c *Collector) RecordRollback() {
	if c == nil {
		return
	}
	c.rollbacksTotal.Inc()
}

// RecordConflictErr inspects err for an *errors.ConflictError and, if
// found, increments the matching conflicts_total label. Any other
// error (or nil) is a no-op.
func (c *Collector) RecordConflictErr(err error) {
	if c == nil || err == nil {
		return
	}
	var conflict *errors.ConflictError
	if !errors.As(err, &conflict) {
		return
	}
	c.conflictsTotal.WithLabelValues(conflict.Kind.String()).Inc()
}

// RecordVacuum adds bytesFreed to the running vacuum total.
func (c *Collector) RecordVacuum(bytesFreed int64) {
	if c == nil || bytesFreed <= 0 {
		return
	}
	c.vacuumBytesFreed.Add(float64(bytesFreed))
}

// ObserveWALFsync records one WAL fsync's latency.
func (c *Collector) ObserveWALFsync(d time.Duration) {
	if c == nil {
		return
	}
	c.walFsyncSeconds.Observe(d.Seconds())
}

// Timer is a small helper for the common "defer record the elapsed
// time" shape around a statement or fsync call.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer at the current instant.
func NewTimer() Timer { return Timer{start: time.Now()} }

// Elapsed returns the duration since the Timer started.
func (t Timer) Elapsed() time.Duration { return time.Since(t.start) }
