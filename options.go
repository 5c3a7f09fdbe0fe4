package relmem

import (
	"log/slog"
	"time"

	"github.com/maxBogovick/relmem/pkg/wal"
)

// DurabilityMode selects how aggressively the WAL fsyncs, mirroring
// pkg/wal.SyncPolicy at the facade boundary so enabling persistence
// never requires importing pkg/wal directly.
type DurabilityMode int

const (
	DurabilitySyncEveryWrite DurabilityMode = iota
	DurabilityInterval
	DurabilityBatch
)

func (m DurabilityMode) walSyncPolicy() wal.SyncPolicy {
	switch m {
	case DurabilitySyncEveryWrite:
		return wal.SyncEveryWrite
	case DurabilityBatch:
		return wal.SyncBatch
	default:
		return wal.SyncInterval
	}
}

// DurabilityOptions configures WAL-backed persistence, passed either
// at construction via EngineOptions.Durability or later through
// Engine.EnablePersistence.
type DurabilityOptions struct {
	Dir                  string
	Mode                 DurabilityMode
	SyncIntervalDuration time.Duration
	SyncBatchBytes       int64
	MaxSegmentBytes      int64
}

// DefaultDurabilityOptions mirrors wal.DefaultOptions, rooted at dir.
func DefaultDurabilityOptions(dir string) DurabilityOptions {
	d := wal.DefaultOptions()
	return DurabilityOptions{
		Dir:                  dir,
		Mode:                 DurabilityInterval,
		SyncIntervalDuration: d.SyncIntervalDuration,
		SyncBatchBytes:       d.SyncBatchBytes,
		MaxSegmentBytes:      d.MaxSegmentBytes,
	}
}

func (d DurabilityOptions) walOptions() wal.Options {
	o := wal.DefaultOptions()
	o.DirPath = d.Dir
	o.SyncPolicy = d.Mode.walSyncPolicy()
	if d.SyncIntervalDuration > 0 {
		o.SyncIntervalDuration = d.SyncIntervalDuration
	}
	if d.SyncBatchBytes > 0 {
		o.SyncBatchBytes = d.SyncBatchBytes
	}
	if d.MaxSegmentBytes > 0 {
		o.MaxSegmentBytes = d.MaxSegmentBytes
	}
	return o
}

// EngineOptions configures a new Engine.
type EngineOptions struct {
	// DataDir roots the per-table heap segment files. Empty defaults
	// to the current directory.
	DataDir string

	// Durability, when non-nil, enables WAL-backed persistence from
	// construction instead of requiring a later EnablePersistence call.
	Durability *DurabilityOptions

	// Metrics, when true, attaches a metrics.Collector reachable via
	// Engine.MetricsRegistry for Prometheus scraping.
	Metrics bool

	// Logger receives structured engine events. Nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultEngineOptions returns an in-memory, metrics-off configuration
// rooted at dataDir.
func DefaultEngineOptions(dataDir string) EngineOptions {
	return EngineOptions{DataDir: dataDir}
}
