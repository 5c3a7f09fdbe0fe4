package wal

import "time"

// SyncPolicy selects the durability/performance tradeoff for fsync calls.
type SyncPolicy int

const (
	// SyncEveryWrite fsyncs after every write. Safest, slowest.
	SyncEveryWrite SyncPolicy = iota

	// SyncInterval fsyncs periodically on a background ticker.
	SyncInterval

	// SyncBatch fsyncs once accumulated unsynced bytes cross a threshold.
	SyncBatch
)

// CompressionPolicy controls whether rotated-out WAL segments are
// compressed at rest. Checkpoint files are always written uncompressed.
type CompressionPolicy int

const (
	CompressionNone CompressionPolicy = iota
	CompressionZstd
)

// Options configures a WAL writer/segment set.
type Options struct {
	// DirPath is the directory segment files are written under.
	DirPath string

	// BufferSize is the bufio buffer size in front of each segment file.
	BufferSize int

	SyncPolicy SyncPolicy

	// SyncIntervalDuration is the ticker period for SyncInterval.
	SyncIntervalDuration time.Duration

	// FsyncObserver, if non-nil, is called with the wall-clock duration
	// of every fsync this writer performs. Used to feed a metrics
	// collector without this package depending on one.
	FsyncObserver func(time.Duration)

	// SyncBatchBytes is the unsynced-byte threshold for SyncBatch.
	SyncBatchBytes int64

	// MaxSegmentBytes rotates to a new segment file once the active
	// segment reaches this size. Zero disables rotation (single file).
	MaxSegmentBytes int64

	// Compression applies to segments once they are rotated out (the
	// active segment is always written uncompressed, so torn-tail
	// detection on the live segment never has to decompress first).
	Compression CompressionPolicy
}

// DefaultOptions returns a safe, moderate-throughput configuration.
func DefaultOptions() Options {
	return Options{
		DirPath:              "./wal_data",
		BufferSize:           64 * 1024,
		SyncPolicy:           SyncInterval,
		SyncIntervalDuration: 200 * time.Millisecond,
		SyncBatchBytes:       1 * 1024 * 1024,
		MaxSegmentBytes:      64 * 1024 * 1024,
		Compression:          CompressionNone,
	}
}
