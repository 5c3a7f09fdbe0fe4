package storage

import (
	"sync/atomic"
)

// LSNTracker is the monotonically increasing Log Sequence Number counter
// every commit and heap write stamps its version with.
type LSNTracker struct {
	current uint64
}

func NewLSNTracker(start uint64) *LSNTracker {
	return &LSNTracker{
		current: start,
	}
}

// Next advances and returns the next LSN.
func (lt *LSNTracker) Next() uint64 {
	return atomic.AddUint64(&lt.current, 1)
}

// Current returns the last LSN issued.
func (lt *LSNTracker) Current() uint64 {
	return atomic.LoadUint64(&lt.current)
}

// Set pins the counter to val, used when recovery replays the WAL up to a
// known LSN and writes must resume past it.
func (lt *LSNTracker) Set(val uint64) {
	atomic.StoreUint64(&lt.current, val)
}
