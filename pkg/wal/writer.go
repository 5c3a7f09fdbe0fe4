package wal

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/DataDog/zstd"
	"github.com/cockroachdb/errors"
)

// WALWriter appends records to the active segment, rotating to a new
// segment once MaxSegmentBytes is crossed and optionally compressing the
// segment it just rotated out of.
type WALWriter struct {
	mu      sync.Mutex
	dir     string
	file    *os.File
	writer  *bufio.Writer
	options Options

	activeSeq    uint64
	segmentBytes int64
	batchBytes   int64

	done   chan struct{}
	ticker *time.Ticker
	closed bool
}

// NewWALWriter opens (or creates) the segment set rooted at opts.DirPath
// and positions the writer at the newest segment, ready to append.
func NewWALWriter(opts Options) (*WALWriter, error) {
	if err := os.MkdirAll(opts.DirPath, 0755); err != nil {
		return nil, errors.Wrap(err, "wal: create directory")
	}

	seqs, err := ListSegments(opts.DirPath)
	if err != nil {
		return nil, errors.Wrap(err, "wal: list segments")
	}

	var seq uint64 = 1
	if len(seqs) > 0 {
		seq = seqs[len(seqs)-1]
	}

	w := &WALWriter{
		dir:     opts.DirPath,
		options: opts,
		done:    make(chan struct{}),
	}

	if err := w.openSegment(seq); err != nil {
		return nil, err
	}

	if opts.SyncPolicy == SyncInterval {
		w.ticker = time.NewTicker(opts.SyncIntervalDuration)
		go w.backgroundSync()
	}

	return w, nil
}

func (w *WALWriter) openSegment(seq uint64) error {
	path := filepath.Join(w.dir, segmentFileName(seq))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return errors.Wrapf(err, "wal: open segment %d", seq)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return errors.Wrap(err, "wal: stat segment")
	}

	w.file = f
	w.writer = bufio.NewWriterSize(f, w.options.BufferSize)
	w.activeSeq = seq
	w.segmentBytes = info.Size()
	return nil
}

// WriteEntry appends entry to the active segment and applies the
// configured sync policy.
func (w *WALWriter) WriteEntry(entry *WALEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := entry.WriteTo(w.writer)
	if err != nil {
		return err
	}

	w.batchBytes += n
	w.segmentBytes += n

	switch w.options.SyncPolicy {
	case SyncEveryWrite:
		if err := w.syncLocked(); err != nil {
			return err
		}
	case SyncBatch:
		if w.batchBytes >= w.options.SyncBatchBytes {
			if err := w.syncLocked(); err != nil {
				return err
			}
		}
	}

	if w.options.MaxSegmentBytes > 0 && w.segmentBytes >= w.options.MaxSegmentBytes {
		return w.rotateLocked()
	}
	return nil
}

func (w *WALWriter) rotateLocked() error {
	if err := w.syncLocked(); err != nil {
		return err
	}
	retiredSeq := w.activeSeq
	retiredPath := w.file.Name()
	if err := w.file.Close(); err != nil {
		return errors.Wrap(err, "wal: close rotated segment")
	}

	if w.options.Compression == CompressionZstd {
		if err := compressSegment(retiredPath); err != nil {
			return errors.Wrapf(err, "wal: compress segment %d", retiredSeq)
		}
	}

	return w.openSegment(retiredSeq + 1)
}

func compressSegment(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	compressed, err := zstd.Compress(nil, raw)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path+".zst", compressed, 0644); err != nil {
		return err
	}
	return os.Remove(path)
}

// Dir returns the directory the segment set is rooted at.
func (w *WALWriter) Dir() string { return w.dir }

// Sync forces the active segment to durable storage.
func (w *WALWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *WALWriter) syncLocked() error {
	start := time.Now()
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	if w.options.FsyncObserver != nil {
		w.options.FsyncObserver(time.Since(start))
	}
	w.batchBytes = 0
	return nil
}

// Close flushes, fsyncs, and closes the active segment.
func (w *WALWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.ticker != nil {
		w.ticker.Stop()
		close(w.done)
	}

	if err := w.syncLocked(); err != nil {
		w.file.Close()
		return err
	}

	return w.file.Close()
}

func (w *WALWriter) backgroundSync() {
	for {
		select {
		case <-w.ticker.C:
			w.Sync()
		case <-w.done:
			return
		}
	}
}
