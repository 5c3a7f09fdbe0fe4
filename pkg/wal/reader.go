package wal

import (
	"bytes"
	"io"
	"os"

	"github.com/DataDog/zstd"
	"github.com/cockroachdb/errors"
)

var (
	ErrInvalidMagic      = errors.New("wal: invalid magic number")
	ErrChecksumMismatch  = errors.New("wal: checksum mismatch")
	ErrInvalidPayloadLen = errors.New("wal: invalid or excessive payload length")
)

// WALReader reads records sequentially from a single segment.
type WALReader struct {
	src    io.ReadCloser
	offset int64
}

// NewWALReader opens path for sequential reading. A .wal.zst path is
// decompressed fully into memory before reading begins.
func NewWALReader(path string) (*WALReader, error) {
	if len(path) > len(compressedSegmentExt) && path[len(path)-len(compressedSegmentExt):] == compressedSegmentExt {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		decompressed, err := zstd.Decompress(nil, raw)
		if err != nil {
			return nil, errors.Wrap(err, "wal: decompress segment")
		}
		return &WALReader{src: io.NopCloser(bytes.NewReader(decompressed))}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &WALReader{src: f}, nil
}

// ReadEntry reads the next entry. It returns io.EOF when the segment is
// exhausted cleanly, and io.ErrUnexpectedEOF when the tail is torn (a
// partial header or payload left by an interrupted write) — callers doing
// crash recovery should treat the latter as the durable end of the log,
// not a hard failure (spec §4.E, §6).
func (r *WALReader) ReadEntry() (*WALEntry, error) {
	headerBuf := make([]byte, HeaderSize)
	n, err := io.ReadFull(r.src, headerBuf)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	if n != HeaderSize {
		return nil, io.ErrUnexpectedEOF
	}

	var header WALHeader
	header.Decode(headerBuf)

	if header.Magic != WALMagic {
		return nil, ErrInvalidMagic
	}

	if header.PayloadLen == 0 {
		return &WALEntry{Header: header}, nil
	}

	if header.PayloadLen > 1024*1024*1024 {
		return nil, ErrInvalidPayloadLen
	}

	entry := AcquireEntry()
	entry.Header = header

	if uint32(cap(entry.Payload)) < header.PayloadLen {
		entry.Payload = make([]byte, header.PayloadLen)
	} else {
		entry.Payload = entry.Payload[:header.PayloadLen]
	}

	n, err = io.ReadFull(r.src, entry.Payload)
	if err != nil {
		ReleaseEntry(entry)
		return nil, io.ErrUnexpectedEOF
	}

	if !ValidateCRC32(entry.Payload, header.CRC32) {
		ReleaseEntry(entry)
		return nil, ErrChecksumMismatch
	}

	r.offset += int64(HeaderSize + header.PayloadLen)
	return entry, nil
}

// Close releases the underlying source.
func (r *WALReader) Close() error { return r.src.Close() }
