package wal

import (
	"encoding/binary"
	"io"
)

// Fixed-size record framing.
const (
	HeaderSize = 24 // fixed header size in bytes
	WALVersion = 1  // current on-disk format version

	WALMagic = 0xDEADBEEF
)

// EntryType discriminates the record kinds the log carries. Begin/Insert/
// Update/Delete/Commit/Abort mirror the MVCC write path (spec §4.D, §4.E).
// Ddl (catalog mutations) and SnapshotMark (checkpoint boundary) are
// reserved kinds: nothing in this module writes them, and
// StorageEngine.Recover ignores them.
const (
	EntryInsert uint8 = iota + 1
	EntryUpdate
	EntryDelete
	EntryBegin
	EntryCommit
	EntryAbort
	EntryDdl
	EntrySnapshotMark
	// EntryMultiInsert records one row write that touches several indices
	// (InsertRow) as a single WAL record, instead of one record per index.
	EntryMultiInsert
)

// WALHeader is the 24-byte fixed header prefixing every payload.
type WALHeader struct {
	Magic      uint32
	Version    uint8
	EntryType  uint8
	Reserved   uint16
	LSN        uint64
	PayloadLen uint32
	CRC32      uint32
}

// WALEntry is one complete log record.
type WALEntry struct {
	Header  WALHeader
	Payload []byte
}

// Encode serializes the header into buf, which must be HeaderSize bytes.
func (h *WALHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.EntryType
	binary.LittleEndian.PutUint16(buf[6:8], h.Reserved)
	binary.LittleEndian.PutUint64(buf[8:16], h.LSN)
	binary.LittleEndian.PutUint32(buf[16:20], h.PayloadLen)
	binary.LittleEndian.PutUint32(buf[20:24], h.CRC32)
}

// Decode deserializes buf into the header.
func (h *WALHeader) Decode(buf []byte) {
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = buf[4]
	h.EntryType = buf[5]
	h.Reserved = binary.LittleEndian.Uint16(buf[6:8])
	h.LSN = binary.LittleEndian.Uint64(buf[8:16])
	h.PayloadLen = binary.LittleEndian.Uint32(buf[16:20])
	h.CRC32 = binary.LittleEndian.Uint32(buf[20:24])
}

// WriteTo writes the header followed by the payload to w.
func (e *WALEntry) WriteTo(w io.Writer) (int64, error) {
	var headerBuf [HeaderSize]byte
	e.Header.Encode(headerBuf[:])

	n, err := w.Write(headerBuf[:])
	if err != nil {
		return int64(n), err
	}

	m, err := w.Write(e.Payload)
	return int64(n + m), err
}
