package wal

import (
	"bytes"
	"testing"
)

func TestWALHeaderEncoding_RoundTripsEveryField(t *testing.T) {
	original := WALHeader{
		Magic:      WALMagic,
		Version:    WALVersion,
		EntryType:  EntryCommit,
		LSN:        1024,
		PayloadLen: 50,
		CRC32:      0x12345678,
	}

	var buf [HeaderSize]byte
	original.Encode(buf[:])

	var decoded WALHeader
	decoded.Decode(buf[:])

	if decoded != original {
		t.Errorf("Header decoding mismatch.\nExpected: %+v\nGot: %+v", original, decoded)
	}
}

func TestWALHeader_EntryTypesSurviveRoundTrip(t *testing.T) {
	// Begin/Commit/Abort frame a transaction; Ddl and SnapshotMark are
	// reserved kinds. Every kind must survive the header round trip.
	for _, et := range []uint8{EntryInsert, EntryUpdate, EntryDelete, EntryBegin, EntryCommit, EntryAbort, EntryDdl, EntrySnapshotMark, EntryMultiInsert} {
		h := WALHeader{Magic: WALMagic, Version: WALVersion, EntryType: et, LSN: 7}
		var buf [HeaderSize]byte
		h.Encode(buf[:])

		var decoded WALHeader
		decoded.Decode(buf[:])
		if decoded.EntryType != et {
			t.Errorf("EntryType %d did not survive round trip, got %d", et, decoded.EntryType)
		}
	}
}

func TestCRC32(t *testing.T) {
	data := []byte(`{"table": "accounts", "op": "update", "id": 1}`)
	crc := CalculateCRC32(data)

	if !ValidateCRC32(data, crc) {
		t.Error("CRC32 validation failed for valid data")
	}

	if ValidateCRC32([]byte("corrupted"), crc) {
		t.Error("CRC32 validation passed for corrupted data")
	}
}

func TestPool_ReleasedEntryIsZeroedForReuse(t *testing.T) {
	entry := AcquireEntry()
	if entry == nil {
		t.Fatal("Failed to acquire entry")
	}
	if cap(entry.Payload) < 4096 {
		t.Errorf("Expected payload cap >= 4096, got %d", cap(entry.Payload))
	}

	entry.Header.LSN = 999
	entry.Header.EntryType = EntryCommit
	entry.Payload = append(entry.Payload, []byte(`{"id": 1}`)...)

	ReleaseEntry(entry)

	entry2 := AcquireEntry()
	if len(entry2.Payload) != 0 {
		t.Error("Released entry payload length should be 0")
	}
	if entry2.Header.LSN != 0 {
		t.Error("Released entry header should be zeroed")
	}
	if entry2.Header.EntryType != 0 {
		t.Error("Released entry EntryType should be zeroed")
	}
	ReleaseEntry(entry2)
}

func TestEntryWriteTo_CommitRecord(t *testing.T) {
	entry := AcquireEntry()
	defer ReleaseEntry(entry)

	// a commit record carries no row payload, just the LSN it commits at
	payload := []byte{}
	entry.Header = WALHeader{
		Magic:      WALMagic,
		Version:    WALVersion,
		EntryType:  EntryCommit,
		LSN:        42,
		PayloadLen: uint32(len(payload)),
		CRC32:      CalculateCRC32(payload),
	}

	var buf bytes.Buffer
	n, err := entry.WriteTo(&buf)
	if err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}

	expectedSize := int64(HeaderSize + len(payload))
	if n != expectedSize {
		t.Errorf("Expected to write %d bytes, wrote %d", expectedSize, n)
	}

	var decoded WALHeader
	decoded.Decode(buf.Bytes()[:HeaderSize])
	if decoded.EntryType != EntryCommit || decoded.LSN != 42 {
		t.Errorf("decoded header mismatch: %+v", decoded)
	}
}

func TestEntryWriteTo_DdlRecord(t *testing.T) {
	entry := AcquireEntry()
	defer ReleaseEntry(entry)

	payload := []byte(`CREATE TABLE accounts (id INTEGER PRIMARY KEY, balance INTEGER)`)
	entry.Header = WALHeader{
		Magic:      WALMagic,
		Version:    WALVersion,
		EntryType:  EntryDdl,
		LSN:        1,
		PayloadLen: uint32(len(payload)),
		CRC32:      CalculateCRC32(payload),
	}
	entry.Payload = append(entry.Payload, payload...)

	var buf bytes.Buffer
	if _, err := entry.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}

	got := buf.Bytes()[HeaderSize:]
	if string(got) != string(payload) {
		t.Errorf("payload mismatch: got %q, want %q", got, payload)
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.BufferSize <= 0 {
		t.Error("Expected positive BufferSize")
	}
	if opts.SyncPolicy != SyncInterval {
		t.Error("Expected SyncInterval as default")
	}
	if opts.SyncIntervalDuration <= 0 {
		t.Error("Expected positive SyncIntervalDuration")
	}
}

func TestBufferPool(t *testing.T) {
	bufPtr := AcquireBuffer()
	if bufPtr == nil {
		t.Fatal("AcquireBuffer returned nil")
	}
	if cap(*bufPtr) < 8192 {
		t.Errorf("Expected buffer capacity >= 8192, got %d", cap(*bufPtr))
	}

	*bufPtr = append(*bufPtr, []byte(`{"id": 1}`)...)

	ReleaseBuffer(bufPtr)

	bufPtr2 := AcquireBuffer()
	if len(*bufPtr2) != 0 {
		t.Errorf("Acquired buffer should have length 0, got %d", len(*bufPtr2))
	}
	ReleaseBuffer(bufPtr2)
}
