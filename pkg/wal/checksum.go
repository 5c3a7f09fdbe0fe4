package wal

import "hash/crc32"

// castagnoliTable uses the Castagnoli polynomial, which has hardware CRC32
// instruction support on modern amd64/arm64.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// CalculateCRC32 checksums a WAL payload.
func CalculateCRC32(data []byte) uint32 {
	return crc32.Checksum(data, castagnoliTable)
}

// ValidateCRC32 reports whether data matches its recorded checksum.
func ValidateCRC32(data []byte, expected uint32) bool {
	return CalculateCRC32(data) == expected
}
