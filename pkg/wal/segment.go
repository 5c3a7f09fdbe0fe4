package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	segmentExt           = ".wal"
	compressedSegmentExt = ".wal.zst"
)

func segmentFileName(seq uint64) string {
	return fmt.Sprintf("%020d%s", seq, segmentExt)
}

func compressedSegmentFileName(seq uint64) string {
	return fmt.Sprintf("%020d%s", seq, compressedSegmentExt)
}

// ListSegments returns the segment sequence numbers present in dir, sorted
// ascending, regardless of whether each one is still plain or has been
// compressed after rotation.
func ListSegments(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	seen := map[uint64]bool{}
	for _, e := range entries {
		name := e.Name()
		var base string
		switch {
		case strings.HasSuffix(name, compressedSegmentExt):
			base = strings.TrimSuffix(name, compressedSegmentExt)
		case strings.HasSuffix(name, segmentExt):
			base = strings.TrimSuffix(name, segmentExt)
		default:
			continue
		}
		seq, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		seen[seq] = true
	}

	out := make([]uint64, 0, len(seen))
	for seq := range seen {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// SegmentPath resolves the on-disk path for a segment, preferring the
// compressed form if that is what rotation left behind.
func SegmentPath(dir string, seq uint64) (path string, compressed bool, err error) {
	plain := filepath.Join(dir, segmentFileName(seq))
	if _, statErr := os.Stat(plain); statErr == nil {
		return plain, false, nil
	}
	zst := filepath.Join(dir, compressedSegmentFileName(seq))
	if _, statErr := os.Stat(zst); statErr == nil {
		return zst, true, nil
	}
	return "", false, fmt.Errorf("wal: segment %d not found in %s", seq, dir)
}
