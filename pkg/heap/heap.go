// Package heap implements the append-only, segmented row store that backs
// every table's MVCC version chain (spec §4.C). Rows are never overwritten
// in place: each write appends a new version and links it to its
// predecessor via PrevOffset, and a delete only flips the Valid bit and
// stamps DeleteLSN — the space is reclaimed later by vacuum.
package heap

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	HeapMagic             = 0x48454150 // ASCII "HEAP"
	HeapVersion           = 3          // version chains (CreateLSN/DeleteLSN/PrevOffset)
	HeaderSize            = 14         // Magic(4) + Version(2) + NextOffset(8)
	EntryHeaderSize       = 29         // Length(4) + Valid(1) + CreateLSN(8) + DeleteLSN(8) + PrevOffset(8)
	DefaultMaxSegmentSize = 64 * 1024 * 1024
)

// RecordHeader is the per-version metadata preceding a row's encoded bytes.
type RecordHeader struct {
	Valid      bool
	CreateLSN  uint64
	DeleteLSN  uint64 // LSN of the delete that tombstoned this version, if !Valid
	PrevOffset int64  // offset of the prior version in the chain, -1 at the head
}

type Segment struct {
	ID          int
	Path        string
	StartOffset int64
	Size        int64
	File        *os.File
}

// HeapManager manages a table's row storage across rotated segment files.
type HeapManager struct {
	basePath       string
	segments       []*Segment
	activeSegment  *Segment
	nextOffset     int64 // global next-write offset across all segments
	maxSegmentSize int64
	mutex          sync.RWMutex
}

// NewHeapManager opens (or creates) the segment set rooted at path, e.g.
// "db/data/users" names segments "db/data/users_001.data", "_002.data", ...
func NewHeapManager(path string) (*HeapManager, error) {
	hm := &HeapManager{
		basePath:       path,
		segments:       make([]*Segment, 0),
		maxSegmentSize: DefaultMaxSegmentSize,
	}

	var globalOffset int64 = 0
	id := 1

	for {
		segPath := fmt.Sprintf("%s_%03d.data", path, id)
		file, err := os.OpenFile(segPath, os.O_RDWR, 0666)
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to open segment %s: %w", segPath, err)
		}

		info, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, err
		}

		seg := &Segment{
			ID:          id,
			Path:        segPath,
			StartOffset: globalOffset,
			Size:        info.Size(),
			File:        file,
		}
		hm.segments = append(hm.segments, seg)

		globalOffset += info.Size()
		id++
	}

	if len(hm.segments) == 0 {
		return hm.createNewSegment(1, 0)
	}

	hm.activeSegment = hm.segments[len(hm.segments)-1]

	if err := hm.loadActiveSegmentState(); err != nil {
		return nil, err
	}

	return hm, nil
}

func (h *HeapManager) createNewSegment(id int, startOffset int64) (*HeapManager, error) {
	segPath := fmt.Sprintf("%s_%03d.data", h.basePath, id)
	file, err := os.OpenFile(segPath, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment %s: %w", segPath, err)
	}

	seg := &Segment{
		ID:          id,
		Path:        segPath,
		StartOffset: startOffset,
		Size:        0,
		File:        file,
	}

	h.segments = append(h.segments, seg)
	h.activeSegment = seg

	if err := h.writeHeader(seg); err != nil {
		return nil, err
	}

	seg.Size = int64(HeaderSize)
	h.nextOffset = startOffset + int64(HeaderSize)

	return h, nil
}

func (h *HeapManager) loadActiveSegmentState() error {
	if _, err := h.activeSegment.File.Seek(0, 0); err != nil {
		return err
	}

	var magic uint32
	if err := binary.Read(h.activeSegment.File, binary.LittleEndian, &magic); err != nil {
		return err
	}
	if magic != HeapMagic {
		return fmt.Errorf("invalid heap file magic in segment %d", h.activeSegment.ID)
	}

	var version uint16
	if err := binary.Read(h.activeSegment.File, binary.LittleEndian, &version); err != nil {
		return err
	}
	if version != HeapVersion {
		return fmt.Errorf("unsupported heap version: %d", version)
	}

	var localNextOffset int64
	if err := binary.Read(h.activeSegment.File, binary.LittleEndian, &localNextOffset); err != nil {
		return err
	}

	h.nextOffset = h.activeSegment.StartOffset + localNextOffset

	stat, _ := h.activeSegment.File.Stat()
	if stat.Size() > localNextOffset {
		// File is larger than its own header claims: a write landed but the
		// header update that should follow it never made it to disk.
		// Trust the file size and repair the header.
		h.nextOffset = h.activeSegment.StartOffset + stat.Size()
		h.updateNextOffset()
	}

	return nil
}

// writeHeader initializes the fixed header for a fresh segment.
func (h *HeapManager) writeHeader(seg *Segment) error {
	if _, err := seg.File.Seek(0, 0); err != nil {
		return err
	}

	if err := binary.Write(seg.File, binary.LittleEndian, uint32(HeapMagic)); err != nil {
		return err
	}
	if err := binary.Write(seg.File, binary.LittleEndian, uint16(HeapVersion)); err != nil {
		return err
	}
	if err := binary.Write(seg.File, binary.LittleEndian, int64(HeaderSize)); err != nil {
		return err
	}

	return seg.File.Sync()
}

// updateNextOffset persists the active segment's write pointer into its header.
func (h *HeapManager) updateNextOffset() error {
	seg := h.activeSegment
	pos, err := seg.File.Seek(6, 0) // skip Magic(4) + Version(2)
	if err != nil {
		return err
	}
	if pos != 6 {
		return fmt.Errorf("seek failed")
	}

	localOffset := h.nextOffset - seg.StartOffset
	return binary.Write(seg.File, binary.LittleEndian, localOffset)
}

// Write appends a row version and returns its global offset. prevOffset
// chains this version to its predecessor (-1 starts a new chain).
func (h *HeapManager) Write(row []byte, createLSN uint64, prevOffset int64) (int64, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	neededSize := int64(EntryHeaderSize + len(row))
	currentLocalOffset := h.nextOffset - h.activeSegment.StartOffset

	if currentLocalOffset+neededSize > h.maxSegmentSize {
		newID := h.activeSegment.ID + 1
		if _, err := h.createNewSegment(newID, h.nextOffset); err != nil {
			return 0, fmt.Errorf("failed to rotate segment: %w", err)
		}
	}

	offset := h.nextOffset
	seg := h.activeSegment
	localOffset := offset - seg.StartOffset

	if _, err := seg.File.Seek(localOffset, 0); err != nil {
		return 0, err
	}

	rowLen := uint32(len(row))

	if err := binary.Write(seg.File, binary.LittleEndian, rowLen); err != nil {
		return 0, err
	}
	if err := binary.Write(seg.File, binary.LittleEndian, uint8(1)); err != nil {
		return 0, err
	}
	if err := binary.Write(seg.File, binary.LittleEndian, createLSN); err != nil {
		return 0, err
	}
	if err := binary.Write(seg.File, binary.LittleEndian, uint64(0)); err != nil {
		return 0, err
	}
	if err := binary.Write(seg.File, binary.LittleEndian, prevOffset); err != nil {
		return 0, err
	}
	if _, err := seg.File.Write(row); err != nil {
		return 0, err
	}

	h.nextOffset += int64(EntryHeaderSize + int(rowLen))
	seg.Size = h.nextOffset - seg.StartOffset

	if err := h.updateNextOffset(); err != nil {
		return 0, err
	}

	return offset, nil
}

func (h *HeapManager) getSegmentForOffset(offset int64) (*Segment, error) {
	for _, seg := range h.segments {
		if offset >= seg.StartOffset && offset < (seg.StartOffset+seg.Size) {
			return seg, nil
		}
	}
	if offset < h.nextOffset && offset >= h.activeSegment.StartOffset {
		return h.activeSegment, nil
	}
	return nil, fmt.Errorf("segment not found for offset %d", offset)
}

// Read retrieves one row version and its header from the given offset.
func (h *HeapManager) Read(offset int64) ([]byte, *RecordHeader, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	seg, err := h.getSegmentForOffset(offset)
	if err != nil {
		return nil, nil, err
	}

	localOffset := offset - seg.StartOffset
	if _, err := seg.File.Seek(localOffset, 0); err != nil {
		return nil, nil, err
	}

	var rowLen uint32
	if err := binary.Read(seg.File, binary.LittleEndian, &rowLen); err != nil {
		return nil, nil, err
	}
	var valid uint8
	if err := binary.Read(seg.File, binary.LittleEndian, &valid); err != nil {
		return nil, nil, err
	}
	var createLSN uint64
	if err := binary.Read(seg.File, binary.LittleEndian, &createLSN); err != nil {
		return nil, nil, err
	}
	var deleteLSN uint64
	if err := binary.Read(seg.File, binary.LittleEndian, &deleteLSN); err != nil {
		return nil, nil, err
	}
	var prevOffset int64
	if err := binary.Read(seg.File, binary.LittleEndian, &prevOffset); err != nil {
		return nil, nil, err
	}

	header := &RecordHeader{
		Valid:      valid == 1,
		CreateLSN:  createLSN,
		DeleteLSN:  deleteLSN,
		PrevOffset: prevOffset,
	}

	row := make([]byte, rowLen)
	if _, err := io.ReadFull(seg.File, row); err != nil {
		return nil, nil, err
	}

	return row, header, nil
}

// Delete tombstones a version in place: flips Valid off and stamps
// DeleteLSN, leaving the bytes for vacuum to reclaim later.
func (h *HeapManager) Delete(offset int64, deleteLSN uint64) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	seg, err := h.getSegmentForOffset(offset)
	if err != nil {
		return err
	}

	localOffset := offset - seg.StartOffset
	validOffset := localOffset + 4
	deleteLSNOffset := localOffset + 4 + 1 + 8

	if _, err := seg.File.Seek(validOffset, 0); err != nil {
		return err
	}
	if err := binary.Write(seg.File, binary.LittleEndian, uint8(0)); err != nil {
		return err
	}

	if _, err := seg.File.Seek(deleteLSNOffset, 0); err != nil {
		return err
	}
	if err := binary.Write(seg.File, binary.LittleEndian, deleteLSN); err != nil {
		return err
	}

	return nil
}

func (h *HeapManager) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var firstErr error
	for _, seg := range h.segments {
		if seg.File != nil {
			if err := seg.File.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Path returns the base path the heap's segments are named from.
func (h *HeapManager) Path() string { return h.basePath }

// HeapIterator walks every version record across all segments, in
// append order, used by vacuum and by full-table scans that bypass an
// index.
type HeapIterator struct {
	hm          *HeapManager
	segmentIdx  int
	currentFile *os.File
	currentPos  int64
}

func (h *HeapManager) NewIterator() (*HeapIterator, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if len(h.segments) == 0 {
		return nil, fmt.Errorf("no segments to iterate")
	}

	seg := h.segments[0]
	f, err := os.Open(seg.Path)
	if err != nil {
		return nil, err
	}

	return &HeapIterator{
		hm:          h,
		segmentIdx:  0,
		currentFile: f,
		currentPos:  HeaderSize,
	}, nil
}

// Next returns the next record's bytes, header, and global offset.
// Returns io.EOF once every segment has been exhausted.
func (it *HeapIterator) Next() ([]byte, *RecordHeader, int64, error) {
	for {
		it.hm.mutex.RLock()
		if it.segmentIdx >= len(it.hm.segments) {
			it.hm.mutex.RUnlock()
			return nil, nil, 0, io.EOF
		}
		seg := it.hm.segments[it.segmentIdx]
		startOffset := seg.StartOffset
		it.hm.mutex.RUnlock()

		globalOffset := startOffset + it.currentPos

		if _, err := it.currentFile.Seek(it.currentPos, 0); err != nil {
			return nil, nil, 0, err
		}

		headerBuf := make([]byte, EntryHeaderSize)
		if _, err := io.ReadFull(it.currentFile, headerBuf); err != nil {
			if err == io.EOF {
				if err := it.nextSegment(); err != nil {
					return nil, nil, 0, err
				}
				continue
			}
			return nil, nil, 0, err
		}

		rowLen := binary.LittleEndian.Uint32(headerBuf[0:4])
		valid := headerBuf[4]
		createLSN := binary.LittleEndian.Uint64(headerBuf[5:13])
		deleteLSN := binary.LittleEndian.Uint64(headerBuf[13:21])
		prevOffset := int64(binary.LittleEndian.Uint64(headerBuf[21:29]))

		row := make([]byte, rowLen)
		if _, err := io.ReadFull(it.currentFile, row); err != nil {
			return nil, nil, 0, err
		}

		it.currentPos += int64(EntryHeaderSize + int(rowLen))

		header := &RecordHeader{
			Valid:      valid == 1,
			CreateLSN:  createLSN,
			DeleteLSN:  deleteLSN,
			PrevOffset: prevOffset,
		}

		return row, header, globalOffset, nil
	}
}

func (it *HeapIterator) nextSegment() error {
	it.currentFile.Close()
	it.segmentIdx++

	it.hm.mutex.RLock()
	defer it.hm.mutex.RUnlock()

	if it.segmentIdx >= len(it.hm.segments) {
		return io.EOF
	}

	seg := it.hm.segments[it.segmentIdx]
	f, err := os.Open(seg.Path)
	if err != nil {
		return err
	}
	it.currentFile = f
	it.currentPos = HeaderSize
	return nil
}

func (it *HeapIterator) Close() {
	if it.currentFile != nil {
		it.currentFile.Close()
	}
}
