package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/maxBogovick/relmem/pkg/btree"
	"github.com/maxBogovick/relmem/pkg/errors"
	"github.com/maxBogovick/relmem/pkg/heap"
	"github.com/maxBogovick/relmem/pkg/query"
	"github.com/maxBogovick/relmem/pkg/types"
	"github.com/maxBogovick/relmem/pkg/wal"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func GenerateKey() string {
	// NewV7 is time-ordered plus random, so generated keys sort roughly by
	// insertion order.
	id, err := uuid.NewV7()
	if err != nil {
		panic(err) // entropy source failure, not expected to happen
	}
	return id.String()
}

type StorageEngine struct {
	TableMetaData *TableMetaData
	WAL           *wal.WALWriter // nil in memory-only mode
	Checkpoint    *CheckpointManager
	lsnTracker    *LSNTracker
	TxRegistry    *TransactionRegistry
	metaMu        sync.RWMutex // guards metadata operations only (ListTables, etc); per-table locking lives on Table.mu
}

func NewStorageEngine(tableMetaData *TableMetaData, walWriter *wal.WALWriter) (*StorageEngine, error) {
	// Checkpoints default to living alongside the WAL; with no WAL (memory-only
	// mode) they fall back to the current directory.
	var checkpointDir string
	if walWriter != nil {
		checkpointDir = walWriter.Dir()
	} else {
		checkpointDir = "."
	}

	checkpointMgr := NewCheckpointManager(checkpointDir)

	return &StorageEngine{
		TableMetaData: tableMetaData,
		WAL:           walWriter,
		Checkpoint:    checkpointMgr,
		lsnTracker:    NewLSNTracker(0),
		TxRegistry:    NewTransactionRegistry(),
	}, nil
}

// IsolationLevel is the transaction isolation level a Transaction runs under.
type IsolationLevel int

const (
	ReadCommitted  IsolationLevel = iota // each statement sees the latest committed data
	RepeatableRead                       // snapshot isolation (default)
)

// Transaction is an execution context with snapshot isolation: every read
// it performs sees the database as of SnapshotLSN.
type Transaction struct {
	SnapshotLSN uint64
	Level       IsolationLevel
	engine      *StorageEngine
}

// BeginTransaction starts a transaction at the given isolation level.
func (se *StorageEngine) BeginTransaction(level IsolationLevel) *Transaction {
	tx := &Transaction{
		SnapshotLSN: se.lsnTracker.Current(), // captures "now" as a linearizable point
		Level:       level,
		engine:      se,
	}
	se.TxRegistry.Register(tx)
	return tx
}

// Close marks the transaction as finished and unregisters it
func (tx *Transaction) Close() {
	tx.engine.TxRegistry.Unregister(tx)
}

// BeginRead starts a read-only snapshot transaction at Repeatable Read.
func (se *StorageEngine) BeginRead() *Transaction {
	return se.BeginTransaction(RepeatableRead)
}

// IsVisible reports whether a row version created at createLSN is visible
// to this transaction's snapshot.
func (tx *Transaction) IsVisible(createLSN uint64) bool {
	// basic rule: we see everything committed before our snapshot
	return createLSN <= tx.SnapshotLSN
}

func (se *StorageEngine) Close() error {
	var err error
	if se.WAL != nil {
		if wErr := se.WAL.Close(); wErr != nil {
			err = wErr
		}
	}
	// TODO: Clean up TxRegistry? Not strictly needed as Engine is closing.

	// close every table's heap, once each (several tables can share a heap)
	closedHeaps := make(map[*heap.HeapManager]bool)
	for _, tableName := range se.TableMetaData.ListTables() {
		table, _ := se.TableMetaData.GetTableByName(tableName)
		if table != nil && table.Heap != nil && !closedHeaps[table.Heap] {
			if hErr := table.Heap.Close(); hErr != nil {
				if err == nil {
					err = hErr
				} else {
					err = fmt.Errorf("%v; heap close error: %v", err, hErr)
				}
			}
			closedHeaps[table.Heap] = true
		}
	}
	return err
}

func (se *StorageEngine) Cursor(tree *btree.BPlusTree) *Cursor {
	return &Cursor{tree: tree}
}

// Put inserts or updates a row under key, durably: WAL first, then heap,
// then index.
func (se *StorageEngine) Put(tableName string, indexName string, key types.Value, document string) error {
	table, err := se.TableMetaData.GetTableByName(tableName)
	if err != nil {
		return err
	}

	// TableMetaData already guards the table map; no need to lock the whole
	// table just to look up its index.
	index, err := table.GetIndex(indexName)
	if err != nil {
		return err
	}

	// Try to convert to BSON for validation and denser storage; fall back to
	// the raw bytes if document isn't valid JSON (kept for callers handing in
	// already-encoded payloads).
	bsonDoc, err := JsonToBson(document)
	var bsonData []byte
	if err == nil {
		exists, keyType := DoesTheKeyExist(bsonDoc, indexName)
		if !exists {
			return &errors.IndexNotFoundError{
				Name: indexName,
			}
		}

		if keyType != index.Type {
			return &errors.InvalidKeyTypeError{
				Name:     indexName,
				TypeName: keyType.String(),
			}
		}

		bsonData, _ = MarshalBson(bsonDoc)
	} else {
		bsonData = []byte(document)
	}

	// LSN must be minted before the WAL or heap write so both agree on order.
	currentLSN := se.lsnTracker.Next()

	// 1. Write-ahead log
	if se.WAL != nil {
		payload, err := SerializeDocumentEntry(tableName, indexName, key, bsonData)
		if err != nil {
			return err
		}

		entry := wal.AcquireEntry()
		entry.Header.Magic = wal.WALMagic
		entry.Header.Version = 1
		entry.Header.EntryType = wal.EntryInsert // update is logged as insert too; both append a new version

		entry.Header.LSN = currentLSN

		entry.Header.PayloadLen = uint32(len(payload))
		entry.Header.CRC32 = wal.CalculateCRC32(payload)
		entry.Payload = append(entry.Payload, payload...)

		if err := se.WAL.WriteEntry(entry); err != nil {
			wal.ReleaseEntry(entry)
			return fmt.Errorf("wal write failed: %w", err)
		}
		wal.ReleaseEntry(entry)
	}

	// 2-4. Atomic upsert: write the new heap version, then swing the index
	// entry to point at it, all under the leaf lock so a concurrent reader
	// never sees the tree pointing past the heap write.
	err = index.Tree.Upsert(key, func(oldOffset int64, exists bool) (int64, error) {
		var prevOffset int64 = -1
		if exists {
			prevOffset = oldOffset
		}

		offset, err := table.Heap.Write(bsonData, currentLSN, prevOffset)
		if err != nil {
			return 0, fmt.Errorf("heap write failed: %w", err)
		}

		return offset, nil
	})

	if err != nil {
		return err
	}

	return nil
}

// Get looks up key within the transaction's snapshot.
func (tx *Transaction) Get(tableName string, indexName string, key types.Value) (string, bool, error) {
	tx.refreshSnapshot() // no-op under Repeatable Read, advances under Read Committed

	se := tx.engine

	table, err := se.TableMetaData.GetTableByName(tableName)
	if err != nil {
		return "", false, err
	}

	// no table lock needed; the tree's own latching handles concurrent readers

	index, err := table.GetIndex(indexName)
	if err != nil {
		return "", false, err
	}

	currentOffset, found := index.Tree.Get(key)
	if !found {
		return "", false, nil
	}

	// walk the version chain until we find the version visible to this snapshot
	for currentOffset != -1 {
		docBytes, header, err := table.Heap.Read(currentOffset)
		if err != nil {
			return "", true, fmt.Errorf("failed to read from heap: %w", err)
		}

		if tx.IsVisible(header.CreateLSN) {
			// this version existed (by creation) as of our snapshot; now
			// check whether it was already deleted by then too
			isVisibleVersion := header.Valid || (header.DeleteLSN > tx.SnapshotLSN)

			if isVisibleVersion {
				jsonStr, err := BsonToJson(docBytes)
				if err == nil {
					return jsonStr, true, nil
				}
				return string(docBytes), true, nil
			} else {
				// created before our snapshot but also deleted before it: the
				// key doesn't exist for this snapshot
				return "", false, nil
			}
		}

		// this version was created after our snapshot; look further back
		currentOffset = header.PrevOffset
	}

	// reached the end of the chain with nothing visible
	return "", false, nil

}

// Get is a convenience wrapper: autocommit, snapshot taken at call time.
func (se *StorageEngine) Get(tableName string, indexName string, key types.Value) (string, bool, error) {
	tx := se.BeginRead()
	defer tx.Close() // autocommit: release the transaction's registry slot
	return tx.Get(tableName, indexName, key)
}

// Scan runs a range or predicate search within the transaction's snapshot.
func (tx *Transaction) Scan(tableName string, indexName string, condition *query.ScanCondition) ([]string, error) {
	tx.refreshSnapshot()

	se := tx.engine

	table, err := se.TableMetaData.GetTableByName(tableName)
	if err != nil {
		return nil, err
	}

	// lock-free scan: the cursor's own leaf locking is enough

	results := []string{}
	index, err := table.GetIndex(indexName)
	if err != nil {
		return results, err
	}
	c := se.Cursor(index.Tree)
	defer c.Close()

	// optimize when the predicate lets us seek straight to a start key (=, >, >=, BETWEEN)
	if condition != nil && condition.ShouldSeek() {
		startKey := condition.GetStartKey()
		c.Seek(startKey)

		for c.Valid() {
			key := c.Key()

			if !condition.ShouldContinue(key) {
				break
			}

			if condition.Matches(key) {
				currentOffset := c.Value()

				// version chain traversal
				foundVisible := false
				var visibleVal string

				for currentOffset != -1 {
					docBytes, header, err := table.Heap.Read(currentOffset)
					if err != nil {
						return nil, fmt.Errorf("heap read failed at key %v: %w", key, err)
					}

					if tx.IsVisible(header.CreateLSN) {
						isVisibleVersion := header.Valid || (header.DeleteLSN > tx.SnapshotLSN)
						if isVisibleVersion {
							jsonStr, err := BsonToJson(docBytes)
							if err == nil {
								visibleVal = jsonStr
							} else {
								visibleVal = string(docBytes)
							}
							foundVisible = true
							break
						} else {
							// deleted as of this snapshot
							break
						}
					}
					currentOffset = header.PrevOffset
				}

				if foundVisible {
					results = append(results, visibleVal)
				}
			}
			c.Next()
		}
	} else {
		// full scan for operators like != and < that can't seek
		c.Seek(nil)

		for c.Valid() {
			key := c.Key()

			if condition != nil && !condition.ShouldContinue(key) {
				break
			}

			if condition == nil || condition.Matches(key) {
				currentOffset := c.Value()

				foundVisible := false
				var visibleVal string

				for currentOffset != -1 {
					docBytes, header, err := table.Heap.Read(currentOffset)
					if err != nil {
						return nil, fmt.Errorf("heap read failed at key %v: %w", key, err)
					}

					if tx.IsVisible(header.CreateLSN) {
						isVisibleVersion := header.Valid || (header.DeleteLSN > tx.SnapshotLSN)
						if isVisibleVersion {
							jsonStr, err := BsonToJson(docBytes)
							if err == nil {
								visibleVal = jsonStr
							} else {
								visibleVal = string(docBytes)
							}
							foundVisible = true
							break
						} else {
							break
						}
					}
					currentOffset = header.PrevOffset
				}

				if foundVisible {
					results = append(results, visibleVal)
				}
			}
			c.Next()
		}
	}

	return results, nil
}

// AddIndex builds a new secondary index by walking the table's primary
// index once and keying every row's current heap version on the value
// stored under column. It takes the table's write lock for the
// duration of the build, so concurrent statements block until the
// index is populated.
func (se *StorageEngine) AddIndex(tableName, column string, idx Index, treeOrder int) error {
	table, err := se.TableMetaData.GetTableByName(tableName)
	if err != nil {
		return err
	}

	table.Lock()
	defer table.Unlock()

	if _, exists := table.Indices[idx.Name]; exists {
		return errors.NewConstraintViolation("index %q already exists on table %q", idx.Name, tableName)
	}
	if idx.Primary {
		return errors.NewConstraintViolation("table %q already has a primary index", tableName)
	}

	primary, err := table.PrimaryIndex()
	if err != nil {
		return err
	}

	var tree *btree.BPlusTree
	if idx.Unique {
		tree = btree.NewUniqueTree(treeOrder)
	} else {
		tree = btree.NewTree(treeOrder)
	}

	c := se.Cursor(primary.Tree)
	c.Seek(nil)
	for c.Valid() {
		offset := c.Value()
		docBytes, header, err := table.Heap.Read(offset)
		if err != nil {
			c.Close()
			return fmt.Errorf("heap read failed while building index %s: %w", idx.Name, err)
		}
		if header.Valid {
			doc, err := UnmarshalBson(docBytes)
			if err != nil {
				c.Close()
				return fmt.Errorf("decode row while building index %s: %w", idx.Name, err)
			}
			if val, err := GetValueFromBson(doc, column); err == nil {
				if err := tree.Insert(val, offset); err != nil {
					c.Close()
					return fmt.Errorf("building index %s: %w", idx.Name, err)
				}
			}
		}
		c.Next()
	}
	c.Close()

	idx.Tree = tree
	table.Indices[idx.Name] = &idx
	return nil
}

// InsertRow writes a document and updates every index keyed off it
// atomically: the heap write happens once, every index entry swings to the
// same offset.
func (se *StorageEngine) InsertRow(tableName string, doc string, keys map[string]types.Value) error {
	table, err := se.TableMetaData.GetTableByName(tableName)
	if err != nil {
		return err
	}

	table.Lock()
	defer table.Unlock()

	bsonDoc, err := JsonToBson(doc)
	var bsonData []byte
	if err == nil {
		// validate each key against its index
		for indexName := range keys {
			index, err := table.GetIndex(indexName)
			if err != nil {
				return err
			}
			exists, keyType := DoesTheKeyExist(bsonDoc, indexName)
			if !exists {
				return &errors.IndexNotFoundError{Name: indexName}
			}
			if keyType != index.Type {
				return &errors.InvalidKeyTypeError{
					Name:     indexName,
					TypeName: keyType.String(),
				}
			}
		}
		bsonData, _ = MarshalBson(bsonDoc)
	} else {
		bsonData = []byte(doc)
	}

	// constraint check: primary key must be unique
	for indexName, key := range keys {
		index, err := table.GetIndex(indexName)
		if err == nil && index.Primary {
			if _, found := index.Tree.Get(key); found {
				return fmt.Errorf("duplicate key error: key %v already exists in index %s", key, indexName)
			}
		}
	}

	currentLSN := se.lsnTracker.Next()

	// 2. Write-ahead log (one entry covering every index)
	if se.WAL != nil {
		payload, err := SerializeMultiIndexEntry(tableName, keys, bsonData)
		if err != nil {
			return err
		}

		entry := wal.AcquireEntry()
		entry.Header.Magic = wal.WALMagic
		entry.Header.Version = 1
		entry.Header.EntryType = wal.EntryMultiInsert
		entry.Header.LSN = currentLSN
		entry.Header.PayloadLen = uint32(len(payload))
		entry.Header.CRC32 = wal.CalculateCRC32(payload)
		entry.Payload = append(entry.Payload, payload...)

		if err := se.WAL.WriteEntry(entry); err != nil {
			wal.ReleaseEntry(entry)
			return fmt.Errorf("wal write failed: %w", err)
		}
		wal.ReleaseEntry(entry)
	}

	// 3. Write to heap once
	offset, err := table.Heap.Write(bsonData, currentLSN, -1) // new rows start with no previous version
	if err != nil {
		return fmt.Errorf("heap write failed: %w", err)
	}

	// 4. Update every index
	for indexName, key := range keys {
		index, _ := table.GetIndex(indexName)
		// Replace upserts safely whether or not the key already existed.
		if err := index.Tree.Replace(key, offset); err != nil {
			return fmt.Errorf("failed to update index %s: %w", indexName, err)
		}
	}

	return nil
}

// Scan is a convenience wrapper: autocommit.
func (se *StorageEngine) Scan(tableName string, indexName string, condition *query.ScanCondition) ([]string, error) {
	tx := se.BeginRead()
	defer tx.Close()
	return tx.Scan(tableName, indexName, condition)
}

// RangeScan is a convenience wrapper for BETWEEN, kept for callers that
// predate ScanCondition.
func (se *StorageEngine) RangeScan(tableName string, indexName string, start, end types.Value) ([]string, error) {
	return se.Scan(tableName, indexName, query.Between(start, end))
}

// Del removes the row under key (DELETE FROM ... WHERE key = ...).
func (se *StorageEngine) Del(tableName string, indexName string, key types.Value) (bool, error) {
	table, err := se.TableMetaData.GetTableByName(tableName)
	if err != nil {
		return false, err
	}

	// no table lock; Upsert below handles synchronization

	index, err := table.GetIndex(indexName)
	if err != nil {
		return false, err
	}

	currentLSN := se.lsnTracker.Next()

	// 1. Write-ahead log
	if se.WAL != nil {
		// delete only needs the key; no document payload
		payload, err := SerializeDocumentEntry(tableName, indexName, key, nil)
		if err != nil {
			return false, err
		}

		entry := wal.AcquireEntry()
		entry.Header.Magic = wal.WALMagic
		entry.Header.Version = 1
		entry.Header.EntryType = wal.EntryDelete

		entry.Header.LSN = currentLSN

		entry.Header.PayloadLen = uint32(len(payload))
		entry.Header.CRC32 = wal.CalculateCRC32(payload)
		entry.Payload = append(entry.Payload, payload...)

		if err := se.WAL.WriteEntry(entry); err != nil {
			wal.ReleaseEntry(entry)
			return false, fmt.Errorf("wal write failed: %w", err)
		}
		wal.ReleaseEntry(entry)
	}

	// 2. Mark the row deleted in the heap; the index entry keeps pointing at
	// the same offset, now a tombstone, so older snapshots can still see it.
	var wasFound bool
	err = index.Tree.Upsert(key, func(oldOffset int64, exists bool) (int64, error) {
		if !exists {
			return 0, nil // nothing to delete
		}
		wasFound = true

		if err := table.Heap.Delete(oldOffset, currentLSN); err != nil {
			return 0, fmt.Errorf("heap delete failed: %w", err)
		}

		// the index entry is unchanged: same offset, now marked deleted
		return oldOffset, nil
	})

	if err != nil {
		return false, err
	}

	// MVCC: do not remove the key from the tree here. It must keep pointing
	// at the tombstone so older transactions can still see the pre-delete
	// version through the chain. Vacuum removes it once no transaction can
	// need it anymore.

	return wasFound, nil
}

// CreateCheckpoint snapshots every table's indexes to disk. The table lock
// is only held long enough to capture a consistent LSN and the current
// index set; serialization and file I/O run concurrently with new writes.
func (se *StorageEngine) CreateCheckpoint() error {
	for _, tableName := range se.TableMetaData.ListTables() {
		table, err := se.TableMetaData.GetTableByName(tableName)
		if err != nil {
			continue
		}

		table.RLock()
		currentLSN := se.lsnTracker.Current()
		indices := table.GetIndicesUnsafe() // already holding the lock
		table.RUnlock()

		for _, idx := range indices {
			// serialization RLocks each node (latch crabbing), so the
			// on-disk structure is consistent even though it may be "fuzzy"
			// (might include data from LSNs after currentLSN).
			if err := se.Checkpoint.CreateCheckpoint(tableName, idx.Name, idx.Tree, currentLSN); err != nil {
				return err
			}
		}
	}
	return nil
}

// refreshSnapshot advances the snapshot LSN for Read Committed transactions
// before each statement; a no-op under Repeatable Read.
func (tx *Transaction) refreshSnapshot() {
	if tx.Level == ReadCommitted {
		tx.SnapshotLSN = tx.engine.lsnTracker.Current()
	}
}

// Recover rebuilds in-memory state from the latest checkpoint per index
// plus whatever WAL segments were written since, reading walDir's segment
// set in order (oldest to newest, transparently decompressing any rotated
// .wal.zst segments) and stopping cleanly at a torn tail instead of
// failing recovery. Must be called before any concurrent operation on the
// engine: during recovery the caller has exclusive access (startup).
func (se *StorageEngine) Recover(walDir string) error {
	var maxLSN uint64                     // highest LSN observed globally
	loadedLSNs := make(map[string]uint64) // "table.index" -> LSN already covered by its checkpoint

	// 1. Load the latest checkpoint per index, if any.
	for _, tableName := range se.TableMetaData.ListTables() {
		table, err := se.TableMetaData.GetTableByName(tableName)
		if err != nil {
			continue
		}

		for _, idx := range table.GetIndices() {
			tree, lastLSN, err := se.Checkpoint.LoadLatestCheckpoint(tableName, idx.Name)
			key := fmt.Sprintf("%s.%s", tableName, idx.Name)
			if err == nil {
				idx.Tree = tree
				loadedLSNs[key] = lastLSN
				fmt.Printf("Recovered table '%s' index '%s' from Checkpoint (LSN %d)\n", tableName, idx.Name, lastLSN)

				if lastLSN > maxLSN {
					maxLSN = lastLSN
				}
			} else if !os.IsNotExist(err) {
				return fmt.Errorf("failed to load checkpoint for %s.%s: %w", tableName, idx.Name, err)
			} else {
				loadedLSNs[key] = 0 // no checkpoint for this index
			}
		}
	}

	// 2. Replay WAL segments for the delta the checkpoints don't cover.
	if _, err := os.Stat(walDir); os.IsNotExist(err) {
		se.lsnTracker.Set(maxLSN)
		return nil
	}

	count := 0
	skipped := 0

	replayErr := wal.Replay(walDir, func(entry *wal.WALEntry) error {
		if entry.Header.LSN > maxLSN {
			maxLSN = entry.Header.LSN
		}

		switch entry.Header.EntryType {
		case wal.EntryInsert, wal.EntryUpdate, wal.EntryDelete:
			tableName, indexName, key, docBytes, err := DeserializeDocumentEntry(entry.Payload)
			if err != nil {
				return fmt.Errorf("deserialize failed at entry %d: %w", count, err)
			}

			lookupKey := fmt.Sprintf("%s.%s", tableName, indexName)
			if loadedLSNs[lookupKey] >= entry.Header.LSN {
				skipped++
				return nil
			}

			table, err := se.TableMetaData.GetTableByName(tableName)
			if err != nil {
				return nil // table mismatch/since-dropped
			}
			index, err := table.GetIndex(indexName)
			if err != nil {
				return nil
			}

			if entry.Header.EntryType == wal.EntryDelete {
				leaf, idx := index.Tree.FindLeafLowerBound(key)
				if leaf != nil && idx < leaf.N && leaf.Keys[idx].Compare(key) == 0 {
					offset := leaf.DataPtrs[idx]
					table.Heap.Delete(offset, entry.Header.LSN)
				}
			} else {
				var prevOffset int64 = -1
				node, found := index.Tree.Search(key)
				if found {
					_, idx := node.FindLeafLowerBound(key)
					if idx < node.N && node.Keys[idx].Compare(key) == 0 {
						prevOffset = node.DataPtrs[idx]
					}
				}

				offset, err := table.Heap.Write(docBytes, entry.Header.LSN, prevOffset)
				if err != nil {
					return fmt.Errorf("heap write failed: %w", err)
				}
				if err := index.Tree.Replace(key, offset); err != nil {
					return fmt.Errorf("failed to update tree during recovery: %w", err)
				}
			}

		case wal.EntryMultiInsert:
			tableName, keys, docBytes, err := DeserializeMultiIndexEntry(entry.Payload)
			if err != nil {
				return fmt.Errorf("deserialize multi-key failed: %w", err)
			}

			table, err := se.TableMetaData.GetTableByName(tableName)
			if err != nil {
				return nil
			}

			needsUpdate := false
			for indexName := range keys {
				lookupKey := fmt.Sprintf("%s.%s", tableName, indexName)
				if loadedLSNs[lookupKey] < entry.Header.LSN {
					needsUpdate = true
					break
				}
			}

			if !needsUpdate {
				skipped++
				return nil
			}

			// written once to the heap, even though some indices might
			// already be covered by their own checkpoint
			offset, err := table.Heap.Write(docBytes, entry.Header.LSN, -1)
			if err != nil {
				return fmt.Errorf("heap write failed: %w", err)
			}

			for indexName, key := range keys {
				lookupKey := fmt.Sprintf("%s.%s", tableName, indexName)
				if loadedLSNs[lookupKey] < entry.Header.LSN {
					index, err := table.GetIndex(indexName)
					if err != nil {
						continue
					}
					if err := index.Tree.Replace(key, offset); err != nil {
						return fmt.Errorf("failed to update index %s during recovery: %w", indexName, err)
					}
				}
			}
		}

		count++
		return nil
	})
	if replayErr != nil {
		return fmt.Errorf("recovery error at entry %d: %w", count, replayErr)
	}

	se.lsnTracker.Set(maxLSN)
	fmt.Printf("Recovered: %d entries from WAL applied, %d skipped. Current LSN: %d\n", count, skipped, maxLSN)
	return nil
}

// Vacuum performs garbage collection on the specified table. It removes
// dead tombstones (deleted records visible to no active transaction) and
// compacts the heap file, reclaiming space. Returns the number of bytes
// reclaimed (old heap size minus new heap size).
func (se *StorageEngine) Vacuum(tableName string) (int64, error) {
	table, err := se.TableMetaData.GetTableByName(tableName)
	if err != nil {
		return 0, err
	}
	table.Lock()
	defer table.Unlock()

	// any tombstone with DeleteLSN < minLSN is safe to remove
	minLSN := se.TxRegistry.GetMinActiveLSN()

	fmt.Printf("Starting Vacuum for table %s. MinLSN: %d\n", tableName, minLSN)

	oldHeap := table.Heap
	newHeapPath := oldHeap.Path() + "_vacuum"
	os.Remove(newHeapPath + "_001.data") // clean up a previous failed run's first segment

	newHeap, err := heap.NewHeapManager(newHeapPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp heap: %w", err)
	}

	offsetMap := make(map[int64]int64) // old offset -> new offset
	type treeUpdate struct {
		Index     string
		Key       types.Value
		NewOffset int64
	}
	var updates []treeUpdate

	iter, err := oldHeap.NewIterator()
	if err != nil {
		newHeap.Close()
		return 0, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for {
		doc, header, oldOffset, err := iter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			newHeap.Close()
			return 0, fmt.Errorf("heap iteration failed: %w", err)
		}

		keep := true
		if !header.Valid {
			// tombstone: dead once no active snapshot could still need it
			if header.DeleteLSN < minLSN {
				keep = false
			}
		}

		var bsonDoc bson.D
		parseErr := func() error {
			d, err := UnmarshalBson(doc)
			if err == nil {
				bsonDoc = d
				return nil
			}
			d, err = JsonToBson(string(doc))
			if err == nil {
				bsonDoc = d
				return nil
			}
			return fmt.Errorf("failed to parse doc")
		}()

		if !keep {
			// dead tombstone: drop its index entries too
			if parseErr == nil {
				for _, idx := range table.GetIndicesUnsafe() {
					keyVal, err := GetValueFromBson(bsonDoc, idx.Name)
					if err == nil {
						idx.Tree.Remove(keyVal)
					}
				}
			}
			continue
		}

		newPrev := int64(-1)
		if header.PrevOffset != -1 {
			if mapped, ok := offsetMap[header.PrevOffset]; ok {
				newPrev = mapped
			}
		}

		newOffset, err := newHeap.Write(doc, header.CreateLSN, newPrev)
		if err != nil {
			newHeap.Close()
			return 0, fmt.Errorf("failed to write to new heap: %w", err)
		}

		if !header.Valid {
			// preserve tombstone status in the compacted heap
			if err := newHeap.Delete(newOffset, header.DeleteLSN); err != nil {
				newHeap.Close()
				return 0, fmt.Errorf("failed to mark deleted in new heap: %w", err)
			}
		}

		offsetMap[oldOffset] = newOffset

		if parseErr == nil {
			for _, idx := range table.GetIndicesUnsafe() {
				keyVal, err := GetValueFromBson(bsonDoc, idx.Name)
				if err == nil {
					updates = append(updates, treeUpdate{
						Index:     idx.Name,
						Key:       keyVal,
						NewOffset: newOffset,
					})
				}
			}
		}
	}

	iter.Close() // release file handles before swapping files
	for _, up := range updates {
		if idx, ok := table.Indices[up.Index]; ok {
			idx.Tree.Upsert(up.Key, func(current int64, exists bool) (int64, error) {
				return up.NewOffset, nil
			})
		}
	}

	oldHeap.Close()
	newHeap.Close()

	oldPath := oldHeap.Path()
	// strict pattern to avoid matching the _vacuum files themselves
	files, _ := filepath.Glob(oldPath + "_[0-9][0-9][0-9].data")
	var oldBytes int64
	for _, f := range files {
		if fi, err := os.Stat(f); err == nil {
			oldBytes += fi.Size()
		}
		os.Remove(f)
	}

	newFiles, _ := filepath.Glob(newHeapPath + "_[0-9][0-9][0-9].data")
	var newBytes int64
	for _, f := range newFiles {
		if fi, err := os.Stat(f); err == nil {
			newBytes += fi.Size()
		}
		// strip "_vacuum" back out: name_vacuum_XXX.data -> name_XXX.data
		suffix := f[len(newHeapPath):] // "_001.data"
		dest := oldPath + suffix
		if err := os.Rename(f, dest); err != nil {
			return 0, fmt.Errorf("failed to rename vacuum file: %w", err)
		}
	}

	finalHeap, err := heap.NewHeapManager(oldPath)
	if err != nil {
		return 0, fmt.Errorf("failed to reopen heap: %w", err)
	}
	table.Heap = finalHeap

	freed := oldBytes - newBytes
	if freed < 0 {
		freed = 0
	}
	return freed, nil
}
