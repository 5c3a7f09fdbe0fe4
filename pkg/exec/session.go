package exec

import (
	"path/filepath"
	"sync"

	"github.com/maxBogovick/relmem/pkg/catalog"
	"github.com/maxBogovick/relmem/pkg/errors"
	"github.com/maxBogovick/relmem/pkg/eval"
	"github.com/maxBogovick/relmem/pkg/heap"
	"github.com/maxBogovick/relmem/pkg/metrics"
	"github.com/maxBogovick/relmem/pkg/sqlparser"
	"github.com/maxBogovick/relmem/pkg/storage"
	"github.com/maxBogovick/relmem/pkg/txn"
	"github.com/maxBogovick/relmem/pkg/wal"
)

// Session binds one caller's statements to an engine handle. If the
// caller never issues BEGIN, every statement runs in its own implicit
// transaction — spec §4.H: "if no session context exists, the facade
// maintains an implicit session."
type Session struct {
	Storage   *storage.StorageEngine
	Catalog   *catalog.Catalog
	Txns      *txn.Manager
	Lock      *txn.StatementLock
	Registry  *eval.Registry
	Evaluator *eval.Evaluator
	Metrics   *metrics.Collector
	dataDir   string

	mu        sync.Mutex
	explicit  bool   // true once BEGIN has been issued and not yet closed
	txnID     uint64 // pkg/txn.Manager id of the open transaction
	writeTxn  *storage.WriteTransaction
	readTxn   *storage.Transaction
	viewsMu   sync.Mutex
	views     map[string]*sqlparser.SelectStatement
}

// NewSession constructs a Session over a fresh storage engine and
// catalog, rooted at dataDir for per-table heap segment files. The WAL
// is left unattached (in-memory only); use NewDurableSession to enable
// WAL-backed durability.
func NewSession(dataDir string) (*Session, error) {
	return newSession(dataDir, nil, nil)
}

// NewDurableSession constructs a Session whose writes go through a
// WAL writer rooted at walDir, configured by opts (pass nil for
// wal.DefaultOptions). collector may be nil; when set, its
// ObserveWALFsync is wired as the WAL writer's FsyncObserver.
func NewDurableSession(dataDir, walDir string, opts *wal.Options, collector *metrics.Collector) (*Session, error) {
	o := wal.DefaultOptions()
	if opts != nil {
		o = *opts
	}
	o.DirPath = walDir
	if collector != nil {
		o.FsyncObserver = collector.ObserveWALFsync
	}
	writer, err := wal.NewWALWriter(o)
	if err != nil {
		return nil, err
	}
	return newSession(dataDir, writer, collector)
}

func newSession(dataDir string, walWriter *wal.WALWriter, collector *metrics.Collector) (*Session, error) {
	tmd := storage.NewTableMenager()
	se, err := storage.NewStorageEngine(tmd, walWriter)
	if err != nil {
		return nil, err
	}
	registry := eval.NewDefaultRegistry()
	return &Session{
		Storage:   se,
		Catalog:   catalog.New(),
		Txns:      txn.NewManager(),
		Lock:      &txn.StatementLock{},
		Registry:  registry,
		Evaluator: &eval.Evaluator{Registry: registry},
		Metrics:   collector,
		dataDir:   dataDir,
		views:     make(map[string]*sqlparser.SelectStatement),
	}, nil
}

func (s *Session) tablePath(name string) string {
	return filepath.Join(s.dataDir, name)
}

func (s *Session) newHeap(name string) (*heap.HeapManager, error) {
	return heap.NewHeapManager(s.tablePath(name))
}

// Begin opens an explicit transaction bound to this session. Returns
// ExecutionError if one is already open.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.explicit {
		return errors.NewExecutionError("a transaction is already open on this session")
	}
	s.explicit = true
	s.txnID = s.Txns.Begin(txn.SnapshotIsolation)
	s.writeTxn = s.Storage.BeginWriteTransaction()
	s.readTxn = s.Storage.BeginTransaction(storage.RepeatableRead)
	return nil
}

// Commit commits the session's explicit transaction.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.explicit {
		return errors.NewExecutionError("no transaction is open on this session")
	}
	if err := s.writeTxn.Commit(); err != nil {
		s.Metrics.RecordConflictErr(err)
		return err
	}
	if err := s.Txns.Commit(s.txnID); err != nil {
		s.Metrics.RecordConflictErr(err)
		return err
	}
	s.readTxn.Close()
	s.clearTxnLocked()
	s.Metrics.RecordCommit()
	return nil
}

// Rollback aborts the session's explicit transaction, discarding any
// buffered writes.
func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.explicit {
		return errors.NewExecutionError("no transaction is open on this session")
	}
	_ = s.writeTxn.Rollback()
	_ = s.Txns.Abort(s.txnID)
	s.readTxn.Close()
	s.clearTxnLocked()
	s.Metrics.RecordRollback()
	return nil
}

func (s *Session) clearTxnLocked() {
	s.explicit = false
	s.txnID = 0
	s.writeTxn = nil
	s.readTxn = nil
}

// withStatement runs fn under an implicit single-statement transaction
// when the caller has no explicit one open, committing on success and
// rolling back on error; under an explicit transaction it simply runs
// fn against the already-open write/read transactions.
func (s *Session) withStatement(fn func(wtx *storage.WriteTransaction, rtx *storage.Transaction) error) error {
	s.mu.Lock()
	if s.explicit {
		wtx, rtx := s.writeTxn, s.readTxn
		s.mu.Unlock()
		return fn(wtx, rtx)
	}
	s.mu.Unlock()

	wtx := s.Storage.BeginWriteTransaction()
	rtx := s.Storage.BeginTransaction(storage.RepeatableRead)
	defer rtx.Close()

	if err := fn(wtx, rtx); err != nil {
		_ = wtx.Rollback()
		return err
	}
	return wtx.Commit()
}

// withWriteStatement is withStatement plus a pkg/txn.Manager
// transaction id to record writes against: under an explicit
// transaction that's the session's own s.txnID, but a plain INSERT/
// UPDATE/DELETE outside BEGIN...COMMIT never otherwise touches the
// manager, which left Manager.Commit's write-write check with an
// empty write-set to examine. Every writer now gets a manager-tracked
// id, implicit or not.
func (s *Session) withWriteStatement(fn func(wtx *storage.WriteTransaction, rtx *storage.Transaction, txnID uint64) error) error {
	s.mu.Lock()
	if s.explicit {
		wtx, rtx, id := s.writeTxn, s.readTxn, s.txnID
		s.mu.Unlock()
		return fn(wtx, rtx, id)
	}
	s.mu.Unlock()

	txnID := s.Txns.Begin(txn.SnapshotIsolation)
	wtx := s.Storage.BeginWriteTransaction()
	rtx := s.Storage.BeginTransaction(storage.RepeatableRead)
	defer rtx.Close()

	if err := fn(wtx, rtx, txnID); err != nil {
		_ = wtx.Rollback()
		_ = s.Txns.Abort(txnID)
		return err
	}
	if err := wtx.Commit(); err != nil {
		_ = s.Txns.Abort(txnID)
		return err
	}
	if err := s.Txns.Commit(txnID); err != nil {
		s.Metrics.RecordConflictErr(err)
		return err
	}
	return nil
}

func (s *Session) registerView(name string, query *sqlparser.SelectStatement) {
	s.viewsMu.Lock()
	defer s.viewsMu.Unlock()
	s.views[name] = query
}

func (s *Session) dropView(name string) bool {
	s.viewsMu.Lock()
	defer s.viewsMu.Unlock()
	if _, ok := s.views[name]; !ok {
		return false
	}
	delete(s.views, name)
	return true
}

func (s *Session) lookupView(name string) (*sqlparser.SelectStatement, bool) {
	s.viewsMu.Lock()
	defer s.viewsMu.Unlock()
	q, ok := s.views[name]
	return q, ok
}
