// Package persist implements the application-level persistence object
// layer (spec §4.J): command envelopes, an optimistic-CAS
// AutonomousAggregate facade over a row-per-aggregate table, an audit
// trail, an outbox, idempotent command replay, and schema migrations.
// Everything here is built on top of pkg/exec's session rather than
// against pkg/storage/pkg/catalog directly, the same way an
// application would embed the engine: statements are parsed-AST
// constructions handed to Session.ExecuteStatement, not hand-built SQL
// text, so there is no string-escaping surface.
package persist

import (
	"encoding/base64"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/maxBogovick/relmem/pkg/errors"
)

// ManagedConflictKind is the closed taxonomy the persistence layer
// exposes to application code so it can choose HTTP status codes or
// retry behavior without inspecting engine internals (spec §4.J
// "Conflict classification").
type ManagedConflictKind uint8

const (
	OptimisticLock ManagedConflictKind = iota
	WriteWrite
	UniqueKeyConflict
	NotFound
	Validation
	Internal
)

func (k ManagedConflictKind) String() string {
	switch k {
	case OptimisticLock:
		return "optimistic_lock"
	case WriteWrite:
		return "write_write"
	case UniqueKeyConflict:
		return "unique_key"
	case NotFound:
		return "not_found"
	case Validation:
		return "validation"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// PersistDomainErrorKind is the kind an aggregate client sees (spec
// §7 "Aggregate clients see a PersistDomainError kind"). It is
// deliberately a distinct, smaller enum from ManagedConflictKind: both
// layers are exposed rather than collapsed into one, per the Open
// Question resolution in spec §9 — ClassifyConflict below is the
// mapping between them, not a merge.
type PersistDomainErrorKind uint8

const (
	DomainNotFound PersistDomainErrorKind = iota
	DomainConflictConcurrent
	DomainConflictUnique
	DomainValidation
	DomainInternal
)

func (k PersistDomainErrorKind) String() string {
	switch k {
	case DomainNotFound:
		return "not_found"
	case DomainConflictConcurrent:
		return "conflict_concurrent"
	case DomainConflictUnique:
		return "conflict_unique"
	case DomainValidation:
		return "validation"
	case DomainInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// PersistDomainError is the error shape every AutonomousAggregate
// method returns; Cause preserves the underlying engine/business error
// for logging without forcing callers to type-switch on it.
type PersistDomainError struct {
	Kind  PersistDomainErrorKind
	Msg   string
	Cause error
}

func (e *PersistDomainError) Error() string {
	if e.Cause != nil {
		return e.Msg + ": " + e.Cause.Error()
	}
	return e.Msg
}

func (e *PersistDomainError) Unwrap() error { return e.Cause }

func newDomainError(kind PersistDomainErrorKind, msg string, cause error) *PersistDomainError {
	return &PersistDomainError{Kind: kind, Msg: msg, Cause: cause}
}

// ClassifyConflict maps an engine-level error — in practice an
// *errors.ConflictError raised by the storage/txn layers, or a
// *errors.ConstraintViolationError raised by a unique index — to the
// closed ManagedConflictKind taxonomy. Anything else is Internal.
func ClassifyConflict(err error) ManagedConflictKind {
	var conflict *errors.ConflictError
	if errors.As(err, &conflict) {
		switch conflict.Kind {
		case errors.ConflictWriteWrite:
			return WriteWrite
		case errors.ConflictOptimisticLock:
			return OptimisticLock
		case errors.ConflictUniqueKey:
			return UniqueKeyConflict
		}
	}
	var constraint *errors.ConstraintViolationError
	if errors.As(err, &constraint) {
		return UniqueKeyConflict
	}
	var notFound *errors.TableNotFoundSQLError
	if errors.As(err, &notFound) {
		return NotFound
	}
	return Internal
}

// domainKindOf maps a ManagedConflictKind onto the smaller
// PersistDomainErrorKind surface an aggregate client actually branches
// on.
func domainKindOf(k ManagedConflictKind) PersistDomainErrorKind {
	switch k {
	case OptimisticLock, WriteWrite:
		return DomainConflictConcurrent
	case UniqueKeyConflict:
		return DomainConflictUnique
	case NotFound:
		return DomainNotFound
	case Validation:
		return DomainValidation
	default:
		return DomainInternal
	}
}

// RetryPolicy governs how many times and how long apply() waits before
// retrying an engine write-write conflict. Business conflicts
// (optimistic lock, unique key, validation) are never retried
// regardless of this policy (spec §4.J step 6, §7).
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy retries a handful of times with a short capped
// exponential backoff — generous enough to ride out a concurrent
// writer without making a caller wait seconds for a single apply.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseBackoff: 2 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// Envelope is the persisted record of one command application (spec
// GLOSSARY "Envelope"): it carries the command's logical intent
// alongside the version it expected and the idempotency key it was
// submitted under, the shape recorded in both the audit row and (when
// present) the idempotency receipt.
type Envelope struct {
	PersistID       string
	Operation       string
	ExpectedVersion uint64
	IdempotencyKey  string
}

// encodeState bson-marshals an arbitrary model value and base64-wraps
// the bytes so it round-trips safely through a TEXT column — bson is
// the teacher's own structured-document codec (pkg/storage/bson.go),
// reused here for "one row per aggregate" the same way it already
// backs one row per document in the heap.
func encodeState(v any) (string, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "encode aggregate state")
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodeState(encoded string, out any) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return errors.Wrap(err, "decode aggregate state")
	}
	if err := bson.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "unmarshal aggregate state")
	}
	return nil
}
