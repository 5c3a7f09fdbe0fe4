// Package errors defines the engine's closed error taxonomy (spec §6):
//
//	ParseError | TableExists | TableNotFound | ColumnNotFound |
//	TypeMismatch | ConstraintViolation | ExecutionError |
//	UnsupportedOperation | LockError | Conflict{kind}
//
// Each kind is its own exported struct type with an Error() string, the
// way the original catalog/index errors below already were. Causes are
// wrapped with github.com/cockroachdb/errors so the chain survives
// errors.Is/errors.As and carries a stack trace, which fmt.Errorf's %w
// alone does not give callers debugging an embedded engine.
package errors

import (
	"fmt"

	cerrors "github.com/cockroachdb/errors"
)

// ConflictKind classifies a ConflictError (spec §6, §4.D, §4.J).
type ConflictKind uint8

const (
	ConflictWriteWrite ConflictKind = iota
	ConflictOptimisticLock
	ConflictUniqueKey
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictWriteWrite:
		return "write_write"
	case ConflictOptimisticLock:
		return "optimistic_lock"
	case ConflictUniqueKey:
		return "unique_key"
	default:
		return "unknown"
	}
}

// --- catalog / index errors (carried from the original engine) ---

type TableAlreadyExistsError struct {
	Name string
}

func (e *TableAlreadyExistsError) Error() string {
	return fmt.Sprintf("table %q already exists", e.Name)
}

type TableNotFoundError struct {
	Name string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table %q not found", e.Name)
}

type TwoPrimarykeysError struct {
	Total int
}

func (e *TwoPrimarykeysError) Error() string {
	return fmt.Sprintf("You have defined a total of %d primary keys. Only one primary key is allowed.", e.Total)
}

type PrimarykeyNotDefinedError struct {
	TableName string
}

func (e *PrimarykeyNotDefinedError) Error() string {
	return fmt.Sprintf("Primary key not defined. Table name: %q", e.TableName)
}

type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key violation: key %q already exists in unique index", e.Key)
}

type IndexNotFoundError struct {
	Name string
}

func (e *IndexNotFoundError) Error() string { return fmt.Sprintf("index %q not found", e.Name) }

type InvalidKeyTypeError struct {
	Name     string
	TypeName string
}

func (e *InvalidKeyTypeError) Error() string {
	return fmt.Sprintf("invalid key type for index %q: %s", e.Name, e.TypeName)
}

// --- closed SQL-facing taxonomy (spec §6) ---

type ParseError struct {
	Msg   string
	Cause error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse error: %s", e.Msg) }
func (e *ParseError) Unwrap() error { return e.Cause }

func NewParseError(format string, args ...any) *ParseError {
	return &ParseError{Msg: fmt.Sprintf(format, args...)}
}

type TableExistsError struct{ Name string }

func (e *TableExistsError) Error() string { return fmt.Sprintf("table %q already exists", e.Name) }

type TableNotFoundSQLError struct{ Name string }

func (e *TableNotFoundSQLError) Error() string { return fmt.Sprintf("table %q not found", e.Name) }

type ColumnNotFoundError struct {
	Table  string
	Column string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("column %q not found on table %q", e.Column, e.Table)
}

type TypeMismatchError struct {
	Msg   string
	Cause error
}

func (e *TypeMismatchError) Error() string { return fmt.Sprintf("type mismatch: %s", e.Msg) }
func (e *TypeMismatchError) Unwrap() error  { return e.Cause }

func NewTypeMismatch(format string, args ...any) *TypeMismatchError {
	return &TypeMismatchError{Msg: fmt.Sprintf(format, args...)}
}

type ConstraintViolationError struct{ Msg string }

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("constraint violation: %s", e.Msg)
}

func NewConstraintViolation(format string, args ...any) *ConstraintViolationError {
	return &ConstraintViolationError{Msg: fmt.Sprintf(format, args...)}
}

type ExecutionError struct {
	Msg   string
	Cause error
}

func (e *ExecutionError) Error() string { return fmt.Sprintf("execution error: %s", e.Msg) }
func (e *ExecutionError) Unwrap() error  { return e.Cause }

func NewExecutionError(format string, args ...any) *ExecutionError {
	return &ExecutionError{Msg: fmt.Sprintf(format, args...)}
}

type UnsupportedOperationError struct{ Msg string }

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported operation: %s", e.Msg)
}

func NewUnsupportedOperation(format string, args ...any) *UnsupportedOperationError {
	return &UnsupportedOperationError{Msg: fmt.Sprintf(format, args...)}
}

type LockError struct{ Msg string }

func (e *LockError) Error() string { return fmt.Sprintf("lock error: %s", e.Msg) }

func NewLockError(format string, args ...any) *LockError {
	return &LockError{Msg: fmt.Sprintf(format, args...)}
}

type ConflictError struct {
	Kind ConflictKind
	Msg  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict (%s): %s", e.Kind, e.Msg)
}

func NewConflict(kind ConflictKind, format string, args ...any) *ConflictError {
	return &ConflictError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches msg to cause with a recorded stack trace.
func Wrap(cause error, msg string) error {
	return cerrors.Wrap(cause, msg)
}

// Wrapf attaches a formatted msg to cause with a recorded stack trace.
func Wrapf(cause error, format string, args ...any) error {
	return cerrors.Wrapf(cause, format, args...)
}

// New creates a new stack-carrying error, mirroring cockroachdb/errors.New
// so callers in this module don't need to import both packages.
func New(msg string) error { return cerrors.New(msg) }

// Newf creates a new formatted, stack-carrying error.
func Newf(format string, args ...any) error { return cerrors.Newf(format, args...) }

// Is and As re-export the standard error-chain walkers for convenience.
func Is(err, target error) bool { return cerrors.Is(err, target) }
func As(err error, target any) bool { return cerrors.As(err, target) }
