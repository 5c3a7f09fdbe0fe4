package relmem

import "github.com/maxBogovick/relmem/pkg/errors"

// Type aliases over pkg/errors' closed error taxonomy, so a caller
// driving the facade never has to import the internal errors package
// to type-switch on what Execute returned.
type (
	ParseError                = errors.ParseError
	TableExistsError          = errors.TableExistsError
	TableNotFoundError        = errors.TableNotFoundSQLError
	ColumnNotFoundError       = errors.ColumnNotFoundError
	TypeMismatchError         = errors.TypeMismatchError
	ConstraintViolationError  = errors.ConstraintViolationError
	ExecutionError            = errors.ExecutionError
	UnsupportedOperationError = errors.UnsupportedOperationError
	LockError                 = errors.LockError
	ConflictError             = errors.ConflictError
	ConflictKind              = errors.ConflictKind
)

const (
	ConflictWriteWrite     = errors.ConflictWriteWrite
	ConflictOptimisticLock = errors.ConflictOptimisticLock
	ConflictUniqueKey      = errors.ConflictUniqueKey
)

// As reports whether err's chain contains an error matching target,
// per the standard errors.As contract (cockroachdb/errors underneath).
func As(err error, target any) bool { return errors.As(err, target) }

// Is reports whether err's chain contains target.
func Is(err, target error) bool { return errors.Is(err, target) }
