package errors

import (
	"testing"
)

func TestErrors_ErrorMethod(t *testing.T) {
	errs := []error{
		&TableAlreadyExistsError{Name: "t1"},
		&TableNotFoundError{Name: "t1"},
		&TwoPrimarykeysError{Total: 2},
		&PrimarykeyNotDefinedError{TableName: "t1"},
		&DuplicateKeyError{Key: "k1"},
		&IndexNotFoundError{Name: "i1"},
		&InvalidKeyTypeError{Name: "i1", TypeName: "int"},
		NewParseError("unexpected token %q", "SELEC"),
		&TableExistsError{Name: "users"},
		&TableNotFoundSQLError{Name: "users"},
		&ColumnNotFoundError{Table: "users", Column: "email"},
		NewTypeMismatch("column %q expects INTEGER, got TEXT", "age"),
		NewConstraintViolation("column %q cannot be null", "id"),
		NewExecutionError("encode row: %v", New("boom")),
		NewUnsupportedOperation("cross join"),
		NewLockError("row locked by another writer"),
		NewConflict(ConflictWriteWrite, "row %d modified concurrently", 7),
	}

	for _, e := range errs {
		if e.Error() == "" {
			t.Errorf("Error() returned empty string for %T", e)
		}
	}
}

func TestConflictKind_String(t *testing.T) {
	cases := map[ConflictKind]string{
		ConflictWriteWrite:     "write_write",
		ConflictOptimisticLock: "optimistic_lock",
		ConflictUniqueKey:      "unique_key",
		ConflictKind(99):       "unknown",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("ConflictKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}

func TestConflictError_CarriesKindInMessage(t *testing.T) {
	err := NewConflict(ConflictOptimisticLock, "version mismatch on row %d", 3)
	want := "conflict (optimistic_lock): version mismatch on row 3"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestParseError_UnwrapsToCause(t *testing.T) {
	cause := New("unexpected EOF")
	perr := &ParseError{Msg: "truncated statement", Cause: cause}

	if !Is(perr, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestTypeMismatchError_UnwrapsToCause(t *testing.T) {
	cause := New("incompatible kinds")
	terr := &TypeMismatchError{Msg: "INTEGER vs TEXT", Cause: cause}

	if !Is(terr, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestExecutionError_UnwrapsToCause(t *testing.T) {
	cause := New("disk full")
	eerr := &ExecutionError{Msg: "flush failed", Cause: cause}

	if !Is(eerr, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestWrap_PreservesCauseForIsAndAs(t *testing.T) {
	original := &TableNotFoundSQLError{Name: "orders"}
	wrapped := Wrap(original, "resolving FROM clause")

	var target *TableNotFoundSQLError
	if !As(wrapped, &target) {
		t.Fatal("expected errors.As to recover the original *TableNotFoundSQLError")
	}
	if target.Name != "orders" {
		t.Errorf("recovered error has Name %q, want %q", target.Name, "orders")
	}
}

func TestWrapf_FormatsMessage(t *testing.T) {
	original := New("connection reset")
	wrapped := Wrapf(original, "writing segment %d", 3)

	if wrapped.Error() == "" {
		t.Error("expected a non-empty wrapped message")
	}
	if !Is(wrapped, original) {
		t.Error("expected errors.Is to find the original cause through Wrapf")
	}
}
