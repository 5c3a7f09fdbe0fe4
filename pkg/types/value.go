// Package types implements the tagged runtime value union the engine
// evaluates expressions and stores rows with (spec component A).
//
// Value also satisfies the ordering contract pkg/btree indexes need
// (Compare), so a row value can be used directly as an index key without a
// separate key-wrapper type — the teacher's pkg/types/comparable.go used
// one IntKey/VarcharKey/... wrapper per Go type; here a single tagged union
// plays both roles (runtime value and index key) since NULL-aware ordering
// already requires a tagged representation.
package types

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Kind discriminates the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindText
	KindBoolean
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindInteger:
		return "INTEGER"
	case KindFloat:
		return "FLOAT"
	case KindText:
		return "TEXT"
	case KindBoolean:
		return "BOOLEAN"
	default:
		return "UNKNOWN"
	}
}

// Value is a tagged union: Null | Integer(i64) | Float(f64) | Text(string) | Boolean(bool).
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    bool
}

var Null = Value{kind: KindNull}

func Integer(v int64) Value   { return Value{kind: KindInteger, i: v} }
func Float(v float64) Value   { return Value{kind: KindFloat, f: v} }
func Text(v string) Value     { return Value{kind: KindText, s: v} }
func Boolean(v bool) Value    { return Value{kind: KindBoolean, b: v} }
func FromTime(t time.Time) Value { return Value{kind: KindFloat, f: float64(t.UnixNano()) / 1e9} }

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsNull() bool  { return v.kind == KindNull }
func (v Value) Int() int64    { return v.i }
func (v Value) Float64() float64 { return v.f }
func (v Value) Text() string  { return v.s }
func (v Value) Bool() bool    { return v.b }

// ErrTypeMismatch is returned whenever two incompatible operand kinds meet
// in a comparison or arithmetic operation (spec §4.A).
var ErrTypeMismatch = errors.New("type mismatch")

// ErrUnsupportedOperation is returned for operators undefined on a type,
// e.g. '%' on TEXT (spec §4.A).
var ErrUnsupportedOperation = errors.New("unsupported operation")

func isNumeric(k Kind) bool { return k == KindInteger || k == KindFloat }

// CoerceNumeric promotes two numeric values to a common representation.
// Integer+Integer stays integer; any Float operand promotes both to float.
// TEXT paired with a numeric type is always a TypeMismatch — there is no
// implicit string-to-number coercion in this dialect.
func CoerceNumeric(a, b Value) (Value, Value, error) {
	if !isNumeric(a.kind) || !isNumeric(b.kind) {
		return Value{}, Value{}, errors.Wrapf(ErrTypeMismatch, "cannot coerce %s and %s", a.kind, b.kind)
	}
	if a.kind == KindInteger && b.kind == KindInteger {
		return a, b, nil
	}
	return Float(a.asFloat()), Float(b.asFloat()), nil
}

func (v Value) asFloat() float64 {
	switch v.kind {
	case KindInteger:
		return float64(v.i)
	case KindFloat:
		return v.f
	default:
		return math.NaN()
	}
}

// AsBool collapses a Value to a boolean per the three-valued-logic rules
// WHERE/ON predicates use: NULL -> false, non-zero number -> true,
// non-empty text -> true, boolean -> itself.
func AsBool(v Value) bool {
	switch v.kind {
	case KindNull:
		return false
	case KindInteger:
		return v.i != 0
	case KindFloat:
		return v.f != 0 && !math.IsNaN(v.f)
	case KindText:
		return v.s != ""
	case KindBoolean:
		return v.b
	default:
		return false
	}
}

// Display renders a Value the way a client expects to see it printed.
func Display(v Value) string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindInteger:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		if math.IsNaN(v.f) {
			return "NaN"
		}
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v.f), "0"), ".")
	case KindText:
		return v.s
	case KindBoolean:
		if v.b {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// Equal implements value equality under NULL three-valued semantics:
// NULL is neither equal nor unequal to anything, so Equal(Null, Null)
// reports ok=false, not true.
func Equal(a, b Value) (eq bool, ok bool) {
	c, ok := Compare(a, b)
	if !ok {
		return false, false
	}
	return c == 0, true
}

// Compare orders two values. ok is false when either operand is NULL
// (three-valued logic: NULL comparisons never resolve) or when the
// operands are incompatible (TEXT vs numeric). NaN is never equal to
// itself and always sorts last among floats, per spec §4.A/§9.
func Compare(a, b Value) (cmp int, ok bool) {
	if a.kind == KindNull || b.kind == KindNull {
		return 0, false
	}
	if a.kind == KindBoolean || b.kind == KindBoolean {
		if a.kind != b.kind {
			return 0, false
		}
		switch {
		case a.b == b.b:
			return 0, true
		case !a.b && b.b:
			return -1, true
		default:
			return 1, true
		}
	}
	if a.kind == KindText || b.kind == KindText {
		if a.kind != b.kind {
			return 0, false
		}
		return strings.Compare(a.s, b.s), true
	}
	// Both numeric: promote and compare, with NaN sorting last and never equal.
	af, bf := a.asFloat(), b.asFloat()
	aNaN, bNaN := math.IsNaN(af), math.IsNaN(bf)
	switch {
	case aNaN && bNaN:
		return 0, false
	case aNaN:
		return 1, true
	case bNaN:
		return -1, true
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	default:
		return 0, true
	}
}

// Compare implements btree's Comparable contract (teacher's
// pkg/types.Comparable) directly on Value, so index trees key on Values
// with no wrapper type. Unlike the three-valued Compare above, this
// total-order form never returns "incomparable" (btree needs a strict
// order): NULLs sort before everything, NaN sorts after every other
// number, and kinds Compare cannot relate (TEXT or BOOLEAN against a
// different kind) order by Kind.
func (v Value) Compare(other Comparable) int {
	o, isValue := other.(Value)
	if !isValue {
		return 0
	}
	if v.kind == KindNull && o.kind == KindNull {
		return 0
	}
	if v.kind == KindNull {
		return -1
	}
	if o.kind == KindNull {
		return 1
	}
	if c, ok := Compare(v, o); ok {
		return c
	}
	// Incomparable (kind mismatch, or NaN both sides): order by kind; the
	// only same-kind case left is two NaNs, which compare equal.
	if v.kind != o.kind {
		if v.kind < o.kind {
			return -1
		}
		return 1
	}
	if v.kind == KindFloat {
		switch {
		case math.IsNaN(v.f) && math.IsNaN(o.f):
			return 0
		case math.IsNaN(v.f):
			return 1
		case math.IsNaN(o.f):
			return -1
		}
	}
	return 0
}

// Comparable is the ordering contract pkg/btree indexes require.
type Comparable interface {
	Compare(other Comparable) int
}

// CompositeKey orders tuples of Values lexicographically, for multi-column
// indexes (CREATE INDEX ON t(a, b)).
type CompositeKey []Value

func (c CompositeKey) Compare(other Comparable) int {
	o, ok := other.(CompositeKey)
	if !ok {
		return 0
	}
	for i := 0; i < len(c) && i < len(o); i++ {
		if cmp := c[i].Compare(o[i]); cmp != 0 {
			return cmp
		}
	}
	switch {
	case len(c) < len(o):
		return -1
	case len(c) > len(o):
		return 1
	default:
		return 0
	}
}
