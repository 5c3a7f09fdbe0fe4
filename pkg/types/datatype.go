package types

// DataType is a column's declared storage type (spec §3). It mirrors Kind
// one-to-one but is spelled out separately (TypeInteger, not Integer) so it
// never collides with the Value constructors of the same name.
type DataType uint8

const (
	TypeInteger DataType = iota
	TypeFloat
	TypeText
	TypeBoolean
)

func (d DataType) String() string {
	switch d {
	case TypeInteger:
		return "INTEGER"
	case TypeFloat:
		return "FLOAT"
	case TypeText:
		return "TEXT"
	case TypeBoolean:
		return "BOOLEAN"
	default:
		return "UNKNOWN"
	}
}

// IsCompatible reports whether v may be stored in a column of this type:
// true for a matching Kind, and always true for NULL.
func (d DataType) IsCompatible(v Value) bool {
	if v.IsNull() {
		return true
	}
	switch d {
	case TypeInteger:
		return v.Kind() == KindInteger
	case TypeFloat:
		return v.Kind() == KindFloat
	case TypeText:
		return v.Kind() == KindText
	case TypeBoolean:
		return v.Kind() == KindBoolean
	default:
		return false
	}
}

// ZeroValue returns the representative NULL-able zero for this type,
// used when a column has no explicit default.
func (d DataType) ZeroValue() Value { return Null }
