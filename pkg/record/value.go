// Package record implements typed column values, table schemas, and the
// slotted fixed-length record pages they are stored in.
package record

import (
	"errors"
	"fmt"
	"strings"
)

// Type enumerates the primitive column types.
type Type int8

const (
	TypeInt Type = iota
	TypeFloat
	TypeVarchar
)

// Errors surfaced by the value and record codec.
var (
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrNotNull         = errors.New("null value in not-null column")
	ErrArityMismatch   = errors.New("wrong number of values")
	ErrVarcharTooLong  = errors.New("string exceeds column length")
	ErrIntOutOfRange   = errors.New("integer out of range")
	ErrDuplicateColumn = errors.New("duplicate column name")
	ErrInvalidRid      = errors.New("invalid record id")
)

// ColumnType is a primitive type plus, for VARCHAR, its fixed byte length.
type ColumnType struct {
	Kind   Type
	Length int
}

// IntType, FloatType construct the fixed-size column types.
var (
	IntType   = ColumnType{Kind: TypeInt}
	FloatType = ColumnType{Kind: TypeFloat}
)

// VarcharType constructs a VARCHAR column type of the given byte length.
func VarcharType(length int) ColumnType {
	return ColumnType{Kind: TypeVarchar, Length: length}
}

// Size returns the serialized size of a value of this type in bytes.
func (t ColumnType) Size() int {
	switch t.Kind {
	case TypeInt:
		return 4
	case TypeFloat:
		return 8
	default:
		return t.Length
	}
}

// String renders the type the way DESC prints it.
func (t ColumnType) String() string {
	switch t.Kind {
	case TypeInt:
		return "INT"
	case TypeFloat:
		return "FLOAT"
	default:
		return fmt.Sprintf("VARCHAR(%d)", t.Length)
	}
}

// ParseColumnType parses a type rendered by ColumnType.String.
func ParseColumnType(s string) (ColumnType, error) {
	switch {
	case s == "INT":
		return IntType, nil
	case s == "FLOAT":
		return FloatType, nil
	case strings.HasPrefix(s, "VARCHAR(") && strings.HasSuffix(s, ")"):
		var length int
		if _, err := fmt.Sscanf(s, "VARCHAR(%d)", &length); err != nil {
			return ColumnType{}, fmt.Errorf("bad column type %q", s)
		}
		return VarcharType(length), nil
	}
	return ColumnType{}, fmt.Errorf("bad column type %q", s)
}

// Value is a tagged variant over the three primitive types plus null.
type Value struct {
	kind Type
	null bool
	i    int32
	f    float64
	s    string
}

// NullValue returns the null value.
func NullValue() Value {
	return Value{null: true}
}

// IntValue constructs an INT value.
func IntValue(v int32) Value {
	return Value{kind: TypeInt, i: v}
}

// FloatValue constructs a FLOAT value.
func FloatValue(v float64) Value {
	return Value{kind: TypeFloat, f: v}
}

// StringValue constructs a VARCHAR value.
func StringValue(v string) Value {
	return Value{kind: TypeVarchar, s: v}
}

// IsNull reports whether the value is null.
func (v Value) IsNull() bool {
	return v.null
}

// Kind returns the value's type tag; meaningless for nulls.
func (v Value) Kind() Type {
	return v.kind
}

// Int returns the INT content.
func (v Value) Int() int32 {
	return v.i
}

// Float returns the FLOAT content.
func (v Value) Float() float64 {
	return v.f
}

// Str returns the VARCHAR content.
func (v Value) Str() string {
	return v.s
}

// Matches reports whether the value can be stored in a column of type t.
// Nulls match every type; INT values widen into FLOAT columns.
func (v Value) Matches(t ColumnType) bool {
	if v.null {
		return true
	}
	if v.kind == TypeInt && t.Kind == TypeFloat {
		return true
	}
	return v.kind == t.Kind
}

// Coerce converts the value for storage in a column of type t,
// widening INT into FLOAT.
func (v Value) Coerce(t ColumnType) Value {
	if !v.null && v.kind == TypeInt && t.Kind == TypeFloat {
		return FloatValue(float64(v.i))
	}
	return v
}

// Compare orders two values. The second return is false when the comparison
// is undefined: either side null, or mismatched types. INT and FLOAT
// compare numerically with each other; strings compare lexicographically
// over raw bytes.
func (v Value) Compare(other Value) (int, bool) {
	if v.null || other.null {
		return 0, false
	}
	switch {
	case v.kind == TypeInt && other.kind == TypeInt:
		return compareOrdered(v.i, other.i), true
	case v.kind == TypeVarchar && other.kind == TypeVarchar:
		return strings.Compare(v.s, other.s), true
	case v.kind != TypeVarchar && other.kind != TypeVarchar:
		return compareOrdered(v.asFloat(), other.asFloat()), true
	}
	return 0, false
}

// Equal reports whether two values are identical, treating null as equal
// only to null.
func (v Value) Equal(other Value) bool {
	if v.null || other.null {
		return v.null == other.null
	}
	cmp, ok := v.Compare(other)
	return ok && cmp == 0
}

// Format renders the value the way result rows print it.
func (v Value) Format() string {
	switch {
	case v.null:
		return "NULL"
	case v.kind == TypeInt:
		return fmt.Sprintf("%d", v.i)
	case v.kind == TypeFloat:
		return fmt.Sprintf("%.2f", v.f)
	default:
		return v.s
	}
}

func (v Value) asFloat() float64 {
	if v.kind == TypeInt {
		return float64(v.i)
	}
	return v.f
}

func compareOrdered[T int32 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
