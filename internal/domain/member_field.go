package domain

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// Scalar is a typed constant. A nil Value is SQL NULL of Type.
//
// Value holds string for Utf8, int32 for Int32, int64 for Int64, float64 for
// Float64, bool for Boolean, arrow.Timestamp for timestamps and arrow.Date32
// for Date32.
type Scalar struct {
	Type  arrow.DataType
	Value any
}

// IsNull reports whether the scalar is NULL.
func (s Scalar) IsNull() bool { return s.Value == nil }

func (s Scalar) String() string {
	if s.Value == nil {
		return fmt.Sprintf("%s(NULL)", s.Type)
	}
	return fmt.Sprintf("%s(%v)", s.Type, s.Value)
}

// NullScalar returns a NULL of the given type.
func NullScalar(dt arrow.DataType) Scalar { return Scalar{Type: dt} }

// StringScalar returns a Utf8 scalar.
func StringScalar(v string) Scalar { return Scalar{Type: arrow.BinaryTypes.String, Value: v} }

// Int32Scalar returns an Int32 scalar.
func Int32Scalar(v int32) Scalar { return Scalar{Type: arrow.PrimitiveTypes.Int32, Value: v} }

// Int64Scalar returns an Int64 scalar.
func Int64Scalar(v int64) Scalar { return Scalar{Type: arrow.PrimitiveTypes.Int64, Value: v} }

// Float64Scalar returns a Float64 scalar.
func Float64Scalar(v float64) Scalar { return Scalar{Type: arrow.PrimitiveTypes.Float64, Value: v} }

// BoolScalar returns a Boolean scalar.
func BoolScalar(v bool) Scalar { return Scalar{Type: arrow.FixedWidthTypes.Boolean, Value: v} }

// Date32Scalar returns a Date32 scalar holding days since the Unix epoch.
func Date32Scalar(days int32) Scalar {
	return Scalar{Type: arrow.FixedWidthTypes.Date32, Value: arrow.Date32(days)}
}

// TimestampScalar returns a timezone-less timestamp scalar in the given unit.
func TimestampScalar(unit arrow.TimeUnit, v int64) Scalar {
	return Scalar{Type: &arrow.TimestampType{Unit: unit}, Value: arrow.Timestamp(v)}
}

// MemberFieldKind discriminates MemberField.
type MemberFieldKind int

const (
	// MemberFieldMember pulls the value from the remote row by name.
	MemberFieldMember MemberFieldKind = iota
	// MemberFieldLiteral emits a constant for every row.
	MemberFieldLiteral
)

// MemberField binds one output column to either a remote row field or a
// constant literal. Member fields are ordered like the output schema.
type MemberField struct {
	kind    MemberFieldKind
	name    string
	literal Scalar
}

// Member binds a column to the remote field with the given name.
func Member(name string) MemberField {
	return MemberField{kind: MemberFieldMember, name: name}
}

// Literal binds a column to a constant.
func Literal(value Scalar) MemberField {
	return MemberField{kind: MemberFieldLiteral, literal: value}
}

// Kind returns which variant the field is.
func (f MemberField) Kind() MemberFieldKind { return f.kind }

// Name returns the remote field name of a Member field.
func (f MemberField) Name() string { return f.name }

// Value returns the constant of a Literal field.
func (f MemberField) Value() Scalar { return f.literal }

func (f MemberField) String() string {
	if f.kind == MemberFieldLiteral {
		return fmt.Sprintf("Literal(%s)", f.literal)
	}
	return fmt.Sprintf("Member(%q)", f.name)
}
