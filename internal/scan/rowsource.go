package scan

import (
	"encoding/json"
	"fmt"
	"strconv"

	"cube-sql/internal/domain"
)

// FieldKind is the primitive kind of a remote row value.
type FieldKind int

const (
	FieldNull FieldKind = iota
	FieldString
	FieldNumber
	FieldBool
)

// FieldValue is a single loosely-typed value read from a remote row.
type FieldValue struct {
	Kind   FieldKind
	String string
	Number float64
	Bool   bool
}

// NullValue returns the null field value.
func NullValue() FieldValue { return FieldValue{Kind: FieldNull} }

// StringValue returns a string field value.
func StringValue(s string) FieldValue { return FieldValue{Kind: FieldString, String: s} }

// NumberValue returns a number field value.
func NumberValue(n float64) FieldValue { return FieldValue{Kind: FieldNumber, Number: n} }

// BoolValue returns a boolean field value.
func BoolValue(b bool) FieldValue { return FieldValue{Kind: FieldBool, Bool: b} }

// GoString renders the value for error messages.
func (v FieldValue) GoString() string {
	switch v.Kind {
	case FieldString:
		return fmt.Sprintf("String(%q)", v.String)
	case FieldNumber:
		return fmt.Sprintf("Number(%v)", v.Number)
	case FieldBool:
		return fmt.Sprintf("Bool(%t)", v.Bool)
	default:
		return "Null"
	}
}

// RowSource is a sequence of semi-structured rows the materializer reads
// field by field.
type RowSource interface {
	Len() (int, error)
	Get(index int, fieldName string) (FieldValue, error)
}

var _ RowSource = (*JSONRowSource)(nil)

// JSONRowSource reads rows decoded from a JSON array of objects.
// A JSON null row reads as a row whose fields are all null.
type JSONRowSource struct {
	rows []any
}

// NewJSONRowSource wraps decoded JSON rows.
func NewJSONRowSource(rows []any) *JSONRowSource {
	return &JSONRowSource{rows: rows}
}

// Len implements RowSource.
func (s *JSONRowSource) Len() (int, error) {
	return len(s.rows), nil
}

// Get implements RowSource.
func (s *JSONRowSource) Get(index int, fieldName string) (FieldValue, error) {
	if index < 0 || index >= len(s.rows) {
		return FieldValue{}, domain.ErrInternal("row index %d out of range [0, %d)", index, len(s.rows))
	}
	raw := s.rows[index]
	if raw == nil {
		return NullValue(), nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return FieldValue{}, domain.ErrUser("Unexpected response from Cube, row is not an object: %v", raw)
	}

	switch v := obj[fieldName].(type) {
	case nil:
		return NullValue(), nil
	case string:
		return StringValue(v), nil
	case bool:
		return BoolValue(v), nil
	case float64:
		return NumberValue(v), nil
	case json.Number:
		n, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return FieldValue{}, domain.ErrUser("Can't convert %s to float", v)
		}
		return NumberValue(n), nil
	default:
		return FieldValue{}, domain.ErrUser("Expected primitive value but found: %v", v)
	}
}
