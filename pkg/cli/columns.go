package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/spf13/pflag"

	"cube-sql/internal/domain"
)

// columnSpec is one output column given on the command line as
//
//	name:type            member "name"
//	name:type=member     member "member"
//	name:type=null       NULL literal
//	name:type='text'     literal value
type columnSpec struct {
	Name  string
	Type  arrow.DataType
	Field domain.MemberField
}

var columnTypes = map[string]arrow.DataType{
	"string":       arrow.BinaryTypes.String,
	"utf8":         arrow.BinaryTypes.String,
	"int32":        arrow.PrimitiveTypes.Int32,
	"int64":        arrow.PrimitiveTypes.Int64,
	"float64":      arrow.PrimitiveTypes.Float64,
	"double":       arrow.PrimitiveTypes.Float64,
	"bool":         arrow.FixedWidthTypes.Boolean,
	"boolean":      arrow.FixedWidthTypes.Boolean,
	"timestamp":    &arrow.TimestampType{Unit: arrow.Nanosecond},
	"timestamp_ms": &arrow.TimestampType{Unit: arrow.Millisecond},
	"date32":       arrow.FixedWidthTypes.Date32,
	"date":         arrow.FixedWidthTypes.Date32,
}

func parseColumnSpec(s string) (columnSpec, error) {
	name, rest, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || name == "" {
		return columnSpec{}, fmt.Errorf("invalid column %q: want name:type[=member]", s)
	}
	typeName, binding, hasBinding := strings.Cut(rest, "=")
	dt, ok := columnTypes[strings.ToLower(typeName)]
	if !ok {
		return columnSpec{}, fmt.Errorf("invalid column %q: unknown type %q", s, typeName)
	}

	spec := columnSpec{Name: name, Type: dt, Field: domain.Member(name)}
	switch {
	case !hasBinding:
	case strings.EqualFold(binding, "null"):
		spec.Field = domain.Literal(domain.NullScalar(dt))
	case len(binding) >= 2 && binding[0] == '\'' && binding[len(binding)-1] == '\'':
		lit, err := literalScalar(dt, binding[1:len(binding)-1])
		if err != nil {
			return columnSpec{}, fmt.Errorf("invalid column %q: %w", s, err)
		}
		spec.Field = domain.Literal(lit)
	case binding == "":
		return columnSpec{}, fmt.Errorf("invalid column %q: empty member", s)
	default:
		spec.Field = domain.Member(binding)
	}
	return spec, nil
}

func literalScalar(dt arrow.DataType, text string) (domain.Scalar, error) {
	switch dt.ID() {
	case arrow.STRING:
		return domain.StringScalar(text), nil
	case arrow.INT32:
		n, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return domain.Scalar{}, err
		}
		return domain.Int32Scalar(int32(n)), nil
	case arrow.INT64:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return domain.Scalar{}, err
		}
		return domain.Int64Scalar(n), nil
	case arrow.FLOAT64:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return domain.Scalar{}, err
		}
		return domain.Float64Scalar(f), nil
	case arrow.BOOL:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return domain.Scalar{}, err
		}
		return domain.BoolScalar(b), nil
	default:
		return domain.Scalar{}, fmt.Errorf("literals of type %s are not supported", dt)
	}
}

// columnsFlag collects repeated --column flags.
type columnsFlag struct {
	specs []columnSpec
}

var _ pflag.Value = (*columnsFlag)(nil)

func (f *columnsFlag) String() string {
	names := make([]string, len(f.specs))
	for i, s := range f.specs {
		names[i] = s.Name + ":" + s.Type.String()
	}
	return strings.Join(names, ",")
}

func (f *columnsFlag) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		spec, err := parseColumnSpec(part)
		if err != nil {
			return err
		}
		f.specs = append(f.specs, spec)
	}
	return nil
}

func (f *columnsFlag) Type() string { return "columns" }

// schemaAndFields builds the output schema and member bindings.
func (f *columnsFlag) schemaAndFields() (*arrow.Schema, []domain.MemberField) {
	fields := make([]arrow.Field, len(f.specs))
	members := make([]domain.MemberField, len(f.specs))
	for i, s := range f.specs {
		fields[i] = arrow.Field{Name: s.Name, Type: s.Type, Nullable: true}
		members[i] = s.Field
	}
	return arrow.NewSchema(fields, nil), members
}
