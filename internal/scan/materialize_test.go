package scan

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cube-sql/internal/domain"
)

func decodeRows(t *testing.T, raw string) []any {
	t.Helper()
	var rows []any
	require.NoError(t, json.Unmarshal([]byte(raw), &rows))
	return rows
}

func schemaOf(fields ...arrow.Field) *arrow.Schema {
	for i := range fields {
		fields[i].Nullable = true
	}
	return arrow.NewSchema(fields, nil)
}

const mixedRows = `[
	{"KibanaSampleDataEcommerce.count": null, "KibanaSampleDataEcommerce.maxPrice": null, "KibanaSampleDataEcommerce.isBool": null, "KibanaSampleDataEcommerce.orderDate": null},
	{"KibanaSampleDataEcommerce.count": 5, "KibanaSampleDataEcommerce.maxPrice": 5.05, "KibanaSampleDataEcommerce.isBool": true, "KibanaSampleDataEcommerce.orderDate": "2022-01-01 00:00:00.000"},
	{"KibanaSampleDataEcommerce.count": "5", "KibanaSampleDataEcommerce.maxPrice": "5.05", "KibanaSampleDataEcommerce.isBool": false, "KibanaSampleDataEcommerce.orderDate": "2023-01-01 00:00:00.000"},
	{"KibanaSampleDataEcommerce.count": null, "KibanaSampleDataEcommerce.maxPrice": null, "KibanaSampleDataEcommerce.isBool": "true", "KibanaSampleDataEcommerce.orderDate": "9999-12-31 00:00:00.000"},
	{"KibanaSampleDataEcommerce.count": null, "KibanaSampleDataEcommerce.maxPrice": null, "KibanaSampleDataEcommerce.isBool": "false", "KibanaSampleDataEcommerce.orderDate": null}
]`

func TestMaterialize_MixedRows(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	schema := schemaOf(
		arrow.Field{Name: "count", Type: arrow.BinaryTypes.String},
		arrow.Field{Name: "maxPrice", Type: arrow.PrimitiveTypes.Float64},
		arrow.Field{Name: "orderDate", Type: &arrow.TimestampType{Unit: arrow.Nanosecond}},
		arrow.Field{Name: "isBool", Type: arrow.FixedWidthTypes.Boolean},
		arrow.Field{Name: "literal", Type: arrow.FixedWidthTypes.Boolean},
	)
	fields := []domain.MemberField{
		domain.Member("KibanaSampleDataEcommerce.count"),
		domain.Member("KibanaSampleDataEcommerce.maxPrice"),
		domain.Member("KibanaSampleDataEcommerce.orderDate"),
		domain.Member("KibanaSampleDataEcommerce.isBool"),
		domain.Literal(domain.NullScalar(arrow.FixedWidthTypes.Boolean)),
	}

	rec, err := NewMaterializer(mem, nil).Materialize(NewJSONRowSource(decodeRows(t, mixedRows)), schema, fields)
	require.NoError(t, err)
	defer rec.Release()

	require.EqualValues(t, 5, rec.NumRows())
	require.True(t, rec.Schema().Equal(schema))

	count := rec.Column(0).(*array.String)
	assert.True(t, count.IsNull(0))
	assert.Equal(t, "5", count.Value(1))
	assert.Equal(t, "5", count.Value(2))
	assert.True(t, count.IsNull(3))
	assert.True(t, count.IsNull(4))

	price := rec.Column(1).(*array.Float64)
	assert.True(t, price.IsNull(0))
	assert.InDelta(t, 5.05, price.Value(1), 0)
	assert.InDelta(t, 5.05, price.Value(2), 0)
	assert.True(t, price.IsNull(3))
	assert.True(t, price.IsNull(4))

	ts := rec.Column(2).(*array.Timestamp)
	assert.True(t, ts.IsNull(0))
	assert.Equal(t, arrow.Timestamp(1640995200000000000), ts.Value(1))
	assert.Equal(t, arrow.Timestamp(1672531200000000000), ts.Value(2))
	assert.True(t, ts.IsNull(3), "year 9999 overflows nanoseconds and becomes null")
	assert.True(t, ts.IsNull(4))

	b := rec.Column(3).(*array.Boolean)
	assert.True(t, b.IsNull(0))
	assert.True(t, b.Value(1))
	assert.False(t, b.Value(2))
	assert.True(t, b.Value(3))
	assert.False(t, b.Value(4))
	assert.Equal(t, 1, b.NullN())

	lit := rec.Column(4)
	assert.Equal(t, 5, lit.NullN())
}

func TestMaterialize_NumbersToUtf8(t *testing.T) {
	rows := decodeRows(t, `[{"m": null}, {"m": 5}, {"m": "5"}, {"m": 1.5}, {"m": true}]`)
	schema := schemaOf(arrow.Field{Name: "m", Type: arrow.BinaryTypes.String})

	rec, err := MaterializeResponse(NewJSONRowSource(rows), schema, []domain.MemberField{domain.Member("m")})
	require.NoError(t, err)
	defer rec.Release()

	col := rec.Column(0).(*array.String)
	assert.True(t, col.IsNull(0))
	assert.Equal(t, []string{"5", "5", "1.5", "true"}, []string{col.Value(1), col.Value(2), col.Value(3), col.Value(4)})
}

func TestMaterialize_Integers(t *testing.T) {
	rows := decodeRows(t, `[{"m": 2.5}, {"m": -2.5}, {"m": "42"}, {"m": "4.2"}, {"m": 1e300}, {"m": null}]`)

	t.Run("int64", func(t *testing.T) {
		schema := schemaOf(arrow.Field{Name: "m", Type: arrow.PrimitiveTypes.Int64})
		rec, err := MaterializeResponse(NewJSONRowSource(rows), schema, []domain.MemberField{domain.Member("m")})
		require.NoError(t, err)
		defer rec.Release()

		col := rec.Column(0).(*array.Int64)
		assert.Equal(t, int64(3), col.Value(0))
		assert.Equal(t, int64(-3), col.Value(1))
		assert.Equal(t, int64(42), col.Value(2))
		assert.True(t, col.IsNull(3), "unparseable string becomes null")
		assert.Equal(t, int64(math.MaxInt64), col.Value(4))
		assert.True(t, col.IsNull(5))
	})

	t.Run("int32", func(t *testing.T) {
		schema := schemaOf(arrow.Field{Name: "m", Type: arrow.PrimitiveTypes.Int32})
		rec, err := MaterializeResponse(NewJSONRowSource(rows), schema, []domain.MemberField{domain.Member("m")})
		require.NoError(t, err)
		defer rec.Release()

		col := rec.Column(0).(*array.Int32)
		assert.Equal(t, int32(3), col.Value(0))
		assert.Equal(t, int32(42), col.Value(2))
		assert.Equal(t, int32(math.MaxInt32), col.Value(4))
	})
}

func TestMaterialize_Timestamps(t *testing.T) {
	inputs := []string{
		"2022-01-01T00:00:00.000",
		"2022-01-01 00:00:00.000",
		"2022-01-01T00:00:00",
	}
	for _, unit := range []arrow.TimeUnit{arrow.Nanosecond, arrow.Millisecond} {
		t.Run(unit.String(), func(t *testing.T) {
			rows := make([]any, len(inputs))
			for i, s := range inputs {
				rows[i] = map[string]any{"t": s}
			}
			schema := schemaOf(arrow.Field{Name: "t", Type: &arrow.TimestampType{Unit: unit}})

			rec, err := MaterializeResponse(NewJSONRowSource(rows), schema, []domain.MemberField{domain.Member("t")})
			require.NoError(t, err)
			defer rec.Release()

			want := arrow.Timestamp(1640995200000)
			if unit == arrow.Nanosecond {
				want = arrow.Timestamp(1640995200000000000)
			}
			col := rec.Column(0).(*array.Timestamp)
			for i := range inputs {
				assert.Equal(t, want, col.Value(i), inputs[i])
			}
		})
	}
}

func TestMaterialize_TimestampRange(t *testing.T) {
	rows := decodeRows(t, `[{"t": "1800-01-01T00:00:00"}, {"t": "2300-01-01T00:00:00"}]`)
	fields := []domain.MemberField{domain.Member("t")}

	t.Run("ms keeps instants before the ns range", func(t *testing.T) {
		schema := schemaOf(arrow.Field{Name: "t", Type: &arrow.TimestampType{Unit: arrow.Millisecond}})
		rec, err := MaterializeResponse(NewJSONRowSource(rows), schema, fields)
		require.NoError(t, err)
		defer rec.Release()

		col := rec.Column(0).(*array.Timestamp)
		require.False(t, col.IsNull(0))
		assert.Equal(t, arrow.Timestamp(-5364662400000), col.Value(0))
		assert.True(t, col.IsNull(1), "upper bound applies to every unit")
	})

	t.Run("ns nulls what does not fit", func(t *testing.T) {
		schema := schemaOf(arrow.Field{Name: "t", Type: &arrow.TimestampType{Unit: arrow.Nanosecond}})
		rec, err := MaterializeResponse(NewJSONRowSource(rows), schema, fields)
		require.NoError(t, err)
		defer rec.Release()

		col := rec.Column(0).(*array.Timestamp)
		assert.True(t, col.IsNull(0))
		assert.True(t, col.IsNull(1))
	})
}

func TestMaterialize_TimestampParseFailureIsFatal(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rows := decodeRows(t, `[{"a": "x", "t": "2022-01-01T00:00:00"}, {"a": "y", "t": "not a date"}]`)
	schema := schemaOf(
		arrow.Field{Name: "a", Type: arrow.BinaryTypes.String},
		arrow.Field{Name: "t", Type: &arrow.TimestampType{Unit: arrow.Nanosecond}},
	)

	rec, err := NewMaterializer(mem, nil).Materialize(NewJSONRowSource(rows), schema,
		[]domain.MemberField{domain.Member("a"), domain.Member("t")})
	require.Error(t, err)
	assert.Nil(t, rec)
	var userErr *domain.UserError
	require.True(t, errors.As(err, &userErr))
	assert.Contains(t, err.Error(), "Can't parse timestamp")
}

func TestMaterialize_Booleans(t *testing.T) {
	rows := decodeRows(t, `[{"b": "1"}, {"b": "0"}, {"b": "yes"}, {"b": true}]`)
	schema := schemaOf(arrow.Field{Name: "b", Type: arrow.FixedWidthTypes.Boolean})

	rec, err := MaterializeResponse(NewJSONRowSource(rows), schema, []domain.MemberField{domain.Member("b")})
	require.NoError(t, err)
	defer rec.Release()

	col := rec.Column(0).(*array.Boolean)
	assert.True(t, col.Value(0))
	assert.False(t, col.Value(1))
	assert.True(t, col.IsNull(2))
	assert.True(t, col.Value(3))
}

func TestMaterialize_Dates(t *testing.T) {
	rows := decodeRows(t, `[
		{"d": "2022-01-01"},
		{"d": "2022-01-02T00:00:00.000"},
		{"d": "January"},
		{"d": "1969-12-31"},
		{"d": "2022-01-01T00:00:00.500"},
		{"d": "2022-01-01T12:00:00.000"}
	]`)
	schema := schemaOf(arrow.Field{Name: "d", Type: arrow.FixedWidthTypes.Date32})

	rec, err := MaterializeResponse(NewJSONRowSource(rows), schema, []domain.MemberField{domain.Member("d")})
	require.NoError(t, err)
	defer rec.Release()

	col := rec.Column(0).(*array.Date32)
	assert.Equal(t, arrow.Date32(18993), col.Value(0))
	assert.Equal(t, arrow.Date32(18994), col.Value(1))
	assert.True(t, col.IsNull(2))
	assert.Equal(t, arrow.Date32(-1), col.Value(3))
	assert.True(t, col.IsNull(4), "non-zero fraction is not a date")
	assert.True(t, col.IsNull(5), "non-midnight time is not a date")
}

func TestMaterialize_Literals(t *testing.T) {
	rows := decodeRows(t, `[{}, {}, {}]`)

	t.Run("typed literal repeats", func(t *testing.T) {
		schema := schemaOf(
			arrow.Field{Name: "s", Type: arrow.BinaryTypes.String},
			arrow.Field{Name: "n", Type: arrow.PrimitiveTypes.Int64},
		)
		rec, err := MaterializeResponse(NewJSONRowSource(rows), schema, []domain.MemberField{
			domain.Literal(domain.StringScalar("x")),
			domain.Literal(domain.Int64Scalar(7)),
		})
		require.NoError(t, err)
		defer rec.Release()

		s := rec.Column(0).(*array.String)
		n := rec.Column(1).(*array.Int64)
		for i := 0; i < 3; i++ {
			assert.Equal(t, "x", s.Value(i))
			assert.Equal(t, int64(7), n.Value(i))
		}
	})

	t.Run("type mismatch is fatal", func(t *testing.T) {
		schema := schemaOf(arrow.Field{Name: "n", Type: arrow.PrimitiveTypes.Int64})
		_, err := MaterializeResponse(NewJSONRowSource(rows), schema, []domain.MemberField{
			domain.Literal(domain.StringScalar("x")),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Unable to map value")
	})
}

func TestMaterialize_Errors(t *testing.T) {
	rows := decodeRows(t, `[{"m": "a"}]`)

	tests := []struct {
		name     string
		schema   *arrow.Schema
		fields   []domain.MemberField
		contains string
		internal bool
	}{
		{
			name:     "unsupported type",
			schema:   schemaOf(arrow.Field{Name: "m", Type: arrow.PrimitiveTypes.Uint8}),
			fields:   []domain.MemberField{domain.Member("m")},
			contains: "is not supported in response transformation",
		},
		{
			name:     "timestamp with zone",
			schema:   schemaOf(arrow.Field{Name: "m", Type: &arrow.TimestampType{Unit: arrow.Nanosecond, TimeZone: "UTC"}}),
			fields:   []domain.MemberField{domain.Member("m")},
			contains: "is not supported in response transformation",
		},
		{
			name:     "field count mismatch",
			schema:   schemaOf(arrow.Field{Name: "m", Type: arrow.FixedWidthTypes.Boolean}),
			fields:   []domain.MemberField{domain.Member("missing"), domain.Member("m")},
			contains: "does not match schema fields count",
			internal: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
			defer mem.AssertSize(t, 0)

			rec, err := NewMaterializer(mem, nil).Materialize(NewJSONRowSource(rows), tt.schema, tt.fields)
			require.Error(t, err)
			assert.Nil(t, rec)
			assert.Contains(t, err.Error(), tt.contains)
			var internalErr *domain.InternalError
			assert.Equal(t, tt.internal, errors.As(err, &internalErr))
		})
	}
}

func TestMaterialize_NumberIntoDateIsFatal(t *testing.T) {
	rows := decodeRows(t, `[{"d": 5}]`)
	schema := schemaOf(arrow.Field{Name: "d", Type: arrow.FixedWidthTypes.Date32})

	_, err := MaterializeResponse(NewJSONRowSource(rows), schema, []domain.MemberField{domain.Member("d")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unable to map value Number(5)")
}

func TestMaterialize_NullRows(t *testing.T) {
	schema := schemaOf(
		arrow.Field{Name: "a", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "b", Type: arrow.BinaryTypes.String},
	)
	rec, err := MaterializeResponse(NewJSONRowSource(make([]any, 3)), schema,
		[]domain.MemberField{domain.Member("a"), domain.Literal(domain.NullScalar(arrow.BinaryTypes.String))})
	require.NoError(t, err)
	defer rec.Release()

	assert.EqualValues(t, 3, rec.NumRows())
	assert.Equal(t, 3, rec.Column(0).NullN())
	assert.Equal(t, 3, rec.Column(1).NullN())
}

func TestRoundSaturating(t *testing.T) {
	assert.Equal(t, int64(0), roundSaturating(math.NaN(), math.MinInt32, math.MaxInt32))
	assert.Equal(t, int64(math.MinInt32), roundSaturating(math.Inf(-1), math.MinInt32, math.MaxInt32))
	assert.Equal(t, int64(1), roundSaturating(0.5, math.MinInt32, math.MaxInt32))
	assert.Equal(t, int64(-1), roundSaturating(-0.5, math.MinInt32, math.MaxInt32))
}
