package scan

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"cube-sql/internal/domain"
)

// maxTimestampMillis bounds timestamps that still fit a nanosecond column.
const maxTimestampMillis = (int64(1) << 62) / 1_000_000

// timestampLayouts are tried in order. Layouts marked fraction only match
// input carrying fractional seconds.
var timestampLayouts = []struct {
	layout   string
	fraction bool
}{
	{"2006-01-02T15:04:05.999999999", true},
	{"2006-01-02 15:04:05.999999999", true},
	{"2006-01-02T15:04:05", false},
}

const dateLayout = "2006-01-02"

// midnightSuffix is accepted after a date since Date32 columns sometimes
// receive timestamp-typed data. Only an exact zero time matches.
const midnightSuffix = "T00:00:00.000"

const secondsPerDay = 24 * 60 * 60

// Materializer converts remote rows into Arrow records.
type Materializer struct {
	mem    memory.Allocator
	logger *slog.Logger
}

// NewMaterializer creates a Materializer. Nil arguments fall back to the
// default allocator and logger.
func NewMaterializer(mem memory.Allocator, logger *slog.Logger) *Materializer {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{mem: mem, logger: logger}
}

// MaterializeResponse converts rows with the default allocator and logger.
func MaterializeResponse(src RowSource, schema *arrow.Schema, fields []domain.MemberField) (arrow.Record, error) {
	return NewMaterializer(nil, nil).Materialize(src, schema, fields)
}

// Materialize builds one record matching schema exactly. The first fatal
// error aborts the whole record; per-cell coercion failures become nulls.
func (m *Materializer) Materialize(src RowSource, schema *arrow.Schema, fields []domain.MemberField) (arrow.Record, error) {
	if len(fields) != schema.NumFields() {
		return nil, domain.ErrInternal("member fields count %d does not match schema fields count %d", len(fields), schema.NumFields())
	}
	n, err := src.Len()
	if err != nil {
		return nil, err
	}

	columns := make([]arrow.Array, 0, schema.NumFields())
	release := func() {
		for _, c := range columns {
			c.Release()
		}
	}
	for i, f := range schema.Fields() {
		col, err := m.buildColumn(src, n, f.Type, fields[i])
		if err != nil {
			release()
			return nil, err
		}
		columns = append(columns, col)
	}

	record := array.NewRecord(schema, columns, int64(n))
	release()
	return record, nil
}

func (m *Materializer) buildColumn(src RowSource, n int, dt arrow.DataType, field domain.MemberField) (arrow.Array, error) {
	switch dt.ID() {
	case arrow.STRING:
		return buildColumn(array.NewStringBuilder(m.mem), src, n, dt, field, m.toString)
	case arrow.INT32:
		return buildColumn(array.NewInt32Builder(m.mem), src, n, dt, field, m.toInt32)
	case arrow.INT64:
		return buildColumn(array.NewInt64Builder(m.mem), src, n, dt, field, m.toInt64)
	case arrow.FLOAT64:
		return buildColumn(array.NewFloat64Builder(m.mem), src, n, dt, field, m.toFloat64)
	case arrow.BOOL:
		return buildColumn(array.NewBooleanBuilder(m.mem), src, n, dt, field, m.toBool)
	case arrow.TIMESTAMP:
		ts := dt.(*arrow.TimestampType)
		if ts.TimeZone != "" || (ts.Unit != arrow.Nanosecond && ts.Unit != arrow.Millisecond) {
			break
		}
		return buildColumn(array.NewTimestampBuilder(m.mem, ts), src, n, dt, field, m.toTimestamp(ts.Unit))
	case arrow.DATE32:
		return buildColumn(array.NewDate32Builder(m.mem), src, n, dt, field, m.toDate32)
	}
	return nil, domain.ErrUser("Type %s is not supported in response transformation from Cube", dt)
}

type typedBuilder[T any] interface {
	array.Builder
	Append(T)
}

// buildColumn appends one column. coerce converts a non-null value: ok=false
// yields a null cell, a non-nil error is fatal for the whole record.
func buildColumn[T any, B typedBuilder[T]](
	b B, src RowSource, n int, dt arrow.DataType, field domain.MemberField,
	coerce func(v FieldValue, dt arrow.DataType) (out T, ok bool, err error),
) (arrow.Array, error) {
	defer b.Release()
	b.Reserve(n)

	switch field.Kind() {
	case domain.MemberFieldMember:
		for i := 0; i < n; i++ {
			v, err := src.Get(i, field.Name())
			if err != nil {
				return nil, err
			}
			if v.Kind == FieldNull {
				b.AppendNull()
				continue
			}
			out, ok, err := coerce(v, dt)
			if err != nil {
				return nil, err
			}
			if !ok {
				b.AppendNull()
				continue
			}
			b.Append(out)
		}
	case domain.MemberFieldLiteral:
		lit := field.Value()
		if lit.Type == nil || !arrow.TypeEqual(lit.Type, dt) {
			return nil, domain.ErrUser("Unable to map value %s to %s", lit, dt)
		}
		if lit.IsNull() {
			for i := 0; i < n; i++ {
				b.AppendNull()
			}
			break
		}
		v, ok := lit.Value.(T)
		if !ok {
			return nil, domain.ErrUser("Unable to map value %s to %s", lit, dt)
		}
		for i := 0; i < n; i++ {
			b.Append(v)
		}
	}
	return b.NewArray(), nil
}

func unmappable(v FieldValue, dt arrow.DataType) error {
	return domain.ErrUser("Unable to map value %#v to %s", v, dt)
}

func (m *Materializer) toString(v FieldValue, dt arrow.DataType) (string, bool, error) {
	switch v.Kind {
	case FieldString:
		return v.String, true, nil
	case FieldBool:
		if v.Bool {
			return "true", true, nil
		}
		return "false", true, nil
	case FieldNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64), true, nil
	}
	return "", false, unmappable(v, dt)
}

func (m *Materializer) toInt32(v FieldValue, dt arrow.DataType) (int32, bool, error) {
	switch v.Kind {
	case FieldNumber:
		return int32(roundSaturating(v.Number, math.MinInt32, math.MaxInt32)), true, nil
	case FieldString:
		n, err := strconv.ParseInt(v.String, 10, 32)
		if err != nil {
			m.logger.Warn("Unable to parse value as i32", "value", v.String, "error", err)
			return 0, false, nil
		}
		return int32(n), true, nil
	}
	return 0, false, unmappable(v, dt)
}

func (m *Materializer) toInt64(v FieldValue, dt arrow.DataType) (int64, bool, error) {
	switch v.Kind {
	case FieldNumber:
		return roundSaturating(v.Number, math.MinInt64, math.MaxInt64), true, nil
	case FieldString:
		n, err := strconv.ParseInt(v.String, 10, 64)
		if err != nil {
			m.logger.Warn("Unable to parse value as i64", "value", v.String, "error", err)
			return 0, false, nil
		}
		return n, true, nil
	}
	return 0, false, unmappable(v, dt)
}

func (m *Materializer) toFloat64(v FieldValue, dt arrow.DataType) (float64, bool, error) {
	switch v.Kind {
	case FieldNumber:
		return v.Number, true, nil
	case FieldString:
		f, err := strconv.ParseFloat(v.String, 64)
		if err != nil {
			m.logger.Warn("Unable to parse value as f64", "value", v.String, "error", err)
			return 0, false, nil
		}
		return f, true, nil
	}
	return 0, false, unmappable(v, dt)
}

func (m *Materializer) toBool(v FieldValue, dt arrow.DataType) (bool, bool, error) {
	switch v.Kind {
	case FieldBool:
		return v.Bool, true, nil
	case FieldString:
		switch v.String {
		case "true", "1":
			return true, true, nil
		case "false", "0":
			return false, true, nil
		}
		m.logger.Error("Unable to map value to Boolean (returning null)", "value", v.String)
		return false, false, nil
	}
	return false, false, unmappable(v, dt)
}

func (m *Materializer) toTimestamp(unit arrow.TimeUnit) func(FieldValue, arrow.DataType) (arrow.Timestamp, bool, error) {
	return func(v FieldValue, dt arrow.DataType) (arrow.Timestamp, bool, error) {
		if v.Kind != FieldString {
			return 0, false, unmappable(v, dt)
		}
		t, err := parseTimestamp(v.String)
		if err != nil {
			return 0, false, domain.ErrUser("Can't parse timestamp: '%s': %v", v.String, err)
		}
		millis := t.UnixMilli()
		if millis > maxTimestampMillis {
			return 0, false, nil
		}
		if unit == arrow.Millisecond {
			return arrow.Timestamp(millis), true, nil
		}
		if millis < -maxTimestampMillis {
			return 0, false, nil
		}
		return arrow.Timestamp(t.UnixNano()), true, nil
	}
}

func (m *Materializer) toDate32(v FieldValue, dt arrow.DataType) (arrow.Date32, bool, error) {
	if v.Kind != FieldString {
		return 0, false, unmappable(v, dt)
	}
	d, err := time.Parse(dateLayout, strings.TrimSuffix(v.String, midnightSuffix))
	if err != nil {
		m.logger.Error("Unable to parse value as Date32", "value", v.String, "error", err)
		return 0, false, nil
	}
	return arrow.Date32(d.Unix() / secondsPerDay), true, nil
}

func parseTimestamp(s string) (time.Time, error) {
	var err error
	for _, l := range timestampLayouts {
		if l.fraction && !hasFraction(s) {
			continue
		}
		var t time.Time
		if t, err = time.Parse(l.layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// hasFraction reports whether s carries fractional seconds after a
// "YYYY-MM-DD hh:mm:ss" prefix.
func hasFraction(s string) bool {
	return len(s) > 20 && s[19] == '.'
}

// roundSaturating rounds half away from zero and clamps to [lo, hi]. NaN
// maps to zero.
func roundSaturating(f float64, lo, hi int64) int64 {
	r := math.Round(f)
	switch {
	case math.IsNaN(r):
		return 0
	case r <= float64(lo):
		return lo
	case r >= float64(hi):
		return hi
	}
	return int64(r)
}
