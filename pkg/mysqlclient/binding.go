package mysqlclient

import (
	"database/sql/driver"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// FieldType is the native buffer type tag of a binding.
type FieldType uint8

const (
	TypeDecimal    FieldType = 0
	TypeTiny       FieldType = 1
	TypeShort      FieldType = 2
	TypeLong       FieldType = 3
	TypeFloat      FieldType = 4
	TypeDouble     FieldType = 5
	TypeNull       FieldType = 6
	TypeTimestamp  FieldType = 7
	TypeLongLong   FieldType = 8
	TypeInt24      FieldType = 9
	TypeDate       FieldType = 10
	TypeTime       FieldType = 11
	TypeDateTime   FieldType = 12
	TypeYear       FieldType = 13
	TypeNewDate    FieldType = 14
	TypeVarChar    FieldType = 15
	TypeBit        FieldType = 16
	TypeJSON       FieldType = 245
	TypeNewDecimal FieldType = 246
	TypeEnum       FieldType = 247
	TypeSet        FieldType = 248
	TypeTinyBlob   FieldType = 249
	TypeMediumBlob FieldType = 250
	TypeLongBlob   FieldType = 251
	TypeBlob       FieldType = 252
	TypeVarString  FieldType = 253
	TypeString     FieldType = 254
	TypeGeometry   FieldType = 255
)

var fieldTypeNames = map[FieldType]string{
	TypeDecimal:    "DECIMAL",
	TypeTiny:       "TINY",
	TypeShort:      "SHORT",
	TypeLong:       "LONG",
	TypeFloat:      "FLOAT",
	TypeDouble:     "DOUBLE",
	TypeNull:       "NULL",
	TypeTimestamp:  "TIMESTAMP",
	TypeLongLong:   "LONGLONG",
	TypeInt24:      "INT24",
	TypeDate:       "DATE",
	TypeTime:       "TIME",
	TypeDateTime:   "DATETIME",
	TypeYear:       "YEAR",
	TypeNewDate:    "NEWDATE",
	TypeVarChar:    "VARCHAR",
	TypeBit:        "BIT",
	TypeJSON:       "JSON",
	TypeNewDecimal: "NEWDECIMAL",
	TypeEnum:       "ENUM",
	TypeSet:        "SET",
	TypeTinyBlob:   "TINY_BLOB",
	TypeMediumBlob: "MEDIUM_BLOB",
	TypeLongBlob:   "LONG_BLOB",
	TypeBlob:       "BLOB",
	TypeVarString:  "VAR_STRING",
	TypeString:     "STRING",
	TypeGeometry:   "GEOMETRY",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return "FieldType(" + strconv.Itoa(int(t)) + ")"
}

// Bind describes one parameter or result buffer. Buffer is a pointer to a
// fixed-width Go value, a byte slice, or nil for NULL parameters.
// BufferLength is the number of bytes of a byte slice that take part in the
// transfer; for fixed-width values it is the size of the value.
type Bind struct {
	Type         FieldType
	Unsigned     bool
	Buffer       any
	BufferLength int
}

// ColumnState is what the last fetch wrote for one result column.
// Length is the full length of the column value, even when it did not fit.
type ColumnState struct {
	Length    int
	IsNull    bool
	Truncated bool
}

// check reports whether the buffer can carry values of the bind's type.
// A nil pointer is a NULL parameter but never a usable result buffer.
func (b Bind) check(allowNull bool) error {
	if !allowNull {
		if v := reflect.ValueOf(b.Buffer); v.Kind() == reflect.Pointer && v.IsNil() {
			return fmt.Errorf("%w: nil %T result buffer", ErrUnsupportedBuffer, b.Buffer)
		}
	}
	ok := false
	switch buf := b.Buffer.(type) {
	case nil:
		ok = allowNull && b.Type == TypeNull
	case *int8, *uint8:
		ok = b.Type == TypeTiny
	case *int16, *uint16:
		ok = b.Type == TypeShort || b.Type == TypeYear
	case *int32, *uint32:
		ok = b.Type == TypeLong || b.Type == TypeInt24
	case *int64, *uint64:
		ok = b.Type == TypeLongLong
	case *float32:
		ok = b.Type == TypeFloat
	case *float64:
		ok = b.Type == TypeDouble
	case *decimal.Decimal:
		ok = b.Type == TypeDecimal || b.Type == TypeNewDecimal
	case *time.Time:
		switch b.Type {
		case TypeDate, TypeTime, TypeDateTime, TypeTimestamp, TypeNewDate:
			ok = true
		}
	case []byte:
		switch b.Type {
		case TypeString, TypeVarString, TypeVarChar, TypeBlob, TypeTinyBlob,
			TypeMediumBlob, TypeLongBlob, TypeEnum, TypeSet, TypeJSON, TypeBit,
			TypeGeometry, TypeDecimal, TypeNewDecimal:
			ok = true
		}
		if ok && (b.BufferLength < 0 || b.BufferLength > len(buf)) {
			return fmt.Errorf("%w: buffer length %d exceeds buffer of %d bytes",
				ErrUnsupportedBuffer, b.BufferLength, len(buf))
		}
	}
	if !ok {
		return fmt.Errorf("%w: %s with %T", ErrUnsupportedBuffer, b.Type, b.Buffer)
	}
	return nil
}

// value reads the current buffer contents as a driver value.
func (b Bind) value() driver.Value {
	switch buf := b.Buffer.(type) {
	case *int8:
		if buf != nil {
			return int64(*buf)
		}
	case *uint8:
		if buf != nil {
			return int64(*buf)
		}
	case *int16:
		if buf != nil {
			return int64(*buf)
		}
	case *uint16:
		if buf != nil {
			return int64(*buf)
		}
	case *int32:
		if buf != nil {
			return int64(*buf)
		}
	case *uint32:
		if buf != nil {
			return int64(*buf)
		}
	case *int64:
		if buf != nil {
			return *buf
		}
	case *uint64:
		if buf != nil {
			return *buf
		}
	case *float32:
		if buf != nil {
			return float64(*buf)
		}
	case *float64:
		if buf != nil {
			return *buf
		}
	case *decimal.Decimal:
		if buf != nil {
			return []byte(buf.String())
		}
	case *time.Time:
		if buf != nil {
			return *buf
		}
	case []byte:
		return buf[:b.BufferLength]
	}
	return nil
}

func namedValues(binds []Bind) []driver.NamedValue {
	args := make([]driver.NamedValue, len(binds))
	for i, b := range binds {
		args[i] = driver.NamedValue{Ordinal: i + 1, Value: b.value()}
	}
	return args
}

const timeLayout = "2006-01-02 15:04:05.999999"

// assign writes src into the bind's buffer. A value that does not fit is
// stored as far as it goes and the returned state has Truncated set.
func (b Bind) assign(src driver.Value) (ColumnState, error) {
	if src == nil {
		return ColumnState{IsNull: true}, nil
	}
	if raw, ok := src.([]byte); ok {
		if dst, ok := b.Buffer.([]byte); ok {
			n := copy(dst[:b.BufferLength], raw)
			return ColumnState{Length: len(raw), Truncated: n < len(raw)}, nil
		}
	}

	switch dst := b.Buffer.(type) {
	case *int8:
		v, st, err := toInt(src, math.MinInt8, math.MaxInt8)
		*dst = int8(v)
		st.Length = 1
		return st, err
	case *int16:
		v, st, err := toInt(src, math.MinInt16, math.MaxInt16)
		*dst = int16(v)
		st.Length = 2
		return st, err
	case *int32:
		v, st, err := toInt(src, math.MinInt32, math.MaxInt32)
		*dst = int32(v)
		st.Length = 4
		return st, err
	case *int64:
		v, st, err := toInt(src, math.MinInt64, math.MaxInt64)
		*dst = v
		st.Length = 8
		return st, err
	case *uint8:
		v, st, err := toUint(src, math.MaxUint8)
		*dst = uint8(v)
		st.Length = 1
		return st, err
	case *uint16:
		v, st, err := toUint(src, math.MaxUint16)
		*dst = uint16(v)
		st.Length = 2
		return st, err
	case *uint32:
		v, st, err := toUint(src, math.MaxUint32)
		*dst = uint32(v)
		st.Length = 4
		return st, err
	case *uint64:
		v, st, err := toUint(src, math.MaxUint64)
		*dst = v
		st.Length = 8
		return st, err
	case *float32:
		v, err := toFloat(src)
		*dst = float32(v)
		return ColumnState{Length: 4}, err
	case *float64:
		v, err := toFloat(src)
		*dst = v
		return ColumnState{Length: 8}, err
	case *decimal.Decimal:
		v, err := toDecimal(src)
		*dst = v
		return ColumnState{Length: len(v.String())}, err
	case *time.Time:
		v, err := toTime(src)
		*dst = v
		return ColumnState{Length: len(v.Format(timeLayout))}, err
	case []byte:
		s := []byte(fmt.Sprint(src))
		if t, ok := src.(time.Time); ok {
			s = []byte(t.Format(timeLayout))
		}
		n := copy(dst[:b.BufferLength], s)
		return ColumnState{Length: len(s), Truncated: n < len(s)}, nil
	}
	return ColumnState{}, fmt.Errorf("%w: %s with %T", ErrUnsupportedBuffer, b.Type, b.Buffer)
}

func toInt(src driver.Value, lo, hi int64) (int64, ColumnState, error) {
	var v int64
	switch s := src.(type) {
	case int64:
		v = s
	case uint64:
		if s > math.MaxInt64 {
			return hi, ColumnState{Truncated: true}, nil
		}
		v = int64(s)
	case float32, float64:
		f, _ := toFloat(s)
		// float64(math.MaxInt64) rounds up to 2^63, which no int64 holds.
		if f < float64(lo) || f > float64(hi) || f >= 1<<63 {
			return clampFloat(f, lo, hi), ColumnState{Truncated: true}, nil
		}
		return int64(f), ColumnState{Truncated: f != math.Trunc(f)}, nil
	case bool:
		if s {
			v = 1
		}
	case []byte, string:
		parsed, err := strconv.ParseInt(fmt.Sprintf("%s", s), 10, 64)
		if err != nil {
			return 0, ColumnState{}, fmt.Errorf("cannot convert %q to integer: %w", s, err)
		}
		v = parsed
	default:
		return 0, ColumnState{}, fmt.Errorf("cannot convert %T to integer", src)
	}
	if v < lo {
		return lo, ColumnState{Truncated: true}, nil
	}
	if v > hi {
		return hi, ColumnState{Truncated: true}, nil
	}
	return v, ColumnState{}, nil
}

func clampFloat(f float64, lo, hi int64) int64 {
	if f < float64(lo) {
		return lo
	}
	return hi
}

func toUint(src driver.Value, hi uint64) (uint64, ColumnState, error) {
	var v uint64
	switch s := src.(type) {
	case int64:
		if s < 0 {
			return 0, ColumnState{Truncated: true}, nil
		}
		v = uint64(s)
	case uint64:
		v = s
	case float32, float64:
		f, _ := toFloat(s)
		if f < 0 {
			return 0, ColumnState{Truncated: true}, nil
		}
		if f > float64(hi) || f >= 1<<64 {
			return hi, ColumnState{Truncated: true}, nil
		}
		return uint64(f), ColumnState{Truncated: f != math.Trunc(f)}, nil
	case bool:
		if s {
			v = 1
		}
	case []byte, string:
		parsed, err := strconv.ParseUint(fmt.Sprintf("%s", s), 10, 64)
		if err != nil {
			return 0, ColumnState{}, fmt.Errorf("cannot convert %q to unsigned integer: %w", s, err)
		}
		v = parsed
	default:
		return 0, ColumnState{}, fmt.Errorf("cannot convert %T to unsigned integer", src)
	}
	if v > hi {
		return hi, ColumnState{Truncated: true}, nil
	}
	return v, ColumnState{}, nil
}

func toFloat(src driver.Value) (float64, error) {
	switch s := src.(type) {
	case float64:
		return s, nil
	case float32:
		return float64(s), nil
	case int64:
		return float64(s), nil
	case uint64:
		return float64(s), nil
	case []byte, string:
		f, err := strconv.ParseFloat(fmt.Sprintf("%s", s), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to float: %w", s, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("cannot convert %T to float", src)
}

func toDecimal(src driver.Value) (decimal.Decimal, error) {
	switch s := src.(type) {
	case int64:
		return decimal.NewFromInt(s), nil
	case uint64:
		return decimal.NewFromString(strconv.FormatUint(s, 10))
	case float32:
		return decimal.NewFromFloat32(s), nil
	case float64:
		return decimal.NewFromFloat(s), nil
	case []byte:
		return decimal.NewFromString(string(s))
	case string:
		return decimal.NewFromString(s)
	}
	return decimal.Zero, fmt.Errorf("cannot convert %T to decimal", src)
}

func toTime(src driver.Value) (time.Time, error) {
	var text string
	switch s := src.(type) {
	case time.Time:
		return s, nil
	case []byte:
		text = string(s)
	case string:
		text = s
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time", src)
	}
	for _, layout := range []string{timeLayout, "2006-01-02", "15:04:05.999999"} {
		if t, err := time.Parse(layout, text); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot convert %q to time", text)
}
