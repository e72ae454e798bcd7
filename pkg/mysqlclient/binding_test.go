package mysqlclient

import (
	"database/sql/driver"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldType_String(t *testing.T) {
	assert.Equal(t, "LONGLONG", TypeLongLong.String())
	assert.Equal(t, "NEWDECIMAL", TypeNewDecimal.String())
	assert.Equal(t, "FieldType(100)", FieldType(100).String())
}

func TestBindCheck(t *testing.T) {
	var (
		i16 int16
		u32 uint32
		f32 float32
		ts  time.Time
	)
	tests := []struct {
		name      string
		bind      Bind
		allowNull bool
		ok        bool
	}{
		{"short", Bind{Type: TypeShort, Buffer: &i16}, false, true},
		{"year", Bind{Type: TypeYear, Buffer: &i16}, false, true},
		{"int24", Bind{Type: TypeInt24, Buffer: &u32}, false, true},
		{"float as double", Bind{Type: TypeDouble, Buffer: &f32}, false, false},
		{"date", Bind{Type: TypeDate, Buffer: &ts}, false, true},
		{"time as string", Bind{Type: TypeString, Buffer: &ts}, false, false},
		{"json bytes", Bind{Type: TypeJSON, Buffer: []byte("{}"), BufferLength: 2}, false, true},
		{"bytes length overflow", Bind{Type: TypeBlob, Buffer: []byte("ab"), BufferLength: 3}, false, false},
		{"null parameter", Bind{Type: TypeNull}, true, true},
		{"null result", Bind{Type: TypeNull}, false, false},
		{"unsupported buffer", Bind{Type: TypeLong, Buffer: new(int)}, false, false},
		{"nil result pointer", Bind{Type: TypeLongLong, Buffer: (*int64)(nil)}, false, false},
		{"nil decimal result", Bind{Type: TypeNewDecimal, Buffer: (*decimal.Decimal)(nil)}, false, false},
		{"nil parameter pointer", Bind{Type: TypeLongLong, Buffer: (*int64)(nil)}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bind.check(tt.allowNull)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrUnsupportedBuffer)
			}
		})
	}
}

func TestBindValue(t *testing.T) {
	u16 := uint16(65535)
	u64 := uint64(math.MaxUint64)
	f32 := float32(1.5)
	dec := decimal.RequireFromString("12.340")
	var nilInt *int32

	assert.Equal(t, driver.Value(int64(65535)), Bind{Buffer: &u16}.value())
	assert.Equal(t, driver.Value(u64), Bind{Buffer: &u64}.value())
	assert.Equal(t, driver.Value(float64(1.5)), Bind{Buffer: &f32}.value())
	assert.Equal(t, driver.Value([]byte("12.34")), Bind{Buffer: &dec}.value())
	assert.Equal(t, driver.Value([]byte("ab")), Bind{Buffer: []byte("abc"), BufferLength: 2}.value())
	assert.Nil(t, Bind{Buffer: nilInt}.value())
	assert.Nil(t, Bind{Type: TypeNull}.value())
}

func TestBindAssign_Integers(t *testing.T) {
	var i8 int8
	st, err := Bind{Buffer: &i8}.assign(int64(300))
	require.NoError(t, err)
	assert.Equal(t, int8(math.MaxInt8), i8)
	assert.True(t, st.Truncated)

	var u16 uint16
	st, err = Bind{Buffer: &u16}.assign(int64(-1))
	require.NoError(t, err)
	assert.Equal(t, uint16(0), u16)
	assert.True(t, st.Truncated)

	var u64 uint64
	st, err = Bind{Buffer: &u64}.assign([]byte("18446744073709551615"))
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), u64)
	assert.False(t, st.Truncated)
	assert.Equal(t, 8, st.Length)

	var i64 int64
	st, err = Bind{Buffer: &i64}.assign(uint64(math.MaxUint64))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), i64)
	assert.True(t, st.Truncated)

	var i32 int32
	st, err = Bind{Buffer: &i32}.assign(float64(2.5))
	require.NoError(t, err)
	assert.Equal(t, int32(2), i32)
	assert.True(t, st.Truncated)

	_, err = Bind{Buffer: &i32}.assign([]byte("abc"))
	assert.Error(t, err)
}

func TestBindAssign_FloatAtIntegerLimits(t *testing.T) {
	var i64 int64
	st, err := Bind{Buffer: &i64}.assign(float64(math.MaxInt64))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), i64)
	assert.True(t, st.Truncated)

	st, err = Bind{Buffer: &i64}.assign(float64(math.MinInt64))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), i64)
	assert.False(t, st.Truncated)

	var u64 uint64
	st, err = Bind{Buffer: &u64}.assign(float64(math.MaxUint64))
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), u64)
	assert.True(t, st.Truncated)

	var i8 int8
	st, err = Bind{Buffer: &i8}.assign(float64(127))
	require.NoError(t, err)
	assert.Equal(t, int8(127), i8)
	assert.False(t, st.Truncated)
}

func TestBindAssign_FloatsDecimalsTimes(t *testing.T) {
	var f64 float64
	_, err := Bind{Buffer: &f64}.assign([]byte("3.25"))
	require.NoError(t, err)
	assert.Equal(t, 3.25, f64)

	var dec decimal.Decimal
	st, err := Bind{Buffer: &dec}.assign([]byte("1234.5600"))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1234.56").Equal(dec))
	assert.Equal(t, len("1234.56"), st.Length)

	_, err = Bind{Buffer: &dec}.assign(uint64(math.MaxUint64))
	require.NoError(t, err)
	assert.Equal(t, "18446744073709551615", dec.String())

	var ts time.Time
	_, err = Bind{Buffer: &ts}.assign([]byte("2025-01-02 03:04:05.123456"))
	require.NoError(t, err)
	assert.True(t, time.Date(2025, 1, 2, 3, 4, 5, 123456000, time.UTC).Equal(ts))

	_, err = Bind{Buffer: &ts}.assign([]byte("2025-01-02"))
	require.NoError(t, err)
	assert.True(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC).Equal(ts))

	_, err = Bind{Buffer: &ts}.assign([]byte("yesterday"))
	assert.Error(t, err)
}

func TestBindAssign_Bytes(t *testing.T) {
	buf := make([]byte, 4)

	st, err := Bind{Buffer: buf, BufferLength: 4}.assign(int64(123456))
	require.NoError(t, err)
	assert.Equal(t, "1234", string(buf))
	assert.Equal(t, ColumnState{Length: 6, Truncated: true}, st)

	// Only the first BufferLength bytes of the buffer are written.
	buf = []byte("....")
	st, err = Bind{Buffer: buf, BufferLength: 2}.assign([]byte("xyz"))
	require.NoError(t, err)
	assert.Equal(t, "xy..", string(buf))
	assert.True(t, st.Truncated)

	st, err = Bind{Buffer: buf, BufferLength: 4}.assign(nil)
	require.NoError(t, err)
	assert.True(t, st.IsNull)
}
