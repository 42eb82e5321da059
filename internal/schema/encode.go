package schema

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrValueCount means a sample does not supply one value per field.
	ErrValueCount = errors.New("sample value count does not match table")
	// ErrTypeMismatch means a value's tag differs from its field's type.
	ErrTypeMismatch = errors.New("sample value type does not match field")
)

// Value is a single tagged sample value.
type Value struct {
	kind FieldType
	u    uint64
	d    float64
}

// U64 returns an unsigned integer value.
func U64(v uint64) Value { return Value{kind: UInt64, u: v} }

// F64 returns a double value.
func F64(v float64) Value { return Value{kind: Double, d: v} }

// Type returns the value's tag.
func (v Value) Type() FieldType { return v.kind }

// Uint64 returns the integer payload and whether v holds one.
func (v Value) Uint64() (uint64, bool) { return v.u, v.kind == UInt64 }

// Float64 returns the double payload and whether v holds one.
func (v Value) Float64() (float64, bool) { return v.d, v.kind == Double }

// Encode renders one "<name> <value>\n" line per field, in schema order.
// Doubles carry two fractional digits.
func Encode(t *Table, values []Value) ([]byte, error) {
	if len(values) != len(t.fields) {
		return nil, fmt.Errorf("table %q: %w: got %d, want %d", t.name, ErrValueCount, len(values), len(t.fields))
	}

	buf := make([]byte, 0, 32*len(t.fields))
	for i, f := range t.fields {
		v := values[i]
		if v.kind != f.Type {
			return nil, fmt.Errorf("table %q field %q: %w: got %s, want %s", t.name, f.Name, ErrTypeMismatch, v.kind, f.Type)
		}
		buf = append(buf, f.Name...)
		buf = append(buf, ' ')
		switch f.Type {
		case UInt64:
			buf = strconv.AppendUint(buf, v.u, 10)
		case Double:
			buf = appendDouble(buf, v.d)
		}
		buf = append(buf, '\n')
	}
	return buf, nil
}

// appendDouble writes v with two fractional digits, rounding the shortest
// decimal form of v half away from zero, so 12.345 renders as 12.35 even
// though its binary value sits just below.
func appendDouble(buf []byte, v float64) []byte {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.AppendFloat(buf, v, 'f', -1, 64)
	}

	s := strconv.FormatFloat(math.Abs(v), 'f', -1, 64)
	intPart, frac, _ := strings.Cut(s, ".")
	if len(frac) < 3 {
		frac += strings.Repeat("0", 2-len(frac))
	} else {
		digits := []byte(intPart + frac[:2])
		if frac[2] >= '5' {
			i := len(digits) - 1
			for ; i >= 0; i-- {
				if digits[i] < '9' {
					digits[i]++
					break
				}
				digits[i] = '0'
			}
			if i < 0 {
				digits = append([]byte{'1'}, digits...)
			}
		}
		intPart, frac = string(digits[:len(digits)-2]), string(digits[len(digits)-2:])
	}

	if math.Signbit(v) {
		buf = append(buf, '-')
	}
	buf = append(buf, intPart...)
	buf = append(buf, '.')
	return append(buf, frac...)
}
