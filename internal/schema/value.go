package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind identifies the type carried by a Value.
type Kind int

const (
	// KindNull is the absence of a value.
	KindNull Kind = iota
	// KindText is a UTF-8 string.
	KindText
	// KindNumber is a float64. Integers are stored exactly up to 2^53.
	KindNumber
	// KindBool is a boolean.
	KindBool
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Value is a tagged scalar. The zero Value is null.
type Value struct {
	kind Kind
	text string
	num  float64
	b    bool
}

// Null returns the null value.
func Null() Value { return Value{} }

// Text returns a text value.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Int returns a numeric value holding an integer.
func Int(i int64) Value { return Value{kind: KindNumber, num: float64(i)} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind returns the kind of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsText returns the text payload and whether the value is text.
func (v Value) AsText() (string, bool) { return v.text, v.kind == KindText }

// AsNumber returns the numeric payload and whether the value is a number.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsInt returns the payload as an integer when the value is an integral number.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber || v.num != math.Trunc(v.num) || math.IsInf(v.num, 0) {
		return 0, false
	}
	return int64(v.num), true
}

// AsBool returns the boolean payload and whether the value is a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindText:
		return v.text == o.text
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	default:
		return true
	}
}

// String formats the value for display. Null renders as "NULL".
func (v Value) String() string {
	switch v.kind {
	case KindText:
		return v.text
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return "NULL"
	}
}

// AppendBinary appends a canonical encoding of the value, used for hashing.
func (v Value) AppendBinary(buf []byte) []byte {
	buf = append(buf, byte(v.kind))
	switch v.kind {
	case KindText:
		buf = strconv.AppendInt(buf, int64(len(v.text)), 10)
		buf = append(buf, ':')
		buf = append(buf, v.text...)
	case KindNumber:
		buf = strconv.AppendUint(buf, math.Float64bits(v.num), 16)
	case KindBool:
		if v.b {
			buf = append(buf, '1')
		} else {
			buf = append(buf, '0')
		}
	}
	return append(buf, ';')
}

// MarshalJSON encodes the value as the matching JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindText:
		return json.Marshal(v.text)
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return nil, fmt.Errorf("cannot encode non-finite number %v", v.num)
		}
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a JSON scalar. Arrays and objects are rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty value")
	}
	switch data[0] {
	case 'n':
		*v = Null()
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	case '[', '{':
		return fmt.Errorf("value must be a scalar, got %s", string(data[:1]))
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		*v = Number(f)
		return nil
	}
}
