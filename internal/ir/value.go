package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the dynamic type of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindString:
		return "String"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is a sealed interface representing a scalar stored in a tuple or
// produced by an expression. Only Null, Bool, Int, Float and String
// implement it.
type Value interface {
	value() // Sealed - only these types implement it
	Kind() Kind
	String() string
}

// Null is the absent value of a nullable column.
type Null struct{}

func (Null) value()         {}
func (Null) Kind() Kind     { return KindNull }
func (Null) String() string { return "null" }

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// Bool is a boolean value.
type Bool bool

func (Bool) value()     {}
func (Bool) Kind() Kind { return KindBool }
func (b Bool) String() string {
	return strconv.FormatBool(bool(b))
}

// Int is a signed 64-bit integer value.
type Int int64

func (Int) value()     {}
func (Int) Kind() Kind { return KindInt }
func (i Int) String() string {
	return strconv.FormatInt(int64(i), 10)
}

// Float is a 64-bit floating point value.
type Float float64

func (Float) value()     {}
func (Float) Kind() Kind { return KindFloat }

// String renders the float so that it never reads back as an Int:
// integral values keep a trailing ".0".
func (f Float) String() string {
	s := strconv.FormatFloat(float64(f), 'g', -1, 64)
	if strings.ContainsAny(s, ".eEnN") {
		return s
	}
	return s + ".0"
}

// MarshalJSON implements json.Marshaler for Float.
// NaN and infinities have no JSON form.
func (f Float) MarshalJSON() ([]byte, error) {
	if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
		return nil, fmt.Errorf("float %v has no JSON representation", float64(f))
	}
	return []byte(f.String()), nil
}

// String is a UTF-8 string value.
type String string

func (String) value()     {}
func (String) Kind() Kind { return KindString }
func (s String) String() string {
	return strconv.Quote(string(s))
}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// IsNumeric reports whether v is an Int or a Float.
func IsNumeric(v Value) bool {
	switch v.(type) {
	case Int, Float:
		return true
	}
	return false
}

// AsFloat converts a numeric value to float64.
func AsFloat(v Value) (float64, bool) {
	switch n := v.(type) {
	case Int:
		return float64(n), true
	case Float:
		return float64(n), true
	}
	return 0, false
}

// rank orders kinds in the total order: Null < Bool < numbers < String.
// Int and Float share a rank and compare numerically.
func rank(v Value) int {
	switch v.(type) {
	case nil, Null:
		return 0
	case Bool:
		return 1
	case Int, Float:
		return 2
	case String:
		return 3
	}
	return 4
}

// Compare defines the total order over values.
//
// Values of different kinds order by kind (Null < Bool < numbers < String).
// Int and Float compare numerically, so Int(1) and Float(1.0) are equal.
// NaN sorts below every other number and equal to itself.
func Compare(a, b Value) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case nil, Null:
		return 0
	case Bool:
		bv := b.(Bool)
		switch {
		case av == bv:
			return 0
		case !bool(av):
			return -1
		default:
			return 1
		}
	case Int:
		if bv, ok := b.(Int); ok {
			return compareInt(int64(av), int64(bv))
		}
		return compareFloat(float64(av), float64(b.(Float)))
	case Float:
		bf, _ := AsFloat(b)
		return compareFloat(float64(av), bf)
	case String:
		return strings.Compare(string(av), string(b.(String)))
	}
	return 0
}

// Equal reports whether two values are equal in the total order.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloat(a, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ParseValue decodes a JSON scalar into a Value.
// Numbers without a fraction or exponent become Int; other numbers become
// Float. Arrays and objects are rejected.
func ParseValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromAny(raw)
}

// FromAny converts a decoded Go value (from JSON, YAML, CUE or flags) into a
// Value.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d out of int64 range", val)
		}
		return Int(val), nil
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case json.Number:
		s := string(val)
		if !strings.ContainsAny(s, ".eE") {
			n, err := val.Int64()
			if err != nil {
				return nil, fmt.Errorf("number out of int64 range: %s", s)
			}
			return Int(n), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %s: %w", s, err)
		}
		return Float(f), nil
	default:
		return nil, fmt.Errorf("unsupported scalar type: %T", v)
	}
}

// ToAny converts a Value into a plain Go value suitable for encoding/json.
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(val)
	case Int:
		return int64(val)
	case Float:
		return val
	case String:
		return string(val)
	}
	return nil
}

// MarshalValue marshals a Value to JSON bytes.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case Bool:
		return json.Marshal(bool(val))
	case Int:
		return json.Marshal(int64(val))
	case Float:
		return val.MarshalJSON()
	case String:
		return json.Marshal(string(val))
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}
