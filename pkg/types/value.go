// Package types defines the runtime values and errors of the formula language.
// A value is a number, a string or an array of strings. Booleans exist only
// as the transient result of a comparison and are coerced to 1/0 before they
// reach a scope.
package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueType represents the kind of a runtime value.
type ValueType int

const (
	TypeNull   ValueType = iota
	TypeBool             // comparison result, never stored in a scope
	TypeNumber           // float64
	TypeString           // string
	TypeArray            // []string
)

// String returns the kind name used in error messages.
func (t ValueType) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeArray:
		return "array"
	default:
		return "unknown"
	}
}

// Value represents a formula runtime value as a tagged union.
type Value struct {
	typ       ValueType
	boolVal   bool
	numberVal float64
	stringVal string
	arrayVal  []string
}

// Null is the zero value, returned alongside errors and by statements.
var Null = Value{typ: TypeNull}

// NewBool creates a boolean value.
func NewBool(v bool) Value {
	return Value{typ: TypeBool, boolVal: v}
}

// NewNumber creates a numeric value.
func NewNumber(v float64) Value {
	return Value{typ: TypeNumber, numberVal: v}
}

// NewString creates a string value.
func NewString(v string) Value {
	return Value{typ: TypeString, stringVal: v}
}

// NewArray creates an array value. The slice is copied.
func NewArray(v []string) Value {
	items := make([]string, len(v))
	copy(items, v)
	return Value{typ: TypeArray, arrayVal: items}
}

// Type returns the value's kind.
func (v Value) Type() ValueType {
	return v.typ
}

// IsNull returns true for the zero value.
func (v Value) IsNull() bool {
	return v.typ == TypeNull
}

// AsBool returns the boolean value. Panics if not a bool.
func (v Value) AsBool() bool {
	if v.typ != TypeBool {
		panic(fmt.Sprintf("AsBool called on %s value", v.typ))
	}
	return v.boolVal
}

// AsString returns the string value. Panics if not a string.
func (v Value) AsString() string {
	if v.typ != TypeString {
		panic(fmt.Sprintf("AsString called on %s value", v.typ))
	}
	return v.stringVal
}

// AsArray returns a copy of the array value. Panics if not an array.
func (v Value) AsArray() []string {
	if v.typ != TypeArray {
		panic(fmt.Sprintf("AsArray called on %s value", v.typ))
	}
	items := make([]string, len(v.arrayVal))
	copy(items, v.arrayVal)
	return items
}

// AsNumber returns the numeric value. Booleans count as 1 and 0.
func (v Value) AsNumber() (float64, bool) {
	switch v.typ {
	case TypeNumber:
		return v.numberVal, true
	case TypeBool:
		if v.boolVal {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Truthy reports whether the value counts as true in AND/OR: booleans by
// value, numbers when non-zero, strings and arrays when non-empty.
func (v Value) Truthy() bool {
	switch v.typ {
	case TypeBool:
		return v.boolVal
	case TypeNumber:
		return v.numberVal != 0 && !math.IsNaN(v.numberVal)
	case TypeString:
		return v.stringVal != ""
	case TypeArray:
		return len(v.arrayVal) > 0
	default:
		return false
	}
}

// Coerce converts a boolean to the number 1 or 0 and returns any other value
// unchanged. Every value leaving an expression into a scope passes through it.
func (v Value) Coerce() Value {
	if v.typ == TypeBool {
		n, _ := v.AsNumber()
		return NewNumber(n)
	}
	return v
}

// Equal tests equality. Booleans compare equal to their numeric form.
func (v Value) Equal(other Value) bool {
	a, b := v.Coerce(), other.Coerce()
	if a.typ != b.typ {
		return false
	}
	switch a.typ {
	case TypeNull:
		return true
	case TypeNumber:
		return a.numberVal == b.numberVal
	case TypeString:
		return a.stringVal == b.stringVal
	case TypeArray:
		if len(a.arrayVal) != len(b.arrayVal) {
			return false
		}
		for i := range a.arrayVal {
			if a.arrayVal[i] != b.arrayVal[i] {
				return false
			}
		}
		return true
	}
	return false
}

// FormatNumber renders a number the way the formula language prints it:
// integers without a fraction, no trailing zeros, exponent form only for very
// large or very small magnitudes.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs >= 1e21 || abs < 1e-6) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// String returns a human-readable representation of the value.
func (v Value) String() string {
	switch v.typ {
	case TypeNull:
		return "null"
	case TypeBool:
		if v.boolVal {
			return "true"
		}
		return "false"
	case TypeNumber:
		return FormatNumber(v.numberVal)
	case TypeString:
		return v.stringVal
	case TypeArray:
		return strings.Join(v.arrayVal, ";")
	}
	return "<unknown>"
}

// MarshalJSON encodes numbers as JSON numbers (NaN and infinities as
// strings), strings as strings and arrays as string arrays.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.typ {
	case TypeNull:
		return []byte("null"), nil
	case TypeBool:
		return json.Marshal(v.boolVal)
	case TypeNumber:
		if math.IsNaN(v.numberVal) || math.IsInf(v.numberVal, 0) {
			return json.Marshal(FormatNumber(v.numberVal))
		}
		return json.Marshal(v.numberVal)
	case TypeString:
		return json.Marshal(v.stringVal)
	case TypeArray:
		return json.Marshal(v.arrayVal)
	}
	return nil, fmt.Errorf("cannot marshal unknown type %d", v.typ)
}

// ToGoValue converts a Value to a plain Go value for encoders and for the
// host expression engine.
func (v Value) ToGoValue() interface{} {
	switch v.typ {
	case TypeBool:
		return v.boolVal
	case TypeNumber:
		return v.numberVal
	case TypeString:
		return v.stringVal
	case TypeArray:
		return v.AsArray()
	}
	return nil
}

// ValueFromGo converts a decoded JSON/YAML value or a host engine result into
// a Value. Integers become numbers, lists become string arrays.
func ValueFromGo(v interface{}) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null, nil
	case Value:
		return val, nil
	case bool:
		return NewBool(val), nil
	case int:
		return NewNumber(float64(val)), nil
	case int64:
		return NewNumber(float64(val)), nil
	case uint64:
		return NewNumber(float64(val)), nil
	case float32:
		return NewNumber(float64(val)), nil
	case float64:
		return NewNumber(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return Null, NewValueError(fmt.Sprintf("invalid number %q", val.String()))
		}
		return NewNumber(f), nil
	case string:
		return NewString(val), nil
	case []string:
		return NewArray(val), nil
	case []interface{}:
		items := make([]string, len(val))
		for i, item := range val {
			iv, err := ValueFromGo(item)
			if err != nil {
				return Null, err
			}
			if iv.typ == TypeArray {
				return Null, NewTypeError("nested arrays are not supported")
			}
			items[i] = iv.String()
		}
		return NewArray(items), nil
	default:
		return Null, NewTypeError(fmt.Sprintf("unsupported value type %T", v))
	}
}
