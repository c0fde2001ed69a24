package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ScalarType is the declared type of a Point or VirtualPoint value.
type ScalarType string

const (
	ScalarBool   ScalarType = "bool"
	ScalarInt64  ScalarType = "int64"
	ScalarDouble ScalarType = "double"
	ScalarString ScalarType = "string"
)

// Value is a tagged union over the scalar types a point can carry. Decoders
// and script bridges operate through the narrow coercion API below rather
// than type-switching on the zero value directly.
type Value struct {
	typ ScalarType
	b   bool
	i   int64
	d   float64
	s   string
}

func BoolValue(v bool) Value     { return Value{typ: ScalarBool, b: v} }
func Int64Value(v int64) Value   { return Value{typ: ScalarInt64, i: v} }
func DoubleValue(v float64) Value { return Value{typ: ScalarDouble, d: v} }
func StringValue(v string) Value  { return Value{typ: ScalarString, s: v} }

func (v Value) Type() ScalarType { return v.typ }

// AsBool coerces the value to bool. Numeric values are non-zero-is-true.
func (v Value) AsBool() bool {
	switch v.typ {
	case ScalarBool:
		return v.b
	case ScalarInt64:
		return v.i != 0
	case ScalarDouble:
		return v.d != 0
	case ScalarString:
		return v.s != "" && v.s != "0" && v.s != "false"
	default:
		return false
	}
}

// AsFloat64 coerces the value to float64. Used throughout analog evaluation
// and virtual-point arithmetic.
func (v Value) AsFloat64() float64 {
	switch v.typ {
	case ScalarBool:
		if v.b {
			return 1
		}
		return 0
	case ScalarInt64:
		return float64(v.i)
	case ScalarDouble:
		return v.d
	case ScalarString:
		f, _ := strconv.ParseFloat(v.s, 64)
		return f
	default:
		return 0
	}
}

// AsInt64 coerces the value to int64 by truncation.
func (v Value) AsInt64() int64 {
	switch v.typ {
	case ScalarBool:
		if v.b {
			return 1
		}
		return 0
	case ScalarInt64:
		return v.i
	case ScalarDouble:
		return int64(v.d)
	case ScalarString:
		i, _ := strconv.ParseInt(v.s, 10, 64)
		return i
	default:
		return 0
	}
}

// AsString renders the value as a human-readable string.
func (v Value) AsString() string {
	switch v.typ {
	case ScalarBool:
		return strconv.FormatBool(v.b)
	case ScalarInt64:
		return strconv.FormatInt(v.i, 10)
	case ScalarDouble:
		return strconv.FormatFloat(v.d, 'g', -1, 64)
	case ScalarString:
		return v.s
	default:
		return ""
	}
}

// Any returns the value as its natural Go type, for script bindings and JSON.
func (v Value) Any() any {
	switch v.typ {
	case ScalarBool:
		return v.b
	case ScalarInt64:
		return v.i
	case ScalarDouble:
		return v.d
	case ScalarString:
		return v.s
	default:
		return nil
	}
}

// CoerceTo converts the value to the requested declared type.
func (v Value) CoerceTo(t ScalarType) Value {
	switch t {
	case ScalarBool:
		return BoolValue(v.AsBool())
	case ScalarInt64:
		return Int64Value(v.AsInt64())
	case ScalarDouble:
		return DoubleValue(v.AsFloat64())
	case ScalarString:
		return StringValue(v.AsString())
	default:
		return v
	}
}

// ValueFromAny wraps a plain Go value (as produced by a decoder or the
// script sandbox) into a Value of the given declared type.
func ValueFromAny(t ScalarType, raw any) (Value, error) {
	switch x := raw.(type) {
	case bool:
		return BoolValue(x).CoerceTo(t), nil
	case int:
		return Int64Value(int64(x)).CoerceTo(t), nil
	case int64:
		return Int64Value(x).CoerceTo(t), nil
	case float32:
		return DoubleValue(float64(x)).CoerceTo(t), nil
	case float64:
		return DoubleValue(x).CoerceTo(t), nil
	case string:
		return StringValue(x).CoerceTo(t), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("model: decode json.Number %q: %w", x, err)
		}
		return DoubleValue(f).CoerceTo(t), nil
	case nil:
		return Value{}, fmt.Errorf("model: nil value cannot be coerced")
	default:
		return Value{}, fmt.Errorf("model: unsupported value kind %T", raw)
	}
}

// MarshalJSON emits the value as its bare natural JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// UnmarshalJSON decodes a bare JSON scalar, inferring ScalarType from its
// JSON kind (integral numbers decode as int64, other numbers as double).
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case bool:
		*v = BoolValue(x)
	case string:
		*v = StringValue(x)
	case json.Number:
		if iv, err := x.Int64(); err == nil {
			*v = Int64Value(iv)
		} else {
			f, err := x.Float64()
			if err != nil {
				return err
			}
			*v = DoubleValue(f)
		}
	case nil:
		*v = Value{}
	default:
		return fmt.Errorf("model: unsupported JSON value %T", raw)
	}
	return nil
}
