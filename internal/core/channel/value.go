package channel

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindLong
	KindFloat
	KindString
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindEnum:
		return "enum"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var ErrOutOfRange = errors.New("value out of range")

// Value is an immutable, possibly undefined, channel value.
type Value struct {
	kind    Kind
	defined bool
	b       bool
	i       int64
	f       float64
	s       string
}

func Undefined(kind Kind) Value {
	return Value{kind: kind}
}

func BoolValue(b bool) Value {
	return Value{kind: KindBool, defined: true, b: b}
}

func IntValue(i int32) Value {
	return Value{kind: KindInt, defined: true, i: int64(i)}
}

func LongValue(i int64) Value {
	return Value{kind: KindLong, defined: true, i: i}
}

func FloatValue(f float64) Value {
	return Value{kind: KindFloat, defined: true, f: f}
}

func StringValue(s string) Value {
	return Value{kind: KindString, defined: true, s: s}
}

func EnumValue(code int) Value {
	return Value{kind: KindEnum, defined: true, i: int64(code)}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) Defined() bool {
	return v.defined
}

func (v Value) Bool() (bool, bool) {
	if !v.defined {
		return false, false
	}
	switch v.kind {
	case KindBool:
		return v.b, true
	case KindInt, KindLong, KindEnum:
		return v.i != 0, true
	case KindFloat:
		return v.f != 0, true
	}
	return false, false
}

func (v Value) Int() (int64, bool) {
	if !v.defined {
		return 0, false
	}
	switch v.kind {
	case KindInt, KindLong, KindEnum:
		return v.i, true
	case KindFloat:
		return int64(math.Round(v.f)), true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func (v Value) Float() (float64, bool) {
	if !v.defined {
		return 0, false
	}
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt, KindLong, KindEnum:
		return float64(v.i), true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func (v Value) Text() (string, bool) {
	if !v.defined {
		return "", false
	}
	if v.kind == KindString {
		return v.s, true
	}
	return v.String(), true
}

// BoolOr returns the boolean value or def when undefined.
func (v Value) BoolOr(def bool) bool {
	if b, ok := v.Bool(); ok {
		return b
	}
	return def
}

func (v Value) IntOr(def int64) int64 {
	if i, ok := v.Int(); ok {
		return i
	}
	return def
}

func (v Value) Equal(o Value) bool {
	if v.defined != o.defined {
		return false
	}
	if !v.defined {
		return true
	}
	switch v.kind {
	case KindBool:
		ob, ok := o.Bool()
		return ok && ob == v.b
	case KindString:
		return o.kind == KindString && o.s == v.s
	case KindFloat:
		of, ok := o.Float()
		return ok && of == v.f
	default:
		if o.kind == KindFloat {
			return float64(v.i) == o.f
		}
		oi, ok := o.Int()
		return ok && oi == v.i
	}
}

// Any returns the plain Go value, nil when undefined.
func (v Value) Any() any {
	if !v.defined {
		return nil
	}
	switch v.kind {
	case KindBool:
		return v.b
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	default:
		return v.i
	}
}

func (v Value) String() string {
	if !v.defined {
		return "UNDEFINED"
	}
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindString:
		return v.s
	default:
		return strconv.FormatInt(v.i, 10)
	}
}

// FromFloat builds a value of the given kind from a decoded number.
func FromFloat(kind Kind, f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("%w: %v", ErrOutOfRange, f)
	}
	switch kind {
	case KindBool:
		return BoolValue(f != 0), nil
	case KindInt:
		r := math.Round(f)
		if r > math.MaxInt32 || r < math.MinInt32 {
			return Value{}, fmt.Errorf("%w: %v does not fit int", ErrOutOfRange, f)
		}
		return IntValue(int32(r)), nil
	case KindLong:
		r := math.Round(f)
		if r > math.MaxInt64 || r < math.MinInt64 {
			return Value{}, fmt.Errorf("%w: %v does not fit long", ErrOutOfRange, f)
		}
		return LongValue(int64(r)), nil
	case KindEnum:
		r := math.Round(f)
		if r > math.MaxInt32 || r < math.MinInt32 {
			return Value{}, fmt.Errorf("%w: %v is not an enum code", ErrOutOfRange, f)
		}
		return EnumValue(int(r)), nil
	case KindFloat:
		return FloatValue(f), nil
	}
	return Value{}, fmt.Errorf("%w: cannot convert number to %s", ErrKindMismatch, kind)
}

// FromAny converts a loosely typed input (JSON, MQTT payload) into a value of the given kind.
func FromAny(kind Kind, in any) (Value, error) {
	switch x := in.(type) {
	case nil:
		return Undefined(kind), nil
	case bool:
		if kind == KindBool {
			return BoolValue(x), nil
		}
		if kind == KindString {
			return Value{}, fmt.Errorf("%w: bool for %s", ErrKindMismatch, kind)
		}
		if x {
			return FromFloat(kind, 1)
		}
		return FromFloat(kind, 0)
	case float64:
		if kind == KindString {
			return Value{}, fmt.Errorf("%w: number for %s", ErrKindMismatch, kind)
		}
		return FromFloat(kind, x)
	case int:
		return FromAny(kind, float64(x))
	case int32:
		return FromAny(kind, float64(x))
	case int64:
		return FromAny(kind, float64(x))
	case string:
		switch kind {
		case KindString:
			return StringValue(x), nil
		case KindBool:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return Value{}, fmt.Errorf("%w: %q", ErrKindMismatch, x)
			}
			return BoolValue(b), nil
		default:
			f, err := strconv.ParseFloat(x, 64)
			if err != nil {
				return Value{}, fmt.Errorf("%w: %q", ErrKindMismatch, x)
			}
			return FromFloat(kind, f)
		}
	}
	return Value{}, fmt.Errorf("%w: unsupported input %T", ErrKindMismatch, in)
}
