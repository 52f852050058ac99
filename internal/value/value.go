// Package value implements the tagged variant carrier that flows
// through every message on the bus (spec.md §3, §4.1).
package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jsdrv/jsdrv-go/internal/jsdrverr"
)

// Kind is the tag of a Value's payload.
type Kind uint8

const (
	KindNull Kind = iota
	KindStr
	KindJSON
	KindBinary
	KindF32
	KindF64
	KindU8
	KindU16
	KindU32
	KindU64
	KindI8
	KindI16
	KindI32
	KindI64
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindStr:
		return "str"
	case KindJSON:
		return "json"
	case KindBinary:
		return "bin"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindU8:
		return "u8"
	case KindU16:
		return "u16"
	case KindU32:
		return "u32"
	case KindU64:
		return "u64"
	case KindI8:
		return "i8"
	case KindI16:
		return "i16"
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	default:
		return "unknown"
	}
}

func (k Kind) isInteger() bool {
	switch k {
	case KindU8, KindU16, KindU32, KindU64, KindI8, KindI16, KindI32, KindI64:
		return true
	}
	return false
}

func (k Kind) isSigned() bool {
	switch k {
	case KindI8, KindI16, KindI32, KindI64:
		return true
	}
	return false
}

// App is the one-byte discriminator for well-known binary structures
// carried by a binary-kind Value (spec.md §3).
type App uint8

const (
	AppNone App = iota
	AppStreamSampleBlock
	AppStatistics
	AppBufferInfo
	AppBufferRequest
	AppBufferResponse
	AppSubscribe
	AppDeviceAdd
)

// Value is the tagged variant carried by every Message.
//
// Const marks payload memory borrowed from a static lifetime (in this
// Go implementation that only affects whether Clone is allowed to
// alias the backing slice instead of copying it); Retain marks that
// the bus should cache this value as the topic's retained value.
type Value struct {
	Kind   Kind
	Retain bool
	Const  bool
	App    App

	bytes []byte // backing storage for Str/JSON/Binary
	num   uint64 // raw bits for numeric kinds
}

// Null returns the null Value.
func Null() Value { return Value{Kind: KindNull} }

// Str builds a string Value.
func Str(s string) Value { return Value{Kind: KindStr, bytes: []byte(s)} }

// JSON builds a json Value from raw document bytes.
func JSON(b []byte) Value { return Value{Kind: KindJSON, bytes: b} }

// Binary builds a binary Value.
func Binary(b []byte) Value { return Value{Kind: KindBinary, bytes: b} }

// BinaryApp builds a binary Value tagged with a well-known App kind.
func BinaryApp(b []byte, app App) Value {
	return Value{Kind: KindBinary, bytes: b, App: app}
}

func F32(f float32) Value { return Value{Kind: KindF32, num: uint64(math.Float32bits(f))} }
func F64(f float64) Value { return Value{Kind: KindF64, num: math.Float64bits(f)} }
func U8(v uint8) Value { return Value{Kind: KindU8, num: uint64(v)} }
func U16(v uint16) Value { return Value{Kind: KindU16, num: uint64(v)} }
func U32(v uint32) Value { return Value{Kind: KindU32, num: uint64(v)} }
func U64(v uint64) Value { return Value{Kind: KindU64, num: v} }
func I8(v int8) Value { return Value{Kind: KindI8, num: uint64(uint8(v))} }
func I16(v int16) Value { return Value{Kind: KindI16, num: uint64(uint16(v))} }
func I32(v int32) Value { return Value{Kind: KindI32, num: uint64(uint32(v))} }
func I64(v int64) Value { return Value{Kind: KindI64, num: uint64(v)} }

// WithRetain returns a copy of v with the Retain flag set.
func (v Value) WithRetain() Value { v.Retain = true; return v }

// WithConst returns a copy of v with the Const flag set.
func (v Value) WithConst() Value { v.Const = true; return v }

// Bytes returns the backing slice for Str/JSON/Binary kinds; it is the
// empty slice for numeric/null kinds.
func (v Value) Bytes() []byte { return v.bytes }

// Len returns the size in bytes of the string/json/binary payload.
func (v Value) Len() int { return len(v.bytes) }

// Clone produces an independent copy. Const values may alias the
// source slice (the memory is understood to outlive the clone);
// everything else is deep-copied, mirroring "heap-owned payloads are
// reclaimed when the carrying message is freed" (spec.md §3).
func (v Value) Clone() Value {
	out := v
	if len(v.bytes) > 0 && !v.Const {
		out.bytes = append([]byte(nil), v.bytes...)
	}
	return out
}

// AsU64 widens any integer kind to uint64 (spec.md §4.1). Widening a
// negative signed value sign-extends into the 64-bit representation.
func (v Value) AsU64() (uint64, error) {
	if !v.Kind.isInteger() {
		return 0, jsdrverr.New("AsU64", "", jsdrverr.CodeParameterInvalid)
	}
	if !v.Kind.isSigned() {
		return v.num, nil
	}
	return uint64(v.AsI64Unchecked()), nil
}

// AsI64Unchecked sign-extends a signed integer kind to int64 without
// validating the kind; callers must have already checked isSigned.
func (v Value) AsI64Unchecked() int64 {
	switch v.Kind {
	case KindI8:
		return int64(int8(v.num))
	case KindI16:
		return int64(int16(v.num))
	case KindI32:
		return int64(int32(v.num))
	default:
		return int64(v.num)
	}
}

// AsI64 widens any integer kind to int64, failing if an unsigned value
// does not fit (spec.md §4.1 "checked narrowing... fails on overflow").
func (v Value) AsI64() (int64, error) {
	if !v.Kind.isInteger() {
		return 0, jsdrverr.New("AsI64", "", jsdrverr.CodeParameterInvalid)
	}
	if v.Kind.isSigned() {
		return v.AsI64Unchecked(), nil
	}
	if v.num > math.MaxInt64 {
		return 0, jsdrverr.New("AsI64", "", jsdrverr.CodeParameterInvalid)
	}
	return int64(v.num), nil
}

// AsF64 widens f32/f64/integer kinds to float64.
func (v Value) AsF64() (float64, error) {
	switch v.Kind {
	case KindF32:
		return float64(math.Float32frombits(uint32(v.num))), nil
	case KindF64:
		return math.Float64frombits(v.num), nil
	}
	if v.Kind.isInteger() {
		if v.Kind.isSigned() {
			return float64(v.AsI64Unchecked()), nil
		}
		return float64(v.num), nil
	}
	return 0, jsdrverr.New("AsF64", "", jsdrverr.CodeParameterInvalid)
}

// NarrowU32 performs a checked narrowing to uint32, failing on overflow
// (spec.md §4.1).
func (v Value) NarrowU32() (uint32, error) {
	u, err := v.AsU64()
	if err != nil {
		return 0, err
	}
	if u > math.MaxUint32 {
		return 0, jsdrverr.New("NarrowU32", "", jsdrverr.CodeParameterInvalid)
	}
	return uint32(u), nil
}

// NarrowI32 performs a checked narrowing to int32, failing on overflow.
func (v Value) NarrowI32() (int32, error) {
	i, err := v.AsI64()
	if err != nil {
		return 0, err
	}
	if i > math.MaxInt32 || i < math.MinInt32 {
		return 0, jsdrverr.New("NarrowI32", "", jsdrverr.CodeParameterInvalid)
	}
	return int32(i), nil
}

// AsBool coerces numeric and textual forms to bool (spec.md §4.1):
// zero/"" /"false"/"0" are false, anything else true for numeric or
// recognized textual forms; unrecognized string forms fail.
func (v Value) AsBool() (bool, error) {
	switch v.Kind {
	case KindStr:
		s := strings.ToLower(strings.TrimSpace(string(v.bytes)))
		switch s {
		case "", "0", "false", "off", "no":
			return false, nil
		case "1", "true", "on", "yes":
			return true, nil
		default:
			return false, jsdrverr.New("AsBool", "", jsdrverr.CodeParameterInvalid)
		}
	case KindF32, KindF64:
		f, _ := v.AsF64()
		return f != 0, nil
	default:
		if v.Kind.isInteger() {
			u, _ := v.AsU64()
			return u != 0, nil
		}
		return false, jsdrverr.New("AsBool", "", jsdrverr.CodeParameterInvalid)
	}
}

// Equal implements type-exact equality; use EqualWidened for
// cross-integer-type comparisons.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind || v.App != other.App {
		return false
	}
	if v.Kind == KindStr || v.Kind == KindJSON || v.Kind == KindBinary {
		return string(v.bytes) == string(other.bytes)
	}
	return v.num == other.num
}

// EqualWidened compares two integer-kind values after widening both to
// a common signed 64-bit representation (spec.md §4.1: "integer
// widening to 64 bits" feeds "widened-integer equivalent" equality).
func (v Value) EqualWidened(other Value) bool {
	if !v.Kind.isInteger() || !other.Kind.isInteger() {
		return v.Equal(other)
	}
	a, errA := v.AsI64()
	b, errB := other.AsI64()
	if errA == nil && errB == nil {
		return a == b
	}
	ua, _ := v.AsU64()
	ub, _ := other.AsU64()
	return ua == ub
}

// ToString renders a diagnostic representation of v.
func (v Value) ToString() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindStr:
		return string(v.bytes)
	case KindJSON:
		return string(v.bytes)
	case KindBinary:
		return fmt.Sprintf("bin[%d]", len(v.bytes))
	case KindF32, KindF64:
		f, _ := v.AsF64()
		return strconv.FormatFloat(f, 'g', -1, 64)
	default:
		if v.Kind.isSigned() {
			return strconv.FormatInt(v.AsI64Unchecked(), 10)
		}
		return strconv.FormatUint(v.num, 10)
	}
}
