package partialeval

import (
	"fmt"
	"math"
	"strconv"

	"github.com/speakeasy-api/jvmeval"
)

// Kind is the computational type of a value. Byte, char, short and boolean
// values are all KindInteger.
type Kind uint8

const (
	// KindTop is the kind of a slot whose contents have no single type, such
	// as a local that holds an int on one path and a reference on another.
	KindTop Kind = iota
	KindInteger
	KindLong
	KindFloat
	KindDouble
	KindReference
	KindReturnAddress

	// kindSecondHalf marks the upper slot or cell of a long or double.
	kindSecondHalf
)

func (k Kind) String() string {
	switch k {
	case KindTop:
		return "top"
	case KindInteger:
		return "int"
	case KindLong:
		return "long"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindReference:
		return "ref"
	case KindReturnAddress:
		return "retaddr"
	case kindSecondHalf:
		return "hi"
	}
	return "invalid"
}

// Category returns 2 for long and double, 1 otherwise.
func (k Kind) Category() int {
	if k == KindLong || k == KindDouble {
		return 2
	}
	return 1
}

// kindOfDescriptor maps a field descriptor to its computational kind.
func kindOfDescriptor(desc string) Kind {
	if desc == "" {
		return KindTop
	}
	switch desc[0] {
	case 'B', 'C', 'I', 'S', 'Z':
		return KindInteger
	case 'J':
		return KindLong
	case 'F':
		return KindFloat
	case 'D':
		return KindDouble
	case 'L', '[':
		return KindReference
	}
	return KindTop
}

// Mode is the precision of a value. Modes are ordered from most precise to
// least precise: Particular, Typed, Unknown.
type Mode uint8

const (
	ModeUnknown Mode = iota
	ModeTyped
	ModeParticular
)

func (m Mode) String() string {
	switch m {
	case ModeParticular:
		return "particular"
	case ModeTyped:
		return "typed"
	default:
		return "unknown"
	}
}

type refFlags uint8

const (
	refMayBeNull refFlags = 1 << iota
	refMayBeExtension
	refNull
)

// Value is an abstract JVM value at one program point. Values are small,
// immutable and comparable with ==.
//
// The zero Value is Top.
type Value struct {
	kind Kind
	mode Mode
	// bits holds particular payloads: int32 and int64 sign-extended, float
	// and double as IEEE bit patterns, return addresses as offsets.
	bits uint64
	// typ is the field descriptor of a typed or particular reference.
	typ string
	// str is the payload of a particular String reference.
	str   string
	flags refFlags
}

// Top returns the value of a slot with no consistent kind.
func Top() Value { return Value{} }

func secondHalf() Value { return Value{kind: kindSecondHalf, mode: ModeTyped} }

// ParticularInt returns the int constant v.
func ParticularInt(v int32) Value {
	return Value{kind: KindInteger, mode: ModeParticular, bits: uint64(int64(v))}
}

// ParticularLong returns the long constant v.
func ParticularLong(v int64) Value {
	return Value{kind: KindLong, mode: ModeParticular, bits: uint64(v)}
}

// ParticularFloat returns the float constant v.
func ParticularFloat(v float32) Value {
	return Value{kind: KindFloat, mode: ModeParticular, bits: uint64(math.Float32bits(v))}
}

// ParticularDouble returns the double constant v.
func ParticularDouble(v float64) Value {
	return Value{kind: KindDouble, mode: ModeParticular, bits: math.Float64bits(v)}
}

// ParticularString returns a non-null String constant.
func ParticularString(s string) Value {
	return Value{kind: KindReference, mode: ModeParticular, typ: jvmeval.DescString, str: s}
}

// NullReference returns the null constant.
func NullReference() Value {
	return Value{kind: KindReference, mode: ModeParticular, flags: refNull | refMayBeNull}
}

// ReturnAddress returns the address pushed by a jsr whose return site is offset.
func ReturnAddress(offset int) Value {
	return Value{kind: KindReturnAddress, mode: ModeParticular, bits: uint64(offset)}
}

// TypedOf returns a value of a known primitive kind with unknown contents.
func TypedOf(kind Kind) Value {
	if kind == KindReference {
		return UnknownOf(KindReference)
	}
	return Value{kind: kind, mode: ModeTyped}
}

// TypedReference returns a reference of type desc (a field descriptor).
// mayBeExtension records that the runtime class may be a subtype.
func TypedReference(desc string, mayBeNull, mayBeExtension bool) Value {
	if desc == "" {
		return UnknownOf(KindReference)
	}
	v := Value{kind: KindReference, mode: ModeTyped, typ: desc}
	if mayBeNull {
		v.flags |= refMayBeNull
	}
	if mayBeExtension {
		v.flags |= refMayBeExtension
	}
	return v
}

// UnknownOf returns a value of the given kind about which nothing else is known.
func UnknownOf(kind Kind) Value {
	if kind == KindTop {
		return Top()
	}
	v := Value{kind: kind, mode: ModeUnknown}
	if kind == KindReference {
		v.flags = refMayBeNull | refMayBeExtension
	}
	return v
}

// ValueOfDescriptor returns the typed value of a field descriptor. Reference
// types may be null and may be extended unless they are final String or
// primitive arrays.
func ValueOfDescriptor(desc string) Value {
	kind := kindOfDescriptor(desc)
	if kind != KindReference {
		return TypedOf(kind)
	}
	return TypedReference(desc, true, mayBeExtended(desc))
}

func mayBeExtended(desc string) bool {
	if desc == jvmeval.DescString {
		return false
	}
	if elem, ok := jvmeval.ArrayElement(desc); ok {
		return jvmeval.IsReferenceDescriptor(elem)
	}
	return true
}

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// Mode returns the value's precision.
func (v Value) Mode() Mode { return v.mode }

// Category returns the number of slots or stack cells the value occupies.
func (v Value) Category() int { return v.kind.Category() }

func (v Value) IsParticular() bool { return v.mode == ModeParticular }
func (v Value) IsTyped() bool      { return v.mode == ModeTyped }
func (v Value) IsUnknown() bool    { return v.mode == ModeUnknown }
func (v Value) IsTop() bool        { return v.kind == KindTop }

func (v Value) isSecondHalf() bool { return v.kind == kindSecondHalf }

// Int returns the payload of a particular int.
func (v Value) Int() (int32, bool) {
	if v.kind != KindInteger || v.mode != ModeParticular {
		return 0, false
	}
	return int32(v.bits), true
}

// Long returns the payload of a particular long.
func (v Value) Long() (int64, bool) {
	if v.kind != KindLong || v.mode != ModeParticular {
		return 0, false
	}
	return int64(v.bits), true
}

// Float returns the payload of a particular float.
func (v Value) Float() (float32, bool) {
	if v.kind != KindFloat || v.mode != ModeParticular {
		return 0, false
	}
	return math.Float32frombits(uint32(v.bits)), true
}

// Double returns the payload of a particular double.
func (v Value) Double() (float64, bool) {
	if v.kind != KindDouble || v.mode != ModeParticular {
		return 0, false
	}
	return math.Float64frombits(v.bits), true
}

// StringConstant returns the payload of a particular String reference.
func (v Value) StringConstant() (string, bool) {
	if v.kind != KindReference || v.mode != ModeParticular || v.flags&refNull != 0 {
		return "", false
	}
	return v.str, true
}

// ReturnAddressOffset returns the return site of a particular return address.
func (v Value) ReturnAddressOffset() (int, bool) {
	if v.kind != KindReturnAddress || v.mode != ModeParticular {
		return 0, false
	}
	return int(v.bits), true
}

// IsNull reports whether the value is the null constant.
func (v Value) IsNull() bool {
	return v.kind == KindReference && v.flags&refNull != 0
}

// IsNotNull reports whether the value is a reference that is never null.
func (v Value) IsNotNull() bool {
	return v.kind == KindReference && v.mode != ModeUnknown && v.flags&refMayBeNull == 0
}

// MayBeNull reports whether a reference may be null.
func (v Value) MayBeNull() bool {
	return v.kind == KindReference && v.flags&refMayBeNull != 0
}

// MayBeExtension reports whether the runtime class of a reference may be a
// proper subtype of Type.
func (v Value) MayBeExtension() bool {
	return v.kind == KindReference && v.flags&refMayBeExtension != 0
}

// Type returns the field descriptor of the value, or "" when it is unknown.
func (v Value) Type() string {
	switch v.kind {
	case KindInteger:
		return jvmeval.DescInt
	case KindLong:
		return jvmeval.DescLong
	case KindFloat:
		return jvmeval.DescFloat
	case KindDouble:
		return jvmeval.DescDouble
	case KindReference:
		return v.typ
	}
	return ""
}

// Equal reports whether v and w are the same abstract value. Float payloads
// compare by bit pattern, so NaN equals NaN and 0.0 differs from -0.0.
func (v Value) Equal(w Value) bool { return v == w }

// Generalized returns v with its particular payload dropped. Null and
// return addresses are returned unchanged.
func (v Value) Generalized() Value {
	if v.mode != ModeParticular {
		return v
	}
	switch v.kind {
	case KindInteger, KindLong, KindFloat, KindDouble:
		return TypedOf(v.kind)
	case KindReference:
		if v.IsNull() {
			return v
		}
		return TypedReference(v.typ, false, false)
	}
	return v
}

func (v Value) String() string {
	switch v.kind {
	case KindTop:
		return "top"
	case kindSecondHalf:
		return "-"
	}
	switch v.mode {
	case ModeUnknown:
		return v.kind.String() + "?"
	case ModeTyped:
		if v.kind == KindReference {
			s := v.typ
			if v.flags&refMayBeExtension != 0 {
				s += "+"
			}
			if v.flags&refMayBeNull != 0 {
				s += "?"
			}
			return s
		}
		return v.kind.String()
	}
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(int64(int32(v.bits)), 10)
	case KindLong:
		return strconv.FormatInt(int64(v.bits), 10) + "L"
	case KindFloat:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(v.bits))), 'g', -1, 32) + "f"
	case KindDouble:
		return strconv.FormatFloat(math.Float64frombits(v.bits), 'g', -1, 64) + "d"
	case KindReference:
		if v.IsNull() {
			return "null"
		}
		return strconv.Quote(v.str)
	case KindReturnAddress:
		return fmt.Sprintf("ret@%d", v.bits)
	}
	return "invalid"
}
