package jvmeval

import (
	"encoding/binary"
	"fmt"
)

// Assembler writes a code array instruction by instruction. Branch targets
// are given as labels and patched when Bytes is called.
//
// Example:
//
//	code := jvmeval.NewAssembler().
//		Op(OpIconst1).Op(OpIconst1).Op(OpIadd).Op(OpIreturn).
//		MustBytes()
type Assembler struct {
	buf    []byte
	labels map[string]int
	fixups []fixup
	err    error
}

type fixup struct {
	label  string
	at     int // where the relative offset is written
	from   int // offset of the branching instruction
	wide   bool
	origin string
}

// NewAssembler returns an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{labels: make(map[string]int)}
}

// Offset returns the offset of the next instruction to be written.
func (a *Assembler) Offset() int { return len(a.buf) }

func (a *Assembler) u8(v uint8) { a.buf = append(a.buf, v) }

func (a *Assembler) u16(v uint16) {
	a.buf = binary.BigEndian.AppendUint16(a.buf, v)
}

func (a *Assembler) u32(v uint32) {
	a.buf = binary.BigEndian.AppendUint32(a.buf, v)
}

func (a *Assembler) fail(format string, args ...any) *Assembler {
	if a.err == nil {
		a.err = fmt.Errorf(format, args...)
	}
	return a
}

// Op writes an instruction without operands.
func (a *Assembler) Op(ops ...Opcode) *Assembler {
	for _, op := range ops {
		a.u8(byte(op))
	}
	return a
}

// Raw writes bytes verbatim.
func (a *Assembler) Raw(b ...byte) *Assembler {
	a.buf = append(a.buf, b...)
	return a
}

// Int pushes an int constant using the shortest encoding that does not
// need the constant pool.
func (a *Assembler) Int(v int32) *Assembler {
	switch {
	case v >= -1 && v <= 5:
		return a.Op(OpIconst0 + Opcode(v))
	case v >= -128 && v <= 127:
		a.u8(byte(OpBipush))
		a.u8(uint8(int8(v)))
	case v >= -32768 && v <= 32767:
		a.u8(byte(OpSipush))
		a.u16(uint16(int16(v)))
	default:
		return a.fail("int constant %d needs the constant pool", v)
	}
	return a
}

// Newarray writes newarray with a primitive array type code.
func (a *Assembler) Newarray(atype uint8) *Assembler {
	a.u8(byte(OpNewarray))
	a.u8(atype)
	return a
}

// Local writes a load, store or ret on slot index, choosing the short,
// regular or wide form.
func (a *Assembler) Local(op Opcode, index int) *Assembler {
	switch {
	case index < 0 || index > 0xFFFF:
		return a.fail("local index %d out of range", index)
	case index <= 3 && op >= OpIload && op <= OpAload:
		return a.Op(OpIload0 + Opcode(int(op-OpIload)*4+index))
	case index <= 3 && op >= OpIstore && op <= OpAstore:
		return a.Op(OpIstore0 + Opcode(int(op-OpIstore)*4+index))
	case index <= 0xFF:
		a.u8(byte(op))
		a.u8(uint8(index))
	default:
		a.u8(byte(OpWide))
		a.u8(byte(op))
		a.u16(uint16(index))
	}
	return a
}

// Iinc writes iinc, widening when index or delta need it.
func (a *Assembler) Iinc(index int, delta int) *Assembler {
	if index <= 0xFF && delta >= -128 && delta <= 127 {
		a.u8(byte(OpIinc))
		a.u8(uint8(index))
		a.u8(uint8(int8(delta)))
		return a
	}
	a.u8(byte(OpWide))
	a.u8(byte(OpIinc))
	a.u16(uint16(index))
	a.u16(uint16(int16(delta)))
	return a
}

// Ref writes an instruction taking a constant pool index.
func (a *Assembler) Ref(op Opcode, index uint16) *Assembler {
	switch op {
	case OpLdc:
		if index > 0xFF {
			return a.fail("ldc index %d needs ldc_w", index)
		}
		a.u8(byte(op))
		a.u8(uint8(index))
	case OpInvokeinterface:
		return a.Invokeinterface(index, 1)
	case OpInvokedynamic:
		a.u8(byte(op))
		a.u16(index)
		a.u16(0)
	case OpMultianewarray:
		return a.Multianewarray(index, 1)
	default:
		a.u8(byte(op))
		a.u16(index)
	}
	return a
}

// Invokeinterface writes invokeinterface with its argument-size operand.
func (a *Assembler) Invokeinterface(index uint16, count uint8) *Assembler {
	a.u8(byte(OpInvokeinterface))
	a.u16(index)
	a.u8(count)
	a.u8(0)
	return a
}

// Multianewarray writes multianewarray.
func (a *Assembler) Multianewarray(index uint16, dims uint8) *Assembler {
	a.u8(byte(OpMultianewarray))
	a.u16(index)
	a.u8(dims)
	return a
}

// Label binds name to the current offset.
func (a *Assembler) Label(name string) *Assembler {
	if _, dup := a.labels[name]; dup {
		return a.fail("label %q defined twice", name)
	}
	a.labels[name] = len(a.buf)
	return a
}

// LabelOffset returns the offset bound to name, or -1.
func (a *Assembler) LabelOffset(name string) int {
	if off, ok := a.labels[name]; ok {
		return off
	}
	return -1
}

// Jump writes a branch instruction to label.
func (a *Assembler) Jump(op Opcode, label string) *Assembler {
	from := len(a.buf)
	a.u8(byte(op))
	wide := op == OpGotoW || op == OpJsrW
	a.fixups = append(a.fixups, fixup{label: label, at: len(a.buf), from: from, wide: wide, origin: op.String()})
	if wide {
		a.u32(0)
	} else {
		a.u16(0)
	}
	return a
}

func (a *Assembler) pad() {
	for len(a.buf)%4 != 0 {
		a.u8(0)
	}
}

func (a *Assembler) switchTarget(from int, label string) {
	a.fixups = append(a.fixups, fixup{label: label, at: len(a.buf), from: from, wide: true, origin: "switch"})
	a.u32(0)
}

// Tableswitch writes a tableswitch whose keys run from low upward, one per
// target label.
func (a *Assembler) Tableswitch(low int32, def string, targets ...string) *Assembler {
	from := len(a.buf)
	a.u8(byte(OpTableswitch))
	a.pad()
	a.switchTarget(from, def)
	a.u32(uint32(low))
	a.u32(uint32(low + int32(len(targets)) - 1))
	for _, t := range targets {
		a.switchTarget(from, t)
	}
	return a
}

// Lookupswitch writes a lookupswitch. keys must be sorted ascending.
func (a *Assembler) Lookupswitch(def string, keys []int32, targets []string) *Assembler {
	if len(keys) != len(targets) {
		return a.fail("lookupswitch has %d keys but %d targets", len(keys), len(targets))
	}
	from := len(a.buf)
	a.u8(byte(OpLookupswitch))
	a.pad()
	a.switchTarget(from, def)
	a.u32(uint32(len(keys)))
	for i, k := range keys {
		a.u32(uint32(k))
		a.switchTarget(from, targets[i])
	}
	return a
}

// Bytes resolves labels and returns the code array.
func (a *Assembler) Bytes() ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	out := make([]byte, len(a.buf))
	copy(out, a.buf)
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("%s at %d: undefined label %q", f.origin, f.from, f.label)
		}
		rel := target - f.from
		if f.wide {
			binary.BigEndian.PutUint32(out[f.at:], uint32(int32(rel)))
			continue
		}
		if rel < -32768 || rel > 32767 {
			return nil, fmt.Errorf("%s at %d: branch to %q out of 16-bit range", f.origin, f.from, f.label)
		}
		binary.BigEndian.PutUint16(out[f.at:], uint16(int16(rel)))
	}
	return out, nil
}

// MustBytes is like Bytes but panics on error.
func (a *Assembler) MustBytes() []byte {
	b, err := a.Bytes()
	if err != nil {
		panic(err)
	}
	return b
}
