package jvmeval

import (
	"fmt"
	"strings"
)

// Instruction is one decoded bytecode instruction at an absolute offset.
//
// The set of implementations is closed: *SimpleInstruction,
// *VariableInstruction, *ConstantInstruction, *BranchInstruction and
// *SwitchInstruction. Consumers dispatch with a type switch.
type Instruction interface {
	Opcode() Opcode
	// Offset is the byte position of the instruction in the code array.
	Offset() int
	// Length is the encoded size in bytes, including operands and padding.
	Length() int
	String() string

	instruction()
}

type header struct {
	op     Opcode
	offset int
	length int
}

func (h header) Opcode() Opcode { return h.op }
func (h header) Offset() int    { return h.offset }
func (h header) Length() int    { return h.length }
func (h header) instruction()   {}

// SimpleInstruction has no operands or a single immediate operand
// (bipush, sipush, newarray).
type SimpleInstruction struct {
	header
	// Constant holds the immediate of bipush/sipush, the array type code of
	// newarray, or the implicit constant of iconst_<n>, lconst_<n>,
	// fconst_<n> and dconst_<n>.
	Constant int32
}

func (i *SimpleInstruction) String() string {
	switch i.op {
	case OpBipush, OpSipush, OpNewarray:
		return fmt.Sprintf("%s %d", i.op, i.Constant)
	}
	return i.op.String()
}

// VariableInstruction accesses a local variable slot: loads, stores, iinc
// and ret, in both short (xload_<n>) and wide forms.
type VariableInstruction struct {
	header
	Index     int
	Increment int32
	Wide      bool
}

func (i *VariableInstruction) String() string {
	if i.op == OpIinc {
		return fmt.Sprintf("iinc %d, %d", i.Index, i.Increment)
	}
	return fmt.Sprintf("%s %d", i.op, i.Index)
}

// IsLoad reports whether the instruction reads the slot.
func (i *VariableInstruction) IsLoad() bool {
	return i.op.Category() == CategoryLoad || i.op == OpRet
}

// ConstantInstruction refers to a constant pool entry: ldc variants, field
// access, invocations, new, anewarray, checkcast, instanceof and
// multianewarray.
type ConstantInstruction struct {
	header
	Index uint16
	// Dimensions is the dimension operand of multianewarray.
	Dimensions uint8
	// Count is the historical argument-size operand of invokeinterface.
	Count uint8
}

func (i *ConstantInstruction) String() string {
	if i.op == OpMultianewarray {
		return fmt.Sprintf("%s #%d, %d", i.op, i.Index, i.Dimensions)
	}
	return fmt.Sprintf("%s #%d", i.op, i.Index)
}

// BranchInstruction is a conditional or unconditional jump, or jsr.
// Target is absolute.
type BranchInstruction struct {
	header
	Target int
}

func (i *BranchInstruction) String() string {
	return fmt.Sprintf("%s %d", i.op, i.Target)
}

// SwitchInstruction is tableswitch or lookupswitch. Keys and Targets are
// parallel; for tableswitch Keys runs from Low to High. All targets are
// absolute.
type SwitchInstruction struct {
	header
	Default int
	Low     int32
	High    int32
	Keys    []int32
	Targets []int
}

func (i *SwitchInstruction) String() string {
	var b strings.Builder
	b.WriteString(i.op.String())
	b.WriteString(" {")
	for k, key := range i.Keys {
		if k > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d: %d", key, i.Targets[k])
	}
	if len(i.Keys) > 0 {
		b.WriteString(", ")
	}
	fmt.Fprintf(&b, "default: %d}", i.Default)
	return b.String()
}

// TargetFor returns the jump target selected by key.
func (i *SwitchInstruction) TargetFor(key int32) int {
	for k, candidate := range i.Keys {
		if candidate == key {
			return i.Targets[k]
		}
	}
	return i.Default
}
