package jvmeval

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Code is a decoded method body: the raw code array plus its instructions
// in offset order.
type Code struct {
	bytes        []byte
	instructions []Instruction
	positions    map[int]int // offset -> index into instructions
}

// DecodeError reports a code array that cannot be split into instructions.
type DecodeError struct {
	Offset int
	Opcode Opcode
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error at offset %d (%s): %s", e.Offset, e.Opcode, e.Reason)
}

// Decode splits a raw code array into instructions.
func Decode(code []byte) (*Code, error) {
	c := &Code{
		bytes:     code,
		positions: make(map[int]int),
	}
	offset := 0
	for offset < len(code) {
		ins, err := decodeAt(code, offset)
		if err != nil {
			return nil, err
		}
		c.positions[offset] = len(c.instructions)
		c.instructions = append(c.instructions, ins)
		offset += ins.Length()
	}
	return c, nil
}

// MustDecode is like Decode but panics on malformed input. It is intended
// for code produced by an Assembler.
func MustDecode(code []byte) *Code {
	c, err := Decode(code)
	if err != nil {
		panic(err)
	}
	return c
}

// Bytes returns the raw code array.
func (c *Code) Bytes() []byte { return c.bytes }

// Size returns the length of the code array in bytes.
func (c *Code) Size() int { return len(c.bytes) }

// Instructions returns the decoded instructions in offset order.
func (c *Code) Instructions() []Instruction { return c.instructions }

// At returns the instruction starting at offset.
func (c *Code) At(offset int) (Instruction, bool) {
	i, ok := c.positions[offset]
	if !ok {
		return nil, false
	}
	return c.instructions[i], true
}

// IsInstructionOffset reports whether an instruction starts at offset.
func (c *Code) IsInstructionOffset(offset int) bool {
	_, ok := c.positions[offset]
	return ok
}

// Offsets returns all instruction offsets in ascending order.
func (c *Code) Offsets() []int {
	out := make([]int, 0, len(c.instructions))
	for _, ins := range c.instructions {
		out = append(out, ins.Offset())
	}
	return out
}

// InstructionsIn returns the instructions whose offsets lie in [start, end).
func (c *Code) InstructionsIn(start, end int) []Instruction {
	lo := sort.Search(len(c.instructions), func(i int) bool {
		return c.instructions[i].Offset() >= start
	})
	hi := sort.Search(len(c.instructions), func(i int) bool {
		return c.instructions[i].Offset() >= end
	})
	return c.instructions[lo:hi]
}

func decodeAt(code []byte, offset int) (Instruction, error) {
	op := Opcode(code[offset])
	fail := func(reason string) error {
		return &DecodeError{Offset: offset, Opcode: op, Reason: reason}
	}
	need := func(n int) error {
		if offset+n > len(code) {
			return fail(fmt.Sprintf("truncated operands: need %d bytes, have %d", n, len(code)-offset))
		}
		return nil
	}
	u8 := func(at int) int { return int(code[at]) }
	u16 := func(at int) int { return int(binary.BigEndian.Uint16(code[at:])) }
	s16 := func(at int) int { return int(int16(binary.BigEndian.Uint16(code[at:]))) }
	s32 := func(at int) int32 { return int32(binary.BigEndian.Uint32(code[at:])) }

	simple := func(length int, constant int32) (Instruction, error) {
		if err := need(length); err != nil {
			return nil, err
		}
		return &SimpleInstruction{header: header{op, offset, length}, Constant: constant}, nil
	}

	switch {
	case op == OpWide:
		return decodeWide(code, offset)

	case op >= OpIconstM1 && op <= OpIconst5:
		return simple(1, int32(op)-int32(OpIconst0))
	case op == OpLconst0 || op == OpLconst1:
		return simple(1, int32(op-OpLconst0))
	case op >= OpFconst0 && op <= OpFconst2:
		return simple(1, int32(op-OpFconst0))
	case op == OpDconst0 || op == OpDconst1:
		return simple(1, int32(op-OpDconst0))
	case op == OpBipush:
		if err := need(2); err != nil {
			return nil, err
		}
		return simple(2, int32(int8(code[offset+1])))
	case op == OpSipush:
		if err := need(3); err != nil {
			return nil, err
		}
		return simple(3, int32(s16(offset+1)))
	case op == OpNewarray:
		if err := need(2); err != nil {
			return nil, err
		}
		return simple(2, int32(u8(offset+1)))

	case op == OpLdc:
		if err := need(2); err != nil {
			return nil, err
		}
		return &ConstantInstruction{header: header{op, offset, 2}, Index: uint16(u8(offset + 1))}, nil
	case op == OpLdcW || op == OpLdc2W ||
		(op >= OpGetstatic && op <= OpInvokestatic) ||
		op == OpNew || op == OpAnewarray || op == OpCheckcast || op == OpInstanceof:
		if err := need(3); err != nil {
			return nil, err
		}
		return &ConstantInstruction{header: header{op, offset, 3}, Index: uint16(u16(offset + 1))}, nil
	case op == OpInvokeinterface || op == OpInvokedynamic:
		if err := need(5); err != nil {
			return nil, err
		}
		return &ConstantInstruction{
			header: header{op, offset, 5},
			Index:  uint16(u16(offset + 1)),
			Count:  uint8(u8(offset + 3)),
		}, nil
	case op == OpMultianewarray:
		if err := need(4); err != nil {
			return nil, err
		}
		return &ConstantInstruction{
			header:     header{op, offset, 4},
			Index:      uint16(u16(offset + 1)),
			Dimensions: uint8(u8(offset + 3)),
		}, nil

	case op >= OpIload && op <= OpAload, op >= OpIstore && op <= OpAstore, op == OpRet:
		if err := need(2); err != nil {
			return nil, err
		}
		return &VariableInstruction{header: header{op, offset, 2}, Index: u8(offset + 1)}, nil
	case op >= OpIload0 && op <= OpAload3:
		n := int(op - OpIload0)
		return &VariableInstruction{header: header{OpIload + Opcode(n/4), offset, 1}, Index: n % 4}, nil
	case op >= OpIstore0 && op <= OpAstore3:
		n := int(op - OpIstore0)
		return &VariableInstruction{header: header{OpIstore + Opcode(n/4), offset, 1}, Index: n % 4}, nil
	case op == OpIinc:
		if err := need(3); err != nil {
			return nil, err
		}
		return &VariableInstruction{
			header:    header{op, offset, 3},
			Index:     u8(offset + 1),
			Increment: int32(int8(code[offset+2])),
		}, nil

	case op.IsConditional() || op == OpGoto || op == OpJsr:
		if err := need(3); err != nil {
			return nil, err
		}
		return &BranchInstruction{header: header{op, offset, 3}, Target: offset + s16(offset+1)}, nil
	case op == OpGotoW || op == OpJsrW:
		if err := need(5); err != nil {
			return nil, err
		}
		return &BranchInstruction{header: header{op, offset, 5}, Target: offset + int(s32(offset+1))}, nil

	case op == OpTableswitch:
		base := (offset + 4) &^ 3
		if err := need(base - offset + 12); err != nil {
			return nil, err
		}
		def := offset + int(s32(base))
		low, high := s32(base+4), s32(base+8)
		if high < low {
			return nil, fail(fmt.Sprintf("tableswitch high %d below low %d", high, low))
		}
		n := int(int64(high) - int64(low) + 1)
		if err := need(base - offset + 12 + 4*n); err != nil {
			return nil, err
		}
		sw := &SwitchInstruction{
			header:  header{op, offset, base - offset + 12 + 4*n},
			Default: def,
			Low:     low,
			High:    high,
			Keys:    make([]int32, n),
			Targets: make([]int, n),
		}
		for k := 0; k < n; k++ {
			sw.Keys[k] = low + int32(k)
			sw.Targets[k] = offset + int(s32(base+12+4*k))
		}
		return sw, nil

	case op == OpLookupswitch:
		base := (offset + 4) &^ 3
		if err := need(base - offset + 8); err != nil {
			return nil, err
		}
		def := offset + int(s32(base))
		n := int(s32(base + 4))
		if n < 0 {
			return nil, fail(fmt.Sprintf("negative lookupswitch pair count %d", n))
		}
		if err := need(base - offset + 8 + 8*n); err != nil {
			return nil, err
		}
		sw := &SwitchInstruction{
			header:  header{op, offset, base - offset + 8 + 8*n},
			Default: def,
			Keys:    make([]int32, n),
			Targets: make([]int, n),
		}
		for k := 0; k < n; k++ {
			sw.Keys[k] = s32(base + 8 + 8*k)
			sw.Targets[k] = offset + int(s32(base+12+8*k))
		}
		if n > 0 {
			sw.Low, sw.High = sw.Keys[0], sw.Keys[n-1]
		}
		return sw, nil

	case op.Valid():
		return simple(1, 0)
	}
	return nil, fail("undefined opcode")
}

func decodeWide(code []byte, offset int) (Instruction, error) {
	if offset+2 > len(code) {
		return nil, &DecodeError{Offset: offset, Opcode: OpWide, Reason: "truncated wide prefix"}
	}
	op := Opcode(code[offset+1])
	switch {
	case op == OpIinc:
		if offset+6 > len(code) {
			return nil, &DecodeError{Offset: offset, Opcode: op, Reason: "truncated wide iinc"}
		}
		return &VariableInstruction{
			header:    header{op, offset, 6},
			Index:     int(binary.BigEndian.Uint16(code[offset+2:])),
			Increment: int32(int16(binary.BigEndian.Uint16(code[offset+4:]))),
			Wide:      true,
		}, nil
	case (op >= OpIload && op <= OpAload) || (op >= OpIstore && op <= OpAstore) || op == OpRet:
		if offset+4 > len(code) {
			return nil, &DecodeError{Offset: offset, Opcode: op, Reason: "truncated wide operand"}
		}
		return &VariableInstruction{
			header: header{op, offset, 4},
			Index:  int(binary.BigEndian.Uint16(code[offset+2:])),
			Wide:   true,
		}, nil
	}
	return nil, &DecodeError{Offset: offset, Opcode: op, Reason: "opcode cannot be widened"}
}
