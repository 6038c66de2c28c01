package jvmeval

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAssembler_Local(t *testing.T) {
	tests := []struct {
		op    Opcode
		index int
		want  []byte
	}{
		{OpIload, 2, []byte{byte(OpIload2)}},
		{OpAstore, 0, []byte{byte(OpAstore0)}},
		{OpDload, 3, []byte{byte(OpDload3)}},
		{OpLload, 4, []byte{byte(OpLload), 4}},
		{OpRet, 1, []byte{byte(OpRet), 1}},
		{OpFstore, 300, []byte{byte(OpWide), byte(OpFstore), 0x01, 0x2C}},
	}
	for _, tt := range tests {
		got := NewAssembler().Local(tt.op, tt.index).MustBytes()
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Local(%s, %d) mismatch (-want +got):\n%s", tt.op, tt.index, diff)
		}
	}

	if _, err := NewAssembler().Local(OpIload, -1).Bytes(); err == nil {
		t.Error("Expected an error for a negative slot")
	}
}

func TestAssembler_Int(t *testing.T) {
	tests := []struct {
		v    int32
		want []byte
	}{
		{-1, []byte{byte(OpIconstM1)}},
		{5, []byte{byte(OpIconst5)}},
		{6, []byte{byte(OpBipush), 6}},
		{-128, []byte{byte(OpBipush), 0x80}},
		{1000, []byte{byte(OpSipush), 0x03, 0xE8}},
	}
	for _, tt := range tests {
		got := NewAssembler().Int(tt.v).MustBytes()
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Int(%d) mismatch (-want +got):\n%s", tt.v, diff)
		}
	}
	if _, err := NewAssembler().Int(1 << 20).Bytes(); err == nil {
		t.Error("Expected an error for a constant that needs the pool")
	}
}

func TestAssembler_Labels(t *testing.T) {
	a := NewAssembler().
		Label("top").
		Op(OpIconst0).
		Jump(OpIfeq, "end").
		Jump(OpGoto, "top").
		Label("end").
		Op(OpReturn)

	code := MustDecode(a.MustBytes())
	if a.LabelOffset("end") != 7 || a.LabelOffset("missing") != -1 {
		t.Errorf("LabelOffset: end=%d missing=%d", a.LabelOffset("end"), a.LabelOffset("missing"))
	}
	ifeq, _ := code.At(1)
	if target := ifeq.(*BranchInstruction).Target; target != 7 {
		t.Errorf("Expected ifeq to target 7, got %d", target)
	}
	back, _ := code.At(4)
	if target := back.(*BranchInstruction).Target; target != 0 {
		t.Errorf("Expected goto to target 0, got %d", target)
	}

	wide := MustDecode(NewAssembler().Jump(OpGotoW, "x").Label("x").Op(OpReturn).MustBytes())
	if ins, _ := wide.At(0); ins.Length() != 5 || ins.(*BranchInstruction).Target != 5 {
		t.Errorf("goto_w decoded as %v", ins)
	}
}

func TestAssembler_Errors(t *testing.T) {
	tests := []struct {
		name string
		asm  *Assembler
		want string
	}{
		{"undefined label", NewAssembler().Jump(OpGoto, "nowhere"), `undefined label "nowhere"`},
		{"duplicate label", NewAssembler().Label("a").Label("a"), `label "a" defined twice`},
		{"ldc index", NewAssembler().Ref(OpLdc, 300), "needs ldc_w"},
		{"lookupswitch arity", NewAssembler().Lookupswitch("d", []int32{1, 2}, []string{"a"}), "2 keys but 1 targets"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.asm.Bytes()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestAssembler_Lookupswitch(t *testing.T) {
	code := MustDecode(NewAssembler().
		Op(OpIconst0, OpNop, OpNop, OpNop).
		Lookupswitch("d", []int32{-5, 100}, []string{"a", "b"}).
		Label("a").Op(OpNop).
		Label("b").Op(OpNop).
		Label("d").Op(OpReturn).
		MustBytes())

	ins, _ := code.At(4)
	sw := ins.(*SwitchInstruction)
	// Already aligned: opcode at 4, default at 8, count at 12, two pairs.
	if sw.Length() != 4+8+16 {
		t.Errorf("lookupswitch length = %d", sw.Length())
	}
	if sw.Low != -5 || sw.High != 100 {
		t.Errorf("Low/High = %d/%d", sw.Low, sw.High)
	}
	if sw.TargetFor(-5) != 32 || sw.TargetFor(100) != 33 || sw.TargetFor(0) != 34 {
		t.Errorf("Unexpected targets %v default %d", sw.Targets, sw.Default)
	}
}
