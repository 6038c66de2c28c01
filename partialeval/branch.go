package partialeval

import (
	"fmt"
	"sort"

	"github.com/speakeasy-api/jvmeval"
)

// BranchResolver computes the normal successors of instructions within one
// code array. Exception handler edges are not its concern.
type BranchResolver struct {
	code       *jvmeval.Code
	jsrReturns []int
}

// NewBranchResolver indexes code. The return sites of all jsr
// instructions become the possible targets of every ret.
func NewBranchResolver(code *jvmeval.Code) *BranchResolver {
	r := &BranchResolver{code: code}
	for _, ins := range code.Instructions() {
		switch ins.Opcode() {
		case jvmeval.OpJsr, jvmeval.OpJsrW:
			r.jsrReturns = append(r.jsrReturns, ins.Offset()+ins.Length())
		}
	}
	return r
}

// Targets returns the deduplicated successor offsets of ins in ascending
// order: the fall-through unless ins always transfers control, jump
// targets, switch targets and, for ret, every jsr return site. A target
// that is not an instruction offset raises ErrInvalidBranch; falling off
// the end of the code raises ErrInvalidCode.
func (r *BranchResolver) Targets(ins jvmeval.Instruction) []int {
	var out []int
	op := ins.Opcode()
	if !op.IsUnconditionalExit() {
		out = append(out, r.fallThrough(ins))
	}
	switch i := ins.(type) {
	case *jvmeval.BranchInstruction:
		out = append(out, r.check(ins, i.Target))
	case *jvmeval.SwitchInstruction:
		out = append(out, r.check(ins, i.Default))
		for _, t := range i.Targets {
			out = append(out, r.check(ins, t))
		}
	}
	if op == jvmeval.OpRet {
		for _, t := range r.jsrReturns {
			out = append(out, r.check(ins, t))
		}
	}
	return dedupe(out)
}

// JsrReturns returns the offsets following each jsr.
func (r *BranchResolver) JsrReturns() []int { return r.jsrReturns }

func (r *BranchResolver) fallThrough(ins jvmeval.Instruction) int {
	next := ins.Offset() + ins.Length()
	if next >= r.code.Size() {
		raise(ErrInvalidCode, "a following instruction", "end of code")
	}
	return next
}

func (r *BranchResolver) check(ins jvmeval.Instruction, target int) int {
	if !r.code.IsInstructionOffset(target) {
		raise(ErrInvalidBranch, "an instruction offset", fmt.Sprintf("target %d", target))
	}
	return target
}

func dedupe(offsets []int) []int {
	if len(offsets) < 2 {
		return offsets
	}
	sort.Ints(offsets)
	out := offsets[:1]
	for _, o := range offsets[1:] {
		if o != out[len(out)-1] {
			out = append(out, o)
		}
	}
	return out
}
