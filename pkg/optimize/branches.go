package optimize

import (
	"sort"

	"github.com/speakeasy-api/jvmeval"
	"github.com/speakeasy-api/jvmeval/partialeval"
)

// DeadBranch is a reachable conditional branch or switch with at least one
// successor evaluation never followed.
type DeadBranch struct {
	Offset     int
	Opcode     jvmeval.Opcode
	NeverTaken []int
}

// DeadBranches lists the decided branches of t in offset order. An aborted
// table has none.
func DeadBranches(t *partialeval.Table) []DeadBranch {
	if t.Aborted() {
		return nil
	}
	var out []DeadBranch
	for _, ins := range t.Method().Code.Instructions() {
		targets := branchTargets(ins)
		if len(targets) == 0 || !t.Reachable(ins.Offset()) {
			continue
		}
		var never []int
		for _, target := range targets {
			if !t.BranchTaken(ins.Offset(), target) {
				never = append(never, target)
			}
		}
		if len(never) > 0 {
			out = append(out, DeadBranch{Offset: ins.Offset(), Opcode: ins.Opcode(), NeverTaken: never})
		}
	}
	return out
}

// branchTargets returns the distinct possible successors of a conditional
// branch or switch in ascending order, or nil for other instructions.
func branchTargets(ins jvmeval.Instruction) []int {
	set := make(map[int]bool)
	switch i := ins.(type) {
	case *jvmeval.BranchInstruction:
		if !i.Opcode().IsConditional() {
			return nil
		}
		set[i.Offset()+i.Length()] = true
		set[i.Target] = true
	case *jvmeval.SwitchInstruction:
		set[i.Default] = true
		for _, t := range i.Targets {
			set[t] = true
		}
	default:
		return nil
	}
	out := make([]int, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}

// UnreachableCode returns the offsets of instructions evaluation never
// reached, in ascending order.
func UnreachableCode(t *partialeval.Table) []int {
	var out []int
	for _, offset := range t.Method().Code.Offsets() {
		if !t.Reachable(offset) {
			out = append(out, offset)
		}
	}
	return out
}

// Range is a half-open span of code offsets.
type Range struct {
	Start, End int
}

// UnreachableRanges merges adjacent unreachable instructions into ranges.
func UnreachableRanges(t *partialeval.Table) []Range {
	code := t.Method().Code
	var out []Range
	for _, ins := range code.Instructions() {
		if t.Reachable(ins.Offset()) {
			continue
		}
		end := ins.Offset() + ins.Length()
		if n := len(out); n > 0 && out[n-1].End == ins.Offset() {
			out[n-1].End = end
			continue
		}
		out = append(out, Range{Start: ins.Offset(), End: end})
	}
	return out
}
