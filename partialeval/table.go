package partialeval

import (
	"sort"

	"github.com/speakeasy-api/jvmeval"
)

// InstructionState is the fixpoint record of one instruction: the joined
// state on entry, the state after the instruction's last visit, and the
// successors evaluation followed from it.
type InstructionState struct {
	offset      int
	varsBefore  *Variables
	stackBefore *Stack
	varsAfter   *Variables
	stackAfter  *Stack
	visits      int
	followed    map[int]bool
	queued      bool
}

// Offset returns the instruction offset.
func (s *InstructionState) Offset() int { return s.offset }

// Variables returns the local variables on entry.
func (s *InstructionState) Variables() *Variables { return s.varsBefore }

// Stack returns the operand stack on entry.
func (s *InstructionState) Stack() *Stack { return s.stackBefore }

// VariablesAfter returns the local variables after the instruction, or nil
// if it never completed.
func (s *InstructionState) VariablesAfter() *Variables { return s.varsAfter }

// StackAfter returns the operand stack after the instruction, or nil if it
// never completed.
func (s *InstructionState) StackAfter() *Stack { return s.stackAfter }

// Visits returns how often the instruction was evaluated.
func (s *InstructionState) Visits() int { return s.visits }

// Successors returns the offsets control was followed to, excluding
// exception handlers, in ascending order.
func (s *InstructionState) Successors() []int {
	out := make([]int, 0, len(s.followed))
	for t := range s.followed {
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}

// Table is the result of evaluating one method: an InstructionState per
// reachable offset. It is read-only once returned.
type Table struct {
	method    *jvmeval.Method
	code      *jvmeval.Code
	states    map[int]*InstructionState
	ret       Value
	returned  bool
	aborted   bool
	visits    int
	precision Precision
}

func newTable(m *jvmeval.Method, precision Precision) *Table {
	return &Table{
		method:    m,
		code:      m.Code,
		states:    make(map[int]*InstructionState),
		precision: precision,
	}
}

// Method returns the evaluated method.
func (t *Table) Method() *jvmeval.Method { return t.method }

// Aborted reports whether evaluation ran out of its visit budget. An
// aborted table is conservative: every instruction counts as reachable,
// every branch as taken, recorded values are unknown and provenance is
// unavailable.
func (t *Table) Aborted() bool { return t.aborted }

// Visits returns the total number of instruction visits.
func (t *Table) Visits() int { return t.visits }

// State returns the record for offset.
func (t *Table) State(offset int) (*InstructionState, bool) {
	s, ok := t.states[offset]
	return s, ok
}

// Reachable reports whether any execution may reach offset.
func (t *Table) Reachable(offset int) bool {
	if t.aborted {
		return t.code.IsInstructionOffset(offset)
	}
	_, ok := t.states[offset]
	return ok
}

// Offsets returns the reachable offsets in ascending order.
func (t *Table) Offsets() []int {
	if t.aborted {
		return t.code.Offsets()
	}
	out := make([]int, 0, len(t.states))
	for off := range t.states {
		out = append(out, off)
	}
	sort.Ints(out)
	return out
}

// StackDepth returns the number of stack cells on entry to offset.
func (t *Table) StackDepth(offset int) (int, bool) {
	s, ok := t.states[offset]
	if !ok {
		return 0, false
	}
	return s.stackBefore.Depth(), true
}

// StackTop returns the value index cells below the top of the stack on
// entry to offset.
func (t *Table) StackTop(offset, index int) (Value, bool) {
	s, ok := t.states[offset]
	if !ok || index < 0 || index >= s.stackBefore.Depth() {
		return Value{}, false
	}
	return s.stackBefore.Top(index), true
}

// StackTopAfter is StackTop for the state after the instruction.
func (t *Table) StackTopAfter(offset, index int) (Value, bool) {
	s, ok := t.states[offset]
	if !ok || s.stackAfter == nil || index < 0 || index >= s.stackAfter.Depth() {
		return Value{}, false
	}
	return s.stackAfter.Top(index), true
}

// Variable returns local variable index on entry to offset.
func (t *Table) Variable(offset, index int) (Value, bool) {
	s, ok := t.states[offset]
	if !ok || index < 0 || index >= s.varsBefore.Size() {
		return Value{}, false
	}
	return s.varsBefore.Value(index), true
}

// VariableProducers returns the offsets of the stores that may have
// produced local variable index on entry to offset.
func (t *Table) VariableProducers(offset, index int) []int {
	s, ok := t.states[offset]
	if !ok || t.aborted {
		return nil
	}
	return s.varsBefore.Producers(index)
}

// StackProducers returns the offsets of the instructions that may have
// pushed the cell index below the top on entry to offset.
func (t *Table) StackProducers(offset, index int) []int {
	s, ok := t.states[offset]
	if !ok || t.aborted {
		return nil
	}
	return s.stackBefore.Producers(index)
}

// Successors returns the offsets followed from offset.
func (t *Table) Successors(offset int) []int {
	s, ok := t.states[offset]
	if !ok {
		return nil
	}
	return s.Successors()
}

// BranchTaken reports whether evaluation ever followed the edge from the
// instruction at offset to target.
func (t *Table) BranchTaken(offset, target int) bool {
	if t.aborted {
		return t.code.IsInstructionOffset(offset)
	}
	s, ok := t.states[offset]
	return ok && s.followed[target]
}

// ReturnValue returns the join of the values of all reachable return
// instructions. ok is false for void methods and methods that never return
// normally.
func (t *Table) ReturnValue() (Value, bool) { return t.ret, t.returned }
