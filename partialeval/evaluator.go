package partialeval

import (
	"errors"
	"fmt"

	"github.com/speakeasy-api/jvmeval"
)

// evaluation holds the mutable state of one method evaluation. It is never
// shared between goroutines.
type evaluation struct {
	method   *jvmeval.Method
	ref      jvmeval.MemberRef
	opts     Options
	unit     InvocationUnit
	factory  *ValueFactory
	resolver *BranchResolver
	logger   Logger
	debug    bool
	trace    tracer
	table    *Table
	budget   int
	worklist []int
}

func (e *evaluation) newVariables() *Variables {
	if e.trace {
		return NewTracedVariables(e.method.MaxLocals)
	}
	return NewVariables(e.method.MaxLocals)
}

func (e *evaluation) newStack() *Stack {
	if e.trace {
		return NewTracedStack(e.method.MaxStack)
	}
	return NewStack(e.method.MaxStack)
}

// run drives the worklist until no recorded state changes or the visit
// budget is spent.
func (e *evaluation) run(params []Value) (*Table, error) {
	code := e.method.Code
	if code.Size() == 0 {
		return nil, e.diagnostic(0, "", shapeError{kind: ErrInvalidCode, expected: "instructions", found: "empty code"})
	}
	if err := e.checkHandlers(); err != nil {
		return nil, err
	}

	vars := e.newVariables()
	if err := e.bindParameters(vars, params); err != nil {
		return nil, err
	}
	e.table.states[0] = &InstructionState{
		offset:      0,
		varsBefore:  vars,
		stackBefore: e.newStack(),
		followed:    make(map[int]bool),
	}
	e.enqueue(e.table.states[0])
	e.observe(e.table.states[0])

	e.logger.With(map[string]any{
		"instructions": len(code.Instructions()),
		"max_stack":    e.method.MaxStack,
		"max_locals":   e.method.MaxLocals,
		"budget":       e.budget,
	}).Infof("Starting partial evaluation")

	for len(e.worklist) > 0 {
		if e.table.visits >= e.budget {
			e.abort()
			return e.table, nil
		}
		off := e.worklist[len(e.worklist)-1]
		e.worklist = e.worklist[:len(e.worklist)-1]
		st := e.table.states[off]
		st.queued = false
		st.visits++
		e.table.visits++

		ins, _ := code.At(off)
		if e.debug {
			e.logger.With(map[string]any{
				"offset": off,
				"op":     ins.Opcode().String(),
				"visit":  st.visits,
				"depth":  st.stackBefore.Depth(),
				"top":    stackPreview(st.stackBefore, e.opts.LogStackPreviewDepth),
			}).Debugf("Evaluating %s", ins)
		}
		if err := e.step(ins, st); err != nil {
			e.logger.Errorf("%v", err)
			e.replayUnknown()
			value, returned := e.unknownReturn()
			e.unit.ExitMethod(e.method, value, returned)
			return nil, err
		}
	}

	value, returned := e.table.ReturnValue()
	e.unit.ExitMethod(e.method, value, returned)
	e.logger.With(map[string]any{
		"reachable": len(e.table.states),
		"visits":    e.table.visits,
		"return":    returnSummary(value, returned),
	}).Infof("Partial evaluation converged")
	return e.table, nil
}

func returnSummary(v Value, returned bool) string {
	if !returned {
		return "none"
	}
	return v.String()
}

// step evaluates one instruction and propagates its outgoing state.
func (e *evaluation) step(ins jvmeval.Instruction, st *InstructionState) error {
	var failure shapeError
	func() {
		defer catchShape(&failure)
		e.exceptionEdges(ins, st)

		vars := st.varsBefore.Clone()
		stack := st.stackBefore.Clone()
		f := e.transfer(ins, vars, stack)
		st.varsAfter, st.stackAfter = vars, stack

		targets := e.resolver.Targets(ins)
		if f.decided {
			targets = f.targets
		}
		for _, t := range targets {
			st.followed[t] = true
			e.merge(t, vars, stack)
		}
	}()
	if failure.kind != nil {
		return e.diagnostic(ins.Offset(), ins.String(), failure)
	}
	return nil
}

// exceptionEdges feeds the handlers covering ins with the entry variables
// and a stack holding only the caught exception.
func (e *evaluation) exceptionEdges(ins jvmeval.Instruction, st *InstructionState) {
	if len(e.method.Handlers) == 0 {
		return
	}
	if e.opts.ExceptionEdges == ExceptionEdgesThrowing && !ins.Opcode().CanThrow() {
		return
	}
	site := Site{Method: e.ref, Offset: ins.Offset()}
	for _, h := range e.method.Handlers {
		if !h.Covers(ins.Offset()) {
			continue
		}
		exc := e.unit.ExceptionValue(site, h.CatchType)
		if exc.kind != KindReference {
			exc = TypedReference(jvmeval.DescThrowable, false, true)
		}
		stack := e.newStack()
		stack.push(exc, e.trace.at(ins.Offset()))
		e.merge(h.Handler, st.varsBefore, stack)
	}
}

// merge joins an incoming state into the record of target, enqueueing
// target when the record is new or changed.
func (e *evaluation) merge(target int, vars *Variables, stack *Stack) {
	st, ok := e.table.states[target]
	if !ok {
		st = &InstructionState{
			offset:      target,
			varsBefore:  vars.Clone(),
			stackBefore: stack.Clone(),
			followed:    make(map[int]bool),
		}
		e.table.states[target] = st
		e.enqueue(st)
		e.observe(st)
		return
	}
	changedVars := st.varsBefore.generalize(vars, e.factory)
	changedStack := st.stackBefore.generalize(stack, e.factory)
	if th := e.opts.WideningThreshold; th > 0 && st.visits >= th {
		widenedVars := st.varsBefore.widen()
		widenedStack := st.stackBefore.widen()
		if (widenedVars || widenedStack) && e.debug {
			e.logger.With(map[string]any{
				"offset": target,
				"visits": st.visits,
			}).Debugf("Widened constants at merge point")
		}
		changedVars = changedVars || widenedVars
		changedStack = changedStack || widenedStack
	}
	if changedVars || changedStack {
		e.enqueue(st)
		e.observe(st)
	}
}

func (e *evaluation) enqueue(st *InstructionState) {
	if st.queued {
		return
	}
	st.queued = true
	e.worklist = append(e.worklist, st.offset)
}

func (e *evaluation) observe(st *InstructionState) {
	if e.opts.Observer != nil {
		e.opts.Observer(st.offset, st.varsBefore.Clone(), st.stackBefore.Clone())
	}
}

// bindParameters writes the entry values into the first local slots.
func (e *evaluation) bindParameters(vars *Variables, params []Value) error {
	var failure shapeError
	func() {
		defer catchShape(&failure)
		slot := 0
		for _, p := range params {
			vars.store(slot, e.factory.Create(p), e.trace.none())
			slot += p.Category()
		}
	}()
	if failure.kind != nil {
		return e.diagnostic(0, "", failure)
	}
	return nil
}

func (e *evaluation) checkHandlers() error {
	code := e.method.Code
	for _, h := range e.method.Handlers {
		if !code.IsInstructionOffset(h.Handler) {
			return e.diagnostic(h.Handler, "", shapeError{
				kind:     ErrInvalidBranch,
				expected: "handler at an instruction offset",
				found:    fmt.Sprintf("handler %d", h.Handler),
			})
		}
		if h.Start < 0 || h.End > code.Size() || h.Start >= h.End {
			return e.diagnostic(h.Start, "", shapeError{
				kind:     ErrInvalidCode,
				expected: "a non-empty protected range within the code",
				found:    fmt.Sprintf("range [%d, %d)", h.Start, h.End),
			})
		}
	}
	return nil
}

// abort replaces the partial result with the conservative one: recorded
// values become unknown and every write and call the method contains is
// reported to the invocation unit with unknown values.
func (e *evaluation) abort() {
	t := e.table
	t.aborted = true
	for _, st := range t.states {
		st.varsBefore.forget()
		st.stackBefore.forget()
		if st.varsAfter != nil {
			st.varsAfter.forget()
			st.stackAfter.forget()
		}
	}
	t.ret, t.returned = e.unknownReturn()
	e.replayUnknown()
	e.unit.ExitMethod(e.method, t.ret, t.returned)
	e.logger.With(map[string]any{
		"visits":    t.visits,
		"budget":    e.budget,
		"reachable": len(t.states),
	}).Warnf("Visit budget exhausted, result is conservative")
}

// unknownReturn is the return value summary of a method whose evaluation
// did not complete.
func (e *evaluation) unknownReturn() (Value, bool) {
	_, ret, err := jvmeval.ParseMethodDescriptor(e.method.Descriptor)
	if err != nil || ret == jvmeval.DescVoid {
		return Value{}, false
	}
	return UnknownOf(kindOfDescriptor(ret)), true
}

func (e *evaluation) replayUnknown() {
	if e.method.Pool == nil {
		return
	}
	for _, ins := range e.method.Code.Instructions() {
		ci, ok := ins.(*jvmeval.ConstantInstruction)
		if !ok {
			continue
		}
		op := ci.Opcode()
		site := Site{Method: e.ref, Offset: ci.Offset()}
		switch op.Category() {
		case jvmeval.CategoryField:
			if op != jvmeval.OpPutfield && op != jvmeval.OpPutstatic {
				continue
			}
			if ref, err := e.method.Pool.MemberRef(ci.Index); err == nil {
				e.unit.PutField(site, op, ref, UnknownOf(kindOfDescriptor(ref.Descriptor)))
			}
		case jvmeval.CategoryInvoke:
			ref, err := e.method.Pool.MemberRef(ci.Index)
			if err != nil {
				continue
			}
			params, _, err := jvmeval.ParseMethodDescriptor(ref.Descriptor)
			if err != nil {
				continue
			}
			var args []Value
			if op != jvmeval.OpInvokestatic && op != jvmeval.OpInvokedynamic {
				args = append(args, UnknownOf(KindReference))
			}
			for _, p := range params {
				args = append(args, UnknownOf(kindOfDescriptor(p)))
			}
			e.unit.Invoke(site, op, ref, args)
		}
	}
}

func (e *evaluation) diagnostic(offset int, instruction string, se shapeError) error {
	return &Diagnostic{
		Class:       e.method.Class,
		Method:      e.method.Name + e.method.Descriptor,
		Offset:      offset,
		Instruction: instruction,
		Expected:    se.expected,
		Found:       se.found,
		Kind:        se.kind,
	}
}

// AsDiagnostic returns the Diagnostic in err's chain, if any.
func AsDiagnostic(err error) (*Diagnostic, bool) {
	var d *Diagnostic
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}
