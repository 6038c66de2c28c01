package partialeval

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/speakeasy-api/jvmeval"
)

var valueComparer = cmp.Comparer(func(a, b Value) bool { return a == b })

func TestEvaluate_ConstantAddition(t *testing.T) {
	// iconst_1; iconst_1; iadd; ireturn
	m := staticMethod(t, "two", "()I", 2, 0, jvmeval.NewAssembler().
		Op(jvmeval.OpIconst1, jvmeval.OpIconst1, jvmeval.OpIadd, jvmeval.OpIreturn))

	table := evaluate(t, m, DefaultOptions())

	got, ok := table.StackTopAfter(2, 0)
	if !ok {
		t.Fatal("No state after iadd")
	}
	if got != ParticularInt(2) {
		t.Errorf("Expected stack top 2 after iadd, got %v", got)
	}
	if depth, _ := table.StackDepth(3); depth != 1 {
		t.Errorf("Expected depth 1 before ireturn, got %d", depth)
	}
	ret, ok := table.ReturnValue()
	if !ok || ret != ParticularInt(2) {
		t.Errorf("Expected return value 2, got %v (ok=%v)", ret, ok)
	}
}

func TestEvaluate_TypedPrecisionDropsConstants(t *testing.T) {
	m := staticMethod(t, "two", "()I", 2, 0, jvmeval.NewAssembler().
		Op(jvmeval.OpIconst1, jvmeval.OpIconst1, jvmeval.OpIadd, jvmeval.OpIreturn))

	opts := DefaultOptions()
	opts.Precision = "typed"
	table := evaluate(t, m, opts)

	if got, _ := table.StackTopAfter(2, 0); got != TypedOf(KindInteger) {
		t.Errorf("Expected typed int after iadd, got %v", got)
	}
}

// countingLoop assembles:
//
//	int i = 0; while (i < 10) { i++; } return i;
func countingLoop(t *testing.T) *jvmeval.Method {
	t.Helper()
	return staticMethod(t, "count", "()I", 2, 1, jvmeval.NewAssembler().
		Int(0).Local(jvmeval.OpIstore, 0).
		Label("head").
		Local(jvmeval.OpIload, 0).Int(10).Jump(jvmeval.OpIfIcmpge, "end").
		Iinc(0, 1).
		Jump(jvmeval.OpGoto, "head").
		Label("end").
		Local(jvmeval.OpIload, 0).Op(jvmeval.OpIreturn))
}

func TestEvaluate_LoopCarriedLocalGeneralizes(t *testing.T) {
	m := countingLoop(t)
	head := offsetOf(t, m, jvmeval.OpIload, 0)
	end := offsetOf(t, m, jvmeval.OpIload, 1)

	var seen []Value
	opts := DefaultOptions()
	opts.Observer = func(offset int, vars *Variables, stack *Stack) {
		if offset == head {
			seen = append(seen, vars.Value(0))
		}
	}
	table := evaluate(t, m, opts)

	want := []Value{ParticularInt(0), TypedOf(KindInteger)}
	if diff := cmp.Diff(want, seen, valueComparer); diff != "" {
		t.Errorf("Loop header states mismatch (-want +got):\n%s", diff)
	}
	if got, _ := table.Variable(head, 0); got != TypedOf(KindInteger) {
		t.Errorf("Expected typed int at loop header, got %v", got)
	}
	if !table.Reachable(end) {
		t.Error("Loop exit should be reachable once the counter is generalized")
	}
	if ret, _ := table.ReturnValue(); ret != TypedOf(KindInteger) {
		t.Errorf("Expected typed int return, got %v", ret)
	}
}

func TestEvaluate_MonotonicStates(t *testing.T) {
	// Nested loops with a long and a reference that alternates with null.
	m := staticMethod(t, "nested", "(Ljava/lang/String;)J", 4, 5, jvmeval.NewAssembler().
		Op(jvmeval.OpLconst0).Local(jvmeval.OpLstore, 1).
		Int(0).Local(jvmeval.OpIstore, 3).
		Op(jvmeval.OpAconstNull).Local(jvmeval.OpAstore, 4).
		Label("outer").
		Local(jvmeval.OpIload, 3).Int(3).Jump(jvmeval.OpIfIcmpge, "done").
		Local(jvmeval.OpAload, 0).Local(jvmeval.OpAstore, 4).
		Label("inner").
		Local(jvmeval.OpLload, 1).Op(jvmeval.OpLconst1).Op(jvmeval.OpLadd).Local(jvmeval.OpLstore, 1).
		Local(jvmeval.OpLload, 1).Op(jvmeval.OpLconst0).Op(jvmeval.OpLcmp).Jump(jvmeval.OpIfgt, "next").
		Jump(jvmeval.OpGoto, "inner").
		Label("next").
		Iinc(3, 1).
		Jump(jvmeval.OpGoto, "outer").
		Label("done").
		Local(jvmeval.OpLload, 1).Op(jvmeval.OpLreturn))

	factory := NewValueFactory(PrecisionParticular, nil)
	lastVars := make(map[int]*Variables)
	lastStack := make(map[int]*Stack)
	opts := DefaultOptions()
	opts.Observer = func(offset int, vars *Variables, stack *Stack) {
		if prev, ok := lastVars[offset]; ok {
			for i := 0; i < vars.Size(); i++ {
				if !factory.Subsumes(vars.Value(i), prev.Value(i)) {
					t.Errorf("Offset %d slot %d went from %v to %v", offset, i, prev.Value(i), vars.Value(i))
				}
			}
			prevStack := lastStack[offset]
			if prevStack.Depth() != stack.Depth() {
				t.Errorf("Offset %d stack depth changed from %d to %d", offset, prevStack.Depth(), stack.Depth())
			}
			for i := 0; i < stack.Depth(); i++ {
				if !factory.Subsumes(stack.Top(i), prevStack.Top(i)) {
					t.Errorf("Offset %d cell %d went from %v to %v", offset, i, prevStack.Top(i), stack.Top(i))
				}
			}
		}
		lastVars[offset] = vars
		lastStack[offset] = stack
	}
	table := evaluate(t, m, opts)

	if table.Aborted() {
		t.Fatal("Nested loops should converge within the budget")
	}
	if ret, _ := table.ReturnValue(); ret != TypedOf(KindLong) {
		t.Errorf("Expected typed long return, got %v", ret)
	}
	outer := offsetOf(t, m, jvmeval.OpIload, 0)
	got, _ := table.Variable(outer, 4)
	if got.Kind() != KindReference || !got.MayBeNull() || got.IsParticular() {
		t.Errorf("Expected a nullable non-constant String at the outer header, got %v", got)
	}
}

func TestEvaluate_ExceptionHandlerEntry(t *testing.T) {
	// try { return x / 2; } catch (FooException e) { return -1; }
	m := staticMethod(t, "guarded", "(I)I", 2, 2, jvmeval.NewAssembler().
		Label("start").
		Local(jvmeval.OpIload, 0).Int(2).Op(jvmeval.OpIdiv).Op(jvmeval.OpIreturn).
		Label("handler").
		Local(jvmeval.OpAstore, 1).Int(-1).Op(jvmeval.OpIreturn))
	m.Handlers = []jvmeval.ExceptionHandler{{Start: 0, End: 4, Handler: 4, CatchType: "test/FooException"}}

	table := evaluate(t, m, DefaultOptions())

	depth, ok := table.StackDepth(4)
	if !ok {
		t.Fatal("Handler entry is not reachable")
	}
	if depth != 1 {
		t.Fatalf("Expected exactly one value at handler entry, got %d", depth)
	}
	exc, _ := table.StackTop(4, 0)
	if exc.Kind() != KindReference || !exc.IsTyped() || exc.Type() != "Ltest/FooException;" {
		t.Errorf("Expected typed FooException at handler entry, got %v", exc)
	}
	if exc.MayBeNull() {
		t.Error("Caught exceptions are never null")
	}
	if ret, _ := table.ReturnValue(); ret != TypedOf(KindInteger) {
		t.Errorf("Expected typed int return, got %v", ret)
	}
}

func TestEvaluate_ExceptionEdgePolicy(t *testing.T) {
	build := func() *jvmeval.Method {
		m := staticMethod(t, "quiet", "()I", 1, 1, jvmeval.NewAssembler().
			Int(1).Local(jvmeval.OpIstore, 0).
			Local(jvmeval.OpIload, 0).Op(jvmeval.OpIreturn).
			Label("handler").
			Op(jvmeval.OpPop).Int(0).Op(jvmeval.OpIreturn))
		handler := offsetOf(t, m, jvmeval.OpPop, 0)
		// Covers only the constant and the store, neither of which can throw.
		m.Handlers = []jvmeval.ExceptionHandler{{Start: 0, End: 2, Handler: handler}}
		return m
	}

	tests := []struct {
		policy    string
		reachable bool
	}{
		{ExceptionEdgesAll, true},
		{ExceptionEdgesThrowing, false},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			m := build()
			opts := DefaultOptions()
			opts.ExceptionEdges = tt.policy
			table := evaluate(t, m, opts)
			handler := offsetOf(t, m, jvmeval.OpPop, 0)
			if got := table.Reachable(handler); got != tt.reachable {
				t.Errorf("Handler reachable = %v, want %v", got, tt.reachable)
			}
		})
	}
}

func TestEvaluate_CallSiteSpecialization(t *testing.T) {
	callee := jvmeval.MemberRef{Class: "test/Sample", Name: "inc", Descriptor: "(I)I"}

	caller := func(name string, second func(*jvmeval.Assembler)) *jvmeval.Method {
		a := jvmeval.NewAssembler().
			Int(5).Ref(jvmeval.OpInvokestatic, 1).Op(jvmeval.OpPop)
		second(a)
		a.Ref(jvmeval.OpInvokestatic, 1).Op(jvmeval.OpPop).Op(jvmeval.OpReturn)
		m := staticMethod(t, name, "(I)V", 1, 1, a)
		m.Pool.(*testPool).members[1] = callee
		return m
	}
	literal := caller("literal", func(a *jvmeval.Assembler) { a.Int(5) })
	variable := caller("variable", func(a *jvmeval.Assembler) { a.Local(jvmeval.OpIload, 0) })

	tests := []struct {
		name   string
		caller *jvmeval.Method
		want   Value
	}{
		{"both sites pass 5", literal, ParticularInt(5)},
		{"one site passes a variable", variable, TypedOf(KindInteger)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summaries := NewSummaries(nil, nil)
			opts := DefaultOptions()
			opts.InvocationUnit = NewStoringInvocationUnit(summaries, nil)
			evaluate(t, tt.caller, opts)

			args, ok := summaries.Arguments(callee)
			if !ok {
				t.Fatal("No arguments recorded for callee")
			}
			if diff := cmp.Diff([]Value{tt.want}, args, valueComparer); diff != "" {
				t.Errorf("Recorded arguments mismatch (-want +got):\n%s", diff)
			}
			if n := summaries.CallSites(callee); n != 2 {
				t.Errorf("Expected 2 recorded calls, got %d", n)
			}
		})
	}
}

func TestEvaluate_LoadingUnitFeedsObservedConstants(t *testing.T) {
	callee := staticMethod(t, "inc", "(I)I", 2, 1, jvmeval.NewAssembler().
		Local(jvmeval.OpIload, 0).Int(1).Op(jvmeval.OpIadd).Op(jvmeval.OpIreturn))

	summaries := NewSummaries(nil, declarations{})
	summaries.RecordArguments(callee.Ref(), []Value{ParticularInt(5)})
	summaries.RecordArguments(callee.Ref(), []Value{ParticularInt(5)})

	opts := DefaultOptions()
	opts.InvocationUnit = NewStoringInvocationUnit(summaries, NewLoadingInvocationUnit(summaries, nil))
	table := evaluate(t, callee, opts)

	if ret, _ := table.ReturnValue(); ret != ParticularInt(6) {
		t.Errorf("Expected specialized return 6, got %v", ret)
	}
	if got, ok := summaries.Return(callee.Ref()); !ok || got != ParticularInt(6) {
		t.Errorf("Expected recorded return 6, got %v (ok=%v)", got, ok)
	}
}

func TestEvaluate_LoadingUnitSkipsOverridableMethods(t *testing.T) {
	callee := staticMethod(t, "inc", "(I)I", 2, 1, jvmeval.NewAssembler().
		Local(jvmeval.OpIload, 0).Int(1).Op(jvmeval.OpIadd).Op(jvmeval.OpIreturn))
	summaries := NewSummaries(nil, declarations{virtual: map[jvmeval.MemberRef]bool{callee.Ref(): true}})
	summaries.RecordArguments(callee.Ref(), []Value{ParticularInt(5)})
	summaries.RecordReturn(callee.Ref(), ParticularInt(6))

	opts := DefaultOptions()
	opts.InvocationUnit = NewLoadingInvocationUnit(summaries, nil)
	table := evaluate(t, callee, opts)
	if ret, _ := table.ReturnValue(); ret != TypedOf(KindInteger) {
		t.Errorf("Arguments observed for an overridable method must not be loaded, got return %v", ret)
	}

	unit := NewLoadingInvocationUnit(summaries, nil)
	if v := unit.Invoke(Site{}, jvmeval.OpInvokevirtual, callee.Ref(), []Value{ParticularInt(5)}); v != TypedOf(KindInteger) {
		t.Errorf("The result of an overridable method must not be loaded, got %v", v)
	}
}

func TestEvaluate_MalformedStackOverflow(t *testing.T) {
	// max_stack 1, but two values are pushed before any pop.
	m := staticMethod(t, "overflow", "()I", 1, 0, jvmeval.NewAssembler().
		Op(jvmeval.OpIconst1, jvmeval.OpIconst2, jvmeval.OpIadd, jvmeval.OpIreturn))

	p, err := NewPartialEvaluator(DefaultOptions())
	if err != nil {
		t.Fatalf("NewPartialEvaluator failed: %v", err)
	}
	table, err := p.Evaluate(m)
	if err == nil {
		t.Fatal("Expected a diagnostic for stack overflow")
	}
	if table != nil {
		t.Error("A failed evaluation must not return a table")
	}
	if !errors.Is(err, ErrStackOverflow) {
		t.Errorf("Expected ErrStackOverflow, got %v", err)
	}
	d, ok := AsDiagnostic(err)
	if !ok {
		t.Fatalf("Expected a *Diagnostic, got %T", err)
	}
	if d.Offset != 1 || d.Class != "test/Sample" || d.Method != "overflow()I" {
		t.Errorf("Unexpected diagnostic location: %+v", d)
	}
	if d.Expected == "" || d.Found == "" {
		t.Errorf("Diagnostic should describe expected and found shapes: %v", d)
	}
}

func TestEvaluate_MalformedCode(t *testing.T) {
	tests := []struct {
		name      string
		desc      string
		maxStack  int
		maxLocals int
		asm       *jvmeval.Assembler
		kind      error
	}{
		{
			name:     "underflow",
			desc:     "()I",
			maxStack: 2,
			asm:      jvmeval.NewAssembler().Op(jvmeval.OpIconst1, jvmeval.OpIadd, jvmeval.OpIreturn),
			kind:     ErrStackUnderflow,
		},
		{
			name:     "type mismatch",
			desc:     "()I",
			maxStack: 2,
			asm:      jvmeval.NewAssembler().Op(jvmeval.OpAconstNull, jvmeval.OpIconst1, jvmeval.OpIadd, jvmeval.OpIreturn),
			kind:     ErrTypeMismatch,
		},
		{
			name:      "local out of range",
			desc:      "()I",
			maxStack:  1,
			maxLocals: 1,
			asm:       jvmeval.NewAssembler().Local(jvmeval.OpIload, 5).Op(jvmeval.OpIreturn),
			kind:      ErrInvalidVariable,
		},
		{
			name:     "branch outside code",
			desc:     "()V",
			maxStack: 1,
			asm:      jvmeval.NewAssembler().Raw(byte(jvmeval.OpGoto), 0, 100),
			kind:     ErrInvalidBranch,
		},
		{
			name:     "falls off the end",
			desc:     "()V",
			maxStack: 1,
			asm:      jvmeval.NewAssembler().Op(jvmeval.OpIconst1),
			kind:     ErrInvalidCode,
		},
		{
			name:      "inconsistent depth at merge",
			desc:      "(I)I",
			maxStack:  2,
			maxLocals: 1,
			asm: jvmeval.NewAssembler().
				Local(jvmeval.OpIload, 0).Jump(jvmeval.OpIfeq, "join").
				Int(1).
				Label("join").
				Int(0).Op(jvmeval.OpIreturn),
			kind: ErrInconsistentStack,
		},
		{
			name:      "ldc without pool entry",
			desc:      "()I",
			maxStack:  1,
			maxLocals: 0,
			asm:       jvmeval.NewAssembler().Ref(jvmeval.OpLdc, 7).Op(jvmeval.OpIreturn),
			kind:      ErrInvalidCode,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := staticMethod(t, "bad", tt.desc, tt.maxStack, tt.maxLocals, tt.asm)
			_, err := Evaluate(m)
			if !errors.Is(err, tt.kind) {
				t.Errorf("Expected %v, got %v", tt.kind, err)
			}
		})
	}
}

func TestEvaluate_VisitBudgetAbort(t *testing.T) {
	m := countingLoop(t)
	summaries := NewSummaries(nil, nil)
	opts := DefaultOptions()
	opts.MaxVisits = 3
	opts.TrackProvenance = true
	opts.InvocationUnit = NewStoringInvocationUnit(summaries, nil)

	table := evaluate(t, m, opts)

	if !table.Aborted() {
		t.Fatal("Expected the visit budget to abort evaluation")
	}
	if table.Visits() != 3 {
		t.Errorf("Expected 3 visits, got %d", table.Visits())
	}
	for _, off := range m.Code.Offsets() {
		if !table.Reachable(off) {
			t.Errorf("Aborted table must treat offset %d as reachable", off)
		}
		if !table.BranchTaken(off, 0) {
			t.Errorf("Aborted table must treat every edge from %d as taken", off)
		}
	}
	if got, _ := table.Variable(0, 0); got.IsParticular() {
		t.Errorf("Aborted table must not report constants, got %v", got)
	}
	if table.VariableProducers(0, 0) != nil {
		t.Error("Aborted table must not report provenance")
	}
	ret, ok := table.ReturnValue()
	if !ok || ret != UnknownOf(KindInteger) {
		t.Errorf("Expected unknown int return, got %v (ok=%v)", ret, ok)
	}
	if got, _ := summaries.Return(m.Ref()); got != UnknownOf(KindInteger) {
		t.Errorf("Expected the unknown return to be recorded, got %v", got)
	}
}

func TestEvaluate_AbortReplaysWrites(t *testing.T) {
	field := jvmeval.MemberRef{Class: "test/Sample", Name: "counter", Descriptor: "I"}
	m := staticMethod(t, "spin", "()V", 1, 0, jvmeval.NewAssembler().
		Label("top").
		Int(1).Ref(jvmeval.OpPutstatic, 2).
		Jump(jvmeval.OpGoto, "top"))
	m.Pool.(*testPool).members[2] = field

	summaries := NewSummaries(nil, nil)
	opts := DefaultOptions()
	opts.MaxVisits = 2
	opts.InvocationUnit = NewStoringInvocationUnit(summaries, nil)
	table := evaluate(t, m, opts)

	if !table.Aborted() {
		t.Fatal("Expected an aborted table")
	}
	got, ok := summaries.Field(field)
	if !ok || got != UnknownOf(KindInteger) {
		t.Errorf("Expected the field write to be replayed as unknown, got %v (ok=%v)", got, ok)
	}
}

func TestEvaluate_InfiniteLoopConverges(t *testing.T) {
	m := staticMethod(t, "forever", "()V", 1, 1, jvmeval.NewAssembler().
		Int(0).Local(jvmeval.OpIstore, 0).
		Label("top").
		Iinc(0, 1).
		Jump(jvmeval.OpGoto, "top"))

	table := evaluate(t, m, DefaultOptions())

	if table.Aborted() {
		t.Error("A simple infinite loop should converge without hitting the budget")
	}
	if _, ok := table.ReturnValue(); ok {
		t.Error("A method that never returns has no return value")
	}
}

func TestEvaluate_BranchDecisions(t *testing.T) {
	t.Run("constant condition", func(t *testing.T) {
		m := staticMethod(t, "cond", "()I", 2, 0, jvmeval.NewAssembler().
			Int(3).Jump(jvmeval.OpIfeq, "zero").
			Int(10).Op(jvmeval.OpIreturn).
			Label("zero").
			Int(20).Op(jvmeval.OpIreturn))
		ifeq := offsetOf(t, m, jvmeval.OpIfeq, 0)
		zero := offsetOf(t, m, jvmeval.OpBipush, 1)

		table := evaluate(t, m, DefaultOptions())
		if table.Reachable(zero) {
			t.Error("Branch on a non-zero constant must not reach the ifeq target")
		}
		if table.BranchTaken(ifeq, zero) {
			t.Error("Edge to the ifeq target must not be taken")
		}
		if ret, _ := table.ReturnValue(); ret != ParticularInt(10) {
			t.Errorf("Expected return 10, got %v", ret)
		}

		opts := DefaultOptions()
		opts.EvaluateBranches = false
		table = evaluate(t, m, opts)
		if !table.Reachable(zero) {
			t.Error("Without branch evaluation both successors are reachable")
		}
		if ret, _ := table.ReturnValue(); ret != TypedOf(KindInteger) {
			t.Errorf("Expected typed int return, got %v", ret)
		}
	})

	t.Run("null check", func(t *testing.T) {
		m := staticMethod(t, "nullcheck", "()I", 1, 0, jvmeval.NewAssembler().
			Op(jvmeval.OpAconstNull).Jump(jvmeval.OpIfnull, "isnull").
			Int(0).Op(jvmeval.OpIreturn).
			Label("isnull").
			Int(1).Op(jvmeval.OpIreturn))

		table := evaluate(t, m, DefaultOptions())
		if ret, _ := table.ReturnValue(); ret != ParticularInt(1) {
			t.Errorf("Expected return 1, got %v", ret)
		}
		if got := table.Successors(1); !cmp.Equal(got, []int{6}) {
			t.Errorf("Expected only the ifnull target to be followed, got %v", got)
		}
	})

	t.Run("tableswitch", func(t *testing.T) {
		m := staticMethod(t, "sw", "()I", 1, 0, jvmeval.NewAssembler().
			Int(1).Tableswitch(0, "dflt", "a", "b").
			Label("a").Int(10).Op(jvmeval.OpIreturn).
			Label("b").Int(20).Op(jvmeval.OpIreturn).
			Label("dflt").Int(30).Op(jvmeval.OpIreturn))

		table := evaluate(t, m, DefaultOptions())
		if ret, _ := table.ReturnValue(); ret != ParticularInt(20) {
			t.Errorf("Expected return 20, got %v", ret)
		}
		if table.Reachable(offsetOf(t, m, jvmeval.OpBipush, 0)) {
			t.Error("Case 0 must be unreachable for key 1")
		}
	})
}

func TestEvaluate_Subroutine(t *testing.T) {
	m := staticMethod(t, "sub", "()I", 1, 1, jvmeval.NewAssembler().
		Jump(jvmeval.OpJsr, "sub").
		Int(1).Op(jvmeval.OpIreturn).
		Label("sub").
		Local(jvmeval.OpAstore, 0).
		Local(jvmeval.OpRet, 0))
	ret := offsetOf(t, m, jvmeval.OpRet, 0)

	table := evaluate(t, m, DefaultOptions())

	if got := table.Successors(ret); !cmp.Equal(got, []int{3}) {
		t.Errorf("Expected ret to return to offset 3, got %v", got)
	}
	if got, _ := table.Variable(ret, 0); got != ReturnAddress(3) {
		t.Errorf("Expected return address in local 0, got %v", got)
	}
	if v, _ := table.ReturnValue(); v != ParticularInt(1) {
		t.Errorf("Expected return 1, got %v", v)
	}
}

func TestEvaluate_Provenance(t *testing.T) {
	// int r; if (p == 0) r = 1; else r = 2; return r + r;
	m := staticMethod(t, "choose", "(I)I", 2, 2, jvmeval.NewAssembler().
		Local(jvmeval.OpIload, 0).Jump(jvmeval.OpIfeq, "zero").
		Int(2).Local(jvmeval.OpIstore, 1).Jump(jvmeval.OpGoto, "join").
		Label("zero").
		Int(1).Local(jvmeval.OpIstore, 1).
		Label("join").
		Local(jvmeval.OpIload, 1).Op(jvmeval.OpDup).Op(jvmeval.OpIadd).Op(jvmeval.OpIreturn))
	storeA := offsetOf(t, m, jvmeval.OpIstore, 0)
	storeB := offsetOf(t, m, jvmeval.OpIstore, 1)
	load := offsetOf(t, m, jvmeval.OpIload, 1)
	add := offsetOf(t, m, jvmeval.OpIadd, 0)

	opts := DefaultOptions()
	opts.TrackProvenance = true
	table := evaluate(t, m, opts)

	if got := table.VariableProducers(load, 1); !cmp.Equal(got, []int{storeA, storeB}) {
		t.Errorf("Expected producers [%d %d] for the joined local, got %v", storeA, storeB, got)
	}
	if got := table.VariableProducers(0, 0); len(got) != 0 {
		t.Errorf("Parameters have no producers, got %v", got)
	}
	for i := 0; i < 2; i++ {
		if got := table.StackProducers(add, i); !cmp.Equal(got, []int{load}) {
			t.Errorf("dup must keep the producer of cell %d, got %v", i, got)
		}
	}
	if got := table.StackProducers(add+1, 0); !cmp.Equal(got, []int{add}) {
		t.Errorf("Expected iadd to produce the return value, got %v", got)
	}

	plain := evaluate(t, m, DefaultOptions())
	if plain.VariableProducers(load, 1) != nil {
		t.Error("Provenance must be nil when tracking is off")
	}
}

func TestEvaluate_Determinism(t *testing.T) {
	for _, track := range []bool{false, true} {
		opts := DefaultOptions()
		opts.TrackProvenance = track
		first := evaluate(t, countingLoop(t), opts)
		second := evaluate(t, countingLoop(t), opts)
		if first.Fingerprint() != second.Fingerprint() {
			t.Errorf("Fingerprints differ with provenance=%v", track)
		}
		for _, off := range first.Offsets() {
			a, _ := first.State(off)
			b, _ := second.State(off)
			if !a.Variables().Equal(b.Variables()) || !a.Stack().Equal(b.Stack()) {
				t.Errorf("State at %d differs between runs", off)
			}
		}
	}
}

func TestEvaluate_Idempotence(t *testing.T) {
	m := countingLoop(t)
	p, err := NewPartialEvaluator(DefaultOptions())
	if err != nil {
		t.Fatalf("NewPartialEvaluator failed: %v", err)
	}
	first, err := p.Evaluate(m)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	second, err := p.Evaluate(m)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if first.Fingerprint() != second.Fingerprint() {
		t.Error("Re-evaluating unchanged code produced a different table")
	}

	opts := DefaultOptions()
	opts.Precision = "typed"
	typed := evaluate(t, m, opts)
	if typed.Fingerprint() == first.Fingerprint() {
		t.Error("Different precision should produce a different fingerprint")
	}
}

func TestEvaluateWith(t *testing.T) {
	m := staticMethod(t, "inc", "(I)I", 2, 1, jvmeval.NewAssembler().
		Local(jvmeval.OpIload, 0).Int(1).Op(jvmeval.OpIadd).Op(jvmeval.OpIreturn))
	p, err := NewPartialEvaluator(DefaultOptions())
	if err != nil {
		t.Fatalf("NewPartialEvaluator failed: %v", err)
	}

	table, err := p.EvaluateWith(m, []Value{ParticularInt(7)})
	if err != nil {
		t.Fatalf("EvaluateWith failed: %v", err)
	}
	if ret, _ := table.ReturnValue(); ret != ParticularInt(8) {
		t.Errorf("Expected return 8, got %v", ret)
	}

	_, err = p.EvaluateWith(m, []Value{ParticularLong(7)})
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Expected ErrTypeMismatch for a long argument, got %v", err)
	}
	_, err = p.EvaluateWith(m, nil)
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Expected ErrTypeMismatch for missing arguments, got %v", err)
	}
}

func TestEvaluate_InstanceMethodReceiver(t *testing.T) {
	m := staticMethod(t, "self", "()Ljava/lang/Object;", 1, 1, jvmeval.NewAssembler().
		Local(jvmeval.OpAload, 0).Op(jvmeval.OpAreturn))
	m.AccessFlags = jvmeval.AccPublic

	table := evaluate(t, m, DefaultOptions())

	recv, _ := table.Variable(0, 0)
	if recv.Type() != "Ltest/Sample;" || !recv.IsNotNull() {
		t.Errorf("Expected a non-null test/Sample receiver, got %v", recv)
	}
}

func TestEvaluate_Logging(t *testing.T) {
	var buf bytes.Buffer
	m := staticMethod(t, "two", "()I", 2, 0, jvmeval.NewAssembler().
		Op(jvmeval.OpIconst1, jvmeval.OpIconst1, jvmeval.OpIadd, jvmeval.OpIreturn))

	opts := DefaultOptions()
	opts.LogLevel = "debug"
	opts.Logger = NewLoggerWithTimeFormat(LevelDebug, &buf, "")
	evaluate(t, m, opts)

	out := buf.String()
	for _, want := range []string{
		"[INFO] Starting partial evaluation",
		"[DEBUG] Evaluating iadd",
		"[INFO] Partial evaluation converged",
		"method=test/Sample.two()I",
		"return=2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Log output missing %q:\n%s", want, out)
		}
	}
}

func TestNewPartialEvaluator_InvalidOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.Precision = "exact"
	if _, err := NewPartialEvaluator(opts); err == nil {
		t.Error("Expected an error for an unknown precision")
	}
	if _, err := Evaluate(&jvmeval.Method{Name: "abstract", Descriptor: "()V"}); err == nil {
		t.Error("Expected an error for a method without code")
	}
}
