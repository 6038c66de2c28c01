package partialeval

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/speakeasy-api/jvmeval"
)

// flow is the control outcome of one transfer. When decided is set only
// targets are followed; otherwise every resolver target is.
type flow struct {
	decided bool
	targets []int
}

func follow(targets ...int) flow { return flow{decided: true, targets: targets} }

// transfer applies ins to vars and stack in place. Shape errors are raised
// with panic and recovered by the caller.
func (e *evaluation) transfer(ins jvmeval.Instruction, vars *Variables, stack *Stack) flow {
	at := e.trace.at(ins.Offset())
	switch i := ins.(type) {
	case *jvmeval.SimpleInstruction:
		e.simple(i, stack, at)
	case *jvmeval.VariableInstruction:
		return e.variable(i, vars, stack, at)
	case *jvmeval.ConstantInstruction:
		e.constant(i, stack, at)
	case *jvmeval.BranchInstruction:
		return e.branch(i, stack, at)
	case *jvmeval.SwitchInstruction:
		key := stack.pop(KindInteger)
		if k, ok := key.Int(); ok && e.opts.EvaluateBranches {
			return follow(i.TargetFor(k))
		}
	default:
		raise(ErrInvalidCode, "a decoded instruction", fmt.Sprintf("%T", ins))
	}
	return flow{}
}

func (e *evaluation) push(stack *Stack, v Value, at mapset.Set[int]) {
	stack.push(e.factory.Create(v), at)
}

func (e *evaluation) simple(i *jvmeval.SimpleInstruction, stack *Stack, at mapset.Set[int]) {
	op := i.Opcode()
	switch op.Category() {
	case jvmeval.CategoryNop:
	case jvmeval.CategoryConstant:
		e.push(stack, simpleConstant(op, i.Constant), at)
	case jvmeval.CategoryArrayLoad:
		stack.pop(KindInteger)
		array := stack.pop(KindReference)
		e.push(stack, arrayElement(op, array), at)
	case jvmeval.CategoryArrayStore:
		stack.pop(arrayStoreKind(op))
		stack.pop(KindInteger)
		stack.pop(KindReference)
	case jvmeval.CategoryStack:
		shuffle(op, stack)
	case jvmeval.CategoryArithmetic:
		e.arithmetic(op, stack, at)
	case jvmeval.CategoryConversion:
		from, to := conversionKinds(op)
		v := stack.pop(from)
		if v.IsParticular() {
			e.push(stack, convert(op, v), at)
		} else {
			e.push(stack, resultOf(to, v), at)
		}
	case jvmeval.CategoryComparison:
		e.compare(op, stack, at)
	case jvmeval.CategoryReturn:
		e.returnValue(op, stack)
	case jvmeval.CategoryThrow, jvmeval.CategoryMonitor:
		stack.pop(KindReference)
	case jvmeval.CategoryObject:
		switch op {
		case jvmeval.OpNewarray:
			stack.pop(KindInteger)
			desc, ok := jvmeval.PrimitiveArrayDescriptor(i.Constant)
			if !ok {
				raise(ErrInvalidCode, "a primitive array type code", fmt.Sprint(i.Constant))
			}
			e.push(stack, TypedReference(desc, false, false), at)
		case jvmeval.OpArraylength:
			array := stack.pop(KindReference)
			e.push(stack, resultOf(KindInteger, array), at)
		default:
			raise(ErrInvalidCode, "an operand-free object instruction", op.String())
		}
	default:
		raise(ErrInvalidCode, "a known instruction", op.String())
	}
}

func simpleConstant(op jvmeval.Opcode, c int32) Value {
	switch {
	case op == jvmeval.OpAconstNull:
		return NullReference()
	case op == jvmeval.OpLconst0 || op == jvmeval.OpLconst1:
		return ParticularLong(int64(c))
	case op >= jvmeval.OpFconst0 && op <= jvmeval.OpFconst2:
		return ParticularFloat(float32(c))
	case op == jvmeval.OpDconst0 || op == jvmeval.OpDconst1:
		return ParticularDouble(float64(c))
	}
	return ParticularInt(c) // iconst_<n>, bipush, sipush
}

func arrayElement(op jvmeval.Opcode, array Value) Value {
	switch op {
	case jvmeval.OpLaload:
		return TypedOf(KindLong)
	case jvmeval.OpFaload:
		return TypedOf(KindFloat)
	case jvmeval.OpDaload:
		return TypedOf(KindDouble)
	case jvmeval.OpAaload:
		if elem, ok := jvmeval.ArrayElement(array.Type()); ok && jvmeval.IsReferenceDescriptor(elem) {
			return ValueOfDescriptor(elem)
		}
		return UnknownOf(KindReference)
	}
	return TypedOf(KindInteger)
}

func arrayStoreKind(op jvmeval.Opcode) Kind {
	switch op {
	case jvmeval.OpLastore:
		return KindLong
	case jvmeval.OpFastore:
		return KindFloat
	case jvmeval.OpDastore:
		return KindDouble
	case jvmeval.OpAastore:
		return KindReference
	}
	return KindInteger
}

// shuffle implements the untyped stack instructions on cells, keeping the
// producers of the values it moves.
func shuffle(op jvmeval.Opcode, stack *Stack) {
	switch op {
	case jvmeval.OpPop:
		stack.words(1, 1)
	case jvmeval.OpPop2:
		stack.words(2, 2)
	case jvmeval.OpDup:
		w := stack.words(1, 1)
		stack.pushWords(w[0], w[0])
	case jvmeval.OpDupX1:
		w := stack.words(2, 1, 2)
		stack.pushWords(w[1], w[0], w[1])
	case jvmeval.OpDupX2:
		w := stack.words(3, 1, 3)
		stack.pushWords(w[2], w[0], w[1], w[2])
	case jvmeval.OpDup2:
		w := stack.words(2, 2)
		stack.pushWords(w[0], w[1], w[0], w[1])
	case jvmeval.OpDup2X1:
		w := stack.words(3, 2, 3)
		stack.pushWords(w[1], w[2], w[0], w[1], w[2])
	case jvmeval.OpDup2X2:
		w := stack.words(4, 2, 4)
		stack.pushWords(w[2], w[3], w[0], w[1], w[2], w[3])
	case jvmeval.OpSwap:
		w := stack.words(2, 1, 2)
		stack.pushWords(w[1], w[0])
	}
}

func (e *evaluation) arithmetic(op jvmeval.Opcode, stack *Stack, at mapset.Set[int]) {
	kind := arithmeticKind(op)
	switch op {
	case jvmeval.OpIneg, jvmeval.OpLneg, jvmeval.OpFneg, jvmeval.OpDneg:
		e.push(stack, negate(stack.pop(kind)), at)
		return
	case jvmeval.OpIshl, jvmeval.OpIshr, jvmeval.OpIushr, jvmeval.OpLshl, jvmeval.OpLshr, jvmeval.OpLushr:
		n := stack.pop(KindInteger)
		v := stack.pop(kind)
		e.push(stack, shift(op, v, n), at)
		return
	}
	b := stack.pop(kind)
	a := stack.pop(kind)
	e.push(stack, foldBinary(op, a, b), at)
}

func negate(v Value) Value {
	if !v.IsParticular() {
		return v
	}
	switch v.kind {
	case KindInteger:
		i, _ := v.Int()
		return ParticularInt(-i)
	case KindLong:
		l, _ := v.Long()
		return ParticularLong(-l)
	case KindFloat:
		f, _ := v.Float()
		return ParticularFloat(-f)
	default:
		d, _ := v.Double()
		return ParticularDouble(-d)
	}
}

func shift(op jvmeval.Opcode, v, n Value) Value {
	if !v.IsParticular() || !n.IsParticular() {
		return resultOf(v.kind, v, n)
	}
	d, _ := n.Int()
	if v.kind == KindLong {
		l, _ := v.Long()
		return ParticularLong(foldLongShift(op, l, d))
	}
	i, _ := v.Int()
	r, _ := foldInt(op, i, d)
	return ParticularInt(r)
}

func foldBinary(op jvmeval.Opcode, a, b Value) Value {
	if !a.IsParticular() || !b.IsParticular() {
		return resultOf(a.kind, a, b)
	}
	switch a.kind {
	case KindInteger:
		x, _ := a.Int()
		y, _ := b.Int()
		if r, ok := foldInt(op, x, y); ok {
			return ParticularInt(r)
		}
	case KindLong:
		x, _ := a.Long()
		y, _ := b.Long()
		if r, ok := foldLong(op, x, y); ok {
			return ParticularLong(r)
		}
	case KindFloat:
		x, _ := a.Float()
		y, _ := b.Float()
		return ParticularFloat(foldFloat(op, x, y))
	case KindDouble:
		x, _ := a.Double()
		y, _ := b.Double()
		return ParticularDouble(foldDouble(op, x, y))
	}
	return TypedOf(a.kind)
}

func (e *evaluation) compare(op jvmeval.Opcode, stack *Stack, at mapset.Set[int]) {
	var kind Kind
	switch op {
	case jvmeval.OpLcmp:
		kind = KindLong
	case jvmeval.OpFcmpl, jvmeval.OpFcmpg:
		kind = KindFloat
	default:
		kind = KindDouble
	}
	b := stack.pop(kind)
	a := stack.pop(kind)
	if !a.IsParticular() || !b.IsParticular() {
		e.push(stack, resultOf(KindInteger, a, b), at)
		return
	}
	nan := int32(1)
	if op == jvmeval.OpFcmpl || op == jvmeval.OpDcmpl {
		nan = -1
	}
	var r int32
	switch kind {
	case KindLong:
		x, _ := a.Long()
		y, _ := b.Long()
		r = compareLongs(x, y)
	case KindFloat:
		x, _ := a.Float()
		y, _ := b.Float()
		r = compareFloats(float64(x), float64(y), nan)
	default:
		x, _ := a.Double()
		y, _ := b.Double()
		r = compareFloats(x, y, nan)
	}
	e.push(stack, ParticularInt(r), at)
}

func (e *evaluation) returnValue(op jvmeval.Opcode, stack *Stack) {
	var kind Kind
	switch op {
	case jvmeval.OpReturn:
		return
	case jvmeval.OpIreturn:
		kind = KindInteger
	case jvmeval.OpLreturn:
		kind = KindLong
	case jvmeval.OpFreturn:
		kind = KindFloat
	case jvmeval.OpDreturn:
		kind = KindDouble
	default:
		kind = KindReference
	}
	v := stack.pop(kind)
	t := e.table
	if !t.returned {
		t.ret, t.returned = v, true
		return
	}
	t.ret = e.factory.Generalize(t.ret, v)
}

func (e *evaluation) variable(i *jvmeval.VariableInstruction, vars *Variables, stack *Stack, at mapset.Set[int]) flow {
	op := i.Opcode()
	switch {
	case op == jvmeval.OpIinc:
		v := vars.load(i.Index, KindInteger).value
		vars.store(i.Index, e.factory.Create(foldBinary(jvmeval.OpIadd, v, ParticularInt(i.Increment))), at)
	case op == jvmeval.OpRet:
		v := vars.load(i.Index, KindReturnAddress).value
		if addr, ok := v.ReturnAddressOffset(); ok {
			return follow(e.resolver.check(i, addr))
		}
	case op >= jvmeval.OpIload && op <= jvmeval.OpAload:
		v := vars.load(i.Index, loadStoreKind(op-jvmeval.OpIload)).value
		stack.push(v, at)
	default:
		kind := loadStoreKind(op - jvmeval.OpIstore)
		v := stack.popEntry(kind, kind == KindReference)
		vars.store(i.Index, v.value, at)
	}
	return flow{}
}

func loadStoreKind(n jvmeval.Opcode) Kind {
	switch n {
	case 0:
		return KindInteger
	case 1:
		return KindLong
	case 2:
		return KindFloat
	case 3:
		return KindDouble
	}
	return KindReference
}

func (e *evaluation) branch(i *jvmeval.BranchInstruction, stack *Stack, at mapset.Set[int]) flow {
	op := i.Opcode()
	next := i.Offset() + i.Length()
	decide := func(taken bool) flow {
		if taken {
			return follow(i.Target)
		}
		return follow(next)
	}
	switch {
	case op == jvmeval.OpGoto || op == jvmeval.OpGotoW:
		return flow{}
	case op == jvmeval.OpJsr || op == jvmeval.OpJsrW:
		stack.push(ReturnAddress(next), at)
		return flow{}
	case op >= jvmeval.OpIfeq && op <= jvmeval.OpIfle:
		v := stack.pop(KindInteger)
		if x, ok := v.Int(); ok && e.opts.EvaluateBranches {
			return decide(evalIntCondition(op, x, 0))
		}
	case op >= jvmeval.OpIfIcmpeq && op <= jvmeval.OpIfIcmple:
		b := stack.pop(KindInteger)
		a := stack.pop(KindInteger)
		x, okA := a.Int()
		y, okB := b.Int()
		if okA && okB && e.opts.EvaluateBranches {
			return decide(evalIntCondition(op, x, y))
		}
	case op == jvmeval.OpIfAcmpeq || op == jvmeval.OpIfAcmpne:
		b := stack.pop(KindReference)
		a := stack.pop(KindReference)
		if !e.opts.EvaluateBranches {
			break
		}
		eq := op == jvmeval.OpIfAcmpeq
		switch {
		case a.IsNull() && b.IsNull():
			return decide(eq)
		case (a.IsNull() && b.IsNotNull()) || (b.IsNull() && a.IsNotNull()):
			return decide(!eq)
		}
	case op == jvmeval.OpIfnull || op == jvmeval.OpIfnonnull:
		v := stack.pop(KindReference)
		if !e.opts.EvaluateBranches {
			break
		}
		isNull := op == jvmeval.OpIfnull
		switch {
		case v.IsNull():
			return decide(isNull)
		case v.IsNotNull():
			return decide(!isNull)
		}
	}
	return flow{}
}

func (e *evaluation) constant(i *jvmeval.ConstantInstruction, stack *Stack, at mapset.Set[int]) {
	op := i.Opcode()
	site := Site{Method: e.ref, Offset: i.Offset()}
	switch op.Category() {
	case jvmeval.CategoryConstant:
		v := e.loadConstant(i)
		if (op == jvmeval.OpLdc2W) != (v.Category() == 2) {
			raise(ErrTypeMismatch, "constant of the instruction's category", v.String())
		}
		e.push(stack, v, at)

	case jvmeval.CategoryField:
		ref := e.memberRef(i.Index)
		kind := kindOfDescriptor(ref.Descriptor)
		if kind == KindTop {
			raise(ErrInvalidCode, "a field descriptor", ref.Descriptor)
		}
		switch op {
		case jvmeval.OpGetstatic, jvmeval.OpGetfield:
			if op == jvmeval.OpGetfield {
				stack.pop(KindReference)
			}
			e.push(stack, e.conform(e.unit.GetField(site, op, ref), ref.Descriptor), at)
		default:
			v := stack.pop(kind)
			if op == jvmeval.OpPutfield {
				stack.pop(KindReference)
			}
			e.unit.PutField(site, op, ref, v)
		}

	case jvmeval.CategoryInvoke:
		ref := e.memberRef(i.Index)
		params, ret, err := jvmeval.ParseMethodDescriptor(ref.Descriptor)
		if err != nil {
			raise(ErrInvalidCode, "a method descriptor", ref.Descriptor)
		}
		args := make([]Value, len(params))
		for k := len(params) - 1; k >= 0; k-- {
			args[k] = stack.pop(kindOfDescriptor(params[k]))
		}
		if op != jvmeval.OpInvokestatic && op != jvmeval.OpInvokedynamic {
			receiver := stack.pop(KindReference)
			args = append([]Value{receiver}, args...)
		}
		result := e.unit.Invoke(site, op, ref, args)
		if ret != jvmeval.DescVoid {
			e.push(stack, e.conform(result, ret), at)
		}

	case jvmeval.CategoryObject:
		switch op {
		case jvmeval.OpNew:
			name := e.className(i.Index)
			e.push(stack, TypedReference(jvmeval.ClassDescriptor(name), false, false), at)
		case jvmeval.OpAnewarray:
			stack.pop(KindInteger)
			name := e.className(i.Index)
			e.push(stack, TypedReference("["+jvmeval.ClassDescriptor(name), false, false), at)
		case jvmeval.OpMultianewarray:
			if i.Dimensions == 0 {
				raise(ErrInvalidCode, "at least one dimension", "0")
			}
			for d := 0; d < int(i.Dimensions); d++ {
				stack.pop(KindInteger)
			}
			name := e.className(i.Index)
			e.push(stack, TypedReference(jvmeval.ClassDescriptor(name), false, false), at)
		case jvmeval.OpCheckcast:
			v := stack.pop(KindReference)
			name := e.className(i.Index)
			if v.IsParticular() {
				e.push(stack, v, at)
			} else {
				e.push(stack, TypedReference(jvmeval.ClassDescriptor(name), v.MayBeNull() || v.IsUnknown(), true), at)
			}
		case jvmeval.OpInstanceof:
			v := stack.pop(KindReference)
			e.className(i.Index)
			if v.IsNull() {
				e.push(stack, ParticularInt(0), at)
			} else {
				e.push(stack, resultOf(KindInteger, v), at)
			}
		}

	default:
		raise(ErrInvalidCode, "a constant pool instruction", op.String())
	}
}

// conform replaces an invocation unit answer of the wrong kind with the
// value the descriptor declares.
func (e *evaluation) conform(v Value, desc string) Value {
	if v.kind != kindOfDescriptor(desc) {
		return ValueOfDescriptor(desc)
	}
	return v
}

func (e *evaluation) loadConstant(i *jvmeval.ConstantInstruction) Value {
	if e.method.Pool == nil {
		raise(ErrInvalidCode, "a constant pool", "none")
	}
	c, err := e.method.Pool.Constant(i.Index)
	if err != nil {
		raise(ErrInvalidCode, "a loadable constant", err.Error())
	}
	if v, ok := constantValue(c); ok {
		return v
	}
	switch c.Kind {
	case jvmeval.ConstClass:
		return TypedReference(jvmeval.DescClass, false, false)
	case jvmeval.ConstMethodType:
		return TypedReference(jvmeval.DescMethodType, false, false)
	case jvmeval.ConstMethodHandle:
		return TypedReference(jvmeval.DescMethodHandle, false, true)
	case jvmeval.ConstDynamic:
		if kindOfDescriptor(c.Text) == KindTop {
			raise(ErrInvalidCode, "a field descriptor", c.Text)
		}
		return ValueOfDescriptor(c.Text)
	}
	raise(ErrInvalidCode, "a loadable constant", c.Kind.String())
	return Value{}
}

// constantValue returns the particular value of a numeric or String
// constant.
func constantValue(c jvmeval.Constant) (Value, bool) {
	switch c.Kind {
	case jvmeval.ConstInt:
		return ParticularInt(c.Int), true
	case jvmeval.ConstFloat:
		return ParticularFloat(c.Float), true
	case jvmeval.ConstLong:
		return ParticularLong(c.Long), true
	case jvmeval.ConstDouble:
		return ParticularDouble(c.Double), true
	case jvmeval.ConstString:
		return ParticularString(c.Text), true
	}
	return Value{}, false
}

func (e *evaluation) memberRef(index uint16) jvmeval.MemberRef {
	if e.method.Pool == nil {
		raise(ErrInvalidCode, "a constant pool", "none")
	}
	ref, err := e.method.Pool.MemberRef(index)
	if err != nil {
		raise(ErrInvalidCode, "a member reference", err.Error())
	}
	return ref
}

func (e *evaluation) className(index uint16) string {
	if e.method.Pool == nil {
		raise(ErrInvalidCode, "a constant pool", "none")
	}
	name, err := e.method.Pool.ClassName(index)
	if err != nil {
		raise(ErrInvalidCode, "a class reference", err.Error())
	}
	return name
}
