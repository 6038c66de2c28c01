package partialeval

import (
	"github.com/speakeasy-api/jvmeval"
)

// Site identifies one instruction of one method. Invocation units see it on
// every callback so that observations can be attributed to call sites.
type Site struct {
	Method jvmeval.MemberRef
	Offset int
}

// InvocationUnit supplies the values of everything outside the current
// stack and local variables: parameters, fields, call results and caught
// exceptions. It also observes the values leaving the method.
//
// Implementations must not fail on unresolved references; they answer with
// an unknown value of the expected kind instead. The evaluator checks the
// kind of every answer and falls back to the descriptor type on mismatch.
type InvocationUnit interface {
	// Parameters returns the entry values of m, one per parameter with the
	// receiver first for instance methods.
	Parameters(m *jvmeval.Method) []Value
	// GetField returns the value read by getstatic or getfield.
	GetField(site Site, op jvmeval.Opcode, ref jvmeval.MemberRef) Value
	// PutField observes the value written by putstatic or putfield.
	PutField(site Site, op jvmeval.Opcode, ref jvmeval.MemberRef, value Value)
	// Invoke returns the result of a call. args hold the receiver first for
	// instance calls. The result is ignored for void methods.
	Invoke(site Site, op jvmeval.Opcode, ref jvmeval.MemberRef, args []Value) Value
	// ExceptionValue returns the value on the stack at a handler entry.
	// catchType is an internal class name, or "" for a catch-all handler.
	ExceptionValue(site Site, catchType string) Value
	// ExitMethod observes the joined value of all return instructions of m.
	// It is called once per evaluation; returned is false for void methods
	// and methods that never return normally.
	ExitMethod(m *jvmeval.Method, value Value, returned bool)
}

// BasicInvocationUnit answers with the types declared by descriptors and
// records nothing. It is safe for concurrent use.
type BasicInvocationUnit struct{}

// NewBasicInvocationUnit returns the conservative unit.
func NewBasicInvocationUnit() *BasicInvocationUnit { return &BasicInvocationUnit{} }

func (u *BasicInvocationUnit) Parameters(m *jvmeval.Method) []Value {
	params, _, err := jvmeval.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return nil
	}
	out := make([]Value, 0, len(params)+1)
	if !m.IsStatic() {
		out = append(out, receiverValue(m))
	}
	for _, p := range params {
		out = append(out, ValueOfDescriptor(p))
	}
	return out
}

func receiverValue(m *jvmeval.Method) Value {
	if m.Class == "" {
		return UnknownOf(KindReference)
	}
	// The receiver of a constructor is not yet initialized but is never null.
	return TypedReference(jvmeval.ClassDescriptor(m.Class), false, true)
}

func (u *BasicInvocationUnit) GetField(site Site, op jvmeval.Opcode, ref jvmeval.MemberRef) Value {
	return ValueOfDescriptor(ref.Descriptor)
}

func (u *BasicInvocationUnit) PutField(site Site, op jvmeval.Opcode, ref jvmeval.MemberRef, value Value) {
}

func (u *BasicInvocationUnit) Invoke(site Site, op jvmeval.Opcode, ref jvmeval.MemberRef, args []Value) Value {
	_, ret, err := jvmeval.ParseMethodDescriptor(ref.Descriptor)
	if err != nil || ret == jvmeval.DescVoid {
		return Top()
	}
	return ValueOfDescriptor(ret)
}

func (u *BasicInvocationUnit) ExceptionValue(site Site, catchType string) Value {
	if catchType == "" {
		return TypedReference(jvmeval.DescThrowable, false, true)
	}
	return TypedReference(jvmeval.ClassDescriptor(catchType), false, true)
}

func (u *BasicInvocationUnit) ExitMethod(m *jvmeval.Method, value Value, returned bool) {}

// StoringInvocationUnit answers like its base unit and records every field
// write, call argument and method result into a Summaries side table. One
// unit may be shared by concurrent evaluations.
type StoringInvocationUnit struct {
	InvocationUnit
	summaries *Summaries
}

// NewStoringInvocationUnit records into summaries. base answers the
// queries; nil means a BasicInvocationUnit.
func NewStoringInvocationUnit(summaries *Summaries, base InvocationUnit) *StoringInvocationUnit {
	if base == nil {
		base = NewBasicInvocationUnit()
	}
	return &StoringInvocationUnit{InvocationUnit: base, summaries: summaries}
}

// Summaries returns the table the unit records into.
func (u *StoringInvocationUnit) Summaries() *Summaries { return u.summaries }

func (u *StoringInvocationUnit) PutField(site Site, op jvmeval.Opcode, ref jvmeval.MemberRef, value Value) {
	u.summaries.RecordField(ref, value)
	u.InvocationUnit.PutField(site, op, ref, value)
}

func (u *StoringInvocationUnit) Invoke(site Site, op jvmeval.Opcode, ref jvmeval.MemberRef, args []Value) Value {
	if op != jvmeval.OpInvokedynamic {
		u.summaries.RecordArguments(ref, args)
	}
	return u.InvocationUnit.Invoke(site, op, ref, args)
}

func (u *StoringInvocationUnit) ExitMethod(m *jvmeval.Method, value Value, returned bool) {
	if returned {
		u.summaries.RecordReturn(m.Ref(), value)
	}
	u.InvocationUnit.ExitMethod(m, value, returned)
}

// LoadingInvocationUnit feeds the particular values found in a Summaries
// table back into evaluation: constant fields, constant results of exact
// methods and parameters that every observed call site of an exact method
// passed as the same constant.
//
// Summaries resolve inherited and overridden members, so recording over
// every method of a class pool covers all writers and call sites inside
// it. Writers and callers outside the pool, and reflective access, are
// not observed; the caller must rule them out before trusting the loaded
// values.
type LoadingInvocationUnit struct {
	InvocationUnit
	summaries *Summaries
}

// NewLoadingInvocationUnit reads from summaries. base answers everything
// the summaries cannot; nil means a BasicInvocationUnit.
func NewLoadingInvocationUnit(summaries *Summaries, base InvocationUnit) *LoadingInvocationUnit {
	if base == nil {
		base = NewBasicInvocationUnit()
	}
	return &LoadingInvocationUnit{InvocationUnit: base, summaries: summaries}
}

func (u *LoadingInvocationUnit) Parameters(m *jvmeval.Method) []Value {
	params := u.InvocationUnit.Parameters(m)
	if !u.summaries.Exact(m.Ref()) {
		return params
	}
	observed, ok := u.summaries.Arguments(m.Ref())
	if !ok || len(observed) != len(params) {
		return params
	}
	out := make([]Value, len(params))
	for i, p := range params {
		out[i] = p
		if o := observed[i]; o.IsParticular() && o.kind == p.kind {
			out[i] = o
		}
	}
	return out
}

func (u *LoadingInvocationUnit) GetField(site Site, op jvmeval.Opcode, ref jvmeval.MemberRef) Value {
	if v, ok := u.summaries.Field(ref); ok && v.IsParticular() {
		return v
	}
	return u.InvocationUnit.GetField(site, op, ref)
}

func (u *LoadingInvocationUnit) Invoke(site Site, op jvmeval.Opcode, ref jvmeval.MemberRef, args []Value) Value {
	if op != jvmeval.OpInvokedynamic && u.summaries.Exact(ref) {
		if v, ok := u.summaries.Return(ref); ok && v.IsParticular() {
			return v
		}
	}
	return u.InvocationUnit.Invoke(site, op, ref, args)
}
