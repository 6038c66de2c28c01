// Package optimize derives optimization facts from partial evaluation
// results: constant parameters, fields and return values recorded in
// Summaries, and branches or code a Table shows are never executed.
package optimize

import (
	"github.com/speakeasy-api/jvmeval"
	"github.com/speakeasy-api/jvmeval/partialeval"
)

// Parameter is the specialization verdict for one parameter slot.
type Parameter struct {
	// Slot is the local variable index of the parameter in the callee.
	Slot int
	// Value is the constant every observed call passed, valid when
	// Specializable is true.
	Value         partialeval.Value
	Specializable bool
}

// SpecializeParameters reports, per parameter of ref, whether every
// observed call site passed the same particular value. The receiver of an
// instance method is reported in slot 0 and is never specializable, and
// neither is any parameter of a method that is not exact: an overridable
// method or one reachable through a method handle. ok is false when no
// call of ref was recorded.
func SpecializeParameters(s *partialeval.Summaries, ref jvmeval.MemberRef) (params []Parameter, ok bool) {
	args, ok := s.Arguments(ref)
	if !ok {
		return nil, false
	}
	declared, _, err := jvmeval.ParseMethodDescriptor(ref.Descriptor)
	if err != nil {
		return nil, false
	}
	hasReceiver := len(args) == len(declared)+1
	exact := s.Exact(ref)
	slot := 0
	for i, v := range args {
		p := Parameter{Slot: slot, Value: v}
		receiver := hasReceiver && i == 0
		p.Specializable = exact && !receiver && v.IsParticular()
		params = append(params, p)
		slot += v.Category()
	}
	return params, true
}

// ConstantField returns the single particular value ref may hold: its
// initial value joined with every recorded write.
func ConstantField(s *partialeval.Summaries, ref jvmeval.MemberRef) (partialeval.Value, bool) {
	v, ok := s.Field(ref)
	if !ok || !v.IsParticular() {
		return partialeval.Value{}, false
	}
	return v, true
}

// ConstantReturn returns the single particular value ref always returns.
// Calls of methods that are not exact may run other bodies, so they have
// no constant result.
func ConstantReturn(s *partialeval.Summaries, ref jvmeval.MemberRef) (partialeval.Value, bool) {
	if !s.Exact(ref) {
		return partialeval.Value{}, false
	}
	v, ok := s.Return(ref)
	if !ok || !v.IsParticular() {
		return partialeval.Value{}, false
	}
	return v, true
}
