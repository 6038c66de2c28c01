package partialeval

import (
	"fmt"
	"strings"

	"github.com/speakeasy-api/jvmeval"
)

// Precision selects how much the evaluator remembers about values.
type Precision int

const (
	// PrecisionParticular tracks constants through arithmetic, fields and calls.
	PrecisionParticular Precision = iota
	// PrecisionTyped drops every numeric and String constant on creation,
	// keeping only types and nullness.
	PrecisionTyped
)

func (p Precision) String() string {
	if p == PrecisionTyped {
		return "typed"
	}
	return "particular"
}

// ParsePrecision parses "particular" or "typed".
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(s) {
	case "", "particular":
		return PrecisionParticular, nil
	case "typed":
		return PrecisionTyped, nil
	}
	return 0, fmt.Errorf("unknown precision %q (want particular or typed)", s)
}

// ClassHierarchy answers superclass queries for reference joins. It is read
// concurrently by parallel evaluations and must not change while they run.
type ClassHierarchy interface {
	// SuperClass returns the internal name of the direct superclass of
	// name. java/lang/Object reports "" and true. Classes outside the
	// model report false.
	SuperClass(name string) (string, bool)
}

const objectClass = "java/lang/Object"

// ValueFactory creates and joins values under one precision policy.
type ValueFactory struct {
	precision Precision
	hierarchy ClassHierarchy
}

// NewValueFactory returns a factory. hierarchy may be nil, in which case
// references of different classes join to an unknown reference unless one
// of them is Object.
func NewValueFactory(precision Precision, hierarchy ClassHierarchy) *ValueFactory {
	return &ValueFactory{precision: precision, hierarchy: hierarchy}
}

// Precision returns the factory's policy.
func (f *ValueFactory) Precision() Precision { return f.precision }

// Create applies the precision policy to a freshly produced value.
func (f *ValueFactory) Create(v Value) Value {
	if f.precision == PrecisionTyped && v.kind != KindReturnAddress {
		return v.Generalized()
	}
	return v
}

// Generalize joins a and b. Values of different kinds join to Top; stack
// merges treat that as an inconsistency.
func (f *ValueFactory) Generalize(a, b Value) Value {
	if a == b {
		return a
	}
	if a.kind != b.kind {
		return Top()
	}
	switch a.kind {
	case KindTop, kindSecondHalf:
		return a
	}
	if a.mode == ModeUnknown || b.mode == ModeUnknown {
		return UnknownOf(a.kind)
	}
	if a.kind != KindReference {
		return TypedOf(a.kind)
	}
	return f.generalizeReference(a, b)
}

func (f *ValueFactory) generalizeReference(a, b Value) Value {
	if a.IsNull() {
		return withNull(b)
	}
	if b.IsNull() {
		return withNull(a)
	}
	typ, ok := f.CommonSupertype(a.typ, b.typ)
	if !ok {
		return UnknownOf(KindReference)
	}
	ext := a.flags&refMayBeExtension != 0 || b.flags&refMayBeExtension != 0 ||
		typ != a.typ || typ != b.typ
	nullable := a.flags&refMayBeNull != 0 || b.flags&refMayBeNull != 0
	return TypedReference(typ, nullable, ext)
}

// withNull returns the join of null and a non-null-constant reference v.
func withNull(v Value) Value {
	if v.mode == ModeParticular {
		v = v.Generalized()
	}
	v.flags |= refMayBeNull
	return v
}

// CommonSupertype returns the most specific descriptor both a and b can be
// assigned to, or false when the hierarchy cannot tell.
func (f *ValueFactory) CommonSupertype(a, b string) (string, bool) {
	if a == b {
		return a, true
	}
	objectDesc := jvmeval.DescObject
	if a == objectDesc || b == objectDesc {
		return objectDesc, true
	}
	ae, aArray := jvmeval.ArrayElement(a)
	be, bArray := jvmeval.ArrayElement(b)
	switch {
	case aArray && bArray:
		if jvmeval.IsReferenceDescriptor(ae) && jvmeval.IsReferenceDescriptor(be) {
			elem, ok := f.CommonSupertype(ae, be)
			if !ok {
				return "", false
			}
			return "[" + elem, true
		}
		return objectDesc, true
	case aArray || bArray:
		return objectDesc, true
	}
	if f.hierarchy == nil {
		return "", false
	}
	ancestors := make(map[string]bool)
	for name := jvmeval.InternalName(a); name != ""; {
		if ancestors[name] {
			return "", false // cyclic hierarchy
		}
		ancestors[name] = true
		super, ok := f.hierarchy.SuperClass(name)
		if !ok {
			return "", false
		}
		name = super
	}
	visited := make(map[string]bool)
	for name := jvmeval.InternalName(b); name != "" && !visited[name]; {
		if ancestors[name] {
			return jvmeval.ClassDescriptor(name), true
		}
		visited[name] = true
		super, ok := f.hierarchy.SuperClass(name)
		if !ok {
			return "", false
		}
		name = super
	}
	return objectDesc, true
}

// Subsumes reports whether general is at least as general as specific in
// the lattice order, that is whether joining them yields general.
func (f *ValueFactory) Subsumes(general, specific Value) bool {
	return f.Generalize(general, specific) == general
}

// defaultFactory joins without class hierarchy information.
var defaultFactory = NewValueFactory(PrecisionParticular, nil)

// Generalize joins a and b without class hierarchy information.
func Generalize(a, b Value) Value { return defaultFactory.Generalize(a, b) }
