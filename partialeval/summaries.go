package partialeval

import (
	"sort"
	"sync"

	"github.com/speakeasy-api/jvmeval"
)

// MemberResolver maps symbolic member references, as they appear at call
// and access sites, to the members they denote.
type MemberResolver interface {
	// ResolveMethod returns the declaration ref resolves to. exact reports
	// that every invocation naming decl runs decl itself: it is static,
	// private, final or a constructor, and no method handle can reach it.
	// ok is false when the declaration is outside the model.
	ResolveMethod(ref jvmeval.MemberRef) (decl jvmeval.MemberRef, exact, ok bool)
	// ResolveField returns the declaring field of ref and the value of its
	// ConstantValue attribute, if it has one that applies.
	ResolveField(ref jvmeval.MemberRef) (decl jvmeval.MemberRef, initial *jvmeval.Constant, ok bool)
}

// Summaries is a side table of values observed across evaluations, keyed by
// member declaration: the join of all values each field may hold, of all
// arguments passed to each method, and of all values each method returns.
// It is safe for concurrent use.
//
// References are resolved before they are recorded or looked up, so a call
// naming an inherited method is summarized under the inherited declaration.
// Without a resolver references are taken as written, no method is exact
// and field initial values are unknown.
type Summaries struct {
	mu       sync.Mutex
	factory  *ValueFactory
	resolver MemberResolver
	fields   map[jvmeval.MemberRef]Value
	args     map[jvmeval.MemberRef][]Value
	calls    map[jvmeval.MemberRef]int
	returns  map[jvmeval.MemberRef]Value
}

// NewSummaries returns an empty table joining with factory and resolving
// references with resolver. A nil factory joins without class hierarchy
// information.
func NewSummaries(factory *ValueFactory, resolver MemberResolver) *Summaries {
	if factory == nil {
		factory = defaultFactory
	}
	return &Summaries{
		factory:  factory,
		resolver: resolver,
		fields:   make(map[jvmeval.MemberRef]Value),
		args:     make(map[jvmeval.MemberRef][]Value),
		calls:    make(map[jvmeval.MemberRef]int),
		returns:  make(map[jvmeval.MemberRef]Value),
	}
}

func (s *Summaries) method(ref jvmeval.MemberRef) (decl jvmeval.MemberRef, exact bool) {
	if s.resolver == nil {
		return ref, false
	}
	decl, exact, ok := s.resolver.ResolveMethod(ref)
	if !ok {
		return ref, false
	}
	return decl, exact
}

// field resolves ref and returns the value the field holds before any
// recorded write: its ConstantValue, the JVM default for its type, or an
// unknown value of its type when the declaration is not known.
func (s *Summaries) field(ref jvmeval.MemberRef) (jvmeval.MemberRef, Value, bool) {
	if s.resolver == nil {
		return ref, ValueOfDescriptor(ref.Descriptor), false
	}
	decl, initial, ok := s.resolver.ResolveField(ref)
	if !ok {
		return ref, ValueOfDescriptor(ref.Descriptor), false
	}
	if initial != nil {
		if v, ok := constantValue(*initial); ok && v.kind == kindOfDescriptor(decl.Descriptor) {
			return decl, v, true
		}
		return decl, ValueOfDescriptor(decl.Descriptor), true
	}
	return decl, defaultValue(decl.Descriptor), true
}

// defaultValue is the value a field of type desc holds before its first
// write.
func defaultValue(desc string) Value {
	switch kindOfDescriptor(desc) {
	case KindInteger:
		return ParticularInt(0)
	case KindLong:
		return ParticularLong(0)
	case KindFloat:
		return ParticularFloat(0)
	case KindDouble:
		return ParticularDouble(0)
	case KindReference:
		return NullReference()
	}
	return Top()
}

// Exact reports whether every invocation of ref runs the declaration its
// summary is recorded under. Observed arguments and results of methods
// that are not exact describe only some of their callers and callees.
func (s *Summaries) Exact(ref jvmeval.MemberRef) bool {
	_, exact := s.method(ref)
	return exact
}

// RecordField joins v into the values field ref may hold. The first write
// is joined with the field's initial value.
func (s *Summaries) RecordField(ref jvmeval.MemberRef, v Value) {
	decl, initial, _ := s.field(ref)
	s.mu.Lock()
	defer s.mu.Unlock()
	old, seen := s.fields[decl]
	if !seen {
		old = initial
	}
	s.fields[decl] = s.factory.Generalize(old, v)
}

// RecordArguments joins the arguments of one call of ref.
func (s *Summaries) RecordArguments(ref jvmeval.MemberRef, args []Value) {
	decl, _ := s.method(ref)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[decl]++
	old, seen := s.args[decl]
	if !seen {
		s.args[decl] = append([]Value(nil), args...)
		return
	}
	if len(old) != len(args) {
		for i := range old {
			old[i] = UnknownOf(old[i].kind)
		}
		return
	}
	for i := range old {
		old[i] = s.factory.Generalize(old[i], args[i])
	}
}

// RecordReturn joins v into the values returned by ref.
func (s *Summaries) RecordReturn(ref jvmeval.MemberRef, v Value) {
	decl, _ := s.method(ref)
	s.mu.Lock()
	defer s.mu.Unlock()
	old, seen := s.returns[decl]
	if seen {
		v = s.factory.Generalize(old, v)
	}
	s.returns[decl] = v
}

// Field returns the join of the initial value of ref and all values
// written to it. A field the resolver knows reports its initial value
// when no write was recorded.
func (s *Summaries) Field(ref jvmeval.MemberRef) (Value, bool) {
	decl, initial, known := s.field(ref)
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.fields[decl]; ok {
		return v, true
	}
	return initial, known
}

// Arguments returns a copy of the joined arguments of all calls of ref,
// receiver first for instance methods.
func (s *Summaries) Arguments(ref jvmeval.MemberRef) ([]Value, bool) {
	decl, _ := s.method(ref)
	s.mu.Lock()
	defer s.mu.Unlock()
	args, ok := s.args[decl]
	if !ok {
		return nil, false
	}
	return append([]Value(nil), args...), true
}

// CallSites returns how many call site visits were recorded for ref.
func (s *Summaries) CallSites(ref jvmeval.MemberRef) int {
	decl, _ := s.method(ref)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[decl]
}

// Return returns the join of all values ref returned.
func (s *Summaries) Return(ref jvmeval.MemberRef) (Value, bool) {
	decl, _ := s.method(ref)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.returns[decl]
	return v, ok
}

// Fields returns the declarations of all fields with recorded writes, in
// sorted order.
func (s *Summaries) Fields() []jvmeval.MemberRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedRefs(s.fields)
}

// Methods returns the declarations of all methods with recorded arguments
// or results, in sorted order.
func (s *Summaries) Methods() []jvmeval.MemberRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[jvmeval.MemberRef]Value, len(s.args)+len(s.returns))
	for ref := range s.args {
		set[ref] = Value{}
	}
	for ref := range s.returns {
		set[ref] = Value{}
	}
	return sortedRefs(set)
}

func sortedRefs(m map[jvmeval.MemberRef]Value) []jvmeval.MemberRef {
	out := make([]jvmeval.MemberRef, 0, len(m))
	for ref := range m {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
