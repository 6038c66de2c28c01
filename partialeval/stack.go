package partialeval

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Stack is the operand stack at one program point. A long or double takes
// two cells: a placeholder below the value itself.
//
// Stacks handed out by a Table are read-only.
type Stack struct {
	entries []entry
	maxSize int
	traced  bool
}

// NewStack returns an empty stack holding at most maxSize cells.
func NewStack(maxSize int) *Stack {
	return &Stack{entries: make([]entry, 0, maxSize), maxSize: maxSize}
}

// NewTracedStack returns an empty stack that also records, per cell, the
// offsets of the instructions that pushed the current value.
func NewTracedStack(maxSize int) *Stack {
	s := NewStack(maxSize)
	s.traced = true
	return s
}

// Depth returns the number of occupied cells.
func (s *Stack) Depth() int { return len(s.entries) }

// MaxSize returns the declared capacity in cells.
func (s *Stack) MaxSize() int { return s.maxSize }

// Traced reports whether provenance is recorded.
func (s *Stack) Traced() bool { return s.traced }

// Top returns the value in cell index counted from the top (0 is the top).
// Placeholders and missing cells read as Top.
func (s *Stack) Top(index int) Value {
	i := len(s.entries) - 1 - index
	if i < 0 || i >= len(s.entries) || s.entries[i].value.isSecondHalf() {
		return Top()
	}
	return s.entries[i].value
}

// Producers returns the sorted offsets of the instructions that may have
// pushed cell index counted from the top.
func (s *Stack) Producers(index int) []int {
	i := len(s.entries) - 1 - index
	if i < 0 || i >= len(s.entries) {
		return nil
	}
	return sortedProducers(s.entries[i].producers)
}

// Values returns the values bottom to top, one per value rather than per
// cell.
func (s *Stack) Values() []Value {
	out := make([]Value, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.value.isSecondHalf() {
			out = append(out, e.value)
		}
	}
	return out
}

// Clone returns an independent copy.
func (s *Stack) Clone() *Stack {
	out := &Stack{entries: make([]entry, len(s.entries), s.maxSize), maxSize: s.maxSize, traced: s.traced}
	copy(out.entries, s.entries)
	return out
}

// Equal reports whether both stacks hold the same values and producers.
func (s *Stack) Equal(o *Stack) bool {
	if len(s.entries) != len(o.entries) {
		return false
	}
	for i := range s.entries {
		if s.entries[i].value != o.entries[i].value ||
			!sameProducers(s.entries[i].producers, o.entries[i].producers) {
			return false
		}
	}
	return true
}

func (s *Stack) String() string {
	values := s.Values()
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (s *Stack) push(v Value, producers mapset.Set[int]) {
	cat := v.Category()
	if len(s.entries)+cat > s.maxSize {
		raise(ErrStackOverflow,
			fmt.Sprintf("depth <= %d", s.maxSize),
			fmt.Sprintf("depth %d", len(s.entries)+cat))
	}
	if cat == 2 {
		s.entries = append(s.entries, entry{value: secondHalf(), producers: producers})
	}
	s.entries = append(s.entries, entry{value: v, producers: producers})
}

func (s *Stack) pushEntry(e entry) {
	if len(s.entries)+1 > s.maxSize {
		raise(ErrStackOverflow,
			fmt.Sprintf("depth <= %d", s.maxSize),
			fmt.Sprintf("depth %d", len(s.entries)+1))
	}
	s.entries = append(s.entries, e)
}

// pop removes a value of kind.
func (s *Stack) pop(kind Kind) Value {
	return s.popEntry(kind, false).value
}

// popEntry is pop keeping producers. allowRet lets astore take a return
// address where a reference is expected.
func (s *Stack) popEntry(kind Kind, allowRet bool) entry {
	if len(s.entries) == 0 {
		raise(ErrStackUnderflow, kind.String(), "empty stack")
	}
	e := s.entries[len(s.entries)-1]
	ok := e.value.kind == kind || (allowRet && e.value.kind == KindReturnAddress)
	if !ok {
		raise(ErrTypeMismatch, kind.String(), e.value.String())
	}
	s.entries = s.entries[:len(s.entries)-1]
	if kind.Category() == 2 {
		if len(s.entries) == 0 || !s.entries[len(s.entries)-1].value.isSecondHalf() {
			raise(ErrInconsistentStack, kind.String()+" in two cells", "one cell")
		}
		s.entries = s.entries[:len(s.entries)-1]
	}
	return e
}

// words removes the top n cells for a stack manipulation instruction and
// returns them bottom to top. boundaries lists cell counts, from the top,
// at which a long or double must not be split.
func (s *Stack) words(n int, boundaries ...int) []entry {
	if len(s.entries) < n {
		raise(ErrStackUnderflow, fmt.Sprintf("%d cells", n), fmt.Sprintf("%d cells", len(s.entries)))
	}
	for _, b := range boundaries {
		if b <= 0 || b > len(s.entries) {
			continue
		}
		// The cell just inside the boundary must not be a value whose
		// placeholder lies outside it.
		if s.entries[len(s.entries)-b].value.Category() == 2 {
			raise(ErrTypeMismatch, "category 1 values", s.entries[len(s.entries)-b].value.String())
		}
	}
	top := s.entries[len(s.entries)-1].value
	if top.isSecondHalf() {
		raise(ErrInconsistentStack, "value", "placeholder")
	}
	out := make([]entry, n)
	copy(out, s.entries[len(s.entries)-n:])
	s.entries = s.entries[:len(s.entries)-n]
	return out
}

func (s *Stack) pushWords(es ...entry) {
	for _, e := range es {
		s.pushEntry(e)
	}
}

// generalize joins o into s and reports whether s changed.
func (s *Stack) generalize(o *Stack, f *ValueFactory) bool {
	if len(s.entries) != len(o.entries) {
		raise(ErrInconsistentStack,
			fmt.Sprintf("depth %d", len(s.entries)),
			fmt.Sprintf("depth %d", len(o.entries)))
	}
	changed := false
	for i := range s.entries {
		a, b := s.entries[i], o.entries[i]
		joined := f.Generalize(a.value, b.value)
		if joined.IsTop() && !a.value.IsTop() {
			raise(ErrInconsistentStack, a.value.String(), b.value.String())
		}
		producers := unionProducers(a.producers, b.producers)
		if joined != a.value || !sameProducers(producers, a.producers) {
			s.entries[i] = entry{value: joined, producers: producers}
			changed = true
		}
	}
	return changed
}

func (s *Stack) widen() bool {
	changed := false
	for i, e := range s.entries {
		if w := e.value.Generalized(); w != e.value {
			s.entries[i].value = w
			changed = true
		}
	}
	return changed
}

func (s *Stack) forget() {
	for i, e := range s.entries {
		if !e.value.isSecondHalf() {
			s.entries[i].value = UnknownOf(e.value.kind)
		}
	}
}

func (s *Stack) clear() { s.entries = s.entries[:0] }
