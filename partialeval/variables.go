package partialeval

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Variables is the local variable array at one program point. Longs and
// doubles occupy two consecutive slots; the upper slot holds a placeholder
// that reads as Top.
//
// Variables handed out by a Table are read-only.
type Variables struct {
	entries []entry
	traced  bool
}

// NewVariables returns size slots, all Top.
func NewVariables(size int) *Variables {
	return &Variables{entries: make([]entry, size)}
}

// NewTracedVariables returns size slots that also record, per slot, the
// offsets of the instructions that stored the current value.
func NewTracedVariables(size int) *Variables {
	v := &Variables{entries: make([]entry, size), traced: true}
	for i := range v.entries {
		v.entries[i].producers = noProducers
	}
	return v
}

// Size returns the number of slots.
func (v *Variables) Size() int { return len(v.entries) }

// Traced reports whether provenance is recorded.
func (v *Variables) Traced() bool { return v.traced }

// Value returns the value in slot index. The upper half of a long or
// double and out-of-range slots read as Top.
func (v *Variables) Value(index int) Value {
	if index < 0 || index >= len(v.entries) || v.entries[index].value.isSecondHalf() {
		return Top()
	}
	return v.entries[index].value
}

// Producers returns the sorted offsets of the stores that may have produced
// the value in slot index. It is empty for parameters and slots never
// written, and nil when tracing is off.
func (v *Variables) Producers(index int) []int {
	if index < 0 || index >= len(v.entries) {
		return nil
	}
	return sortedProducers(v.entries[index].producers)
}

// Clone returns an independent copy.
func (v *Variables) Clone() *Variables {
	out := &Variables{entries: make([]entry, len(v.entries)), traced: v.traced}
	copy(out.entries, v.entries)
	return out
}

// Equal reports whether both arrays hold the same values and producers.
func (v *Variables) Equal(o *Variables) bool {
	if len(v.entries) != len(o.entries) {
		return false
	}
	for i := range v.entries {
		if v.entries[i].value != o.entries[i].value ||
			!sameProducers(v.entries[i].producers, o.entries[i].producers) {
			return false
		}
	}
	return true
}

func (v *Variables) String() string {
	parts := make([]string, len(v.entries))
	for i, e := range v.entries {
		parts[i] = e.value.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (v *Variables) checkIndex(index, category int) {
	if index < 0 || index+category > len(v.entries) {
		raise(ErrInvalidVariable,
			fmt.Sprintf("slot < %d", len(v.entries)),
			fmt.Sprintf("slot %d", index+category-1))
	}
}

// load reads slot index, which must hold a value of kind.
func (v *Variables) load(index int, kind Kind) entry {
	v.checkIndex(index, kind.Category())
	e := v.entries[index]
	if e.value.kind != kind || (kind.Category() == 2 && !v.entries[index+1].value.isSecondHalf()) {
		raise(ErrTypeMismatch, kind.String()+" in local "+fmt.Sprint(index), v.Value(index).String())
	}
	return e
}

// store writes val into slot index, invalidating any long or double it
// partially overwrites.
func (v *Variables) store(index int, val Value, producers mapset.Set[int]) {
	cat := val.Category()
	v.checkIndex(index, cat)
	if v.entries[index].value.isSecondHalf() && index > 0 {
		v.entries[index-1].value = Top()
	}
	last := index + cat - 1
	if last+1 < len(v.entries) && v.entries[last+1].value.isSecondHalf() {
		v.entries[last+1].value = Top()
	}
	v.entries[index] = entry{value: val, producers: producers}
	if cat == 2 {
		v.entries[index+1] = entry{value: secondHalf(), producers: producers}
	}
}

// generalize joins o into v and reports whether v changed.
func (v *Variables) generalize(o *Variables, f *ValueFactory) bool {
	changed := false
	for i := range v.entries {
		a, b := v.entries[i], o.entries[i]
		joined := f.Generalize(a.value, b.value)
		producers := unionProducers(a.producers, b.producers)
		if joined != a.value || !sameProducers(producers, a.producers) {
			v.entries[i] = entry{value: joined, producers: producers}
			changed = true
		}
	}
	// A long whose upper half was lost on one path is no longer readable.
	for i := 0; i+1 < len(v.entries); i++ {
		if v.entries[i].value.Category() == 2 && !v.entries[i+1].value.isSecondHalf() {
			v.entries[i].value = Top()
			changed = true
		}
	}
	return changed
}

// widen drops particular payloads and reports whether anything changed.
func (v *Variables) widen() bool {
	changed := false
	for i, e := range v.entries {
		if w := e.value.Generalized(); w != e.value {
			v.entries[i].value = w
			changed = true
		}
	}
	return changed
}

// forget sets every slot to the unknown value of its kind.
func (v *Variables) forget() {
	for i, e := range v.entries {
		if !e.value.isSecondHalf() {
			v.entries[i].value = UnknownOf(e.value.kind)
		}
	}
}
