package partialeval

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// entry is one variable slot or stack cell. producers is nil when tracing
// is off. Producer sets are never mutated after creation, so entries can
// be copied freely between states.
type entry struct {
	value     Value
	producers mapset.Set[int]
}

var noProducers = mapset.NewThreadUnsafeSet[int]()

func producedBy(offset int) mapset.Set[int] {
	return mapset.NewThreadUnsafeSet[int](offset)
}

func unionProducers(a, b mapset.Set[int]) mapset.Set[int] {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.IsSubset(a):
		return a
	case a.IsSubset(b):
		return b
	}
	return a.Union(b)
}

func sameProducers(a, b mapset.Set[int]) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(b)
}

func sortedProducers(s mapset.Set[int]) []int {
	if s == nil {
		return nil
	}
	out := s.ToSlice()
	sort.Ints(out)
	return out
}

// tracer hands out producer sets, or nil when provenance is not tracked.
type tracer bool

func (t tracer) at(offset int) mapset.Set[int] {
	if !t {
		return nil
	}
	return producedBy(offset)
}

func (t tracer) none() mapset.Set[int] {
	if !t {
		return nil
	}
	return noProducers
}
