package perception

import (
	"iter"
	"math"
	"sort"
)

// Cursor yields the next headway in near-to-far order, or false when the
// sequence is exhausted. A cursor computes each headway only when asked.
type Cursor func() (Headway, bool)

// Iterable is a lazy, restartable, near-to-far sequence of headways. Every
// call to All, First or IsEmpty starts a fresh traversal, so an Iterable built
// for one step can be consumed by several incentives without interference.
//
// The zero value is an empty Iterable.
type Iterable struct {
	open     func() Cursor
	maxRange float64
}

// Empty is the Iterable with no objects.
var Empty = Iterable{}

// New returns an Iterable over the cursors produced by open, truncated to
// objects within maxRange metres (absolute distance). The cursor must yield
// headways in strictly increasing absolute distance.
func New(open func() Cursor, maxRange float64) Iterable {
	if open == nil {
		return Empty
	}
	if maxRange <= 0 {
		maxRange = math.Inf(1)
	}
	return Iterable{open: open, maxRange: maxRange}
}

// All returns the headways as a sequence. Stopping the range loop early stops
// the underlying traversal.
func (it Iterable) All() iter.Seq[Headway] {
	return func(yield func(Headway) bool) {
		if it.open == nil {
			return
		}
		next := it.open()
		for {
			h, ok := next()
			if !ok || h.Gap() > it.maxRange {
				return
			}
			if !yield(h) {
				return
			}
		}
	}
}

// First returns the nearest headway, or None if there is no object in range.
func (it Iterable) First() Headway {
	if it.open == nil {
		return None
	}
	for h := range it.All() {
		return h
	}
	return None
}

// IsEmpty reports whether no object is perceivable within range.
func (it Iterable) IsEmpty() bool {
	return !it.First().Exists()
}

// Within returns a view of it limited to maxRange metres.
func (it Iterable) Within(maxRange float64) Iterable {
	if it.open == nil || maxRange >= it.maxRange {
		return it
	}
	return Iterable{open: it.open, maxRange: maxRange}
}

// FromSlice returns an Iterable over fixed headways, sorted near to far, for
// observations that are materialised up front.
func FromSlice(hs ...Headway) Iterable {
	if len(hs) == 0 {
		return Empty
	}
	sorted := make([]Headway, len(hs))
	copy(sorted, hs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Gap() < sorted[j].Gap() })
	return New(func() Cursor {
		i := 0
		return func() (Headway, bool) {
			if i >= len(sorted) {
				return Headway{}, false
			}
			h := sorted[i]
			i++
			return h, true
		}
	}, 0)
}
