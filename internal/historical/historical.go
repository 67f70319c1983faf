// Package historical provides an append-only, time-indexed value store used to
// look up an agent's state as it was some time ago (perception delay).
//
// Values must be appended in chronological order. Reads may run concurrently
// with each other but not with Set or Cleanup; the engine guarantees this by
// only appending during its serial commit phase.
package historical

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNoData is returned when a value is requested for a time before the
	// first recorded value. Callers typically fall back to an agent-local
	// default, but must be able to tell this apart from a recorded zero.
	ErrNoData = errors.New("no value recorded at or before requested time")

	// ErrOutOfOrder is returned when Set is called with a time earlier than the
	// latest recorded time.
	ErrOutOfOrder = errors.New("value set out of chronological order")
)

// Clock supplies the current simulation time in seconds.
type Clock interface {
	Now() float64
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() float64

func (f ClockFunc) Now() float64 { return f() }

type entry[T any] struct {
	t float64
	v T
}

// Historical stores values of type T keyed by simulation time.
type Historical[T any] struct {
	clock   Clock
	entries []entry[T]
}

// New creates an empty store reading the current time from clock.
func New[T any](clock Clock) *Historical[T] {
	return &Historical[T]{clock: clock}
}

// Set records v as effective from time t onwards. Setting a value at the same
// time as the latest entry replaces it.
func (h *Historical[T]) Set(t float64, v T) error {
	if n := len(h.entries); n > 0 {
		last := h.entries[n-1].t
		switch {
		case t < last:
			return fmt.Errorf("set at t=%.3f after t=%.3f: %w", t, last, ErrOutOfOrder)
		case t == last:
			h.entries[n-1].v = v
			return nil
		}
	}
	h.entries = append(h.entries, entry[T]{t: t, v: v})
	return nil
}

// Get returns the value effective at the clock's current time.
func (h *Historical[T]) Get() (T, error) {
	return h.GetAt(h.clock.Now())
}

// GetAt returns the value effective at or before time t.
func (h *Historical[T]) GetAt(t float64) (T, error) {
	// index of the first entry strictly after t
	i := sort.Search(len(h.entries), func(i int) bool { return h.entries[i].t > t })
	if i == 0 {
		var zero T
		return zero, fmt.Errorf("t=%.3f: %w", t, ErrNoData)
	}
	return h.entries[i-1].v, nil
}

// Cleanup drops entries that can no longer answer a query for any time at or
// after t. The entry effective at t is kept.
func (h *Historical[T]) Cleanup(t float64) {
	i := sort.Search(len(h.entries), func(i int) bool { return h.entries[i].t > t })
	if i <= 1 {
		return
	}
	h.entries = append(h.entries[:0], h.entries[i-1:]...)
}

// Len returns the number of retained entries.
func (h *Historical[T]) Len() int { return len(h.entries) }
