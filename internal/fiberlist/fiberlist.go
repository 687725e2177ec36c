// Package fiberlist implements the bounded, ordered fiber-index container
// used to express read, move, input, and output sets (spec.md §2/§3).
package fiberlist

import "fmt"

// List is a bounded ordered sequence of fiber indices, capacity N, no
// duplicates in normal use, order significant: List.At(i) and a paired
// List's At(i) describe one move/read pairing for the alignment loop.
type List struct {
	capacity int
	fibers   []int
}

// New creates an empty list with the given capacity.
func New(capacity int) *List {
	return &List{capacity: capacity, fibers: make([]int, 0, capacity)}
}

// Append adds a fiber index, returning an error if it is out of [0,capacity)
// or the list is already full.
func (l *List) Append(fiber int) error {
	if fiber < 0 || fiber >= l.capacity {
		return fmt.Errorf("fiberlist: fiber %d out of range [0,%d)", fiber, l.capacity)
	}
	if len(l.fibers) >= l.capacity {
		return fmt.Errorf("fiberlist: list full (capacity %d)", l.capacity)
	}
	l.fibers = append(l.fibers, fiber)
	return nil
}

// Len returns the number of fibers currently in the list.
func (l *List) Len() int { return len(l.fibers) }

// At returns the fiber index at position i.
func (l *List) At(i int) int { return l.fibers[i] }

// Contains reports whether fiber is a member of the list.
func (l *List) Contains(fiber int) bool {
	for _, f := range l.fibers {
		if f == fiber {
			return true
		}
	}
	return false
}

// Slice returns a copy of the list's contents, in order.
func (l *List) Slice() []int {
	out := make([]int, len(l.fibers))
	copy(out, l.fibers)
	return out
}

// Copy returns a deep copy of l.
func (l *List) Copy() *List {
	out := &List{capacity: l.capacity, fibers: make([]int, len(l.fibers))}
	copy(out.fibers, l.fibers)
	return out
}

// Equal reports whether l and other contain the same fibers in the same
// order — used by the alignment loop to test "move_list == input_list".
func (l *List) Equal(other *List) bool {
	if other == nil || len(l.fibers) != len(other.fibers) {
		return false
	}
	for i, f := range l.fibers {
		if other.fibers[i] != f {
			return false
		}
	}
	return true
}

// FromSlice builds a List from an explicit, pre-validated slice.
func FromSlice(capacity int, fibers []int) (*List, error) {
	l := New(capacity)
	for _, f := range fibers {
		if err := l.Append(f); err != nil {
			return nil, err
		}
	}
	return l, nil
}
