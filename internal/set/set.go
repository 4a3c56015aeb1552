// Package set provides a set of ordered values whose contents are always listed in sorted order.
package set

import (
	"cmp"
	"slices"
)

type Set[T cmp.Ordered] struct {
	values map[T]struct{}
}

func NewSet[T cmp.Ordered](vals ...T) *Set[T] {
	s := &Set[T]{values: make(map[T]struct{}, len(vals))}
	s.Add(vals...)
	return s
}

func (s *Set[T]) Add(vals ...T) {
	for _, val := range vals {
		s.values[val] = struct{}{}
	}
}

func (s *Set[T]) Has(val T) bool {
	_, ok := s.values[val]
	return ok
}

func (s *Set[T]) Len() int {
	return len(s.values)
}

// Values returns the values in ascending order
func (s *Set[T]) Values() []T {
	values := make([]T, 0, len(s.values))
	for val := range s.values {
		values = append(values, val)
	}
	slices.Sort(values)
	return values
}

// Missing returns the vals that are not in the set, in the order given
func (s *Set[T]) Missing(vals []T) []T {
	var missing []T
	for _, val := range vals {
		if !s.Has(val) {
			missing = append(missing, val)
		}
	}
	return missing
}
