package internal

import (
	"cmp"
	"slices"
)

// Set is an unordered collection of unique items. It is not safe for
// concurrent use.
type Set[T comparable] struct {
	items map[T]struct{}
}

func NewSet[T comparable](items ...T) *Set[T] {
	s := &Set[T]{items: make(map[T]struct{}, len(items))}
	for _, item := range items {
		s.items[item] = struct{}{}
	}
	return s
}

// Add inserts item and reports whether it was not already present.
func (s *Set[T]) Add(item T) bool {
	if _, ok := s.items[item]; ok {
		return false
	}
	s.items[item] = struct{}{}
	return true
}

func (s *Set[T]) Remove(item T) {
	delete(s.items, item)
}

func (s *Set[T]) Contains(item T) bool {
	_, ok := s.items[item]
	return ok
}

func (s *Set[T]) Size() int {
	return len(s.items)
}

// SortedItems returns the items of s in ascending order. A nil set
// yields an empty slice.
func SortedItems[T cmp.Ordered](s *Set[T]) []T {
	if s == nil {
		return []T{}
	}
	out := make([]T, 0, len(s.items))
	for item := range s.items {
		out = append(out, item)
	}
	slices.Sort(out)
	return out
}

// sortedKeys returns the keys of m in lexical order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
