package util

import "sort"

type ordered interface {
	~int | ~string
}

// SortedKeys returns the keys of a map in ascending order
func SortedKeys[K ordered, V any](val map[K]V) []K {
	out := make([]K, 0, len(val))
	for k := range val {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i] < out[j]
	})
	return out
}
