package backend

import (
	"cmp"
	"slices"
)

// sortedKeys returns the keys of m in ascending order
func sortedKeys[M ~map[K]V, K cmp.Ordered, V any](m M) []K {
	var keys []K
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
