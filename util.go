package jsoncrdt

import (
	"reflect"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

func sortedKeys[T any](m map[string]T) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

// structural equality of two native views.
// numbers keep their decoded type, so 1 and 1.0 are different values
func viewEqual(a any, b any) bool {
	return reflect.DeepEqual(a, b)
}
