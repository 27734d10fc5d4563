package dataset

import "github.com/maruel/natural"

// NaturalCompare orders strings with embedded numbers numerically, so "tile_2" sorts
// before "tile_10". Equal numbers with fewer leading zeros sort first.
func NaturalCompare(a, b string) int {
	switch {
	case natural.Less(a, b):
		return -1
	case natural.Less(b, a):
		return 1
	}
	return 0
}
