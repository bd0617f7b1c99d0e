package datatools

import (
	"sort"
)

// computeMedian sorts the values in place. Even-sized sets yield the
// average of the two middle values.
func computeMedian(l []float64) float64 {
	sort.Float64s(l)
	mid := len(l) / 2
	if len(l)%2 == 0 {
		return (l[mid-1] + l[mid]) / 2
	}
	return l[mid]
}
