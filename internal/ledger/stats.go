package ledger

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// dwellStats returns the mean and median of the dwell minutes. xs is sorted in
// place.
func dwellStats(xs []float64) (mean, median float64) {
	sort.Float64s(xs)
	return stat.Mean(xs, nil), stat.Quantile(0.5, stat.Empirical, xs, nil)
}
