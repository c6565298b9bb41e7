package stats

import (
	"math"
	"sort"
)

// Percentiles calculates multiple percentiles (0-100) at once, sorting only once
func Percentiles(values []float64, ps []float64) []float64 {
	if len(values) == 0 {
		return make([]float64, len(ps))
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	results := make([]float64, len(ps))
	n := float64(len(sorted))
	for i, p := range ps {
		index := Clamp(p, 0, 100) / 100.0 * (n - 1)
		lower := int(math.Floor(index))
		upper := int(math.Ceil(index))

		if lower == upper {
			results[i] = sorted[lower]
		} else {
			// Linear interpolation
			weight := index - float64(lower)
			results[i] = sorted[lower]*(1-weight) + sorted[upper]*weight
		}
	}

	return results
}

// Spread summarises a sample for reporting.
type Spread struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	P10   float64 `json:"p10"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
}

// SpreadOf returns count, mean and the 10th/50th/90th percentiles of values.
func SpreadOf(values []float64) Spread {
	ps := Percentiles(values, []float64{10, 50, 90})
	return Spread{Count: len(values), Mean: Mean(values), P10: ps[0], P50: ps[1], P90: ps[2]}
}
