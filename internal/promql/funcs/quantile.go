package funcs

import (
	"math"
	"sort"
)

// Quantile computes the phi-quantile of values by linear interpolation, as
// the quantile aggregate operator does (spec.md §4.D.4), returning NaN for
// an out-of-range phi or an
// empty input. It is exported so the evaluator's aggregate path can reuse it
// without duplicating the interpolation logic.
func Quantile(values []float64, phi float64) float64 {
	if len(values) == 0 || phi < 0 || phi > 1 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := phi * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// calculateQuantile is the quantile_over_time variant, which clamps an
// out-of-range phi to [0, 1] rather than returning NaN (spec.md §4.C
// "quantile_over_time").
func calculateQuantile(values []float64, phi float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	if phi < 0 {
		phi = 0
	}
	if phi > 1 {
		phi = 1
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if phi == 0 {
		return sorted[0]
	}
	if phi == 1 {
		return sorted[len(sorted)-1]
	}
	pos := phi * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}
