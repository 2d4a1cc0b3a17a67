// Package emit implements the pass-1 finalization step: map each tile's raw
// per-cell counts to a bounded "density level", render the result as a
// bitmap or vector tile, and hand the bytes to a sink. Grounded on the
// original tool's make_tile().
package emit

import "math"

// Root computes the original tool's root(): the inverse of raising to
// count_gamma, with the zero case special-cased. Used to bring a
// gamma-scaled count back into a roughly linear level range, so the
// visual density ramps smoothly instead of saturating on the largest
// outlier cells.
func Root(val, gamma float64) float64 {
	if val == 0 {
		return 0
	}
	return math.Exp(math.Log(val) / gamma)
}

// MapLevel scales a raw cell count into [0, levels-1], given the zoom's
// normalization constant zoomMax. Preserves the original formula exactly:
// root(levels^gamma * count / zoomMax), clamped at the top.
func MapLevel(count uint64, levels int, gamma float64, zoomMax uint64) int {
	if zoomMax == 0 {
		zoomMax = 1
	}
	scaled := math.Pow(float64(levels), gamma) * float64(count) / float64(zoomMax)
	lv := int(Root(scaled, gamma))
	if lv > levels-1 {
		lv = levels - 1
	}
	if lv < 0 {
		lv = 0
	}
	return lv
}
