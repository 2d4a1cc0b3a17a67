package normalize

import "math"

// Regress fits count = exp(m*z + b) to the per-zoom observed maxima by
// ordinary least squares on (z, log(max[z])) and returns the fitted curve,
// floored at 1. The pipeline reports this as a diagnostic; it never
// overwrites ZoomMax's output, matching the original tool's behavior where
// the smoothed values were printed but the quantile-derived zoom_max was
// what tiling actually used.
func Regress(max []uint64) []uint64 {
	n := float64(len(max))
	if n == 0 {
		return nil
	}

	var sumX, sumY, sumX2, sumXY float64
	for i, v := range max {
		x := float64(i)
		y := math.Log(float64(v))
		if v == 0 {
			y = 0
		}
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	denom := n*sumX2 - sumX*sumX
	var m, b float64
	if denom != 0 {
		m = (n*sumXY - sumX*sumY) / denom
		b = (sumY*sumX2 - sumX*sumXY) / denom
	}

	out := make([]uint64, len(max))
	for i := range max {
		v := math.Exp(m*float64(i) + b)
		if v < 1 {
			v = 1
		}
		out[i] = uint64(v)
	}
	return out
}
