// Package normalize implements the barrier between the pipeline's two
// passes: merging every shard's per-zoom quantile sketch into one sketch
// per zoom, deriving the per-zoom normalization constant the emit pass
// scales counts by, and the log-linear smoothing diagnostic the original
// tool printed but never fed back into tiling. Grounded on the end-of-pass-0
// block in the original tool's main() and its regress() function.
package normalize

import (
	"github.com/cuulee/tilecount/internal/kll"
)

// Config parameterizes normalization. Percentile is a documented-but-unused
// hook: the original tool flagged "maybe should be ~99.9th percentile
// instead of 100th/2" as an open question and never changed the behavior,
// so ZoomMax always uses the CDF's top value, not this field. It is kept so
// a future caller can wire a real percentile cutoff without changing this
// package's signature.
type Config struct {
	Percentile float64
}

// MergeSketches combines each zoom's sketches across all shards into one
// merged sketch per zoom.
func MergeSketches(perShard [][]*kll.Sketch, zooms int, k int, c float64) []*kll.Sketch {
	merged := make([]*kll.Sketch, zooms)
	for z := 0; z < zooms; z++ {
		merged[z] = kll.New(k, c)
		for _, shardSketches := range perShard {
			if z < len(shardSketches) && shardSketches[z] != nil {
				merged[z].Merge(shardSketches[z])
			}
		}
	}
	return merged
}

// MergeMax takes the elementwise maximum of each shard's per-zoom observed
// maximum.
func MergeMax(perShard [][]uint64, zooms int) []uint64 {
	max := make([]uint64, zooms)
	for _, shardMax := range perShard {
		for z := 0; z < zooms && z < len(shardMax); z++ {
			if shardMax[z] > max[z] {
				max[z] = shardMax[z]
			}
		}
	}
	return max
}

// ZoomMax derives the per-zoom normalization constant that the emit pass
// divides raw cell counts by. It is half the top of the merged CDF,
// preserved as-is (see Config's doc comment), floored at 1; an empty
// sketch also yields 1.
func ZoomMax(merged []*kll.Sketch, _ Config) []uint64 {
	out := make([]uint64, len(merged))
	for z, s := range merged {
		cdf := s.CDF()
		if len(cdf) == 0 {
			out[z] = 1
			continue
		}
		top := cdf[len(cdf)-1].Value
		out[z] = top / 2
		if out[z] == 0 {
			out[z] = 1
		}
	}
	return out
}

