package vectortile

// Extent is the MVT tile's internal coordinate extent (the number of
// integer units spanning one tile edge), matching the typical 4096 used by
// Mapbox-style renderers.
const Extent = 4096

// LayerName is the single layer emitted by each vector tile.
const LayerName = "count"

// TagKey is the single feature tag key emitted by each vector tile.
const TagKey = "density"

// BuildLayer groups a dim x dim grid of mapped density levels into one
// feature per distinct nonzero level, each feature a multi-ring polygon of
// one unit square per cell. If merge is true, adjacent same-level cells are
// fused into larger rings first (see MergeSquares); this mirrors the
// disabled ring-merge path in the original tool and is off by default
// because it trades CPU for smaller tiles.
func BuildLayer(levels []int, dim int, merge bool) *layerBuilder {
	l := newLayerBuilder(LayerName, Extent)
	cell := Extent / uint32(dim)

	byLevel := make(map[int][][2]int)
	for py := 0; py < dim; py++ {
		for px := 0; px < dim; px++ {
			lv := levels[py*dim+px]
			if lv <= 0 {
				continue
			}
			byLevel[lv] = append(byLevel[lv], [2]int{px, py})
		}
	}

	for lv, cells := range byLevel {
		var cellRings [][][2]int
		if merge {
			cellRings = MergeSquares(cells)
		} else {
			for _, c := range cells {
				cellRings = append(cellRings, unitSquareRing(c[0], c[1]))
			}
		}
		rings := make([][][2]int32, 0, len(cellRings))
		for _, ring := range cellRings {
			scaled := make([][2]int32, len(ring))
			for i, pt := range ring {
				scaled[i] = [2]int32{int32(pt[0]) * int32(cell), int32(pt[1]) * int32(cell)}
			}
			rings = append(rings, scaled)
		}
		if len(rings) > 0 {
			l.addSquaresFeature(TagKey, uint64(lv), rings)
		}
	}

	return l
}

func unitSquareRing(px, py int) [][2]int {
	return [][2]int{
		{px, py},
		{px + 1, py},
		{px + 1, py + 1},
		{px, py + 1},
	}
}
