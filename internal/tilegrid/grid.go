// Package tilegrid holds the dense per-zoom counter grid that shard workers
// accumulate counts into before a tile is finalized (fully owned or handed
// off as partial for cross-shard reconciliation).
package tilegrid

// Grid is a single tile's D×D accumulator, where D = 2^detail. Active
// distinguishes "never written this pass" from "currently accumulating",
// since a shard's per-zoom slot is reused across many (x, y) as the scan
// proceeds.
type Grid struct {
	Z, X, Y int
	Dim     int // side length in cells (2^detail)
	Cells   []uint64
	Active  bool
}

// New allocates a zeroed grid of side 2^detail for the given zoom.
func New(detail, z int) Grid {
	dim := 1 << uint(detail)
	return Grid{
		Z:     z,
		Dim:   dim,
		Cells: make([]uint64, dim*dim),
	}
}

// Reset clears all cells, re-targets the grid at (z, x, y), and marks it
// active. The backing slice is reused to avoid per-tile allocation on the
// hot path.
func (g *Grid) Reset(z, x, y int) {
	for i := range g.Cells {
		g.Cells[i] = 0
	}
	g.Z, g.X, g.Y = z, x, y
	g.Active = true
}

// Add accumulates count into the cell at (px, py).
func (g *Grid) Add(px, py int, count uint64) {
	g.Cells[py*g.Dim+px] += count
}

// Max returns the largest single cell value in the grid.
func (g *Grid) Max() uint64 {
	var max uint64
	for _, c := range g.Cells {
		if c > max {
			max = c
		}
	}
	return max
}

// MergeInto adds src's cells elementwise into dst. Both grids must share
// the same dimensions.
func MergeInto(dst *Grid, src Grid) {
	for i, c := range src.Cells {
		dst.Cells[i] += c
	}
}

// Clone returns a deep copy, used when a shard hands a still-accumulating
// tile off to the reconciler (the shard's own slot is then reset and
// reused for the next tile).
func (g Grid) Clone() Grid {
	cells := make([]uint64, len(g.Cells))
	copy(cells, g.Cells)
	return Grid{Z: g.Z, X: g.X, Y: g.Y, Dim: g.Dim, Cells: cells, Active: g.Active}
}
