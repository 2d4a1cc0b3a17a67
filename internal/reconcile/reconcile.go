// Package reconcile merges the partial tiles handed back by every shard
// worker into complete tiles, keyed by (z, x, y). A tile comes back partial
// when its Morton range crosses a shard boundary; once every shard's
// contribution to that tile is summed, the tile is complete and can be fed
// into the same quantile-gathering or emission step a fully-owned tile
// would have taken. Grounded on the original tool's main()-level
// std::map<vector<unsigned>, tile> partials consolidation.
package reconcile

import "github.com/cuulee/tilecount/internal/tilegrid"

type key struct {
	z, x, y int
}

// Map accumulates partial tiles by (z, x, y) until the caller is ready to
// finalize them.
type Map struct {
	tiles map[key]tilegrid.Grid
}

// New returns an empty reconciliation map.
func New() *Map {
	return &Map{tiles: make(map[key]tilegrid.Grid)}
}

// Add folds one shard's contribution to a partial tile into the map,
// summing cell counts if the tile already has contributions from another
// shard.
func (m *Map) Add(z, x, y int, g tilegrid.Grid) {
	k := key{z, x, y}
	if existing, ok := m.tiles[k]; ok {
		tilegrid.MergeInto(&existing, g)
		m.tiles[k] = existing
		return
	}
	m.tiles[k] = g.Clone()
}

// Entry pairs a reconciled tile with its coordinates, for Each's callback.
type Entry struct {
	Z, X, Y int
	Grid    tilegrid.Grid
}

// Each calls fn once per reconciled tile. Order is unspecified.
func (m *Map) Each(fn func(Entry) error) error {
	for k, g := range m.tiles {
		if err := fn(Entry{Z: k.z, X: k.x, Y: k.y, Grid: g}); err != nil {
			return err
		}
	}
	return nil
}

// Len reports how many distinct tiles have been reconciled.
func (m *Map) Len() int {
	return len(m.tiles)
}
