// Package shard implements the per-worker record scan that is the core of
// both pipeline passes: walk a contiguous slice of a sorted record file,
// accumulate per-zoom tile grids, and either feed a quantile sketch (pass
// 0) or emit finished tiles (pass 1). Grounded on the original tool's
// run_tile(), generalized from a single pthread body into a Worker whose
// Run method a goroutine pool can fan out over, in the shape of the
// teacher repo's internal/tile/generator.go worker pool.
package shard

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/cuulee/tilecount/internal/coord"
	"github.com/cuulee/tilecount/internal/kll"
	"github.com/cuulee/tilecount/internal/record"
	"github.com/cuulee/tilecount/internal/tilegrid"
)

// Emitter accepts a fully owned, finished tile during pass 1. Implementations
// apply the level mapping and write the result to a sink.
type Emitter interface {
	Emit(z, x, y int, g tilegrid.Grid) error
}

// ProgressReporter receives percent-complete updates from a shard as it
// scans its slice of the record file.
type ProgressReporter interface {
	Report(shardID, percent int)
}

// Config parameterizes a shard scan. On pass 1, Emitter carries whatever
// per-zoom normalization constants it needs; the worker itself is agnostic
// to them.
type Config struct {
	Detail int
	Zooms  int
	Pass   int
	K      int     // KLL sketch width, pass 0 only
	C      float64 // KLL compaction ratio, pass 0 only
}

// PartialTile is a tile whose Morton range is not fully contained within a
// single shard's record slice; ownership must be reconciled across shards
// before it can be finalized.
type PartialTile struct {
	Z, X, Y int
	Grid    tilegrid.Grid
}

// Result is everything one shard's scan contributes to the pipeline.
type Result struct {
	Partials   []PartialTile
	Sketches   []*kll.Sketch // len == Config.Zooms, pass 0 only
	Max        []uint64      // len == Config.Zooms, pass 0 only
	BBox       [4]uint32     // minx, miny, maxx, maxy; zero value if the slice was empty
	HasBBox    bool
	MidX, MidY uint32
	LocalMax   uint64 // largest single cell value seen at any zoom, paired with MidX/MidY
	OutOfOrder int
}

// Worker scans record.File[Start:End) for one shard.
type Worker struct {
	File     *record.File
	Start    uint64
	End      uint64
	ShardID  int
	Cfg      Config
	Emitter  Emitter
	Progress ProgressReporter
}

// Run performs one shard's scan. It respects ctx cancellation between
// records so that a fatal error in a sibling shard can stop the scan early.
func (w *Worker) Run(ctx context.Context) (Result, error) {
	res := Result{
		Sketches: make([]*kll.Sketch, w.Cfg.Zooms),
		Max:      make([]uint64, w.Cfg.Zooms),
	}
	for z := range res.Sketches {
		res.Sketches[z] = kll.New(w.Cfg.K, w.Cfg.C)
	}

	if w.Start >= w.End {
		return res, nil
	}

	first := w.File.Index(w.Start)
	last := w.File.Index(w.End - 1)

	tiles := make([]tilegrid.Grid, w.Cfg.Zooms)
	for z := range tiles {
		tiles[z] = tilegrid.New(w.Cfg.Detail, z)
	}

	finalize := func(z int) error {
		t := &tiles[z]
		if !t.Active {
			return nil
		}
		firstForTile, lastForTile := coord.TileEdges(z, uint32(t.X), uint32(t.Y))
		if firstForTile >= first && lastForTile <= last {
			if w.Cfg.Pass == 0 {
				gatherQuantile(res.Sketches[z], *t, &res.Max[z])
				return nil
			}
			return w.Emitter.Emit(z, t.X, t.Y, *t)
		}
		res.Partials = append(res.Partials, PartialTile{Z: z, X: t.X, Y: t.Y, Grid: t.Clone()})
		return nil
	}

	bbox := [4]uint32{math.MaxUint32, math.MaxUint32, 0, 0}
	var localMax uint64
	var midx, midy uint32
	var oindex uint64
	haveOindex := false

	total := w.End - w.Start
	lastPercent := -1

	for i := w.Start; i < w.End; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		index := w.File.Index(i)
		count := w.File.Count32(i)

		if haveOindex && oindex > index {
			res.OutOfOrder++
			if w.Cfg.Pass == 0 {
				log.Printf("shard %d: record %d is out of order: index %d follows %d", w.ShardID, i, index, oindex)
			}
		}
		oindex = index
		haveOindex = true

		seq := i - w.Start + 1
		if percent := int(100 * seq / total); percent != lastPercent {
			lastPercent = percent
			if w.Progress != nil {
				w.Progress.Report(w.ShardID, percent)
			}
		}

		wx, wy := coord.Decode(index)
		if wx < bbox[0] {
			bbox[0] = wx
		}
		if wy < bbox[1] {
			bbox[1] = wy
		}
		if wx > bbox[2] {
			bbox[2] = wx
		}
		if wy > bbox[3] {
			bbox[3] = wy
		}
		res.HasBBox = true

		for z := 0; z < w.Cfg.Zooms; z++ {
			shift := uint(32 - (z + w.Cfg.Detail))
			// addrX/addrY are (z+detail)-bit addresses; tx/ty are their
			// bits above detail, so at z=0 they come out 0 without a
			// separate guard (and shift == 0 keeps all 32 bits).
			addrX := wx >> shift
			addrY := wy >> shift

			mask := uint32(1)<<uint(w.Cfg.Detail) - 1
			px := int(addrX & mask)
			py := int(addrY & mask)
			tx := int(addrX >> uint(w.Cfg.Detail))
			ty := int(addrY >> uint(w.Cfg.Detail))

			if tiles[z].Active && (tiles[z].X != tx || tiles[z].Y != ty) {
				if err := finalize(z); err != nil {
					return res, fmt.Errorf("shard %d: finalizing tile z=%d: %w", w.ShardID, z, err)
				}
				tiles[z].Reset(z, tx, ty)
			} else if !tiles[z].Active {
				tiles[z].Reset(z, tx, ty)
			}

			tiles[z].Add(px, py, uint64(count))
			if v := tiles[z].Cells[py*tiles[z].Dim+px]; v > localMax {
				localMax = v
				midx, midy = wx, wy
			}
		}
	}

	for z := 0; z < w.Cfg.Zooms; z++ {
		if err := finalize(z); err != nil {
			return res, fmt.Errorf("shard %d: finalizing trailing tile z=%d: %w", w.ShardID, z, err)
		}
	}

	res.BBox = bbox
	res.MidX, res.MidY = midx, midy
	res.LocalMax = localMax
	return res, nil
}

// gatherQuantile feeds every nonzero cell of a fully-owned tile into the
// zoom's quantile sketch and tracks the largest cell value seen, the same
// data gather_quantile() collects in the original tool.
func gatherQuantile(sketch *kll.Sketch, g tilegrid.Grid, max *uint64) {
	for _, v := range g.Cells {
		if v == 0 {
			continue
		}
		sketch.Update(v)
		if v > *max {
			*max = v
		}
	}
}
