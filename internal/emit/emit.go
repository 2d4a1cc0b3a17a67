package emit

import (
	"fmt"
	"sync/atomic"

	"github.com/cuulee/tilecount/internal/sink"
	"github.com/cuulee/tilecount/internal/tilegrid"
	"github.com/cuulee/tilecount/internal/vectortile"
)

// MaxTileBytes is the hard cap on one encoded tile's size, matching the
// original tool's refusal to write an oversized tile.
const MaxTileBytes = 500_000

// ErrTileTooLarge is returned when an encoded tile exceeds MaxTileBytes.
type ErrTileTooLarge struct {
	Z, X, Y int
	Size    int
}

func (e *ErrTileTooLarge) Error() string {
	return fmt.Sprintf("tile z=%d x=%d y=%d is too big: %d bytes (max %d)", e.Z, e.X, e.Y, e.Size, MaxTileBytes)
}

// Config parameterizes the emit pass.
type Config struct {
	Levels     int
	FirstLevel int
	Gamma      float64
	Bitmap     bool
	Color      uint32
	White      bool
	MergeRings bool // opt-in ring merge for vector tiles; off by default
}

// Emitter applies the level mapping to a finished tile and writes the
// encoded result to a sink. It satisfies shard.Emitter.
type Emitter struct {
	Cfg     Config
	Sink    sink.Sink
	ZoomMax []uint64 // per-zoom normalization constant from the normalize pass

	skipped int64 // tiles dropped for having nothing at or above FirstLevel, or encoding to no bytes
}

// Skipped returns the number of tiles Emit has dropped so far because every
// cell mapped below FirstLevel or the encoder produced no bytes. Safe to
// call concurrently with Emit.
func (e *Emitter) Skipped() int64 {
	return atomic.LoadInt64(&e.skipped)
}

// Emit maps g's cell counts through the level function for zoom z and
// writes the resulting bitmap or vector tile, skipping tiles that end up
// with nothing at or above FirstLevel (matching the original's "anything"
// guard).
func (e *Emitter) Emit(z, x, y int, g tilegrid.Grid) error {
	var zoomMax uint64
	if z < len(e.ZoomMax) {
		zoomMax = e.ZoomMax[z]
	}
	levels := make([]int, len(g.Cells))
	anything := false
	for i, count := range g.Cells {
		lv := MapLevel(count, e.Cfg.Levels, e.Cfg.Gamma, zoomMax)
		levels[i] = lv
		if lv != 0 && lv >= e.Cfg.FirstLevel {
			anything = true
		}
	}
	if !anything {
		atomic.AddInt64(&e.skipped, 1)
		return nil
	}

	var data []byte
	var err error
	if e.Cfg.Bitmap {
		data, err = RenderBitmap(levels, g.Dim, BitmapOptions{
			Levels: e.Cfg.Levels,
			Color:  e.Cfg.Color,
			White:  e.Cfg.White,
		})
	} else {
		data, err = encodeVector(levels, g.Dim, e.Cfg)
	}
	if err != nil {
		return fmt.Errorf("encoding tile z=%d x=%d y=%d: %w", z, x, y, err)
	}
	if len(data) == 0 {
		atomic.AddInt64(&e.skipped, 1)
		return nil
	}
	if len(data) > MaxTileBytes {
		return &ErrTileTooLarge{Z: z, X: x, Y: y, Size: len(data)}
	}

	return e.Sink.WriteTile(z, x, y, data)
}

func encodeVector(levels []int, dim int, cfg Config) ([]byte, error) {
	// The original tool only ever tags features at or above first_level;
	// below that, cells are zeroed out before the layer is built so they
	// never contribute an (empty) feature.
	filtered := make([]int, len(levels))
	for i, lv := range levels {
		if lv >= cfg.FirstLevel {
			filtered[i] = lv
		}
	}
	layer := vectortile.BuildLayer(filtered, dim, cfg.MergeRings)
	return vectortile.EncodeTile(layer), nil
}
