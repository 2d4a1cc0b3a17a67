// Package pipeline orchestrates the two-pass aggregation: split a record
// file into shards, fan workers out over each pass, reconcile partial
// tiles, bridge the two passes with the normalization step, and roll up
// final statistics and metadata for the sink. Grounded on the teacher's
// internal/tile.Generate and its worker-pool/progress-bar pattern.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/cuulee/tilecount/internal/coord"
	"github.com/cuulee/tilecount/internal/emit"
	"github.com/cuulee/tilecount/internal/kll"
	"github.com/cuulee/tilecount/internal/normalize"
	"github.com/cuulee/tilecount/internal/reconcile"
	"github.com/cuulee/tilecount/internal/record"
	"github.com/cuulee/tilecount/internal/shard"
	"github.com/cuulee/tilecount/internal/sink"
)

// Config parameterizes a full run, mirroring the teacher's tile.Config.
type Config struct {
	Zoom        int // number of zoom levels to produce, 0..Zoom-1
	Detail      int // tile resolution, dim = 2^Detail
	Levels      int // density levels for the level-mapping function
	FirstLevel  int
	CountGamma  float64
	Bitmap      bool
	Color       uint32
	White       bool
	MergeRings  bool
	Force       bool // overwrite an existing output file
	Concurrency int  // defaults to runtime.NumCPU() when <= 0
	KLLWidth    int  // KLL sketch k, defaults to 512
	KLLRatio    float64 // KLL sketch c, defaults to 2.0/3.0
	Verbose     bool

	InputPath  string
	OutputPath string
}

func (c Config) resolved() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.NumCPU()
	}
	if c.KLLWidth <= 0 {
		c.KLLWidth = 512
	}
	if c.KLLRatio <= 0 {
		c.KLLRatio = 2.0 / 3.0
	}
	return c
}

// Result is the final report of a completed run, mirroring the teacher's
// tile.Stats.
type Result struct {
	TilesEmitted int64
	TilesSkipped int64
	BytesWritten int64
	OutOfOrder   int
	Pass0Elapsed time.Duration
	Pass1Elapsed time.Duration

	ZoomMax    []uint64
	Regression []uint64

	MinLon, MinLat, MaxLon, MaxLat float64
	MidLon, MidLat                 float64
}

// countingSink wraps a sink.Sink to tally bytes/tiles for Result without
// making emit.Emitter aware of statistics collection.
type countingSink struct {
	sink.Sink
	mu      sync.Mutex
	tiles   int64
	bytes   int64
}

func (c *countingSink) WriteTile(z, x, y int, data []byte) error {
	c.mu.Lock()
	c.tiles++
	c.bytes += int64(len(data))
	c.mu.Unlock()
	return c.Sink.WriteTile(z, x, y, data)
}

// Run executes both passes over the record file at cfg.InputPath and writes
// the resulting tiles and metadata to cfg.OutputPath via a sink.Writer.
func Run(ctx context.Context, cfg Config) (Result, error) {
	cfg = cfg.resolved()

	f, err := record.Open(cfg.InputPath)
	if err != nil {
		return Result{}, fmt.Errorf("opening record file: %w", err)
	}
	defer f.Close()

	if f.Count() == 0 {
		return Result{}, fmt.Errorf("record file %s is empty", cfg.InputPath)
	}

	bounds := shardBounds(f.Count(), cfg.Concurrency)

	reporter := newProgressReporter(len(bounds), cfg.Verbose)
	defer reporter.finish()

	// Pass 0: quantile gathering.
	pass0Start := time.Now()
	sketches := make([][]*kll.Sketch, len(bounds))
	maxes := make([][]uint64, len(bounds))
	pass0Out, err := runPass(ctx, f, bounds, shard.Config{
		Detail: cfg.Detail,
		Zooms:  cfg.Zoom,
		Pass:   0,
		K:      cfg.KLLWidth,
		C:      cfg.KLLRatio,
	}, nil, reporter, 0)
	if err != nil {
		return Result{}, fmt.Errorf("pass 0: %w", err)
	}
	pass0Elapsed := time.Since(pass0Start)

	var outOfOrder int
	for i, r := range pass0Out {
		sketches[i] = r.Sketches
		maxes[i] = r.Max
		outOfOrder += r.OutOfOrder
	}

	merged := normalize.MergeSketches(sketches, cfg.Zoom, cfg.KLLWidth, cfg.KLLRatio)
	mergedMax := normalize.MergeMax(maxes, cfg.Zoom)
	zoomMax := normalize.ZoomMax(merged, normalize.Config{})
	regression := normalize.Regress(mergedMax)

	// Reconcile pass-0 partial tiles so their fully-summed contribution
	// feeds the same quantile sketches a fully-owned tile would have.
	rec := reconcile.New()
	for _, r := range pass0Out {
		for _, p := range r.Partials {
			rec.Add(p.Z, p.X, p.Y, p.Grid)
		}
	}
	if err := rec.Each(func(e reconcile.Entry) error {
		if e.Z < len(merged) {
			for _, v := range e.Grid.Cells {
				if v == 0 {
					continue
				}
				merged[e.Z].Update(v)
				if v > mergedMax[e.Z] {
					mergedMax[e.Z] = v
				}
			}
		}
		return nil
	}); err != nil {
		return Result{}, fmt.Errorf("reconciling pass 0 partial tiles: %w", err)
	}
	zoomMax = normalize.ZoomMax(merged, normalize.Config{})
	regression = normalize.Regress(mergedMax)

	// Pass 1: emission.
	writer, err := sink.NewWriter(cfg.OutputPath, sink.WriterOptions{
		Name:    "tilecount",
		MinZoom: 0,
		MaxZoom: cfg.Zoom - 1,
		TileFormat: func() uint8 {
			if cfg.Bitmap {
				return sink.TileTypePNG
			}
			return sink.TileTypeMVT
		}(),
		VectorFlag: !cfg.Bitmap,
	})
	if err != nil {
		return Result{}, fmt.Errorf("creating sink writer: %w", err)
	}

	cs := &countingSink{Sink: writer}
	emitter := &emit.Emitter{
		Cfg: emit.Config{
			Levels:     cfg.Levels,
			FirstLevel: cfg.FirstLevel,
			Gamma:      cfg.CountGamma,
			Bitmap:     cfg.Bitmap,
			Color:      cfg.Color,
			White:      cfg.White,
			MergeRings: cfg.MergeRings,
		},
		Sink:    cs,
		ZoomMax: zoomMax,
	}

	pass1Start := time.Now()
	pass1Out, err := runPass(ctx, f, bounds, shard.Config{
		Detail: cfg.Detail,
		Zooms:  cfg.Zoom,
		Pass:   1,
	}, emitter, reporter, 1)
	if err != nil {
		writer.Abort()
		return Result{}, fmt.Errorf("pass 1: %w", err)
	}
	pass1Elapsed := time.Since(pass1Start)

	// Reconcile pass-1 partial tiles and emit the combined result.
	rec1 := reconcile.New()
	bbox := [4]uint32{^uint32(0), ^uint32(0), 0, 0}
	haveBBox := false
	var midx, midy uint32
	var localMax uint64
	for _, r := range pass1Out {
		for _, p := range r.Partials {
			rec1.Add(p.Z, p.X, p.Y, p.Grid)
		}
		if r.HasBBox {
			haveBBox = true
			if r.BBox[0] < bbox[0] {
				bbox[0] = r.BBox[0]
			}
			if r.BBox[1] < bbox[1] {
				bbox[1] = r.BBox[1]
			}
			if r.BBox[2] > bbox[2] {
				bbox[2] = r.BBox[2]
			}
			if r.BBox[3] > bbox[3] {
				bbox[3] = r.BBox[3]
			}
		}
		if r.LocalMax > localMax {
			localMax = r.LocalMax
			midx, midy = r.MidX, r.MidY
		}
	}
	if err := rec1.Each(func(e reconcile.Entry) error {
		return emitter.Emit(e.Z, e.X, e.Y, e.Grid)
	}); err != nil {
		writer.Abort()
		return Result{}, fmt.Errorf("reconciling pass 1 partial tiles: %w", err)
	}

	res := Result{
		TilesEmitted: cs.tiles,
		TilesSkipped: emitter.Skipped(),
		BytesWritten: cs.bytes,
		OutOfOrder:   outOfOrder,
		Pass0Elapsed: pass0Elapsed,
		Pass1Elapsed: pass1Elapsed,
		ZoomMax:      zoomMax,
		Regression:   regression,
	}

	if haveBBox {
		res.MinLon, res.MinLat, res.MaxLon, res.MaxLat = coord.BoundsToLonLat(bbox[0], bbox[1], bbox[2], bbox[3])
		res.MidLon, res.MidLat = coord.ToLonLat(midx, midy)
	}

	if err := writer.WriteMetadata(sink.Metadata{
		Name:    "tilecount",
		MinZoom: 0,
		MaxZoom: cfg.Zoom - 1,
		Bounds: sink.Bounds{
			MinLon: res.MinLon, MinLat: res.MinLat,
			MaxLon: res.MaxLon, MaxLat: res.MaxLat,
		},
		MidLon:           res.MidLon,
		MidLat:           res.MidLat,
		LayersDescriptor: "tilecount aggregation output",
		VectorFlag:       !cfg.Bitmap,
	}); err != nil {
		writer.Abort()
		return Result{}, fmt.Errorf("writing metadata: %w", err)
	}

	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("finalizing sink: %w", err)
	}

	return res, nil
}

// runPass fans shard.Worker.Run out over bounds concurrently, collecting
// every shard's Result. A hard error in any worker cancels the rest via
// ctx and the first error is returned.
func runPass(ctx context.Context, f *record.File, bounds []shardBound, cfg shard.Config, emitter shard.Emitter, reporter *progressReporter, pass int) ([]shard.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]shard.Result, len(bounds))
	errCh := make(chan error, len(bounds))
	var wg sync.WaitGroup

	progress := reporter.forPass(pass)

	for i, b := range bounds {
		wg.Add(1)
		go func(i int, b shardBound) {
			defer wg.Done()
			w := &shard.Worker{
				File:     f,
				Start:    b.start,
				End:      b.end,
				ShardID:  i,
				Cfg:      cfg,
				Emitter:  emitter,
				Progress: progress,
			}
			res, err := w.Run(ctx)
			if err != nil {
				select {
				case errCh <- err:
				default:
				}
				cancel()
				return
			}
			results[i] = res
		}(i, b)
	}

	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return nil, err
	}
	return results, nil
}
