package shard

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuulee/tilecount/internal/coord"
	"github.com/cuulee/tilecount/internal/record"
	"github.com/cuulee/tilecount/internal/tilegrid"
)

func openTestFile(t *testing.T, indices []uint64, counts []uint32) *record.File {
	t.Helper()
	data := record.WriteHeader(nil)
	for i := range indices {
		data = record.AppendRecord(data, indices[i], counts[i])
	}
	path := filepath.Join(t.TempDir(), "records.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing test file: %v", err)
	}
	f, err := record.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

type fakeEmitter struct {
	calls []struct {
		z, x, y int
		g       tilegrid.Grid
	}
}

func (e *fakeEmitter) Emit(z, x, y int, g tilegrid.Grid) error {
	e.calls = append(e.calls, struct {
		z, x, y int
		g       tilegrid.Grid
	}{z, x, y, g})
	return nil
}

func TestWorkerSingleZoomSingleTileFullyOwned(t *testing.T) {
	// z=0 has exactly one tile covering the whole world; a shard owns it
	// fully only when its first and last records sit at the two ends of the
	// whole index range.
	wx1, wy1 := uint32(0), uint32(0)
	wx2, wy2 := ^uint32(0), ^uint32(0)
	idx1 := coord.Encode(wx1, wy1)
	idx2 := coord.Encode(wx2, wy2)
	if idx2 < idx1 {
		idx1, idx2 = idx2, idx1
	}

	f := openTestFile(t, []uint64{idx1, idx2}, []uint32{3, 4})
	emitter := &fakeEmitter{}
	w := &Worker{
		File:    f,
		Start:   0,
		End:     f.Count(),
		ShardID: 0,
		Cfg:     Config{Detail: 4, Zooms: 1, Pass: 1},
		Emitter: emitter,
	}

	res, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Partials) != 0 {
		t.Fatalf("expected no partials at z=0, got %d", len(res.Partials))
	}
	if len(emitter.calls) != 1 {
		t.Fatalf("expected exactly one emitted tile, got %d", len(emitter.calls))
	}
	if emitter.calls[0].z != 0 || emitter.calls[0].x != 0 || emitter.calls[0].y != 0 {
		t.Errorf("unexpected tile coords: %+v", emitter.calls[0])
	}
	total := uint64(0)
	for _, v := range emitter.calls[0].g.Cells {
		total += v
	}
	if total != 7 {
		t.Errorf("tile total = %d, want 7", total)
	}
}

func TestWorkerPass0FeedsSketch(t *testing.T) {
	// The z=0 tile is fully owned, and so fed to the sketch, only when the
	// shard's records reach both ends of the index range.
	lo := coord.Encode(0, 0)
	hi := coord.Encode(^uint32(0), ^uint32(0))
	f := openTestFile(t, []uint64{lo, hi}, []uint32{42, 1})

	w := &Worker{
		File:    f,
		Start:   0,
		End:     f.Count(),
		ShardID: 0,
		Cfg:     Config{Detail: 2, Zooms: 1, Pass: 0, K: 8, C: 2.0 / 3.0},
	}
	res, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Max[0] != 42 {
		t.Errorf("Max[0] = %d, want 42", res.Max[0])
	}
	cdf := res.Sketches[0].CDF()
	if len(cdf) == 0 {
		t.Fatal("expected sketch to have observed a value")
	}
}

func TestWorkerDetectsOutOfOrderRecords(t *testing.T) {
	f := openTestFile(t, []uint64{100, 50}, []uint32{1, 1})
	w := &Worker{
		File:    f,
		Start:   0,
		End:     f.Count(),
		ShardID: 0,
		Cfg:     Config{Detail: 1, Zooms: 1, Pass: 0, K: 8, C: 2.0 / 3.0},
	}
	res, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.OutOfOrder != 1 {
		t.Errorf("OutOfOrder = %d, want 1", res.OutOfOrder)
	}
}

func TestWorkerEmptySliceIsANoOp(t *testing.T) {
	f := openTestFile(t, []uint64{1, 2, 3}, []uint32{1, 1, 1})
	w := &Worker{
		File:    f,
		Start:   1,
		End:     1,
		ShardID: 0,
		Cfg:     Config{Detail: 2, Zooms: 2, Pass: 0, K: 8, C: 2.0 / 3.0},
	}
	res, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.HasBBox {
		t.Error("expected no bbox from an empty slice")
	}
	if len(res.Sketches) != 2 {
		t.Errorf("len(Sketches) = %d, want 2 (zero-value sketches, not nil)", len(res.Sketches))
	}
}

func TestWorkerContextCancellationStopsScan(t *testing.T) {
	indices := make([]uint64, 1000)
	counts := make([]uint32, 1000)
	for i := range indices {
		indices[i] = uint64(i)
		counts[i] = 1
	}
	f := openTestFile(t, indices, counts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := &Worker{
		File:    f,
		Start:   0,
		End:     f.Count(),
		ShardID: 0,
		Cfg:     Config{Detail: 2, Zooms: 1, Pass: 0, K: 8, C: 2.0 / 3.0},
	}
	if _, err := w.Run(ctx); err == nil {
		t.Fatal("expected an error from a pre-canceled context")
	}
}

func TestWorkerProducesPartialAtFineZoomBoundary(t *testing.T) {
	// At a deep zoom, a shard holding only part of a tile's Morton range
	// must hand that tile off as a partial instead of finalizing it.
	z := 10
	detail := 2
	x, y := uint32(3), uint32(5)
	first, last := coord.TileEdges(z, x, y)
	mid := first + (last-first)/2

	f := openTestFile(t, []uint64{first, mid}, []uint32{1, 1}) // doesn't reach `last`
	w := &Worker{
		File:    f,
		Start:   0,
		End:     f.Count(),
		ShardID: 0,
		Cfg:     Config{Detail: detail, Zooms: z + 1, Pass: 0, K: 8, C: 2.0 / 3.0},
	}
	res, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	found := false
	for _, p := range res.Partials {
		if p.Z == z {
			found = true
		}
	}
	if !found {
		t.Error("expected the deepest zoom's tile to be reported as partial")
	}
}
