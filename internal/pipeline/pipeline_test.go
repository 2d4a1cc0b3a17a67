package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuulee/tilecount/internal/coord"
	"github.com/cuulee/tilecount/internal/record"
	"github.com/cuulee/tilecount/internal/sink"
)

func writeRecordFile(t *testing.T, indices []uint64, counts []uint32) string {
	t.Helper()
	data := record.WriteHeader(nil)
	for i, idx := range indices {
		data = record.AppendRecord(data, idx, counts[i])
	}
	path := filepath.Join(t.TempDir(), "in.records")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing record file: %v", err)
	}
	return path
}

func TestRunProducesAVectorArchiveFromASyntheticRecordFile(t *testing.T) {
	var indices []uint64
	var counts []uint32
	// A clustered blob of world coordinates near the origin, so every
	// zoom level maps them into a small number of tiles with real density.
	for x := uint32(0); x < 8; x++ {
		for y := uint32(0); y < 8; y++ {
			wx := x << 20
			wy := y << 20
			indices = append(indices, coord.Encode(wx, wy))
			counts = append(counts, uint32(100+x*10+y))
		}
	}
	// Sort by index (required input precondition).
	for i := 1; i < len(indices); i++ {
		for j := i; j > 0 && indices[j] < indices[j-1]; j-- {
			indices[j], indices[j-1] = indices[j-1], indices[j]
			counts[j], counts[j-1] = counts[j-1], counts[j]
		}
	}

	inPath := writeRecordFile(t, indices, counts)
	outPath := filepath.Join(t.TempDir(), "out.tiles")

	res, err := pipelineRunForTest(inPath, outPath)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TilesEmitted == 0 {
		t.Fatal("expected at least one tile to be emitted")
	}
	if len(res.ZoomMax) != 3 {
		t.Fatalf("ZoomMax length = %d, want 3", len(res.ZoomMax))
	}

	r, err := sink.OpenReader(outPath)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	if r.NumTiles() == 0 {
		t.Fatal("archive on disk has no tiles")
	}
}

func TestRunRejectsAnEmptyRecordFile(t *testing.T) {
	inPath := writeRecordFile(t, nil, nil)
	outPath := filepath.Join(t.TempDir(), "out.tiles")

	if _, err := pipelineRunForTest(inPath, outPath); err == nil {
		t.Fatal("expected an error for an empty record file")
	}
}

// pipelineRunForTest wraps Run with a small, deterministic configuration
// so individual tests only need to vary the input file.
func pipelineRunForTest(inPath, outPath string) (Result, error) {
	return Run(context.Background(), Config{
		Zoom:        3,
		Detail:      4,
		Levels:      20,
		FirstLevel:  1,
		CountGamma:  2.5,
		Bitmap:      false,
		Concurrency: 2,
		InputPath:   inPath,
		OutputPath:  outPath,
	})
}
