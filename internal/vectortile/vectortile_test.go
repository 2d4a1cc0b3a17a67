package vectortile

import "testing"

func TestMergeSquaresSingleCellIsAQuad(t *testing.T) {
	rings := MergeSquares([][2]int{{2, 3}})
	if len(rings) != 1 {
		t.Fatalf("len(rings) = %d, want 1", len(rings))
	}
	if len(rings[0]) != 4 {
		t.Fatalf("len(ring) = %d, want 4", len(rings[0]))
	}
}

func TestMergeSquaresAdjacentCellsCancelSharedEdge(t *testing.T) {
	// two cells side by side form a 2x1 rectangle: 4 corners, not 8.
	rings := MergeSquares([][2]int{{0, 0}, {1, 0}})
	if len(rings) != 1 {
		t.Fatalf("len(rings) = %d, want 1", len(rings))
	}
	if len(rings[0]) != 4 {
		t.Fatalf("len(ring) = %d, want 4 after collinear simplification, got %v", len(rings[0]), rings[0])
	}
}

func TestMergeSquaresDisjointCellsProduceSeparateRings(t *testing.T) {
	rings := MergeSquares([][2]int{{0, 0}, {10, 10}})
	if len(rings) != 2 {
		t.Fatalf("len(rings) = %d, want 2", len(rings))
	}
}

func TestBuildLayerSkipsZeroLevels(t *testing.T) {
	levels := make([]int, 4*4)
	levels[5] = 3 // one nonzero cell
	l := BuildLayer(levels, 4, false)
	if len(l.features) != 1 {
		t.Fatalf("len(features) = %d, want 1", len(l.features))
	}
}

func TestEncodeTileProducesNonEmptyBytes(t *testing.T) {
	levels := make([]int, 2*2)
	levels[0] = 1
	l := BuildLayer(levels, 2, false)
	b := EncodeTile(l)
	if len(b) == 0 {
		t.Fatal("EncodeTile produced no bytes")
	}
}

func TestVarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 40}
	for _, v := range cases {
		buf := appendVarint(nil, v)
		got, n := decodeVarintForTest(buf)
		if n != len(buf) || got != v {
			t.Errorf("roundtrip(%d) = %d (consumed %d of %d bytes)", v, got, n, len(buf))
		}
	}
}

// decodeVarintForTest is a minimal varint reader used only to verify
// appendVarint's output; production code never needs to decode MVT bytes
// back out.
func decodeVarintForTest(buf []byte) (uint64, int) {
	var v uint64
	var shift uint
	for i, b := range buf {
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, i + 1
		}
		shift += 7
	}
	return v, len(buf)
}
