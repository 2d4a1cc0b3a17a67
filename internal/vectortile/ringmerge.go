package vectortile

// edge is one directed unit-length boundary segment between two lattice
// points, used by MergeSquares' edge-cancellation walk.
type edge struct{ from, to [2]int }

// MergeSquares fuses a set of unit grid squares (by integer cell
// coordinate) into the boundary rings of their union, by canceling shared
// interior edges and walking what remains into closed loops. This is the
// same idea as the original tool's disabled merge_rings pass: rather than
// emit one square polygon per cell, adjacent same-density cells collapse
// into a single larger polygon, shrinking the encoded tile at the cost of
// the edge-cancellation work done here.
//
// Cells containing holes (a density region that fully encloses a
// lower-density one) are not special-cased: each returned ring is walked
// independently and a hole's boundary comes back as its own ring, which
// callers must be able to render as a separate sub-path. This matches the
// original's behavior, which also never attempted hole detection.
func MergeSquares(cells [][2]int) [][][2]int {
	// Each present cell contributes its four boundary edges, clockwise.
	// An edge shared by two present cells always appears once in each
	// direction and cancels; a boundary edge against empty space survives.
	count := make(map[edge]int)
	for _, c := range cells {
		px, py := c[0], c[1]
		corners := [4][2]int{{px, py}, {px + 1, py}, {px + 1, py + 1}, {px, py + 1}}
		for i := 0; i < 4; i++ {
			e := edge{from: corners[i], to: corners[(i+1)%4]}
			count[e]++
		}
	}

	remaining := make(map[edge]bool)
	for e := range count {
		rev := edge{from: e.to, to: e.from}
		if count[rev] > 0 {
			continue // interior edge shared with a neighboring present cell
		}
		remaining[e] = true
	}

	// index remaining edges by start point for O(1) walk continuation.
	byStart := make(map[[2]int][]edge)
	for e := range remaining {
		byStart[e.from] = append(byStart[e.from], e)
	}

	var rings [][][2]int
	used := make(map[edge]bool)
	for e := range remaining {
		if used[e] {
			continue
		}
		ring := walkRing(e, byStart, used)
		if len(ring) >= 3 {
			rings = append(rings, simplifyCollinear(ring))
		}
	}
	return rings
}

func walkRing(start edge, byStart map[[2]int][]edge, used map[edge]bool) [][2]int {
	ring := [][2]int{start.from}
	cur := start
	for {
		used[cur] = true
		ring = append(ring, cur.to)
		if cur.to == start.from {
			break
		}
		next, ok := nextUnusedEdge(cur.to, byStart, used)
		if !ok {
			break // malformed/open boundary; return what was traced
		}
		cur = next
	}
	// drop the duplicated closing point; MVT rings are implicitly closed.
	if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		ring = ring[:len(ring)-1]
	}
	return ring
}

func nextUnusedEdge(at [2]int, byStart map[[2]int][]edge, used map[edge]bool) (edge, bool) {
	for _, e := range byStart[at] {
		if !used[e] {
			return e, true
		}
	}
	return edge{}, false
}

// simplifyCollinear drops ring vertices that lie strictly between two
// edges running in the same direction, which a straight run of merged unit
// edges otherwise produces one per cell boundary crossed.
func simplifyCollinear(ring [][2]int) [][2]int {
	n := len(ring)
	if n < 3 {
		return ring
	}
	out := make([][2]int, 0, n)
	for i := 0; i < n; i++ {
		prev := ring[(i-1+n)%n]
		cur := ring[i]
		next := ring[(i+1)%n]
		d1 := [2]int{cur[0] - prev[0], cur[1] - prev[1]}
		d2 := [2]int{next[0] - cur[0], next[1] - cur[1]}
		if d1[0]*d2[1]-d1[1]*d2[0] == 0 && (d1[0]*d2[0]+d1[1]*d2[1]) > 0 {
			continue // collinear, same direction: cur is redundant
		}
		out = append(out, cur)
	}
	if len(out) < 3 {
		return ring
	}
	return out
}
