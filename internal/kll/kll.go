// Package kll implements a Karnin-Lang-Liberty streaming quantile sketch
// over nonnegative 64-bit integers: https://arxiv.org/abs/1603.05346
//
// The sketch is mergeable and uses O(k * log(n/k)) memory for n observations,
// trading exactness for bounded size. It is used on pass 0 of the tile
// aggregator to learn a per-zoom normalization ceiling without retaining
// every observed cell count.
package kll

import (
	"math"
	"math/rand"
	"sort"
)

// DefaultK is the base compactor capacity used when none is supplied.
const DefaultK = 512

// DefaultC is the capacity decay factor between adjacent compactor levels.
const DefaultC = 2.0 / 3.0

// Sketch is a KLL quantile sketch over uint64 values.
type Sketch struct {
	compactors [][]uint64
	k          int
	c          float64
	size       int
	maxSize    int
	zeroes     uint64
}

// New creates an empty sketch with the given base capacity k and decay c.
// k must be positive; c must be in (0, 1).
func New(k int, c float64) *Sketch {
	if k <= 0 {
		k = DefaultK
	}
	if c <= 0 || c >= 1 {
		c = DefaultC
	}
	s := &Sketch{k: k, c: c}
	s.grow()
	return s
}

// height returns the current number of compactor levels.
func (s *Sketch) height() int {
	return len(s.compactors)
}

// capacity returns the maximum number of items compactor level h may hold
// before it must be compacted.
func (s *Sketch) capacity(h int) int {
	H := s.height()
	return int(math.Ceil(float64(s.k)*math.Pow(s.c, float64(H-h-1)))) + 1
}

// grow appends a new, empty top level and recomputes maxSize.
func (s *Sketch) grow() {
	s.compactors = append(s.compactors, nil)
	s.maxSize = 0
	for h := 0; h < s.height(); h++ {
		s.maxSize += s.capacity(h)
	}
}

// Update inserts a single observation into the sketch.
func (s *Sketch) Update(v uint64) {
	if v == 0 {
		s.zeroes++
		return
	}
	s.compactors[0] = append(s.compactors[0], v)
	s.size++
	for s.size >= s.maxSize {
		s.compact()
	}
}

// compact finds the lowest overfull level, halves it (keeping a fair
// random half of each adjacent pair), and promotes the survivors.
func (s *Sketch) compact() {
	for h := 0; h < s.height(); h++ {
		if len(s.compactors[h]) >= s.capacity(h) {
			if h+1 >= s.height() {
				s.grow()
			}
			survivors := compactLevel(s.compactors[h])
			s.compactors[h+1] = append(s.compactors[h+1], survivors...)
			s.compactors[h] = nil

			s.size = 0
			for i := range s.compactors {
				s.size += len(s.compactors[i])
			}
			return
		}
	}
}

// compactLevel sorts v, pairs adjacent items, and keeps one item per pair —
// either every odd-indexed or every even-indexed survivor, chosen by a fair
// coin flip once per compaction (not per pair). v is consumed.
func compactLevel(v []uint64) []uint64 {
	sort.Slice(v, func(i, j int) bool { return v[i] < v[j] })

	keepOdd := rand.Intn(2) == 1
	n := len(v)
	pairs := n / 2
	out := make([]uint64, 0, pairs)
	for p := 0; p < pairs; p++ {
		i := n - 1 - 2*p
		j := i - 1
		if keepOdd {
			out = append(out, v[i])
		} else {
			out = append(out, v[j])
		}
	}
	return out
}

// Merge absorbs another sketch's observations into s. other is left
// unmodified.
func (s *Sketch) Merge(other *Sketch) {
	s.zeroes += other.zeroes

	for s.height() < other.height() {
		s.grow()
	}

	for h := 0; h < other.height(); h++ {
		s.compactors[h] = append(s.compactors[h], other.compactors[h]...)
	}

	s.size = 0
	for i := range s.compactors {
		s.size += len(s.compactors[i])
	}

	for s.size >= s.maxSize {
		s.compact()
	}
}

// Point is one step of the sketch's empirical CDF: Value has accumulated
// Fraction of the sketch's total (weighted) observations at or below it.
type Point struct {
	Fraction float64
	Value    uint64
}

// itemWeight pairs a sampled value with the number of original observations
// it represents.
type itemWeight struct {
	value  uint64
	weight float64
}

// CDF returns the sketch's approximate cumulative distribution, sorted by
// value ascending, with Fraction normalized to end at 1.0.
func (s *Sketch) CDF() []Point {
	var items []itemWeight
	totalWeight := float64(s.zeroes)
	if s.zeroes > 0 {
		items = append(items, itemWeight{value: 0, weight: float64(s.zeroes)})
	}

	for h := 0; h < s.height(); h++ {
		weight := math.Exp2(float64(h))
		for _, v := range s.compactors[h] {
			items = append(items, itemWeight{value: v, weight: weight})
			totalWeight += weight
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].value < items[j].value })

	out := make([]Point, 0, len(items))
	cumulative := 0.0
	for _, it := range items {
		cumulative += it.weight
		frac := 1.0
		if totalWeight > 0 {
			frac = cumulative / totalWeight
		}
		out = append(out, Point{Fraction: frac, Value: it.value})
	}
	return out
}
