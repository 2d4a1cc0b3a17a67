package sink

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// Entry locates one run of tiles in the tile-data section of a sink
// archive. A RunLength greater than 1 means RunLength consecutive
// addresses share identically-sized, contiguously-placed tile data — the
// common case for a sparse pyramid where most of a zoom level never
// crosses FirstLevel and contributes no bytes at all between two real
// tiles that happen to pack back to back.
type Entry struct {
	Address   uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// zoomBase is the count of every tile at zoom levels below z: z is bounded
// by Config.Zoom (well under 64), so this never needs more than a handful
// of doublings.
func zoomBase(z int) uint64 {
	var base uint64
	for i := 0; i < z; i++ {
		n := uint64(1) << uint(i)
		base += n * n
	}
	return base
}

// tileAddress orders tiles first by zoom, then by Morton (Z-order) index
// within that zoom's 2^z x 2^z grid — the same bit-interleaving
// internal/coord uses to key world coordinates into the record stream, so
// the directory and the input file are sorted by the same curve. This
// replaces the Hilbert-curve tile IDs a generic slippy-map archive would
// use: there is no read-time range-request locality to optimize for here,
// only a dense, directory-friendly ordering.
func tileAddress(z, x, y int) uint64 {
	if z == 0 {
		return 0
	}
	return zoomBase(z) + interleave(uint32(x), uint32(y))
}

// addressToZXY is tileAddress's inverse.
func addressToZXY(addr uint64) (z, x, y int) {
	if addr == 0 {
		return 0, 0, 0
	}
	z = 0
	for {
		n := uint64(1) << uint(z)
		count := n * n
		if zoomBase(z)+count > addr {
			break
		}
		z++
	}
	ux, uy := deinterleave(addr - zoomBase(z))
	return z, int(ux), int(uy)
}

// interleave spreads x's bits into the even positions and y's bits into
// the odd positions of the result, the standard Morton/Z-order encoding.
func interleave(x, y uint32) uint64 {
	var out uint64
	for i := uint(0); i < 32; i++ {
		out |= uint64((x>>i)&1) << (2 * i)
		out |= uint64((y>>i)&1) << (2*i + 1)
	}
	return out
}

// deinterleave is interleave's inverse.
func deinterleave(v uint64) (x, y uint32) {
	for i := uint(0); i < 32; i++ {
		x |= uint32((v>>(2*i))&1) << i
		y |= uint32((v>>(2*i+1))&1) << i
	}
	return x, y
}

// buildDirectory sorts entries by address, merges contiguous runs, and
// serializes the result to a single flat table. Unlike a general-purpose
// slippy-map archive, a tile-count pyramid's entry count stays small
// enough (bounded by zoom count x 4^zoom, and sparse above that) that
// splitting into root/leaf directories buys nothing; one varint-delta
// table holds every entry.
func buildDirectory(entries []Entry) ([]byte, error) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Address < entries[j].Address
	})
	return serializeDirectory(optimizeRunLengths(entries))
}

// serializeDirectory packs entries into four parallel varint streams
// (address deltas, run lengths, byte lengths, offsets), each column
// compressing far better than an interleaved struct would given how
// often neighboring tiles share a length or sit back to back on disk.
func serializeDirectory(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	scratch := make([]byte, binary.MaxVarintLen64)
	putUvarint := func(v uint64) {
		n := binary.PutUvarint(scratch, v)
		buf.Write(scratch[:n])
	}

	putUvarint(uint64(len(entries)))

	var lastAddr uint64
	for _, e := range entries {
		putUvarint(e.Address - lastAddr)
		lastAddr = e.Address
	}
	for _, e := range entries {
		putUvarint(uint64(e.RunLength))
	}
	for _, e := range entries {
		putUvarint(uint64(e.Length))
	}

	var lastOffset uint64
	var lastLength uint32
	for i, e := range entries {
		var val uint64
		if i > 0 && e.Offset == lastOffset+uint64(lastLength) {
			val = 0 // contiguous with the previous entry's data
		} else {
			val = e.Offset + 1 // +1 so 0 is free to mean "contiguous"
		}
		putUvarint(val)
		lastOffset, lastLength = e.Offset, e.Length
	}

	return buf.Bytes(), nil
}

// deserializeDirectory is serializeDirectory's inverse.
func deserializeDirectory(data []byte) ([]Entry, error) {
	r := bytes.NewReader(data)

	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("reading entry count: %w", err)
	}
	entries := make([]Entry, n)

	var lastAddr uint64
	for i := range entries {
		d, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("reading address delta %d: %w", i, err)
		}
		lastAddr += d
		entries[i].Address = lastAddr
	}
	for i := range entries {
		rl, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("reading run length %d: %w", i, err)
		}
		entries[i].RunLength = uint32(rl)
	}
	for i := range entries {
		l, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("reading length %d: %w", i, err)
		}
		entries[i].Length = uint32(l)
	}

	var lastOffset uint64
	var lastLength uint32
	for i := range entries {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("reading offset %d: %w", i, err)
		}
		if v == 0 && i > 0 {
			entries[i].Offset = lastOffset + uint64(lastLength)
		} else {
			entries[i].Offset = v - 1
		}
		lastOffset, lastLength = entries[i].Offset, entries[i].Length
	}

	return entries, nil
}

// optimizeRunLengths merges consecutive entries that share a length and
// whose addresses and offsets both advance contiguously into one run.
func optimizeRunLengths(entries []Entry) []Entry {
	if len(entries) == 0 {
		return entries
	}

	result := make([]Entry, 0, len(entries))
	current := entries[0]
	current.RunLength = 1

	for i := 1; i < len(entries); i++ {
		e := entries[i]
		expectedAddr := current.Address + uint64(current.RunLength)
		expectedOffset := current.Offset + uint64(current.Length)*uint64(current.RunLength)

		if e.Address == expectedAddr && e.Offset == expectedOffset && e.Length == current.Length {
			current.RunLength++
		} else {
			result = append(result, current)
			current = e
			current.RunLength = 1
		}
	}
	result = append(result, current)

	return result
}
