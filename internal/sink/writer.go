package sink

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// dedupEntry records the location of a previously written tile in the temp file.
type dedupEntry struct {
	offset uint64
	length uint32
}

// Writer writes tiles to a sink archive in two passes: tiles are appended
// to a temp file as they arrive (entries collected in memory), then
// Finalize sorts the directory into address order, rewrites the tile data
// to match that order, and assembles the final file. Grounded on the
// teacher's pmtiles.Writer's temp-file staging and FNV-64a dedup.
//
// Identical tile data is automatically deduplicated: when multiple tiles
// produce the same encoded bytes (e.g. uniform low-density squares), the
// data is written to disk only once and all entries share the same offset.
type Writer struct {
	outputPath string
	opts       WriterOptions
	header     Header

	tmpFile   *os.File
	tmpDir    string // directory for temp files
	tmpOffset uint64
	entries   []Entry
	dedup     map[uint64]dedupEntry // FNV-64a hash → first occurrence (for dedup)
	mu        sync.Mutex
	finalized bool

	dedupHits int64 // number of tiles that reused existing data
}

// NewWriter creates a new sink writer.
func NewWriter(outputPath string, opts WriterOptions) (*Writer, error) {
	tmpDir := opts.TempDir
	if tmpDir == "" {
		tmpDir = filepath.Dir(outputPath)
	}

	tmpFile, err := os.CreateTemp(tmpDir, "tilecount-tiles-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}

	return &Writer{
		outputPath: outputPath,
		opts:       opts,
		header:     NewHeader(opts),
		tmpFile:    tmpFile,
		tmpDir:     tmpDir,
		entries:    make([]Entry, 0, 65536),
		dedup:      make(map[uint64]dedupEntry),
	}, nil
}

// tileHash computes a FNV-64a hash of tile data for deduplication.
func tileHash(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}

// WriteTile writes a single tile. Safe for concurrent use.
//
// Identical tile data is deduplicated: if a tile with the same content has
// already been written, the new entry reuses the existing offset on disk.
// Density pyramids are full of these — every cell below FirstLevel at a
// coarse zoom renders the same mostly-empty tile.
func (w *Writer) WriteTile(z, x, y int, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	addr := tileAddress(z, x, y)
	hash := tileHash(data)

	w.mu.Lock()
	defer w.mu.Unlock()

	if de, ok := w.dedup[hash]; ok && de.length == uint32(len(data)) {
		w.entries = append(w.entries, Entry{
			Address:   addr,
			Offset:    de.offset,
			Length:    de.length,
			RunLength: 1,
		})
		w.dedupHits++
		return nil
	}

	offset := w.tmpOffset
	n, err := w.tmpFile.Write(data)
	if err != nil {
		return fmt.Errorf("writing tile data: %w", err)
	}
	w.tmpOffset += uint64(n)

	w.dedup[hash] = dedupEntry{offset: offset, length: uint32(n)}

	w.entries = append(w.entries, Entry{
		Address:   addr,
		Offset:    offset,
		Length:    uint32(len(data)),
		RunLength: 1,
	})

	return nil
}

// Finalize builds the directory and metadata and writes the final archive:
// [Header][Directory][Metadata][Tile data].
func (w *Writer) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized {
		return fmt.Errorf("already finalized")
	}
	w.finalized = true

	sort.Slice(w.entries, func(i, j int) bool {
		return w.entries[i].Address < w.entries[j].Address
	})

	// Rewrite tile data in address order so the archive is clustered: the
	// directory and the tile bytes agree on ordering, letting a reader
	// that wants a whole zoom level read it as one sequential span.
	if err := w.clusterTileData(); err != nil {
		return fmt.Errorf("clustering tile data: %w", err)
	}

	dir, err := buildDirectory(w.entries)
	if err != nil {
		return fmt.Errorf("building directory: %w", err)
	}

	metadata := w.buildMetadata()
	metadataBytes, err := compressGzip(metadata)
	if err != nil {
		return fmt.Errorf("compressing metadata: %w", err)
	}

	dirOffset := uint64(HeaderSize)
	dirLength := uint64(len(dir))
	metadataOffset := dirOffset + dirLength
	metadataLength := uint64(len(metadataBytes))
	tileDataOffset := metadataOffset + metadataLength

	w.header.DirOffset = dirOffset
	w.header.DirLength = dirLength
	w.header.MetadataOffset = metadataOffset
	w.header.MetadataLength = metadataLength
	w.header.TileDataOffset = tileDataOffset
	w.header.TileDataLength = w.tmpOffset
	w.header.NumAddressedTiles = uint64(len(w.entries))
	w.header.NumTileEntries = uint64(len(w.entries))
	w.header.NumTileContents = uint64(len(w.entries) - int(w.dedupHits))

	outFile, err := os.Create(w.outputPath)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer outFile.Close()

	if _, err := outFile.Write(w.header.Serialize()); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := outFile.Write(dir); err != nil {
		return fmt.Errorf("writing directory: %w", err)
	}
	if _, err := outFile.Write(metadataBytes); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}

	if _, err := w.tmpFile.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seeking temp file: %w", err)
	}
	if _, err := io.Copy(outFile, w.tmpFile); err != nil {
		return fmt.Errorf("copying tile data: %w", err)
	}

	tmpPath := w.tmpFile.Name()
	w.tmpFile.Close()
	os.Remove(tmpPath)

	return nil
}

// clusterTileData rewrites the temp file so tile data sits in the same
// address order as the sorted directory entries. Deduplicated tiles
// (multiple entries sharing the same old offset) are written once and all
// their entries are remapped to the single new location.
func (w *Writer) clusterTileData() error {
	newTmp, err := os.CreateTemp(w.tmpDir, "tilecount-clustered-*.tmp")
	if err != nil {
		return fmt.Errorf("creating clustered temp file: %w", err)
	}

	buf := make([]byte, 256*1024) // 256 KiB read buffer
	var newOffset uint64

	type remap struct {
		newOffset uint64
		length    uint32
	}
	seen := make(map[uint64]remap) // old offset → new location

	for i := range w.entries {
		e := &w.entries[i]

		if m, ok := seen[e.Offset]; ok && m.length == e.Length {
			e.Offset = m.newOffset
			continue
		}

		tileLen := int64(e.Length)
		if tileLen > int64(len(buf)) {
			buf = make([]byte, tileLen)
		}
		if _, err := w.tmpFile.ReadAt(buf[:tileLen], int64(e.Offset)); err != nil {
			return fmt.Errorf("reading tile at offset %d: %w", e.Offset, err)
		}
		if _, err := newTmp.Write(buf[:tileLen]); err != nil {
			return fmt.Errorf("writing tile at new offset %d: %w", newOffset, err)
		}

		oldOffset := e.Offset
		e.Offset = newOffset
		seen[oldOffset] = remap{newOffset: newOffset, length: e.Length}
		newOffset += uint64(tileLen)
	}

	oldPath := w.tmpFile.Name()
	w.tmpFile.Close()
	os.Remove(oldPath)

	w.tmpFile = newTmp
	w.tmpOffset = newOffset

	return nil
}

// Abort cleans up resources without writing the output file.
func (w *Writer) Abort() {
	if w.tmpFile != nil {
		tmpPath := w.tmpFile.Name()
		w.tmpFile.Close()
		os.Remove(tmpPath)
	}
}

// buildMetadata creates the JSON metadata for the archive: the name,
// zoom range, bounds and midpoint, and a description of the single
// "count" layer's tag schema, per the tile sink contract's metadata
// fields.
func (w *Writer) buildMetadata() []byte {
	tileFormatStr := TileTypeString(w.opts.TileFormat)

	name := w.opts.Name
	if name == "" {
		name = "tilecount"
	}

	meta := map[string]interface{}{
		"name":    name,
		"format":  tileFormatStr,
		"minzoom": fmt.Sprintf("%d", w.opts.MinZoom),
		"maxzoom": fmt.Sprintf("%d", w.opts.MaxZoom),
		"bounds": fmt.Sprintf("%.6f,%.6f,%.6f,%.6f",
			w.opts.Bounds.MinLon, w.opts.Bounds.MinLat,
			w.opts.Bounds.MaxLon, w.opts.Bounds.MaxLat),
		"center": fmt.Sprintf("%.6f,%.6f,%d",
			w.opts.MidLon, w.opts.MidLat,
			(w.opts.MinZoom+w.opts.MaxZoom)/2),
	}
	if w.opts.LayersDescriptor != "" {
		meta["description"] = w.opts.LayersDescriptor
	}
	if w.opts.VectorFlag {
		meta["vector"] = true
		meta["vector_layers"] = []map[string]interface{}{
			{
				"id":     "count",
				"fields": map[string]string{"density": "Number"},
			},
		}
	}

	data, _ := json.Marshal(meta)
	return data
}

func compressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
