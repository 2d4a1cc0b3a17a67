// Command tilecountinfo is a read-only inspector for a tilecount sink
// archive: it prints the header, the metadata record, and a per-zoom tile
// count, mirroring the read-a-produced-artifact-back role the teacher's
// cmd/coginfo and cmd/debug tools play for COG inputs.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/cuulee/tilecount/internal/sink"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tilecountinfo <output.tiles>\n\n")
		fmt.Fprintf(os.Stderr, "Print the header, metadata, and per-zoom tile counts of a tilecount archive.\n")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	r, err := sink.OpenReader(flag.Arg(0))
	if err != nil {
		log.Fatalf("Opening %s: %v", flag.Arg(0), err)
	}
	defer r.Close()

	h := r.Header()
	fmt.Println("Header:")
	fmt.Printf("  %-18s %s\n", "Tile type:", sink.TileTypeString(h.TileType))
	fmt.Printf("  %-18s %d - %d\n", "Zoom range:", h.MinZoom, h.MaxZoom)
	fmt.Printf("  %-18s [%.6f, %.6f] - [%.6f, %.6f]\n", "Bounds:", h.MinLon, h.MinLat, h.MaxLon, h.MaxLat)
	fmt.Printf("  %-18s %.6f, %.6f (zoom %d)\n", "Center:", h.CenterLon, h.CenterLat, h.CenterZoom)
	fmt.Printf("  %-18s %d\n", "Addressed tiles:", h.NumAddressedTiles)
	fmt.Printf("  %-18s %d\n", "Tile entries:", h.NumTileEntries)
	fmt.Printf("  %-18s %d\n", "Tile contents:", h.NumTileContents)
	fmt.Printf("  %-18s %v\n", "Clustered:", h.Clustered)

	meta, err := r.ReadMetadata()
	if err != nil {
		log.Fatalf("Reading metadata: %v", err)
	}
	if meta != nil {
		fmt.Println("Metadata:")
		pretty, _ := json.MarshalIndent(meta, "  ", "  ")
		fmt.Printf("  %s\n", pretty)
	}

	fmt.Println("Tiles per zoom:")
	for z := int(h.MinZoom); z <= int(h.MaxZoom); z++ {
		tiles := r.TilesAtZoom(z)
		fmt.Printf("  zoom %2d: %d tiles\n", z, len(tiles))
	}
	fmt.Printf("Total tiles: %d\n", r.NumTiles())
}
