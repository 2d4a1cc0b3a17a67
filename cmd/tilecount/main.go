// Command tilecount turns a sorted (spatial-index, count) record file into
// a pyramid of density tiles, using the two-pass sharded aggregator in
// internal/pipeline. Option parsing follows the teacher's
// cmd/geotiff2pmtiles/main.go idiom exactly: a flat flag.FlagSet, a verbose
// settings summary printed before work starts, log.Fatalf on any fatal
// error.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cuulee/tilecount/internal/pipeline"
)

func main() {
	var (
		zoom        int
		detail      int
		levels      int
		firstLevel  int
		countGamma  float64
		bitmap      bool
		colorStr    string
		white       bool
		force       bool
		mergeRings  bool
		concurrency int
		verbose     bool
		showVersion bool
	)

	flag.IntVar(&zoom, "zoom", 14, "Maximum zoom level; the pyramid runs from zoom-detail+1 zoom levels up to this one")
	flag.IntVar(&detail, "detail", 9, "Tile resolution exponent: tiles are 2^detail cells per side")
	flag.IntVar(&levels, "levels", 50, "Number of density levels in the level-mapping function")
	flag.IntVar(&firstLevel, "first-level", 6, "Minimum density level that produces visible output")
	flag.Float64Var(&countGamma, "count-gamma", 2.5, "Gamma exponent for the count-to-level curve")
	flag.BoolVar(&bitmap, "bitmap", false, "Emit PNG raster tiles instead of vector tiles")
	flag.StringVar(&colorStr, "color", "ff0000", "Bitmap fill color as a hex RRGGBB triple")
	flag.BoolVar(&white, "white", false, "White background: blend toward black instead of white above the midpoint level")
	flag.BoolVar(&force, "force", false, "Overwrite an existing output file")
	flag.BoolVar(&mergeRings, "merge-rings", false, "Merge adjacent same-density vector squares into rings (vector mode only)")
	flag.IntVar(&concurrency, "concurrency", runtime.NumCPU(), "Number of parallel shard workers")
	flag.BoolVar(&verbose, "verbose", false, "Verbose progress output")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tilecount [flags] <input.records> <output.tiles>\n\n")
		fmt.Fprintf(os.Stderr, "Aggregate a sorted record file into a density tile pyramid.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if showVersion {
		fmt.Println("tilecount dev")
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) != 2 {
		flag.Usage()
		os.Exit(1)
	}
	inputPath, outputPath := args[0], args[1]

	color, err := parseHexColor(colorStr)
	if err != nil {
		log.Fatalf("Color: %v", err)
	}

	if !force {
		if _, err := os.Stat(outputPath); err == nil {
			log.Fatalf("%s already exists (use -force to overwrite)", outputPath)
		}
	} else {
		os.Remove(outputPath)
	}

	// zoom is the maximum zoom level; the pyramid covers zooms zoom-levels
	// worth of detail doublings down from there, so detail must leave room
	// for at least one zoom level.
	if zoom < detail+1 {
		log.Fatalf("configuration fault: -zoom (%d) must be >= -detail+1 (%d)", zoom, detail+1)
	}
	zooms := zoom - detail + 1

	fmt.Println("tilecount")
	fmt.Printf("  %-14s %d\n", "Max zoom:", zoom)
	fmt.Printf("  %-14s %d\n", "Zoom levels:", zooms)
	fmt.Printf("  %-14s %d (%dx%d cells/tile)\n", "Detail:", detail, 1<<uint(detail), 1<<uint(detail))
	fmt.Printf("  %-14s %d\n", "Levels:", levels)
	fmt.Printf("  %-14s %d\n", "First level:", firstLevel)
	fmt.Printf("  %-14s %.2f\n", "Count gamma:", countGamma)
	if bitmap {
		fmt.Printf("  %-14s PNG (color #%s%s)\n", "Format:", colorStr, map[bool]string{true: ", white bg", false: ""}[white])
	} else {
		fmt.Printf("  %-14s vector\n", "Format:")
	}
	fmt.Printf("  %-14s %d\n", "Concurrency:", concurrency)
	fmt.Printf("  %-14s %s\n", "Input:", inputPath)
	fmt.Printf("  %-14s %s\n", "Output:", outputPath)

	cfg := pipeline.Config{
		Zoom:        zooms,
		Detail:      detail,
		Levels:      levels,
		FirstLevel:  firstLevel,
		CountGamma:  countGamma,
		Bitmap:      bitmap,
		Color:       color,
		White:       white,
		Force:       force,
		MergeRings:  mergeRings,
		Concurrency: concurrency,
		Verbose:     verbose,
		InputPath:   inputPath,
		OutputPath:  outputPath,
	}

	res, err := pipeline.Run(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Pipeline: %v", err)
	}

	fmt.Printf("Done: %s tiles (%s skipped as empty), %s, pass0 %v, pass1 %v\n",
		humanize.Comma(res.TilesEmitted), humanize.Comma(res.TilesSkipped),
		humanize.Bytes(uint64(res.BytesWritten)),
		res.Pass0Elapsed.Round(time.Millisecond), res.Pass1Elapsed.Round(time.Millisecond))
	if res.OutOfOrder > 0 {
		log.Printf("WARNING: %d out-of-order record pair(s) encountered", res.OutOfOrder)
	}
	if verbose {
		for z, m := range res.ZoomMax {
			var fit uint64
			if z < len(res.Regression) {
				fit = res.Regression[z]
			}
			log.Printf("zoom %2d: zoom_max=%d regression_fit=%d", z, m, fit)
		}
	}
}

// parseHexColor parses "RRGGBB" or "#RRGGBB" into a packed 0xRRGGBB value.
func parseHexColor(s string) (uint32, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return 0, fmt.Errorf("color must be RRGGBB, got %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return uint32(v), nil
}
