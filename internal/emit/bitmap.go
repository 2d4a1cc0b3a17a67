package emit

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// BitmapOptions configures the bitmap rendering of a tile's mapped levels.
type BitmapOptions struct {
	Levels int
	Color  uint32 // 0xRRGGBB
	White  bool   // white background: fade toward black instead of white above the midpoint level
}

// RenderBitmap paints a dim x dim grid of mapped levels as an RGBA PNG. Below
// half the level range, the configured color fades in via alpha; above it,
// the color blends toward white or black (the "fg" color) at full opacity.
// This exactly mirrors the original tool's two-branch color ramp.
func RenderBitmap(levels []int, dim int, opts BitmapOptions) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, dim, dim))

	fg := 0xFF
	if opts.White {
		fg = 0x00
	}
	cr := int((opts.Color >> 16) & 0xFF)
	cg := int((opts.Color >> 8) & 0xFF)
	cb := int((opts.Color >> 0) & 0xFF)
	half := opts.Levels / 2

	for y := 0; y < dim; y++ {
		for x := 0; x < dim; x++ {
			lv := levels[y*dim+x]
			var r, g, b, a int
			if lv <= half {
				r, g, b = cr, cg, cb
				if half > 0 {
					a = 255 * lv / half
				}
			} else {
				denom := opts.Levels - half
				along := 0.0
				if denom > 0 {
					along = float64(lv-half) / float64(denom)
				}
				r = int(float64(cr)*(1-along) + float64(fg)*along)
				g = int(float64(cg)*(1-along) + float64(fg)*along)
				b = int(float64(cb)*(1-along) + float64(fg)*along)
				a = 255
			}
			img.SetRGBA(x, y, color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: uint8(a)})
		}
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
