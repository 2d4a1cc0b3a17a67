package sink

// Sink is the opaque tile destination the emit pass writes to: open once
// at pipeline start, accept tiles and one final metadata summary, close
// once at the end. Writer is the only implementation, but callers (and
// tests) depend on this interface rather than *Writer directly.
type Sink interface {
	WriteTile(z, x, y int, data []byte) error
	WriteMetadata(Metadata) error
	Close() error
}

// Metadata is the whole-archive summary available only once both pipeline
// passes have finished: the observed bounding box, its midpoint (including
// the quirky, locally-tracked "hottest cell" midpoint the original tool
// computed), and the zoom range actually tiled.
type Metadata struct {
	Name             string
	MinZoom, MaxZoom int
	Bounds           Bounds
	MidLon, MidLat   float64
	LayersDescriptor string
	VectorFlag       bool
}

// WriteMetadata records the archive's summary metadata, to be serialized
// when Close runs. It may be called at most once, after the last tile.
func (w *Writer) WriteMetadata(m Metadata) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.opts.Name = m.Name
	w.opts.MinZoom = m.MinZoom
	w.opts.MaxZoom = m.MaxZoom
	w.opts.Bounds = m.Bounds
	w.opts.MidLon, w.opts.MidLat = m.MidLon, m.MidLat
	w.opts.LayersDescriptor = m.LayersDescriptor
	w.opts.VectorFlag = m.VectorFlag
	w.header = NewHeader(w.opts)
	return nil
}

// Close finalizes the archive and writes it to the output path.
func (w *Writer) Close() error {
	return w.Finalize()
}

var _ Sink = (*Writer)(nil)
