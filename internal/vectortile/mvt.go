package vectortile

// Geometry command ids, per the MVT command integer encoding: the low 3
// bits hold the command id, the remaining bits hold a repeat count.
const (
	cmdMoveTo    = 1
	cmdLineTo    = 2
	cmdClosePath = 7
)

const geomTypePolygon = 3

// layerBuilder accumulates one MVT layer's features, string keys and values.
// Values are deduplicated so that repeated density buckets share one entry.
type layerBuilder struct {
	name     string
	extent   uint32
	keys     []string
	keyIndex map[string]int
	values   []uint64 // uint_value only; this package never emits other value kinds
	valIndex map[uint64]int
	features [][]byte
}

func newLayerBuilder(name string, extent uint32) *layerBuilder {
	return &layerBuilder{
		name:     name,
		extent:   extent,
		keyIndex: make(map[string]int),
		valIndex: make(map[uint64]int),
	}
}

func (l *layerBuilder) keyIdx(k string) int {
	if i, ok := l.keyIndex[k]; ok {
		return i
	}
	i := len(l.keys)
	l.keys = append(l.keys, k)
	l.keyIndex[k] = i
	return i
}

func (l *layerBuilder) valIdx(v uint64) int {
	if i, ok := l.valIndex[v]; ok {
		return i
	}
	i := len(l.values)
	l.values = append(l.values, v)
	l.valIndex[v] = i
	return i
}

// addSquaresFeature encodes one feature of geomType polygon carrying one
// tag (key -> uint value) and a multi-ring geometry, one ring per entry in
// rings. Rings share the feature's cursor: each ring's MoveTo is relative to
// wherever the previous ring's ClosePath left the cursor.
func (l *layerBuilder) addSquaresFeature(key string, value uint64, rings [][][2]int32) {
	ki := l.keyIdx(key)
	vi := l.valIdx(value)

	var tags []byte
	tags = appendVarint(tags, uint64(ki))
	tags = appendVarint(tags, uint64(vi))

	var geom []byte
	var cx, cy int32
	for _, ring := range rings {
		if len(ring) < 3 {
			continue
		}
		geom = appendVarint(geom, uint32CommandInt(cmdMoveTo, 1))
		dx, dy := ring[0][0]-cx, ring[0][1]-cy
		geom = appendVarint(geom, uint64(zigzag(dx)))
		geom = appendVarint(geom, uint64(zigzag(dy)))
		cx, cy = ring[0][0], ring[0][1]

		geom = appendVarint(geom, uint32CommandInt(cmdLineTo, len(ring)-1))
		for _, pt := range ring[1:] {
			dx, dy = pt[0]-cx, pt[1]-cy
			geom = appendVarint(geom, uint64(zigzag(dx)))
			geom = appendVarint(geom, uint64(zigzag(dy)))
			cx, cy = pt[0], pt[1]
		}

		geom = appendVarint(geom, uint32CommandInt(cmdClosePath, 1))
	}

	var feat []byte
	feat = appendBytesField(feat, 2, tags) // Feature.tags (packed varint field)
	feat = appendVarintField(feat, 3, geomTypePolygon)
	feat = appendBytesField(feat, 4, geom) // Feature.geometry (packed varint field)

	l.features = append(l.features, feat)
}

func uint32CommandInt(id, count int) uint64 {
	return uint64(id&0x7)&0x7 | uint64(count)<<3
}

// encode serializes the layer as an MVT Layer message.
func (l *layerBuilder) encode() []byte {
	var buf []byte
	buf = appendVarintField(buf, 15, 2) // version
	buf = appendBytesField(buf, 1, []byte(l.name))
	for _, feat := range l.features {
		buf = appendBytesField(buf, 2, feat)
	}
	for _, k := range l.keys {
		buf = appendBytesField(buf, 3, []byte(k))
	}
	for _, v := range l.values {
		var val []byte
		val = appendVarintField(val, 5, v) // Value.uint_value
		buf = appendBytesField(buf, 4, val)
	}
	buf = appendVarintField(buf, 5, uint64(l.extent))
	return buf
}

// EncodeTile serializes a single-layer MVT tile.
func EncodeTile(layer *layerBuilder) []byte {
	var buf []byte
	return appendBytesField(buf, 3, layer.encode())
}
