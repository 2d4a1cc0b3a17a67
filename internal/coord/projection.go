package coord

import "math"

// WorldBits is the bit depth of a single world coordinate axis, as encoded
// in a record's spatial index (two of these interleave into a 64-bit index).
const WorldBits = 32

// ToLonLat projects a 32-bit world coordinate pair (the same (wx, wy) space
// that Encode/Decode operate on, at full 32-bit precision, i.e. as if it
// were a tile coordinate at zoom 32) to WGS84 longitude/latitude in
// degrees. World coordinates are assumed to already live in the same
// normalized space web-mercator tile coordinates do: x/y each range over
// [0, 2^32) covering the whole globe.
func ToLonLat(wx, wy uint32) (lon, lat float64) {
	n := math.Exp2(WorldBits)
	lon = float64(wx)/n*360.0 - 180.0
	yFrac := float64(wy) / n
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*yFrac)))
	lat = latRad * 180.0 / math.Pi
	return lon, lat
}

// BoundsToLonLat projects a world-coordinate bounding box (minx, miny,
// maxx, maxy) to (minLon, minLat, maxLon, maxLat). World y grows downward
// (north at y=0), matching standard slippy-map tile coordinates, so the
// box's maximum latitude comes from its minimum y.
func BoundsToLonLat(minx, miny, maxx, maxy uint32) (minLon, minLat, maxLon, maxLat float64) {
	minLon, maxLat = ToLonLat(minx, miny)
	maxLon, minLat = ToLonLat(maxx, maxy)
	return
}
