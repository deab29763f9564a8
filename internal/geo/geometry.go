// Package geo holds the in-memory spatial index for geofences and accident
// zones, plus the distance and containment primitives it is built on.
package geo

import (
	"fmt"
	"math"

	geom "github.com/twpayne/go-geom"
)

const earthRadiusMeters = 6371000

// metersPerDegreeLat is close enough for projecting delivery-scale
// geometry; longitude is scaled by cos(lat).
const metersPerDegreeLat = 111320.0

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64
	Lng float64
}

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(a, b Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// project maps p into a planar frame centered on origin using an
// equirectangular projection. Good enough for geometry whose bounding-box
// diagonal stays under ~50 km.
func project(origin, p Point) (x, y float64) {
	x = (p.Lng - origin.Lng) * metersPerDegreeLat * math.Cos(toRad(origin.Lat))
	y = (p.Lat - origin.Lat) * metersPerDegreeLat
	return x, y
}

// onSegmentTolerance absorbs float error when deciding whether a projected
// point sits exactly on a polygon edge.
const onSegmentTolerance = 1e-6

// pointInRing is edge-inclusive ray casting over projected coordinates.
// ring must be closed (first == last).
func pointInRing(x, y float64, ring [][2]float64) bool {
	for i := 0; i < len(ring)-1; i++ {
		if onSegment(x, y, ring[i], ring[i+1]) {
			return true
		}
	}
	inside := false
	for i := 0; i < len(ring)-1; i++ {
		x1, y1 := ring[i][0], ring[i][1]
		x2, y2 := ring[i+1][0], ring[i+1][1]
		if (y1 > y) != (y2 > y) {
			xCross := x1 + (y-y1)/(y2-y1)*(x2-x1)
			if x < xCross {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(x, y float64, a, b [2]float64) bool {
	minX, maxX := math.Min(a[0], b[0]), math.Max(a[0], b[0])
	minY, maxY := math.Min(a[1], b[1]), math.Max(a[1], b[1])
	if x < minX-onSegmentTolerance || x > maxX+onSegmentTolerance ||
		y < minY-onSegmentTolerance || y > maxY+onSegmentTolerance {
		return false
	}
	cross := (b[0]-a[0])*(y-a[1]) - (b[1]-a[1])*(x-a[0])
	segLen := math.Hypot(b[0]-a[0], b[1]-a[1])
	if segLen == 0 {
		return math.Hypot(x-a[0], y-a[1]) <= onSegmentTolerance
	}
	return math.Abs(cross)/segLen <= onSegmentTolerance
}

// ValidateRing checks a polygon ring for use as a geofence: at least three
// distinct vertices, and simple (no self-intersection). Vertices are
// [lng, lat] pairs; the ring may be explicitly or implicitly closed.
// Returns the closed ring.
func ValidateRing(vertices [][2]float64) ([][2]float64, error) {
	ring := closeRing(vertices)
	if len(ring) < 4 {
		return nil, fmt.Errorf("polygon needs at least 3 distinct vertices")
	}
	distinct := make(map[[2]float64]bool, len(ring)-1)
	for _, v := range ring[:len(ring)-1] {
		distinct[v] = true
	}
	if len(distinct) < 3 {
		return nil, fmt.Errorf("polygon needs at least 3 distinct vertices")
	}

	// go-geom rejects malformed linear rings at construction time.
	coords := make([]geom.Coord, len(ring))
	for i, v := range ring {
		coords[i] = geom.Coord{v[0], v[1]}
	}
	if _, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{coords}); err != nil {
		return nil, fmt.Errorf("invalid polygon ring: %w", err)
	}

	if selfIntersects(ring) {
		return nil, fmt.Errorf("polygon is self-intersecting")
	}
	return ring, nil
}

func closeRing(vertices [][2]float64) [][2]float64 {
	if len(vertices) == 0 {
		return vertices
	}
	if vertices[0] == vertices[len(vertices)-1] {
		return vertices
	}
	closed := make([][2]float64, 0, len(vertices)+1)
	closed = append(closed, vertices...)
	return append(closed, vertices[0])
}

// selfIntersects tests every non-adjacent segment pair of a closed ring.
// O(n^2) is fine at delivery-geofence vertex counts.
func selfIntersects(ring [][2]float64) bool {
	n := len(ring) - 1
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			// Skip adjacent segments, including the wrap-around pair.
			if j == i || j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			if segmentsCross(ring[i], ring[i+1], ring[j], ring[j+1]) {
				return true
			}
		}
	}
	return false
}

func segmentsCross(p1, p2, p3, p4 [2]float64) bool {
	d1 := direction(p3, p4, p1)
	d2 := direction(p3, p4, p2)
	d3 := direction(p1, p2, p3)
	d4 := direction(p1, p2, p4)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return false
}

func direction(a, b, c [2]float64) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

// ringCentroid is the vertex mean of an open or closed ring, used as the
// projection origin for containment tests.
func ringCentroid(ring [][2]float64) Point {
	n := len(ring) - 1 // last vertex duplicates the first
	if n <= 0 {
		return Point{}
	}
	var sumLng, sumLat float64
	for _, v := range ring[:n] {
		sumLng += v[0]
		sumLat += v[1]
	}
	return Point{Lat: sumLat / float64(n), Lng: sumLng / float64(n)}
}
