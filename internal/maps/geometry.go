// README: Guidance geometry: great-circle distances and projection of a position onto a route path.
package maps

import (
	"math"

	"navi/internal/types"
)

const earthRadiusM = 6371000.0

// HaversineM returns the great-circle distance in metres between two points.
func HaversineM(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusM * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// path is a route polyline with cumulative distances per vertex.
type path struct {
	points []types.Point
	cum    []float64
}

func newPath(points []types.Point) path {
	cum := make([]float64, len(points))
	for i := 1; i < len(points); i++ {
		cum[i] = cum[i-1] + HaversineM(points[i-1], points[i])
	}
	return path{points: points, cum: cum}
}

func (p path) length() float64 {
	if len(p.cum) == 0 {
		return 0
	}
	return p.cum[len(p.cum)-1]
}

// fix is where a position lands on a path.
type fix struct {
	alongM      float64 // distance from the path start to the projected point
	crossTrackM float64 // distance from the position to the projected point
}

// locate projects pos onto the nearest segment of p. Segments are treated as
// flat in a local equirectangular frame, which holds at guidance scales.
func (p path) locate(pos types.Point) fix {
	switch len(p.points) {
	case 0:
		return fix{crossTrackM: math.Inf(1)}
	case 1:
		return fix{crossTrackM: HaversineM(pos, p.points[0])}
	}

	best := fix{crossTrackM: math.Inf(1)}
	for i := 1; i < len(p.points); i++ {
		a, b := p.points[i-1], p.points[i]
		t, d := projectOnSegment(pos, a, b)
		if d < best.crossTrackM {
			best = fix{alongM: p.cum[i-1] + t*(p.cum[i]-p.cum[i-1]), crossTrackM: d}
		}
	}
	return best
}

// projectOnSegment returns the clamped fraction t along a→b of the closest
// point to pos, and the distance in metres from pos to that point.
func projectOnSegment(pos, a, b types.Point) (float64, float64) {
	k := math.Cos(degreesToRadians((a.Lat + b.Lat) / 2))
	bx, by := (b.Lng-a.Lng)*k, b.Lat-a.Lat
	px, py := (pos.Lng-a.Lng)*k, pos.Lat-a.Lat

	t := 0.0
	if l2 := bx*bx + by*by; l2 > 0 {
		t = (px*bx + py*by) / l2
	}
	t = math.Max(0, math.Min(1, t))

	closest := types.Point{
		Lat: a.Lat + t*(b.Lat-a.Lat),
		Lng: a.Lng + t*(b.Lng-a.Lng),
	}
	return t, HaversineM(pos, closest)
}
