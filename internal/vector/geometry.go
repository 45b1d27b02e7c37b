package vector

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// Centroid returns the centroid of g.
func Centroid(g geom.T) (float64, float64, error) {
	c, err := xy.Centroid(g)
	if err != nil {
		return 0, 0, eris.Wrap(err, "vector: centroid")
	}
	if len(c) < 2 || math.IsNaN(c[0]) || math.IsNaN(c[1]) {
		return 0, 0, eris.New("vector: centroid of empty geometry")
	}
	return c[0], c[1], nil
}

// Length returns the total length of linear geometries and the perimeter of
// areal ones.
func Length(g geom.T) float64 {
	switch t := g.(type) {
	case *geom.LineString:
		return t.Length()
	case *geom.MultiLineString:
		return t.Length()
	case *geom.Polygon:
		return t.Length()
	case *geom.MultiPolygon:
		return t.Length()
	}
	return 0
}

// Area returns the planar area of polygonal geometries.
func Area(g geom.T) float64 {
	switch t := g.(type) {
	case *geom.Polygon:
		return t.Area()
	case *geom.MultiPolygon:
		return t.Area()
	}
	return 0
}

// polygons returns the polygon parts of g.
func polygons(g geom.T) []*geom.Polygon {
	switch t := g.(type) {
	case *geom.Polygon:
		return []*geom.Polygon{t}
	case *geom.MultiPolygon:
		out := make([]*geom.Polygon, 0, t.NumPolygons())
		for i := 0; i < t.NumPolygons(); i++ {
			out = append(out, t.Polygon(i))
		}
		return out
	}
	return nil
}

// paths returns every vertex sequence of g as flat XY-strided slices:
// linestrings for linear geometries, rings for polygons.
func paths(g geom.T) [][]float64 {
	switch t := g.(type) {
	case *geom.LineString:
		return [][]float64{t.FlatCoords()}
	case *geom.MultiLineString:
		out := make([][]float64, 0, t.NumLineStrings())
		for i := 0; i < t.NumLineStrings(); i++ {
			out = append(out, t.LineString(i).FlatCoords())
		}
		return out
	case *geom.Polygon, *geom.MultiPolygon:
		var out [][]float64
		for _, p := range polygons(g) {
			for i := 0; i < p.NumLinearRings(); i++ {
				out = append(out, p.LinearRing(i).FlatCoords())
			}
		}
		return out
	}
	return nil
}

// ContainsPoint reports whether (x, y) lies inside a polygonal geometry,
// honouring holes. Non-polygonal geometries contain nothing.
func ContainsPoint(g geom.T, x, y float64) bool {
	p := geom.Coord{x, y}
	for _, poly := range polygons(g) {
		if poly.NumLinearRings() == 0 {
			continue
		}
		if !xy.IsPointInRing(poly.Layout(), p, poly.LinearRing(0).FlatCoords()) {
			continue
		}
		inHole := false
		for i := 1; i < poly.NumLinearRings(); i++ {
			if xy.IsPointInRing(poly.Layout(), p, poly.LinearRing(i).FlatCoords()) {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

// DistanceToPoint returns the planar distance from (x, y) to g. Points
// inside a polygon are at distance zero.
func DistanceToPoint(g geom.T, x, y float64) float64 {
	p := geom.Coord{x, y}
	switch t := g.(type) {
	case *geom.Point:
		return xy.Distance(p, t.Coords())
	case *geom.MultiPoint:
		best := math.Inf(1)
		for i := 0; i < t.NumPoints(); i++ {
			best = math.Min(best, xy.Distance(p, t.Point(i).Coords()))
		}
		return best
	case *geom.Polygon, *geom.MultiPolygon:
		if ContainsPoint(g, x, y) {
			return 0
		}
	}

	best := math.Inf(1)
	for _, path := range paths(g) {
		if len(path) < 2 {
			continue
		}
		best = math.Min(best, xy.DistanceFromPointToLineString(geom.XY, p, path))
	}
	return best
}

// Intersects reports whether two geometries share at least one point. It
// handles any combination of points, lines and polygons.
func Intersects(a, b geom.T) bool {
	if !a.Bounds().Overlaps(geom.XY, b.Bounds()) {
		return false
	}

	// A vertex of one inside the other.
	for _, pair := range [][2]geom.T{{a, b}, {b, a}} {
		flat := pair[0].FlatCoords()
		stride := pair[0].Stride()
		for i := 0; i+1 < len(flat); i += stride {
			if DistanceToPoint(pair[1], flat[i], flat[i+1]) == 0 {
				return true
			}
		}
	}

	// Crossing segments.
	for _, pa := range paths(a) {
		for _, pb := range paths(b) {
			if pathsCross(pa, pb) {
				return true
			}
		}
	}
	return false
}

func pathsCross(a, b []float64) bool {
	for i := 0; i+3 < len(a); i += 2 {
		a0, a1 := geom.Coord{a[i], a[i+1]}, geom.Coord{a[i+2], a[i+3]}
		if a0.Equal(geom.XY, a1) {
			continue
		}
		for j := 0; j+3 < len(b); j += 2 {
			b0, b1 := geom.Coord{b[j], b[j+1]}, geom.Coord{b[j+2], b[j+3]}
			if b0.Equal(geom.XY, b1) {
				continue
			}
			if xy.DistanceFromLineToLine(a0, a1, b0, b1) == 0 {
				return true
			}
		}
	}
	return false
}

// Distance returns the minimum planar distance between two geometries, or
// zero when they intersect.
func Distance(a, b geom.T) float64 {
	if Intersects(a, b) {
		return 0
	}

	best := math.Inf(1)
	for _, pair := range [][2]geom.T{{a, b}, {b, a}} {
		flat := pair[0].FlatCoords()
		stride := pair[0].Stride()
		for i := 0; i+1 < len(flat); i += stride {
			best = math.Min(best, DistanceToPoint(pair[1], flat[i], flat[i+1]))
		}
	}
	for _, pa := range paths(a) {
		for _, pb := range paths(b) {
			best = math.Min(best, pathDistance(pa, pb))
		}
	}
	return best
}

func pathDistance(a, b []float64) float64 {
	best := math.Inf(1)
	for i := 0; i+3 < len(a); i += 2 {
		a0, a1 := geom.Coord{a[i], a[i+1]}, geom.Coord{a[i+2], a[i+3]}
		if a0.Equal(geom.XY, a1) {
			continue
		}
		for j := 0; j+3 < len(b); j += 2 {
			b0, b1 := geom.Coord{b[j], b[j+1]}, geom.Coord{b[j+2], b[j+3]}
			if b0.Equal(geom.XY, b1) {
				continue
			}
			best = math.Min(best, xy.DistanceFromLineToLine(a0, a1, b0, b1))
		}
	}
	return best
}
