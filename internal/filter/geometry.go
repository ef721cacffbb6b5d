package filter

import (
	"fmt"
	"math"

	"github.com/go-spatial/geom"
)

// Envelope returns the bounding box of g, or nil for an empty geometry.
func Envelope(g geom.Geometry) (*geom.Extent, error) {
	if g == nil {
		return nil, nil
	}
	if c, ok := g.(geom.Collection); ok && len(c) == 0 {
		return nil, nil
	}
	ext, err := geom.NewExtentFromGeometry(g)
	if err != nil {
		return nil, fmt.Errorf("computing envelope of %T: %w", g, err)
	}
	return ext, nil
}

// ExtentsIntersect reports whether two boxes share at least one point.
func ExtentsIntersect(a, b *geom.Extent) bool {
	if a == nil || b == nil {
		return false
	}
	return a.MinX() <= b.MaxX() && b.MinX() <= a.MaxX() &&
		a.MinY() <= b.MaxY() && b.MinY() <= a.MaxY()
}

// UnionExtents returns the smallest box covering every non-nil input, or nil.
func UnionExtents(exts ...*geom.Extent) *geom.Extent {
	var out *geom.Extent
	for _, e := range exts {
		if e == nil {
			continue
		}
		if out == nil {
			cp := *e
			out = &cp
			continue
		}
		out.Add(e)
	}
	return out
}

// GeometryArea is the planar area of polygonal geometries; other kinds are 0.
func GeometryArea(g geom.Geometry) (float64, error) {
	switch x := g.(type) {
	case geom.Polygon:
		return polygonArea(x), nil
	case *geom.Polygon:
		return polygonArea(*x), nil
	case geom.MultiPolygon:
		total := 0.0
		for _, p := range x {
			total += polygonArea(p)
		}
		return total, nil
	case *geom.MultiPolygon:
		return GeometryArea(*x)
	case geom.Collection:
		total := 0.0
		for _, member := range x {
			a, err := GeometryArea(member)
			if err != nil {
				return 0, err
			}
			total += a
		}
		return total, nil
	case geom.Point, *geom.Point, geom.MultiPoint, *geom.MultiPoint,
		geom.LineString, *geom.LineString, geom.MultiLineString, *geom.MultiLineString:
		return 0, nil
	}
	return 0, fmt.Errorf("area: unsupported geometry %T", g)
}

// GeometryLength is the planar length of lineal geometries and the perimeter
// of polygonal ones.
func GeometryLength(g geom.Geometry) (float64, error) {
	switch x := g.(type) {
	case geom.LineString:
		return pathLength(x), nil
	case *geom.LineString:
		return pathLength(*x), nil
	case geom.MultiLineString:
		total := 0.0
		for _, l := range x {
			total += pathLength(l)
		}
		return total, nil
	case *geom.MultiLineString:
		return GeometryLength(*x)
	case geom.Polygon:
		return ringsLength(x), nil
	case *geom.Polygon:
		return ringsLength(*x), nil
	case geom.MultiPolygon:
		total := 0.0
		for _, p := range x {
			total += ringsLength(p)
		}
		return total, nil
	case *geom.MultiPolygon:
		return GeometryLength(*x)
	case geom.Collection:
		total := 0.0
		for _, member := range x {
			l, err := GeometryLength(member)
			if err != nil {
				return 0, err
			}
			total += l
		}
		return total, nil
	case geom.Point, *geom.Point, geom.MultiPoint, *geom.MultiPoint:
		return 0, nil
	}
	return 0, fmt.Errorf("length: unsupported geometry %T", g)
}

// polygonArea applies the shoelace formula: shell minus holes.
func polygonArea(p [][][2]float64) float64 {
	total := 0.0
	for i, ring := range p {
		a := math.Abs(ringArea(ring))
		if i == 0 {
			total += a
		} else {
			total -= a
		}
	}
	return total
}

func ringArea(ring [][2]float64) float64 {
	n := len(ring)
	if n < 3 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += ring[i][0]*ring[j][1] - ring[j][0]*ring[i][1]
	}
	return sum / 2
}

func pathLength(pts [][2]float64) float64 {
	total := 0.0
	for i := 1; i < len(pts); i++ {
		total += math.Hypot(pts[i][0]-pts[i-1][0], pts[i][1]-pts[i-1][1])
	}
	return total
}

// ringsLength closes each ring before measuring it.
func ringsLength(p [][][2]float64) float64 {
	total := 0.0
	for _, ring := range p {
		total += pathLength(ring)
		if n := len(ring); n > 1 && ring[0] != ring[n-1] {
			total += math.Hypot(ring[0][0]-ring[n-1][0], ring[0][1]-ring[n-1][1])
		}
	}
	return total
}
