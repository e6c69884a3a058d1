// Package geo holds the tabletop geometry: detected-quad measurements and
// the pixel-to-surface perspective mapping.
package geo

import (
	"math"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/tabletrack/tracker/pkg/core"
)

// Centroid returns the mean of the quad's vertices. Marker positions are
// taken from the centroid, not the area center, matching the detector's
// own reference point.
func Centroid(q core.Quad) core.PixelPoint {
	var sx, sy float64
	for _, p := range q {
		sx += p.X
		sy += p.Y
	}
	return core.PixelPoint{X: sx / 4, Y: sy / 4}
}

// polygon builds a closed simplefeatures ring from the quad.
func polygon(q core.Quad) geom.Polygon {
	coords := make([]float64, 0, 10)
	for _, p := range q {
		coords = append(coords, p.X, p.Y)
	}
	coords = append(coords, q[0].X, q[0].Y)
	ring := geom.NewLineString(geom.NewSequence(coords, geom.DimXY))
	return geom.NewPolygon([]geom.LineString{ring})
}

// Area returns the quad's enclosed area in square pixels. Self-intersecting
// quads report zero.
func Area(q core.Quad) float64 {
	poly := polygon(q)
	if err := poly.Validate(); err != nil {
		return 0
	}
	return poly.Area()
}

// IsConvex reports whether the quad is strictly convex, i.e. every corner
// turns the same way and no three vertices are collinear.
func IsConvex(q core.Quad) bool {
	var sign float64
	for i := range q {
		a, b, c := q[i], q[(i+1)%4], q[(i+2)%4]
		cross := (b.X-a.X)*(c.Y-b.Y) - (b.Y-a.Y)*(c.X-b.X)
		if cross == 0 {
			return false
		}
		if sign == 0 {
			sign = cross
		} else if sign*cross < 0 {
			return false
		}
	}
	return true
}

// Squareness returns min(w,h)/max(w,h) of the quad's minimum-area bounding
// rectangle, in (0,1]. Foreshortened or skewed detections score lower.
// Degenerate quads return 0.
func Squareness(q core.Quad) float64 {
	if Area(q) == 0 {
		return 0
	}

	// The minimum-area rectangle of a convex polygon has one side
	// collinear with a polygon edge, so trying each edge direction is
	// exhaustive for a quad.
	best := math.Inf(1)
	squareness := 0.0
	for i := range q {
		dx := q[(i+1)%4].X - q[i].X
		dy := q[(i+1)%4].Y - q[i].Y
		length := math.Hypot(dx, dy)
		if length == 0 {
			continue
		}
		ux, uy := dx/length, dy/length

		minU, maxU := math.Inf(1), math.Inf(-1)
		minV, maxV := math.Inf(1), math.Inf(-1)
		for _, p := range q {
			u := p.X*ux + p.Y*uy
			v := -p.X*uy + p.Y*ux
			minU, maxU = math.Min(minU, u), math.Max(maxU, u)
			minV, maxV = math.Min(minV, v), math.Max(maxV, v)
		}

		w, h := maxU-minU, maxV-minV
		if w == 0 || h == 0 {
			continue
		}
		if area := w * h; area < best {
			best = area
			squareness = math.Min(w, h) / math.Max(w, h)
		}
	}
	return squareness
}

// Confidence scores a detection in [0,1] from its apparent size and shape:
// clamp(area/areaNorm, 0, 1) scaled by squareness. This is a detection
// reliability heuristic, not a geometric accuracy bound; areaNorm is the
// pixel area at which size stops helping.
func Confidence(q core.Quad, areaNorm float64) float64 {
	if areaNorm <= 0 {
		return 0
	}
	c := math.Min(1, Area(q)/areaNorm) * Squareness(q)
	return math.Max(0, math.Min(1, c))
}
