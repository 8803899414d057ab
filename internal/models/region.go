package models

// Point is a location in the raster's coordinate reference system.
type Point struct {
	X, Y float64
}

// Rect is an axis-aligned rectangle in CRS units.
type Rect struct {
	MinX, MinY, MaxX, MaxY float64
}

// Width returns the rectangle's extent along X.
func (r Rect) Width() float64 { return r.MaxX - r.MinX }

// Height returns the rectangle's extent along Y.
func (r Rect) Height() float64 { return r.MaxY - r.MinY }

// ContainsPoint reports whether the point lies inside the rectangle
// (closed on all edges).
func (r Rect) ContainsPoint(p Point) bool {
	return p.X >= r.MinX && p.X <= r.MaxX && p.Y >= r.MinY && p.Y <= r.MaxY
}

// Intersects reports whether two rectangles overlap (touching edges count).
func (r Rect) Intersects(other Rect) bool {
	return r.MinX <= other.MaxX && r.MaxX >= other.MinX &&
		r.MinY <= other.MaxY && r.MaxY >= other.MinY
}

// Region is the area of interest as a simple closed polygon in CRS
// units. The last vertex is implicitly connected back to the first.
// Rectangular regions are just 4-vertex polygons, so the tiling and
// clipping code paths are identical for both.
type Region struct {
	Vertices []Point
}

// RectRegion builds a rectangular region from a bounding rectangle.
func RectRegion(r Rect) Region {
	return Region{Vertices: []Point{
		{r.MinX, r.MinY},
		{r.MaxX, r.MinY},
		{r.MaxX, r.MaxY},
		{r.MinX, r.MaxY},
	}}
}

// Bounds returns the region's axis-aligned bounding rectangle.
func (rg Region) Bounds() Rect {
	if len(rg.Vertices) == 0 {
		return Rect{}
	}
	b := Rect{
		MinX: rg.Vertices[0].X, MaxX: rg.Vertices[0].X,
		MinY: rg.Vertices[0].Y, MaxY: rg.Vertices[0].Y,
	}
	for _, v := range rg.Vertices[1:] {
		if v.X < b.MinX {
			b.MinX = v.X
		}
		if v.X > b.MaxX {
			b.MaxX = v.X
		}
		if v.Y < b.MinY {
			b.MinY = v.Y
		}
		if v.Y > b.MaxY {
			b.MaxY = v.Y
		}
	}
	return b
}

// ContainsPoint reports whether the point is inside the polygon using
// the even-odd ray casting rule. Points exactly on an edge may land on
// either side; tiling tolerates this because candidate tiles are also
// accepted on edge crossings.
func (rg Region) ContainsPoint(p Point) bool {
	inside := false
	n := len(rg.Vertices)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := rg.Vertices[i], rg.Vertices[j]
		if (vi.Y > p.Y) != (vj.Y > p.Y) &&
			p.X < (vj.X-vi.X)*(p.Y-vi.Y)/(vj.Y-vi.Y)+vi.X {
			inside = !inside
		}
	}
	return inside
}

// IntersectsRect reports whether the polygon and the rectangle share
// any area. Three cases cover all configurations of two convex-or-not
// simple shapes: a rectangle corner inside the polygon, a polygon
// vertex inside the rectangle, or a polygon edge crossing a rectangle
// edge.
func (rg Region) IntersectsRect(r Rect) bool {
	if len(rg.Vertices) == 0 {
		return false
	}

	corners := []Point{
		{r.MinX, r.MinY}, {r.MaxX, r.MinY},
		{r.MaxX, r.MaxY}, {r.MinX, r.MaxY},
	}
	for _, c := range corners {
		if rg.ContainsPoint(c) {
			return true
		}
	}

	for _, v := range rg.Vertices {
		if r.ContainsPoint(v) {
			return true
		}
	}

	n := len(rg.Vertices)
	for i := 0; i < n; i++ {
		a := rg.Vertices[i]
		b := rg.Vertices[(i+1)%n]
		for j := 0; j < 4; j++ {
			c := corners[j]
			d := corners[(j+1)%4]
			if segmentsIntersect(a, b, c, d) {
				return true
			}
		}
	}
	return false
}

// segmentsIntersect reports whether segments ab and cd intersect,
// endpoints included.
func segmentsIntersect(a, b, c, d Point) bool {
	o1 := orientation(a, b, c)
	o2 := orientation(a, b, d)
	o3 := orientation(c, d, a)
	o4 := orientation(c, d, b)

	if o1 != o2 && o3 != o4 {
		return true
	}

	// Collinear overlap cases
	if o1 == 0 && onSegment(a, c, b) {
		return true
	}
	if o2 == 0 && onSegment(a, d, b) {
		return true
	}
	if o3 == 0 && onSegment(c, a, d) {
		return true
	}
	if o4 == 0 && onSegment(c, b, d) {
		return true
	}
	return false
}

// orientation returns 0 for collinear points, 1 for clockwise and 2 for
// counterclockwise winding of the triple (p, q, r).
func orientation(p, q, r Point) int {
	v := (q.Y-p.Y)*(r.X-q.X) - (q.X-p.X)*(r.Y-q.Y)
	if v == 0 {
		return 0
	}
	if v > 0 {
		return 1
	}
	return 2
}

// onSegment reports whether point q lies on segment pr, assuming the
// three points are collinear.
func onSegment(p, q, r Point) bool {
	return q.X <= maxf(p.X, r.X) && q.X >= minf(p.X, r.X) &&
		q.Y <= maxf(p.Y, r.Y) && q.Y >= minf(p.Y, r.Y)
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
