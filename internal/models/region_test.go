package models

import (
	"math"
	"testing"
)

// TestRectRegionContainment verifies even-odd containment on a simple
// rectangle.
func TestRectRegionContainment(t *testing.T) {
	region := RectRegion(Rect{MinX: 0, MinY: 0, MaxX: 2, MaxY: 1})

	inside := []Point{{1, 0.5}, {0.1, 0.1}, {1.9, 0.9}}
	for _, p := range inside {
		if !region.ContainsPoint(p) {
			t.Errorf("Expected point (%g, %g) inside region", p.X, p.Y)
		}
	}

	outside := []Point{{-0.1, 0.5}, {2.1, 0.5}, {1, 1.5}, {1, -0.5}}
	for _, p := range outside {
		if region.ContainsPoint(p) {
			t.Errorf("Expected point (%g, %g) outside region", p.X, p.Y)
		}
	}
}

// TestTriangleIntersectsRect verifies the three intersection cases:
// corner-in-polygon, vertex-in-rect and edge crossing, plus a clear
// miss.
func TestTriangleIntersectsRect(t *testing.T) {
	triangle := Region{Vertices: []Point{{0, 0}, {4, 0}, {0, 4}}}

	cases := []struct {
		name string
		rect Rect
		want bool
	}{
		{"rect fully inside", Rect{0.5, 0.5, 1, 1}, true},
		{"triangle vertex inside rect", Rect{-1, -1, 1, 1}, true},
		{"edge crossing only", Rect{1.5, 1.5, 5, 5}, true},
		{"far corner miss", Rect{3.5, 3.5, 5, 5}, false},
		{"fully outside", Rect{10, 10, 11, 11}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := triangle.IntersectsRect(tc.rect); got != tc.want {
				t.Errorf("Expected IntersectsRect=%v for %+v, got %v", tc.want, tc.rect, got)
			}
		})
	}
}

// TestRegionBounds verifies the bounding box of a polygon.
func TestRegionBounds(t *testing.T) {
	region := Region{Vertices: []Point{{1, 2}, {5, -1}, {3, 7}}}
	b := region.Bounds()
	if b.MinX != 1 || b.MaxX != 5 || b.MinY != -1 || b.MaxY != 7 {
		t.Errorf("Expected bounds (1,-1)-(5,7), got (%g,%g)-(%g,%g)",
			b.MinX, b.MinY, b.MaxX, b.MaxY)
	}
}

// TestGridZipMasksNaN verifies that NaN in either operand propagates.
func TestGridZipMasksNaN(t *testing.T) {
	a := NewGrid(2, 1)
	b := NewGrid(2, 1)
	a.Set(0, 0, 1)
	b.Set(0, 0, 2)
	a.Set(1, 0, math.NaN())
	b.Set(1, 0, 3)

	sum := a.Zip(b, func(x, y float64) float64 { return x + y })
	if sum.At(0, 0) != 3 {
		t.Errorf("Expected 3 at valid pixel, got %g", sum.At(0, 0))
	}
	if !math.IsNaN(sum.At(1, 0)) {
		t.Errorf("Expected NaN where an operand is invalid, got %g", sum.At(1, 0))
	}
	if sum.ValidCount() != 1 {
		t.Errorf("Expected 1 valid pixel, got %d", sum.ValidCount())
	}
}

// TestGridPercentile verifies nearest-rank percentiles ignore NaN.
func TestGridPercentile(t *testing.T) {
	g := NewGrid(5, 1)
	for i, v := range []float64{10, 20, 30, 40, math.NaN()} {
		g.Data[i] = v
	}
	if got := g.Percentile(50); got != 20 {
		t.Errorf("Expected 50th percentile 20, got %g", got)
	}
	if got := g.Percentile(100); got != 40 {
		t.Errorf("Expected 100th percentile 40, got %g", got)
	}
}

// TestWindowForAbutment verifies that rectangles sharing an edge map to
// abutting pixel windows with no gap and no overlap.
func TestWindowForAbutment(t *testing.T) {
	transform := GeoTransform{OriginX: 0, OriginY: 2, PixelWidth: 0.25, PixelHeight: -0.25}

	left := WindowFor(Rect{MinX: 0, MinY: 0, MaxX: 1.1, MaxY: 2}, transform, 8, 8)
	right := WindowFor(Rect{MinX: 1.1, MinY: 0, MaxX: 2, MaxY: 2}, transform, 8, 8)

	if left.X != 0 {
		t.Errorf("Expected left window to start at 0, got %d", left.X)
	}
	if left.X+left.Width != right.X {
		t.Errorf("Expected windows to abut: left ends at %d, right starts at %d",
			left.X+left.Width, right.X)
	}
	if right.X+right.Width != 8 {
		t.Errorf("Expected right window to end at 8, got %d", right.X+right.Width)
	}
	if left.Height != 8 || right.Height != 8 {
		t.Errorf("Expected full-height windows, got %d and %d", left.Height, right.Height)
	}
}
