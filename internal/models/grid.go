package models

import (
	"math"
	"sort"
)

// Grid is a rectangular 2D array of float64 values stored in row-major
// order. It is the in-memory replacement for a single raster band or a
// derived index layer: all pipeline arithmetic is eager and explicit
// rather than deferred to a remote image-algebra engine.
//
// Invalid pixels (nodata, masked-out, divide-by-zero results) are
// represented as NaN so they propagate through arithmetic automatically.
type Grid struct {
	// Width and Height are the grid dimensions in pixels
	Width  int
	Height int

	// Data holds the pixel values in row-major order (y*Width + x)
	Data []float64
}

// NewGrid creates a zero-filled grid with the given dimensions.
func NewGrid(width, height int) *Grid {
	return &Grid{
		Width:  width,
		Height: height,
		Data:   make([]float64, width*height),
	}
}

// NewGridFill creates a grid with every pixel set to the given value.
func NewGridFill(width, height int, value float64) *Grid {
	g := NewGrid(width, height)
	for i := range g.Data {
		g.Data[i] = value
	}
	return g
}

// At returns the value at pixel (x, y).
func (g *Grid) At(x, y int) float64 {
	return g.Data[y*g.Width+x]
}

// Set assigns the value at pixel (x, y).
func (g *Grid) Set(x, y int, v float64) {
	g.Data[y*g.Width+x] = v
}

// Clone returns a deep copy of the grid. Pipeline stages never mutate
// their inputs; they clone and return new artifacts.
func (g *Grid) Clone() *Grid {
	out := NewGrid(g.Width, g.Height)
	copy(out.Data, g.Data)
	return out
}

// SameShape reports whether two grids have identical dimensions.
func (g *Grid) SameShape(other *Grid) bool {
	return other != nil && g.Width == other.Width && g.Height == other.Height
}

// Apply returns a new grid with fn applied to every valid pixel.
// NaN pixels stay NaN.
func (g *Grid) Apply(fn func(v float64) float64) *Grid {
	out := NewGrid(g.Width, g.Height)
	for i, v := range g.Data {
		if math.IsNaN(v) {
			out.Data[i] = math.NaN()
			continue
		}
		out.Data[i] = fn(v)
	}
	return out
}

// Zip combines two grids elementwise with fn. A NaN in either operand
// yields NaN in the result, so validity masks propagate without any
// separate bookkeeping.
func (g *Grid) Zip(other *Grid, fn func(a, b float64) float64) *Grid {
	out := NewGrid(g.Width, g.Height)
	for i := range g.Data {
		a, b := g.Data[i], other.Data[i]
		if math.IsNaN(a) || math.IsNaN(b) {
			out.Data[i] = math.NaN()
			continue
		}
		out.Data[i] = fn(a, b)
	}
	return out
}

// Greater returns a boolean mask of pixels strictly above the threshold.
// NaN pixels compare false.
func (g *Grid) Greater(threshold float64) []bool {
	mask := make([]bool, len(g.Data))
	for i, v := range g.Data {
		mask[i] = v > threshold
	}
	return mask
}

// Less returns a boolean mask of pixels strictly below the threshold.
// NaN pixels compare false.
func (g *Grid) Less(threshold float64) []bool {
	mask := make([]bool, len(g.Data))
	for i, v := range g.Data {
		mask[i] = v < threshold
	}
	return mask
}

// ValidCount returns the number of non-NaN pixels.
func (g *Grid) ValidCount() int {
	n := 0
	for _, v := range g.Data {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// MinMax returns the smallest and largest valid values. If the grid has
// no valid pixel, both results are NaN.
func (g *Grid) MinMax() (min, max float64) {
	min, max = math.NaN(), math.NaN()
	for _, v := range g.Data {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(min) || v < min {
			min = v
		}
		if math.IsNaN(max) || v > max {
			max = v
		}
	}
	return min, max
}

// Percentile returns the p-th percentile (0-100) of the valid values
// using nearest-rank selection. Used for contrast stretching of
// quicklook renderings. Returns NaN for an all-invalid grid.
func (g *Grid) Percentile(p float64) float64 {
	valid := make([]float64, 0, len(g.Data))
	for _, v := range g.Data {
		if !math.IsNaN(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return math.NaN()
	}
	sort.Float64s(valid)
	rank := int(math.Ceil(p/100*float64(len(valid)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(valid) {
		rank = len(valid) - 1
	}
	return valid[rank]
}
