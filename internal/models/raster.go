package models

import (
	"fmt"
	"sort"
)

// Canonical band names used throughout the pipeline. Imagery providers
// are adapted to these names at the acquisition boundary.
const (
	BandBlue  = "blue"
	BandGreen = "green"
	BandRed   = "red"
	BandNIR   = "nir"
	BandSWIR1 = "swir1"
	BandSWIR2 = "swir2"
)

// GeoTransform maps pixel coordinates to geographic coordinates for a
// north-up raster: no rotation terms, origin at the top-left corner of
// pixel (0, 0).
type GeoTransform struct {
	// OriginX and OriginY are the geographic coordinates of the
	// top-left corner of the raster
	OriginX float64
	OriginY float64

	// PixelWidth is the pixel size along X in CRS units (positive)
	PixelWidth float64

	// PixelHeight is the pixel size along Y in CRS units. Negative for
	// the usual north-up orientation (Y decreases with increasing row).
	PixelHeight float64
}

// PixelToGeo returns the geographic coordinates of the center of pixel
// (col, row).
func (gt GeoTransform) PixelToGeo(col, row int) (x, y float64) {
	x = gt.OriginX + (float64(col)+0.5)*gt.PixelWidth
	y = gt.OriginY + (float64(row)+0.5)*gt.PixelHeight
	return x, y
}

// GeoToPixel returns the pixel containing the geographic point (x, y).
// The result may lie outside the raster; callers clamp as needed.
func (gt GeoTransform) GeoToPixel(x, y float64) (col, row int) {
	col = int((x - gt.OriginX) / gt.PixelWidth)
	row = int((y - gt.OriginY) / gt.PixelHeight)
	return col, row
}

// MultiBandRaster is a georeferenced stack of equally shaped bands.
// All bands share the same dimensions, geotransform and CRS; AddBand
// enforces the shape invariant.
type MultiBandRaster struct {
	// Width and Height are the raster dimensions in pixels
	Width  int
	Height int

	// Transform maps pixels to geographic coordinates
	Transform GeoTransform

	// CRS is the coordinate reference system identifier (e.g. "EPSG:4326")
	CRS string

	// Bands maps canonical band names to their pixel grids
	Bands map[string]*Grid
}

// NewMultiBandRaster creates an empty raster with the given shape and
// georeferencing.
func NewMultiBandRaster(width, height int, transform GeoTransform, crs string) *MultiBandRaster {
	return &MultiBandRaster{
		Width:     width,
		Height:    height,
		Transform: transform,
		CRS:       crs,
		Bands:     make(map[string]*Grid),
	}
}

// AddBand attaches a named band grid. It fails if the grid shape does
// not match the raster shape.
func (r *MultiBandRaster) AddBand(name string, grid *Grid) error {
	if grid.Width != r.Width || grid.Height != r.Height {
		return fmt.Errorf("band %s has shape %dx%d, raster is %dx%d",
			name, grid.Width, grid.Height, r.Width, r.Height)
	}
	r.Bands[name] = grid
	return nil
}

// Band returns the named band grid, or nil if absent.
func (r *MultiBandRaster) Band(name string) *Grid {
	return r.Bands[name]
}

// BandNames returns the attached band names in sorted order.
func (r *MultiBandRaster) BandNames() []string {
	names := make([]string, 0, len(r.Bands))
	for name := range r.Bands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ShallowCopy returns a raster sharing band grids with the receiver.
// Stages that replace bands clone the grids they touch first.
func (r *MultiBandRaster) ShallowCopy() *MultiBandRaster {
	out := NewMultiBandRaster(r.Width, r.Height, r.Transform, r.CRS)
	for name, grid := range r.Bands {
		out.Bands[name] = grid
	}
	return out
}

// ClassificationMask is a binary per-pixel classification (true = water)
// with the same shape as its source raster. Provenance records the
// policy and thresholds that produced the mask so a run can be audited
// and reproduced.
type ClassificationMask struct {
	Width  int
	Height int
	Data   []bool

	// Provenance is a human-readable record of how the mask was made,
	// e.g. "conjunctive: NDWI>0.21(otsu) OR MNDWI>0.18(otsu), ..."
	Provenance string
}

// NewClassificationMask creates an all-false mask of the given shape.
func NewClassificationMask(width, height int) *ClassificationMask {
	return &ClassificationMask{
		Width:  width,
		Height: height,
		Data:   make([]bool, width*height),
	}
}

// At returns the classification at pixel (x, y).
func (m *ClassificationMask) At(x, y int) bool {
	return m.Data[y*m.Width+x]
}

// Set assigns the classification at pixel (x, y).
func (m *ClassificationMask) Set(x, y int, v bool) {
	m.Data[y*m.Width+x] = v
}

// Count returns the number of water pixels.
func (m *ClassificationMask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the mask, provenance included.
func (m *ClassificationMask) Clone() *ClassificationMask {
	out := NewClassificationMask(m.Width, m.Height)
	copy(out.Data, m.Data)
	out.Provenance = m.Provenance
	return out
}

// Comparison is the direction of a threshold test.
type Comparison int

const (
	// GreaterThan accepts pixels strictly above the threshold value
	GreaterThan Comparison = iota

	// LessThan accepts pixels strictly below the threshold value
	LessThan
)

// String returns the comparison operator as written in provenance records.
func (c Comparison) String() string {
	if c == LessThan {
		return "<"
	}
	return ">"
}

// Threshold is a named scalar cut point for one spectral index. It is
// produced once per raster/index pair and never mutated.
type Threshold struct {
	// Index is the spectral index the threshold applies to
	Index string

	// Value is the scalar cut point
	Value float64

	// Cmp is the comparison direction (water side of the cut)
	Cmp Comparison

	// Source records how the value was chosen: "fixed" or "otsu"
	Source string

	// Fallback is true when an adaptive search degenerated and the
	// configured fixed value was substituted
	Fallback bool
}

// String renders the threshold for provenance records and logs.
func (t Threshold) String() string {
	s := fmt.Sprintf("%s%s%.4f(%s)", t.Index, t.Cmp, t.Value, t.Source)
	if t.Fallback {
		s += "[fallback]"
	}
	return s
}
