// Package indices computes per-pixel spectral water and vegetation
// indices from a validated multi-band raster. The normalized-difference
// family follows McFeeters (1996) for NDWI, Rouse et al. (1974) for
// NDVI and Xu (2006) for MNDWI; AWEIsh is the shadow-robust variant of
// Feyisa et al. (2014) and WI2015 is the linear discriminant of
// Fisher, Flood & Danaher (2016).
package indices

import (
	"fmt"
	"math"
	"sort"

	"watermask/internal/models"
)

// Canonical index names used in thresholds, fusion rules and reports.
const (
	NDWI   = "NDWI"
	NDVI   = "NDVI"
	MNDWI  = "MNDWI"
	AWEIsh = "AWEIsh"
	WI2015 = "WI2015"
)

// RequiredBands lists the bands the full index set needs. Callers run
// bands.Validate with this list before Compute.
var RequiredBands = []string{
	models.BandBlue,
	models.BandGreen,
	models.BandRed,
	models.BandNIR,
	models.BandSWIR1,
	models.BandSWIR2,
}

// IndexSet holds the computed index grids plus the source bands they
// were derived from. It is immutable after Compute: downstream stages
// read grids but never write them.
type IndexSet struct {
	// Width and Height are the shared grid dimensions
	Width  int
	Height int

	indices map[string]*models.Grid
	bands   map[string]*models.Grid
}

// Index returns the named index grid, or nil if it was not computed.
func (s *IndexSet) Index(name string) *models.Grid {
	return s.indices[name]
}

// Band returns one of the source bands carried along for feature use.
func (s *IndexSet) Band(name string) *models.Grid {
	return s.bands[name]
}

// Names returns the computed index names in sorted order.
func (s *IndexSet) Names() []string {
	names := make([]string, 0, len(s.indices))
	for name := range s.indices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FeatureNames returns the ordered feature vector layout used by the
// supervised refiner: all indices first, then the source bands. The
// order is deterministic so a trained classifier stays valid for the
// raster it was trained on.
func (s *IndexSet) FeatureNames() []string {
	names := s.Names()
	bandNames := make([]string, 0, len(s.bands))
	for name := range s.bands {
		bandNames = append(bandNames, name)
	}
	sort.Strings(bandNames)
	return append(names, bandNames...)
}

// FeatureAt fills dst with the feature vector of the pixel at flat
// index i, in FeatureNames order. It returns false if any feature is
// invalid at that pixel.
func (s *IndexSet) FeatureAt(i int, names []string, dst []float64) bool {
	for j, name := range names {
		grid := s.indices[name]
		if grid == nil {
			grid = s.bands[name]
		}
		v := grid.Data[i]
		if math.IsNaN(v) {
			return false
		}
		dst[j] = v
	}
	return true
}

// Compute derives the full index set from a validated raster. A zero
// denominator in a normalized difference yields a masked (NaN) pixel,
// never a panic or a silent zero. Normalized-difference results are
// clipped to [-1, 1]; AWEIsh and WI2015 keep their wider documented
// ranges.
func Compute(raster *models.MultiBandRaster) (*IndexSet, error) {
	for _, name := range RequiredBands {
		if raster.Band(name) == nil {
			return nil, fmt.Errorf("index computation requires band %s; run band validation first", name)
		}
	}

	blue := raster.Band(models.BandBlue)
	green := raster.Band(models.BandGreen)
	red := raster.Band(models.BandRed)
	nir := raster.Band(models.BandNIR)
	swir1 := raster.Band(models.BandSWIR1)
	swir2 := raster.Band(models.BandSWIR2)

	set := &IndexSet{
		Width:   raster.Width,
		Height:  raster.Height,
		indices: make(map[string]*models.Grid),
		bands: map[string]*models.Grid{
			models.BandBlue:  blue,
			models.BandGreen: green,
			models.BandRed:   red,
			models.BandNIR:   nir,
			models.BandSWIR1: swir1,
			models.BandSWIR2: swir2,
		},
	}

	set.indices[NDWI] = normalizedDifference(green, nir)
	set.indices[NDVI] = normalizedDifference(nir, red)
	set.indices[MNDWI] = normalizedDifference(green, swir1)

	// AWEIsh = blue + 2.5*green - 1.5*(nir+swir1) - 0.25*swir2
	awei := models.NewGrid(raster.Width, raster.Height)
	for i := range awei.Data {
		b, g := blue.Data[i], green.Data[i]
		n, s1, s2 := nir.Data[i], swir1.Data[i], swir2.Data[i]
		awei.Data[i] = b + 2.5*g - 1.5*(n+s1) - 0.25*s2
	}
	set.indices[AWEIsh] = awei

	// WI2015 coefficients are the published constants, fit on surface
	// reflectance; inputs must be scaled to the same units.
	wi := models.NewGrid(raster.Width, raster.Height)
	for i := range wi.Data {
		g, r := green.Data[i], red.Data[i]
		n, s1, s2 := nir.Data[i], swir1.Data[i], swir2.Data[i]
		wi.Data[i] = (1.7204 + 171*g + 3*r - 70*n - 45*s1 - 71*s2) / 10000
	}
	set.indices[WI2015] = wi

	return set, nil
}

// normalizedDifference computes (a-b)/(a+b) per pixel, masking zero
// denominators and clipping to [-1, 1].
func normalizedDifference(a, b *models.Grid) *models.Grid {
	return a.Zip(b, func(x, y float64) float64 {
		sum := x + y
		if sum == 0 {
			return math.NaN()
		}
		v := (x - y) / sum
		if v > 1 {
			v = 1
		}
		if v < -1 {
			v = -1
		}
		return v
	})
}

// Gray renders an ITU-R BT.601 luma grid from the red, green and blue
// bands, used for grayscale quicklooks.
func Gray(raster *models.MultiBandRaster) (*models.Grid, error) {
	red := raster.Band(models.BandRed)
	green := raster.Band(models.BandGreen)
	blue := raster.Band(models.BandBlue)
	if red == nil || green == nil || blue == nil {
		return nil, fmt.Errorf("gray rendering requires red, green and blue bands")
	}
	out := models.NewGrid(raster.Width, raster.Height)
	for i := range out.Data {
		out.Data[i] = 0.299*red.Data[i] + 0.587*green.Data[i] + 0.114*blue.Data[i]
	}
	return out, nil
}
