// Package bands gates every pipeline run: it confirms that a raster
// carries all the bands an operation needs and masks pixels that are
// invalid in any required band. Index computation without this gate can
// divide by zero or silently fuse garbage when a band is absent.
package bands

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"watermask/internal/models"
)

// MissingBandError reports the required bands absent from a raster. It
// names every missing band, not just the first, so a misconfigured
// acquisition can be fixed in one round trip.
type MissingBandError struct {
	// Missing lists the absent band names in sorted order
	Missing []string
}

// Error implements the error interface.
func (e *MissingBandError) Error() string {
	return fmt.Sprintf("raster is missing required bands: %s", strings.Join(e.Missing, ", "))
}

// Validate verifies that every required band is present and returns a
// copy of the raster in which pixels invalid in any required band are
// masked (NaN) across all required bands. The combined validity mask is
// the logical AND of "finite and non-zero" over the required bands;
// zero is treated as nodata because reflectance composites use it for
// unfilled pixels.
//
// The input raster is never mutated.
func Validate(raster *models.MultiBandRaster, required []string) (*models.MultiBandRaster, error) {
	var missing []string
	for _, name := range required {
		if raster.Band(name) == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingBandError{Missing: missing}
	}

	// Combined validity: a pixel survives only if it is usable in every
	// required band.
	valid := make([]bool, raster.Width*raster.Height)
	for i := range valid {
		valid[i] = true
	}
	for _, name := range required {
		grid := raster.Band(name)
		for i, v := range grid.Data {
			if math.IsNaN(v) || math.IsInf(v, 0) || v == 0 {
				valid[i] = false
			}
		}
	}

	out := raster.ShallowCopy()
	for _, name := range required {
		masked := raster.Band(name).Clone()
		for i := range masked.Data {
			if !valid[i] {
				masked.Data[i] = math.NaN()
			}
		}
		out.Bands[name] = masked
	}
	return out, nil
}

// ValidFraction returns the share of pixels valid in the named band,
// used for run reporting.
func ValidFraction(raster *models.MultiBandRaster, band string) float64 {
	grid := raster.Band(band)
	if grid == nil || len(grid.Data) == 0 {
		return 0
	}
	return float64(grid.ValidCount()) / float64(len(grid.Data))
}
