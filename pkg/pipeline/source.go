package pipeline

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"watermask/internal/models"
)

// Source supplies the input composite. Implementations wrap an external
// imagery catalog and are expected to deliver an already cloud-filtered,
// time-reduced (e.g. per-pixel median) reflectance composite with the
// canonical band names. The engine never talks to a provider directly.
type Source interface {
	// Composite returns a multi-band composite covering the region for
	// the date range, built from scenes under the cloud fraction limit.
	Composite(ctx context.Context, region models.Region, startDate, endDate string, maxCloudPercent float64) (*models.MultiBandRaster, error)
}

// SyntheticSource generates a deterministic demo composite: a lake and
// a river over vegetated and bare terrain, with seeded reflectance
// noise. It exists so the pipeline can be exercised end to end without
// an imagery provider; the spectral values are plausible surface
// reflectances for each cover type.
type SyntheticSource struct {
	// Width and Height are the generated raster dimensions
	Width, Height int

	// Seed fixes the noise generator
	Seed int64
}

// Composite implements the Source interface.
func (s *SyntheticSource) Composite(ctx context.Context, region models.Region, startDate, endDate string, maxCloudPercent float64) (*models.MultiBandRaster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(region.Vertices) < 3 {
		return nil, fmt.Errorf("synthetic source needs a region to cover")
	}
	width, height := s.Width, s.Height
	if width <= 0 {
		width = 256
	}
	if height <= 0 {
		height = 256
	}

	bounds := region.Bounds()
	transform := models.GeoTransform{
		OriginX:     bounds.MinX,
		OriginY:     bounds.MaxY,
		PixelWidth:  bounds.Width() / float64(width),
		PixelHeight: -bounds.Height() / float64(height),
	}
	raster := models.NewMultiBandRaster(width, height, transform, "EPSG:4326")

	names := []string{
		models.BandBlue, models.BandGreen, models.BandRed,
		models.BandNIR, models.BandSWIR1, models.BandSWIR2,
	}
	grids := make(map[string]*models.Grid, len(names))
	for _, name := range names {
		grids[name] = models.NewGrid(width, height)
	}

	seed := s.Seed
	if seed == 0 {
		seed = 1
	}
	rng := rand.New(rand.NewSource(seed))

	// Lake in the center, river along a sine path, vegetation gradient
	// elsewhere.
	cx, cy := float64(width)/2, float64(height)/2
	lakeR := float64(width) / 5
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			inLake := math.Hypot(dx, dy) < lakeR
			riverY := cy/2 + 10*math.Sin(float64(x)/17)
			inRiver := math.Abs(float64(y)-riverY) < 3

			var blue, green, red, nir, swir1, swir2 float64
			if inLake || inRiver {
				blue, green, red = 0.06, 0.08, 0.05
				nir, swir1, swir2 = 0.02, 0.01, 0.01
			} else if (x/32+y/32)%2 == 0 {
				// vegetated
				blue, green, red = 0.03, 0.06, 0.04
				nir, swir1, swir2 = 0.40, 0.20, 0.10
			} else {
				// bare soil / built-up
				blue, green, red = 0.10, 0.14, 0.18
				nir, swir1, swir2 = 0.25, 0.30, 0.28
			}

			noise := func(v float64) float64 {
				n := v + rng.NormFloat64()*0.005
				if n < 0.001 {
					n = 0.001
				}
				return n
			}
			grids[models.BandBlue].Set(x, y, noise(blue))
			grids[models.BandGreen].Set(x, y, noise(green))
			grids[models.BandRed].Set(x, y, noise(red))
			grids[models.BandNIR].Set(x, y, noise(nir))
			grids[models.BandSWIR1].Set(x, y, noise(swir1))
			grids[models.BandSWIR2].Set(x, y, noise(swir2))
		}
	}

	for _, name := range names {
		if err := raster.AddBand(name, grids[name]); err != nil {
			return nil, err
		}
	}
	return raster, nil
}
