package export

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"watermask/internal/models"
)

// Quicklook rendering: small PNG previews of masks, index rasters and
// RGB composites for eyeballing a run without GIS tooling. Purely
// cosmetic; the TIFF products remain the analysis-ready outputs.

// quicklookMaxDim bounds the longest quicklook edge in pixels.
const quicklookMaxDim = 1024

// WriteMaskQuicklook renders the mask as water-blue over dark gray and
// saves it as a PNG.
func WriteMaskQuicklook(path string, mask *models.ClassificationMask) error {
	water := colorful.Color{R: 0.12, G: 0.40, B: 0.85}
	land := colorful.Color{R: 0.18, G: 0.18, B: 0.18}

	img := image.NewNRGBA(image.Rect(0, 0, mask.Width, mask.Height))
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			c := land
			if mask.At(x, y) {
				c = water
			}
			r, g, b := c.RGB255()
			img.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return savePNG(path, img)
}

// WriteIndexQuicklook renders a float grid through a perceptual color
// ramp (Lab-space blend from brown through white to blue) stretched
// between the 2nd and 98th percentile of the valid values. Invalid
// pixels are transparent.
func WriteIndexQuicklook(path string, grid *models.Grid) error {
	lo := grid.Percentile(2)
	hi := grid.Percentile(98)
	if math.IsNaN(lo) || math.IsNaN(hi) {
		return fmt.Errorf("quicklook of all-invalid grid")
	}
	span := hi - lo

	dry := colorful.Color{R: 0.55, G: 0.40, B: 0.20}
	mid := colorful.Color{R: 0.95, G: 0.95, B: 0.95}
	wet := colorful.Color{R: 0.05, G: 0.30, B: 0.80}

	img := image.NewNRGBA(image.Rect(0, 0, grid.Width, grid.Height))
	for y := 0; y < grid.Height; y++ {
		for x := 0; x < grid.Width; x++ {
			v := grid.At(x, y)
			if math.IsNaN(v) {
				continue // transparent
			}
			t := 0.5
			if span > 0 {
				t = (v - lo) / span
			}
			if t < 0 {
				t = 0
			}
			if t > 1 {
				t = 1
			}
			var c colorful.Color
			if t < 0.5 {
				c = dry.BlendLab(mid, t*2)
			} else {
				c = mid.BlendLab(wet, (t-0.5)*2)
			}
			r, g, b := c.Clamped().RGB255()
			img.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return savePNG(path, img)
}

// WriteCompositeQuicklook renders a true-color RGB composite with a
// per-band 2-98 percentile contrast stretch.
func WriteCompositeQuicklook(path string, raster *models.MultiBandRaster) error {
	red := raster.Band(models.BandRed)
	green := raster.Band(models.BandGreen)
	blue := raster.Band(models.BandBlue)
	if red == nil || green == nil || blue == nil {
		return fmt.Errorf("composite quicklook requires red, green and blue bands")
	}

	img := image.NewNRGBA(image.Rect(0, 0, raster.Width, raster.Height))
	channels := []*models.Grid{red, green, blue}
	stretched := make([][]uint8, 3)
	for i, grid := range channels {
		stretched[i] = stretchChannel(grid)
	}
	for y := 0; y < raster.Height; y++ {
		for x := 0; x < raster.Width; x++ {
			i := y*raster.Width + x
			img.SetNRGBA(x, y, color.NRGBA{
				R: stretched[0][i],
				G: stretched[1][i],
				B: stretched[2][i],
				A: 255,
			})
		}
	}
	return savePNG(path, img)
}

// WriteGrayQuicklook renders a luma grid as an 8-bit grayscale preview
// with the same 2-98 percentile stretch as the composite channels.
func WriteGrayQuicklook(path string, grid *models.Grid) error {
	img := image.NewGray(image.Rect(0, 0, grid.Width, grid.Height))
	copy(img.Pix, stretchChannel(grid))
	return savePNG(path, img)
}

// stretchChannel maps a band onto 0-255 between its 2nd and 98th
// percentiles, clamping outliers.
func stretchChannel(grid *models.Grid) []uint8 {
	lo := grid.Percentile(2)
	hi := grid.Percentile(98)
	span := hi - lo
	out := make([]uint8, len(grid.Data))
	for i, v := range grid.Data {
		if math.IsNaN(v) || span <= 0 {
			continue
		}
		t := (v - lo) / span
		if t < 0 {
			t = 0
		}
		if t > 1 {
			t = 1
		}
		out[i] = uint8(t * 255)
	}
	return out
}

// savePNG downscales oversized previews and writes the PNG.
func savePNG(path string, img image.Image) error {
	b := img.Bounds()
	if b.Dx() > quicklookMaxDim || b.Dy() > quicklookMaxDim {
		img = imaging.Fit(img, quicklookMaxDim, quicklookMaxDim, imaging.Lanczos)
	}
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("failed to save quicklook %s: %v", path, err)
	}
	return nil
}
