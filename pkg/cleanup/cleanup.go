// Package cleanup post-processes a binary classification mask:
// morphological opening removes isolated false positives, closing fills
// small false-negative gaps, and an 8-connected component filter drops
// spurious regions below a configured size. All radii and the size
// cutoff come from configuration.
package cleanup

import (
	"fmt"
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/effect"

	"watermask/internal/models"
)

// Config holds the post-processing parameters.
type Config struct {
	// OpenRadius is the erosion+dilation radius of the opening pass;
	// 0 skips opening
	OpenRadius float64

	// CloseRadius is the dilation+erosion radius of the closing pass;
	// 0 skips closing
	CloseRadius float64

	// MinComponentPixels drops 8-connected foreground components
	// smaller than this; 0 keeps everything
	MinComponentPixels int
}

// Apply cleans the mask and clips it to the region. The input mask is
// never mutated. An empty region (no vertices) skips clipping.
func Apply(mask *models.ClassificationMask, transform models.GeoTransform, region models.Region, cfg Config) *models.ClassificationMask {
	out := mask.Clone()

	if cfg.OpenRadius > 0 {
		img := maskToGray(out)
		opened := effect.Dilate(effect.Erode(img, cfg.OpenRadius), cfg.OpenRadius)
		grayToMask(opened, out)
	}
	if cfg.CloseRadius > 0 {
		img := maskToGray(out)
		closed := effect.Erode(effect.Dilate(img, cfg.CloseRadius), cfg.CloseRadius)
		grayToMask(closed, out)
	}

	if cfg.MinComponentPixels > 0 {
		removeSmallComponents(out, cfg.MinComponentPixels)
	}

	if len(region.Vertices) > 0 {
		clipToRegion(out, transform, region)
	}

	out.Provenance = fmt.Sprintf("%s | cleanup(open=%.1f, close=%.1f, minComponent=%d)",
		mask.Provenance, cfg.OpenRadius, cfg.CloseRadius, cfg.MinComponentPixels)
	return out
}

// maskToGray renders the mask as an 8-bit image (water=255) for the
// morphology kernels.
func maskToGray(mask *models.ClassificationMask) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, mask.Width, mask.Height))
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			if mask.At(x, y) {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

// grayToMask re-thresholds a morphology result back into the mask.
func grayToMask(img image.Image, mask *models.ClassificationMask) {
	b := img.Bounds()
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			mask.Set(x, y, r >= 0x8000)
		}
	}
}

// removeSmallComponents labels 8-connected foreground components with a
// breadth-first sweep and clears those below the minimum size.
func removeSmallComponents(mask *models.ClassificationMask, minPixels int) {
	w, h := mask.Width, mask.Height
	visited := make([]bool, w*h)
	var queue []int
	var component []int

	for start := range mask.Data {
		if !mask.Data[start] || visited[start] {
			continue
		}

		// Collect one component
		component = component[:0]
		queue = append(queue[:0], start)
		visited[start] = true
		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			component = append(component, idx)

			x, y := idx%w, idx/w
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					nidx := ny*w + nx
					if mask.Data[nidx] && !visited[nidx] {
						visited[nidx] = true
						queue = append(queue, nidx)
					}
				}
			}
		}

		if len(component) < minPixels {
			for _, idx := range component {
				mask.Data[idx] = false
			}
		}
	}
}

// clipToRegion clears pixels whose centers fall outside the region
// polygon.
func clipToRegion(mask *models.ClassificationMask, transform models.GeoTransform, region models.Region) {
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			if !mask.At(x, y) {
				continue
			}
			gx, gy := transform.PixelToGeo(x, y)
			if !region.ContainsPoint(models.Point{X: gx, Y: gy}) {
				mask.Set(x, y, false)
			}
		}
	}
}
