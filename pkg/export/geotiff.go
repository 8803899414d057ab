package export

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/tiff"

	"watermask/internal/models"
)

// GeoTIFFSink writes tile products as TIFF files with ESRI world-file
// (.tfw) and .prj sidecars carrying the georeferencing. Masks are
// written as 8-bit images (water=1), float products as 16-bit images
// linearly stretched over their valid range, with the stretch recorded
// in a .meta sidecar so values can be recovered.
type GeoTIFFSink struct {
	// Dir is the destination directory; Folder from the request is
	// appended as a subdirectory when set
	Dir string
}

// Submit implements the Sink interface by writing the product to disk.
func (s *GeoTIFFSink) Submit(ctx context.Context, req ExportRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := s.Dir
	if req.Folder != "" {
		dir = filepath.Join(dir, req.Folder)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %v", err)
	}
	base := filepath.Join(dir, req.Name)

	var img image.Image
	switch {
	case req.Mask != nil:
		img = maskImage(req.Mask)
	case req.Grid != nil:
		if int64(req.Grid.Width)*int64(req.Grid.Height) > req.MaxPixels && req.MaxPixels > 0 {
			return fmt.Errorf("tile %s exceeds pixel budget: %d > %d",
				req.TileID, req.Grid.Width*req.Grid.Height, req.MaxPixels)
		}
		gray16, min, max := gridImage(req.Grid)
		img = gray16
		meta := fmt.Sprintf("min=%g\nmax=%g\nencoding=uint16 linear stretch\n", min, max)
		if err := os.WriteFile(base+".meta", []byte(meta), 0644); err != nil {
			return fmt.Errorf("failed to write stretch metadata: %v", err)
		}
	default:
		return fmt.Errorf("export request %s carries no payload", req.Name)
	}

	f, err := os.Create(base + ".tif")
	if err != nil {
		return fmt.Errorf("failed to create %s.tif: %v", req.Name, err)
	}
	defer f.Close()
	if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return fmt.Errorf("failed to encode %s.tif: %v", req.Name, err)
	}

	if err := writeWorldFile(base+".tfw", req.Transform); err != nil {
		return err
	}
	if req.CRS != "" {
		if err := os.WriteFile(base+".prj", []byte(req.CRS+"\n"), 0644); err != nil {
			return fmt.Errorf("failed to write %s.prj: %v", req.Name, err)
		}
	}
	return nil
}

// maskImage renders a classification mask as an 8-bit image with
// water=1 and everything else 0, matching the binary output contract.
func maskImage(mask *models.ClassificationMask) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, mask.Width, mask.Height))
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			if mask.At(x, y) {
				img.SetGray(x, y, color.Gray{Y: 1})
			}
		}
	}
	return img
}

// gridImage renders a float grid as a 16-bit stretch. NaN pixels encode
// as 0 (shared with the range minimum; the mask product carries the
// authoritative validity).
func gridImage(grid *models.Grid) (*image.Gray16, float64, float64) {
	values, min, max := stretchTo16(grid)
	img := image.NewGray16(image.Rect(0, 0, grid.Width, grid.Height))
	for y := 0; y < grid.Height; y++ {
		for x := 0; x < grid.Width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: values[y*grid.Width+x]})
		}
	}
	if math.IsNaN(min) {
		min, max = 0, 0
	}
	return img, min, max
}

// writeWorldFile emits the six-line ESRI world file for a north-up
// transform: pixel width, both rotation terms (always 0 here), pixel
// height, then the coordinates of the center of the top-left pixel.
func writeWorldFile(path string, t models.GeoTransform) error {
	cx := t.OriginX + 0.5*t.PixelWidth
	cy := t.OriginY + 0.5*t.PixelHeight
	content := fmt.Sprintf("%.10f\n0.0\n0.0\n%.10f\n%.10f\n%.10f\n",
		t.PixelWidth, t.PixelHeight, cx, cy)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write world file: %v", err)
	}
	return nil
}
