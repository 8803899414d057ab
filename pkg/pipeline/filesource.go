package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"watermask/internal/models"
)

// FileSource loads a composite from a directory of per-band image
// files: one grayscale TIFF or PNG per canonical band name (blue.tif,
// green.png, ...). Georeferencing is read from an ESRI world file
// (<band>.tfw) and a .prj sidecar when present, the same sidecar
// layout the GeoTIFF sink writes, so exported products can be fed back
// in. The date range and cloud filter are ignored: files on disk are
// already composited.
type FileSource struct {
	// Dir is the directory holding the band images
	Dir string
}

// bandExtensions lists the accepted image extensions, in probe order.
var bandExtensions = []string{".tif", ".tiff", ".png"}

// Composite implements the Source interface. Bands absent from the
// directory are simply not attached; the band validation stage reports
// them with the full missing list. The region argument is ignored
// because the files define their own footprint.
func (s *FileSource) Composite(ctx context.Context, region models.Region, startDate, endDate string, maxCloudPercent float64) (*models.MultiBandRaster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	names := []string{
		models.BandBlue, models.BandGreen, models.BandRed,
		models.BandNIR, models.BandSWIR1, models.BandSWIR2,
	}

	grids := make(map[string]*models.Grid)
	width, height := 0, 0
	firstBase := ""
	for _, name := range names {
		path := findBandFile(s.Dir, name)
		if path == "" {
			continue
		}
		img, err := imaging.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read band %s: %v", name, err)
		}
		b := img.Bounds()
		if width == 0 {
			width, height = b.Dx(), b.Dy()
			firstBase = strings.TrimSuffix(path, filepath.Ext(path))
		} else if b.Dx() != width || b.Dy() != height {
			return nil, fmt.Errorf("band %s is %dx%d, expected %dx%d",
				name, b.Dx(), b.Dy(), width, height)
		}

		grid := models.NewGrid(width, height)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				grid.Set(x, y, float64(r)/65535)
			}
		}
		grids[name] = grid
	}
	if len(grids) == 0 {
		return nil, fmt.Errorf("no band images found in %s (expected e.g. blue.tif or blue.png)", s.Dir)
	}

	transform := models.GeoTransform{OriginY: float64(height), PixelWidth: 1, PixelHeight: -1}
	if t, err := readWorldFile(firstBase + ".tfw"); err == nil {
		transform = t
	}
	crs := "EPSG:4326"
	if data, err := os.ReadFile(firstBase + ".prj"); err == nil {
		if v := strings.TrimSpace(string(data)); v != "" {
			crs = v
		}
	}

	raster := models.NewMultiBandRaster(width, height, transform, crs)
	for name, grid := range grids {
		if err := raster.AddBand(name, grid); err != nil {
			return nil, err
		}
	}
	return raster, nil
}

// findBandFile returns the path of the first existing image for a band
// name, or "" when the band has no file.
func findBandFile(dir, name string) string {
	for _, ext := range bandExtensions {
		path := filepath.Join(dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// readWorldFile parses the six-line ESRI world file: pixel width, two
// rotation terms, pixel height, then the coordinates of the center of
// the top-left pixel. Rotation terms must be zero (north-up rasters
// only).
func readWorldFile(path string) (models.GeoTransform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.GeoTransform{}, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 6 {
		return models.GeoTransform{}, fmt.Errorf("world file %s has %d values, expected 6", path, len(fields))
	}
	vals := make([]float64, 6)
	for i := range vals {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return models.GeoTransform{}, fmt.Errorf("world file %s: %v", path, err)
		}
		vals[i] = v
	}
	if vals[1] != 0 || vals[2] != 0 {
		return models.GeoTransform{}, fmt.Errorf("world file %s has rotation terms, only north-up rasters are supported", path)
	}
	pw, ph := vals[0], vals[3]
	if pw == 0 || ph == 0 {
		return models.GeoTransform{}, fmt.Errorf("world file %s has zero pixel size", path)
	}
	return models.GeoTransform{
		OriginX:     vals[4] - 0.5*pw,
		OriginY:     vals[5] - 0.5*ph,
		PixelWidth:  pw,
		PixelHeight: ph,
	}, nil
}
