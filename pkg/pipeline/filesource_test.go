package pipeline

import (
	"context"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"watermask/internal/models"
)

// writeBandPNG saves a uniform grayscale band image.
func writeBandPNG(t *testing.T, dir, name string, w, h int, value uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: value})
		}
	}
	if err := imaging.Save(img, filepath.Join(dir, name+".png")); err != nil {
		t.Fatalf("Failed to save band %s: %v", name, err)
	}
}

// TestFileSourceComposite verifies per-band decoding and the sidecar
// georeferencing round trip.
func TestFileSourceComposite(t *testing.T) {
	dir := t.TempDir()
	values := map[string]uint8{
		models.BandBlue:  60,
		models.BandGreen: 80,
		models.BandRed:   50,
		models.BandNIR:   20,
		models.BandSWIR1: 10,
		models.BandSWIR2: 10,
	}
	for name, v := range values {
		writeBandPNG(t, dir, name, 2, 2, v)
	}
	// World file and projection next to the first probed band (blue):
	// 0.5-degree pixels, origin (10, 20).
	tfw := "0.5\n0.0\n0.0\n-0.5\n10.25\n19.75\n"
	if err := os.WriteFile(filepath.Join(dir, "blue.tfw"), []byte(tfw), 0644); err != nil {
		t.Fatalf("Failed to write world file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "blue.prj"), []byte("EPSG:32633\n"), 0644); err != nil {
		t.Fatalf("Failed to write projection file: %v", err)
	}

	source := &FileSource{Dir: dir}
	raster, err := source.Composite(context.Background(), models.Region{}, "", "", 0)
	if err != nil {
		t.Fatalf("Composite failed: %v", err)
	}

	if raster.Width != 2 || raster.Height != 2 {
		t.Fatalf("Expected 2x2 raster, got %dx%d", raster.Width, raster.Height)
	}
	if len(raster.Bands) != 6 {
		t.Errorf("Expected 6 bands, got %d", len(raster.Bands))
	}
	for name, v := range values {
		want := float64(v) / 255
		if got := raster.Band(name).At(0, 0); math.Abs(got-want) > 1e-9 {
			t.Errorf("Band %s: expected %g, got %g", name, want, got)
		}
	}

	tr := raster.Transform
	if tr.OriginX != 10 || tr.OriginY != 20 {
		t.Errorf("Expected origin (10,20) from world file, got (%g,%g)", tr.OriginX, tr.OriginY)
	}
	if tr.PixelWidth != 0.5 || tr.PixelHeight != -0.5 {
		t.Errorf("Expected 0.5/-0.5 pixels, got %g/%g", tr.PixelWidth, tr.PixelHeight)
	}
	if raster.CRS != "EPSG:32633" {
		t.Errorf("Expected CRS from .prj sidecar, got %s", raster.CRS)
	}
}

// TestFileSourceDefaults verifies the fallback georeferencing when no
// sidecars exist, and that absent bands are left to the validator.
func TestFileSourceDefaults(t *testing.T) {
	dir := t.TempDir()
	writeBandPNG(t, dir, models.BandGreen, 3, 2, 100)

	source := &FileSource{Dir: dir}
	raster, err := source.Composite(context.Background(), models.Region{}, "", "", 0)
	if err != nil {
		t.Fatalf("Composite failed: %v", err)
	}
	if len(raster.Bands) != 1 || raster.Band(models.BandGreen) == nil {
		t.Fatalf("Expected only the green band, got %v", raster.BandNames())
	}
	tr := raster.Transform
	if tr.OriginY != 2 || tr.PixelWidth != 1 || tr.PixelHeight != -1 {
		t.Errorf("Expected unit north-up fallback transform, got %+v", tr)
	}
	if raster.CRS != "EPSG:4326" {
		t.Errorf("Expected default CRS, got %s", raster.CRS)
	}
}

// TestFileSourceErrors verifies the empty-directory and shape-mismatch
// failures.
func TestFileSourceErrors(t *testing.T) {
	empty := t.TempDir()
	source := &FileSource{Dir: empty}
	if _, err := source.Composite(context.Background(), models.Region{}, "", "", 0); err == nil {
		t.Error("Expected error for a directory without band images")
	} else if !strings.Contains(err.Error(), "no band images") {
		t.Errorf("Unexpected error: %v", err)
	}

	dir := t.TempDir()
	writeBandPNG(t, dir, models.BandBlue, 2, 2, 10)
	writeBandPNG(t, dir, models.BandGreen, 3, 3, 10)
	source = &FileSource{Dir: dir}
	if _, err := source.Composite(context.Background(), models.Region{}, "", "", 0); err == nil {
		t.Error("Expected error for mismatched band shapes")
	}
}

// TestReadWorldFileValidation verifies rejection of rotated and
// malformed world files.
func TestReadWorldFileValidation(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name    string
		content string
	}{
		{"rotation terms", "1\n0.1\n0\n-1\n0.5\n-0.5\n"},
		{"too few values", "1\n0\n0\n"},
		{"zero pixel size", "0\n0\n0\n-1\n0.5\n-0.5\n"},
		{"not numeric", "a\nb\nc\nd\ne\nf\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, "band.tfw")
			if err := os.WriteFile(path, []byte(tc.content), 0644); err != nil {
				t.Fatalf("Failed to write world file: %v", err)
			}
			if _, err := readWorldFile(path); err == nil {
				t.Error("Expected world file to be rejected")
			}
		})
	}
}
