package forest

import (
	"errors"
	"math"
	"strings"
	"testing"

	"watermask/internal/models"
	"watermask/pkg/indices"
)

// buildSplitScene creates a 10x10 raster whose left half is clear water
// and whose right half is dense vegetation, then computes its index
// set. The two halves are cleanly separable in every water index.
func buildSplitScene(t *testing.T) *indices.IndexSet {
	t.Helper()
	water := map[string]float64{
		models.BandBlue:  0.06,
		models.BandGreen: 0.08,
		models.BandRed:   0.05,
		models.BandNIR:   0.02,
		models.BandSWIR1: 0.01,
		models.BandSWIR2: 0.01,
	}
	vegetation := map[string]float64{
		models.BandBlue:  0.03,
		models.BandGreen: 0.06,
		models.BandRed:   0.04,
		models.BandNIR:   0.40,
		models.BandSWIR1: 0.20,
		models.BandSWIR2: 0.10,
	}

	raster := models.NewMultiBandRaster(10, 10,
		models.GeoTransform{OriginY: 10, PixelWidth: 1, PixelHeight: -1}, "EPSG:4326")
	for _, name := range indices.RequiredBands {
		grid := models.NewGrid(10, 10)
		for y := 0; y < 10; y++ {
			for x := 0; x < 10; x++ {
				if x < 5 {
					grid.Set(x, y, water[name])
				} else {
					grid.Set(x, y, vegetation[name])
				}
			}
		}
		if err := raster.AddBand(name, grid); err != nil {
			t.Fatalf("Failed to add band %s: %v", name, err)
		}
	}

	set, err := indices.Compute(raster)
	if err != nil {
		t.Fatalf("Failed to compute indices: %v", err)
	}
	return set
}

// primaryThreshold returns the NDWI threshold the pseudo-labeler keys
// off in these tests.
func primaryThreshold() models.Threshold {
	return models.Threshold{Index: indices.NDWI, Value: 0.2, Cmp: models.GreaterThan, Source: "otsu"}
}

// TestSamplePseudoLabelsBothClasses verifies that the separable scene
// yields both confident classes and full feature vectors.
func TestSamplePseudoLabelsBothClasses(t *testing.T) {
	set := buildSplitScene(t)
	transform := models.GeoTransform{OriginY: 10, PixelWidth: 1, PixelHeight: -1}

	samples, err := SamplePseudoLabels(set, transform, models.Region{},
		primaryThreshold(), DefaultLabelConfig(), DefaultHyperparams())
	if err != nil {
		t.Fatalf("SamplePseudoLabels failed: %v", err)
	}

	waterCount, landCount := 0, 0
	for _, s := range samples {
		if len(s.Features) != len(set.FeatureNames()) {
			t.Fatalf("Expected %d features per sample, got %d",
				len(set.FeatureNames()), len(s.Features))
		}
		if s.Label == 1 {
			waterCount++
		} else {
			landCount++
		}
	}
	// 50 pixels on each side, all confidently labeled
	if waterCount != 50 {
		t.Errorf("Expected 50 water pseudo-labels, got %d", waterCount)
	}
	if landCount != 50 {
		t.Errorf("Expected 50 non-water pseudo-labels, got %d", landCount)
	}
}

// TestSamplePseudoLabelsCapped verifies the per-class reservoir cap.
func TestSamplePseudoLabelsCapped(t *testing.T) {
	set := buildSplitScene(t)
	transform := models.GeoTransform{OriginY: 10, PixelWidth: 1, PixelHeight: -1}

	hp := DefaultHyperparams()
	hp.MaxSamplesPerClass = 10
	samples, err := SamplePseudoLabels(set, transform, models.Region{},
		primaryThreshold(), DefaultLabelConfig(), hp)
	if err != nil {
		t.Fatalf("SamplePseudoLabels failed: %v", err)
	}

	waterCount, landCount := 0, 0
	for _, s := range samples {
		if s.Label == 1 {
			waterCount++
		} else {
			landCount++
		}
	}
	if waterCount != 10 || landCount != 10 {
		t.Errorf("Expected 10 samples per class, got %d water and %d non-water",
			waterCount, landCount)
	}
}

// TestSamplePseudoLabelsInsufficient verifies the typed error when one
// class never appears: an all-water scene has no confident non-water
// pixels.
func TestSamplePseudoLabelsInsufficient(t *testing.T) {
	raster := models.NewMultiBandRaster(4, 4,
		models.GeoTransform{OriginY: 4, PixelWidth: 1, PixelHeight: -1}, "EPSG:4326")
	water := map[string]float64{
		models.BandBlue:  0.06,
		models.BandGreen: 0.08,
		models.BandRed:   0.05,
		models.BandNIR:   0.02,
		models.BandSWIR1: 0.01,
		models.BandSWIR2: 0.01,
	}
	for _, name := range indices.RequiredBands {
		if err := raster.AddBand(name, models.NewGridFill(4, 4, water[name])); err != nil {
			t.Fatalf("Failed to add band: %v", err)
		}
	}
	set, err := indices.Compute(raster)
	if err != nil {
		t.Fatalf("Failed to compute indices: %v", err)
	}

	_, err = SamplePseudoLabels(set, raster.Transform, models.Region{},
		primaryThreshold(), DefaultLabelConfig(), DefaultHyperparams())
	if err == nil {
		t.Fatal("Expected InsufficientTrainingDataError")
	}
	var insufficient *InsufficientTrainingDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Expected *InsufficientTrainingDataError, got %T", err)
	}
	if insufficient.WaterSamples == 0 {
		t.Error("Expected water pseudo-labels on an all-water scene")
	}
	if insufficient.LandSamples != 0 {
		t.Errorf("Expected 0 non-water pseudo-labels, got %d", insufficient.LandSamples)
	}
}

// TestTrainAndClassify verifies the full refinement loop on the
// separable scene: every water pixel classifies water with high
// probability, every vegetation pixel does not.
func TestTrainAndClassify(t *testing.T) {
	set := buildSplitScene(t)
	transform := models.GeoTransform{OriginY: 10, PixelWidth: 1, PixelHeight: -1}

	hp := DefaultHyperparams()
	hp.MinLeaf = 1
	samples, err := SamplePseudoLabels(set, transform, models.Region{},
		primaryThreshold(), DefaultLabelConfig(), hp)
	if err != nil {
		t.Fatalf("SamplePseudoLabels failed: %v", err)
	}

	refiner, err := Train(samples, set.FeatureNames(), hp)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	mask, probs := refiner.Classify(set)
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			isWater := x < 5
			if mask.At(x, y) != isWater {
				t.Errorf("Pixel (%d,%d): expected water=%v", x, y, isWater)
			}
			p := probs.At(x, y)
			if p < 0 || p > 1 || math.IsNaN(p) {
				t.Errorf("Pixel (%d,%d): expected probability in [0,1], got %g", x, y, p)
			}
		}
	}
	if !strings.HasPrefix(mask.Provenance, "forest(") {
		t.Errorf("Expected forest provenance, got %q", mask.Provenance)
	}
}

// TestClassifyInvalidPixel verifies that a pixel with a masked feature
// is never water and carries a NaN probability.
func TestClassifyInvalidPixel(t *testing.T) {
	set := buildSplitScene(t)
	transform := models.GeoTransform{OriginY: 10, PixelWidth: 1, PixelHeight: -1}

	samples, err := SamplePseudoLabels(set, transform, models.Region{},
		primaryThreshold(), DefaultLabelConfig(), DefaultHyperparams())
	if err != nil {
		t.Fatalf("SamplePseudoLabels failed: %v", err)
	}
	refiner, err := Train(samples, set.FeatureNames(), DefaultHyperparams())
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	// Invalidate one water pixel after training
	set.Index(indices.NDWI).Set(0, 0, math.NaN())

	mask, probs := refiner.Classify(set)
	if mask.At(0, 0) {
		t.Error("Expected invalid pixel to never classify as water")
	}
	if !math.IsNaN(probs.At(0, 0)) {
		t.Errorf("Expected NaN probability for invalid pixel, got %g", probs.At(0, 0))
	}
}

// TestDeterministicTraining verifies that identical seeds reproduce the
// identical classification.
func TestDeterministicTraining(t *testing.T) {
	set := buildSplitScene(t)
	transform := models.GeoTransform{OriginY: 10, PixelWidth: 1, PixelHeight: -1}

	run := func() (*models.ClassificationMask, *models.Grid) {
		samples, err := SamplePseudoLabels(set, transform, models.Region{},
			primaryThreshold(), DefaultLabelConfig(), DefaultHyperparams())
		if err != nil {
			t.Fatalf("SamplePseudoLabels failed: %v", err)
		}
		refiner, err := Train(samples, set.FeatureNames(), DefaultHyperparams())
		if err != nil {
			t.Fatalf("Train failed: %v", err)
		}
		return refiner.Classify(set)
	}

	maskA, probsA := run()
	maskB, probsB := run()

	for i := range maskA.Data {
		if maskA.Data[i] != maskB.Data[i] {
			t.Fatalf("Mask differs at pixel %d between identical runs", i)
		}
		pa, pb := probsA.Data[i], probsB.Data[i]
		if pa != pb && !(math.IsNaN(pa) && math.IsNaN(pb)) {
			t.Fatalf("Probability differs at pixel %d: %g vs %g", i, pa, pb)
		}
	}
}

// TestTrainEmptySamples verifies Train rejects an empty training set.
func TestTrainEmptySamples(t *testing.T) {
	_, err := Train(nil, []string{"NDWI"}, DefaultHyperparams())
	if err == nil {
		t.Fatal("Expected error for empty training set")
	}
	var insufficient *InsufficientTrainingDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Expected *InsufficientTrainingDataError, got %T", err)
	}
}
