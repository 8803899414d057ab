package fusion

import (
	"math"
	"strings"
	"testing"

	"watermask/internal/models"
	"watermask/pkg/indices"
)

// buildIndexSet computes a real index set from uniform band values so
// fusion tests exercise the same artifacts the pipeline produces.
func buildIndexSet(t *testing.T, width, height int, bandValues map[string]float64) *indices.IndexSet {
	t.Helper()
	raster := models.NewMultiBandRaster(width, height,
		models.GeoTransform{OriginY: float64(height), PixelWidth: 1, PixelHeight: -1}, "EPSG:4326")
	for _, name := range indices.RequiredBands {
		v, ok := bandValues[name]
		if !ok {
			v = 0.1
		}
		if err := raster.AddBand(name, models.NewGridFill(width, height, v)); err != nil {
			t.Fatalf("Failed to add band %s: %v", name, err)
		}
	}
	set, err := indices.Compute(raster)
	if err != nil {
		t.Fatalf("Failed to compute indices: %v", err)
	}
	return set
}

// waterBands returns band reflectances of a clear-water pixel.
func waterBands() map[string]float64 {
	return map[string]float64{
		models.BandBlue:  0.06,
		models.BandGreen: 0.08,
		models.BandRed:   0.05,
		models.BandNIR:   0.02,
		models.BandSWIR1: 0.01,
		models.BandSWIR2: 0.01,
	}
}

// vegetationBands returns band reflectances of a vegetated pixel.
func vegetationBands() map[string]float64 {
	return map[string]float64{
		models.BandBlue:  0.03,
		models.BandGreen: 0.06,
		models.BandRed:   0.04,
		models.BandNIR:   0.40,
		models.BandSWIR1: 0.20,
		models.BandSWIR2: 0.10,
	}
}

// defaultRules returns permissive conjunctive thresholds.
func defaultRules() ConjunctiveRules {
	return ConjunctiveRules{
		NDWI:   models.Threshold{Index: indices.NDWI, Value: 0.1, Cmp: models.GreaterThan, Source: "fixed"},
		MNDWI:  models.Threshold{Index: indices.MNDWI, Value: 0.1, Cmp: models.GreaterThan, Source: "fixed"},
		AWEIsh: models.Threshold{Index: indices.AWEIsh, Value: 0.0, Cmp: models.GreaterThan, Source: "fixed"},
		WI2015: models.Threshold{Index: indices.WI2015, Value: 0.0, Cmp: models.GreaterThan, Source: "fixed"},
		NDVI:   models.Threshold{Index: indices.NDVI, Value: 0.3, Cmp: models.LessThan, Source: "fixed"},
	}
}

// TestConjunctiveWaterAndVegetation verifies the two canonical cases:
// a water pixel passes, a vegetated pixel fails.
func TestConjunctiveWaterAndVegetation(t *testing.T) {
	water := buildIndexSet(t, 2, 2, waterBands())
	mask := Conjunctive(water, defaultRules())
	if mask.Count() != 4 {
		t.Errorf("Expected all 4 water pixels classified, got %d", mask.Count())
	}

	veg := buildIndexSet(t, 2, 2, vegetationBands())
	mask = Conjunctive(veg, defaultRules())
	if mask.Count() != 0 {
		t.Errorf("Expected 0 water pixels on vegetation, got %d", mask.Count())
	}
}

// TestConjunctiveNDVICap reproduces the documented scenario: with
// NDWI>0.1 and NDVI<0.1, a pixel at NDWI=0.15/NDVI=0.05 is water and
// the same pixel at NDVI=0.15 is not. The other rules are left
// trivially permissive so only the two named indices decide.
func TestConjunctiveNDVICap(t *testing.T) {
	rules := defaultRules()
	rules.NDWI.Value = 0.1
	rules.MNDWI.Value = 0.1
	rules.AWEIsh.Value = -1e9
	rules.WI2015.Value = -1e9
	rules.NDVI.Value = 0.1

	// green/nir chosen so NDWI=0.15; nir/red so NDVI=0.05
	bands := map[string]float64{
		models.BandGreen: 0.115 * 2, // arbitrary scale; only ratios matter
		models.BandNIR:   0.085 * 2,
		models.BandRed:   0.085 * 2 * (1 - 0.05) / (1 + 0.05),
		models.BandBlue:  0.05,
		models.BandSWIR1: 0.05,
		models.BandSWIR2: 0.05,
	}
	set := buildIndexSet(t, 1, 1, bands)

	ndwi := set.Index(indices.NDWI).At(0, 0)
	if math.Abs(ndwi-0.15) > 1e-9 {
		t.Fatalf("Fixture error: expected NDWI=0.15, got %g", ndwi)
	}
	ndvi := set.Index(indices.NDVI).At(0, 0)
	if math.Abs(ndvi-0.05) > 1e-9 {
		t.Fatalf("Fixture error: expected NDVI=0.05, got %g", ndvi)
	}

	mask := Conjunctive(set, rules)
	if !mask.At(0, 0) {
		t.Error("Expected NDWI=0.15, NDVI=0.05 to classify as water")
	}

	// Same pixel with NDVI pushed to 0.15
	bands[models.BandRed] = bands[models.BandNIR] * (1 - 0.15) / (1 + 0.15)
	set = buildIndexSet(t, 1, 1, bands)
	mask = Conjunctive(set, rules)
	if mask.At(0, 0) {
		t.Error("Expected NDVI=0.15 to block the classification")
	}
}

// TestConjunctiveMonotonicity verifies that raising any greater-than
// threshold, or lowering the NDVI cap, never increases the water count.
func TestConjunctiveMonotonicity(t *testing.T) {
	set := buildIndexSet(t, 4, 4, waterBands())
	base := Conjunctive(set, defaultRules()).Count()

	t.Run("RaiseGreaterThan", func(t *testing.T) {
		for _, raise := range []func(*ConjunctiveRules){
			func(r *ConjunctiveRules) { r.NDWI.Value += 10 },
			func(r *ConjunctiveRules) { r.MNDWI.Value += 10 },
			func(r *ConjunctiveRules) { r.AWEIsh.Value += 10 },
			func(r *ConjunctiveRules) { r.WI2015.Value += 10 },
		} {
			rules := defaultRules()
			raise(&rules)
			if got := Conjunctive(set, rules).Count(); got > base {
				t.Errorf("Expected count <= %d after raising a threshold, got %d", base, got)
			}
		}
	})

	t.Run("LowerNDVICap", func(t *testing.T) {
		rules := defaultRules()
		rules.NDVI.Value = -2
		if got := Conjunctive(set, rules).Count(); got > base {
			t.Errorf("Expected count <= %d after lowering the NDVI cap, got %d", base, got)
		}
	})
}

// TestVoteQuorumSuperset verifies that quorum=1 accepts a pixel-wise
// superset of quorum=N over the same rules.
func TestVoteQuorumSuperset(t *testing.T) {
	set := buildIndexSet(t, 4, 4, waterBands())
	rules := defaultRules()
	votes := []VoteRule{
		{Water: rules.NDWI, VegetationCap: rules.NDVI},
		{Water: rules.MNDWI, VegetationCap: rules.NDVI},
		{Water: rules.AWEIsh, VegetationCap: rules.NDVI},
		{Water: rules.WI2015, VegetationCap: rules.NDVI},
		{Water: models.Threshold{Index: indices.NDWI, Value: 0.9, Cmp: models.GreaterThan}, VegetationCap: rules.NDVI},
	}

	loose, err := Vote(set, votes, 1)
	if err != nil {
		t.Fatalf("Vote with quorum=1 failed: %v", err)
	}
	strict, err := Vote(set, votes, len(votes))
	if err != nil {
		t.Fatalf("Vote with quorum=%d failed: %v", len(votes), err)
	}

	for i := range strict.Data {
		if strict.Data[i] && !loose.Data[i] {
			t.Fatalf("Pixel %d accepted by quorum=%d but not quorum=1", i, len(votes))
		}
	}
	if loose.Count() < strict.Count() {
		t.Errorf("Expected quorum=1 count >= quorum=%d count (%d vs %d)",
			len(votes), loose.Count(), strict.Count())
	}
}

// TestVoteQuorumValidation verifies quorum bounds checking.
func TestVoteQuorumValidation(t *testing.T) {
	set := buildIndexSet(t, 1, 1, waterBands())
	rules := []VoteRule{{Water: defaultRules().NDWI, VegetationCap: defaultRules().NDVI}}

	if _, err := Vote(set, rules, 0); err == nil {
		t.Error("Expected error for quorum=0")
	}
	if _, err := Vote(set, rules, 2); err == nil {
		t.Error("Expected error for quorum above rule count")
	}
}

// TestProvenanceRecorded verifies the policy and thresholds end up in
// the mask provenance.
func TestProvenanceRecorded(t *testing.T) {
	set := buildIndexSet(t, 1, 1, waterBands())

	mask := Conjunctive(set, defaultRules())
	if !strings.HasPrefix(mask.Provenance, "conjunctive:") {
		t.Errorf("Expected conjunctive provenance, got %q", mask.Provenance)
	}
	if !strings.Contains(mask.Provenance, "NDWI>0.1000(fixed)") {
		t.Errorf("Expected NDWI threshold in provenance, got %q", mask.Provenance)
	}

	rules := defaultRules()
	voted, err := Vote(set, []VoteRule{{Water: rules.NDWI, VegetationCap: rules.NDVI}}, 1)
	if err != nil {
		t.Fatalf("Vote failed: %v", err)
	}
	if !strings.HasPrefix(voted.Provenance, "vote(quorum=1 of 1)") {
		t.Errorf("Expected vote provenance, got %q", voted.Provenance)
	}
}

// TestNaNNeverWater verifies that masked pixels never classify as water
// under either policy.
func TestNaNNeverWater(t *testing.T) {
	set := buildIndexSet(t, 2, 1, waterBands())
	// Invalidate one pixel in every index by rebuilding with a NaN band
	raster := models.NewMultiBandRaster(2, 1,
		models.GeoTransform{OriginY: 1, PixelWidth: 1, PixelHeight: -1}, "EPSG:4326")
	for _, name := range indices.RequiredBands {
		g := models.NewGridFill(2, 1, waterBands()[name])
		g.Set(1, 0, math.NaN())
		if err := raster.AddBand(name, g); err != nil {
			t.Fatalf("Failed to add band: %v", err)
		}
	}
	var err error
	set, err = indices.Compute(raster)
	if err != nil {
		t.Fatalf("Failed to compute indices: %v", err)
	}

	mask := Conjunctive(set, defaultRules())
	if !mask.At(0, 0) {
		t.Error("Expected valid water pixel to classify")
	}
	if mask.At(1, 0) {
		t.Error("Expected masked pixel to never classify as water")
	}
}
