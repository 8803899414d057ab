// Package threshold picks scalar cut points for spectral indices,
// either from configuration (fixed) or adaptively with Otsu's
// between-class variance search (Otsu 1979) over a bucketed histogram
// of the in-region pixel values.
package threshold

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"watermask/internal/models"
)

// Config controls the adaptive search.
type Config struct {
	// Buckets is the histogram resolution, e.g. 255
	Buckets int

	// Lo and Hi bound the histogram value range, e.g. [0, 1] for
	// water-side NDWI values. Values outside are clamped into the
	// boundary buckets.
	Lo, Hi float64

	// Fallback is the fixed threshold substituted when the histogram
	// is degenerate (empty or single-bucket)
	Fallback float64
}

// DefaultConfig returns the search parameters used when none are
// configured: 255 buckets over [0, 1] with a 0.2 fallback.
func DefaultConfig() Config {
	return Config{Buckets: 255, Lo: 0, Hi: 1, Fallback: 0.2}
}

// DegenerateHistogramError signals that the adaptive search could not
// discriminate two classes (no valid pixels, or all values in a single
// bucket). It is recoverable: the returned threshold already carries
// the configured fallback value, so callers log the substitution and
// continue rather than aborting the pipeline.
type DegenerateHistogramError struct {
	// Index is the spectral index being thresholded
	Index string

	// Reason describes the degeneracy ("empty histogram" or
	// "single occupied bucket")
	Reason string

	// Fallback is the substituted fixed value
	Fallback float64
}

// Error implements the error interface.
func (e *DegenerateHistogramError) Error() string {
	return fmt.Sprintf("otsu search for %s degenerate (%s), using fixed threshold %.4f",
		e.Index, e.Reason, e.Fallback)
}

// Fixed returns a configured constant threshold, skipping any search.
func Fixed(index string, value float64, cmp models.Comparison) models.Threshold {
	return models.Threshold{Index: index, Value: value, Cmp: cmp, Source: "fixed"}
}

// Otsu finds the cut point maximizing between-class variance for the
// named index over the pixels inside the region. An empty region
// (no vertices) means the whole grid.
//
// The search sweeps every candidate split k in [1, buckets), divides
// the histogram into a below group [0, k) and an above group [k, end),
// and scores the split as
//
//	BCV(k) = nA*(meanA-mu)^2 + nB*(meanB-mu)^2
//
// where mu is the global weighted mean. The threshold is the bucket
// center at the first (lowest) k achieving the maximum, which makes the
// result deterministic under ties.
//
// If the histogram is degenerate the configured fallback is returned
// with Fallback=true together with a *DegenerateHistogramError; the
// error is informational and the threshold remains usable.
func Otsu(index string, grid *models.Grid, transform models.GeoTransform, region models.Region, cmp models.Comparison, cfg Config) (models.Threshold, error) {
	if cfg.Buckets < 2 {
		cfg = DefaultConfig()
	}

	counts, centers := histogram(grid, transform, region, cfg)
	return OtsuFromHistogram(index, counts, centers, cmp, cfg.Fallback)
}

// histogram buckets the in-region valid pixel values. Returns parallel
// slices of bucket counts and bucket-center values.
func histogram(grid *models.Grid, transform models.GeoTransform, region models.Region, cfg Config) (counts, centers []float64) {
	counts = make([]float64, cfg.Buckets)
	centers = make([]float64, cfg.Buckets)
	width := (cfg.Hi - cfg.Lo) / float64(cfg.Buckets)
	for i := range centers {
		centers[i] = cfg.Lo + (float64(i)+0.5)*width
	}

	wholeGrid := len(region.Vertices) == 0
	for y := 0; y < grid.Height; y++ {
		for x := 0; x < grid.Width; x++ {
			v := grid.At(x, y)
			if math.IsNaN(v) {
				continue
			}
			if !wholeGrid {
				gx, gy := transform.PixelToGeo(x, y)
				if !region.ContainsPoint(models.Point{X: gx, Y: gy}) {
					continue
				}
			}
			b := int((v - cfg.Lo) / width)
			if b < 0 {
				b = 0
			}
			if b >= cfg.Buckets {
				b = cfg.Buckets - 1
			}
			counts[b]++
		}
	}
	return counts, centers
}

// OtsuFromHistogram runs the variance search directly on a prepared
// histogram. Exposed for callers that already have bucket statistics
// (and for exercising the documented tie-break without a grid).
func OtsuFromHistogram(index string, counts, centers []float64, cmp models.Comparison, fallback float64) (models.Threshold, error) {
	total := floats.Sum(counts)
	occupied := 0
	for _, c := range counts {
		if c > 0 {
			occupied++
		}
	}
	if total == 0 || occupied < 2 {
		reason := "empty histogram"
		if total > 0 {
			reason = "single occupied bucket"
		}
		t := models.Threshold{Index: index, Value: fallback, Cmp: cmp, Source: "otsu", Fallback: true}
		return t, &DegenerateHistogramError{Index: index, Reason: reason, Fallback: fallback}
	}

	weighted := make([]float64, len(counts))
	for i := range counts {
		weighted[i] = counts[i] * centers[i]
	}
	totalSum := floats.Sum(weighted)
	mu := totalSum / total

	// Cumulative sweep: carry the below-group count and weighted sum so
	// every candidate split is scored in O(1).
	bestK := -1
	bestBCV := math.Inf(-1)
	var countA, sumA float64
	for k := 1; k < len(counts); k++ {
		countA += counts[k-1]
		sumA += weighted[k-1]
		countB := total - countA
		sumB := totalSum - sumA
		if countA == 0 || countB == 0 {
			continue
		}
		meanA := sumA / countA
		meanB := sumB / countB
		bcv := countA*(meanA-mu)*(meanA-mu) + countB*(meanB-mu)*(meanB-mu)
		// Strict > keeps the lowest k on ties.
		if bcv > bestBCV {
			bestBCV = bcv
			bestK = k
		}
	}
	if bestK < 0 {
		t := models.Threshold{Index: index, Value: fallback, Cmp: cmp, Source: "otsu", Fallback: true}
		return t, &DegenerateHistogramError{Index: index, Reason: "no valid split", Fallback: fallback}
	}
	return models.Threshold{Index: index, Value: centers[bestK], Cmp: cmp, Source: "otsu"}, nil
}
