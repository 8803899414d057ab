// Package forest implements the supervised refinement stage: it derives
// pseudo-labeled training pixels from an adaptive threshold (no human
// annotation), trains a bagged ensemble of CART decision trees on the
// full index+band feature vector, and reclassifies every pixel of the
// raster. Fixed seeds make both sampling and training reproducible.
package forest

import (
	"fmt"
	"math"
	"math/rand"

	"watermask/internal/models"
	"watermask/pkg/indices"
)

// Hyperparams controls ensemble training. Zero values are replaced by
// the defaults from DefaultHyperparams.
type Hyperparams struct {
	// Trees is the ensemble size
	Trees int

	// FeaturesPerSplit is the number of features drawn at random for
	// each split search; 0 means sqrt(feature count)
	FeaturesPerSplit int

	// MinLeaf is the minimum number of samples in a leaf
	MinLeaf int

	// BagFraction is the share of the training set drawn (with
	// replacement) for each tree
	BagFraction float64

	// Seed fixes the random source for bagging and split sampling
	Seed int64

	// MaxSamplesPerClass bounds the pseudo-label sample per class
	MaxSamplesPerClass int
}

// DefaultHyperparams returns the ensemble settings used when the
// configuration leaves them unset.
func DefaultHyperparams() Hyperparams {
	return Hyperparams{
		Trees:              25,
		FeaturesPerSplit:   0,
		MinLeaf:            5,
		BagFraction:        0.7,
		Seed:               42,
		MaxSamplesPerClass: 1500,
	}
}

// applyDefaults fills unset fields in place.
func (h *Hyperparams) applyDefaults() {
	d := DefaultHyperparams()
	if h.Trees <= 0 {
		h.Trees = d.Trees
	}
	if h.MinLeaf <= 0 {
		h.MinLeaf = d.MinLeaf
	}
	if h.BagFraction <= 0 || h.BagFraction > 1 {
		h.BagFraction = d.BagFraction
	}
	if h.MaxSamplesPerClass <= 0 {
		h.MaxSamplesPerClass = d.MaxSamplesPerClass
	}
	if h.Seed == 0 {
		h.Seed = d.Seed
	}
}

// LabelConfig controls pseudo-label derivation from the primary index
// threshold.
type LabelConfig struct {
	// ClearNonVegetated is the NDVI value below which a pixel passing
	// the water threshold is confidently water
	ClearNonVegetated float64

	// ClearlyVegetated is the NDVI value above which a pixel well below
	// the water threshold is confidently non-water
	ClearlyVegetated float64

	// NegativeFactor scales the threshold for the non-water side: a
	// pixel must fall below NegativeFactor*threshold to be labeled dry
	NegativeFactor float64
}

// DefaultLabelConfig returns the pseudo-labeling cutoffs used when the
// configuration leaves them unset.
func DefaultLabelConfig() LabelConfig {
	return LabelConfig{
		ClearNonVegetated: 0.1,
		ClearlyVegetated:  0.3,
		NegativeFactor:    0.5,
	}
}

// TrainingSample is one pseudo-labeled pixel: the feature vector in
// IndexSet.FeatureNames order plus a {0,1} label. Samples exist only
// for the duration of training.
type TrainingSample struct {
	Features []float64
	Label    int
}

// InsufficientTrainingDataError reports that pseudo-labeling produced
// an empty class, which makes supervised refinement impossible. The
// fusion path is unaffected; callers fall back to it.
type InsufficientTrainingDataError struct {
	WaterSamples int
	LandSamples  int
}

// Error implements the error interface.
func (e *InsufficientTrainingDataError) Error() string {
	return fmt.Sprintf("insufficient training data: %d water and %d non-water pseudo-labels",
		e.WaterSamples, e.LandSamples)
}

// Refiner is a trained ensemble ready to classify rasters.
type Refiner struct {
	trees        []*tree
	featureNames []string
	params       Hyperparams

	// TrainedOn records the pseudo-label rule for provenance
	TrainedOn string
}

// SamplePseudoLabels derives a bounded, reproducible training set from
// the primary index threshold t (usually Otsu on MNDWI):
//
//   - water (1):     index > t.Value AND NDVI < ClearNonVegetated
//   - non-water (0): index < NegativeFactor*t.Value AND NDVI > ClearlyVegetated
//
// Pixels between the two rules are ambiguous and never sampled. Each
// class is capped at MaxSamplesPerClass by reservoir sampling with the
// configured seed, so the same raster and settings always produce the
// same training set. An empty region means the whole grid.
func SamplePseudoLabels(set *indices.IndexSet, transform models.GeoTransform, region models.Region, t models.Threshold, lc LabelConfig, hp Hyperparams) ([]TrainingSample, error) {
	hp.applyDefaults()
	if lc.NegativeFactor <= 0 {
		lc = DefaultLabelConfig()
	}

	primary := set.Index(t.Index)
	ndvi := set.Index(indices.NDVI)
	if primary == nil || ndvi == nil {
		return nil, fmt.Errorf("pseudo-labeling needs %s and %s indices", t.Index, indices.NDVI)
	}

	names := set.FeatureNames()
	rng := rand.New(rand.NewSource(hp.Seed))
	wholeGrid := len(region.Vertices) == 0

	var water, land []TrainingSample
	waterSeen, landSeen := 0, 0

	feat := make([]float64, len(names))
	for y := 0; y < primary.Height; y++ {
		for x := 0; x < primary.Width; x++ {
			i := y*primary.Width + x
			pv := primary.Data[i]
			nv := ndvi.Data[i]
			if math.IsNaN(pv) || math.IsNaN(nv) {
				continue
			}
			if !wholeGrid {
				gx, gy := transform.PixelToGeo(x, y)
				if !region.ContainsPoint(models.Point{X: gx, Y: gy}) {
					continue
				}
			}

			label := -1
			if pv > t.Value && nv < lc.ClearNonVegetated {
				label = 1
			} else if pv < lc.NegativeFactor*t.Value && nv > lc.ClearlyVegetated {
				label = 0
			}
			if label < 0 {
				continue
			}
			if !set.FeatureAt(i, names, feat) {
				continue
			}

			sample := TrainingSample{Features: append([]float64(nil), feat...), Label: label}
			if label == 1 {
				waterSeen++
				reservoirAdd(&water, sample, waterSeen, hp.MaxSamplesPerClass, rng)
			} else {
				landSeen++
				reservoirAdd(&land, sample, landSeen, hp.MaxSamplesPerClass, rng)
			}
		}
	}

	if len(water) == 0 || len(land) == 0 {
		return nil, &InsufficientTrainingDataError{
			WaterSamples: len(water),
			LandSamples:  len(land),
		}
	}
	return append(water, land...), nil
}

// reservoirAdd keeps a uniform sample of at most limit elements from a
// stream of seen elements so far.
func reservoirAdd(pool *[]TrainingSample, s TrainingSample, seen, limit int, rng *rand.Rand) {
	if len(*pool) < limit {
		*pool = append(*pool, s)
		return
	}
	j := rng.Intn(seen)
	if j < limit {
		(*pool)[j] = s
	}
}

// Train fits the ensemble on the pseudo-labeled samples. Every tree is
// grown on a bootstrap draw of BagFraction*len(samples) samples with a
// random feature subset considered at each split.
func Train(samples []TrainingSample, featureNames []string, hp Hyperparams) (*Refiner, error) {
	hp.applyDefaults()
	if len(samples) == 0 {
		return nil, &InsufficientTrainingDataError{}
	}

	nFeatures := len(featureNames)
	mtry := hp.FeaturesPerSplit
	if mtry <= 0 || mtry > nFeatures {
		mtry = int(math.Sqrt(float64(nFeatures)))
		if mtry < 1 {
			mtry = 1
		}
	}

	rng := rand.New(rand.NewSource(hp.Seed))
	bagSize := int(hp.BagFraction * float64(len(samples)))
	if bagSize < 1 {
		bagSize = 1
	}

	trees := make([]*tree, hp.Trees)
	for i := range trees {
		// Bootstrap with replacement
		bag := make([]TrainingSample, bagSize)
		for j := range bag {
			bag[j] = samples[rng.Intn(len(samples))]
		}
		trees[i] = growTree(bag, mtry, hp.MinLeaf, rng)
	}

	return &Refiner{
		trees:        trees,
		featureNames: featureNames,
		params:       hp,
	}, nil
}

// Classify applies the ensemble to every pixel and returns the binary
// mask (majority vote) plus the per-pixel water probability (fraction
// of trees voting water). Pixels with any invalid feature are not water
// and get probability NaN.
func (r *Refiner) Classify(set *indices.IndexSet) (*models.ClassificationMask, *models.Grid) {
	mask := models.NewClassificationMask(set.Width, set.Height)
	probs := models.NewGridFill(set.Width, set.Height, math.NaN())

	names := r.featureNames
	feat := make([]float64, len(names))
	for i := range mask.Data {
		if !set.FeatureAt(i, names, feat) {
			continue
		}
		votes := 0
		for _, t := range r.trees {
			votes += t.predict(feat)
		}
		p := float64(votes) / float64(len(r.trees))
		probs.Data[i] = p
		mask.Data[i] = p >= 0.5
	}

	mask.Provenance = fmt.Sprintf("forest(trees=%d, minLeaf=%d, bag=%.2f, seed=%d)%s",
		r.params.Trees, r.params.MinLeaf, r.params.BagFraction, r.params.Seed, r.TrainedOn)
	return mask, probs
}
