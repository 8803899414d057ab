// Package pipeline wires the classification stages into one auditable
// run: band validation, index computation, threshold selection, fusion
// or supervised refinement, morphological cleanup, tiling and export.
// Every stage consumes its input fully and returns a new artifact; all
// tunables arrive through Params, never through globals.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"watermask/internal/models"
	"watermask/pkg/bands"
	"watermask/pkg/cleanup"
	"watermask/pkg/config"
	"watermask/pkg/export"
	"watermask/pkg/forest"
	"watermask/pkg/fusion"
	"watermask/pkg/indices"
	"watermask/pkg/threshold"
	"watermask/pkg/tiling"
)

// Params holds the classification parameters for one run.
type Params struct {
	// Raster is the cloud-filtered, time-composited input
	Raster *models.MultiBandRaster

	// Region is the area of interest; empty means the full raster
	Region models.Region

	// ThresholdMode selects "otsu" or "fixed"
	ThresholdMode string

	// Buckets, HistLo and HistHi configure the Otsu histogram for the
	// normalized-difference indices; wide-range indices derive their
	// histogram bounds from the data
	Buckets int
	HistLo  float64
	HistHi  float64

	// Fixed per-index thresholds; in otsu mode they are the
	// degenerate-histogram fallbacks
	FixedNDWI    float64
	FixedMNDWI   float64
	FixedAWEIsh  float64
	FixedWI2015  float64
	FixedNDVICap float64

	// FusionPolicy is "conjunctive" or "vote"; Quorum applies to vote
	FusionPolicy string
	Quorum       int

	// RefineEnabled trains the supervised refiner on pseudo-labels
	// derived from RefineIndex's threshold
	RefineEnabled bool
	RefineIndex   string
	Hyperparams   forest.Hyperparams
	Labels        forest.LabelConfig

	// Cleanup holds the post-processing parameters
	Cleanup cleanup.Config

	// CellSize and MaxTiles control the export partition
	CellSize float64
	MaxTiles int

	// Sink receives the tile products; nil skips export
	Sink export.Sink

	// Export settings
	Workers      int
	Retries      int
	RetryBase    time.Duration
	BaseName     string
	Folder       string
	OutputDir    string
	Scale        float64
	CRS          string
	MaxPixels    int64
	Quicklooks   bool
	CSVTable     bool
	IndexRasters bool
	SkipTileIDs  []string
}

// ParamsFromConfig builds run parameters from the loaded configuration.
func ParamsFromConfig(cfg *config.Config, raster *models.MultiBandRaster, sink export.Sink) *Params {
	var region models.Region
	for _, v := range cfg.Region {
		if len(v) == 2 {
			region.Vertices = append(region.Vertices, models.Point{X: v[0], Y: v[1]})
		}
	}

	return &Params{
		Raster:        raster,
		Region:        region,
		ThresholdMode: cfg.Threshold.Mode,
		Buckets:       cfg.Threshold.Buckets,
		HistLo:        cfg.Threshold.Lo,
		HistHi:        cfg.Threshold.Hi,
		FixedNDWI:     cfg.Threshold.Fixed.NDWI,
		FixedMNDWI:    cfg.Threshold.Fixed.MNDWI,
		FixedAWEIsh:   cfg.Threshold.Fixed.AWEIsh,
		FixedWI2015:   cfg.Threshold.Fixed.WI2015,
		FixedNDVICap:  cfg.Threshold.Fixed.NDVICap,
		FusionPolicy:  cfg.Fusion.Policy,
		Quorum:        cfg.Fusion.Quorum,
		RefineEnabled: cfg.Refine.Enabled,
		RefineIndex:   cfg.Refine.Index,
		Hyperparams: forest.Hyperparams{
			Trees:              cfg.Refine.Trees,
			FeaturesPerSplit:   cfg.Refine.FeaturesPerSplit,
			MinLeaf:            cfg.Refine.MinLeaf,
			BagFraction:        cfg.Refine.BagFraction,
			Seed:               cfg.Refine.Seed,
			MaxSamplesPerClass: cfg.Refine.MaxSamplesPerClass,
		},
		Labels: forest.LabelConfig{
			ClearNonVegetated: cfg.Refine.ClearNonVegetated,
			ClearlyVegetated:  cfg.Refine.ClearlyVegetated,
			NegativeFactor:    cfg.Refine.NegativeFactor,
		},
		Cleanup: cleanup.Config{
			OpenRadius:         cfg.Cleanup.OpenRadius,
			CloseRadius:        cfg.Cleanup.CloseRadius,
			MinComponentPixels: cfg.Cleanup.MinComponentPixels,
		},
		CellSize:     cfg.Tiling.CellSize,
		MaxTiles:     cfg.Tiling.MaxTiles,
		Sink:         sink,
		Workers:      cfg.Export.Workers,
		Retries:      cfg.Export.Retries,
		RetryBase:    time.Duration(cfg.Export.RetryBaseMs) * time.Millisecond,
		BaseName:     cfg.Export.BaseName,
		Folder:       cfg.Export.Folder,
		OutputDir:    cfg.Export.OutputDir,
		Scale:        cfg.Export.Scale,
		CRS:          cfg.Export.CRS,
		MaxPixels:    cfg.Export.MaxPixels,
		Quicklooks:   cfg.Export.Quicklooks,
		CSVTable:     cfg.Export.CSVTable,
		IndexRasters: cfg.Export.IndexRasters,
		SkipTileIDs:  cfg.Export.SkipTileIDs,
	}
}

// RunReport summarizes a completed run: which thresholds were actually
// used (including any fixed-threshold fallbacks), how the mask evolved
// through the stages, and the per-tile export outcome.
type RunReport struct {
	// Thresholds lists every threshold the run used, in rule order
	Thresholds []models.Threshold

	// Fallbacks counts adaptive searches that degenerated to fixed values
	Fallbacks int

	// Refined is true when the supervised refiner produced the mask;
	// false means the fusion mask was used (including refiner fallback)
	Refined bool

	// RefineSkipped carries the refiner failure when it was skipped
	RefineSkipped error

	// WaterPixelsRaw and WaterPixelsClean count water pixels before and
	// after post-processing
	WaterPixelsRaw   int
	WaterPixelsClean int

	// Provenance is the final mask's audit record
	Provenance string

	// Tiling outcome
	TileRows, TileCols int
	TileCellSize       float64
	TilesKept          int
	TilesDropped       int

	// Export outcome
	TilesSubmitted int
	TilesSkipped   int
	TilesFailed    int
	ExportErrors   []error
}

// Classifier runs the water classification pipeline over one raster.
type Classifier struct {
	params *Params
	report RunReport

	mask *models.ClassificationMask
	set  *indices.IndexSet
}

// NewClassifier creates a classifier for the given parameters.
func NewClassifier(params *Params) *Classifier {
	return &Classifier{params: params}
}

// Report returns the run summary; valid after Process.
func (c *Classifier) Report() RunReport {
	return c.report
}

// Mask returns the final cleaned classification mask; valid after Process.
func (c *Classifier) Mask() *models.ClassificationMask {
	return c.mask
}

// Process runs the complete classification pipeline.
func (c *Classifier) Process(ctx context.Context) error {
	p := c.params

	// Step 1: Validate bands and mask invalid pixels
	fmt.Println("Step 1: Validating bands...")
	validated, err := validateInput(p.Raster)
	if err != nil {
		return fmt.Errorf("band validation failed: %v", err)
	}

	// Step 2: Compute spectral indices
	fmt.Println("Step 2: Computing spectral indices...")
	set, err := indices.Compute(validated)
	if err != nil {
		return fmt.Errorf("index computation failed: %v", err)
	}
	c.set = set

	// Step 3: Select thresholds
	fmt.Printf("Step 3: Selecting thresholds (%s mode)...\n", p.ThresholdMode)
	rules, err := c.selectThresholds(validated, set)
	if err != nil {
		return fmt.Errorf("threshold selection failed: %v", err)
	}

	// Step 4: Fuse index decisions into the initial mask
	fmt.Printf("Step 4: Classifying (%s policy)...\n", p.FusionPolicy)
	mask, err := c.classify(set, rules)
	if err != nil {
		return fmt.Errorf("classification failed: %v", err)
	}

	// Step 5: Supervised refinement (optional, non-fatal on thin data)
	if p.RefineEnabled {
		fmt.Println("Step 5: Training supervised refiner from pseudo-labels...")
		refined, err := c.refine(validated, set, rules)
		if err != nil {
			var thin *forest.InsufficientTrainingDataError
			if errors.As(err, &thin) {
				fmt.Printf("Warning: refiner skipped (%v); keeping fusion mask\n", err)
				c.report.RefineSkipped = err
			} else {
				return fmt.Errorf("supervised refinement failed: %v", err)
			}
		} else {
			mask = refined
			c.report.Refined = true
		}
	}
	c.report.WaterPixelsRaw = mask.Count()

	// Step 6: Morphological cleanup and component filtering
	fmt.Println("Step 6: Post-processing mask...")
	mask = cleanup.Apply(mask, validated.Transform, p.Region, p.Cleanup)
	c.mask = mask
	c.report.WaterPixelsClean = mask.Count()
	c.report.Provenance = mask.Provenance

	// Step 7: Partition the region into export tiles
	fmt.Println("Step 7: Partitioning region into export tiles...")
	region := p.Region
	if len(region.Vertices) == 0 {
		region = rasterRegion(validated)
	}
	part, err := tiling.Partition(region, p.CellSize, p.MaxTiles)
	if err != nil {
		return fmt.Errorf("tile partitioning failed: %v", err)
	}
	c.report.TileRows = part.Rows
	c.report.TileCols = part.Cols
	c.report.TileCellSize = part.CellSize
	c.report.TilesKept = len(part.Tiles)
	c.report.TilesDropped = part.Dropped
	if part.Dropped > 0 {
		fmt.Printf("Dropped %d candidate tiles with empty region intersection\n", part.Dropped)
	}

	// Step 8: Export tiles and side artifacts
	if p.Sink != nil {
		fmt.Printf("Step 8: Exporting %d tiles with %d workers...\n", len(part.Tiles), p.Workers)
		c.exportTiles(ctx, validated, set, mask, part.Tiles)
	}
	if err := c.writeSideArtifacts(validated, set, mask); err != nil {
		return err
	}

	return nil
}

// validateInput runs the band gate with the full index band list.
func validateInput(raster *models.MultiBandRaster) (*models.MultiBandRaster, error) {
	return bands.Validate(raster, indices.RequiredBands)
}

// selectThresholds produces the five rule thresholds, adaptively or
// fixed. Degenerate adaptive searches are recovered with the configured
// fixed value and reported, never fatal.
func (c *Classifier) selectThresholds(raster *models.MultiBandRaster, set *indices.IndexSet) (fusion.ConjunctiveRules, error) {
	p := c.params
	var rules fusion.ConjunctiveRules

	specs := []struct {
		index string
		fixed float64
		cmp   models.Comparison
		dst   *models.Threshold
	}{
		{indices.NDWI, p.FixedNDWI, models.GreaterThan, &rules.NDWI},
		{indices.MNDWI, p.FixedMNDWI, models.GreaterThan, &rules.MNDWI},
		{indices.AWEIsh, p.FixedAWEIsh, models.GreaterThan, &rules.AWEIsh},
		{indices.WI2015, p.FixedWI2015, models.GreaterThan, &rules.WI2015},
		{indices.NDVI, p.FixedNDVICap, models.LessThan, &rules.NDVI},
	}

	for _, spec := range specs {
		var t models.Threshold
		switch p.ThresholdMode {
		case "fixed":
			t = threshold.Fixed(spec.index, spec.fixed, spec.cmp)
		case "otsu", "":
			// The NDVI cap stays fixed even in otsu mode: the adaptive
			// search separates water from background, not vegetation
			// from everything else.
			if spec.cmp == models.LessThan {
				t = threshold.Fixed(spec.index, spec.fixed, spec.cmp)
				break
			}
			grid := set.Index(spec.index)
			cfg := c.otsuConfigFor(spec.index, grid, spec.fixed)
			var derr error
			t, derr = threshold.Otsu(spec.index, grid, raster.Transform, p.Region, spec.cmp, cfg)
			if derr != nil {
				fmt.Printf("Warning: %v\n", derr)
				c.report.Fallbacks++
			}
		default:
			return rules, fmt.Errorf("unknown threshold mode %q", p.ThresholdMode)
		}
		*spec.dst = t
		c.report.Thresholds = append(c.report.Thresholds, t)
		fmt.Printf("  %s\n", t)
	}
	return rules, nil
}

// otsuConfigFor returns the histogram bounds for an index: the
// configured [lo, hi] for normalized-difference indices, the observed
// value range for the wide-range composites.
func (c *Classifier) otsuConfigFor(index string, grid *models.Grid, fallback float64) threshold.Config {
	cfg := threshold.Config{
		Buckets:  c.params.Buckets,
		Lo:       c.params.HistLo,
		Hi:       c.params.HistHi,
		Fallback: fallback,
	}
	if cfg.Buckets < 2 {
		cfg.Buckets = 255
	}
	if cfg.Hi <= cfg.Lo {
		cfg.Lo, cfg.Hi = 0, 1
	}
	if index == indices.AWEIsh || index == indices.WI2015 {
		min, max := grid.MinMax()
		if !math.IsNaN(min) && max > min {
			cfg.Lo, cfg.Hi = min, max
		}
	}
	return cfg
}

// classify applies the configured fusion policy.
func (c *Classifier) classify(set *indices.IndexSet, rules fusion.ConjunctiveRules) (*models.ClassificationMask, error) {
	switch c.params.FusionPolicy {
	case "conjunctive", "":
		return fusion.Conjunctive(set, rules), nil
	case "vote":
		votes := []fusion.VoteRule{
			{Water: rules.NDWI, VegetationCap: rules.NDVI},
			{Water: rules.MNDWI, VegetationCap: rules.NDVI},
			{Water: rules.AWEIsh, VegetationCap: rules.NDVI},
			{Water: rules.WI2015, VegetationCap: rules.NDVI},
		}
		return fusion.Vote(set, votes, c.params.Quorum)
	default:
		return nil, fmt.Errorf("unknown fusion policy %q", c.params.FusionPolicy)
	}
}

// refine trains the supervised classifier from pseudo-labels derived
// from the primary index threshold and reclassifies the raster.
func (c *Classifier) refine(raster *models.MultiBandRaster, set *indices.IndexSet, rules fusion.ConjunctiveRules) (*models.ClassificationMask, error) {
	p := c.params

	primary := rules.MNDWI
	switch p.RefineIndex {
	case indices.NDWI:
		primary = rules.NDWI
	case indices.AWEIsh:
		primary = rules.AWEIsh
	case indices.WI2015:
		primary = rules.WI2015
	case indices.MNDWI, "":
	default:
		return nil, fmt.Errorf("unknown refine index %q", p.RefineIndex)
	}

	samples, err := forest.SamplePseudoLabels(set, raster.Transform, p.Region, primary, p.Labels, p.Hyperparams)
	if err != nil {
		return nil, err
	}
	waterCount := 0
	for _, s := range samples {
		waterCount += s.Label
	}
	fmt.Printf("  sampled %d water and %d non-water training pixels\n",
		waterCount, len(samples)-waterCount)

	refiner, err := forest.Train(samples, set.FeatureNames(), p.Hyperparams)
	if err != nil {
		return nil, err
	}
	refiner.TrainedOn = fmt.Sprintf(" trained on %s", primary)

	mask, _ := refiner.Classify(set)
	return mask, nil
}

// exportTiles fans the per-tile clip+submit work out across the worker
// pool and folds the results into the report.
func (c *Classifier) exportTiles(ctx context.Context, raster *models.MultiBandRaster, set *indices.IndexSet, mask *models.ClassificationMask, tiles []models.Tile) {
	p := c.params

	tiles = tiling.WithWindows(tiles, raster.Transform, raster.Width, raster.Height)

	grids := map[string]*models.Grid{}
	if p.IndexRasters {
		for _, name := range set.Names() {
			grids[name] = set.Index(name)
		}
	}

	skip := make(map[string]bool, len(p.SkipTileIDs))
	for _, id := range p.SkipTileIDs {
		skip[id] = true
	}

	coord := &export.Coordinator{
		Sink:      p.Sink,
		Workers:   p.Workers,
		Retries:   p.Retries,
		RetryBase: p.RetryBase,
		BaseName:  p.BaseName,
		Folder:    p.Folder,
		CRS:       p.CRS,
		Scale:     p.Scale,
		MaxPixels: p.MaxPixels,
		SkipIDs:   skip,
	}

	results := coord.Export(ctx, tiles, mask, grids, raster.Transform)
	for _, res := range results {
		switch {
		case res.Skipped:
			c.report.TilesSkipped++
		case res.Err != nil:
			c.report.TilesFailed++
			c.report.ExportErrors = append(c.report.ExportErrors, res.Err)
			fmt.Printf("Warning: %v\n", res.Err)
		default:
			c.report.TilesSubmitted++
		}
	}
}

// writeSideArtifacts emits the non-tiled artifacts: quicklook PNGs and
// the optional CSV pixel table.
func (c *Classifier) writeSideArtifacts(raster *models.MultiBandRaster, set *indices.IndexSet, mask *models.ClassificationMask) error {
	p := c.params
	if !p.Quicklooks && !p.CSVTable {
		return nil
	}
	if err := os.MkdirAll(p.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %v", err)
	}

	if p.Quicklooks {
		fmt.Println("Writing quicklooks...")
		maskPath := filepath.Join(p.OutputDir, p.BaseName+"_mask.png")
		if err := export.WriteMaskQuicklook(maskPath, mask); err != nil {
			fmt.Printf("Warning: %v\n", err)
		}
		compositePath := filepath.Join(p.OutputDir, p.BaseName+"_rgb.png")
		if err := export.WriteCompositeQuicklook(compositePath, raster); err != nil {
			fmt.Printf("Warning: %v\n", err)
		}
		if gray, err := indices.Gray(raster); err == nil {
			grayPath := filepath.Join(p.OutputDir, p.BaseName+"_gray.png")
			if err := export.WriteGrayQuicklook(grayPath, gray); err != nil {
				fmt.Printf("Warning: %v\n", err)
			}
		}
		for _, name := range set.Names() {
			path := filepath.Join(p.OutputDir, fmt.Sprintf("%s_%s.png", p.BaseName, name))
			if err := export.WriteIndexQuicklook(path, set.Index(name)); err != nil {
				fmt.Printf("Warning: %v\n", err)
			}
		}
	}

	if p.CSVTable {
		fmt.Println("Writing CSV pixel table...")
		path := filepath.Join(p.OutputDir, p.BaseName+"_pixels.csv")
		if err := export.WriteCSVTable(path, raster, set, mask); err != nil {
			return fmt.Errorf("CSV table export failed: %v", err)
		}
	}
	return nil
}

// rasterRegion builds the rectangular region covering a whole raster.
func rasterRegion(raster *models.MultiBandRaster) models.Region {
	t := raster.Transform
	x0 := t.OriginX
	x1 := t.OriginX + float64(raster.Width)*t.PixelWidth
	y0 := t.OriginY
	y1 := t.OriginY + float64(raster.Height)*t.PixelHeight
	rect := models.Rect{
		MinX: math.Min(x0, x1), MaxX: math.Max(x0, x1),
		MinY: math.Min(y0, y1), MaxY: math.Max(y0, y1),
	}
	return models.RectRegion(rect)
}
