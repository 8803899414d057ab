// Package config provides configuration loading and management for
// watermask. It handles loading configuration from YAML files, applies
// optional environment overrides from a .env file, and provides
// default values for every pipeline stage.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML.
// Every tunable of the pipeline lives here — the thresholds, radii,
// cell size and classifier hyperparameters are passed explicitly into
// each stage, never read from globals.
type Config struct {
	// Acquisition parameters forwarded to the imagery source
	Acquisition struct {
		// StartDate and EndDate bound the composite period (ISO dates)
		StartDate string `yaml:"startDate"`
		EndDate   string `yaml:"endDate"`

		// CloudFilterPercent is the maximum scene cloud fraction
		CloudFilterPercent float64 `yaml:"cloudFilterPercent"`
	} `yaml:"acquisition"`

	// Region is the area of interest as a polygon of [x, y] vertex
	// pairs in the raster CRS; rectangles are 4-vertex polygons
	Region [][]float64 `yaml:"region"`

	// Threshold parameters
	Threshold struct {
		// Mode selects the thresholding policy: "otsu" or "fixed"
		Mode string `yaml:"mode"`

		// Buckets, Lo and Hi configure the Otsu histogram
		Buckets int     `yaml:"buckets"`
		Lo      float64 `yaml:"lo"`
		Hi      float64 `yaml:"hi"`

		// Fixed holds the per-index fixed thresholds; in otsu mode
		// they double as the degenerate-histogram fallbacks
		Fixed struct {
			NDWI    float64 `yaml:"ndwi"`
			MNDWI   float64 `yaml:"mndwi"`
			AWEIsh  float64 `yaml:"aweish"`
			WI2015  float64 `yaml:"wi2015"`
			NDVICap float64 `yaml:"ndviCap"`
		} `yaml:"fixed"`
	} `yaml:"threshold"`

	// Fusion parameters
	Fusion struct {
		// Policy selects the combination rule: "conjunctive" or "vote"
		Policy string `yaml:"policy"`

		// Quorum is the number of agreeing rules required in vote mode
		Quorum int `yaml:"quorum"`
	} `yaml:"fusion"`

	// Refine parameters for the supervised refinement stage
	Refine struct {
		// Enabled turns the refiner on; the fusion mask is still
		// produced and used as the fallback if training data runs out
		Enabled bool `yaml:"enabled"`

		// Index is the primary index pseudo-labels derive from
		Index string `yaml:"index"`

		// Classifier hyperparameters
		Trees              int     `yaml:"trees"`
		FeaturesPerSplit   int     `yaml:"featuresPerSplit"`
		MinLeaf            int     `yaml:"minLeaf"`
		BagFraction        float64 `yaml:"bagFraction"`
		Seed               int64   `yaml:"seed"`
		MaxSamplesPerClass int     `yaml:"maxSamplesPerClass"`

		// Pseudo-label cutoffs
		ClearNonVegetated float64 `yaml:"clearNonVegetated"`
		ClearlyVegetated  float64 `yaml:"clearlyVegetated"`
		NegativeFactor    float64 `yaml:"negativeFactor"`
	} `yaml:"refine"`

	// Cleanup parameters for morphological post-processing
	Cleanup struct {
		OpenRadius         float64 `yaml:"openRadius"`
		CloseRadius        float64 `yaml:"closeRadius"`
		MinComponentPixels int     `yaml:"minComponentPixels"`
	} `yaml:"cleanup"`

	// Tiling parameters
	Tiling struct {
		// CellSize is the tile edge length in CRS units
		CellSize float64 `yaml:"cellSize"`

		// MaxTiles caps the partition grid size
		MaxTiles int `yaml:"maxTiles"`
	} `yaml:"tiling"`

	// Export parameters
	Export struct {
		OutputDir string  `yaml:"outputDir"`
		BaseName  string  `yaml:"baseName"`
		Folder    string  `yaml:"folder"`
		Scale     float64 `yaml:"scale"`
		CRS       string  `yaml:"crs"`
		MaxPixels int64   `yaml:"maxPixels"`

		// Workers caps in-flight tile submissions
		Workers int `yaml:"workers"`

		// Retries and RetryBaseMs control per-tile backoff
		Retries     int `yaml:"retries"`
		RetryBaseMs int `yaml:"retryBaseMs"`

		// Quicklooks, CSVTable and IndexRasters toggle the optional
		// output artifacts
		Quicklooks   bool `yaml:"quicklooks"`
		CSVTable     bool `yaml:"csvTable"`
		IndexRasters bool `yaml:"indexRasters"`

		// SkipTileIDs lists tiles completed by a previous run
		SkipTileIDs []string `yaml:"skipTileIds"`
	} `yaml:"export"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Acquisition.StartDate = "2023-01-01"
	cfg.Acquisition.EndDate = "2023-12-31"
	cfg.Acquisition.CloudFilterPercent = 20

	cfg.Threshold.Mode = "otsu"
	cfg.Threshold.Buckets = 255
	cfg.Threshold.Lo = 0
	cfg.Threshold.Hi = 1
	cfg.Threshold.Fixed.NDWI = 0.2
	cfg.Threshold.Fixed.MNDWI = 0.2
	cfg.Threshold.Fixed.AWEIsh = 0.0
	cfg.Threshold.Fixed.WI2015 = 0.0
	cfg.Threshold.Fixed.NDVICap = 0.3

	cfg.Fusion.Policy = "conjunctive"
	cfg.Fusion.Quorum = 2

	cfg.Refine.Enabled = false
	cfg.Refine.Index = "MNDWI"
	cfg.Refine.Trees = 25
	cfg.Refine.MinLeaf = 5
	cfg.Refine.BagFraction = 0.7
	cfg.Refine.Seed = 42
	cfg.Refine.MaxSamplesPerClass = 1500
	cfg.Refine.ClearNonVegetated = 0.1
	cfg.Refine.ClearlyVegetated = 0.3
	cfg.Refine.NegativeFactor = 0.5

	cfg.Cleanup.OpenRadius = 1
	cfg.Cleanup.CloseRadius = 1
	cfg.Cleanup.MinComponentPixels = 9

	cfg.Tiling.CellSize = 0.5
	cfg.Tiling.MaxTiles = 20

	cfg.Export.OutputDir = "watermask_output"
	cfg.Export.BaseName = "water"
	cfg.Export.Scale = 30
	cfg.Export.CRS = "EPSG:4326"
	cfg.Export.MaxPixels = 1 << 32
	cfg.Export.Workers = runtime.NumCPU()
	cfg.Export.Retries = 3
	cfg.Export.RetryBaseMs = 200
	cfg.Export.Quicklooks = true
	cfg.Export.CSVTable = false
	cfg.Export.IndexRasters = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration.
// Environment variables (optionally loaded from a .env file in the
// working directory) override a small set of deployment-specific
// values: WATERMASK_OUTPUT_DIR and WATERMASK_WORKERS.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	// .env is optional; ignore a missing file
	_ = godotenv.Load()
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides maps WATERMASK_* environment variables onto the
// deployment-specific config fields.
func applyEnvOverrides(cfg *Config) {
	if dir := os.Getenv("WATERMASK_OUTPUT_DIR"); dir != "" {
		cfg.Export.OutputDir = dir
	}
	if workers := os.Getenv("WATERMASK_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil && n > 0 {
			cfg.Export.Workers = n
		}
	}
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
