// Package export hands finished per-tile rasters to a storage sink. The
// coordinator clips the final products to each tile window, fans the
// submissions out across a bounded worker pool, and retries individual
// tiles with exponential backoff — one bad tile never aborts the run.
// Naming is deterministic ({base}_{row}_{col}) so retries and partial
// completion are identifiable, and a resumed run can skip tile IDs that
// already completed.
package export

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"watermask/internal/models"
)

// ExportRequest is the typed parameter bag handed to a sink for one
// tile product. Exactly one of Mask or Grid is set.
type ExportRequest struct {
	// TileID is the zero-padded sequential tile identifier
	TileID string

	// Name is the deterministic product name, e.g. "water_3_1_mask"
	Name string

	// Mask is a binary product (1=water), nil for float products
	Mask *models.ClassificationMask

	// Grid is a float product (an index raster), nil for binary ones
	Grid *models.Grid

	// Transform georeferences the clipped tile window
	Transform models.GeoTransform

	// CRS is the output coordinate reference system
	CRS string

	// Scale is the output pixel size in CRS units
	Scale float64

	// Format is the file format; only "GeoTIFF" is produced here
	Format string

	// MaxPixels is the sink-side pixel budget the tile was sized for
	MaxPixels int64

	// Folder is the destination folder or bucket
	Folder string
}

// Sink accepts export submissions. Implementations may be asynchronous;
// Submit only needs to enqueue the job durably. The local GeoTIFF sink
// in this package writes files directly.
type Sink interface {
	Submit(ctx context.Context, req ExportRequest) error
}

// ExportSubmissionError wraps a per-tile submission failure after all
// retries were exhausted.
type ExportSubmissionError struct {
	TileID   string
	Name     string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ExportSubmissionError) Error() string {
	return fmt.Sprintf("export of %s (tile %s) failed after %d attempts: %v",
		e.Name, e.TileID, e.Attempts, e.Err)
}

// Unwrap exposes the underlying sink error.
func (e *ExportSubmissionError) Unwrap() error { return e.Err }

// Coordinator drives per-tile clipping and submission.
type Coordinator struct {
	// Sink receives the clipped tile products
	Sink Sink

	// Workers caps in-flight submissions (the sink's rate limit)
	Workers int

	// Retries is the number of re-attempts after a failed submission
	Retries int

	// RetryBase is the initial backoff delay, doubled per attempt
	RetryBase time.Duration

	// BaseName prefixes every product name
	BaseName string

	// Folder, CRS, Scale and MaxPixels are copied into every request
	Folder    string
	CRS       string
	Scale     float64
	MaxPixels int64

	// SkipIDs lists tile IDs already completed by a previous run; the
	// tile list is deterministic, so skipping by ID is safe
	SkipIDs map[string]bool
}

// TileResult reports the outcome of one tile.
type TileResult struct {
	TileID   string
	Skipped  bool
	Attempts int

	// Err is non-nil when every attempt failed; it is always an
	// *ExportSubmissionError
	Err error
}

// Export clips the mask and any extra float products to each tile
// window and submits them through the worker pool. The returned slice
// has one entry per tile in submission-completion order. Cancellation
// is cooperative: tiles already submitted are never retried, pending
// tiles are abandoned with the context error.
func (c *Coordinator) Export(ctx context.Context, tiles []models.Tile, mask *models.ClassificationMask, grids map[string]*models.Grid, transform models.GeoTransform) []TileResult {
	workers := c.Workers
	if workers < 1 {
		workers = 1
	}

	tileChan := make(chan models.Tile)
	resultChan := make(chan TileResult)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tile := range tileChan {
				resultChan <- c.exportTile(ctx, tile, mask, grids, transform)
			}
		}()
	}

	go func() {
		defer close(tileChan)
		for _, tile := range tiles {
			select {
			case tileChan <- tile:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var results []TileResult
	for res := range resultChan {
		results = append(results, res)
	}
	return results
}

// exportTile submits every product of one tile, retrying each with
// exponential backoff.
func (c *Coordinator) exportTile(ctx context.Context, tile models.Tile, mask *models.ClassificationMask, grids map[string]*models.Grid, transform models.GeoTransform) TileResult {
	if c.SkipIDs[tile.ID] {
		return TileResult{TileID: tile.ID, Skipped: true}
	}
	if tile.Window.Width == 0 || tile.Window.Height == 0 {
		return TileResult{TileID: tile.ID, Skipped: true}
	}

	winTransform := windowTransform(transform, tile.Window)
	base := fmt.Sprintf("%s_%d_%d", c.BaseName, tile.Row, tile.Col)

	var requests []ExportRequest
	if mask != nil {
		requests = append(requests, ExportRequest{
			TileID:    tile.ID,
			Name:      base + "_mask",
			Mask:      ClipMask(mask, tile.Window),
			Transform: winTransform,
			CRS:       c.CRS,
			Scale:     c.Scale,
			Format:    "GeoTIFF",
			MaxPixels: c.MaxPixels,
			Folder:    c.Folder,
		})
	}
	for name, grid := range grids {
		requests = append(requests, ExportRequest{
			TileID:    tile.ID,
			Name:      fmt.Sprintf("%s_%s", base, name),
			Grid:      ClipGrid(grid, tile.Window),
			Transform: winTransform,
			CRS:       c.CRS,
			Scale:     c.Scale,
			Format:    "GeoTIFF",
			MaxPixels: c.MaxPixels,
			Folder:    c.Folder,
		})
	}

	attempts := 0
	for _, req := range requests {
		a, err := c.submitWithRetry(ctx, req)
		attempts += a
		if err != nil {
			return TileResult{
				TileID:   tile.ID,
				Attempts: attempts,
				Err: &ExportSubmissionError{
					TileID:   tile.ID,
					Name:     req.Name,
					Attempts: a,
					Err:      err,
				},
			}
		}
	}
	return TileResult{TileID: tile.ID, Attempts: attempts}
}

// submitWithRetry tries one request up to Retries+1 times with doubling
// backoff, honoring cancellation between attempts.
func (c *Coordinator) submitWithRetry(ctx context.Context, req ExportRequest) (attempts int, err error) {
	delay := c.RetryBase
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for attempt := 0; attempt <= c.Retries; attempt++ {
		attempts++
		if err = ctx.Err(); err != nil {
			return attempts, err
		}
		if err = c.Sink.Submit(ctx, req); err == nil {
			return attempts, nil
		}
		if attempt < c.Retries {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return attempts, ctx.Err()
			}
			delay *= 2
		}
	}
	return attempts, err
}

// ClipMask extracts the pixel window from a mask.
func ClipMask(mask *models.ClassificationMask, win models.PixelWindow) *models.ClassificationMask {
	out := models.NewClassificationMask(win.Width, win.Height)
	out.Provenance = mask.Provenance
	for y := 0; y < win.Height; y++ {
		for x := 0; x < win.Width; x++ {
			out.Set(x, y, mask.At(win.X+x, win.Y+y))
		}
	}
	return out
}

// ClipGrid extracts the pixel window from a float grid.
func ClipGrid(grid *models.Grid, win models.PixelWindow) *models.Grid {
	out := models.NewGrid(win.Width, win.Height)
	for y := 0; y < win.Height; y++ {
		for x := 0; x < win.Width; x++ {
			out.Set(x, y, grid.At(win.X+x, win.Y+y))
		}
	}
	return out
}

// windowTransform shifts a raster geotransform to the origin of a pixel
// window.
func windowTransform(t models.GeoTransform, win models.PixelWindow) models.GeoTransform {
	return models.GeoTransform{
		OriginX:     t.OriginX + float64(win.X)*t.PixelWidth,
		OriginY:     t.OriginY + float64(win.Y)*t.PixelHeight,
		PixelWidth:  t.PixelWidth,
		PixelHeight: t.PixelHeight,
	}
}

// stretchTo16 linearly maps a grid's valid range onto uint16, used when
// encoding float products. Returns the scale metadata (min, max).
func stretchTo16(grid *models.Grid) (values []uint16, min, max float64) {
	min, max = grid.MinMax()
	values = make([]uint16, len(grid.Data))
	span := max - min
	for i, v := range grid.Data {
		if math.IsNaN(v) {
			values[i] = 0
			continue
		}
		if span == 0 {
			values[i] = 0
			continue
		}
		values[i] = uint16((v - min) / span * math.MaxUint16)
	}
	return values, min, max
}
