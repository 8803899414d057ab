// Package tiling partitions a region of interest into a grid of export
// tiles bounded by a maximum tile count. Tiling keeps every export
// under the sink's pixel budget while guaranteeing the tile set is
// deterministic: the same region and cell size always produce the same
// tiles, so an interrupted run can skip completed tile IDs on resume.
package tiling

import (
	"fmt"
	"math"

	"watermask/internal/models"
)

// Result is the partition outcome plus bookkeeping for run reports.
type Result struct {
	// Tiles is the ordered tile list (row-major over the kept cells)
	Tiles []models.Tile

	// Rows and Cols are the final grid dimensions after any scaling
	Rows, Cols int

	// CellSize is the final cell size after any scaling, in CRS units
	CellSize float64

	// Dropped counts candidate cells discarded because they do not
	// intersect the region (non-fatal, reported not raised)
	Dropped int
}

// Partition divides the region's bounding extent into cells of the
// requested size. If the resulting grid would exceed maxTiles, the cell
// size is scaled up by sqrt(rows*cols/maxTiles) and the grid recomputed
// (at least 1x1) — trading partition resolution for a hard cap on job
// count; rows*cols <= maxTiles always holds afterwards. Candidate cells
// that do not geometrically intersect the region are dropped. Kept
// tiles get a stable (row, col) pair and a zero-padded sequential ID.
func Partition(region models.Region, cellSize float64, maxTiles int) (*Result, error) {
	if len(region.Vertices) < 3 {
		return nil, fmt.Errorf("region must have at least 3 vertices, got %d", len(region.Vertices))
	}
	if cellSize <= 0 {
		return nil, fmt.Errorf("cell size must be positive, got %g", cellSize)
	}
	if maxTiles < 1 {
		return nil, fmt.Errorf("max tile count must be at least 1, got %d", maxTiles)
	}

	bounds := region.Bounds()
	rows := int(math.Ceil(bounds.Height() / cellSize))
	cols := int(math.Ceil(bounds.Width() / cellSize))
	if rows < 1 {
		rows = 1
	}
	if cols < 1 {
		cols = 1
	}

	if rows*cols > maxTiles {
		scale := math.Sqrt(float64(rows*cols) / float64(maxTiles))
		cellSize *= scale
		rows = int(math.Ceil(bounds.Height() / cellSize))
		cols = int(math.Ceil(bounds.Width() / cellSize))
		if rows < 1 {
			rows = 1
		}
		if cols < 1 {
			cols = 1
		}
		// sqrt scaling can still overshoot by one row or column from
		// the ceil; widen until the cap holds
		for rows*cols > maxTiles {
			cellSize *= 1.05
			rows = int(math.Ceil(bounds.Height() / cellSize))
			cols = int(math.Ceil(bounds.Width() / cellSize))
			if rows < 1 {
				rows = 1
			}
			if cols < 1 {
				cols = 1
			}
		}
	}

	result := &Result{Rows: rows, Cols: cols, CellSize: cellSize}
	idWidth := len(fmt.Sprintf("%d", rows*cols-1))
	if idWidth < 2 {
		idWidth = 2
	}

	seq := 0
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			rect := models.Rect{
				MinX: bounds.MinX + float64(col)*cellSize,
				MinY: bounds.MinY + float64(row)*cellSize,
				MaxX: bounds.MinX + float64(col+1)*cellSize,
				MaxY: bounds.MinY + float64(row+1)*cellSize,
			}
			// Clamp the outer edge cells to the region bounds so the
			// tile union matches the bounding box exactly.
			if rect.MaxX > bounds.MaxX {
				rect.MaxX = bounds.MaxX
			}
			if rect.MaxY > bounds.MaxY {
				rect.MaxY = bounds.MaxY
			}

			if !region.IntersectsRect(rect) {
				result.Dropped++
				continue
			}

			result.Tiles = append(result.Tiles, models.Tile{
				Row:    row,
				Col:    col,
				ID:     fmt.Sprintf("%0*d", idWidth, seq),
				Bounds: rect,
			})
			seq++
		}
	}
	return result, nil
}

// WithWindows fills each tile's pixel window against a raster of the
// given shape and geotransform. Separate from Partition because tiling
// is purely geographic; the pixel mapping depends on which raster is
// being exported.
func WithWindows(tiles []models.Tile, transform models.GeoTransform, width, height int) []models.Tile {
	out := make([]models.Tile, len(tiles))
	for i, t := range tiles {
		t.Window = models.WindowFor(t.Bounds, transform, width, height)
		out[i] = t
	}
	return out
}
