package models

import "math"

// PixelWindow is a tile's footprint in source-raster pixel coordinates.
type PixelWindow struct {
	// X and Y are the top-left pixel of the window
	X, Y int

	// Width and Height are the window dimensions in pixels, already
	// clamped to the raster extent
	Width, Height int
}

// Tile is one rectangular sub-region of the area of interest, sized so
// that an export of it stays under the sink's pixel budget. Tiles are
// generated fresh per export call and have no persistent identity; the
// same region and cell size always reproduce the same tile list, which
// is what makes interrupted runs resumable by tile ID.
type Tile struct {
	// Row and Col are the tile's position in the partition grid
	Row, Col int

	// ID is the zero-padded sequential identifier, e.g. "0007"
	ID string

	// Bounds is the tile rectangle in CRS units
	Bounds Rect

	// Window is the tile's pixel footprint in the source raster
	Window PixelWindow
}

// WindowFor derives the pixel window of a geographic rectangle within a
// raster of the given shape and geotransform, clamped to the raster.
// Edges are snapped to the nearest pixel boundary, so two rectangles
// sharing an edge always produce abutting windows: reassembling all
// tile windows loses no pixel and double-counts none.
func WindowFor(bounds Rect, transform GeoTransform, width, height int) PixelWindow {
	// With a north-up transform (negative PixelHeight) the rectangle's
	// MaxY edge maps to the smallest row.
	x0 := int(math.Round((bounds.MinX - transform.OriginX) / transform.PixelWidth))
	x1 := int(math.Round((bounds.MaxX - transform.OriginX) / transform.PixelWidth))
	var y0, y1 int
	if transform.PixelHeight < 0 {
		y0 = int(math.Round((bounds.MaxY - transform.OriginY) / transform.PixelHeight))
		y1 = int(math.Round((bounds.MinY - transform.OriginY) / transform.PixelHeight))
	} else {
		y0 = int(math.Round((bounds.MinY - transform.OriginY) / transform.PixelHeight))
		y1 = int(math.Round((bounds.MaxY - transform.OriginY) / transform.PixelHeight))
	}

	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > width {
		x1 = width
	}
	if y1 > height {
		y1 = height
	}
	w := x1 - x0
	h := y1 - y0
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return PixelWindow{X: x0, Y: y0, Width: w, Height: h}
}
