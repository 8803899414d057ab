package export

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"

	"watermask/internal/models"
	"watermask/pkg/indices"
)

// WriteCSVTable dumps the per-pixel classification as a flat table:
// longitude, latitude, the source bands, every computed index and the
// water mask, one row per valid pixel. The table format mirrors what
// downstream spreadsheet and raster-roundtrip tooling expects.
func WriteCSVTable(path string, raster *models.MultiBandRaster, set *indices.IndexSet, mask *models.ClassificationMask) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV table: %v", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	bandNames := raster.BandNames()
	indexNames := set.Names()

	header := []string{"longitude", "latitude"}
	header = append(header, bandNames...)
	header = append(header, indexNames...)
	header = append(header, "water_mask")
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	row := make([]string, len(header))
	for y := 0; y < raster.Height; y++ {
		for x := 0; x < raster.Width; x++ {
			i := y*raster.Width + x
			lon, lat := raster.Transform.PixelToGeo(x, y)
			row[0] = strconv.FormatFloat(lon, 'f', 6, 64)
			row[1] = strconv.FormatFloat(lat, 'f', 6, 64)

			col := 2
			valid := true
			for _, name := range bandNames {
				v := raster.Band(name).Data[i]
				if math.IsNaN(v) {
					valid = false
					break
				}
				row[col] = strconv.FormatFloat(v, 'f', 6, 64)
				col++
			}
			if !valid {
				continue
			}
			for _, name := range indexNames {
				v := set.Index(name).Data[i]
				if math.IsNaN(v) {
					valid = false
					break
				}
				row[col] = strconv.FormatFloat(v, 'f', 6, 64)
				col++
			}
			if !valid {
				continue
			}

			if mask.Data[i] {
				row[col] = "1"
			} else {
				row[col] = "0"
			}
			if err := w.Write(row); err != nil {
				return fmt.Errorf("failed to write CSV row: %v", err)
			}
		}
	}
	return nil
}
