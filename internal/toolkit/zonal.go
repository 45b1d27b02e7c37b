package toolkit

import (
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"

	"github.com/bcgp/connectivity-impact/internal/grid"
)

// ZoneStats is one row of a zonal statistics table.
type ZoneStats struct {
	ID    string
	Count int
	Area  float64
	Mean  float64
	Std   float64
	// NoData is set when every cell under the zone is no-data.
	NoData bool
}

// ZonalMean is the disjoint zonal statistics primitive. It walks zones in
// order and accepts a zone only when none of its cells is already claimed
// by a zone accepted earlier in the same call; accepted zones get a row,
// rejected zones get none and must be retried by the caller. The first
// zone is always accepted, so every call with at least one
// zone makes progress.
func ZonalMean(r *grid.Raster, zones []Zone) ([]ZoneStats, error) {
	if r == nil {
		return nil, eris.New("toolkit: zonal mean: nil raster")
	}

	claimed := make(map[int]struct{})
	cellArea := r.Grid.CellSize * r.Grid.CellSize
	var rows []ZoneStats
	var values []float64

	for _, z := range zones {
		conflict := false
		for _, c := range z.Cells {
			if c < 0 || c >= len(r.Cells) {
				return nil, eris.Errorf("toolkit: zonal mean: zone %q cell %d outside raster %q", z.ID, c, r.Name)
			}
			if _, ok := claimed[c]; ok {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		for _, c := range z.Cells {
			claimed[c] = struct{}{}
		}

		values = values[:0]
		for _, c := range z.Cells {
			if v := r.Cells[c]; !grid.IsNoData(v) {
				values = append(values, float64(v))
			}
		}
		row := ZoneStats{ID: z.ID, Count: len(values), Area: float64(len(values)) * cellArea}
		if len(values) == 0 {
			row.NoData = true
		} else {
			row.Mean, row.Std = stat.PopMeanStdDev(values, nil)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
