package grid

import (
	"github.com/rotisserie/eris"
)

// Term is one weighted input of a raster weighted sum.
type Term struct {
	Raster *Raster
	Weight float64
}

// Fill controls how no-data inputs are treated by WeightedSum.
type Fill struct {
	// Enabled substitutes Value for no-data inputs instead of propagating
	// no-data to the output cell.
	Enabled bool
	Value   float64
}

// WeightedSum computes sum(weight_i * raster_i) cell by cell. All rasters
// must share g. Without a fill, any no-data input makes the output cell
// no-data.
func WeightedSum(name string, g Grid, fill Fill, terms ...Term) (*Raster, error) {
	if len(terms) == 0 {
		return nil, eris.Errorf("grid: weighted sum %q has no terms", name)
	}
	for _, t := range terms {
		if err := g.CheckAligned(t.Raster); err != nil {
			return nil, eris.Wrapf(err, "grid: weighted sum %q", name)
		}
	}

	out := NewRaster(name, g)
	for i := range out.Cells {
		var sum float64
		valid := true
		for _, t := range terms {
			v := t.Raster.Cells[i]
			if IsNoData(v) {
				if !fill.Enabled {
					valid = false
					break
				}
				sum += t.Weight * fill.Value
				continue
			}
			sum += t.Weight * float64(v)
		}
		if valid {
			out.Cells[i] = float32(sum)
		}
	}
	return out, nil
}
