// Package toolkit implements the raster and vector analysis primitives the
// pipeline is built on: polygon-to-raster, Euclidean distance, buffer
// zones, disjoint zonal statistics and spatial joins with merge rules.
package toolkit

import (
	"github.com/rotisserie/eris"

	"github.com/bcgp/connectivity-impact/internal/grid"
	"github.com/bcgp/connectivity-impact/internal/vector"
)

// Env is the raster environment every primitive runs under: the analysis
// grid and the extent mask.
type Env struct {
	Grid grid.Grid
	Mask grid.Mask
}

// NewEnv builds the grid snapped around extent and masks cells whose centre
// falls outside every extent polygon.
func NewEnv(extent *vector.FeatureSet, cellSize float64) (*Env, error) {
	if extent == nil || extent.Len() == 0 {
		return nil, eris.New("toolkit: extent has no features")
	}
	g, err := grid.New(extent.Bounds(), cellSize, extent.CRS)
	if err != nil {
		return nil, eris.Wrap(err, "toolkit: build grid")
	}

	mask := make(grid.Mask, g.Len())
	for _, f := range extent.Features {
		b := f.Geometry.Bounds()
		r0, c0, r1, c1, ok := g.Span(b.Min(0), b.Min(1), b.Max(0), b.Max(1))
		if !ok {
			continue
		}
		for row := r0; row <= r1; row++ {
			for col := c0; col <= c1; col++ {
				idx := g.Index(row, col)
				if mask[idx] {
					continue
				}
				x, y := g.CellCenter(row, col)
				if vector.ContainsPoint(f.Geometry, x, y) {
					mask[idx] = true
				}
			}
		}
	}
	if mask.Inside() == 0 {
		return nil, eris.New("toolkit: extent covers no cell centres")
	}
	return &Env{Grid: g, Mask: mask}, nil
}

// Restore rebuilds an environment from a stored grid and mask raster.
func Restore(g grid.Grid, maskRaster *grid.Raster) (*Env, error) {
	if err := g.CheckAligned(maskRaster); err != nil {
		return nil, eris.Wrap(err, "toolkit: restore env")
	}
	mask := make(grid.Mask, g.Len())
	for i, v := range maskRaster.Cells {
		mask[i] = !grid.IsNoData(v) && v != 0
	}
	return &Env{Grid: g, Mask: mask}, nil
}

// MaskRaster returns the mask as a raster of 1 inside, no-data outside.
func (e *Env) MaskRaster(name string) *grid.Raster {
	r := grid.NewRaster(name, e.Grid)
	for i, in := range e.Mask {
		if in {
			r.Cells[i] = 1
		}
	}
	return r
}
