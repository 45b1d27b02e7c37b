package toolkit

import (
	"github.com/rotisserie/eris"

	"github.com/bcgp/connectivity-impact/internal/grid"
	"github.com/bcgp/connectivity-impact/internal/vector"
)

// ValueFunc extracts the value burned into the raster for one feature. ok
// false leaves the feature's cells untouched.
type ValueFunc func(f *vector.Feature) (value float64, ok bool)

// Rasterize burns polygon features into a new raster by cell centre. Where
// polygons overlap the later feature wins. Cells outside the mask are
// no-data.
func Rasterize(fs *vector.FeatureSet, env *Env, value ValueFunc, name string) (*grid.Raster, error) {
	if fs.CRS != env.Grid.CRS {
		return nil, eris.Errorf("toolkit: rasterize %s: CRS %s does not match grid %s", fs.Name, fs.CRS, env.Grid.CRS)
	}
	out := grid.NewRaster(name, env.Grid)
	g := env.Grid
	for _, f := range fs.Features {
		v, ok := value(f)
		if !ok {
			continue
		}
		b := f.Geometry.Bounds()
		r0, c0, r1, c1, hit := g.Span(b.Min(0), b.Min(1), b.Max(0), b.Max(1))
		if !hit {
			continue
		}
		for row := r0; row <= r1; row++ {
			for col := c0; col <= c1; col++ {
				x, y := g.CellCenter(row, col)
				if vector.ContainsPoint(f.Geometry, x, y) {
					out.Set(row, col, v)
				}
			}
		}
	}
	if err := out.ApplyMask(env.Mask); err != nil {
		return nil, eris.Wrapf(err, "toolkit: rasterize %s", fs.Name)
	}
	return out, nil
}
