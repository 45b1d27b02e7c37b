package toolkit

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/bcgp/connectivity-impact/internal/grid"
	"github.com/bcgp/connectivity-impact/internal/vector"
)

// EuclideanDistance computes, for every cell inside the mask, the distance
// in CRS units from the cell centre to the centre of the nearest cell
// touched by a source feature. Sources up to pad cells beyond the grid
// edge are included. A set with no source cells is an error.
func EuclideanDistance(fs *vector.FeatureSet, env *Env, pad int, name string) (*grid.Raster, error) {
	if fs.CRS != env.Grid.CRS {
		return nil, eris.Errorf("toolkit: distance %s: CRS %s does not match grid %s", fs.Name, fs.CRS, env.Grid.CRS)
	}
	if pad < 0 {
		pad = 0
	}

	g := env.Grid
	work := grid.Grid{
		OriginX:  g.OriginX - float64(pad)*g.CellSize,
		OriginY:  g.OriginY + float64(pad)*g.CellSize,
		CellSize: g.CellSize,
		Cols:     g.Cols + 2*pad,
		Rows:     g.Rows + 2*pad,
		CRS:      g.CRS,
	}

	src := make([]bool, work.Len())
	n := 0
	mark := func(x, y float64) {
		row, col, ok := work.CellAt(x, y)
		if !ok {
			return
		}
		idx := work.Index(row, col)
		if !src[idx] {
			src[idx] = true
			n++
		}
	}
	for _, f := range fs.Features {
		markGeometry(work, f.Geometry, mark)
	}
	if n == 0 {
		return nil, eris.Errorf("toolkit: distance %s: no source features inside the grid", fs.Name)
	}

	sq := distanceTransform(src, work.Rows, work.Cols)

	out := grid.NewRaster(name, g)
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			d := sq[work.Index(row+pad, col+pad)]
			if math.IsInf(d, 1) {
				continue
			}
			out.Set(row, col, math.Sqrt(d)*g.CellSize)
		}
	}
	if err := out.ApplyMask(env.Mask); err != nil {
		return nil, eris.Wrapf(err, "toolkit: distance %s", fs.Name)
	}
	return out, nil
}

// markGeometry calls mark for every point needed to touch each cell the
// geometry passes through: vertices, densified segments and, for polygons,
// interior cell centres.
func markGeometry(g grid.Grid, t geom.T, mark func(x, y float64)) {
	flat := t.FlatCoords()
	stride := t.Stride()
	for i := 0; i+1 < len(flat); i += stride {
		mark(flat[i], flat[i+1])
	}

	step := g.CellSize / 2
	densify := func(path []float64) {
		for i := 0; i+3 < len(path); i += stride {
			x0, y0, x1, y1 := path[i], path[i+1], path[i+stride], path[i+stride+1]
			segs := int(math.Ceil(math.Hypot(x1-x0, y1-y0) / step))
			for s := 1; s < segs; s++ {
				f := float64(s) / float64(segs)
				mark(x0+f*(x1-x0), y0+f*(y1-y0))
			}
		}
	}

	switch v := t.(type) {
	case *geom.LineString:
		densify(v.FlatCoords())
	case *geom.MultiLineString:
		for i := 0; i < v.NumLineStrings(); i++ {
			densify(v.LineString(i).FlatCoords())
		}
	case *geom.Polygon, *geom.MultiPolygon:
		var polys []*geom.Polygon
		if p, ok := v.(*geom.Polygon); ok {
			polys = []*geom.Polygon{p}
		} else {
			mp := v.(*geom.MultiPolygon)
			for i := 0; i < mp.NumPolygons(); i++ {
				polys = append(polys, mp.Polygon(i))
			}
		}
		for _, p := range polys {
			for i := 0; i < p.NumLinearRings(); i++ {
				densify(p.LinearRing(i).FlatCoords())
			}
			b := p.Bounds()
			r0, c0, r1, c1, ok := g.Span(b.Min(0), b.Min(1), b.Max(0), b.Max(1))
			if !ok {
				continue
			}
			for row := r0; row <= r1; row++ {
				for col := c0; col <= c1; col++ {
					x, y := g.CellCenter(row, col)
					if vector.ContainsPoint(p, x, y) {
						mark(x, y)
					}
				}
			}
		}
	}
}

// distanceTransform returns the exact squared Euclidean distance, in cells,
// from every cell to the nearest source cell (Felzenszwalb and
// Huttenlocher, separable in columns then rows).
func distanceTransform(src []bool, rows, cols int) []float64 {
	inf := math.Inf(1)
	d := make([]float64, rows*cols)
	for i, s := range src {
		if s {
			d[i] = 0
		} else {
			d[i] = inf
		}
	}

	n := max(rows, cols)
	f := make([]float64, n)
	out := make([]float64, n)
	v := make([]int, n)
	z := make([]float64, n+1)

	for col := 0; col < cols; col++ {
		for row := 0; row < rows; row++ {
			f[row] = d[row*cols+col]
		}
		dt1(f[:rows], out[:rows], v, z)
		for row := 0; row < rows; row++ {
			d[row*cols+col] = out[row]
		}
	}
	for row := 0; row < rows; row++ {
		copy(f[:cols], d[row*cols:(row+1)*cols])
		dt1(f[:cols], out[:cols], v, z)
		copy(d[row*cols:(row+1)*cols], out[:cols])
	}
	return d
}

// dt1 is the one-dimensional squared distance transform of sampled
// function f into out. v and z are scratch buffers.
func dt1(f, out []float64, v []int, z []float64) {
	n := len(f)
	k := -1
	for q := 0; q < n; q++ {
		if math.IsInf(f[q], 1) {
			continue
		}
		for k >= 0 {
			p := v[k]
			s := ((f[q] + float64(q*q)) - (f[p] + float64(p*p))) / float64(2*(q-p))
			if s <= z[k] {
				k--
				continue
			}
			k++
			v[k] = q
			z[k] = s
			z[k+1] = math.Inf(1)
			break
		}
		if k < 0 {
			k = 0
			v[0] = q
			z[0] = math.Inf(-1)
			z[1] = math.Inf(1)
		}
	}

	if k < 0 {
		for q := range out {
			out[q] = math.Inf(1)
		}
		return
	}
	j := 0
	for q := 0; q < n; q++ {
		for z[j+1] < float64(q) {
			j++
		}
		dq := float64(q - v[j])
		out[q] = dq*dq + f[v[j]]
	}
}
