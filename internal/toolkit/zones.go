package toolkit

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bcgp/connectivity-impact/internal/vector"
)

// Zone is the set of grid cells covered by one buffered feature.
type Zone struct {
	ID    string
	Cells []int
}

// BufferZones buffers every feature by distance and returns, per feature,
// the in-mask cells whose centre lies within distance of the geometry.
// Zones are returned in feature order; duplicate IDs are an error.
func BufferZones(fs *vector.FeatureSet, env *Env, distance float64) ([]Zone, error) {
	if fs.CRS != env.Grid.CRS {
		return nil, eris.Errorf("toolkit: buffer %s: CRS %s does not match grid %s", fs.Name, fs.CRS, env.Grid.CRS)
	}
	if distance < 0 {
		return nil, eris.Errorf("toolkit: buffer %s: negative distance %v", fs.Name, distance)
	}

	g := env.Grid
	seen := make(map[string]struct{}, fs.Len())
	zones := make([]Zone, 0, fs.Len())
	empty := 0
	for _, f := range fs.Features {
		if _, dup := seen[f.ID]; dup {
			return nil, eris.Errorf("toolkit: buffer %s: duplicate feature id %q", fs.Name, f.ID)
		}
		seen[f.ID] = struct{}{}

		z := Zone{ID: f.ID}
		b := f.Geometry.Bounds()
		r0, c0, r1, c1, ok := g.Span(b.Min(0)-distance, b.Min(1)-distance, b.Max(0)+distance, b.Max(1)+distance)
		if ok {
			for row := r0; row <= r1; row++ {
				for col := c0; col <= c1; col++ {
					idx := g.Index(row, col)
					if env.Mask != nil && !env.Mask[idx] {
						continue
					}
					x, y := g.CellCenter(row, col)
					if vector.DistanceToPoint(f.Geometry, x, y) <= distance {
						z.Cells = append(z.Cells, idx)
					}
				}
			}
		}
		if len(z.Cells) == 0 {
			empty++
		}
		zones = append(zones, z)
	}

	if empty > 0 {
		zap.L().Debug("toolkit: buffer zones without cells",
			zap.String("dataset", fs.Name),
			zap.Int("empty", empty),
		)
	}
	return zones, nil
}
