package indicator

import (
	"context"
	"math"
	"os"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/bcgp/connectivity-impact/internal/classify"
	"github.com/bcgp/connectivity-impact/internal/fault"
	"github.com/bcgp/connectivity-impact/internal/grid"
	"github.com/bcgp/connectivity-impact/internal/tabular"
	"github.com/bcgp/connectivity-impact/internal/toolkit"
	"github.com/bcgp/connectivity-impact/internal/vector"
)

type densityDerivation struct{}

// Measure restricts the source polygons to the extent by centroid, looks up
// each polygon's value and burns it into the grid.
func (densityDerivation) Measure(ctx context.Context, n *Normalizer, d Descriptor) (*grid.Raster, []fault.Warning, error) {
	fs, err := n.loadFeatures(d)
	if err != nil {
		return nil, nil, err
	}
	within := vector.WithinExtent(fs, n.extent, d.ID)
	if within.Len() == 0 {
		return nil, nil, fault.NewDataError(fault.StageIndex, d.ID, eris.New("no source features within the extent"))
	}

	var table *tabular.Table
	if j := d.Join; j != nil {
		table, err = tabular.Load(ctx, n.resolve(j.Table), tabular.Options{
			KeyField:     j.TableKey,
			SkipRows:     j.SkipRows,
			Sheet:        j.Sheet,
			NormalizeKey: normalizeKey,
		})
		if err != nil {
			return nil, nil, fault.NewDataError(fault.StageIndex, d.ID, err)
		}
		if !table.HasField(j.Field) {
			return nil, nil, fault.NewDataError(fault.StageIndex, d.ID, eris.Errorf("join table %s has no field %q", j.Table, j.Field))
		}
	}

	var unmatched, unusable []string
	value := func(f *vector.Feature) (float64, bool) {
		var v float64
		if table != nil {
			key := vector.Key(f.Attrs[d.Join.GeomKey])
			if !table.Has(key) {
				unmatched = append(unmatched, key)
				return 0, false
			}
			x, ok := table.Float(key, d.Join.Field)
			if !ok {
				unusable = append(unusable, f.ID)
				return 0, false
			}
			v = x
		} else {
			x, ok := f.Float(d.Attribute)
			if !ok {
				unusable = append(unusable, f.ID)
				return 0, false
			}
			v = x
		}
		if d.PerArea {
			area := squareKilometres(vector.Area(f.Geometry))
			if area <= 0 {
				unusable = append(unusable, f.ID)
				return 0, false
			}
			v /= area
		}
		if !isFinite(v) {
			unusable = append(unusable, f.ID)
			return 0, false
		}
		return v, true
	}

	r, err := toolkit.Rasterize(within, n.env, value, MeasureName(d.ID))
	if err != nil {
		return nil, nil, fault.NewDataError(fault.StageIndex, d.ID, err)
	}

	var warnings []fault.Warning
	if len(unmatched) > 0 {
		sort.Strings(unmatched)
		warnings = append(warnings, fault.Warning{
			Stage:   fault.StageIndex,
			Dataset: d.ID,
			Message: "join keys not found in attribute table; area left unscored",
			Count:   len(unmatched),
			IDs:     unmatched,
		})
	}
	if len(unusable) > 0 {
		sort.Strings(unusable)
		warnings = append(warnings, fault.Warning{
			Stage:   fault.StageIndex,
			Dataset: d.ID,
			Message: "features without a usable value; area left unscored",
			Count:   len(unusable),
			IDs:     unusable,
		})
	}
	return r, warnings, nil
}

func (densityDerivation) Classify(n *Normalizer, d Descriptor, measure *grid.Raster) (*grid.Raster, []float64, []fault.Warning, error) {
	return n.naturalBreaks(d, measure)
}

func normalizeKey(k string) string { return vector.Key(k) }

type distanceDerivation struct{}

// Measure computes distance to the nearest source feature in CRS units.
func (distanceDerivation) Measure(_ context.Context, n *Normalizer, d Descriptor) (*grid.Raster, []fault.Warning, error) {
	fs, err := n.loadFeatures(d)
	if err != nil {
		return nil, nil, err
	}
	pad := int(math.Ceil(n.opts.DistancePad / n.env.Grid.CellSize))
	r, err := toolkit.EuclideanDistance(fs, n.env, pad, MeasureName(d.ID))
	if err != nil {
		return nil, nil, fault.NewDataError(fault.StageIndex, d.ID, err)
	}
	return r, nil, nil
}

// Classify remaps distances through the descriptor's band table.
func (distanceDerivation) Classify(_ *Normalizer, d Descriptor, measure *grid.Raster) (*grid.Raster, []float64, []fault.Warning, error) {
	maxes := make([]float64, len(d.Bands))
	scores := make([]float64, len(d.Bands))
	for i, b := range d.Bands {
		maxes[i] = b.Max
		scores[i] = b.Score
	}
	table, err := classify.Thresholds(0, maxes, scores)
	if err != nil {
		return nil, nil, nil, err
	}
	score, missed, err := classify.RemapRange(measure, table, ScoreName(d.ID))
	if err != nil {
		return nil, nil, nil, err
	}
	var warnings []fault.Warning
	if missed > 0 {
		warnings = append(warnings, fault.Warning{
			Stage:   fault.StageIndex,
			Dataset: d.ID,
			Message: "distances beyond the last band; cells left unscored",
			Count:   missed,
		})
	}
	return score, nil, warnings, nil
}

type passthroughDerivation struct{}

// Measure reads a prepared ESRI ASCII grid. It must already sit on the
// analysis grid.
func (passthroughDerivation) Measure(_ context.Context, n *Normalizer, d Descriptor) (*grid.Raster, []fault.Warning, error) {
	path := n.resolve(d.Source)
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fault.NewDataError(fault.StageIndex, d.ID, eris.Wrapf(err, "source %s", path))
	}
	defer f.Close() //nolint:errcheck

	crs := d.SourceCRS
	if crs == "" {
		crs = n.env.Grid.CRS
	}
	r, err := grid.ReadASCII(f, MeasureName(d.ID), crs)
	if err != nil {
		return nil, nil, fault.NewDataError(fault.StageIndex, d.ID, err)
	}
	if err := n.env.Grid.CheckAligned(r); err != nil {
		return nil, nil, fault.NewDataError(fault.StageIndex, d.ID, eris.Wrap(err, "prepared raster is not on the analysis grid"))
	}
	if err := r.ApplyMask(n.env.Mask); err != nil {
		return nil, nil, fault.NewDataError(fault.StageIndex, d.ID, err)
	}
	return r, nil, nil
}

func (passthroughDerivation) Classify(n *Normalizer, d Descriptor, measure *grid.Raster) (*grid.Raster, []float64, []fault.Warning, error) {
	return n.naturalBreaks(d, measure)
}
