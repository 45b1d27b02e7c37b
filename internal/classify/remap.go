package classify

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/bcgp/connectivity-impact/internal/grid"
)

// Range maps values in (Min, Max] to Score. The first range of a table is
// also inclusive of its Min.
type Range struct {
	Min   float64
	Max   float64
	Score float64
}

// Table is an ordered, contiguous list of ranges.
type Table []Range

// Validate checks that ranges are non-empty, ascending and contiguous.
func (t Table) Validate() error {
	if len(t) == 0 {
		return eris.New("classify: empty range table")
	}
	for i, r := range t {
		if !(r.Max > r.Min) {
			return eris.Errorf("classify: range %d has max %v not above min %v", i, r.Max, r.Min)
		}
		if i > 0 && r.Min != t[i-1].Max {
			return eris.Errorf("classify: range %d starts at %v, previous ends at %v", i, r.Min, t[i-1].Max)
		}
	}
	return nil
}

// Lookup returns the score for v. ok is false when v is outside the table.
func (t Table) Lookup(v float64) (float64, bool) {
	for i, r := range t {
		if v > r.Max {
			continue
		}
		if v > r.Min || (i == 0 && v == r.Min) {
			return r.Score, true
		}
		return 0, false
	}
	return 0, false
}

// Thresholds builds a contiguous table starting at start from ascending upper
// bounds. The last bound may be +Inf.
func Thresholds(start float64, maxes []float64, scores []float64) (Table, error) {
	if len(maxes) != len(scores) {
		return nil, eris.Errorf("classify: %d bounds for %d scores", len(maxes), len(scores))
	}
	t := make(Table, len(maxes))
	lo := start
	for i := range maxes {
		t[i] = Range{Min: lo, Max: maxes[i], Score: scores[i]}
		lo = maxes[i]
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// RemapRange reclassifies r through t. Values outside every range become
// no-data and are counted in the returned total.
func RemapRange(r *grid.Raster, t Table, name string) (*grid.Raster, int, error) {
	if err := t.Validate(); err != nil {
		return nil, 0, eris.Wrapf(err, "classify: remap %q", r.Name)
	}
	out := grid.NewRaster(name, r.Grid)
	var missed int
	for i, v := range r.Cells {
		if grid.IsNoData(v) {
			continue
		}
		score, ok := t.Lookup(float64(v))
		if !ok {
			missed++
			continue
		}
		out.Cells[i] = float32(score)
	}
	return out, missed, nil
}

// CheckScores returns an error when any data cell of r lies outside
// [lo, hi] or is not integral.
func CheckScores(r *grid.Raster, lo, hi float64) error {
	for i, v := range r.Cells {
		if grid.IsNoData(v) {
			continue
		}
		x := float64(v)
		if x < lo || x > hi || x != math.Trunc(x) {
			row, col := r.Grid.RowCol(i)
			return eris.Errorf("classify: %q cell (%d, %d) has score %v outside %v..%v", r.Name, row, col, x, lo, hi)
		}
	}
	return nil
}
