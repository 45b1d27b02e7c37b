package grid

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
)

// NoData is the sentinel stored in cells that carry no value.
var NoData = float32(math.NaN())

// IsNoData reports whether v is the no-data sentinel.
func IsNoData(v float32) bool {
	return v != v
}

// Raster is a single-band float32 raster aligned to a Grid. Cells are
// stored row-major from the upper-left corner.
type Raster struct {
	Name  string    `msgpack:"name"`
	Grid  Grid      `msgpack:"grid"`
	Cells []float32 `msgpack:"cells"`
}

// NewRaster allocates a raster filled with no-data.
func NewRaster(name string, g Grid) *Raster {
	cells := make([]float32, g.Len())
	for i := range cells {
		cells[i] = NoData
	}
	return &Raster{Name: name, Grid: g, Cells: cells}
}

// Get returns the value at (row, col) and whether it holds data.
func (r *Raster) Get(row, col int) (float64, bool) {
	v := r.Cells[r.Grid.Index(row, col)]
	if IsNoData(v) {
		return 0, false
	}
	return float64(v), true
}

// Set stores v at (row, col).
func (r *Raster) Set(row, col int, v float64) {
	r.Cells[r.Grid.Index(row, col)] = float32(v)
}

// Clone returns a deep copy with a new name.
func (r *Raster) Clone(name string) *Raster {
	cells := make([]float32, len(r.Cells))
	copy(cells, r.Cells)
	return &Raster{Name: name, Grid: r.Grid, Cells: cells}
}

// Values returns all data values (no-data skipped) in ascending order.
func (r *Raster) Values() []float64 {
	vals := make([]float64, 0, len(r.Cells))
	for _, v := range r.Cells {
		if !IsNoData(v) {
			vals = append(vals, float64(v))
		}
	}
	sort.Float64s(vals)
	return vals
}

// Count returns the number of cells holding data.
func (r *Raster) Count() int {
	n := 0
	for _, v := range r.Cells {
		if !IsNoData(v) {
			n++
		}
	}
	return n
}

// Range returns the minimum and maximum data value. ok is false when the
// raster holds no data.
func (r *Raster) Range() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range r.Cells {
		if IsNoData(v) {
			continue
		}
		ok = true
		lo = math.Min(lo, float64(v))
		hi = math.Max(hi, float64(v))
	}
	return lo, hi, ok
}

// ApplyMask clears every cell outside the mask. A nil mask is a no-op.
func (r *Raster) ApplyMask(m Mask) error {
	if m == nil {
		return nil
	}
	if len(m) != len(r.Cells) {
		return eris.Errorf("grid: mask has %d cells, raster %q has %d", len(m), r.Name, len(r.Cells))
	}
	for i, in := range m {
		if !in {
			r.Cells[i] = NoData
		}
	}
	return nil
}

// Mask flags the cells inside the analysis extent.
type Mask []bool

// Inside returns the number of cells inside the mask.
func (m Mask) Inside() int {
	n := 0
	for _, in := range m {
		if in {
			n++
		}
	}
	return n
}
