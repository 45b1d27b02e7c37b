// Package grid defines the common raster frame shared by every raster the
// pipeline produces or consumes, and the float32 raster type itself.
package grid

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Grid is the raster coordinate frame: upper-left origin, square cell size,
// dimensions and coordinate reference system. Every raster in a run shares
// one Grid; no resampling across grids is performed.
type Grid struct {
	OriginX  float64 `json:"origin_x" msgpack:"origin_x"`
	OriginY  float64 `json:"origin_y" msgpack:"origin_y"`
	CellSize float64 `json:"cell_size" msgpack:"cell_size"`
	Cols     int     `json:"cols" msgpack:"cols"`
	Rows     int     `json:"rows" msgpack:"rows"`
	CRS      string  `json:"crs" msgpack:"crs"`
}

// New builds a Grid covering bounds. The origin is snapped outward to a
// multiple of cellSize so that grids built from the same extent always
// line up.
func New(bounds *geom.Bounds, cellSize float64, crs string) (Grid, error) {
	if cellSize <= 0 {
		return Grid{}, eris.Errorf("grid: cell size must be positive, got %v", cellSize)
	}
	if bounds == nil || bounds.IsEmpty() {
		return Grid{}, eris.New("grid: extent bounds are empty")
	}

	minX := math.Floor(bounds.Min(0)/cellSize) * cellSize
	maxY := math.Ceil(bounds.Max(1)/cellSize) * cellSize
	maxX := math.Ceil(bounds.Max(0)/cellSize) * cellSize
	minY := math.Floor(bounds.Min(1)/cellSize) * cellSize

	cols := int(math.Round((maxX - minX) / cellSize))
	rows := int(math.Round((maxY - minY) / cellSize))
	if cols == 0 {
		cols = 1
	}
	if rows == 0 {
		rows = 1
	}

	return Grid{
		OriginX:  minX,
		OriginY:  maxY,
		CellSize: cellSize,
		Cols:     cols,
		Rows:     rows,
		CRS:      crs,
	}, nil
}

// Len returns the number of cells.
func (g Grid) Len() int {
	return g.Rows * g.Cols
}

// Index returns the flat index of (row, col).
func (g Grid) Index(row, col int) int {
	return row*g.Cols + col
}

// RowCol returns the row and column of a flat index.
func (g Grid) RowCol(idx int) (int, int) {
	return idx / g.Cols, idx % g.Cols
}

// CellCenter returns the coordinates of the centre of cell (row, col).
func (g Grid) CellCenter(row, col int) (float64, float64) {
	x := g.OriginX + (float64(col)+0.5)*g.CellSize
	y := g.OriginY - (float64(row)+0.5)*g.CellSize
	return x, y
}

// CellAt returns the cell containing (x, y). ok is false outside the grid.
func (g Grid) CellAt(x, y float64) (row, col int, ok bool) {
	col = int(math.Floor((x - g.OriginX) / g.CellSize))
	row = int(math.Floor((g.OriginY - y) / g.CellSize))
	if row < 0 || col < 0 || row >= g.Rows || col >= g.Cols {
		return row, col, false
	}
	return row, col, true
}

// Span returns the inclusive row and column range of cells whose centres
// can fall inside the given bounds, clamped to the grid. ok is false when
// the bounds miss the grid entirely.
func (g Grid) Span(minX, minY, maxX, maxY float64) (r0, c0, r1, c1 int, ok bool) {
	c0 = int(math.Floor((minX-g.OriginX)/g.CellSize - 0.5))
	c1 = int(math.Ceil((maxX-g.OriginX)/g.CellSize - 0.5))
	r0 = int(math.Floor((g.OriginY-maxY)/g.CellSize - 0.5))
	r1 = int(math.Ceil((g.OriginY-minY)/g.CellSize - 0.5))

	c0 = max(c0, 0)
	r0 = max(r0, 0)
	c1 = min(c1, g.Cols-1)
	r1 = min(r1, g.Rows-1)
	if c0 > c1 || r0 > r1 {
		return 0, 0, 0, 0, false
	}
	return r0, c0, r1, c1, true
}

// Bounds returns the grid's extent.
func (g Grid) Bounds() *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(
		g.OriginX, g.OriginY-float64(g.Rows)*g.CellSize,
		g.OriginX+float64(g.Cols)*g.CellSize, g.OriginY,
	)
}

// Equal reports whether two grids share origin, cell size, dimensions and
// CRS.
func (g Grid) Equal(o Grid) bool {
	return g.OriginX == o.OriginX &&
		g.OriginY == o.OriginY &&
		g.CellSize == o.CellSize &&
		g.Cols == o.Cols &&
		g.Rows == o.Rows &&
		g.CRS == o.CRS
}

// CheckAligned returns an error unless every raster shares g.
func (g Grid) CheckAligned(rasters ...*Raster) error {
	for _, r := range rasters {
		if r == nil {
			return eris.New("grid: nil raster")
		}
		if !g.Equal(r.Grid) {
			return eris.Errorf("grid: raster %q is not aligned to the analysis grid", r.Name)
		}
	}
	return nil
}
