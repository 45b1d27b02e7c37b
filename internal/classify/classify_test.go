package classify

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcgp/connectivity-impact/internal/grid"
)

func rasterOf(values ...float64) *grid.Raster {
	g := grid.Grid{OriginX: 0, OriginY: float64(len(values)), CellSize: 1, Cols: len(values), Rows: 1}
	r := grid.NewRaster("in", g)
	for i, v := range values {
		if !math.IsNaN(v) {
			r.Cells[i] = float32(v)
		}
	}
	return r
}

func TestBreaks(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		k      int
		want   []float64
	}{
		{name: "two clusters", values: []float64{1, 1, 2, 2, 10, 10, 11, 11}, k: 2, want: []float64{2, 11}},
		{name: "three clusters", values: []float64{21, 1, 2, 10, 11, 20}, k: 3, want: []float64{2, 11, 21}},
		{name: "weight pulls break", values: []float64{0, 0, 0, 0, 0, 0, 0, 0, 5, 6, 100}, k: 2, want: []float64{6, 100}},
		{name: "fewer distinct than classes", values: []float64{5, 6, 6, 5}, k: 20, want: []float64{5, 6}},
		{name: "single value", values: []float64{3, 3, 3}, k: 20, want: []float64{3}},
		{name: "nan ignored", values: []float64{math.NaN(), 1, 9}, k: 2, want: []float64{1, 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Breaks(tt.values, tt.k, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBreaks_Errors(t *testing.T) {
	_, err := Breaks([]float64{1}, 0, 0)
	assert.Error(t, err)

	_, err = Breaks([]float64{math.NaN()}, 3, 0)
	assert.Error(t, err)
}

func TestBreaks_Grouped(t *testing.T) {
	values := make([]float64, 10000)
	for i := range values {
		values[i] = float64(i)
	}

	a, err := Breaks(values, 20, 200)
	require.NoError(t, err)
	b, err := Breaks(values, 20, 200)
	require.NoError(t, err)

	require.Len(t, a, 20)
	assert.Equal(t, a, b, "deterministic")
	assert.Equal(t, 9999.0, a[19])
	for i := 1; i < len(a); i++ {
		assert.Greater(t, a[i], a[i-1])
	}
}

func TestNaturalBreaks_ScoresInRange(t *testing.T) {
	vals := make([]float64, 0, 400)
	for i := 0; i < 400; i++ {
		vals = append(vals, math.Sqrt(float64(i))*3)
	}
	vals = append(vals, math.NaN())
	r := rasterOf(vals...)

	out, breaks, err := NaturalBreaks(r, 20, 0, "score")
	require.NoError(t, err)
	require.Len(t, breaks, 20)
	require.NoError(t, CheckScores(out, 1, 20))

	lo, hi, ok := out.Range()
	require.True(t, ok)
	assert.Equal(t, 1.0, lo)
	assert.Equal(t, 20.0, hi)
	assert.True(t, grid.IsNoData(out.Cells[400]))
}

func TestSlice(t *testing.T) {
	r := rasterOf(0, 2, 3, 7, 11, math.NaN())
	out, err := Slice(r, []float64{2, 7, 11}, "s")
	require.NoError(t, err)

	want := []float32{1, 1, 2, 2, 3}
	assert.Equal(t, want, out.Cells[:5])
	assert.True(t, grid.IsNoData(out.Cells[5]))

	_, err = Slice(r, nil, "s")
	assert.Error(t, err)
}

func TestRemapRange_NonMonotonic(t *testing.T) {
	tbl, err := Thresholds(0, []float64{400, 800, 1600, math.Inf(1)}, []float64{1, 20, 10, 1})
	require.NoError(t, err)

	r := rasterOf(0, 400, 401, 800, 1600, 5000, -1)
	out, missed, err := RemapRange(r, tbl, "rail_score")
	require.NoError(t, err)

	assert.Equal(t, []float32{1, 1, 20, 20, 10, 1}, out.Cells[:6])
	assert.True(t, grid.IsNoData(out.Cells[6]))
	assert.Equal(t, 1, missed)
}

func TestTable_Validate(t *testing.T) {
	_, err := Thresholds(0, []float64{10, 5}, []float64{1, 2})
	assert.Error(t, err, "descending")

	_, err = Thresholds(0, []float64{10}, []float64{1, 2})
	assert.Error(t, err, "length mismatch")

	assert.Error(t, Table{}.Validate())
	assert.Error(t, Table{{Min: 0, Max: 5, Score: 1}, {Min: 6, Max: 9, Score: 2}}.Validate(), "gap")
}

func TestCheckScores(t *testing.T) {
	assert.NoError(t, CheckScores(rasterOf(1, 20, math.NaN()), 1, 20))
	assert.Error(t, CheckScores(rasterOf(0), 1, 20))
	assert.Error(t, CheckScores(rasterOf(21), 1, 20))
	assert.Error(t, CheckScores(rasterOf(1.5), 1, 20))
}
