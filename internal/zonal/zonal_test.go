package zonal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/bcgp/connectivity-impact/internal/grid"
	"github.com/bcgp/connectivity-impact/internal/toolkit"
	"github.com/bcgp/connectivity-impact/internal/vector"
)

var testGrid = grid.Grid{OriginX: 0, OriginY: 30, CellSize: 30, Cols: 6, Rows: 1, CRS: "EPSG:26918"}

// testRaster holds 1..6 along a single row.
func testRaster() *grid.Raster {
	r := grid.NewRaster("cii_overall", testGrid)
	for i := range r.Cells {
		r.Cells[i] = float32(i + 1)
	}
	return r
}

// testZones returns five zones where 1 and 3 share cell 1.
func testZones() []toolkit.Zone {
	return []toolkit.Zone{
		{ID: "1", Cells: []int{0, 1}},
		{ID: "2", Cells: []int{2}},
		{ID: "3", Cells: []int{1, 3}},
		{ID: "4", Cells: []int{4}},
		{ID: "5", Cells: []int{5}},
	}
}

// scripted resolves a fixed set of ids per call.
type scripted struct {
	calls   int
	batches [][]string
}

func (s *scripted) ZonalMean(r *grid.Raster, zones []toolkit.Zone) ([]toolkit.ZoneStats, error) {
	var want map[string]bool
	if s.calls < len(s.batches) {
		want = map[string]bool{}
		for _, id := range s.batches[s.calls] {
			want[id] = true
		}
	}
	s.calls++

	var rows []toolkit.ZoneStats
	for _, z := range zones {
		if !want[z.ID] {
			continue
		}
		var values []float64
		for _, c := range z.Cells {
			if v := r.Cells[c]; !grid.IsNoData(v) {
				values = append(values, float64(v))
			}
		}
		row := toolkit.ZoneStats{ID: z.ID, Count: len(values)}
		if len(values) == 0 {
			row.NoData = true
		} else {
			row.Mean = stat.Mean(values, nil)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func rowIDs(rows []Row) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids
}

func TestResolve_OverlappingZonesTakeTwoPasses(t *testing.T) {
	p := &scripted{batches: [][]string{{"2", "4", "5"}, {"1", "3"}}}
	e := NewEngine(p, 10)

	tbl, err := e.Resolve(context.Background(), "road_zonal", testRaster(), testZones())
	require.NoError(t, err)

	require.Equal(t, 2, tbl.Passes())
	assert.Equal(t, []string{"2", "4", "5"}, rowIDs(tbl.Batches[0].Rows))
	assert.Equal(t, []string{"1", "3"}, rowIDs(tbl.Batches[1].Rows))
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, rowIDs(tbl.Rows))

	want := map[string]float64{"1": 1.5, "2": 3, "3": 3, "4": 5, "5": 6}
	for id, mean := range want {
		row, ok := tbl.Lookup(id)
		require.True(t, ok, id)
		assert.InDelta(t, mean, row.Mean, 1e-9, id)
	}
	row, _ := tbl.Lookup("3")
	assert.Equal(t, 2, row.Pass)
	assert.Equal(t, 2, p.calls)
}

func TestResolve_DisjointPrimitive(t *testing.T) {
	e := NewEngine(Disjoint, 10)

	tbl, err := e.Resolve(context.Background(), "road_zonal", testRaster(), testZones())
	require.NoError(t, err)

	require.Equal(t, 2, tbl.Passes())
	assert.Equal(t, []string{"1", "2", "4", "5"}, rowIDs(tbl.Batches[0].Rows))
	assert.Equal(t, []string{"3"}, rowIDs(tbl.Batches[1].Rows))

	row, ok := tbl.Lookup("3")
	require.True(t, ok)
	assert.InDelta(t, 3.0, row.Mean, 1e-9)
	assert.InDelta(t, 1800.0, row.Area, 1e-9)
}

func TestResolve_NoDataZonesAreReported(t *testing.T) {
	r := testRaster()
	r.Cells[5] = grid.NoData

	tbl, err := NewEngine(nil, 10).Resolve(context.Background(), "trail_zonal", r, testZones())
	require.NoError(t, err)

	require.Len(t, tbl.Rows, 5)
	assert.Equal(t, []string{"5"}, tbl.NoData())
}

func TestResolve_Empty(t *testing.T) {
	tbl, err := NewEngine(nil, 1).Resolve(context.Background(), "empty", testRaster(), nil)
	require.NoError(t, err)
	assert.Empty(t, tbl.Rows)
	assert.Zero(t, tbl.Passes())
}

func TestResolve_NotConverged(t *testing.T) {
	tests := []struct {
		name       string
		primitive  Primitive
		maxPasses  int
		passes     int
		unresolved int
	}{
		{
			name:       "no progress",
			primitive:  &scripted{},
			maxPasses:  10,
			passes:     1,
			unresolved: 5,
		},
		{
			name: "pass limit",
			primitive: PrimitiveFunc(func(r *grid.Raster, zones []toolkit.Zone) ([]toolkit.ZoneStats, error) {
				return toolkit.ZonalMean(r, zones[:1])
			}),
			maxPasses:  2,
			passes:     2,
			unresolved: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.primitive, tt.maxPasses).Resolve(context.Background(), "road_zonal", testRaster(), testZones())
			require.Error(t, err)

			var nc *NotConvergedError
			require.ErrorAs(t, err, &nc)
			assert.Equal(t, tt.passes, nc.Passes)
			assert.Equal(t, tt.unresolved, nc.Unresolved)
			assert.Len(t, nc.IDs, tt.unresolved)
			assert.Contains(t, err.Error(), "unresolved")
		})
	}
}

func TestResolve_Errors(t *testing.T) {
	t.Run("duplicate ids", func(t *testing.T) {
		zones := append(testZones(), toolkit.Zone{ID: "2", Cells: []int{3}})
		_, err := NewEngine(nil, 10).Resolve(context.Background(), "road_zonal", testRaster(), zones)
		assert.ErrorContains(t, err, "duplicate zone id")
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewEngine(nil, 10).Resolve(ctx, "road_zonal", testRaster(), testZones())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestStep_RejectsBadRows(t *testing.T) {
	tests := []struct {
		name string
		rows []toolkit.ZoneStats
		want string
	}{
		{name: "unknown", rows: []toolkit.ZoneStats{{ID: "9"}}, want: "unknown zone"},
		{name: "repeated", rows: []toolkit.ZoneStats{{ID: "1"}, {ID: "1"}}, want: "twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PrimitiveFunc(func(*grid.Raster, []toolkit.Zone) ([]toolkit.ZoneStats, error) {
				return tt.rows, nil
			})
			_, _, err := Step(p, testRaster(), 1, testZones())
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestMerge(t *testing.T) {
	ids := []string{"a", "b"}

	rows, err := Merge(ids, []Batch{
		{Pass: 1, Rows: []Row{{ID: "b", Pass: 1}}},
		{Pass: 2, Rows: []Row{{ID: "a", Pass: 2}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, rowIDs(rows))

	_, err = Merge(ids, []Batch{
		{Pass: 1, Rows: []Row{{ID: "a", Pass: 1}, {ID: "b", Pass: 1}}},
		{Pass: 2, Rows: []Row{{ID: "a", Pass: 2}}},
	})
	assert.ErrorContains(t, err, "passes 1 and 2")

	_, err = Merge(ids, []Batch{{Pass: 1, Rows: []Row{{ID: "a"}}}})
	assert.ErrorContains(t, err, "missing")

	_, err = Merge(ids, []Batch{{Pass: 1, Rows: []Row{{ID: "a"}, {ID: "b"}, {ID: "c"}}}})
	assert.ErrorContains(t, err, "unknown zones: c")
}

func TestJoinMeans(t *testing.T) {
	fs := &vector.FeatureSet{Name: "roads", CRS: testGrid.CRS, Features: []*vector.Feature{
		{ID: "1", Attrs: map[string]any{}},
		{ID: "2", Attrs: map[string]any{}},
		{ID: "7", Attrs: map[string]any{}},
	}}
	tbl := &Table{Rows: []Row{
		{ID: "1", Mean: 4.5},
		{ID: "2", NoData: true},
	}}

	noData, missing := JoinMeans(fs, tbl, "CII_Score")
	assert.Equal(t, []string{"2"}, noData)
	assert.Equal(t, []string{"7"}, missing)

	v, ok := fs.Features[0].Float("CII_Score")
	require.True(t, ok)
	assert.Equal(t, 4.5, v)
	_, ok = fs.Features[1].Float("CII_Score")
	assert.False(t, ok)
}

func TestWorkspaceTables(t *testing.T) {
	r := testRaster()
	r.Cells[5] = grid.NoData
	tbl, err := NewEngine(nil, 10).Resolve(context.Background(), "road_zonal", r, testZones())
	require.NoError(t, err)

	tables := tbl.WorkspaceTables()
	require.Len(t, tables, 3)
	assert.Equal(t, "road_zonal_pass1", tables[0].Name)
	assert.Equal(t, "road_zonal_pass2", tables[1].Name)
	assert.Equal(t, "road_zonal", tables[2].Name)

	merged := tables[2]
	require.Len(t, merged.Rows, 5)
	mean := merged.Col("MEAN")
	assert.Equal(t, "5", merged.String(4, merged.Col("ID")))
	_, ok := merged.Float(4, mean)
	assert.False(t, ok)
	v, ok := merged.Float(0, mean)
	require.True(t, ok)
	assert.InDelta(t, 1.5, v, 1e-9)
}
