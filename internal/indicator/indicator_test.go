package indicator

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/bcgp/connectivity-impact/internal/classify"
	"github.com/bcgp/connectivity-impact/internal/fault"
	"github.com/bcgp/connectivity-impact/internal/grid"
	"github.com/bcgp/connectivity-impact/internal/toolkit"
	"github.com/bcgp/connectivity-impact/internal/vector"
)

const crs = "EPSG:26918"

func square(x0, y0, size float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		x0, y0, x0 + size, y0, x0 + size, y0 + size, x0, y0 + size, x0, y0,
	}, []int{10})
}

// fixture is a 300 m square extent (10x10 cells) with four tract
// quadrants written as a shapefile.
type fixture struct {
	dir    string
	extent *vector.FeatureSet
	n      *Normalizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	extent := &vector.FeatureSet{Name: "extent", CRS: crs, Features: []*vector.Feature{
		{ID: "1", Geometry: square(0, 0, 300)},
	}}
	env, err := toolkit.NewEnv(extent, 30)
	require.NoError(t, err)

	tracts := &vector.FeatureSet{Name: "tracts", CRS: crs, Features: []*vector.Feature{
		{ID: "a", Geometry: square(0, 0, 150), Attrs: map[string]any{"GEOID": "101", "POP": 100.0}},
		{ID: "b", Geometry: square(150, 0, 150), Attrs: map[string]any{"GEOID": "102", "POP": 300.0}},
		{ID: "c", Geometry: square(150, 150, 150), Attrs: map[string]any{"GEOID": "999", "POP": 50.0}},
		{ID: "d", Geometry: square(0, 150, 150), Attrs: map[string]any{"GEOID": "104", "POP": 200.0}},
	}}
	require.NoError(t, vector.WriteShapefile(filepath.Join(dir, "tracts.shp"), tracts, []vector.FieldSpec{
		{Name: "GEOID", Kind: vector.FieldString, Size: 12},
		{Name: "POP", Kind: vector.FieldFloat, Size: 18, Precision: 4},
	}))

	n := NewNormalizer(env, extent, Options{DataDir: dir, Classes: 20})
	return &fixture{dir: dir, extent: extent, n: n}
}

func (fx *fixture) writePoints(t *testing.T, name string, pts ...[2]float64) {
	t.Helper()
	fs := &vector.FeatureSet{Name: name, CRS: crs}
	for i, p := range pts {
		fs.Features = append(fs.Features, &vector.Feature{
			ID:       string(rune('a' + i)),
			Geometry: geom.NewPointFlat(geom.XY, []float64{p[0], p[1]}),
			Attrs:    map[string]any{"NAME": "stop"},
		})
	}
	require.NoError(t, vector.WriteShapefile(filepath.Join(fx.dir, name+".shp"), fs, []vector.FieldSpec{
		{Name: "NAME", Kind: vector.FieldString, Size: 10},
	}))
}

func cell(t *testing.T, r *grid.Raster, row, col int) float64 {
	t.Helper()
	v, ok := r.Get(row, col)
	require.True(t, ok, "cell (%d, %d) is no-data", row, col)
	return v
}

func TestNormalize_DensityAttribute(t *testing.T) {
	fx := newFixture(t)

	out, err := fx.n.Normalize(context.Background(), Descriptor{
		ID: DisadvantageIndex, Pattern: PatternDensity, Source: "tracts.shp", Attribute: "POP",
	})
	require.NoError(t, err)

	assert.Equal(t, []float64{50, 100, 200, 300}, out.Breaks)
	assert.NoError(t, classify.CheckScores(out.Score, 1, MaxScore))
	assert.Equal(t, 100, out.Score.Count())
	assert.Equal(t, 2.0, cell(t, out.Score, 9, 0))
	assert.Equal(t, 4.0, cell(t, out.Score, 9, 9))
	assert.Equal(t, 1.0, cell(t, out.Score, 0, 9))
	assert.Equal(t, ScoreName(DisadvantageIndex), out.Score.Name)
	assert.True(t, out.Score.Grid.Equal(fx.n.Env().Grid))

	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0].Message, "fewer distinct values")
}

func TestNormalize_DensityPerArea(t *testing.T) {
	fx := newFixture(t)

	out, err := fx.n.Normalize(context.Background(), Descriptor{
		ID: EmploymentDensity, Pattern: PatternDensity, Source: "tracts.shp", Attribute: "POP", PerArea: true,
	})
	require.NoError(t, err)
	// 100 over 0.0225 km².
	assert.InDelta(t, 4444.444, cell(t, out.Measure, 9, 0), 0.01)
}

func TestNormalize_DensityJoinWarnsOnUnmatchedKeys(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(fx.dir, "pop.csv"),
		[]byte("GEOID,POP\n101,10\n102,20\n104,40\n"), 0o644))

	out, err := fx.n.Normalize(context.Background(), Descriptor{
		ID: PopulationDensity, Pattern: PatternDensity, Source: "tracts.shp",
		Join: &Join{Table: "pop.csv", GeomKey: "GEOID", TableKey: "GEOID", Field: "POP"},
	})
	require.NoError(t, err)

	assert.Equal(t, 75, out.Measure.Count())
	_, ok := out.Measure.Get(0, 9)
	assert.False(t, ok)
	assert.Equal(t, 40.0, cell(t, out.Measure, 0, 0))

	var unmatched *fault.Warning
	for i := range out.Warnings {
		if out.Warnings[i].Count == 1 && len(out.Warnings[i].IDs) == 1 {
			unmatched = &out.Warnings[i]
		}
	}
	require.NotNil(t, unmatched)
	assert.Equal(t, []string{"999"}, unmatched.IDs)
	assert.Equal(t, fault.StageIndex, unmatched.Stage)
	assert.Equal(t, PopulationDensity, unmatched.Dataset)
}

func TestNormalize_DensityOutsideExtent(t *testing.T) {
	fx := newFixture(t)
	far := &vector.FeatureSet{Name: "far", CRS: crs, Features: []*vector.Feature{
		{ID: "x", Geometry: square(10000, 10000, 100), Attrs: map[string]any{"POP": 1.0}},
	}}
	require.NoError(t, vector.WriteShapefile(filepath.Join(fx.dir, "far.shp"), far, []vector.FieldSpec{
		{Name: "POP", Kind: vector.FieldFloat, Size: 18, Precision: 4},
	}))

	_, err := fx.n.Normalize(context.Background(), Descriptor{
		ID: Obesity, Pattern: PatternDensity, Source: "far.shp", Attribute: "POP",
	})
	require.Error(t, err)
	assert.True(t, fault.IsData(err))
	assert.Contains(t, err.Error(), Obesity)
	assert.Contains(t, err.Error(), fault.StageIndex)
}

func TestNormalize_MissingSource(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.n.Normalize(context.Background(), Descriptor{
		ID: NoVehicle, Pattern: PatternDensity, Source: "missing.shp", Attribute: "POP",
	})
	require.Error(t, err)
	assert.True(t, fault.IsData(err))
}

func TestNormalize_DistanceBands(t *testing.T) {
	fx := newFixture(t)
	fx.writePoints(t, "stations", [2]float64{15, 15})

	out, err := fx.n.Normalize(context.Background(), Descriptor{
		ID: Rail, Pattern: PatternDistance, Source: "stations.shp",
		Bands: []Band{{30, 5}, {90, 20}, {math.Inf(1), 1}},
	})
	require.NoError(t, err)

	assert.Nil(t, out.Breaks)
	assert.Equal(t, 0.0, cell(t, out.Measure, 9, 0))
	// Closest band scores below the middle band.
	assert.Equal(t, 5.0, cell(t, out.Score, 9, 0))
	assert.Equal(t, 20.0, cell(t, out.Score, 9, 2))
	assert.Equal(t, 1.0, cell(t, out.Score, 0, 9))
	assert.NoError(t, classify.CheckScores(out.Score, 1, MaxScore))
	assert.Empty(t, out.Warnings)
}

func TestNormalize_DistanceBeyondLastBand(t *testing.T) {
	fx := newFixture(t)
	fx.writePoints(t, "stops", [2]float64{15, 15})

	out, err := fx.n.Normalize(context.Background(), Descriptor{
		ID: Bus, Pattern: PatternDistance, Source: "stops.shp",
		Bands: []Band{{100, 20}},
	})
	require.NoError(t, err)
	require.Len(t, out.Warnings, 1)
	assert.Greater(t, out.Warnings[0].Count, 0)
	assert.Less(t, out.Score.Count(), 100)
}

func TestNormalize_DistanceNoSources(t *testing.T) {
	fx := newFixture(t)
	fx.writePoints(t, "far", [2]float64{50000, 50000})

	_, err := fx.n.Normalize(context.Background(), Descriptor{
		ID: Trolley, Pattern: PatternDistance, Source: "far.shp",
		Bands: []Band{{100, 20}, {math.Inf(1), 1}},
	})
	require.Error(t, err)
	assert.True(t, fault.IsData(err))
}

func writeASCII(t *testing.T, path string, r *grid.Raster) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, grid.WriteASCII(f, r))
}

func TestNormalize_Passthrough(t *testing.T) {
	fx := newFixture(t)
	r := grid.NewRaster("hazard", fx.n.Env().Grid)
	for i := range r.Cells {
		r.Cells[i] = float32(i + 1)
	}
	writeASCII(t, filepath.Join(fx.dir, "hazard.asc"), r)

	out, err := fx.n.Normalize(context.Background(), Descriptor{
		ID: RespiratoryHazard, Pattern: PatternPassthrough, Source: "hazard.asc",
	})
	require.NoError(t, err)
	assert.Len(t, out.Breaks, 20)
	assert.Equal(t, 100, out.Score.Count())
	assert.NoError(t, classify.CheckScores(out.Score, 1, MaxScore))
	lo, hi, ok := out.Score.Range()
	require.True(t, ok)
	assert.Equal(t, 1.0, lo)
	assert.Equal(t, 20.0, hi)
	assert.Empty(t, out.Warnings)
}

func TestNormalize_PassthroughMisaligned(t *testing.T) {
	fx := newFixture(t)
	g := fx.n.Env().Grid
	g.CellSize = 10
	r := grid.NewRaster("hazard", g)
	r.Cells[0] = 1
	writeASCII(t, filepath.Join(fx.dir, "hazard.asc"), r)

	_, err := fx.n.Normalize(context.Background(), Descriptor{
		ID: RespiratoryHazard, Pattern: PatternPassthrough, Source: "hazard.asc",
	})
	require.Error(t, err)
	assert.True(t, fault.IsData(err))
}

func TestNormalize_InvalidDescriptor(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.n.Normalize(context.Background(), Descriptor{ID: "x", Pattern: "magic", Source: "a.shp"})
	require.Error(t, err)
	assert.True(t, fault.IsData(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fx.n.Normalize(ctx, Descriptor{ID: Bus})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaultCatalog(t *testing.T) {
	cat := DefaultCatalog()
	require.NoError(t, cat.Validate())
	assert.Len(t, cat, len(IDs))

	rail, ok := cat.Lookup(Rail)
	require.True(t, ok)
	// Non-monotonic: the closest band is not the best.
	assert.Less(t, rail.Bands[0].Score, rail.Bands[1].Score)

	_, ok = cat.Lookup("nope")
	assert.False(t, ok)
}

func TestLoadCatalog_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indicators.yaml")
	yaml := `
indicators:
  - id: rail
    source: Transit/Rail.shp
    bands:
      - {max: 500, score: 10}
      - {max: .inf, score: 2}
  - id: obesity
    join:
      table: CDC/places.xlsx
      geom_key: GEOID
      table_key: LocationName
      field: Data_Value
      sheet: Tracts
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cat, err := LoadCatalog(path)
	require.NoError(t, err)

	rail, _ := cat.Lookup(Rail)
	assert.Equal(t, "Transit/Rail.shp", rail.Source)
	assert.Equal(t, "Distance to regional rail stations", rail.Title)
	assert.Equal(t, PatternDistance, rail.Pattern)
	require.Len(t, rail.Bands, 2)
	assert.True(t, math.IsInf(rail.Bands[1].Max, 1))

	ob, _ := cat.Lookup(Obesity)
	assert.Equal(t, "Tracts", ob.Join.Sheet)
	assert.Equal(t, "Census/tl_2017_42_tract.shp", ob.Source)
}

func TestLoadCatalog_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown id", "indicators:\n  - id: ferries\n", "not a known indicator"},
		{"score out of range", "indicators:\n  - id: bus\n    bands: [{max: 10, score: 25}]\n", "outside 1..20"},
		{"descending bands", "indicators:\n  - id: bus\n    bands: [{max: 10, score: 2}, {max: 5, score: 3}]\n", "not above"},
		{"bad pattern", "indicators:\n  - id: bus\n    pattern: kriging\n", "unknown pattern"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))
			_, err := LoadCatalog(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
