package workspace

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/bcgp/connectivity-impact/internal/fault"
	"github.com/bcgp/connectivity-impact/internal/grid"
	"github.com/bcgp/connectivity-impact/internal/vector"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "ws", "workspace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testRaster(name string) *grid.Raster {
	g := grid.Grid{OriginX: 0, OriginY: 60, CellSize: 30, Cols: 3, Rows: 2, CRS: "EPSG:26918"}
	r := grid.NewRaster(name, g)
	r.Set(0, 0, 12.5)
	r.Set(1, 2, 3)
	return r
}

func testFeatures() *vector.FeatureSet {
	return &vector.FeatureSet{Name: "roads", CRS: "EPSG:26918", Features: []*vector.Feature{
		{ID: "7", Geometry: geom.NewLineStringFlat(geom.XY, []float64{0, 0, 30, 30}), Attrs: map[string]any{"EDGE": "7", "Conn": 10.5}},
		{ID: "3", Geometry: geom.NewPointFlat(geom.XY, []float64{5, 5}), Attrs: map[string]any{"EDGE": "3"}},
	}}
}

func TestSQLite_RasterRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutRaster(ctx, Raster("cii_overall"), testRaster("cii_overall")))

	got, err := st.GetRaster(ctx, Raster("cii_overall"))
	require.NoError(t, err)
	assert.True(t, got.Grid.Equal(testRaster("x").Grid))
	assert.Equal(t, 2, got.Count())
	v, ok := got.Get(0, 0)
	require.True(t, ok)
	assert.Equal(t, 12.5, v)

	// A raster name is not a table.
	_, err = st.GetTable(ctx, TableOf("cii_overall"))
	assert.True(t, IsNotFound(err))
}

func TestSQLite_RasterReplace(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutRaster(ctx, Raster("r"), testRaster("r")))
	second := testRaster("r")
	second.Set(0, 1, 99)
	require.NoError(t, st.PutRaster(ctx, Raster("r"), second))

	got, err := st.GetRaster(ctx, Raster("r"))
	require.NoError(t, err)
	assert.Equal(t, 3, got.Count())

	objs, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, KindRaster, objs[0].Kind)
	assert.Equal(t, 6, objs[0].Rows)
}

func TestSQLite_FeaturesRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutFeatures(ctx, Features("roads"), testFeatures()))

	fs, err := st.GetFeatures(ctx, Features("roads"))
	require.NoError(t, err)
	assert.Equal(t, "EPSG:26918", fs.CRS)
	require.Equal(t, 2, fs.Len())
	assert.Equal(t, "7", fs.Features[0].ID)
	assert.Equal(t, "3", fs.Features[1].ID)

	conn, ok := fs.Features[0].Float("Conn")
	require.True(t, ok)
	assert.Equal(t, 10.5, conn)
	assert.InDelta(t, 42.426, vector.Length(fs.Features[0].Geometry), 1e-3)

	_, err = st.GetFeatures(ctx, Features("missing"))
	assert.True(t, IsNotFound(err))
}

func TestSQLite_TableRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	tbl := &Table{Name: "roads_zonal", Columns: []string{"EDGE", "MEAN", "PASS"}, Rows: [][]any{
		{"1", 10.25, 1},
		{"2", nil, 2},
	}}
	require.NoError(t, st.PutTable(ctx, TableOf("roads_zonal"), tbl))

	got, err := st.GetTable(ctx, TableOf("roads_zonal"))
	require.NoError(t, err)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, "1", got.String(0, got.Col("EDGE")))
	mean, ok := got.Float(0, got.Col("MEAN"))
	require.True(t, ok)
	assert.Equal(t, 10.25, mean)
	pass, ok := got.Float(1, got.Col("PASS"))
	require.True(t, ok)
	assert.Equal(t, 2.0, pass)
	_, ok = got.Float(1, got.Col("MEAN"))
	assert.False(t, ok)
	assert.Equal(t, -1, got.Col("nope"))

	bad := &Table{Name: "bad", Columns: []string{"a"}, Rows: [][]any{{1, 2}}}
	assert.Error(t, st.PutTable(ctx, TableOf("bad"), bad))
}

func TestSQLite_ExistsDeleteMissing(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutRaster(ctx, Raster("a"), testRaster("a")))
	require.NoError(t, st.PutFeatures(ctx, Features("b"), testFeatures()))

	missing, err := Missing(ctx, st, "a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, missing)

	require.NoError(t, st.Delete(ctx, "b", "unknown"))
	ok, err := st.Exists(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	var n int
	require.NoError(t, st.db.Get(&n, `SELECT COUNT(*) FROM features WHERE dataset = 'b'`))
	assert.Equal(t, 0, n)
}

func TestSQLite_Reset(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutRaster(ctx, Raster("a"), testRaster("a")))
	_, err := st.CreateRun(ctx, "run")
	require.NoError(t, err)

	require.NoError(t, st.Reset(ctx))

	objs, err := st.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, objs)
	_, err = st.LatestRun(ctx)
	assert.True(t, IsNotFound(err))

	// Still usable after the reset.
	require.NoError(t, st.PutRaster(ctx, Raster("a"), testRaster("a")))
}

func TestSQLite_ResetFailureIsWorkspaceError(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Close())

	st.path = filepath.Join(t.TempDir(), "missing-dir", "sub", "ws.db")
	err := st.Reset(context.Background())
	require.Error(t, err)
	assert.True(t, fault.IsWorkspace(err))
}

func TestSQLite_Runs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "roads")
	require.NoError(t, err)
	assert.Equal(t, RunRunning, run.Status)

	require.NoError(t, st.FinishRun(ctx, run.ID, RunComplete, []byte(`{"ok":true}`)))

	latest, err := st.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.ID, latest.ID)
	assert.Equal(t, RunComplete, latest.Status)
	assert.JSONEq(t, `{"ok":true}`, string(latest.Report))
	assert.NotNil(t, latest.FinishedAt)

	err = st.FinishRun(ctx, "nope", RunFailed, nil)
	assert.True(t, IsNotFound(err))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "oracle"})
	assert.Error(t, err)
}

func TestOpen_SQLite(t *testing.T) {
	st, err := Open(context.Background(), Options{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "w.db")})
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	objs, err := st.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, objs)
}
