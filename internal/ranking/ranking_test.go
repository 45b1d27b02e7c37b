package ranking

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/bcgp/connectivity-impact/internal/config"
	"github.com/bcgp/connectivity-impact/internal/vector"
)

var regions = []string{"Bucks", "Chester", "Delaware", "Montgomery"}

func roadsConfig() config.RoadsConfig {
	return config.RoadsConfig{
		IDField:            "EDGE",
		ConnectivityField:  "TotConnect",
		RegionField:        "CO_NAME",
		TopFlagField:       "Top30perce",
		CIIWeight:          0.67,
		ConnectivityWeight: 0.33,
		ConnectivityScale:  20,
		TopN:               20,
	}
}

func road(id string, cii, conn float64, region string) *vector.Feature {
	return &vector.Feature{
		ID:       id,
		Geometry: geom.NewLineStringFlat(geom.XY, []float64{0, 0, 10, 0}),
		Attrs: map[string]any{
			FieldCII:     cii,
			"TotConnect": conn,
			"CO_NAME":    region,
		},
	}
}

func ids(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.ID
	}
	return out
}

func TestScoreRoads_ThreeSegments(t *testing.T) {
	fs := &vector.FeatureSet{Name: "roads", Features: []*vector.Feature{
		road("1", 10, 100, "Bucks"),
		road("2", 15, 50, "Bucks"),
		road("3", 5, 200, "Bucks"),
	}}

	cands, skipped, err := ScoreRoads(fs, roadsConfig())
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, cands, 3)

	wantConn := []float64{10, 5, 20}
	wantScore := []float64{10, 11.7, 9.95}
	for i, c := range cands {
		assert.InDelta(t, wantConn[i], c.ConnectivityScore, 1e-9, c.ID)
		assert.InDelta(t, wantScore[i], c.Score, 1e-9, c.ID)
	}
	assert.Equal(t, 20.0, cands[2].ConnectivityScore)

	ranked := Rank(cands)
	assert.Equal(t, []string{"2", "1", "3"}, ids(ranked))
	for i, c := range ranked {
		assert.Equal(t, i+1, c.Rank)
	}
}

func TestScoreRoads_SkipsAndFlags(t *testing.T) {
	noCII := road("4", 0, 10, "Chester")
	delete(noCII.Attrs, FieldCII)
	flagged := road("5", 3, 10, "Chester")
	flagged.Attrs["Top30perce"] = int64(1)

	fs := &vector.FeatureSet{Features: []*vector.Feature{road("1", 1, 40, "Chester"), noCII, flagged}}
	cands, skipped, err := ScoreRoads(fs, roadsConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"4"}, skipped)
	require.Len(t, cands, 2)
	assert.False(t, cands[0].SourceTop)
	assert.True(t, cands[1].SourceTop)
}

func TestScoreRoads_ZeroConnectivity(t *testing.T) {
	fs := &vector.FeatureSet{Features: []*vector.Feature{road("1", 1, 0, "Bucks")}}
	_, _, err := ScoreRoads(fs, roadsConfig())
	assert.ErrorContains(t, err, "maximum TotConnect")
}

func TestScoreTrails(t *testing.T) {
	trail := func(id string, length, count float64, cii any) *vector.Feature {
		attrs := map[string]any{FieldIslandLength: length, FieldIslandCount: count, "CO_NAME": "Chester"}
		if cii != nil {
			attrs[FieldTrailCII] = cii
		}
		return &vector.Feature{ID: id, Attrs: attrs}
	}
	fs := &vector.FeatureSet{Features: []*vector.Feature{
		trail("1", 2000, 2, 10.0),
		trail("2", 1000, 1, 20.0),
		trail("3", 0, 0, nil),
	}}

	tests := []struct {
		name       string
		minIslands int
		want       map[string]float64
		dropped    []string
	}{
		{name: "at least one", minIslands: 1, want: map[string]float64{"1": 250.0 / 3, "2": 200.0 / 3}, dropped: []string{"3"}},
		{name: "at least two", minIslands: 2, want: map[string]float64{"1": 250.0 / 3}, dropped: []string{"2", "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.TrailsConfig{RegionField: "CO_NAME", MinIslands: tt.minIslands, ScoreScale: 100}
			cands, dropped := ScoreTrails(fs, cfg)
			assert.Equal(t, tt.dropped, dropped)
			require.Len(t, cands, len(tt.want))
			for _, c := range cands {
				assert.InDelta(t, tt.want[c.ID], c.Score, 1e-9, c.ID)
				assert.Equal(t, "Chester", c.Region)
			}
		})
	}
}

func TestRank_TiesKeepIDOrder(t *testing.T) {
	ranked := Rank([]Candidate{
		{ID: "10", Score: 5},
		{ID: "9", Score: 5},
		{ID: "2", Score: 7},
	})
	assert.Equal(t, []string{"2", "9", "10"}, ids(ranked))
}

func TestRanking_SubsetSizes(t *testing.T) {
	tests := []struct {
		n        int
		topThird int
		top20    int
	}{
		{0, 0, 0},
		{1, 0, 1},
		{3, 1, 3},
		{7, 2, 7},
		{20, 6, 20},
		{61, 20, 20},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.n), func(t *testing.T) {
			cands := make([]Candidate, tt.n)
			for i := range cands {
				cands[i] = Candidate{ID: fmt.Sprint(i), Score: float64(i)}
			}
			r := &Ranking{Family: Roads, Candidates: Rank(cands)}
			assert.Len(t, r.TopThird(), tt.topThird)
			assert.Len(t, r.Top(20), tt.top20)
			if tt.n > 0 {
				assert.Equal(t, float64(tt.n-1), r.Candidates[0].Score)
			}
		})
	}
}

func TestRanking_Subsets(t *testing.T) {
	r := &Ranking{Family: Roads, Candidates: Rank([]Candidate{
		{ID: "1", Score: 3},
		{ID: "2", Score: 2, SourceTop: true},
		{ID: "3", Score: 1},
	})}
	subsets := r.Subsets(2)
	require.Len(t, subsets, 4)
	assert.Equal(t, SubsetAll, subsets[0].Name)
	assert.Equal(t, []string{"1"}, ids(subsets[1].Candidates))
	assert.Equal(t, []string{"1", "2"}, ids(subsets[2].Candidates))
	assert.Equal(t, []string{"2"}, ids(subsets[3].Candidates))

	r.Family = Trails
	assert.Len(t, r.Subsets(2), 3)
}

func TestPartition_Delaware(t *testing.T) {
	cands := []Candidate{
		{ID: "1", Region: "Delaware", Score: 4},
		{ID: "2", Region: "Bucks", Score: 9},
		{ID: "3", Region: "Bucks", Score: 1},
	}
	res := Partition(Roads, cands, regions)

	assert.Equal(t, []string{"2", "1", "3"}, ids(res.Global.Candidates))
	assert.Empty(t, res.Mismatches)
	require.Len(t, res.Regions, 4)

	assert.Equal(t, []string{"1"}, ids(res.Region("Delaware").Candidates))
	assert.Equal(t, 1, res.Region("Delaware").Candidates[0].Rank)
	assert.Equal(t, []string{"2", "3"}, ids(res.Region("Bucks").Candidates))
	for _, name := range []string{"Montgomery", "Chester"} {
		assert.NotContains(t, ids(res.Region(name).Candidates), "1", name)
	}
	assert.Equal(t, res.Global, res.Region(Global))
	assert.Nil(t, res.Region("Philadelphia"))
	assert.Len(t, res.Rankings(), 5)
}

func TestPartition_Mismatches(t *testing.T) {
	cands := []Candidate{
		{ID: "7", Region: "DELAWARE", Score: 3},
		{ID: "3", Region: "Philadelphia", Score: 2},
		{ID: "5", Region: "Chester", Score: 1},
	}
	res := Partition(Roads, cands, regions)

	assert.Equal(t, []string{"3", "7"}, res.MismatchIDs())
	assert.Equal(t, Mismatch{ID: "3", Region: "Philadelphia"}, res.Mismatches[0])
	assert.Equal(t, "Delaware", res.Mismatches[1].Hint)
	assert.Len(t, res.Global.Candidates, 3)
	assert.Empty(t, res.Region("Delaware").Candidates)
}

func TestTableRoundTrip(t *testing.T) {
	for _, fam := range []Family{Roads, Trails} {
		t.Run(string(fam), func(t *testing.T) {
			r := &Ranking{Family: fam, Candidates: Rank([]Candidate{
				{ID: "1", Region: "Bucks", Score: 11.7, CII: 15, Connectivity: 50, ConnectivityScore: 5, SourceTop: true, IslandLength: 1200, IslandCount: 2},
				{ID: "2", Region: "Chester", Score: 9.95, CII: 5, Connectivity: 200, ConnectivityScore: 20, IslandLength: 300, IslandCount: 1},
			})}
			tbl := r.Table(TableName(fam))
			assert.Equal(t, string(fam)+"_ranking", tbl.Name)
			assert.Equal(t, fam.Columns(), tbl.Columns)

			got, err := FromTable(fam, tbl)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "1", got[0].ID)
			assert.Equal(t, 1, got[0].Rank)
			assert.Equal(t, 11.7, got[0].Score)
			assert.Equal(t, 15.0, got[0].CII)
			if fam == Roads {
				assert.True(t, got[0].SourceTop)
				assert.Equal(t, 20.0, got[1].ConnectivityScore)
			} else {
				assert.Equal(t, 2, got[0].IslandCount)
				assert.Equal(t, 300.0, got[1].IslandLength)
			}
		})
	}
}

func TestFromTable_MissingColumns(t *testing.T) {
	r := &Ranking{Family: Roads}
	tbl := r.Table("x")
	tbl.Columns = []string{FieldRank}
	_, err := FromTable(Roads, tbl)
	assert.Error(t, err)
}

func TestAnnotate(t *testing.T) {
	fs := &vector.FeatureSet{Name: "roads", CRS: "EPSG:26918", Features: []*vector.Feature{
		road("1", 10, 100, "Bucks"),
		road("2", 15, 50, "Bucks"),
	}}
	ranked := []Candidate{
		{ID: "2", Rank: 1, Score: 11.7},
		{ID: "1", Rank: 2, Score: 10},
		{ID: "9", Rank: 3, Score: 1},
	}

	out := Annotate(fs, ranked, Roads, "roads_ranked")
	require.Len(t, out.Features, 2)
	assert.Equal(t, "2", out.Features[0].ID)
	rank, ok := out.Features[0].Float(FieldRank)
	require.True(t, ok)
	assert.Equal(t, 1.0, rank)
	assert.Equal(t, "Bucks", out.Features[0].String("CO_NAME"))
	_, had := fs.Features[1].Attrs[FieldRank]
	assert.False(t, had)
}
