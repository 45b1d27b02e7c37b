package ranking

import (
	"github.com/rotisserie/eris"

	"github.com/bcgp/connectivity-impact/internal/vector"
	"github.com/bcgp/connectivity-impact/internal/workspace"
)

// Columns returns the table columns of a family's rankings.
func (f Family) Columns() []string {
	if f == Trails {
		return []string{FieldRank, FieldID, FieldRegion, FieldIslandLength, FieldIslandCount, FieldTrailCII, FieldOverall}
	}
	return []string{FieldRank, FieldID, FieldRegion, FieldCII, FieldConnectivity, FieldConnectivityScore, FieldOverall, FieldSourceTop}
}

// Values returns c's value for each of the family's columns.
func (f Family) Values(c Candidate) []any {
	cols := f.Columns()
	out := make([]any, len(cols))
	for i, col := range cols {
		out[i] = c.value(col)
	}
	return out
}

func (c Candidate) value(col string) any {
	switch col {
	case FieldRank:
		return c.Rank
	case FieldID:
		return c.ID
	case FieldRegion:
		return c.Region
	case FieldCII, FieldTrailCII:
		return c.CII
	case FieldConnectivity:
		return c.Connectivity
	case FieldConnectivityScore:
		return c.ConnectivityScore
	case FieldIslandLength:
		return c.IslandLength
	case FieldIslandCount:
		return c.IslandCount
	case FieldOverall:
		return c.Score
	case FieldSourceTop:
		if c.SourceTop {
			return 1
		}
		return 0
	}
	return nil
}

// TableName is the workspace table holding a family's global ranking.
func TableName(f Family) string {
	return string(f) + "_ranking"
}

// Table converts the ranking to a workspace table.
func (r *Ranking) Table(name string) *workspace.Table {
	t := &workspace.Table{Name: name, Columns: r.Family.Columns(), Rows: make([][]any, len(r.Candidates))}
	for i, c := range r.Candidates {
		t.Rows[i] = r.Family.Values(c)
	}
	return t
}

// FromTable reads candidates back from a stored ranking table, in row
// order.
func FromTable(f Family, t *workspace.Table) ([]Candidate, error) {
	id, score := t.Col(FieldID), t.Col(FieldOverall)
	if id < 0 || score < 0 {
		return nil, eris.Errorf("ranking: table %s lacks %s or %s", t.Name, FieldID, FieldOverall)
	}
	cii := t.Col(FieldCII)
	if f == Trails {
		cii = t.Col(FieldTrailCII)
	}

	num := func(row, col int) float64 {
		v, _ := t.Float(row, col)
		return v
	}
	out := make([]Candidate, len(t.Rows))
	for i := range t.Rows {
		out[i] = Candidate{
			ID:                t.String(i, id),
			Region:            t.String(i, t.Col(FieldRegion)),
			Rank:              int(num(i, t.Col(FieldRank))),
			Score:             num(i, score),
			CII:               num(i, cii),
			Connectivity:      num(i, t.Col(FieldConnectivity)),
			ConnectivityScore: num(i, t.Col(FieldConnectivityScore)),
			SourceTop:         num(i, t.Col(FieldSourceTop)) == 1,
			IslandLength:      num(i, t.Col(FieldIslandLength)),
			IslandCount:       int(num(i, t.Col(FieldIslandCount))),
		}
	}
	return out, nil
}

// Annotate returns the features of fs in ranked order with the ranking
// columns set. Candidates without a feature are skipped.
func Annotate(fs *vector.FeatureSet, ranked []Candidate, f Family, name string) *vector.FeatureSet {
	byID := make(map[string]*vector.Feature, fs.Len())
	for _, feat := range fs.Features {
		byID[feat.ID] = feat
	}

	out := &vector.FeatureSet{Name: name, CRS: fs.CRS, Features: make([]*vector.Feature, 0, len(ranked))}
	cols := f.Columns()
	for _, c := range ranked {
		src, ok := byID[c.ID]
		if !ok {
			continue
		}
		attrs := make(map[string]any, len(src.Attrs)+len(cols))
		for k, v := range src.Attrs {
			attrs[k] = v
		}
		for _, col := range cols {
			attrs[col] = c.value(col)
		}
		out.Features = append(out.Features, &vector.Feature{ID: c.ID, Geometry: src.Geometry, Attrs: attrs})
	}
	return out
}
