// Package ranking turns zonal CII means and intrinsic feature attributes
// into ranked candidate lists: one global ranking plus one independent
// ranking per region, each with its top-third and top-N subsets.
package ranking

import (
	"github.com/rotisserie/eris"

	"github.com/bcgp/connectivity-impact/internal/config"
	"github.com/bcgp/connectivity-impact/internal/vector"
)

// Family identifies what is being ranked.
type Family string

// Ranked families.
const (
	Roads  Family = "roads"
	Trails Family = "trails"
)

// Attribute names written onto ranked features and tables.
const (
	FieldID                = "ID"
	FieldRank              = "Rank"
	FieldRegion            = "Region"
	FieldCII               = "CII_Score"
	FieldConnectivity      = "Connectivity"
	FieldConnectivityScore = "Connectivity_Score"
	FieldIslandLength      = "Length_of_All_Islands"
	FieldIslandCount       = "Num_of_Islands"
	FieldTrailCII          = "Trail_CII_Score"
	FieldOverall           = "Overall_Score"
	FieldSourceTop         = "Source_Top"
)

// Candidate is one scored feature.
type Candidate struct {
	ID     string
	Region string
	Rank   int
	Score  float64

	// Roads.
	CII               float64
	Connectivity      float64
	ConnectivityScore float64
	SourceTop         bool

	// Trails. CII holds the mean island CII.
	IslandLength float64
	IslandCount  int
}

// ScoreRoads scores road segments carrying a CII mean in FieldCII:
// Connectivity_Score is the connectivity attribute over its maximum times
// ConnectivityScale, and the overall score blends it with the CII mean.
// Segments without a CII mean or connectivity value are skipped and
// returned.
func ScoreRoads(fs *vector.FeatureSet, cfg config.RoadsConfig) ([]Candidate, []string, error) {
	var cands []Candidate
	var skipped []string
	for _, f := range fs.Features {
		cii, ok := f.Float(FieldCII)
		if !ok {
			skipped = append(skipped, f.ID)
			continue
		}
		conn, ok := f.Float(cfg.ConnectivityField)
		if !ok {
			skipped = append(skipped, f.ID)
			continue
		}
		c := Candidate{
			ID:           f.ID,
			Region:       f.String(cfg.RegionField),
			CII:          cii,
			Connectivity: conn,
		}
		if cfg.TopFlagField != "" {
			flag, ok := f.Float(cfg.TopFlagField)
			c.SourceTop = ok && flag == 1
		}
		cands = append(cands, c)
	}
	if len(cands) == 0 {
		return nil, skipped, nil
	}

	maxConn := cands[0].Connectivity
	for _, c := range cands[1:] {
		if c.Connectivity > maxConn {
			maxConn = c.Connectivity
		}
	}
	if maxConn <= 0 {
		return nil, skipped, eris.Errorf("ranking: roads: maximum %s is %v", cfg.ConnectivityField, maxConn)
	}

	for i := range cands {
		c := &cands[i]
		c.ConnectivityScore = c.Connectivity / maxConn * cfg.ConnectivityScale
		c.Score = cfg.CIIWeight*c.CII + cfg.ConnectivityWeight*c.ConnectivityScore
	}
	return cands, skipped, nil
}

// ScoreTrails scores trails joined to islands. Each of total island
// length, island count and mean island CII is divided by its maximum over
// every joined trail; the overall score is their mean times ScoreScale.
// Trails matching fewer than MinIslands islands, or with no island CII,
// are dropped and returned.
func ScoreTrails(fs *vector.FeatureSet, cfg config.TrailsConfig) ([]Candidate, []string) {
	all := make([]Candidate, 0, fs.Len())
	hasCII := make([]bool, 0, fs.Len())
	var maxLen, maxCount, maxCII float64
	for _, f := range fs.Features {
		length, _ := f.Float(FieldIslandLength)
		count, _ := f.Float(FieldIslandCount)
		cii, ok := f.Float(FieldTrailCII)

		all = append(all, Candidate{
			ID:           f.ID,
			Region:       f.String(cfg.RegionField),
			CII:          cii,
			IslandLength: length,
			IslandCount:  int(count),
		})
		hasCII = append(hasCII, ok)

		maxLen = max(maxLen, length)
		maxCount = max(maxCount, count)
		if ok {
			maxCII = max(maxCII, cii)
		}
	}

	var cands []Candidate
	var dropped []string
	for i, c := range all {
		if c.IslandCount < cfg.MinIslands || !hasCII[i] {
			dropped = append(dropped, c.ID)
			continue
		}
		c.Score = (ratio(c.IslandLength, maxLen) + ratio(float64(c.IslandCount), maxCount) + ratio(c.CII, maxCII)) / 3 * cfg.ScoreScale
		cands = append(cands, c)
	}
	return cands, dropped
}

func ratio(v, maxV float64) float64 {
	if maxV <= 0 {
		return 0
	}
	return v / maxV
}
