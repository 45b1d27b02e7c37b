package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/bcgp/connectivity-impact/internal/aggregate"
	"github.com/bcgp/connectivity-impact/internal/fault"
	"github.com/bcgp/connectivity-impact/internal/ranking"
	"github.com/bcgp/connectivity-impact/internal/toolkit"
	"github.com/bcgp/connectivity-impact/internal/vector"
	"github.com/bcgp/connectivity-impact/internal/workspace"
	"github.com/bcgp/connectivity-impact/internal/zonal"
)

// OrigLengthField holds an island's length before buffering.
const OrigLengthField = "Orig_Length"

// islands prepares low-stress islands and computes the CII under each.
func (p *Pipeline) islands(ctx context.Context) error {
	if err := p.require(ctx, fault.StageIslands, aggregate.Overall, MaskRaster, ExtentFeatures); err != nil {
		return err
	}
	env, cii, err := p.loadCII(ctx, fault.StageIslands)
	if err != nil {
		return err
	}
	extent, err := p.store.GetFeatures(ctx, workspace.Features(ExtentFeatures))
	if err != nil {
		return err
	}

	cfg := p.cfg.Islands
	raw, err := p.loadSource(fault.StageIslands, "islands_raw", cfg.Path, cfg.SourceCRS, "")
	if err != nil {
		return err
	}
	dissolved, err := vector.Dissolve(raw, IslandsFeatures, cfg.IDField)
	if err != nil {
		return fault.NewDataError(fault.StageIslands, raw.Name, err)
	}
	kept := vector.Filter(dissolved, IslandsFeatures, func(f *vector.Feature) bool {
		return f.ID != "0" && vector.Length(f.Geometry) >= cfg.MinLength
	})
	kept = vector.Intersecting(kept, extent, IslandsFeatures)
	if kept.Len() == 0 {
		return fault.NewDataError(fault.StageIslands, IslandsFeatures, eris.New("no islands inside the extent"))
	}
	for _, f := range kept.Features {
		f.Set(OrigLengthField, vector.Length(f.Geometry))
	}

	zones, err := toolkit.BufferZones(kept, env, cfg.BufferDistance)
	if err != nil {
		return fault.NewDataError(fault.StageIslands, IslandsFeatures, err)
	}
	tbl, err := p.resolveZonal(ctx, IslandZonal, cii, zones)
	if err != nil {
		return err
	}
	p.report.Passes[ranking.Trails] = tbl.Passes()

	noData, _ := zonal.JoinMeans(kept, tbl, ranking.FieldCII)
	if len(noData) > 0 {
		p.warn(fault.Warning{Stage: fault.StageIslands, Dataset: IslandsFeatures, Message: "island dropped: buffer covers no CII cells", IDs: noData})
		kept = vector.Filter(kept, IslandsFeatures, func(f *vector.Feature) bool {
			_, ok := f.Float(ranking.FieldCII)
			return ok
		})
	}
	return p.store.PutFeatures(ctx, workspace.Features(IslandsFeatures), kept)
}

// trailRules collapse the islands matched to each trail.
var trailRules = []toolkit.MergeRule{
	{Field: OrigLengthField, Out: ranking.FieldIslandLength, Op: toolkit.MergeSum},
	{Field: OrigLengthField, Out: ranking.FieldIslandCount, Op: toolkit.MergeCount},
	{Field: ranking.FieldCII, Out: ranking.FieldTrailCII, Op: toolkit.MergeMean},
}

// trails joins trails to nearby islands and ranks them.
func (p *Pipeline) trails(ctx context.Context) error {
	if err := p.require(ctx, fault.StageTrails, IslandsFeatures, ExtentFeatures); err != nil {
		return err
	}
	islands, err := p.store.GetFeatures(ctx, workspace.Features(IslandsFeatures))
	if err != nil {
		return err
	}
	extent, err := p.store.GetFeatures(ctx, workspace.Features(ExtentFeatures))
	if err != nil {
		return err
	}

	cfg := p.cfg.Trails
	trails, err := p.loadSource(fault.StageTrails, "trails", cfg.Path, cfg.SourceCRS, "")
	if err != nil {
		return err
	}
	assignTrailIDs(trails, cfg.IDField)

	if cfg.RegionField, err = p.regionField(trails, extent, fault.StageTrails, cfg.RegionField); err != nil {
		return err
	}

	joined, err := toolkit.SpatialJoin(trails, islands, cfg.SearchRadius, trailRules, "trails")
	if err != nil {
		return fault.NewDataError(fault.StageTrails, trails.Name, err)
	}

	cands, dropped := ranking.ScoreTrails(joined, cfg)
	if len(dropped) > 0 {
		p.warn(fault.Warning{Stage: fault.StageTrails, Dataset: trails.Name, Message: "trail dropped: too few islands", IDs: dropped})
	}
	if len(cands) == 0 {
		return fault.NewDataError(fault.StageTrails, trails.Name, eris.New("no trail reaches the minimum island count"))
	}

	res := ranking.Partition(ranking.Trails, cands, p.cfg.Regions)
	if err := p.storeRanking(ctx, fault.StageTrails, res, joined, TrailsRanked); err != nil {
		return err
	}
	return p.discard(ctx, IslandsFeatures)
}

// assignTrailIDs keys trails by idField, numbering them in record order
// from 1 when the field is absent.
func assignTrailIDs(fs *vector.FeatureSet, idField string) {
	for i, f := range fs.Features {
		if id := vector.Key(f.Attrs[idField]); id != "" {
			f.ID = id
			continue
		}
		f.ID = vector.Key(i + 1)
		f.Set(idField, i+1)
	}
}
