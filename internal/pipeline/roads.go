package pipeline

import (
	"context"
	"os"

	"github.com/rotisserie/eris"

	"github.com/bcgp/connectivity-impact/internal/aggregate"
	"github.com/bcgp/connectivity-impact/internal/fault"
	"github.com/bcgp/connectivity-impact/internal/grid"
	"github.com/bcgp/connectivity-impact/internal/ranking"
	"github.com/bcgp/connectivity-impact/internal/toolkit"
	"github.com/bcgp/connectivity-impact/internal/vector"
	"github.com/bcgp/connectivity-impact/internal/workspace"
	"github.com/bcgp/connectivity-impact/internal/zonal"
)

// loadSource reads a candidate shapefile and reprojects it to the grid CRS.
func (p *Pipeline) loadSource(stage, name, path, sourceCRS, idField string) (*vector.FeatureSet, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fault.NewDataError(stage, name, err)
	}
	crs := sourceCRS
	if crs == "" {
		crs = p.cfg.Grid.CRS
	}
	fs, err := vector.ReadShapefile(path, name, crs, idField)
	if err != nil {
		return nil, fault.NewDataError(stage, name, err)
	}
	fs, err = vector.Reproject(fs, p.cfg.Grid.CRS)
	if err != nil {
		return nil, fault.NewDataError(stage, name, err)
	}
	return fs, nil
}

// regionField returns the attribute holding each feature's region. When
// the features carry no field, regions are assigned by centroid from the
// extent boundaries.
func (p *Pipeline) regionField(fs, extent *vector.FeatureSet, stage, field string) (string, error) {
	if field != "" {
		for _, f := range fs.Features {
			if _, ok := f.Attrs[field]; ok {
				return field, nil
			}
		}
	}
	unassigned, err := vector.AssignRegions(fs, extent, p.cfg.Grid.RegionField, ranking.FieldRegion)
	if err != nil {
		return "", eris.Wrapf(err, "pipeline: %s: assign regions", stage)
	}
	if len(unassigned) > 0 {
		p.warn(fault.Warning{Stage: stage, Dataset: fs.Name, Message: "features outside every region", IDs: unassigned})
	}
	return ranking.FieldRegion, nil
}

// resolveZonal runs the overlap resolution loop over zones and stores its
// numbered pass tables and the merged table.
func (p *Pipeline) resolveZonal(ctx context.Context, name string, cii *grid.Raster, zones []toolkit.Zone) (*zonal.Table, error) {
	tbl, err := p.engine.Resolve(ctx, name, cii, zones)
	if err != nil {
		return nil, err
	}
	for _, t := range tbl.WorkspaceTables() {
		if err := p.store.PutTable(ctx, workspace.TableOf(t.Name), t); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

// storeRanking persists a family's global ranking table and ranked
// features, and records region mismatches.
func (p *Pipeline) storeRanking(ctx context.Context, stage string, res *ranking.Result, fs *vector.FeatureSet, featuresName string) error {
	if len(res.Mismatches) > 0 {
		p.report.Mismatches[res.Family] = res.Mismatches
		p.warn(fault.Warning{
			Stage:   stage,
			Dataset: fs.Name,
			Message: "region not in configured list; excluded from region rankings",
			IDs:     res.MismatchIDs(),
		})
	}
	tbl := res.Global.Table(ranking.TableName(res.Family))
	if err := p.store.PutTable(ctx, workspace.TableOf(tbl.Name), tbl); err != nil {
		return err
	}
	ranked := ranking.Annotate(fs, res.Global.Candidates, res.Family, featuresName)
	return p.store.PutFeatures(ctx, workspace.Features(featuresName), ranked)
}

// roads ranks road segments by CII under their buffer and connectivity.
func (p *Pipeline) roads(ctx context.Context) error {
	if err := p.require(ctx, fault.StageRoads, aggregate.Overall, MaskRaster, ExtentFeatures); err != nil {
		return err
	}
	env, cii, err := p.loadCII(ctx, fault.StageRoads)
	if err != nil {
		return err
	}
	extent, err := p.store.GetFeatures(ctx, workspace.Features(ExtentFeatures))
	if err != nil {
		return err
	}

	cfg := p.cfg.Roads
	fs, err := p.loadSource(fault.StageRoads, "roads", cfg.Path, cfg.SourceCRS, cfg.IDField)
	if err != nil {
		return err
	}
	if cfg.PreselectTop && cfg.TopFlagField != "" {
		fs = vector.Filter(fs, fs.Name, func(f *vector.Feature) bool {
			v, ok := f.Float(cfg.TopFlagField)
			return ok && v == 1
		})
	}
	fs = vector.Intersecting(fs, extent, fs.Name)
	if fs.Len() == 0 {
		return fault.NewDataError(fault.StageRoads, fs.Name, eris.New("no road segments inside the extent"))
	}

	if cfg.RegionField, err = p.regionField(fs, extent, fault.StageRoads, cfg.RegionField); err != nil {
		return err
	}

	zones, err := toolkit.BufferZones(fs, env, cfg.BufferDistance)
	if err != nil {
		return fault.NewDataError(fault.StageRoads, fs.Name, err)
	}
	tbl, err := p.resolveZonal(ctx, RoadZonal, cii, zones)
	if err != nil {
		return err
	}
	p.report.Passes[ranking.Roads] = tbl.Passes()

	noData, _ := zonal.JoinMeans(fs, tbl, ranking.FieldCII)
	if len(noData) > 0 {
		p.warn(fault.Warning{Stage: fault.StageRoads, Dataset: fs.Name, Message: "buffer covers no CII cells", IDs: noData})
	}

	cands, skipped, err := ranking.ScoreRoads(fs, cfg)
	if err != nil {
		return fault.NewDataError(fault.StageRoads, fs.Name, err)
	}
	if extra := without(skipped, noData); len(extra) > 0 {
		p.warn(fault.Warning{Stage: fault.StageRoads, Dataset: fs.Name, Message: "missing " + cfg.ConnectivityField, IDs: extra})
	}

	res := ranking.Partition(ranking.Roads, cands, p.cfg.Regions)
	return p.storeRanking(ctx, fault.StageRoads, res, fs, RoadsRanked)
}

// without returns the ids of a not in b.
func without(a, b []string) []string {
	drop := make(map[string]bool, len(b))
	for _, id := range b {
		drop[id] = true
	}
	var out []string
	for _, id := range a {
		if !drop[id] {
			out = append(out, id)
		}
	}
	return out
}
