package pipeline

import (
	"context"

	"github.com/bcgp/connectivity-impact/internal/aggregate"
	"github.com/bcgp/connectivity-impact/internal/export"
	"github.com/bcgp/connectivity-impact/internal/fault"
	"github.com/bcgp/connectivity-impact/internal/grid"
	"github.com/bcgp/connectivity-impact/internal/ranking"
	"github.com/bcgp/connectivity-impact/internal/vector"
	"github.com/bcgp/connectivity-impact/internal/workspace"
)

var rankedFeatures = map[ranking.Family]string{
	ranking.Roads:  RoadsRanked,
	ranking.Trails: TrailsRanked,
}

// export writes every stored ranking and the overall CII raster.
func (p *Pipeline) export(ctx context.Context) error {
	families := []ranking.Family{ranking.Roads, ranking.Trails}
	tables := make([]string, len(families))
	for i, f := range families {
		tables[i] = ranking.TableName(f)
	}
	missing, err := workspace.Missing(ctx, p.store, tables...)
	if err != nil {
		return err
	}
	if len(missing) == len(tables) {
		return &fault.PreconditionError{Stage: fault.StageExport, Missing: missing}
	}

	var out []export.Family
	for _, fam := range families {
		ok, err := p.store.Exists(ctx, ranking.TableName(fam))
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		ef, err := p.exportFamily(ctx, fam)
		if err != nil {
			return err
		}
		out = append(out, ef)
	}

	var cii *grid.Raster
	if ok, err := p.store.Exists(ctx, aggregate.Overall); err != nil {
		return err
	} else if ok {
		if cii, err = p.store.GetRaster(ctx, workspace.Raster(aggregate.Overall)); err != nil {
			return err
		}
	}

	written, err := p.exporter.Export(ctx, out, cii)
	p.report.Outputs = append(p.report.Outputs, written...)
	return err
}

func (p *Pipeline) exportFamily(ctx context.Context, fam ranking.Family) (export.Family, error) {
	tbl, err := p.store.GetTable(ctx, workspace.TableOf(ranking.TableName(fam)))
	if err != nil {
		return export.Family{}, err
	}
	cands, err := ranking.FromTable(fam, tbl)
	if err != nil {
		return export.Family{}, fault.NewDataError(fault.StageExport, tbl.Name, err)
	}

	var features *vector.FeatureSet
	name := rankedFeatures[fam]
	if ok, err := p.store.Exists(ctx, name); err != nil {
		return export.Family{}, err
	} else if ok {
		if features, err = p.store.GetFeatures(ctx, workspace.Features(name)); err != nil {
			return export.Family{}, err
		}
	}

	topN := p.cfg.Roads.TopN
	if fam == ranking.Trails {
		topN = p.cfg.Trails.TopN
	}
	return export.Family{
		Result:   ranking.Partition(fam, cands, p.cfg.Regions),
		Features: features,
		TopN:     topN,
	}, nil
}
