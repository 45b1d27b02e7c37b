package pipeline

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bcgp/connectivity-impact/internal/aggregate"
	"github.com/bcgp/connectivity-impact/internal/fault"
	"github.com/bcgp/connectivity-impact/internal/grid"
	"github.com/bcgp/connectivity-impact/internal/indicator"
	"github.com/bcgp/connectivity-impact/internal/toolkit"
	"github.com/bcgp/connectivity-impact/internal/vector"
	"github.com/bcgp/connectivity-impact/internal/workspace"
)

// loadExtent reads the boundary layer that defines the analysis extent.
func (p *Pipeline) loadExtent() (*vector.FeatureSet, error) {
	path := p.cfg.Grid.ExtentPath
	if _, err := os.Stat(path); err != nil {
		return nil, fault.NewDataError(fault.StageIndex, ExtentFeatures, err)
	}
	extent, err := vector.ReadShapefile(path, ExtentFeatures, p.cfg.Grid.CRS, "")
	if err != nil {
		return nil, fault.NewDataError(fault.StageIndex, ExtentFeatures, err)
	}
	if extent.Len() == 0 {
		return nil, fault.NewDataError(fault.StageIndex, ExtentFeatures, eris.New("extent has no features"))
	}
	return extent, nil
}

// index builds the grid environment and normalizes every indicator in
// the catalog into a score raster.
func (p *Pipeline) index(ctx context.Context) error {
	extent, err := p.loadExtent()
	if err != nil {
		return err
	}
	env, err := toolkit.NewEnv(extent, p.cfg.Grid.CellSize)
	if err != nil {
		return fault.NewDataError(fault.StageIndex, ExtentFeatures, err)
	}
	if err := p.store.PutFeatures(ctx, workspace.Features(ExtentFeatures), extent); err != nil {
		return err
	}
	if err := p.store.PutRaster(ctx, workspace.Raster(MaskRaster), env.MaskRaster(MaskRaster)); err != nil {
		return err
	}
	zap.L().Info("pipeline: analysis grid",
		zap.Int("rows", env.Grid.Rows),
		zap.Int("cols", env.Grid.Cols),
		zap.Float64("cell_size", env.Grid.CellSize),
		zap.Int("inside", env.Mask.Inside()),
	)

	norm := indicator.NewNormalizer(env, extent, indicator.Options{
		DataDir:     p.cfg.Indicators.DataDir,
		Classes:     p.cfg.Indicators.Classes,
		MaxSample:   p.cfg.Indicators.MaxSample,
		DistancePad: p.cfg.Grid.DistancePad,
	})

	measures := make([]string, 0, len(p.catalog))
	for _, d := range p.catalog {
		out, err := norm.Normalize(ctx, d)
		if err != nil {
			return err
		}
		p.warn(out.Warnings...)

		if err := p.store.PutRaster(ctx, workspace.Raster(out.Measure.Name), out.Measure); err != nil {
			return err
		}
		if err := p.store.PutRaster(ctx, workspace.Raster(out.Score.Name), out.Score); err != nil {
			return err
		}
		measures = append(measures, out.Measure.Name)
	}
	return p.discard(ctx, measures...)
}

// aggregate combines the score rasters into the category composites and
// the overall CII.
func (p *Pipeline) aggregate(ctx context.Context) error {
	formulas := aggregate.Formulas(p.cfg.Weights)
	inputs := aggregate.ScoreInputs(formulas)
	if err := p.require(ctx, fault.StageAggregate, append([]string{MaskRaster}, inputs...)...); err != nil {
		return err
	}

	env, err := p.loadEnv(ctx)
	if err != nil {
		return err
	}
	scores := make(map[string]*grid.Raster, len(inputs))
	for _, name := range inputs {
		r, err := p.store.GetRaster(ctx, workspace.Raster(name))
		if err != nil {
			return err
		}
		scores[name] = r
	}

	agg, err := aggregate.New(env.Grid, env.Mask, p.cfg.Aggregate, formulas)
	if err != nil {
		return err
	}
	composites, err := agg.Run(scores)
	if err != nil {
		return err
	}
	for _, r := range composites {
		if err := p.store.PutRaster(ctx, workspace.Raster(r.Name), r); err != nil {
			return err
		}
	}
	return nil
}

// loadEnv restores the grid environment saved by the index stage.
func (p *Pipeline) loadEnv(ctx context.Context) (*toolkit.Env, error) {
	mask, err := p.store.GetRaster(ctx, workspace.Raster(MaskRaster))
	if err != nil {
		return nil, err
	}
	return toolkit.Restore(mask.Grid, mask)
}

// loadCII returns the environment and the overall CII raster, checking
// that the raster lies on the analysis grid.
func (p *Pipeline) loadCII(ctx context.Context, stage string) (*toolkit.Env, *grid.Raster, error) {
	env, err := p.loadEnv(ctx)
	if err != nil {
		return nil, nil, err
	}
	cii, err := p.store.GetRaster(ctx, workspace.Raster(aggregate.Overall))
	if err != nil {
		return nil, nil, err
	}
	if err := env.Grid.CheckAligned(cii); err != nil {
		return nil, nil, fault.NewDataError(stage, aggregate.Overall, err)
	}
	return env, cii, nil
}
