// Package pipeline runs the CII stages in order against one workspace:
// reset, indicator normalization, aggregation, road ranking, island and
// trail ranking, and export. Each stage checks that its upstream outputs
// exist, persists its own outputs, and contributes to the run report.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bcgp/connectivity-impact/internal/config"
	"github.com/bcgp/connectivity-impact/internal/export"
	"github.com/bcgp/connectivity-impact/internal/fault"
	"github.com/bcgp/connectivity-impact/internal/indicator"
	"github.com/bcgp/connectivity-impact/internal/workspace"
	"github.com/bcgp/connectivity-impact/internal/zonal"
)

// Commands.
const (
	CommandRun    = "run"
	CommandIndex  = "index"
	CommandRoads  = "roads"
	CommandTrails = "trails"
	CommandExport = "export"
)

// Workspace objects shared between stages.
const (
	ExtentFeatures  = "extent"
	MaskRaster      = "extent_mask"
	IslandsFeatures = "islands"
	RoadZonal       = "road_zonal"
	IslandZonal     = "island_zonal"
	RoadsRanked     = "roads_ranked"
	TrailsRanked    = "trails_ranked"
)

// Pipeline orchestrates the stages.
type Pipeline struct {
	cfg      *config.Config
	store    workspace.Store
	catalog  indicator.Catalog
	engine   *zonal.Engine
	exporter *export.Exporter
	report   *Report
}

// New creates a Pipeline with all dependencies.
func New(cfg *config.Config, st workspace.Store, catalog indicator.Catalog) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		store:    st,
		catalog:  catalog,
		engine:   zonal.NewEngine(zonal.Disjoint, cfg.Zonal.MaxPasses),
		exporter: export.New(cfg.Export),
		report:   newReport(""),
	}
}

type stage struct {
	name string
	run  func(context.Context) error
}

func (p *Pipeline) stages(command string) ([]stage, bool, error) {
	index := stage{fault.StageIndex, p.index}
	agg := stage{fault.StageAggregate, p.aggregate}
	roads := stage{fault.StageRoads, p.roads}
	islands := stage{fault.StageIslands, p.islands}
	trails := stage{fault.StageTrails, p.trails}
	exp := stage{fault.StageExport, p.export}

	switch command {
	case CommandRun:
		return []stage{index, agg, roads, islands, trails, exp}, true, nil
	case CommandIndex:
		return []stage{index, agg}, true, nil
	case CommandRoads:
		return []stage{roads}, false, nil
	case CommandTrails:
		return []stage{islands, trails}, false, nil
	case CommandExport:
		return []stage{exp}, false, nil
	}
	return nil, false, eris.Errorf("pipeline: unknown command %q", command)
}

// Execute runs command. Commands that start from scratch reset the
// workspace first; a reset failure aborts before any stage runs. The
// report is returned even when a stage fails.
func (p *Pipeline) Execute(ctx context.Context, command string) (*Report, error) {
	stages, reset, err := p.stages(command)
	if err != nil {
		return nil, err
	}
	p.report = newReport(command)
	log := zap.L().With(zap.String("command", command))

	if reset {
		start := time.Now()
		if err := p.store.Reset(ctx); err != nil {
			p.report.addStage(fault.StageReset, start, err)
			log.Error("pipeline: workspace reset failed", zap.Error(err))
			return p.report, eris.Wrap(err, "pipeline: reset")
		}
		p.report.addStage(fault.StageReset, start, nil)
		log.Info("pipeline: workspace reset")
	}

	run, err := p.store.CreateRun(ctx, command)
	if err != nil {
		return p.report, eris.Wrap(err, "pipeline: create run")
	}
	p.report.RunID = run.ID
	log = log.With(zap.String("run_id", run.ID))

	var runErr error
	for _, s := range stages {
		if runErr = p.trackStage(ctx, log, s); runErr != nil {
			break
		}
	}

	status := workspace.RunComplete
	if runErr != nil {
		status = workspace.RunFailed
	}
	p.report.FinishedAt = time.Now().UTC()
	body, err := p.report.JSON()
	if err != nil {
		log.Warn("pipeline: encode report", zap.Error(err))
	}
	// The run record is written even after cancellation.
	if finishErr := p.store.FinishRun(context.WithoutCancel(ctx), run.ID, status, body); finishErr != nil {
		log.Warn("pipeline: failed to finish run", zap.Error(finishErr))
	}

	if runErr != nil {
		return p.report, runErr
	}
	log.Info("pipeline: run complete",
		zap.Int("warnings", len(p.report.Warnings)),
		zap.Strings("outputs", p.report.Outputs),
	)
	return p.report, nil
}

// trackStage runs one stage with start and done logging and records it in
// the report.
func (p *Pipeline) trackStage(ctx context.Context, log *zap.Logger, s stage) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrapf(err, "pipeline: %s", s.name)
	}
	log = log.With(zap.String("stage", s.name))
	log.Info("pipeline: stage start")

	start := time.Now()
	err := s.run(ctx)
	p.report.addStage(s.name, start, err)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		log.Error("pipeline: stage failed", zap.Int64("duration_ms", duration), zap.Error(err))
		return eris.Wrapf(err, "pipeline: %s", s.name)
	}
	log.Info("pipeline: stage done", zap.Int64("duration_ms", duration))
	return nil
}

// require fails with a PreconditionError naming every missing object.
func (p *Pipeline) require(ctx context.Context, stage string, names ...string) error {
	missing, err := workspace.Missing(ctx, p.store, names...)
	if err != nil {
		return eris.Wrapf(err, "pipeline: %s: check inputs", stage)
	}
	if len(missing) > 0 {
		return &fault.PreconditionError{Stage: stage, Missing: missing}
	}
	return nil
}

// discard deletes intermediate objects unless they are to be kept.
func (p *Pipeline) discard(ctx context.Context, names ...string) error {
	if p.cfg.Workspace.KeepIntermediate || len(names) == 0 {
		return nil
	}
	if err := p.store.Delete(ctx, names...); err != nil {
		return eris.Wrap(err, "pipeline: delete intermediates")
	}
	zap.L().Debug("pipeline: deleted intermediates", zap.Strings("names", names))
	return nil
}

// warn records and logs data-quality warnings.
func (p *Pipeline) warn(ws ...fault.Warning) {
	for _, w := range ws {
		if w.Count == 0 && len(w.IDs) > 0 {
			w.Count = len(w.IDs)
		}
		p.report.Warnings = append(p.report.Warnings, w)
		zap.L().Warn("pipeline: data quality",
			zap.String("stage", w.Stage),
			zap.String("dataset", w.Dataset),
			zap.String("message", w.Message),
			zap.Int("count", w.Count),
			zap.Strings("ids", w.IDs),
		)
	}
}
