package indicator

import (
	"context"
	"math"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bcgp/connectivity-impact/internal/classify"
	"github.com/bcgp/connectivity-impact/internal/fault"
	"github.com/bcgp/connectivity-impact/internal/grid"
	"github.com/bcgp/connectivity-impact/internal/toolkit"
	"github.com/bcgp/connectivity-impact/internal/vector"
)

// MaxScore is the highest ordinal score; scores run 1..MaxScore.
const MaxScore = 20

// Output is the result of normalizing one indicator.
type Output struct {
	ID string
	// Measure is the real-valued indicator raster.
	Measure *grid.Raster
	// Score is the classified raster with values 1..MaxScore.
	Score *grid.Raster
	// Breaks holds the natural-breaks upper bounds, nil for band tables.
	Breaks   []float64
	Warnings []fault.Warning
}

// MeasureName and ScoreName name the rasters an indicator produces.
func MeasureName(id string) string { return id + "_measure" }

// ScoreName names the score raster of indicator id.
func ScoreName(id string) string { return id + "_score" }

// Derivation is one strategy for turning a descriptor into rasters.
type Derivation interface {
	// Measure produces the real-valued indicator raster.
	Measure(ctx context.Context, n *Normalizer, d Descriptor) (*grid.Raster, []fault.Warning, error)
	// Classify scores the measure.
	Classify(n *Normalizer, d Descriptor, measure *grid.Raster) (*grid.Raster, []float64, []fault.Warning, error)
}

// DerivationFor returns the strategy for p.
func DerivationFor(p Pattern) (Derivation, error) {
	switch p {
	case PatternDensity:
		return densityDerivation{}, nil
	case PatternDistance:
		return distanceDerivation{}, nil
	case PatternPassthrough:
		return passthroughDerivation{}, nil
	}
	return nil, eris.Errorf("indicator: unknown pattern %q", p)
}

// Options configures a Normalizer.
type Options struct {
	DataDir   string
	Classes   int
	MaxSample int
	// DistancePad is how far beyond the grid edge, in CRS units, distance
	// sources are still considered.
	DistancePad float64
}

// Normalizer produces score rasters on one analysis grid.
type Normalizer struct {
	env    *toolkit.Env
	extent *vector.FeatureSet
	opts   Options
}

// NewNormalizer returns a Normalizer for env, restricting polygon sources
// to extent.
func NewNormalizer(env *toolkit.Env, extent *vector.FeatureSet, opts Options) *Normalizer {
	if opts.Classes <= 0 {
		opts.Classes = MaxScore
	}
	return &Normalizer{env: env, extent: extent, opts: opts}
}

// Env returns the raster environment.
func (n *Normalizer) Env() *toolkit.Env { return n.env }

// Normalize derives the measure and score rasters for d.
func (n *Normalizer) Normalize(ctx context.Context, d Descriptor) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "indicator: normalize")
	}
	if err := d.Validate(); err != nil {
		return nil, fault.NewDataError(fault.StageIndex, d.ID, err)
	}
	strategy, err := DerivationFor(d.Pattern)
	if err != nil {
		return nil, fault.NewDataError(fault.StageIndex, d.ID, err)
	}

	log := zap.L().With(zap.String("stage", fault.StageIndex), zap.String("indicator", d.ID))

	measure, warnings, err := strategy.Measure(ctx, n, d)
	if err != nil {
		return nil, err
	}
	if measure.Count() == 0 {
		return nil, fault.NewDataError(fault.StageIndex, d.ID, eris.New("measure raster has no data cells inside the extent"))
	}

	score, breaks, more, err := strategy.Classify(n, d, measure)
	if err != nil {
		return nil, fault.NewDataError(fault.StageIndex, d.ID, err)
	}
	warnings = append(warnings, more...)
	if err := n.env.Grid.CheckAligned(measure, score); err != nil {
		return nil, eris.Wrapf(err, "indicator: %s", d.ID)
	}

	for _, w := range warnings {
		log.Warn("indicator: data quality",
			zap.String("dataset", w.Dataset),
			zap.String("message", w.Message),
			zap.Int("count", w.Count),
			zap.Strings("ids", w.IDs),
		)
	}
	log.Info("indicator: normalized",
		zap.String("pattern", string(d.Pattern)),
		zap.Int("cells", score.Count()),
		zap.Int("classes", len(breaks)),
	)

	return &Output{ID: d.ID, Measure: measure, Score: score, Breaks: breaks, Warnings: warnings}, nil
}

// resolve makes a source path absolute against the data directory.
func (n *Normalizer) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || n.opts.DataDir == "" {
		return path
	}
	return filepath.Join(n.opts.DataDir, path)
}

// loadFeatures reads a vector source and reprojects it onto the grid CRS.
func (n *Normalizer) loadFeatures(d Descriptor) (*vector.FeatureSet, error) {
	path := n.resolve(d.Source)
	if _, err := os.Stat(path); err != nil {
		return nil, fault.NewDataError(fault.StageIndex, d.ID, eris.Wrapf(err, "source %s", path))
	}
	crs := d.SourceCRS
	if crs == "" {
		crs = n.env.Grid.CRS
	}
	fs, err := vector.ReadShapefile(path, d.ID, crs, "")
	if err != nil {
		return nil, fault.NewDataError(fault.StageIndex, d.ID, err)
	}
	if fs.Len() == 0 {
		return nil, fault.NewDataError(fault.StageIndex, d.ID, eris.Errorf("source %s has no features", path))
	}
	projected, err := vector.Reproject(fs, n.env.Grid.CRS)
	if err != nil {
		return nil, fault.NewDataError(fault.StageIndex, d.ID, err)
	}
	return projected, nil
}

// naturalBreaks classifies measure into at most Classes scores.
func (n *Normalizer) naturalBreaks(d Descriptor, measure *grid.Raster) (*grid.Raster, []float64, []fault.Warning, error) {
	score, breaks, err := classify.NaturalBreaks(measure, n.opts.Classes, n.opts.MaxSample, ScoreName(d.ID))
	if err != nil {
		return nil, nil, nil, err
	}
	var warnings []fault.Warning
	if len(breaks) < n.opts.Classes {
		warnings = append(warnings, fault.Warning{
			Stage:   fault.StageIndex,
			Dataset: d.ID,
			Message: "fewer distinct values than classes; scores use fewer classes",
			Count:   len(breaks),
		})
	}
	return score, breaks, warnings, nil
}

// squareKilometres converts an area in square metres.
func squareKilometres(area float64) float64 {
	return area / 1e6
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
