// Package aggregate combines indicator score rasters into the category
// composites and the overall Community Impact Index.
package aggregate

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bcgp/connectivity-impact/internal/config"
	"github.com/bcgp/connectivity-impact/internal/fault"
	"github.com/bcgp/connectivity-impact/internal/grid"
	"github.com/bcgp/connectivity-impact/internal/indicator"
)

// Composite raster names.
const (
	Density        = "density_composite"
	Transportation = "transportation_composite"
	Health         = "health_composite"
	Overall        = "cii_overall"
)

// Input is one weighted raster of a formula.
type Input struct {
	Raster string
	Weight float64
}

// Formula defines one composite as a weighted sum of named rasters.
type Formula struct {
	Name   string
	Inputs []Input
}

// Validate checks that weights are non-negative and sum to one.
func (f Formula) Validate() error {
	if len(f.Inputs) == 0 {
		return eris.Errorf("aggregate: formula %s has no inputs", f.Name)
	}
	sum := 0.0
	for _, in := range f.Inputs {
		if in.Weight < 0 {
			return eris.Errorf("aggregate: formula %s: negative weight %v for %s", f.Name, in.Weight, in.Raster)
		}
		sum += in.Weight
	}
	if math.Abs(sum-1) > 1e-6 {
		return eris.Errorf("aggregate: formula %s: weights sum to %v, not 1", f.Name, sum)
	}
	return nil
}

// Formulas returns the composites in dependency order: the three
// categories, then the overall CII.
func Formulas(w config.WeightsConfig) []Formula {
	score := indicator.ScoreName
	return []Formula{
		{Name: Density, Inputs: []Input{
			{score(indicator.PopulationDensity), w.Density.Population},
			{score(indicator.EmploymentDensity), w.Density.Employment},
		}},
		{Name: Transportation, Inputs: []Input{
			{score(indicator.CircuitTrail), w.Transportation.CircuitTrail},
			{score(indicator.NoVehicle), w.Transportation.NoVehicle},
			{score(indicator.Rail), w.Transportation.Rail},
			{score(indicator.Trolley), w.Transportation.Trolley},
			{score(indicator.Bus), w.Transportation.Bus},
		}},
		{Name: Health, Inputs: []Input{
			{score(indicator.Obesity), w.Health.Obesity},
			{score(indicator.RespiratoryHazard), w.Health.RespiratoryHazard},
		}},
		{Name: Overall, Inputs: []Input{
			{score(indicator.DisadvantageIndex), w.Overall.Disadvantage},
			{Density, w.Overall.Density},
			{Transportation, w.Overall.Transportation},
			{Health, w.Overall.Health},
		}},
	}
}

// ScoreInputs returns the indicator score rasters the formulas read.
func ScoreInputs(formulas []Formula) []string {
	produced := make(map[string]bool, len(formulas))
	for _, f := range formulas {
		produced[f.Name] = true
	}
	var out []string
	for _, f := range formulas {
		for _, in := range f.Inputs {
			if !produced[in.Raster] {
				out = append(out, in.Raster)
			}
		}
	}
	return out
}

// Aggregator evaluates composite formulas on one grid.
type Aggregator struct {
	grid     grid.Grid
	mask     grid.Mask
	fill     grid.Fill
	formulas []Formula
}

// New validates the formulas and returns an Aggregator. When hole filling
// is enabled the mask keeps cells outside the extent as no-data.
func New(g grid.Grid, mask grid.Mask, cfg config.AggregateConfig, formulas []Formula) (*Aggregator, error) {
	for _, f := range formulas {
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}
	return &Aggregator{
		grid:     g,
		mask:     mask,
		fill:     grid.Fill{Enabled: cfg.FillNoData, Value: cfg.FillValue},
		formulas: formulas,
	}, nil
}

// Run computes every composite from scores, keyed by raster name. Inputs
// are never modified. The result lists composites in formula order.
func (a *Aggregator) Run(scores map[string]*grid.Raster) ([]*grid.Raster, error) {
	available := make(map[string]*grid.Raster, len(scores)+len(a.formulas))
	for name, r := range scores {
		available[name] = r
	}

	var missing []string
	for _, name := range ScoreInputs(a.formulas) {
		if available[name] == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &fault.PreconditionError{Stage: fault.StageAggregate, Missing: missing}
	}

	log := zap.L().With(zap.String("stage", fault.StageAggregate))
	out := make([]*grid.Raster, 0, len(a.formulas))
	for _, f := range a.formulas {
		terms := make([]grid.Term, len(f.Inputs))
		for i, in := range f.Inputs {
			terms[i] = grid.Term{Raster: available[in.Raster], Weight: in.Weight}
		}
		r, err := grid.WeightedSum(f.Name, a.grid, a.fill, terms...)
		if err != nil {
			return nil, eris.Wrapf(err, "aggregate: %s", f.Name)
		}
		if a.fill.Enabled {
			if err := r.ApplyMask(a.mask); err != nil {
				return nil, eris.Wrapf(err, "aggregate: mask %s", f.Name)
			}
		}
		available[f.Name] = r
		out = append(out, r)

		lo, hi, _ := r.Range()
		log.Info("aggregate: composite computed",
			zap.String("raster", f.Name),
			zap.Int("cells", r.Count()),
			zap.Float64("min", lo),
			zap.Float64("max", hi),
		)
	}
	return out, nil
}
