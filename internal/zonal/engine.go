// Package zonal computes the mean raster value under every zone of a
// possibly overlapping zone set, using a zonal statistics primitive that
// only handles disjoint zones. Zones the primitive skips are retried in
// later passes until every zone is resolved.
package zonal

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bcgp/connectivity-impact/internal/grid"
	"github.com/bcgp/connectivity-impact/internal/toolkit"
)

// Primitive is a disjoint zonal-mean primitive. It returns one row per zone
// it resolved; zones it could not resolve in this call get no row.
type Primitive interface {
	ZonalMean(r *grid.Raster, zones []toolkit.Zone) ([]toolkit.ZoneStats, error)
}

// PrimitiveFunc adapts a function to Primitive.
type PrimitiveFunc func(r *grid.Raster, zones []toolkit.Zone) ([]toolkit.ZoneStats, error)

// ZonalMean calls f.
func (f PrimitiveFunc) ZonalMean(r *grid.Raster, zones []toolkit.Zone) ([]toolkit.ZoneStats, error) {
	return f(r, zones)
}

// Disjoint is the toolkit's disjoint zonal statistics primitive.
var Disjoint Primitive = PrimitiveFunc(toolkit.ZonalMean)

// State is the phase of the resolution loop.
type State int

const (
	// Unresolved means zones remain to be passed to the primitive.
	Unresolved State = iota
	// ResolvedBatch means a pass just produced a partial table.
	ResolvedBatch
	// Done means every zone has exactly one row.
	Done
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case ResolvedBatch:
		return "resolved_batch"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Row is one resolved zone.
type Row struct {
	ID     string  `json:"id"`
	Pass   int     `json:"pass"`
	Count  int     `json:"count"`
	Area   float64 `json:"area"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	NoData bool    `json:"no_data"`
}

// Batch is the partial table produced by one pass.
type Batch struct {
	Pass int
	Rows []Row
}

// NotConvergedError reports that zones were still unresolved when the pass
// limit was reached or a pass resolved nothing.
type NotConvergedError struct {
	Passes     int
	Unresolved int
	IDs        []string
}

func (e *NotConvergedError) Error() string {
	return fmt.Sprintf("zonal: %d zones unresolved after %d passes", e.Unresolved, e.Passes)
}

// Step runs one pass of the primitive over the unresolved zones. It returns
// the resolved batch and the zones still unresolved, in input order. Rows
// for unknown or repeated zone ids are an error.
func Step(p Primitive, r *grid.Raster, pass int, unresolved []toolkit.Zone) (Batch, []toolkit.Zone, error) {
	stats, err := p.ZonalMean(r, unresolved)
	if err != nil {
		return Batch{}, nil, eris.Wrapf(err, "zonal: pass %d", pass)
	}

	pending := make(map[string]bool, len(unresolved))
	for _, z := range unresolved {
		pending[z.ID] = true
	}

	batch := Batch{Pass: pass, Rows: make([]Row, 0, len(stats))}
	resolved := make(map[string]bool, len(stats))
	for _, s := range stats {
		if !pending[s.ID] {
			return Batch{}, nil, eris.Errorf("zonal: pass %d returned row for unknown zone %q", pass, s.ID)
		}
		if resolved[s.ID] {
			return Batch{}, nil, eris.Errorf("zonal: pass %d returned zone %q twice", pass, s.ID)
		}
		resolved[s.ID] = true
		batch.Rows = append(batch.Rows, Row{
			ID: s.ID, Pass: pass, Count: s.Count, Area: s.Area, Mean: s.Mean, Std: s.Std, NoData: s.NoData,
		})
	}

	still := make([]toolkit.Zone, 0, len(unresolved)-len(resolved))
	for _, z := range unresolved {
		if !resolved[z.ID] {
			still = append(still, z)
		}
	}
	return batch, still, nil
}

// Engine drives Step until every zone is resolved.
type Engine struct {
	primitive Primitive
	maxPasses int
}

// NewEngine returns an Engine that gives up after maxPasses passes.
func NewEngine(p Primitive, maxPasses int) *Engine {
	if p == nil {
		p = Disjoint
	}
	if maxPasses < 1 {
		maxPasses = 1
	}
	return &Engine{primitive: p, maxPasses: maxPasses}
}

// Resolve computes one row per zone. The returned table keeps each pass's
// partial batch alongside the merged rows.
func (e *Engine) Resolve(ctx context.Context, name string, r *grid.Raster, zones []toolkit.Zone) (*Table, error) {
	ids := make([]string, len(zones))
	seen := make(map[string]bool, len(zones))
	for i, z := range zones {
		if seen[z.ID] {
			return nil, eris.Errorf("zonal: %s: duplicate zone id %q", name, z.ID)
		}
		seen[z.ID] = true
		ids[i] = z.ID
	}

	log := zap.L().With(zap.String("zones", name))
	t := &Table{Name: name}
	unresolved := zones
	state := Unresolved
	pass := 0
	if len(unresolved) == 0 {
		state = Done
	}

	for state != Done {
		switch state {
		case Unresolved:
			if err := ctx.Err(); err != nil {
				return nil, eris.Wrapf(err, "zonal: %s", name)
			}
			if pass == e.maxPasses {
				return nil, notConverged(pass, unresolved)
			}
			pass++
			batch, still, err := Step(e.primitive, r, pass, unresolved)
			if err != nil {
				return nil, eris.Wrapf(err, "zonal: %s", name)
			}
			if len(batch.Rows) == 0 {
				return nil, notConverged(pass, unresolved)
			}
			t.Batches = append(t.Batches, batch)
			unresolved = still
			state = ResolvedBatch

			log.Debug("zonal: pass complete",
				zap.Int("pass", pass),
				zap.Int("resolved", len(batch.Rows)),
				zap.Int("remaining", len(unresolved)),
			)
		case ResolvedBatch:
			if len(unresolved) == 0 {
				state = Done
			} else {
				state = Unresolved
			}
		}
	}

	rows, err := Merge(ids, t.Batches)
	if err != nil {
		return nil, eris.Wrapf(err, "zonal: %s", name)
	}
	t.Rows = rows

	log.Info("zonal: resolved",
		zap.Int("zones", len(zones)),
		zap.Int("passes", len(t.Batches)),
		zap.Int("no_data", len(t.NoData())),
	)
	return t, nil
}

func notConverged(passes int, unresolved []toolkit.Zone) *NotConvergedError {
	ids := make([]string, len(unresolved))
	for i, z := range unresolved {
		ids[i] = z.ID
	}
	return &NotConvergedError{Passes: passes, Unresolved: len(unresolved), IDs: ids}
}
