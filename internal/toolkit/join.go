package toolkit

import (
	"github.com/rotisserie/eris"

	"github.com/bcgp/connectivity-impact/internal/vector"
)

// MergeOp combines the values of one field across all matched join
// features.
type MergeOp string

// Supported merge operations.
const (
	MergeFirst MergeOp = "first"
	MergeSum   MergeOp = "sum"
	MergeCount MergeOp = "count"
	MergeMean  MergeOp = "mean"
	MergeMax   MergeOp = "max"
)

// MergeRule writes Op over join field Field into target attribute Out.
type MergeRule struct {
	Field string
	Out   string
	Op    MergeOp
}

// JoinCountField holds the number of join features matched per target.
const JoinCountField = "Join_Count"

// SpatialJoin is a one-to-many join: every target is matched with each
// join feature lying within radius, and the merge rules collapse the
// matches into attributes. The result is a copy of targets in the same
// order; unmatched targets get a zero Join_Count and no merged values.
func SpatialJoin(targets, joins *vector.FeatureSet, radius float64, rules []MergeRule, name string) (*vector.FeatureSet, error) {
	if targets.CRS != joins.CRS {
		return nil, eris.Errorf("toolkit: spatial join %s to %s: CRS %s and %s differ", targets.Name, joins.Name, targets.CRS, joins.CRS)
	}
	for _, r := range rules {
		switch r.Op {
		case MergeFirst, MergeSum, MergeCount, MergeMean, MergeMax:
		default:
			return nil, eris.Errorf("toolkit: spatial join: unknown merge op %q for %s", r.Op, r.Field)
		}
	}

	out := targets.Clone(name)
	idx := vector.NewIndex(joins)

	for _, t := range out.Features {
		var matched []*vector.Feature
		for _, j := range idx.Search(t.Geometry.Bounds(), radius) {
			if vector.Distance(t.Geometry, j.Geometry) <= radius {
				matched = append(matched, j)
			}
		}

		t.Set(JoinCountField, len(matched))
		for _, r := range rules {
			if v, ok := merge(matched, r); ok {
				t.Set(r.Out, v)
			}
		}
	}
	return out, nil
}

func merge(matched []*vector.Feature, r MergeRule) (any, bool) {
	if r.Op == MergeFirst {
		for _, m := range matched {
			if v, ok := m.Attrs[r.Field]; ok && v != nil {
				return v, true
			}
		}
		return nil, false
	}

	var sum, best float64
	n := 0
	for _, m := range matched {
		v, ok := m.Float(r.Field)
		if !ok {
			continue
		}
		if n == 0 || v > best {
			best = v
		}
		sum += v
		n++
	}

	switch r.Op {
	case MergeCount:
		return float64(n), true
	case MergeSum:
		if n == 0 {
			return nil, false
		}
		return sum, true
	case MergeMean:
		if n == 0 {
			return nil, false
		}
		return sum / float64(n), true
	case MergeMax:
		if n == 0 {
			return nil, false
		}
		return best, true
	}
	return nil, false
}
