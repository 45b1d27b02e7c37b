// Package vector holds the in-memory feature model used by the pipeline and
// the geometry helpers that operate on it: shapefile I/O, reprojection,
// dissolve, region assignment and point-to-geometry distances.
package vector

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
)

// Feature is one geometry with its attribute record.
type Feature struct {
	ID       string
	Geometry geom.T
	Attrs    map[string]any
}

// FeatureSet is a named collection of features in a single CRS.
type FeatureSet struct {
	Name     string
	CRS      string
	Features []*Feature
}

// Len returns the number of features.
func (fs *FeatureSet) Len() int {
	return len(fs.Features)
}

// Bounds returns the combined bounds of every feature.
func (fs *FeatureSet) Bounds() *geom.Bounds {
	b := geom.NewBounds(geom.XY)
	for _, f := range fs.Features {
		if f.Geometry != nil {
			b.Extend(f.Geometry)
		}
	}
	return b
}

// Lookup returns the feature with the given ID.
func (fs *FeatureSet) Lookup(id string) (*Feature, bool) {
	for _, f := range fs.Features {
		if f.ID == id {
			return f, true
		}
	}
	return nil, false
}

// Fields returns the sorted union of attribute names.
func (fs *FeatureSet) Fields() []string {
	seen := map[string]struct{}{}
	for _, f := range fs.Features {
		for k := range f.Attrs {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a copy whose features and attribute maps can be modified
// without touching fs. Geometries are shared.
func (fs *FeatureSet) Clone(name string) *FeatureSet {
	out := &FeatureSet{Name: name, CRS: fs.CRS, Features: make([]*Feature, len(fs.Features))}
	for i, f := range fs.Features {
		attrs := make(map[string]any, len(f.Attrs))
		for k, v := range f.Attrs {
			attrs[k] = v
		}
		out.Features[i] = &Feature{ID: f.ID, Geometry: f.Geometry, Attrs: attrs}
	}
	return out
}

// Set stores an attribute value.
func (f *Feature) Set(key string, v any) {
	if f.Attrs == nil {
		f.Attrs = map[string]any{}
	}
	f.Attrs[key] = v
}

// Float returns attribute key as a float64. ok is false when the attribute
// is missing, empty or not numeric.
func (f *Feature) Float(key string) (float64, bool) {
	v, present := f.Attrs[key]
	if !present || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		x, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return x, true
	}
	return 0, false
}

// String returns attribute key formatted as a string, or "" when absent.
func (f *Feature) String(key string) string {
	v, present := f.Attrs[key]
	if !present || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// Key normalizes an attribute value for use as a join key: numeric strings
// such as "12.0" and 12 both become "12".
func Key(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		s := strings.TrimSpace(n)
		if x, err := strconv.ParseFloat(s, 64); err == nil {
			return strconv.FormatFloat(x, 'f', -1, 64)
		}
		return s
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	}
	return fmt.Sprint(v)
}
