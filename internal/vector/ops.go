package vector

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Filter returns the features for which keep returns true, preserving
// order. The returned set shares features with fs.
func Filter(fs *FeatureSet, name string, keep func(*Feature) bool) *FeatureSet {
	out := &FeatureSet{Name: name, CRS: fs.CRS}
	for _, f := range fs.Features {
		if keep(f) {
			out.Features = append(out.Features, f)
		}
	}
	return out
}

// Dissolve merges features sharing the same value of field into one
// multi-part feature whose ID is that value. Features with an empty value
// are dropped. Output is ordered by first appearance.
func Dissolve(fs *FeatureSet, name, field string) (*FeatureSet, error) {
	type group struct {
		lines *geom.MultiLineString
		polys *geom.MultiPolygon
		attrs map[string]any
	}
	groups := map[string]*group{}
	var order []string

	for _, f := range fs.Features {
		key := Key(f.Attrs[field])
		if key == "" {
			continue
		}
		g, ok := groups[key]
		if !ok {
			g = &group{attrs: map[string]any{field: f.Attrs[field]}}
			groups[key] = g
			order = append(order, key)
		}

		switch t := f.Geometry.(type) {
		case *geom.LineString:
			if err := pushLine(&g.lines, t); err != nil {
				return nil, eris.Wrapf(err, "vector: dissolve %s", key)
			}
		case *geom.MultiLineString:
			for i := 0; i < t.NumLineStrings(); i++ {
				if err := pushLine(&g.lines, t.LineString(i)); err != nil {
					return nil, eris.Wrapf(err, "vector: dissolve %s", key)
				}
			}
		case *geom.Polygon, *geom.MultiPolygon:
			for _, p := range polygons(t) {
				if g.polys == nil {
					g.polys = geom.NewMultiPolygon(geom.XY)
				}
				if err := g.polys.Push(p); err != nil {
					return nil, eris.Wrapf(err, "vector: dissolve %s", key)
				}
			}
		default:
			return nil, eris.Errorf("vector: dissolve %s: unsupported geometry %T", key, f.Geometry)
		}
	}

	out := &FeatureSet{Name: name, CRS: fs.CRS}
	for _, key := range order {
		g := groups[key]
		if g.lines != nil && g.polys != nil {
			return nil, eris.Errorf("vector: dissolve %s: mixed line and polygon parts", key)
		}
		var merged geom.T = g.polys
		if g.lines != nil {
			merged = g.lines
		}
		out.Features = append(out.Features, &Feature{ID: key, Geometry: merged, Attrs: g.attrs})
	}
	return out, nil
}

func pushLine(dst **geom.MultiLineString, ls *geom.LineString) error {
	if *dst == nil {
		*dst = geom.NewMultiLineString(geom.XY)
	}
	return (*dst).Push(ls)
}

// Intersecting returns the features of fs that intersect any feature of
// extent.
func Intersecting(fs, extent *FeatureSet, name string) *FeatureSet {
	idx := NewIndex(extent)
	return Filter(fs, name, func(f *Feature) bool {
		for _, e := range idx.Search(f.Geometry.Bounds(), 0) {
			if Intersects(f.Geometry, e.Geometry) {
				return true
			}
		}
		return false
	})
}

// AssignRegions sets outField on every feature of fs to the regionField
// value of the region polygon containing the feature's centroid. Features
// whose centroid falls in no region are returned as unassigned.
func AssignRegions(fs, regions *FeatureSet, regionField, outField string) ([]string, error) {
	idx := NewIndex(regions)
	var unassigned []string
	for _, f := range fs.Features {
		x, y, err := Centroid(f.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "vector: assign region to %s", f.ID)
		}
		region := ""
		for _, r := range idx.SearchPoint(x, y) {
			if ContainsPoint(r.Geometry, x, y) {
				region = r.String(regionField)
				break
			}
		}
		if region == "" {
			unassigned = append(unassigned, f.ID)
			continue
		}
		f.Set(outField, region)
	}
	sort.Strings(unassigned)
	return unassigned, nil
}

// Regions returns the sorted distinct values of field across fs.
func Regions(fs *FeatureSet, field string) []string {
	seen := map[string]struct{}{}
	for _, f := range fs.Features {
		if v := f.String(field); v != "" {
			seen[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// WithinExtent keeps the features whose centroid lies inside any polygon of
// extent. Features without a computable centroid are dropped.
func WithinExtent(fs, extent *FeatureSet, name string) *FeatureSet {
	idx := NewIndex(extent)
	return Filter(fs, name, func(f *Feature) bool {
		x, y, err := Centroid(f.Geometry)
		if err != nil {
			return false
		}
		for _, e := range idx.SearchPoint(x, y) {
			if ContainsPoint(e.Geometry, x, y) {
				return true
			}
		}
		return false
	})
}
