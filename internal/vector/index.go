package vector

import (
	cgeom "github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/ctessum/geom/proj"
	"github.com/twpayne/go-geom"
)

// Index is a bounding-box R-tree over the features of one set.
type Index struct {
	fs   *FeatureSet
	tree *rtree.Rtree
}

type entry struct {
	b *cgeom.Bounds
	i int
}

func (e *entry) Bounds() *cgeom.Bounds { return e.b }

func (e *entry) Similar(g cgeom.Geom, tolerance float64) bool { return e.b.Similar(g, tolerance) }

func (e *entry) Transform(t proj.Transformer) (cgeom.Geom, error) { return e.b.Transform(t) }

func (e *entry) Len() int { return e.b.Len() }

func (e *entry) Points() func() cgeom.Point { return e.b.Points() }

// NewIndex builds an index over fs. Features without a geometry, or with an
// empty one, are never returned by searches.
func NewIndex(fs *FeatureSet) *Index {
	tree := rtree.NewTree(25, 50)
	for i, f := range fs.Features {
		if f.Geometry == nil {
			continue
		}
		b := f.Geometry.Bounds()
		if b.IsEmpty() {
			continue
		}
		tree.Insert(&entry{b: box(b.Min(0), b.Min(1), b.Max(0), b.Max(1)), i: i})
	}
	return &Index{fs: fs, tree: tree}
}

// Search returns the features whose bounds overlap b expanded by pad on
// every side, in set order.
func (x *Index) Search(b *geom.Bounds, pad float64) []*Feature {
	if b == nil || b.IsEmpty() {
		return nil
	}
	return x.search(box(b.Min(0)-pad, b.Min(1)-pad, b.Max(0)+pad, b.Max(1)+pad))
}

// SearchPoint returns the features whose bounds contain (x, y), in set order.
func (x *Index) SearchPoint(px, py float64) []*Feature {
	return x.search(box(px, py, px, py))
}

func (x *Index) search(b *cgeom.Bounds) []*Feature {
	hits := x.tree.SearchIntersect(b)
	if len(hits) == 0 {
		return nil
	}
	idx := make([]bool, len(x.fs.Features))
	for _, h := range hits {
		idx[h.(*entry).i] = true
	}
	out := make([]*Feature, 0, len(hits))
	for i, ok := range idx {
		if ok {
			out = append(out, x.fs.Features[i])
		}
	}
	return out
}

func box(minX, minY, maxX, maxY float64) *cgeom.Bounds {
	return &cgeom.Bounds{
		Min: cgeom.Point{X: minX, Y: minY},
		Max: cgeom.Point{X: maxX, Y: maxY},
	}
}
