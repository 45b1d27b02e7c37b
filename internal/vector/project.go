package vector

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ctessum/geom/proj"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Projection is a supported coordinate reference system: geographic
// longitude/latitude, or a Transverse Mercator UTM zone.
type Projection struct {
	Code       string
	Geographic bool
	Zone       int
	Northern   bool
	// Datum is NAD83 or WGS84.
	Datum string
}

// ParseCRS recognises geographic codes (EPSG:4326, EPSG:4269) and UTM zones
// on NAD83 (EPSG:269zz) or WGS84 (EPSG:326zz north, EPSG:327zz south).
func ParseCRS(code string) (Projection, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	num, ok := strings.CutPrefix(c, "EPSG:")
	if !ok {
		return Projection{}, eris.Errorf("vector: unsupported CRS %q", code)
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return Projection{}, eris.Wrapf(err, "vector: parse CRS %q", code)
	}

	switch {
	case n == 4326:
		return Projection{Code: c, Geographic: true, Datum: "WGS84"}, nil
	case n == 4269:
		return Projection{Code: c, Geographic: true, Datum: "NAD83"}, nil
	case n >= 26901 && n <= 26923:
		return Projection{Code: c, Zone: n - 26900, Northern: true, Datum: "NAD83"}, nil
	case n >= 32601 && n <= 32660:
		return Projection{Code: c, Zone: n - 32600, Northern: true, Datum: "WGS84"}, nil
	case n >= 32701 && n <= 32760:
		return Projection{Code: c, Zone: n - 32700, Datum: "WGS84"}, nil
	}
	return Projection{}, eris.Errorf("vector: unsupported CRS %q", code)
}

// Proj4 returns the proj4 definition of p. A UTM zone always projects on
// its own central meridian, including coordinates outside the zone.
func (p Projection) Proj4() string {
	if p.Geographic {
		return fmt.Sprintf("+proj=longlat +datum=%s +no_defs", p.Datum)
	}
	def := fmt.Sprintf("+proj=utm +zone=%d +datum=%s +units=m +no_defs", p.Zone, p.Datum)
	if !p.Northern {
		def += " +south"
	}
	return def
}

// Transformer returns the coordinate transform from p into q.
func (p Projection) Transformer(q Projection) (proj.Transformer, error) {
	src, err := proj.Parse(p.Proj4())
	if err != nil {
		return nil, eris.Wrapf(err, "vector: parse %s", p.Code)
	}
	dst, err := proj.Parse(q.Proj4())
	if err != nil {
		return nil, eris.Wrapf(err, "vector: parse %s", q.Code)
	}
	t, err := src.NewTransform(dst)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: transform %s to %s", p.Code, q.Code)
	}
	return t, nil
}

// Reproject returns a copy of fs with every geometry transformed into
// target. Attributes are copied; a set already in target is cloned as is.
func Reproject(fs *FeatureSet, target string) (*FeatureSet, error) {
	out := fs.Clone(fs.Name)
	out.CRS = target
	if strings.EqualFold(fs.CRS, target) {
		return out, nil
	}

	from, err := ParseCRS(fs.CRS)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: reproject %s", fs.Name)
	}
	to, err := ParseCRS(target)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: reproject %s", fs.Name)
	}

	t, err := from.Transformer(to)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: reproject %s", fs.Name)
	}

	for _, f := range out.Features {
		g, err := transform(f.Geometry, t)
		if err != nil {
			return nil, eris.Wrapf(err, "vector: reproject %s feature %s", fs.Name, f.ID)
		}
		f.Geometry = g
	}
	return out, nil
}

// transform applies fn to every XY coordinate of a clone of g.
func transform(g geom.T, fn func(x, y float64) (float64, float64, error)) (geom.T, error) {
	var clone geom.T
	switch t := g.(type) {
	case *geom.Point:
		clone = t.Clone()
	case *geom.MultiPoint:
		clone = t.Clone()
	case *geom.LineString:
		clone = t.Clone()
	case *geom.MultiLineString:
		clone = t.Clone()
	case *geom.Polygon:
		clone = t.Clone()
	case *geom.MultiPolygon:
		clone = t.Clone()
	default:
		return nil, eris.Errorf("vector: cannot transform %T", g)
	}

	flat := clone.FlatCoords()
	stride := clone.Stride()
	for i := 0; i+1 < len(flat); i += stride {
		x, y, err := fn(flat[i], flat[i+1])
		if err != nil {
			return nil, err
		}
		flat[i], flat[i+1] = x, y
	}
	return clone, nil
}
