package vector

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// shapeReader is satisfied by both *shp.Reader and *shp.ZipReader.
type shapeReader interface {
	Next() bool
	Shape() (int, shp.Shape)
	Attribute(n int) string
	Fields() []shp.Field
	Err() error
	Close() error
}

func openShapes(path string) (shapeReader, error) {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return shp.OpenZip(path)
	}
	return shp.Open(path)
}

// ReadShapefile loads a .shp (or a .zip holding exactly one shapefile) into
// a FeatureSet tagged with crs. When idField is set its value becomes the
// feature ID; otherwise the record number is used. Records with null or
// unsupported geometry are skipped.
func ReadShapefile(path, name, crs, idField string) (*FeatureSet, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "vector: open shapefile %s", path)
	}
	reader, err := openShapes(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}

	fs := &FeatureSet{Name: name, CRS: crs}
	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()

		g := ShapeToGeom(shape)
		if g == nil {
			skipped++
			continue
		}

		attrs := make(map[string]any, len(fields))
		for i, f := range fields {
			attrs[names[i]] = parseAttribute(f, reader.Attribute(i))
		}

		id := strconv.Itoa(n)
		if idField != "" {
			v, ok := attrs[idField]
			if !ok {
				return nil, eris.Errorf("vector: shapefile %s has no field %q", path, idField)
			}
			id = Key(v)
		}
		fs.Features = append(fs.Features, &Feature{ID: id, Geometry: g, Attrs: attrs})
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "vector: read shapefile %s", path)
	}

	if skipped > 0 {
		zap.L().Debug("vector: skipped shapefile records",
			zap.String("dataset", name),
			zap.Int("skipped", skipped),
		)
	}
	return fs, nil
}

func parseAttribute(f shp.Field, raw string) any {
	val := strings.TrimSpace(strings.TrimRight(raw, "\x00"))
	if val == "" {
		return nil
	}
	switch f.Fieldtype {
	case 'N', 'F':
		if x, err := strconv.ParseFloat(val, 64); err == nil {
			return x
		}
		return nil
	case 'L':
		switch strings.ToUpper(val) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		}
		return nil
	}
	return val
}

// ShapeToGeom converts a go-shp shape to a go-geom geometry in XY layout.
// Polygons become MultiPolygons with holes attached to the preceding outer
// ring; polylines become MultiLineStrings. Nil is returned for null or
// unsupported shapes.
func ShapeToGeom(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointZ:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointM:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.MultiPoint:
		return multiPoint(s.Points)
	case *shp.MultiPointZ:
		return multiPoint(s.Points)
	case *shp.PolyLine:
		return multiLineString(s.Parts, s.Points)
	case *shp.PolyLineZ:
		return multiLineString(s.Parts, s.Points)
	case *shp.PolyLineM:
		return multiLineString(s.Parts, s.Points)
	case *shp.Polygon:
		return multiPolygon(s.Parts, s.Points)
	case *shp.PolygonZ:
		return multiPolygon(s.Parts, s.Points)
	case *shp.PolygonM:
		return multiPolygon(s.Parts, s.Points)
	}
	return nil
}

func multiPoint(points []shp.Point) geom.T {
	if len(points) == 0 {
		return nil
	}
	return geom.NewMultiPointFlat(geom.XY, flatPoints(points))
}

// partRanges splits a flat point slice into its parts.
func partRanges(parts []int32, n int) [][2]int {
	out := make([][2]int, 0, len(parts))
	for i, start := range parts {
		end := n
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if int(start) >= end || end > n {
			continue
		}
		out = append(out, [2]int{int(start), end})
	}
	return out
}

func multiLineString(parts []int32, points []shp.Point) geom.T {
	if len(parts) == 0 || len(points) == 0 {
		return nil
	}

	mls := geom.NewMultiLineString(geom.XY)
	for i, r := range partRanges(parts, len(points)) {
		ls := geom.NewLineStringFlat(geom.XY, flatPoints(points[r[0]:r[1]]))
		if err := mls.Push(ls); err != nil {
			zap.L().Debug("vector: skipping malformed linestring part", zap.Int("part", i), zap.Error(err))
		}
	}
	if mls.NumLineStrings() == 0 {
		return nil
	}
	return mls
}

func multiPolygon(parts []int32, points []shp.Point) geom.T {
	if len(parts) == 0 || len(points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY)
	var current *geom.Polygon
	flush := func() {
		if current == nil {
			return
		}
		if err := mp.Push(current); err != nil {
			zap.L().Debug("vector: skipping malformed polygon", zap.Error(err))
		}
		current = nil
	}

	for _, r := range partRanges(parts, len(points)) {
		flat := flatPoints(points[r[0]:r[1]])
		ring := geom.NewLinearRingFlat(geom.XY, flat)
		// Shapefile outer rings are clockwise; holes are counter-clockwise.
		if current == nil || signedArea(flat) <= 0 {
			flush()
			current = geom.NewPolygon(geom.XY)
		}
		if err := current.Push(ring); err != nil {
			zap.L().Debug("vector: skipping malformed polygon ring", zap.Error(err))
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

func flatPoints(points []shp.Point) []float64 {
	flat := make([]float64, 0, len(points)*2)
	for _, p := range points {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}

// signedArea is the shoelace area of a flat XY ring: positive for
// counter-clockwise rings.
func signedArea(flat []float64) float64 {
	var a float64
	n := len(flat) / 2
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		a += flat[2*i]*flat[2*j+1] - flat[2*j]*flat[2*i+1]
	}
	return a / 2
}

// FieldKind is the DBF column type of an exported attribute.
type FieldKind int

// Supported DBF column kinds.
const (
	FieldString FieldKind = iota
	FieldFloat
	FieldInt
)

// FieldSpec describes one DBF column written by WriteShapefile.
type FieldSpec struct {
	Name      string
	Kind      FieldKind
	Size      uint8
	Precision uint8
}

func (s FieldSpec) dbf() shp.Field {
	name := s.Name
	if len(name) > 10 {
		name = name[:10]
	}
	switch s.Kind {
	case FieldFloat:
		return shp.FloatField(name, s.Size, s.Precision)
	case FieldInt:
		return shp.NumberField(name, s.Size)
	}
	return shp.StringField(name, s.Size)
}

// WriteShapefile writes fs to path (.shp, .shx and .dbf) with the listed
// attribute columns. All features must share one geometry family.
func WriteShapefile(path string, fs *FeatureSet, fields []FieldSpec) error {
	if len(fs.Features) == 0 {
		return eris.Errorf("vector: write shapefile %s: no features", path)
	}

	shapeType, err := shapeTypeOf(fs.Features[0].Geometry)
	if err != nil {
		return eris.Wrapf(err, "vector: write shapefile %s", path)
	}

	base := strings.TrimSuffix(path, filepath.Ext(path))
	w, err := shp.Create(base+".shp", shapeType)
	if err != nil {
		return eris.Wrapf(err, "vector: create shapefile %s", path)
	}

	dbfFields := make([]shp.Field, len(fields))
	for i, f := range fields {
		dbfFields[i] = f.dbf()
	}
	if err := w.SetFields(dbfFields); err != nil {
		w.Close()
		return eris.Wrapf(err, "vector: set fields %s", path)
	}

	for _, f := range fs.Features {
		shape, err := GeomToShape(f.Geometry)
		if err != nil {
			w.Close()
			return eris.Wrapf(err, "vector: write feature %s", f.ID)
		}
		row := int(w.Write(shape))
		for i, spec := range fields {
			if err := w.WriteAttribute(row, i, attributeValue(f, spec)); err != nil {
				w.Close()
				return eris.Wrapf(err, "vector: write attribute %s of feature %s", spec.Name, f.ID)
			}
		}
	}
	w.Close()

	// go-shp names the table "<base>dbf"; move it next to the .shp.
	if _, err := os.Stat(base + "dbf"); err == nil {
		if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
			return eris.Wrapf(err, "vector: rename dbf for %s", path)
		}
	}
	return nil
}

func attributeValue(f *Feature, spec FieldSpec) any {
	switch spec.Kind {
	case FieldFloat:
		v, _ := f.Float(spec.Name)
		return v
	case FieldInt:
		v, _ := f.Float(spec.Name)
		return int(v)
	}
	s := f.String(spec.Name)
	if len(s) > int(spec.Size) {
		s = s[:spec.Size]
	}
	return s
}

func shapeTypeOf(g geom.T) (shp.ShapeType, error) {
	switch g.(type) {
	case *geom.Point:
		return shp.POINT, nil
	case *geom.MultiPoint:
		return shp.MULTIPOINT, nil
	case *geom.LineString, *geom.MultiLineString:
		return shp.POLYLINE, nil
	case *geom.Polygon, *geom.MultiPolygon:
		return shp.POLYGON, nil
	}
	return shp.NULL, eris.Errorf("unsupported geometry %T", g)
}

// GeomToShape converts a go-geom geometry back to its shapefile form.
func GeomToShape(g geom.T) (shp.Shape, error) {
	switch t := g.(type) {
	case *geom.Point:
		return &shp.Point{X: t.X(), Y: t.Y()}, nil
	case *geom.MultiPoint:
		pts := coordsToPoints(t.FlatCoords(), t.Stride())
		return &shp.MultiPoint{Box: shp.BBoxFromPoints(pts), NumPoints: int32(len(pts)), Points: pts}, nil
	case *geom.LineString:
		return shp.NewPolyLine([][]shp.Point{coordsToPoints(t.FlatCoords(), t.Stride())}), nil
	case *geom.MultiLineString:
		parts := make([][]shp.Point, 0, t.NumLineStrings())
		for i := 0; i < t.NumLineStrings(); i++ {
			ls := t.LineString(i)
			parts = append(parts, coordsToPoints(ls.FlatCoords(), ls.Stride()))
		}
		return shp.NewPolyLine(parts), nil
	case *geom.Polygon:
		pl := shp.NewPolyLine(polygonParts(t))
		poly := shp.Polygon(*pl)
		return &poly, nil
	case *geom.MultiPolygon:
		var parts [][]shp.Point
		for i := 0; i < t.NumPolygons(); i++ {
			parts = append(parts, polygonParts(t.Polygon(i))...)
		}
		pl := shp.NewPolyLine(parts)
		poly := shp.Polygon(*pl)
		return &poly, nil
	}
	return nil, eris.Errorf("vector: unsupported geometry %T", g)
}

// polygonParts returns the rings of p with the outer ring clockwise and
// holes counter-clockwise.
func polygonParts(p *geom.Polygon) [][]shp.Point {
	parts := make([][]shp.Point, 0, p.NumLinearRings())
	for i := 0; i < p.NumLinearRings(); i++ {
		r := p.LinearRing(i)
		flat := r.FlatCoords()
		pts := coordsToPoints(flat, r.Stride())
		ccw := signedArea(flattenXY(flat, r.Stride())) > 0
		if (i == 0 && ccw) || (i > 0 && !ccw) {
			for a, b := 0, len(pts)-1; a < b; a, b = a+1, b-1 {
				pts[a], pts[b] = pts[b], pts[a]
			}
		}
		parts = append(parts, pts)
	}
	return parts
}

func coordsToPoints(flat []float64, stride int) []shp.Point {
	pts := make([]shp.Point, 0, len(flat)/stride)
	for i := 0; i+1 < len(flat); i += stride {
		pts = append(pts, shp.Point{X: flat[i], Y: flat[i+1]})
	}
	return pts
}

func flattenXY(flat []float64, stride int) []float64 {
	if stride == 2 {
		return flat
	}
	out := make([]float64, 0, len(flat)/stride*2)
	for i := 0; i+1 < len(flat); i += stride {
		out = append(out, flat[i], flat[i+1])
	}
	return out
}
