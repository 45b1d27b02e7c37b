package export

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/bcgp/connectivity-impact/internal/ranking"
	"github.com/bcgp/connectivity-impact/internal/vector"
)

// GeoJSONCRS is the CRS GeoJSON output is reprojected to.
const GeoJSONCRS = "EPSG:4326"

// WriteGeoJSON writes fs as a FeatureCollection in geographic coordinates.
func WriteGeoJSON(w io.Writer, fs *vector.FeatureSet) error {
	ll, err := vector.Reproject(fs, GeoJSONCRS)
	if err != nil {
		return eris.Wrap(err, "export: geojson")
	}

	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, len(ll.Features))}
	for i, f := range ll.Features {
		fc.Features[i] = &geojson.Feature{ID: f.ID, Geometry: f.Geometry, Properties: f.Attrs}
	}

	enc := json.NewEncoder(w)
	return eris.Wrap(enc.Encode(fc), "export: encode geojson")
}

// shpFields maps ranking columns to DBF-safe names.
var shpFields = map[string]vector.FieldSpec{
	ranking.FieldRank:              {Name: "Rank", Kind: vector.FieldInt, Size: 10},
	ranking.FieldID:                {Name: "ID", Kind: vector.FieldString, Size: 32},
	ranking.FieldRegion:            {Name: "Region", Kind: vector.FieldString, Size: 32},
	ranking.FieldCII:               {Name: "CII_Score", Kind: vector.FieldFloat, Size: 18, Precision: 6},
	ranking.FieldConnectivity:      {Name: "Connect", Kind: vector.FieldFloat, Size: 18, Precision: 6},
	ranking.FieldConnectivityScore: {Name: "Conn_Score", Kind: vector.FieldFloat, Size: 18, Precision: 6},
	ranking.FieldOverall:           {Name: "Overall", Kind: vector.FieldFloat, Size: 18, Precision: 6},
	ranking.FieldSourceTop:         {Name: "Source_Top", Kind: vector.FieldInt, Size: 1},
	ranking.FieldIslandLength:      {Name: "Isl_Length", Kind: vector.FieldFloat, Size: 18, Precision: 3},
	ranking.FieldIslandCount:       {Name: "Num_Isl", Kind: vector.FieldInt, Size: 6},
	ranking.FieldTrailCII:          {Name: "Trail_CII", Kind: vector.FieldFloat, Size: 18, Precision: 6},
}

// WriteShapefile writes the ranked features with the family's ranking
// columns under DBF-safe names.
func WriteShapefile(path string, fs *vector.FeatureSet, fam ranking.Family) error {
	cols := fam.Columns()
	specs := make([]vector.FieldSpec, len(cols))
	for i, c := range cols {
		specs[i] = shpFields[c]
	}

	out := &vector.FeatureSet{Name: fs.Name, CRS: fs.CRS, Features: make([]*vector.Feature, len(fs.Features))}
	for i, f := range fs.Features {
		attrs := make(map[string]any, len(cols))
		for _, c := range cols {
			attrs[shpFields[c].Name] = f.Attrs[c]
		}
		out.Features[i] = &vector.Feature{ID: f.ID, Geometry: f.Geometry, Attrs: attrs}
	}
	return eris.Wrap(vector.WriteShapefile(path, out, specs), "export: shapefile")
}
