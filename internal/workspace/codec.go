package workspace

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/bcgp/connectivity-impact/internal/grid"
	"github.com/bcgp/connectivity-impact/internal/vector"
)

func encodeRaster(r *grid.Raster) ([]byte, error) {
	if len(r.Cells) != r.Grid.Len() {
		return nil, eris.Errorf("workspace: raster %q has %d cells for a %dx%d grid", r.Name, len(r.Cells), r.Grid.Rows, r.Grid.Cols)
	}
	data, err := msgpack.Marshal(r)
	return data, eris.Wrapf(err, "workspace: encode raster %q", r.Name)
}

func decodeRaster(data []byte) (*grid.Raster, error) {
	var r grid.Raster
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "workspace: decode raster")
	}
	return &r, nil
}

func encodeTable(t *Table) ([]byte, error) {
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return nil, eris.Errorf("workspace: table %q row %d has %d values for %d columns", t.Name, i, len(row), len(t.Columns))
		}
	}
	data, err := msgpack.Marshal(t)
	return data, eris.Wrapf(err, "workspace: encode table %q", t.Name)
}

func decodeTable(data []byte) (*Table, error) {
	var t Table
	if err := msgpack.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrap(err, "workspace: decode table")
	}
	return &t, nil
}

// featureRow is the stored form of one feature.
type featureRow struct {
	Seq   int    `db:"seq"`
	ID    string `db:"id"`
	Geom  []byte `db:"geom"`
	Attrs []byte `db:"attrs"`
}

func encodeFeature(seq int, f *vector.Feature) (featureRow, error) {
	g, err := ewkb.Marshal(f.Geometry, ewkb.NDR)
	if err != nil {
		return featureRow{}, eris.Wrapf(err, "workspace: encode geometry of %s", f.ID)
	}
	attrs, err := json.Marshal(f.Attrs)
	if err != nil {
		return featureRow{}, eris.Wrapf(err, "workspace: encode attributes of %s", f.ID)
	}
	return featureRow{Seq: seq, ID: f.ID, Geom: g, Attrs: attrs}, nil
}

func decodeFeature(row featureRow) (*vector.Feature, error) {
	g, err := ewkb.Unmarshal(row.Geom)
	if err != nil {
		return nil, eris.Wrapf(err, "workspace: decode geometry of %s", row.ID)
	}
	var attrs map[string]any
	if len(row.Attrs) > 0 {
		if err := json.Unmarshal(row.Attrs, &attrs); err != nil {
			return nil, eris.Wrapf(err, "workspace: decode attributes of %s", row.ID)
		}
	}
	return &vector.Feature{ID: row.ID, Geometry: g, Attrs: attrs}, nil
}
