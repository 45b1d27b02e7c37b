// Package export writes rankings and the overall CII raster to files:
// XLSX workbooks, GeoJSON, shapefiles and ESRI ASCII grids.
package export

import (
	"context"
	"os"
	"path/filepath"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bcgp/connectivity-impact/internal/config"
	"github.com/bcgp/connectivity-impact/internal/grid"
	"github.com/bcgp/connectivity-impact/internal/ranking"
	"github.com/bcgp/connectivity-impact/internal/vector"
)

// Output formats.
const (
	FormatXLSX    = "xlsx"
	FormatGeoJSON = "geojson"
	FormatShp     = "shp"
	FormatASCII   = "asc"
)

// Family is one ranked family ready to export.
type Family struct {
	Result *ranking.Result
	// Features are the ranked features in global rank order.
	Features *vector.FeatureSet
	TopN     int
}

// Exporter writes outputs into one directory.
type Exporter struct {
	dir     string
	formats []string
}

// New returns an Exporter for cfg.
func New(cfg config.ExportConfig) *Exporter {
	formats := cfg.Formats
	if len(formats) == 0 {
		formats = config.ExportFormats
	}
	return &Exporter{dir: cfg.Dir, formats: formats}
}

func (e *Exporter) enabled(format string) bool {
	return slices.Contains(e.formats, format)
}

// Export writes every enabled format for each family and the CII raster.
// It returns the paths written.
func (e *Exporter) Export(ctx context.Context, families []Family, cii *grid.Raster) ([]string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create %s", e.dir)
	}

	var written []string
	for _, fam := range families {
		if err := ctx.Err(); err != nil {
			return written, eris.Wrap(err, "export")
		}
		name := ranking.TableName(fam.Result.Family)
		base := filepath.Join(e.dir, name)

		if e.enabled(FormatXLSX) {
			path := base + ".xlsx"
			if err := WriteWorkbook(path, fam.Result, fam.TopN); err != nil {
				return written, err
			}
			written = append(written, path)
		}
		if fam.Features == nil || fam.Features.Len() == 0 {
			zap.L().Warn("export: no ranked features", zap.String("family", string(fam.Result.Family)))
			continue
		}
		if e.enabled(FormatGeoJSON) {
			path := base + ".geojson"
			if err := writeFile(path, func(f *os.File) error { return WriteGeoJSON(f, fam.Features) }); err != nil {
				return written, err
			}
			written = append(written, path)
		}
		if e.enabled(FormatShp) {
			path := base + ".shp"
			if err := WriteShapefile(path, fam.Features, fam.Result.Family); err != nil {
				return written, err
			}
			written = append(written, path)
		}
	}

	if cii != nil && e.enabled(FormatASCII) {
		path := filepath.Join(e.dir, cii.Name+".asc")
		if err := writeFile(path, func(f *os.File) error { return grid.WriteASCII(f, cii) }); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	zap.L().Info("export: wrote outputs", zap.String("dir", e.dir), zap.Strings("files", written))
	return written, nil
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := write(f); err != nil {
		f.Close()
		return eris.Wrapf(err, "export: write %s", path)
	}
	return eris.Wrapf(f.Close(), "export: close %s", path)
}
