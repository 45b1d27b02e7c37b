package grid

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

const asciiNoData = -9999

// WriteASCII writes r as an ESRI ASCII grid.
func WriteASCII(w io.Writer, r *Raster) error {
	bw := bufio.NewWriter(w)
	g := r.Grid
	yll := g.OriginY - float64(g.Rows)*g.CellSize

	fmt.Fprintf(bw, "ncols %d\n", g.Cols)
	fmt.Fprintf(bw, "nrows %d\n", g.Rows)
	fmt.Fprintf(bw, "xllcorner %s\n", strconv.FormatFloat(g.OriginX, 'f', -1, 64))
	fmt.Fprintf(bw, "yllcorner %s\n", strconv.FormatFloat(yll, 'f', -1, 64))
	fmt.Fprintf(bw, "cellsize %s\n", strconv.FormatFloat(g.CellSize, 'f', -1, 64))
	fmt.Fprintf(bw, "NODATA_value %d\n", asciiNoData)

	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			if col > 0 {
				bw.WriteByte(' ')
			}
			v := r.Cells[g.Index(row, col)]
			if IsNoData(v) {
				bw.WriteString(strconv.Itoa(asciiNoData))
				continue
			}
			bw.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
		}
		bw.WriteByte('\n')
	}
	return eris.Wrap(bw.Flush(), "grid: write ascii")
}

// ReadASCII parses an ESRI ASCII grid. The CRS is not part of the format
// and must be supplied by the caller.
func ReadASCII(rd io.Reader, name, crs string) (*Raster, error) {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	sc.Split(bufio.ScanWords)

	header := map[string]float64{}
	var first string
	for sc.Scan() {
		key := strings.ToLower(sc.Text())
		if _, err := strconv.ParseFloat(key, 64); err == nil {
			first = key
			break
		}
		if !sc.Scan() {
			return nil, eris.Errorf("grid: read ascii %q: header %q has no value", name, key)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "grid: read ascii %q: header %q", name, key)
		}
		header[key] = v
	}

	for _, k := range []string{"ncols", "nrows", "cellsize"} {
		if _, ok := header[k]; !ok {
			return nil, eris.Errorf("grid: read ascii %q: missing header %q", name, k)
		}
	}
	noData, hasNoData := header["nodata_value"]

	g := Grid{
		Cols:     int(header["ncols"]),
		Rows:     int(header["nrows"]),
		CellSize: header["cellsize"],
		CRS:      crs,
	}
	xll, okX := header["xllcorner"]
	yll, okY := header["yllcorner"]
	if !okX || !okY {
		// Centre-registered header.
		xll = header["xllcenter"] - g.CellSize/2
		yll = header["yllcenter"] - g.CellSize/2
	}
	g.OriginX = xll
	g.OriginY = yll + float64(g.Rows)*g.CellSize

	r := NewRaster(name, g)
	i := 0
	store := func(tok string) error {
		if i >= len(r.Cells) {
			return eris.Errorf("grid: read ascii %q: more than %d values", name, len(r.Cells))
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return eris.Wrapf(err, "grid: read ascii %q: cell %d", name, i)
		}
		if !(hasNoData && v == noData) && !math.IsNaN(v) {
			r.Cells[i] = float32(v)
		}
		i++
		return nil
	}
	if first != "" {
		if err := store(first); err != nil {
			return nil, err
		}
	}
	for sc.Scan() {
		if err := store(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "grid: read ascii %q", name)
	}
	if i != len(r.Cells) {
		return nil, eris.Errorf("grid: read ascii %q: got %d values, want %d", name, i, len(r.Cells))
	}
	return r, nil
}
