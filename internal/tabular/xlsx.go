package tabular

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ReadXLSX reads a keyed table from one sheet of the workbook at path.
func ReadXLSX(path, name string, opts Options) (*Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "xlsx: open file %s", path)
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	b := newBuilder(name, opts)
	for _, row := range sheet.Rows {
		if err := b.add(rowToStrings(row)); err != nil {
			return nil, err
		}
	}
	return b.table()
}

func getSheet(f *xlsx.File, opts Options) (*xlsx.Sheet, error) {
	if opts.Sheet != "" {
		sheet, ok := f.Sheet[opts.Sheet]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.Sheet)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
