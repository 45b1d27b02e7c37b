package export

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/bcgp/connectivity-impact/internal/ranking"
)

const maxSheetName = 31

// SheetName names the sheet of one region and subset.
func SheetName(region, subset string) string {
	name := region + " " + subset
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}
	return name
}

// WriteWorkbook writes one sheet per ranking and subset: the global
// ranking first, then each region in configured order.
func WriteWorkbook(path string, res *ranking.Result, topN int) error {
	f := xlsx.NewFile()
	cols := res.Family.Columns()

	for _, rk := range res.Rankings() {
		for _, sub := range rk.Subsets(topN) {
			sheet, err := f.AddSheet(SheetName(rk.Region, sub.Name))
			if err != nil {
				return eris.Wrapf(err, "export: add sheet to %s", path)
			}
			header := sheet.AddRow()
			for _, c := range cols {
				header.AddCell().SetString(c)
			}
			for _, cand := range sub.Candidates {
				row := sheet.AddRow()
				for _, v := range res.Family.Values(cand) {
					setCell(row.AddCell(), v)
				}
			}
		}
	}

	return eris.Wrapf(f.Save(path), "export: save %s", path)
}

func setCell(c *xlsx.Cell, v any) {
	switch n := v.(type) {
	case int:
		c.SetInt(n)
	case float64:
		c.SetFloat(n)
	case string:
		c.SetString(n)
	}
}
