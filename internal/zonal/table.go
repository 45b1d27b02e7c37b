package zonal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/bcgp/connectivity-impact/internal/vector"
	"github.com/bcgp/connectivity-impact/internal/workspace"
)

// Table is the zonal mean table of one zone set.
type Table struct {
	Name    string
	Batches []Batch
	// Rows holds one row per zone in input order.
	Rows []Row
}

// Passes returns the number of passes the resolution took.
func (t *Table) Passes() int { return len(t.Batches) }

// Lookup returns the row for id.
func (t *Table) Lookup(id string) (Row, bool) {
	for _, r := range t.Rows {
		if r.ID == id {
			return r, true
		}
	}
	return Row{}, false
}

// NoData returns the sorted ids of zones with no data cells.
func (t *Table) NoData() []string {
	var ids []string
	for _, r := range t.Rows {
		if r.NoData {
			ids = append(ids, r.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Merge concatenates partial batches into one row per id, ordered as ids.
// Every id must appear in exactly one batch.
func Merge(ids []string, batches []Batch) ([]Row, error) {
	byID := make(map[string]Row, len(ids))
	for _, b := range batches {
		for _, r := range b.Rows {
			if prev, dup := byID[r.ID]; dup {
				return nil, eris.Errorf("zonal: zone %q resolved in passes %d and %d", r.ID, prev.Pass, r.Pass)
			}
			byID[r.ID] = r
		}
	}

	rows := make([]Row, 0, len(ids))
	var missing []string
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		rows = append(rows, r)
		delete(byID, id)
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("zonal: zones missing from merged table: %s", strings.Join(missing, ", "))
	}
	if len(byID) > 0 {
		extra := make([]string, 0, len(byID))
		for id := range byID {
			extra = append(extra, id)
		}
		sort.Strings(extra)
		return nil, eris.Errorf("zonal: merged table has rows for unknown zones: %s", strings.Join(extra, ", "))
	}
	return rows, nil
}

// JoinMeans sets field on every feature of fs to its zone mean. It returns
// the ids of features whose zone had no data and of features with no row.
func JoinMeans(fs *vector.FeatureSet, t *Table, field string) (noData, missing []string) {
	byID := make(map[string]Row, len(t.Rows))
	for _, r := range t.Rows {
		byID[r.ID] = r
	}
	for _, f := range fs.Features {
		r, ok := byID[f.ID]
		switch {
		case !ok:
			missing = append(missing, f.ID)
		case r.NoData:
			noData = append(noData, f.ID)
		default:
			f.Set(field, r.Mean)
		}
	}
	return noData, missing
}

var tableColumns = []string{"ID", "PASS", "COUNT", "AREA", "MEAN", "STD"}

func toWorkspace(name string, rows []Row) *workspace.Table {
	out := &workspace.Table{Name: name, Columns: tableColumns, Rows: make([][]any, len(rows))}
	for i, r := range rows {
		var mean, std any
		if !r.NoData {
			mean, std = r.Mean, r.Std
		}
		out.Rows[i] = []any{r.ID, r.Pass, r.Count, r.Area, mean, std}
	}
	return out
}

// PassTableName names the partial table of pass i.
func PassTableName(name string, pass int) string {
	return fmt.Sprintf("%s_pass%d", name, pass)
}

// WorkspaceTables returns the numbered partial tables followed by the
// merged table, ready to store.
func (t *Table) WorkspaceTables() []*workspace.Table {
	out := make([]*workspace.Table, 0, len(t.Batches)+1)
	for _, b := range t.Batches {
		out = append(out, toWorkspace(PassTableName(t.Name, b.Pass), b.Rows))
	}
	return append(out, toWorkspace(t.Name, t.Rows))
}
