package tabular

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Options controls how a table is read and keyed.
type Options struct {
	// KeyField names the header column used as the join key.
	KeyField string
	// SkipRows drops leading rows before the header (title rows in
	// census downloads).
	SkipRows int
	// Sheet selects an XLSX sheet by name; the first sheet when empty.
	Sheet string
	// NormalizeKey, when set, rewrites every key before it is stored.
	NormalizeKey func(string) string
	CSV          CSVOptions
}

// Table is an attribute table keyed by one column.
type Table struct {
	Name   string
	Header []string
	// Keys holds row keys in file order.
	Keys []string
	rows map[string][]string
	cols map[string]int
}

// Len returns the number of keyed rows.
func (t *Table) Len() int { return len(t.Keys) }

// Has reports whether a row with key exists.
func (t *Table) Has(key string) bool {
	_, ok := t.rows[key]
	return ok
}

// Value returns the raw cell for key and field.
func (t *Table) Value(key, field string) (string, bool) {
	row, ok := t.rows[key]
	if !ok {
		return "", false
	}
	col, ok := t.cols[field]
	if !ok || col >= len(row) {
		return "", false
	}
	return row[col], true
}

// Float parses the cell for key and field. Blank cells and census
// sentinels such as "-" or "(X)" report false.
func (t *Table) Float(key, field string) (float64, bool) {
	s, ok := t.Value(key, field)
	if !ok {
		return 0, false
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// HasField reports whether the header contains field.
func (t *Table) HasField(field string) bool {
	_, ok := t.cols[field]
	return ok
}

// Load reads a CSV or XLSX table at path, chosen by extension.
func Load(ctx context.Context, path string, opts Options) (*Table, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(path, name, opts)
	case ".csv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "tabular: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(ctx, f, name, opts)
	default:
		return nil, eris.Errorf("tabular: unsupported table format %q", filepath.Ext(path))
	}
}

type builder struct {
	t       *Table
	opts    Options
	seen    int
	keyCol  int
	started bool
}

func newBuilder(name string, opts Options) *builder {
	return &builder{
		t:    &Table{Name: name, rows: make(map[string][]string), cols: make(map[string]int)},
		opts: opts,
	}
}

func (b *builder) add(row []string) error {
	b.seen++
	if b.seen <= b.opts.SkipRows {
		return nil
	}
	if !b.started {
		b.started = true
		b.t.Header = row
		for i, h := range row {
			b.t.cols[strings.TrimSpace(h)] = i
		}
		col, ok := b.t.cols[b.opts.KeyField]
		if !ok {
			return eris.Errorf("tabular: %s: key field %q not in header", b.t.Name, b.opts.KeyField)
		}
		b.keyCol = col
		return nil
	}
	if b.keyCol >= len(row) {
		return nil
	}
	key := strings.TrimSpace(row[b.keyCol])
	if b.opts.NormalizeKey != nil {
		key = b.opts.NormalizeKey(key)
	}
	if key == "" {
		return nil
	}
	if _, dup := b.t.rows[key]; dup {
		return eris.Errorf("tabular: %s: duplicate key %q", b.t.Name, key)
	}
	b.t.rows[key] = row
	b.t.Keys = append(b.t.Keys, key)
	return nil
}

func (b *builder) table() (*Table, error) {
	if !b.started {
		return nil, eris.Errorf("tabular: %s: no header row", b.t.Name)
	}
	return b.t, nil
}
