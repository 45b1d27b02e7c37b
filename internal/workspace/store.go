// Package workspace is the persistent store every pipeline stage reads
// from and writes to: named rasters, feature sets and tables, plus a record
// of each run. It can be reset wholesale at the start of a run.
package workspace

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/bcgp/connectivity-impact/internal/grid"
	"github.com/bcgp/connectivity-impact/internal/vector"
)

// ErrNotFound is returned when a named object does not exist.
var ErrNotFound = errors.New("workspace: object not found")

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Kind is the type of a stored object.
type Kind string

// Object kinds.
const (
	KindRaster   Kind = "raster"
	KindFeatures Kind = "features"
	KindTable    Kind = "table"
)

// RasterHandle names a stored raster.
type RasterHandle struct{ name string }

// FeatureHandle names a stored feature set.
type FeatureHandle struct{ name string }

// TableHandle names a stored table.
type TableHandle struct{ name string }

// Raster returns the handle for a raster name.
func Raster(name string) RasterHandle { return RasterHandle{name: name} }

// Features returns the handle for a feature set name.
func Features(name string) FeatureHandle { return FeatureHandle{name: name} }

// TableOf returns the handle for a table name.
func TableOf(name string) TableHandle { return TableHandle{name: name} }

// Name returns the stored object name.
func (h RasterHandle) Name() string { return h.name }

// Name returns the stored object name.
func (h FeatureHandle) Name() string { return h.name }

// Name returns the stored object name.
func (h TableHandle) Name() string { return h.name }

// Object describes one stored object.
type Object struct {
	Name      string    `json:"name" db:"name"`
	Kind      Kind      `json:"kind" db:"kind"`
	Rows      int       `json:"rows" db:"row_count"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Table is a small keyed table of rows, such as a zonal statistics result
// or a ranking.
type Table struct {
	Name    string   `msgpack:"name"`
	Columns []string `msgpack:"columns"`
	Rows    [][]any  `msgpack:"rows"`
}

// Col returns the index of column name, or -1.
func (t *Table) Col(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Float returns the numeric value at (row, col). ok is false for nil or
// non-numeric cells.
func (t *Table) Float(row, col int) (float64, bool) {
	if col < 0 || row < 0 || row >= len(t.Rows) || col >= len(t.Rows[row]) {
		return 0, false
	}
	switch v := t.Rows[row][col].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

// String returns the value at (row, col) as a string, or "".
func (t *Table) String(row, col int) string {
	if col < 0 || row < 0 || row >= len(t.Rows) || col >= len(t.Rows[row]) {
		return ""
	}
	if s, ok := t.Rows[row][col].(string); ok {
		return s
	}
	if v, ok := t.Float(row, col); ok {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run states.
const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunFailed   RunStatus = "failed"
)

// Run is the record of one pipeline invocation.
type Run struct {
	ID         string     `json:"id" db:"id"`
	Command    string     `json:"command" db:"command"`
	Status     RunStatus  `json:"status" db:"status"`
	Report     []byte     `json:"report,omitempty" db:"report"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// Store defines the persistence interface for the pipeline workspace.
type Store interface {
	// Reset deletes the whole workspace and recreates it empty.
	Reset(ctx context.Context) error

	PutRaster(ctx context.Context, h RasterHandle, r *grid.Raster) error
	GetRaster(ctx context.Context, h RasterHandle) (*grid.Raster, error)

	PutFeatures(ctx context.Context, h FeatureHandle, fs *vector.FeatureSet) error
	GetFeatures(ctx context.Context, h FeatureHandle) (*vector.FeatureSet, error)

	PutTable(ctx context.Context, h TableHandle, t *Table) error
	GetTable(ctx context.Context, h TableHandle) (*Table, error)

	// Exists reports whether an object with name is stored.
	Exists(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, names ...string) error
	List(ctx context.Context) ([]Object, error)

	// Runs
	CreateRun(ctx context.Context, command string) (*Run, error)
	FinishRun(ctx context.Context, runID string, status RunStatus, report []byte) error
	LatestRun(ctx context.Context) (*Run, error)

	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver      string
	Path        string
	DatabaseURL string
	Schema      string
}

// Open connects to the configured backend and ensures its schema exists.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "sqlite":
		s, err := NewSQLite(opts.Path)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgres(ctx, opts.DatabaseURL, opts.Schema)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	}
	return nil, eris.Errorf("workspace: unknown driver %q", opts.Driver)
}

// Missing returns the names that are not stored.
func Missing(ctx context.Context, s Store, names ...string) ([]string, error) {
	var missing []string
	for _, n := range names {
		ok, err := s.Exists(ctx, n)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, n)
		}
	}
	return missing, nil
}
