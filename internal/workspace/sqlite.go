package workspace

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/bcgp/connectivity-impact/internal/fault"
	"github.com/bcgp/connectivity-impact/internal/grid"
	"github.com/bcgp/connectivity-impact/internal/vector"
)

// SQLiteStore implements Store in a single SQLite file using
// modernc.org/sqlite.
type SQLiteStore struct {
	path string
	db   *sqlx.DB
}

// NewSQLite opens the SQLite workspace at path and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, eris.New("sqlite: empty workspace path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "sqlite: create dir %s", dir)
		}
	}
	s := &SQLiteStore{path: path}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) open() error {
	db, err := sqlx.Open("sqlite", s.path)
	if err != nil {
		return eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	s.db = db
	return nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS objects (
	name       TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	row_count  INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS blobs (
	name TEXT PRIMARY KEY REFERENCES objects(name) ON DELETE CASCADE,
	data BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS feature_sets (
	name TEXT PRIMARY KEY REFERENCES objects(name) ON DELETE CASCADE,
	crs  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS features (
	dataset TEXT NOT NULL,
	seq     INTEGER NOT NULL,
	id      TEXT NOT NULL,
	geom    BLOB NOT NULL,
	attrs   TEXT,
	PRIMARY KEY (dataset, seq)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	command     TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	report      BLOB,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_objects_kind ON objects(kind);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Migrate creates the workspace schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Reset removes the database file with its WAL and shared-memory files and
// recreates an empty workspace.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if err := s.db.Close(); err != nil {
		return &fault.WorkspaceError{Op: "reset", Err: eris.Wrap(err, "sqlite: close")}
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(s.path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &fault.WorkspaceError{Op: "reset", Err: eris.Wrapf(err, "sqlite: remove %s", s.path+suffix)}
		}
	}
	if err := s.open(); err != nil {
		return &fault.WorkspaceError{Op: "reset", Err: err}
	}
	if err := s.Migrate(ctx); err != nil {
		return &fault.WorkspaceError{Op: "reset", Err: err}
	}
	return nil
}

// replaceObject drops any previous object with name and records the new
// one inside tx.
func replaceObject(ctx context.Context, tx *sqlx.Tx, name string, kind Kind, rows int) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM features WHERE dataset = ?`, name); err != nil {
		return eris.Wrapf(err, "sqlite: clear features %s", name)
	}
	for _, q := range []string{
		`DELETE FROM blobs WHERE name = ?`,
		`DELETE FROM feature_sets WHERE name = ?`,
		`DELETE FROM objects WHERE name = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, name); err != nil {
			return eris.Wrapf(err, "sqlite: replace %s", name)
		}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO objects (name, kind, row_count, created_at) VALUES (?, ?, ?, ?)`,
		name, string(kind), rows, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert object %s", name)
}

func (s *SQLiteStore) putBlob(ctx context.Context, name string, kind Kind, rows int, data []byte) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := replaceObject(ctx, tx, name, kind, rows); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO blobs (name, data) VALUES (?, ?)`, name, data); err != nil {
		return eris.Wrapf(err, "sqlite: insert blob %s", name)
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit %s", name)
}

func (s *SQLiteStore) getBlob(ctx context.Context, name string, kind Kind) ([]byte, error) {
	var data []byte
	err := s.db.GetContext(ctx, &data,
		`SELECT b.data FROM blobs b JOIN objects o ON o.name = b.name WHERE b.name = ? AND o.kind = ?`,
		name, string(kind),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: %s %s", kind, name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s %s", kind, name)
	}
	return data, nil
}

// PutRaster stores r under h, replacing any previous object.
func (s *SQLiteStore) PutRaster(ctx context.Context, h RasterHandle, r *grid.Raster) error {
	data, err := encodeRaster(r)
	if err != nil {
		return err
	}
	return s.putBlob(ctx, h.Name(), KindRaster, r.Grid.Len(), data)
}

// GetRaster loads the raster stored under h.
func (s *SQLiteStore) GetRaster(ctx context.Context, h RasterHandle) (*grid.Raster, error) {
	data, err := s.getBlob(ctx, h.Name(), KindRaster)
	if err != nil {
		return nil, err
	}
	return decodeRaster(data)
}

// PutTable stores t under h, replacing any previous object.
func (s *SQLiteStore) PutTable(ctx context.Context, h TableHandle, t *Table) error {
	data, err := encodeTable(t)
	if err != nil {
		return err
	}
	return s.putBlob(ctx, h.Name(), KindTable, len(t.Rows), data)
}

// GetTable loads the table stored under h.
func (s *SQLiteStore) GetTable(ctx context.Context, h TableHandle) (*Table, error) {
	data, err := s.getBlob(ctx, h.Name(), KindTable)
	if err != nil {
		return nil, err
	}
	return decodeTable(data)
}

// PutFeatures stores fs under h, replacing any previous object.
func (s *SQLiteStore) PutFeatures(ctx context.Context, h FeatureHandle, fs *vector.FeatureSet) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	name := h.Name()
	if err := replaceObject(ctx, tx, name, KindFeatures, fs.Len()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO feature_sets (name, crs) VALUES (?, ?)`, name, fs.CRS); err != nil {
		return eris.Wrapf(err, "sqlite: insert feature set %s", name)
	}

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO features (dataset, seq, id, geom, attrs) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare feature insert")
	}
	defer stmt.Close()

	for i, f := range fs.Features {
		row, err := encodeFeature(i, f)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, name, row.Seq, row.ID, row.Geom, string(row.Attrs)); err != nil {
			return eris.Wrapf(err, "sqlite: insert feature %s/%s", name, f.ID)
		}
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit %s", name)
}

// GetFeatures loads the feature set stored under h in its original order.
func (s *SQLiteStore) GetFeatures(ctx context.Context, h FeatureHandle) (*vector.FeatureSet, error) {
	name := h.Name()
	var crs string
	err := s.db.GetContext(ctx, &crs, `SELECT crs FROM feature_sets WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: features %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get feature set %s", name)
	}

	var rows []featureRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT seq, id, geom, CAST(attrs AS BLOB) AS attrs FROM features WHERE dataset = ? ORDER BY seq`, name,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: list features %s", name)
	}

	fs := &vector.FeatureSet{Name: name, CRS: crs, Features: make([]*vector.Feature, 0, len(rows))}
	for _, r := range rows {
		f, err := decodeFeature(r)
		if err != nil {
			return nil, err
		}
		fs.Features = append(fs.Features, f)
	}
	return fs, nil
}

// Exists reports whether an object named name is stored.
func (s *SQLiteStore) Exists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM objects WHERE name = ?`, name); err != nil {
		return false, eris.Wrapf(err, "sqlite: exists %s", name)
	}
	return n > 0, nil
}

// Delete removes the named objects. Unknown names are ignored.
func (s *SQLiteStore) Delete(ctx context.Context, names ...string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, name := range names {
		for _, q := range []string{
			`DELETE FROM features WHERE dataset = ?`,
			`DELETE FROM blobs WHERE name = ?`,
			`DELETE FROM feature_sets WHERE name = ?`,
			`DELETE FROM objects WHERE name = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, name); err != nil {
				return eris.Wrapf(err, "sqlite: delete %s", name)
			}
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit delete")
}

// List returns every stored object ordered by name.
func (s *SQLiteStore) List(ctx context.Context) ([]Object, error) {
	var objs []Object
	err := s.db.SelectContext(ctx, &objs, `SELECT name, kind, row_count, created_at FROM objects ORDER BY name`)
	return objs, eris.Wrap(err, "sqlite: list objects")
}

// CreateRun records the start of a run.
func (s *SQLiteStore) CreateRun(ctx context.Context, command string) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Command:   command,
		Status:    RunRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Command, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

// FinishRun sets the final status and report of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status RunStatus, report []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, report = ?, finished_at = ? WHERE id = ?`,
		string(status), report, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	return nil
}

// LatestRun returns the most recently started run.
func (s *SQLiteStore) LatestRun(ctx context.Context) (*Run, error) {
	var run Run
	err := s.db.GetContext(ctx, &run,
		`SELECT id, command, status, report, started_at, finished_at FROM runs ORDER BY started_at DESC LIMIT 1`,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "sqlite: no runs")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest run")
	}
	return &run, nil
}
