package workspace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/bcgp/connectivity-impact/internal/db"
	"github.com/bcgp/connectivity-impact/internal/fault"
	"github.com/bcgp/connectivity-impact/internal/grid"
	"github.com/bcgp/connectivity-impact/internal/vector"
)

// DefaultSchema is the Postgres schema that holds the workspace.
const DefaultSchema = "cii"

// PostgresStore implements Store inside one Postgres schema.
type PostgresStore struct {
	pool   db.Pool
	schema string
}

// NewPostgres connects a pool to connString.
func NewPostgres(ctx context.Context, connString, schema string) (*PostgresStore, error) {
	if schema == "" {
		schema = DefaultSchema
	}
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 4
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, schema: schema}, nil
}

// t qualifies a table name with the workspace schema.
func (s *PostgresStore) t(table string) string {
	return pgx.Identifier{s.schema, table}.Sanitize()
}

func (s *PostgresStore) migration() string {
	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[2]s (
	name       TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	row_count  INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[3]s (
	name TEXT PRIMARY KEY REFERENCES %[2]s(name) ON DELETE CASCADE,
	data BYTEA NOT NULL
);

CREATE TABLE IF NOT EXISTS %[4]s (
	name TEXT PRIMARY KEY REFERENCES %[2]s(name) ON DELETE CASCADE,
	crs  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS %[5]s (
	dataset TEXT NOT NULL REFERENCES %[2]s(name) ON DELETE CASCADE,
	seq     INTEGER NOT NULL,
	id      TEXT NOT NULL,
	geom    BYTEA NOT NULL,
	attrs   JSONB,
	PRIMARY KEY (dataset, seq)
);

CREATE TABLE IF NOT EXISTS %[6]s (
	id          TEXT PRIMARY KEY,
	command     TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	report      JSONB,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);
`,
		pgx.Identifier{s.schema}.Sanitize(),
		s.t("objects"), s.t("blobs"), s.t("feature_sets"), s.t("features"), s.t("runs"),
	)
}

// Migrate creates the workspace schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, s.migration())
	return eris.Wrap(err, "postgres: migrate")
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Reset drops the workspace schema and everything in it, then recreates it.
func (s *PostgresStore) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+pgx.Identifier{s.schema}.Sanitize()+" CASCADE"); err != nil {
		return &fault.WorkspaceError{Op: "reset", Err: eris.Wrap(err, "postgres: drop schema")}
	}
	if err := s.Migrate(ctx); err != nil {
		return &fault.WorkspaceError{Op: "reset", Err: err}
	}
	return nil
}

func (s *PostgresStore) replaceObject(ctx context.Context, name string, kind Kind, rows int) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM `+s.t("objects")+` WHERE name = $1`, name); err != nil {
		return eris.Wrapf(err, "postgres: replace %s", name)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.t("objects")+` (name, kind, row_count, created_at) VALUES ($1, $2, $3, $4)`,
		name, string(kind), rows, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: insert object %s", name)
}

func (s *PostgresStore) putBlob(ctx context.Context, name string, kind Kind, rows int, data []byte) error {
	if err := s.replaceObject(ctx, name, kind, rows); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO `+s.t("blobs")+` (name, data) VALUES ($1, $2)`, name, data)
	return eris.Wrapf(err, "postgres: insert blob %s", name)
}

func (s *PostgresStore) getBlob(ctx context.Context, name string, kind Kind) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT b.data FROM `+s.t("blobs")+` b JOIN `+s.t("objects")+` o ON o.name = b.name WHERE b.name = $1 AND o.kind = $2`,
		name, string(kind),
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: %s %s", kind, name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s %s", kind, name)
	}
	return data, nil
}

// PutRaster stores r under h, replacing any previous object.
func (s *PostgresStore) PutRaster(ctx context.Context, h RasterHandle, r *grid.Raster) error {
	data, err := encodeRaster(r)
	if err != nil {
		return err
	}
	return s.putBlob(ctx, h.Name(), KindRaster, r.Grid.Len(), data)
}

// GetRaster loads the raster stored under h.
func (s *PostgresStore) GetRaster(ctx context.Context, h RasterHandle) (*grid.Raster, error) {
	data, err := s.getBlob(ctx, h.Name(), KindRaster)
	if err != nil {
		return nil, err
	}
	return decodeRaster(data)
}

// PutTable stores t under h, replacing any previous object.
func (s *PostgresStore) PutTable(ctx context.Context, h TableHandle, t *Table) error {
	data, err := encodeTable(t)
	if err != nil {
		return err
	}
	return s.putBlob(ctx, h.Name(), KindTable, len(t.Rows), data)
}

// GetTable loads the table stored under h.
func (s *PostgresStore) GetTable(ctx context.Context, h TableHandle) (*Table, error) {
	data, err := s.getBlob(ctx, h.Name(), KindTable)
	if err != nil {
		return nil, err
	}
	return decodeTable(data)
}

var featureColumns = []string{"dataset", "seq", "id", "geom", "attrs"}

// PutFeatures stores fs under h with a COPY, replacing any previous object.
func (s *PostgresStore) PutFeatures(ctx context.Context, h FeatureHandle, fs *vector.FeatureSet) error {
	name := h.Name()
	if err := s.replaceObject(ctx, name, KindFeatures, fs.Len()); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO `+s.t("feature_sets")+` (name, crs) VALUES ($1, $2)`, name, fs.CRS); err != nil {
		return eris.Wrapf(err, "postgres: insert feature set %s", name)
	}

	rows := make([][]any, 0, fs.Len())
	for i, f := range fs.Features {
		r, err := encodeFeature(i, f)
		if err != nil {
			return err
		}
		rows = append(rows, []any{name, r.Seq, r.ID, r.Geom, string(r.Attrs)})
	}
	if _, err := db.CopyFromSchema(ctx, s.pool, s.schema, "features", featureColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: copy features %s", name)
	}
	return nil
}

// GetFeatures loads the feature set stored under h in its original order.
func (s *PostgresStore) GetFeatures(ctx context.Context, h FeatureHandle) (*vector.FeatureSet, error) {
	name := h.Name()
	var crs string
	err := s.pool.QueryRow(ctx, `SELECT crs FROM `+s.t("feature_sets")+` WHERE name = $1`, name).Scan(&crs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: features %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get feature set %s", name)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT seq, id, geom, attrs::text FROM `+s.t("features")+` WHERE dataset = $1 ORDER BY seq`, name,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list features %s", name)
	}
	defer rows.Close()

	fs := &vector.FeatureSet{Name: name, CRS: crs}
	for rows.Next() {
		var r featureRow
		var attrs *string
		if err := rows.Scan(&r.Seq, &r.ID, &r.Geom, &attrs); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan feature %s", name)
		}
		if attrs != nil {
			r.Attrs = []byte(*attrs)
		}
		f, err := decodeFeature(r)
		if err != nil {
			return nil, err
		}
		fs.Features = append(fs.Features, f)
	}
	return fs, eris.Wrapf(rows.Err(), "postgres: iterate features %s", name)
}

// Exists reports whether an object named name is stored.
func (s *PostgresStore) Exists(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+s.t("objects")+` WHERE name = $1)`, name).Scan(&ok)
	return ok, eris.Wrapf(err, "postgres: exists %s", name)
}

// Delete removes the named objects; dependent rows cascade.
func (s *PostgresStore) Delete(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.t("objects")+` WHERE name = ANY($1)`, names)
	return eris.Wrap(err, "postgres: delete objects")
}

// List returns every stored object ordered by name.
func (s *PostgresStore) List(ctx context.Context) ([]Object, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, kind, row_count, created_at FROM `+s.t("objects")+` ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list objects")
	}
	defer rows.Close()

	var objs []Object
	for rows.Next() {
		var o Object
		var kind string
		if err := rows.Scan(&o.Name, &kind, &o.Rows, &o.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan object")
		}
		o.Kind = Kind(kind)
		objs = append(objs, o)
	}
	return objs, eris.Wrap(rows.Err(), "postgres: iterate objects")
}

// CreateRun records the start of a run.
func (s *PostgresStore) CreateRun(ctx context.Context, command string) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Command:   command,
		Status:    RunRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.t("runs")+` (id, command, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.Command, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

// FinishRun sets the final status and report of a run.
func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status RunStatus, report []byte) error {
	var rep any
	if len(report) > 0 {
		rep = string(report)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.t("runs")+` SET status = $1, report = $2, finished_at = $3 WHERE id = $4`,
		string(status), rep, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	return nil
}

// LatestRun returns the most recently started run.
func (s *PostgresStore) LatestRun(ctx context.Context) (*Run, error) {
	var run Run
	var status string
	var report *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, command, status, report::text, started_at, finished_at FROM `+s.t("runs")+` ORDER BY started_at DESC LIMIT 1`,
	).Scan(&run.ID, &run.Command, &status, &report, &run.StartedAt, &run.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "postgres: no runs")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest run")
	}
	run.Status = RunStatus(status)
	if report != nil {
		run.Report = []byte(*report)
	}
	return &run, nil
}
