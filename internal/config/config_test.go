package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Workspace.Driver)
	assert.Equal(t, "cii", cfg.Workspace.Schema)
	assert.False(t, cfg.Workspace.KeepIntermediate)
	assert.Equal(t, 30.0, cfg.Grid.CellSize)
	assert.Equal(t, "EPSG:26918", cfg.Grid.CRS)
	assert.Equal(t, []string{"Bucks", "Chester", "Delaware", "Montgomery"}, cfg.Regions)
	assert.Equal(t, 20, cfg.Indicators.Classes)
	assert.InDelta(t, 0.67, cfg.Weights.Density.Population, 1e-9)
	assert.InDelta(t, 0.03, cfg.Weights.Transportation.Bus, 1e-9)
	assert.InDelta(t, 0.10, cfg.Weights.Overall.Health, 1e-9)
	assert.Equal(t, 100, cfg.Zonal.MaxPasses)
	assert.Equal(t, "EDGE", cfg.Roads.IDField)
	assert.InDelta(t, 1609.34, cfg.Roads.BufferDistance, 1e-9)
	assert.False(t, cfg.Roads.PreselectTop)
	assert.Equal(t, "STRONG", cfg.Islands.IDField)
	assert.Equal(t, 1000.0, cfg.Islands.MinLength)
	assert.Equal(t, 50.0, cfg.Trails.SearchRadius)
	assert.Equal(t, 1, cfg.Trails.MinIslands)
	assert.Equal(t, 100.0, cfg.Trails.ScoreScale)
	assert.Equal(t, ExportFormats, cfg.Export.Formats)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.NoError(t, cfg.Validate("run"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
workspace:
  driver: postgres
  database_url: postgres://localhost/cii
regions: [Chester, Delaware]
weights:
  health:
    obesity: 0.4
    respiratory_hazard: 0.6
trails:
  min_islands: 2
  score_scale: 20
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Workspace.Driver)
	assert.Equal(t, []string{"Chester", "Delaware"}, cfg.Regions)
	assert.InDelta(t, 0.6, cfg.Weights.Health.RespiratoryHazard, 1e-9)
	assert.Equal(t, 2, cfg.Trails.MinIslands)
	assert.Equal(t, 20.0, cfg.Trails.ScoreScale)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.InDelta(t, 0.67, cfg.Weights.Density.Population, 1e-9)
	assert.NoError(t, cfg.Validate("run"))
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
workspace:
  path: from-file.db
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("CII_WORKSPACE_PATH", "from-env.db")
	t.Setenv("CII_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env.db", cfg.Workspace.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("CII_ZONAL_MAX_PASSES", "7")
	t.Setenv("CII_WORKSPACE_KEEP_INTERMEDIATE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Zonal.MaxPasses)
	assert.True(t, cfg.Workspace.KeepIntermediate)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("grid: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults(t *testing.T) *Config {
	t.Helper()
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestValidateWeights(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"density sum", func(c *Config) { c.Weights.Density.Employment = 0.5 }, "weights.density must sum to 1"},
		{"transport negative", func(c *Config) {
			c.Weights.Transportation.Bus = -0.03
			c.Weights.Transportation.CircuitTrail = 0.56
		}, "weights.transportation values must be >= 0"},
		{"overall sum", func(c *Config) { c.Weights.Overall.Health = 0.2 }, "weights.overall must sum to 1"},
		{"health sum", func(c *Config) { c.Weights.Health.Obesity = 0 }, "weights.health must sum to 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults(t)
			tt.mutate(cfg)
			err := cfg.Validate("index")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateModes(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Roads.CIIWeight = 0.5
	err := cfg.Validate("roads")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "roads.cii_weight")
	// Trails do not look at road weights.
	assert.NoError(t, cfg.Validate("trails"))

	cfg = validDefaults(t)
	cfg.Trails.MinIslands = 0
	err = cfg.Validate("trails")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trails.min_islands must be >= 1")

	cfg = validDefaults(t)
	cfg.Zonal.MaxPasses = 0
	assert.Error(t, cfg.Validate("roads"))

	cfg = validDefaults(t)
	cfg.Export.Formats = []string{"xlsx", "pdf"}
	err = cfg.Validate("export")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format pdf")

	cfg = validDefaults(t)
	cfg.Regions = nil
	assert.Error(t, cfg.Validate("index"))
	assert.NoError(t, cfg.Validate("workspace"))
}

func TestValidateWorkspaceDriver(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Workspace.Driver = "postgres"
	err := cfg.Validate("workspace")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workspace.database_url is required")

	cfg.Workspace.Driver = "mysql"
	assert.Error(t, cfg.Validate("workspace"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults(t)
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestLoadFile(t *testing.T) {
	dir := chdirTemp(t)
	// A config.yaml in the working directory is ignored when a file is named.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("zonal:\n  max_passes: 3\n"), 0o644))

	named := filepath.Join(t.TempDir(), "chester")
	require.NoError(t, os.WriteFile(named, []byte("regions: [Chester]\nroads:\n  preselect_top: true\n"), 0o644))

	tests := []struct {
		name      string
		path      string
		regions   []string
		passes    int
		preselect bool
		wantErr   bool
	}{
		{name: "search working dir", path: "", regions: DefaultRegions, passes: 3},
		{name: "named file without extension", path: named, regions: []string{"Chester"}, passes: 100, preselect: true},
		{name: "missing named file", path: filepath.Join(dir, "absent.yaml"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFile(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.regions, cfg.Regions)
			assert.Equal(t, tt.passes, cfg.Zonal.MaxPasses)
			assert.Equal(t, tt.preselect, cfg.Roads.PreselectTop)
		})
	}
}
