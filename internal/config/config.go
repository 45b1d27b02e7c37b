package config

import (
	"math"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Workspace  WorkspaceConfig  `yaml:"workspace" mapstructure:"workspace"`
	Grid       GridConfig       `yaml:"grid" mapstructure:"grid"`
	Regions    []string         `yaml:"regions" mapstructure:"regions"`
	Indicators IndicatorsConfig `yaml:"indicators" mapstructure:"indicators"`
	Weights    WeightsConfig    `yaml:"weights" mapstructure:"weights"`
	Aggregate  AggregateConfig  `yaml:"aggregate" mapstructure:"aggregate"`
	Zonal      ZonalConfig      `yaml:"zonal" mapstructure:"zonal"`
	Roads      RoadsConfig      `yaml:"roads" mapstructure:"roads"`
	Islands    IslandsConfig    `yaml:"islands" mapstructure:"islands"`
	Trails     TrailsConfig     `yaml:"trails" mapstructure:"trails"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// WorkspaceConfig configures the workspace backend.
type WorkspaceConfig struct {
	Driver           string `yaml:"driver" mapstructure:"driver"`
	Path             string `yaml:"path" mapstructure:"path"`
	DatabaseURL      string `yaml:"database_url" mapstructure:"database_url"`
	Schema           string `yaml:"schema" mapstructure:"schema"`
	KeepIntermediate bool   `yaml:"keep_intermediate" mapstructure:"keep_intermediate"`
}

// GridConfig defines the analysis grid. The extent is the dissolved
// boundary layer at ExtentPath; RegionField names its county attribute.
type GridConfig struct {
	CellSize    float64 `yaml:"cell_size" mapstructure:"cell_size"`
	CRS         string  `yaml:"crs" mapstructure:"crs"`
	ExtentPath  string  `yaml:"extent_path" mapstructure:"extent_path"`
	RegionField string  `yaml:"region_field" mapstructure:"region_field"`
	DistancePad float64 `yaml:"distance_pad" mapstructure:"distance_pad"`
}

// IndicatorsConfig configures the indicator catalog and classification.
type IndicatorsConfig struct {
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
	DataDir     string `yaml:"data_dir" mapstructure:"data_dir"`
	Classes     int    `yaml:"classes" mapstructure:"classes"`
	MaxSample   int    `yaml:"max_sample" mapstructure:"max_sample"`
}

// WeightsConfig holds the composite weights. Each group sums to 1.
type WeightsConfig struct {
	Density        DensityWeights        `yaml:"density" mapstructure:"density"`
	Transportation TransportationWeights `yaml:"transportation" mapstructure:"transportation"`
	Health         HealthWeights         `yaml:"health" mapstructure:"health"`
	Overall        OverallWeights        `yaml:"overall" mapstructure:"overall"`
}

// DensityWeights combines the population and employment density scores.
type DensityWeights struct {
	Population float64 `yaml:"population" mapstructure:"population"`
	Employment float64 `yaml:"employment" mapstructure:"employment"`
}

// TransportationWeights combines the transit access scores.
type TransportationWeights struct {
	CircuitTrail float64 `yaml:"circuit_trail" mapstructure:"circuit_trail"`
	NoVehicle    float64 `yaml:"no_vehicle" mapstructure:"no_vehicle"`
	Rail         float64 `yaml:"rail" mapstructure:"rail"`
	Trolley      float64 `yaml:"trolley" mapstructure:"trolley"`
	Bus          float64 `yaml:"bus" mapstructure:"bus"`
}

// HealthWeights combines the health scores.
type HealthWeights struct {
	Obesity           float64 `yaml:"obesity" mapstructure:"obesity"`
	RespiratoryHazard float64 `yaml:"respiratory_hazard" mapstructure:"respiratory_hazard"`
}

// OverallWeights combines the category composites into the overall CII.
type OverallWeights struct {
	Disadvantage   float64 `yaml:"disadvantage" mapstructure:"disadvantage"`
	Density        float64 `yaml:"density" mapstructure:"density"`
	Transportation float64 `yaml:"transportation" mapstructure:"transportation"`
	Health         float64 `yaml:"health" mapstructure:"health"`
}

// AggregateConfig controls no-data handling in composites.
type AggregateConfig struct {
	FillNoData bool    `yaml:"fill_nodata" mapstructure:"fill_nodata"`
	FillValue  float64 `yaml:"fill_value" mapstructure:"fill_value"`
}

// ZonalConfig bounds the overlap resolution loop.
type ZonalConfig struct {
	MaxPasses int `yaml:"max_passes" mapstructure:"max_passes"`
}

// RoadsConfig configures road segment ranking.
type RoadsConfig struct {
	Path               string  `yaml:"path" mapstructure:"path"`
	SourceCRS          string  `yaml:"source_crs" mapstructure:"source_crs"`
	IDField            string  `yaml:"id_field" mapstructure:"id_field"`
	ConnectivityField  string  `yaml:"connectivity_field" mapstructure:"connectivity_field"`
	RegionField        string  `yaml:"region_field" mapstructure:"region_field"`
	TopFlagField       string  `yaml:"top_flag_field" mapstructure:"top_flag_field"`
	PreselectTop       bool    `yaml:"preselect_top" mapstructure:"preselect_top"`
	BufferDistance     float64 `yaml:"buffer_distance" mapstructure:"buffer_distance"`
	CIIWeight          float64 `yaml:"cii_weight" mapstructure:"cii_weight"`
	ConnectivityWeight float64 `yaml:"connectivity_weight" mapstructure:"connectivity_weight"`
	ConnectivityScale  float64 `yaml:"connectivity_scale" mapstructure:"connectivity_scale"`
	TopN               int     `yaml:"top_n" mapstructure:"top_n"`
}

// IslandsConfig configures low-stress island preparation.
type IslandsConfig struct {
	Path           string  `yaml:"path" mapstructure:"path"`
	SourceCRS      string  `yaml:"source_crs" mapstructure:"source_crs"`
	IDField        string  `yaml:"id_field" mapstructure:"id_field"`
	MinLength      float64 `yaml:"min_length" mapstructure:"min_length"`
	BufferDistance float64 `yaml:"buffer_distance" mapstructure:"buffer_distance"`
}

// TrailsConfig configures non-circuit trail ranking.
type TrailsConfig struct {
	Path         string  `yaml:"path" mapstructure:"path"`
	SourceCRS    string  `yaml:"source_crs" mapstructure:"source_crs"`
	IDField      string  `yaml:"id_field" mapstructure:"id_field"`
	RegionField  string  `yaml:"region_field" mapstructure:"region_field"`
	SearchRadius float64 `yaml:"search_radius" mapstructure:"search_radius"`
	MinIslands   int     `yaml:"min_islands" mapstructure:"min_islands"`
	ScoreScale   float64 `yaml:"score_scale" mapstructure:"score_scale"`
	TopN         int     `yaml:"top_n" mapstructure:"top_n"`
}

// ExportConfig configures output files.
type ExportConfig struct {
	Dir     string   `yaml:"dir" mapstructure:"dir"`
	Formats []string `yaml:"formats" mapstructure:"formats"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ExportFormats lists the supported export formats.
var ExportFormats = []string{"xlsx", "geojson", "shp", "asc"}

// DefaultRegions are the four suburban Pennsylvania counties.
var DefaultRegions = []string{"Bucks", "Chester", "Delaware", "Montgomery"}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches
// the working directory for config.yaml; a named file must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
		if filepath.Ext(path) == "" {
			v.SetConfigType("yaml")
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("CII")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("workspace.driver", "sqlite")
	v.SetDefault("workspace.path", "output/workspace.db")
	v.SetDefault("workspace.schema", "cii")
	v.SetDefault("workspace.keep_intermediate", false)
	v.SetDefault("grid.cell_size", 30.0)
	v.SetDefault("grid.crs", "EPSG:26918")
	v.SetDefault("grid.extent_path", "data/Geography/Boundaries_4_PA_counties.shp")
	v.SetDefault("grid.region_field", "CO_NAME")
	v.SetDefault("grid.distance_pad", 5000.0)
	v.SetDefault("regions", DefaultRegions)
	v.SetDefault("indicators.data_dir", "data/Orig_datasets")
	v.SetDefault("indicators.classes", 20)
	v.SetDefault("indicators.max_sample", 5000)
	v.SetDefault("weights.density.population", 0.67)
	v.SetDefault("weights.density.employment", 0.33)
	v.SetDefault("weights.transportation.circuit_trail", 0.50)
	v.SetDefault("weights.transportation.no_vehicle", 0.27)
	v.SetDefault("weights.transportation.rail", 0.13)
	v.SetDefault("weights.transportation.trolley", 0.07)
	v.SetDefault("weights.transportation.bus", 0.03)
	v.SetDefault("weights.health.obesity", 0.50)
	v.SetDefault("weights.health.respiratory_hazard", 0.50)
	v.SetDefault("weights.overall.disadvantage", 0.30)
	v.SetDefault("weights.overall.density", 0.30)
	v.SetDefault("weights.overall.transportation", 0.30)
	v.SetDefault("weights.overall.health", 0.10)
	v.SetDefault("aggregate.fill_nodata", false)
	v.SetDefault("aggregate.fill_value", 0.0)
	v.SetDefault("zonal.max_passes", 100)
	v.SetDefault("roads.path", "data/LTS3_roads/DVRPC_Bike_Stress_Suburban_LTS_3_Connections.shp")
	v.SetDefault("roads.id_field", "EDGE")
	v.SetDefault("roads.connectivity_field", "TotConnect")
	v.SetDefault("roads.region_field", "CO_NAME")
	v.SetDefault("roads.top_flag_field", "Top30perce")
	v.SetDefault("roads.preselect_top", false)
	v.SetDefault("roads.buffer_distance", 1609.34)
	v.SetDefault("roads.cii_weight", 0.67)
	v.SetDefault("roads.connectivity_weight", 0.33)
	v.SetDefault("roads.connectivity_scale", 20.0)
	v.SetDefault("roads.top_n", 20)
	v.SetDefault("islands.path", "data/Islands/DVRPC_Bike_Stress_LTS_1__2_Islands.shp")
	v.SetDefault("islands.id_field", "STRONG")
	v.SetDefault("islands.min_length", 1000.0)
	v.SetDefault("islands.buffer_distance", 100.0)
	v.SetDefault("trails.path", "data/Non-Circuit_Trails/Trails_Non_Circuit_Proj_4counties.shp")
	v.SetDefault("trails.id_field", "Trail_ID")
	v.SetDefault("trails.search_radius", 50.0)
	v.SetDefault("trails.min_islands", 1)
	v.SetDefault("trails.score_scale", 100.0)
	v.SetDefault("trails.top_n", 20)
	v.SetDefault("export.dir", "output")
	v.SetDefault("export.formats", ExportFormats)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

const weightTolerance = 1e-6

// Validate checks the settings a command needs. Mode is one of run,
// index, roads, trails, export or workspace.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Workspace.Driver {
	case "sqlite":
		if c.Workspace.Path == "" {
			errs = append(errs, "workspace.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Workspace.DatabaseURL == "" {
			errs = append(errs, "workspace.database_url is required for the postgres driver")
		}
	default:
		errs = append(errs, "workspace.driver must be sqlite or postgres")
	}

	grid := func() {
		if c.Grid.CellSize <= 0 {
			errs = append(errs, "grid.cell_size must be > 0")
		}
		if c.Grid.CRS == "" {
			errs = append(errs, "grid.crs is required")
		}
		if c.Grid.ExtentPath == "" {
			errs = append(errs, "grid.extent_path is required")
		}
		if len(c.Regions) == 0 {
			errs = append(errs, "regions must not be empty")
		}
	}
	index := func() {
		if c.Indicators.Classes < 2 {
			errs = append(errs, "indicators.classes must be >= 2")
		}
		errs = append(errs, c.Weights.check()...)
	}
	zonal := func() {
		if c.Zonal.MaxPasses < 1 {
			errs = append(errs, "zonal.max_passes must be >= 1")
		}
	}
	roads := func() {
		if c.Roads.Path == "" || c.Roads.IDField == "" || c.Roads.ConnectivityField == "" {
			errs = append(errs, "roads.path, roads.id_field and roads.connectivity_field are required")
		}
		if c.Roads.BufferDistance <= 0 {
			errs = append(errs, "roads.buffer_distance must be > 0")
		}
		if c.Roads.CIIWeight < 0 || c.Roads.ConnectivityWeight < 0 ||
			math.Abs(c.Roads.CIIWeight+c.Roads.ConnectivityWeight-1) > weightTolerance {
			errs = append(errs, "roads.cii_weight and roads.connectivity_weight must be >= 0 and sum to 1")
		}
		if c.Roads.ConnectivityScale <= 0 {
			errs = append(errs, "roads.connectivity_scale must be > 0")
		}
		if c.Roads.TopN < 1 {
			errs = append(errs, "roads.top_n must be >= 1")
		}
	}
	trails := func() {
		if c.Islands.Path == "" || c.Islands.IDField == "" {
			errs = append(errs, "islands.path and islands.id_field are required")
		}
		if c.Islands.BufferDistance <= 0 {
			errs = append(errs, "islands.buffer_distance must be > 0")
		}
		if c.Trails.Path == "" {
			errs = append(errs, "trails.path is required")
		}
		if c.Trails.SearchRadius < 0 {
			errs = append(errs, "trails.search_radius must be >= 0")
		}
		if c.Trails.MinIslands < 1 {
			errs = append(errs, "trails.min_islands must be >= 1")
		}
		if c.Trails.ScoreScale <= 0 {
			errs = append(errs, "trails.score_scale must be > 0")
		}
		if c.Trails.TopN < 1 {
			errs = append(errs, "trails.top_n must be >= 1")
		}
	}
	export := func() {
		if c.Export.Dir == "" {
			errs = append(errs, "export.dir is required")
		}
		for _, f := range c.Export.Formats {
			if !knownFormat(f) {
				errs = append(errs, "export.formats: unknown format "+f)
			}
		}
	}

	switch mode {
	case "run":
		grid()
		index()
		zonal()
		roads()
		trails()
		export()
	case "index":
		grid()
		index()
	case "roads":
		grid()
		zonal()
		roads()
	case "trails":
		grid()
		zonal()
		trails()
	case "export":
		export()
	case "workspace":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (w WeightsConfig) check() []string {
	groups := []struct {
		name   string
		values []float64
	}{
		{"weights.density", []float64{w.Density.Population, w.Density.Employment}},
		{"weights.transportation", []float64{
			w.Transportation.CircuitTrail, w.Transportation.NoVehicle,
			w.Transportation.Rail, w.Transportation.Trolley, w.Transportation.Bus,
		}},
		{"weights.health", []float64{w.Health.Obesity, w.Health.RespiratoryHazard}},
		{"weights.overall", []float64{
			w.Overall.Disadvantage, w.Overall.Density, w.Overall.Transportation, w.Overall.Health,
		}},
	}

	var errs []string
	for _, g := range groups {
		sum := 0.0
		for _, v := range g.values {
			if v < 0 {
				errs = append(errs, g.name+" values must be >= 0")
				break
			}
			sum += v
		}
		if math.Abs(sum-1) > weightTolerance {
			errs = append(errs, g.name+" must sum to 1")
		}
	}
	return errs
}

func knownFormat(f string) bool {
	for _, k := range ExportFormats {
		if f == k {
			return true
		}
	}
	return false
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
