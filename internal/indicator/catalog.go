// Package indicator turns the raw indicator datasets into score rasters on
// the analysis grid.
package indicator

import (
	"math"
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Indicator identifiers. The aggregator looks rasters up by these.
const (
	PopulationDensity = "population_density"
	EmploymentDensity = "employment_density"
	CircuitTrail      = "circuit_trail"
	NoVehicle         = "no_vehicle"
	Rail              = "rail"
	Trolley           = "trolley"
	Bus               = "bus"
	Obesity           = "obesity"
	RespiratoryHazard = "respiratory_hazard"
	DisadvantageIndex = "disadvantage_index"
)

// IDs lists every indicator in catalog order.
var IDs = []string{
	DisadvantageIndex,
	PopulationDensity,
	EmploymentDensity,
	CircuitTrail,
	NoVehicle,
	Rail,
	Trolley,
	Bus,
	Obesity,
	RespiratoryHazard,
}

// Pattern selects how an indicator is derived.
type Pattern string

const (
	// PatternDensity rasterizes a polygon attribute, optionally joined from a
	// table and divided by polygon area, and classifies it with natural
	// breaks.
	PatternDensity Pattern = "density"
	// PatternDistance measures distance to the nearest source feature and
	// reclassifies it through a fixed band table.
	PatternDistance Pattern = "distance"
	// PatternPassthrough classifies a prepared raster with natural breaks.
	PatternPassthrough Pattern = "passthrough"
)

// Join attaches a value from an attribute table to source polygons.
type Join struct {
	Table    string `yaml:"table"`
	GeomKey  string `yaml:"geom_key"`
	TableKey string `yaml:"table_key"`
	Field    string `yaml:"field"`
	SkipRows int    `yaml:"skip_rows"`
	Sheet    string `yaml:"sheet"`
}

// Band maps distances up to Max (inclusive) to Score. Bands are ascending;
// the first starts at zero and the last may be .inf.
type Band struct {
	Max   float64 `yaml:"max"`
	Score float64 `yaml:"score"`
}

// Descriptor declares one indicator.
type Descriptor struct {
	ID        string  `yaml:"id"`
	Title     string  `yaml:"title"`
	Pattern   Pattern `yaml:"pattern"`
	Source    string  `yaml:"source"`
	SourceCRS string  `yaml:"source_crs"`
	Attribute string  `yaml:"attribute"`
	// PerArea divides the value by the polygon area in square kilometres.
	PerArea bool   `yaml:"per_area"`
	Join    *Join  `yaml:"join,omitempty"`
	Bands   []Band `yaml:"bands,omitempty"`
}

// Catalog is the ordered set of indicator descriptors.
type Catalog []Descriptor

// Lookup returns the descriptor for id.
func (c Catalog) Lookup(id string) (Descriptor, bool) {
	for _, d := range c {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// DefaultCatalog returns the built-in descriptors for the ten indicators.
// Source paths are relative to the indicator data directory.
func DefaultCatalog() Catalog {
	inf := math.Inf(1)
	return Catalog{
		{
			ID: DisadvantageIndex, Title: "Indicators of Potential Disadvantage",
			Pattern: PatternDensity, Source: "IPD/DVRPC_IPD_2016.shp", SourceCRS: "EPSG:4269",
			Attribute: "IPD_Score",
		},
		{
			ID: PopulationDensity, Title: "Population density",
			Pattern: PatternDensity, Source: "Census/tl_2017_42_tract.shp", SourceCRS: "EPSG:4269",
			PerArea: true,
			Join: &Join{
				Table: "Census/ACS_17_5YR_B01003.csv", GeomKey: "GEOID", TableKey: "GEO.id2",
				Field: "HD01_VD01", SkipRows: 1,
			},
		},
		{
			ID: EmploymentDensity, Title: "Employment density",
			Pattern: PatternDensity, Source: "LEHD/pa_wac_blocks.shp", SourceCRS: "EPSG:4269",
			Attribute: "C000", PerArea: true,
		},
		{
			ID: CircuitTrail, Title: "Distance to the Circuit Trails",
			Pattern: PatternDistance, Source: "Circuit/Circuit_Trails.shp", SourceCRS: "EPSG:4326",
			Bands: []Band{{400, 20}, {800, 15}, {1600, 10}, {3200, 5}, {inf, 1}},
		},
		{
			ID: NoVehicle, Title: "Households with no vehicle",
			Pattern: PatternDensity, Source: "Census/tl_2017_42_tract.shp", SourceCRS: "EPSG:4269",
			Join: &Join{
				Table: "Census/ACS_17_5YR_B08201.csv", GeomKey: "GEOID", TableKey: "GEO.id2",
				Field: "HD01_VD03", SkipRows: 1,
			},
		},
		{
			ID: Rail, Title: "Distance to regional rail stations",
			Pattern: PatternDistance, Source: "Transit/Regional_Rail_Stations.shp", SourceCRS: "EPSG:4326",
			Bands: []Band{{200, 5}, {800, 20}, {1600, 15}, {3200, 10}, {inf, 1}},
		},
		{
			ID: Trolley, Title: "Distance to trolley stops",
			Pattern: PatternDistance, Source: "Transit/Trolley_Stops.shp", SourceCRS: "EPSG:4326",
			Bands: []Band{{100, 5}, {400, 20}, {800, 15}, {1600, 10}, {inf, 1}},
		},
		{
			ID: Bus, Title: "Distance to bus stops",
			Pattern: PatternDistance, Source: "Transit/Bus_Stops.shp", SourceCRS: "EPSG:4326",
			Bands: []Band{{50, 5}, {400, 20}, {800, 10}, {inf, 1}},
		},
		{
			ID: Obesity, Title: "Adult obesity",
			Pattern: PatternDensity, Source: "Census/tl_2017_42_tract.shp", SourceCRS: "EPSG:4269",
			Join: &Join{
				Table: "CDC/500_Cities_Obesity.csv", GeomKey: "GEOID", TableKey: "TractFIPS",
				Field: "OBESITY_CrudePrev",
			},
		},
		{
			ID: RespiratoryHazard, Title: "Respiratory hazard index",
			Pattern: PatternPassthrough, Source: "EPA/NATA_Respiratory_HI.asc",
		},
	}
}

// LoadCatalog reads a YAML catalog and overlays it on DefaultCatalog by
// id. Keys absent from an entry keep their default values.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "indicator: read catalog %s", path)
	}

	// The YAML has a top-level "indicators" key
	var wrapper struct {
		Indicators []yaml.Node `yaml:"indicators"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "indicator: parse catalog")
	}

	cat := DefaultCatalog()
	for _, node := range wrapper.Indicators {
		var head struct {
			ID string `yaml:"id"`
		}
		if err := node.Decode(&head); err != nil {
			return nil, eris.Wrap(err, "indicator: parse catalog entry")
		}
		i := slices.IndexFunc(cat, func(d Descriptor) bool { return d.ID == head.ID })
		if i < 0 {
			return nil, eris.Errorf("indicator: catalog entry %q is not a known indicator", head.ID)
		}
		if err := node.Decode(&cat[i]); err != nil {
			return nil, eris.Wrapf(err, "indicator: parse catalog entry %q", head.ID)
		}
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

// Validate checks that the catalog holds every indicator once and that each
// descriptor is complete for its pattern.
func (c Catalog) Validate() error {
	seen := make(map[string]bool, len(c))
	for _, d := range c {
		if seen[d.ID] {
			return eris.Errorf("indicator: duplicate descriptor %q", d.ID)
		}
		seen[d.ID] = true
		if err := d.Validate(); err != nil {
			return err
		}
	}
	for _, id := range IDs {
		if !seen[id] {
			return eris.Errorf("indicator: catalog has no descriptor for %q", id)
		}
	}
	return nil
}

// Validate checks a single descriptor.
func (d Descriptor) Validate() error {
	if d.Source == "" {
		return eris.Errorf("indicator: %s: source is required", d.ID)
	}
	switch d.Pattern {
	case PatternDensity:
		if d.Join == nil && d.Attribute == "" {
			return eris.Errorf("indicator: %s: density needs an attribute or a join", d.ID)
		}
		if j := d.Join; j != nil && (j.Table == "" || j.GeomKey == "" || j.TableKey == "" || j.Field == "") {
			return eris.Errorf("indicator: %s: join needs table, geom_key, table_key and field", d.ID)
		}
	case PatternDistance:
		if len(d.Bands) == 0 {
			return eris.Errorf("indicator: %s: distance needs bands", d.ID)
		}
		prev := 0.0
		for i, b := range d.Bands {
			if b.Max <= prev {
				return eris.Errorf("indicator: %s: band %d max %v is not above %v", d.ID, i, b.Max, prev)
			}
			if b.Score < 1 || b.Score > MaxScore || b.Score != math.Trunc(b.Score) {
				return eris.Errorf("indicator: %s: band %d score %v outside 1..%d", d.ID, i, b.Score, MaxScore)
			}
			prev = b.Max
		}
	case PatternPassthrough:
	default:
		return eris.Errorf("indicator: %s: unknown pattern %q", d.ID, d.Pattern)
	}
	return nil
}
