package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	defaultChartURL = "https://chartexp1.sha.maryland.gov/CHARTExportClientService/getEventMapDataJSON.do"
	defaultWTOPURL  = "https://wtop.com/traffic/"
)

// Config holds all service settings, populated from the environment and an
// optional sources file.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Scheduling.
	PollInterval        time.Duration
	CycleTimeout        time.Duration
	LivenessInterval    time.Duration
	LivenessMaxFailures int

	// Persistence.
	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	Chart ChartConfig
	WTOP  WTOPConfig

	// Optional change-event publisher; disabled when no brokers are set.
	KafkaBrokers []string
	KafkaTopic   string

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
	GeocodeRegion   string
}

// ChartConfig configures the JSON feed source.
type ChartConfig struct {
	URL     string        `yaml:"url"`
	County  string        `yaml:"county"`
	Timeout time.Duration `yaml:"timeout"`
}

// WTOPConfig configures the rendered-page source.
type WTOPConfig struct {
	URL          string         `yaml:"url"`
	NavTimeout   time.Duration  `yaml:"nav_timeout"`
	ReadyTimeout time.Duration  `yaml:"ready_timeout"`
	BatchSize    int            `yaml:"batch_size"`
	Timezone     string         `yaml:"timezone"`
	ChromePath   string         `yaml:"chrome_path"`
	Selectors    Selectors      `yaml:"selectors"`
	Location     *time.Location `yaml:"-"`
}

// Selectors locate incident fields on the rendered page. Item-relative
// selectors are evaluated inside each Item match.
type Selectors struct {
	Ready       string `yaml:"ready" json:"ready"`
	Item        string `yaml:"item" json:"item"`
	IDAttr      string `yaml:"id_attr" json:"idAttr"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
	Location    string `yaml:"location" json:"location"`
	Direction   string `yaml:"direction" json:"direction"`
	Blockage    string `yaml:"blockage" json:"blockage"`
	Type        string `yaml:"type" json:"type"`
	Footer      string `yaml:"footer" json:"footer"`
}

// DefaultSelectors matches the WTOP traffic page markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Ready:       ".traffic-incidents",
		Item:        ".traffic-incident",
		IDAttr:      "data-id",
		Title:       ".incident-title",
		Description: ".incident-description",
		Location:    ".incident-location",
		Direction:   ".incident-direction",
		Blockage:    ".incident-blockage",
		Type:        ".incident-type",
		Footer:      ".incident-footer",
	}
}

// sourcesFile is the shape of the optional SOURCES_FILE document.
type sourcesFile struct {
	Chart ChartConfig `yaml:"chart"`
	WTOP  WTOPConfig  `yaml:"wtop"`
}

// Load reads configuration from a .env file (if present), the SOURCES_FILE
// document (if set) and environment variables, applying defaults where unset.
// Environment variables take precedence over the sources file.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		StoreDriver:     strings.ToLower(sharedcfg.EnvOrDefault("STORE_DRIVER", DriverPostgres)),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SQLitePath:      sharedcfg.EnvOrDefault("SQLITE_PATH", "data/incidents.db"),
		KafkaBrokers:    sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:      sharedcfg.EnvOrDefault("KAFKA_TOPIC", "traffic-incidents"),
		MapboxToken:     os.Getenv("MAPBOX_TOKEN"),
		GeocodeRegion:   sharedcfg.EnvOrDefault("GEOCODE_REGION", "MD"),
		Chart: ChartConfig{
			URL:     defaultChartURL,
			County:  "Montgomery",
			Timeout: 30 * time.Second,
		},
		WTOP: WTOPConfig{
			URL:          defaultWTOPURL,
			NavTimeout:   30 * time.Second,
			ReadyTimeout: 15 * time.Second,
			BatchSize:    5,
			Timezone:     "America/New_York",
			Selectors:    DefaultSelectors(),
		},
	}

	if path := os.Getenv("SOURCES_FILE"); path != "" {
		if err := cfg.applySourcesFile(path); err != nil {
			return nil, err
		}
	}

	durations := []struct {
		name string
		def  string
		dst  *time.Duration
	}{
		{"POLL_INTERVAL", "5m", &cfg.PollInterval},
		{"CYCLE_TIMEOUT", "4m", &cfg.CycleTimeout},
		{"LIVENESS_INTERVAL", "1m", &cfg.LivenessInterval},
		{"MAPBOX_TIMEOUT", "5s", &cfg.MapboxTimeout},
		{"CHART_TIMEOUT", cfg.Chart.Timeout.String(), &cfg.Chart.Timeout},
		{"WTOP_NAV_TIMEOUT", cfg.WTOP.NavTimeout.String(), &cfg.WTOP.NavTimeout},
		{"WTOP_READY_TIMEOUT", cfg.WTOP.ReadyTimeout.String(), &cfg.WTOP.ReadyTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = parsePositiveDuration(d.name, d.def); err != nil {
			return nil, err
		}
	}

	if cfg.LivenessMaxFailures, err = parseIntRange("LIVENESS_MAX_FAILURES", 3, 1, 100); err != nil {
		return nil, err
	}
	if cfg.WTOP.BatchSize, err = parseIntRange("WTOP_BATCH_SIZE", cfg.WTOP.BatchSize, 1, 50); err != nil {
		return nil, err
	}
	cfg.MapboxCacheSize = parseMapboxCacheSize()

	cfg.Chart.URL = sharedcfg.EnvOrDefault("CHART_URL", cfg.Chart.URL)
	cfg.Chart.County = sharedcfg.EnvOrDefault("CHART_COUNTY", cfg.Chart.County)
	cfg.WTOP.URL = sharedcfg.EnvOrDefault("WTOP_URL", cfg.WTOP.URL)
	cfg.WTOP.Timezone = sharedcfg.EnvOrDefault("WTOP_TIMEZONE", cfg.WTOP.Timezone)
	cfg.WTOP.ChromePath = sharedcfg.EnvOrDefault("CHROME_PATH", cfg.WTOP.ChromePath)

	cfg.WTOP.Location, err = time.LoadLocation(cfg.WTOP.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid WTOP_TIMEZONE: %w", err)
	}

	cfg.MapboxEnabled = cfg.MapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		cfg.MapboxEnabled = v == "true"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required when STORE_DRIVER is sqlite")
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q: must be postgres or sqlite", c.StoreDriver)
	}
	if c.Chart.URL == "" {
		return errors.New("CHART_URL is required")
	}
	if c.WTOP.URL == "" {
		return errors.New("WTOP_URL is required")
	}
	if c.WTOP.BatchSize < 1 || c.WTOP.BatchSize > 50 {
		return errors.New("invalid WTOP_BATCH_SIZE: must be 1-50")
	}
	if c.WTOP.Selectors.Ready == "" || c.WTOP.Selectors.Item == "" {
		return errors.New("wtop selectors ready and item are required")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	if c.MapboxEnabled && c.MapboxToken == "" {
		return errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	return nil
}

// applySourcesFile overlays non-zero values from the YAML document at path.
func (c *Config) applySourcesFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read SOURCES_FILE: %w", err)
	}
	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse SOURCES_FILE: %w", err)
	}

	overlay(&c.Chart.URL, f.Chart.URL)
	overlay(&c.Chart.County, f.Chart.County)
	overlay(&c.Chart.Timeout, f.Chart.Timeout)

	overlay(&c.WTOP.URL, f.WTOP.URL)
	overlay(&c.WTOP.NavTimeout, f.WTOP.NavTimeout)
	overlay(&c.WTOP.ReadyTimeout, f.WTOP.ReadyTimeout)
	overlay(&c.WTOP.BatchSize, f.WTOP.BatchSize)
	overlay(&c.WTOP.Timezone, f.WTOP.Timezone)
	overlay(&c.WTOP.ChromePath, f.WTOP.ChromePath)

	s, fs := &c.WTOP.Selectors, f.WTOP.Selectors
	overlay(&s.Ready, fs.Ready)
	overlay(&s.Item, fs.Item)
	overlay(&s.IDAttr, fs.IDAttr)
	overlay(&s.Title, fs.Title)
	overlay(&s.Description, fs.Description)
	overlay(&s.Location, fs.Location)
	overlay(&s.Direction, fs.Direction)
	overlay(&s.Blockage, fs.Blockage)
	overlay(&s.Type, fs.Type)
	overlay(&s.Footer, fs.Footer)
	return nil
}

func overlay[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

func parsePositiveDuration(name, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", name)
	}
	return d, nil
}

func parseIntRange(name string, def, lo, hi int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be %d-%d", name, lo, hi)
	}
	return n, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
