package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// Config holds all configuration for the ELT pipelines
type Config struct {
	Catalog   CatalogConfig   `yaml:"catalog"`
	Traffic   TrafficConfig   `yaml:"traffic"`
	Weather   WeatherConfig   `yaml:"weather"`
	Locations []Location      `yaml:"locations"`
	HTTP      HTTPConfig      `yaml:"http"`
	Staging   StagingConfig   `yaml:"staging"`
	Local     LocalConfig     `yaml:"local"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Slack     SlackConfig     `yaml:"slack"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// CatalogConfig holds settings for the paginated catalog API source
type CatalogConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	BatchSize   int    `yaml:"batch_size"`   // page size requested per fetch
	StartOffset int64  `yaml:"start_offset"` // used when no watermark exists yet
	MaxPages    int    `yaml:"max_pages"`    // 0 = run until a short page
	DedupeField string `yaml:"dedupe_field"` // parse-time de-dup field: name, url, or none (default: name)
	IDPattern   string `yaml:"id_pattern"`   // regexp extracting the numeric id from the url field
}

// TrafficConfig holds settings for the traffic flow-segment API source
type TrafficConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Zoom    int    `yaml:"zoom"`
	// RouteDistanceKM is the route length used for the derived travel-time
	// estimate. There is no sane default; it must be supplied explicitly
	// when the traffic source is enabled.
	RouteDistanceKM float64 `yaml:"route_distance_km"`
}

// WeatherConfig holds settings for the current-conditions weather API source
type WeatherConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Units   string `yaml:"units"`
}

// Location is one geographic point processed by the traffic and weather sources
type Location struct {
	Lat  float64 `yaml:"lat"`
	Lon  float64 `yaml:"lon"`
	Name string  `yaml:"name"`
}

// Point returns the "lat,lon" form used in API query strings.
func (l Location) Point() string {
	return fmt.Sprintf("%g,%g", l.Lat, l.Lon)
}

// HTTPConfig bounds outbound API requests
type HTTPConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// StagingConfig controls where and how staged Parquet snapshots are written
type StagingConfig struct {
	Folder          string `yaml:"folder"`
	TimestampFormat string `yaml:"timestamp_format"`
}

// LocalConfig holds the embedded destination database settings
type LocalConfig struct {
	Path string `yaml:"path"` // default: <data_dir>/catalog.db
}

// WarehouseConfig holds the PostgreSQL warehouse connection settings
type WarehouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Schema   string `yaml:"schema"`
	SSLMode  string `yaml:"ssl_mode"` // disable, require, verify-ca, verify-full (default: require)
	MaxConns int    `yaml:"max_conns"`
}

// ArchiveConfig holds optional S3 archival of staged files
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
	Prefix  string `yaml:"prefix"`
}

// SlackConfig holds Slack notification settings
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	Enabled    bool   `yaml:"enabled"`
}

// PipelineConfig holds run-level behavior settings
type PipelineConfig struct {
	DataDir string `yaml:"data_dir"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadBytes(data)
}

// LoadBytes reads configuration from YAML bytes. Environment references
// like ${TOMTOM_API_KEY} are expanded before parsing.
func LoadBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DefaultDataDir returns the default data directory for state storage.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".apielt")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

func (c *Config) applyDefaults() {
	if c.Catalog.BaseURL == "" {
		c.Catalog.BaseURL = "https://pokeapi.co/api/v2/pokemon"
	}
	if c.Catalog.BatchSize == 0 {
		c.Catalog.BatchSize = 50
	}
	if c.Catalog.DedupeField == "" {
		c.Catalog.DedupeField = "name"
	}
	if c.Catalog.IDPattern == "" {
		c.Catalog.IDPattern = `(\d+)/?$`
	}

	if c.Traffic.BaseURL == "" {
		c.Traffic.BaseURL = "https://api.tomtom.com/traffic/services/4/flowSegmentData/absolute"
	}
	if c.Traffic.Zoom == 0 {
		c.Traffic.Zoom = 10
	}

	if c.Weather.BaseURL == "" {
		c.Weather.BaseURL = "https://api.openweathermap.org/data/2.5/weather"
	}
	if c.Weather.Units == "" {
		c.Weather.Units = "metric"
	}

	if c.HTTP.TimeoutSeconds == 0 {
		c.HTTP.TimeoutSeconds = 10
	}

	if c.Staging.Folder == "" {
		c.Staging.Folder = "staged_data"
	}
	if c.Staging.TimestampFormat == "" {
		c.Staging.TimestampFormat = "20060102_150405"
	}

	if c.Warehouse.Port == 0 {
		c.Warehouse.Port = 5432
	}
	if c.Warehouse.Schema == "" {
		c.Warehouse.Schema = "public"
	}
	if c.Warehouse.SSLMode == "" {
		c.Warehouse.SSLMode = "require"
	}
	if c.Warehouse.MaxConns == 0 {
		c.Warehouse.MaxConns = 4
	}

	if c.Pipeline.DataDir == "" {
		home, _ := os.UserHomeDir()
		c.Pipeline.DataDir = filepath.Join(home, ".apielt")
	} else {
		c.Pipeline.DataDir = expandTilde(c.Pipeline.DataDir)
	}

	if c.Local.Path == "" {
		c.Local.Path = filepath.Join(c.Pipeline.DataDir, "catalog.db")
	} else {
		c.Local.Path = expandTilde(c.Local.Path)
	}
}

func (c *Config) validate() error {
	if !c.Catalog.Enabled && !c.Traffic.Enabled && !c.Weather.Enabled {
		return fmt.Errorf("no sources enabled: enable at least one of catalog, traffic, weather")
	}

	if c.Catalog.Enabled && c.Catalog.BatchSize < 1 {
		return fmt.Errorf("catalog.batch_size must be positive")
	}
	if c.Catalog.Enabled {
		switch c.Catalog.DedupeField {
		case "name", "url", "none":
		default:
			return fmt.Errorf("catalog.dedupe_field must be one of: name, url, none (got %q)", c.Catalog.DedupeField)
		}
	}

	if c.Traffic.Enabled {
		if c.Traffic.APIKey == "" {
			return fmt.Errorf("traffic.api_key is required when the traffic source is enabled")
		}
		if c.Traffic.RouteDistanceKM <= 0 {
			return fmt.Errorf("traffic.route_distance_km is required when the traffic source is enabled")
		}
	}
	if c.Weather.Enabled && c.Weather.APIKey == "" {
		return fmt.Errorf("weather.api_key is required when the weather source is enabled")
	}
	if (c.Traffic.Enabled || c.Weather.Enabled) && len(c.Locations) == 0 {
		return fmt.Errorf("locations is required when the traffic or weather source is enabled")
	}

	if c.Warehouse.Enabled {
		if c.Warehouse.Host == "" {
			return fmt.Errorf("warehouse.host is required when the warehouse is enabled")
		}
		if c.Warehouse.Database == "" {
			return fmt.Errorf("warehouse.database is required when the warehouse is enabled")
		}
		if c.Warehouse.User == "" {
			return fmt.Errorf("warehouse.user is required when the warehouse is enabled")
		}
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when archival is enabled")
	}

	return nil
}

// WarehouseDSN returns the warehouse connection string
func (c *Config) WarehouseDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Warehouse.User, c.Warehouse.Password, c.Warehouse.Host,
		c.Warehouse.Port, c.Warehouse.Database, c.Warehouse.SSLMode)
}

// Sanitized returns a copy of the config with sensitive fields redacted
func (c *Config) Sanitized() *Config {
	sanitized := *c // shallow copy

	if sanitized.Traffic.APIKey != "" {
		sanitized.Traffic.APIKey = "[REDACTED]"
	}
	if sanitized.Weather.APIKey != "" {
		sanitized.Weather.APIKey = "[REDACTED]"
	}
	sanitized.Warehouse.Password = "[REDACTED]"
	if sanitized.Slack.WebhookURL != "" {
		sanitized.Slack.WebhookURL = "[REDACTED]"
	}

	return &sanitized
}
