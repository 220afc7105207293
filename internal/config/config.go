package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/gridmap/internal/grid"
	"github.com/sells-group/gridmap/internal/region"
	"github.com/sells-group/gridmap/internal/resilience"
	"github.com/sells-group/gridmap/internal/viewport"
)

// Config holds the full application configuration.
type Config struct {
	Grid     GridConfig     `yaml:"grid" mapstructure:"grid"`
	Dataset  DatasetConfig  `yaml:"dataset" mapstructure:"dataset"`
	Geometry GeometryConfig `yaml:"geometry" mapstructure:"geometry"`
	Viewport ViewportConfig `yaml:"viewport" mapstructure:"viewport"`
	Gesture  GestureConfig  `yaml:"gesture" mapstructure:"gesture"`
	Detail   DetailConfig   `yaml:"detail" mapstructure:"detail"`
	Basemap  BasemapConfig  `yaml:"basemap" mapstructure:"basemap"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// GridConfig sets the cell size in degrees.
type GridConfig struct {
	Size float64 `yaml:"size" mapstructure:"size"`
}

// DatasetConfig locates the per-period classification records.
type DatasetConfig struct {
	Manifest string `yaml:"manifest" mapstructure:"manifest"`
	Period   string `yaml:"period" mapstructure:"period"`
	Charset  string `yaml:"charset" mapstructure:"charset"`
}

// GeometryConfig locates region boundaries and cell footprints.
type GeometryConfig struct {
	Regions        string `yaml:"regions" mapstructure:"regions"`
	Cells          string `yaml:"cells" mapstructure:"cells"`
	IDProperty     string `yaml:"id_property" mapstructure:"id_property"`
	NameProperty   string `yaml:"name_property" mapstructure:"name_property"`
	CellIDProperty string `yaml:"cell_id_property" mapstructure:"cell_id_property"`
	Charset        string `yaml:"charset" mapstructure:"charset"`
	OverlapPolicy  string `yaml:"overlap_policy" mapstructure:"overlap_policy"`
	Workers        int    `yaml:"workers" mapstructure:"workers"`
}

// ViewportConfig is the initial map view.
type ViewportConfig struct {
	CenterLon    float64 `yaml:"center_lon" mapstructure:"center_lon"`
	CenterLat    float64 `yaml:"center_lat" mapstructure:"center_lat"`
	Zoom         float64 `yaml:"zoom" mapstructure:"zoom"`
	Width        float64 `yaml:"width" mapstructure:"width"`
	Height       float64 `yaml:"height" mapstructure:"height"`
	DrillZoom    float64 `yaml:"drill_zoom" mapstructure:"drill_zoom"`
	OverviewZoom float64 `yaml:"overview_zoom" mapstructure:"overview_zoom"`
}

// GestureConfig sets the click/drag threshold in pixels.
type GestureConfig struct {
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
}

// DetailConfig configures the cell detail backend. When LocalData is set the
// backend is served in-process from that CSV.
type DetailConfig struct {
	URL         string        `yaml:"url" mapstructure:"url"`
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	Breaker     BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
	LocalData   string        `yaml:"local_data" mapstructure:"local_data"`
	LocalDSN    string        `yaml:"local_dsn" mapstructure:"local_dsn"`
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CoolDownSecs     int `yaml:"cool_down_secs" mapstructure:"cool_down_secs"`
}

// BasemapConfig configures the tile proxy.
type BasemapConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	URL             string        `yaml:"url" mapstructure:"url"`
	UserAgent       string        `yaml:"user_agent" mapstructure:"user_agent"`
	CacheEntries    int           `yaml:"cache_entries" mapstructure:"cache_entries"`
	CacheTTLMins    int           `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
	PrefetchWorkers int           `yaml:"prefetch_workers" mapstructure:"prefetch_workers"`
	Breaker         BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port             int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins   []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ReadyTimeoutSecs int      `yaml:"ready_timeout_secs" mapstructure:"ready_timeout_secs"`
}

// LogConfig controls logging behavior.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GRIDMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("grid.size", grid.DefaultSize)
	v.SetDefault("dataset.manifest", "periods.yaml")
	v.SetDefault("dataset.period", "")
	v.SetDefault("dataset.charset", "")
	v.SetDefault("geometry.regions", "")
	v.SetDefault("geometry.cells", "")
	v.SetDefault("geometry.id_property", "adm_cd")
	v.SetDefault("geometry.name_property", "adm_nm")
	v.SetDefault("geometry.cell_id_property", "gid")
	v.SetDefault("geometry.charset", "euc-kr")
	v.SetDefault("geometry.overlap_policy", "first_match")
	v.SetDefault("geometry.workers", 0)
	v.SetDefault("viewport.center_lon", 127.3845)
	v.SetDefault("viewport.center_lat", 36.3504)
	v.SetDefault("viewport.zoom", 12)
	v.SetDefault("viewport.width", 1280)
	v.SetDefault("viewport.height", 800)
	v.SetDefault("viewport.drill_zoom", 15)
	v.SetDefault("viewport.overview_zoom", 12)
	v.SetDefault("gesture.threshold", 5)
	v.SetDefault("detail.url", "http://localhost:8000")
	v.SetDefault("detail.timeout_secs", 10)
	v.SetDefault("detail.rate_limit", 10)
	v.SetDefault("detail.breaker.failure_threshold", 5)
	v.SetDefault("detail.breaker.cool_down_secs", 30)
	v.SetDefault("detail.local_data", "")
	v.SetDefault("detail.local_dsn", "file::memory:")
	v.SetDefault("basemap.enabled", true)
	v.SetDefault("basemap.url", "https://tile.openstreetmap.org/{z}/{x}/{y}.png")
	v.SetDefault("basemap.user_agent", "gridmap/1.0")
	v.SetDefault("basemap.cache_entries", 2048)
	v.SetDefault("basemap.cache_ttl_mins", 60)
	v.SetDefault("basemap.prefetch_workers", 4)
	v.SetDefault("basemap.breaker.failure_threshold", 10)
	v.SetDefault("basemap.breaker.cool_down_secs", 15)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.ready_timeout_secs", 30)
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

// Validate checks the settings a command depends on. Geometry is only
// required when requireGeometry is set.
func (c *Config) Validate(requireGeometry bool) error {
	var missing []string
	if c.Grid.Size <= 0 {
		missing = append(missing, "grid.size must be positive")
	}
	if _, err := region.ParseOverlapPolicy(c.Geometry.OverlapPolicy); err != nil {
		missing = append(missing, "geometry.overlap_policy must be first_match or multi")
	}
	if requireGeometry {
		if c.Geometry.Regions == "" {
			missing = append(missing, "geometry.regions is required")
		}
		if c.Geometry.Cells == "" {
			missing = append(missing, "geometry.cells is required")
		}
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		missing = append(missing, "viewport.width and viewport.height must be positive")
	}
	if len(missing) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(missing, "; "))
	}
	return nil
}

// Index returns the grid index for the configured cell size.
func (c *Config) Index() (grid.Index, error) {
	return grid.NewIndex(c.Grid.Size)
}

// Transform returns the initial viewport.
func (c *Config) Transform() (viewport.Transform, error) {
	v := c.Viewport
	return viewport.NewTransform(grid.Coord{Lon: v.CenterLon, Lat: v.CenterLat}, v.Zoom, v.Width, v.Height)
}

// Resilience converts to circuit breaker settings.
func (b BreakerConfig) Resilience() resilience.Config {
	return resilience.NewConfig(b.FailureThreshold, time.Duration(b.CoolDownSecs)*time.Second)
}

// Timeout returns the per-request detail timeout.
func (d DetailConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSecs) * time.Second
}

// CacheTTL returns the tile cache entry lifetime.
func (b BasemapConfig) CacheTTL() time.Duration {
	return time.Duration(b.CacheTTLMins) * time.Minute
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
