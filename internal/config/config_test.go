package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

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
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 0.001, cfg.Grid.Size, 1e-12)
	assert.Equal(t, "periods.yaml", cfg.Dataset.Manifest)
	assert.Equal(t, "first_match", cfg.Geometry.OverlapPolicy)
	assert.Equal(t, "euc-kr", cfg.Geometry.Charset)
	assert.InDelta(t, 15.0, cfg.Viewport.DrillZoom, 0.001)
	assert.InDelta(t, 12.0, cfg.Viewport.OverviewZoom, 0.001)
	assert.InDelta(t, 5.0, cfg.Gesture.Threshold, 0.001)
	assert.Equal(t, 10, cfg.Detail.TimeoutSecs)
	assert.Equal(t, 10*time.Second, cfg.Detail.Timeout())
	assert.Equal(t, 5, cfg.Detail.Breaker.FailureThreshold)
	assert.Equal(t, "file::memory:", cfg.Detail.LocalDSN)
	assert.True(t, cfg.Basemap.Enabled)
	assert.Equal(t, 2048, cfg.Basemap.CacheEntries)
	assert.Equal(t, time.Hour, cfg.Basemap.CacheTTL())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
grid:
  size: 0.0005
geometry:
  regions: dong.shp
  cells: grid.geojson
  overlap_policy: multi
log:
  level: debug
  format: console
server:
  port: 9090
  allowed_origins:
    - http://localhost:3000
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 0.0005, cfg.Grid.Size, 1e-12)
	assert.Equal(t, "dong.shp", cfg.Geometry.Regions)
	assert.Equal(t, "multi", cfg.Geometry.OverlapPolicy)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	// Defaults still apply for unset values
	assert.Equal(t, 2048, cfg.Basemap.CacheEntries)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
detail:
  url: http://file.example
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("GRIDMAP_DETAIL_URL", "http://env.example")
	t.Setenv("GRIDMAP_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "http://env.example", cfg.Detail.URL)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("GRIDMAP_SERVER_PORT", "3000")
	t.Setenv("GRIDMAP_DETAIL_BREAKER_COOL_DOWN_SECS", "5")
	t.Setenv("GRIDMAP_DATASET_PERIOD", "2024-08")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Detail.Breaker.Resilience().CoolDown)
	assert.Equal(t, "2024-08", cfg.Dataset.Period)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("grid: [\n"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with the fields Validate checks populated.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Grid.Size = 0.001
	cfg.Geometry.OverlapPolicy = "first_match"
	cfg.Geometry.Regions = "dong.geojson"
	cfg.Geometry.Cells = "grid.geojson"
	cfg.Viewport.Width = 800
	cfg.Viewport.Height = 600
	cfg.Viewport.Zoom = 12
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		geometry bool
		wantErr  string
	}{
		{name: "valid", mutate: func(*Config) {}, geometry: true},
		{name: "zero grid", mutate: func(c *Config) { c.Grid.Size = 0 }, wantErr: "grid.size"},
		{name: "bad policy", mutate: func(c *Config) { c.Geometry.OverlapPolicy = "last" }, wantErr: "overlap_policy"},
		{name: "missing regions", mutate: func(c *Config) { c.Geometry.Regions = "" }, geometry: true, wantErr: "geometry.regions"},
		{name: "geometry optional", mutate: func(c *Config) { c.Geometry.Cells = "" }},
		{name: "zero viewport", mutate: func(c *Config) { c.Viewport.Height = 0 }, wantErr: "viewport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate(tt.geometry)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grid.size")
	assert.Contains(t, err.Error(), "geometry.cells")
	assert.Contains(t, err.Error(), "viewport")
}

func TestIndexAndTransform(t *testing.T) {
	cfg := validDefaults()
	cfg.Viewport.CenterLon = 127.38
	cfg.Viewport.CenterLat = 36.35

	idx, err := cfg.Index()
	require.NoError(t, err)
	assert.InDelta(t, 0.001, idx.Size(), 1e-12)

	tr, err := cfg.Transform()
	require.NoError(t, err)
	assert.InDelta(t, 12.0, tr.Zoom(), 0.001)
	assert.InDelta(t, 127.38, tr.Center().Lon, 1e-9)
}
