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
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, `[A-Z]+_ADDRESS_DEFAULT_GEOCODE_psv`, cfg.Data.GNAFPattern)
	assert.Equal(t, `2021Census_G\d+[A-Z]?_AUST_SA1`, cfg.Data.CensusPattern)
	assert.Equal(t, "EPSG:7844", cfg.Data.CRS)
	assert.Equal(t, "SA1_CODE_2021", cfg.Data.RegionColumn)
	assert.Equal(t, "SA1_CODE21", cfg.Data.AreaCodeField)
	assert.Equal(t, "Tot_", cfg.Data.TotalPrefix)
	assert.Equal(t, int64(42), cfg.Simulation.Seed)
	assert.Equal(t, "none", cfg.Simulation.UnmatchedPolicy)
	assert.Equal(t, 4, cfg.Simulation.Workers)
	assert.Equal(t, "allocated.csv", cfg.Output.Path)
	assert.Equal(t, 100000, cfg.Output.ChunkSize)
	assert.Equal(t, "allocated_persons", cfg.Output.Table)
	assert.True(t, cfg.Cache.Enabled)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
data:
  gnaf_dir: /data/gnaf
  shapefile_path: /data/sa1.shp
  census_dir: /data/census
log:
  level: debug
  format: console
simulation:
  seed: 7
  unmatched_policy: nearest
output:
  chunk_size: 5000
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/gnaf", cfg.Data.GNAFDir)
	assert.Equal(t, "/data/sa1.shp", cfg.Data.ShapefilePath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, int64(7), cfg.Simulation.Seed)
	assert.Equal(t, "nearest", cfg.Simulation.UnmatchedPolicy)
	assert.Equal(t, 5000, cfg.Output.ChunkSize)
	// Defaults still apply for unset values
	assert.Equal(t, "EPSG:7844", cfg.Data.CRS)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
simulation:
  seed: 7
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("SYNTHPOP_LOG_LEVEL", "warn")
	t.Setenv("SYNTHPOP_SIMULATION_SEED", "99")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, int64(99), cfg.Simulation.Seed)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("SYNTHPOP_OUTPUT_CHUNK_SIZE", "250")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.Output.ChunkSize)
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
