// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Data       DataConfig       `yaml:"data" mapstructure:"data"`
	Simulation SimulationConfig `yaml:"simulation" mapstructure:"simulation"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// DataConfig locates the input datasets.
type DataConfig struct {
	GNAFDir          string   `yaml:"gnaf_dir" mapstructure:"gnaf_dir"`
	GNAFPattern      string   `yaml:"gnaf_pattern" mapstructure:"gnaf_pattern"`
	ShapefilePath    string   `yaml:"shapefile_path" mapstructure:"shapefile_path"`
	CensusDir        string   `yaml:"census_dir" mapstructure:"census_dir"`
	CensusPattern    string   `yaml:"census_pattern" mapstructure:"census_pattern"`
	CRS              string   `yaml:"crs" mapstructure:"crs"`
	RegionColumn     string   `yaml:"region_column" mapstructure:"region_column"`
	AreaCodeField    string   `yaml:"area_code_field" mapstructure:"area_code_field"`
	AreaNameField    string   `yaml:"area_name_field" mapstructure:"area_name_field"`
	TotalPrefix      string   `yaml:"total_prefix" mapstructure:"total_prefix"`
	RegionCodeFilter []string `yaml:"region_code_filter" mapstructure:"region_code_filter"`
}

// SimulationConfig configures the allocation run.
type SimulationConfig struct {
	Seed            int64  `yaml:"seed" mapstructure:"seed"`
	TablesFile      string `yaml:"tables_file" mapstructure:"tables_file"`
	UnmatchedPolicy string `yaml:"unmatched_policy" mapstructure:"unmatched_policy"`
	Workers         int    `yaml:"workers" mapstructure:"workers"`
}

// OutputConfig configures the result sink.
type OutputConfig struct {
	Path        string `yaml:"path" mapstructure:"path"`
	ChunkSize   int    `yaml:"chunk_size" mapstructure:"chunk_size"`
	PostgresURL string `yaml:"postgres_url" mapstructure:"postgres_url"`
	Table       string `yaml:"table" mapstructure:"table"`
}

// CacheConfig configures the local attribution cache.
type CacheConfig struct {
	Path    string `yaml:"path" mapstructure:"path"`
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
}

// LogConfig configures logging.
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
	v.SetEnvPrefix("SYNTHPOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("data.gnaf_pattern", `[A-Z]+_ADDRESS_DEFAULT_GEOCODE_psv`)
	v.SetDefault("data.census_pattern", `2021Census_G\d+[A-Z]?_AUST_SA1`)
	v.SetDefault("data.crs", "EPSG:7844")
	v.SetDefault("data.region_column", "SA1_CODE_2021")
	v.SetDefault("data.area_code_field", "SA1_CODE21")
	v.SetDefault("data.area_name_field", "SA2_NAME21")
	v.SetDefault("data.total_prefix", "Tot_")
	v.SetDefault("simulation.seed", 42)
	v.SetDefault("simulation.tables_file", "tables.yml")
	v.SetDefault("simulation.unmatched_policy", "none")
	v.SetDefault("simulation.workers", 4)
	v.SetDefault("output.path", "allocated.csv")
	v.SetDefault("output.chunk_size", 100000)
	v.SetDefault("output.table", "allocated_persons")
	v.SetDefault("cache.path", "synthpop_cache.db")
	v.SetDefault("cache.enabled", true)

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
