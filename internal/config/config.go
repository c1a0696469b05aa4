// Package config loads the runtime's process configuration with
// viper, matching the teacher's internal/config layout: a root
// Config struct composed of per-subsystem sections, loadable from
// YAML with environment-variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete runtime configuration.
type Config struct {
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Autotune AutotuneConfig `mapstructure:"autotune"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// RuntimeConfig controls the worker pool and tile geometry.
type RuntimeConfig struct {
	WorkerCount   int `mapstructure:"worker_count"`
	TileSide      int `mapstructure:"tile_side"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

// CacheConfig controls per-device cache sizing.
type CacheConfig struct {
	SlotsPerDevice int `mapstructure:"slots_per_device"`
}

// AutotuneConfig names the coefficient source for the static autotuner.
type AutotuneConfig struct {
	// ComputeSeconds holds compute throughput in bytes/second, not a
	// time in seconds: pkg/autotune divides a task's operand bytes by
	// the matching entry to get its compute time.
	ComputeSeconds map[string]float64 `mapstructure:"compute_seconds"`
	LinkBandwidth  map[string]float64 `mapstructure:"link_bandwidth"`
}

// LoggingConfig controls the base logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the optional Prometheus registry.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Default returns the baseline configuration used when no file or
// environment overrides are present.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			WorkerCount:  4,
			TileSide:     256,
			PollInterval: 2 * time.Millisecond,
		},
		Cache: CacheConfig{
			SlotsPerDevice: 8,
		},
		Autotune: AutotuneConfig{
			ComputeSeconds: map[string]float64{},
			LinkBandwidth:  map[string]float64{"pcie": 12e9},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

// Load builds the configuration from three layers, highest precedence
// first: environment variables prefixed TILERUN_, the YAML file at path
// (if non-empty), then Default().
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TILERUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("runtime.worker_count", def.Runtime.WorkerCount)
	v.SetDefault("runtime.tile_side", def.Runtime.TileSide)
	v.SetDefault("runtime.poll_interval", def.Runtime.PollInterval)
	v.SetDefault("cache.slots_per_device", def.Cache.SlotsPerDevice)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("metrics.enabled", def.Metrics.Enabled)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.Autotune.ComputeSeconds == nil {
		cfg.Autotune.ComputeSeconds = def.Autotune.ComputeSeconds
	}
	if cfg.Autotune.LinkBandwidth == nil {
		cfg.Autotune.LinkBandwidth = def.Autotune.LinkBandwidth
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
