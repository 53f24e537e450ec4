// Package config handles configuration loading for backtrail.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/seenimoa/backtrail/internal/exec"
)

// Config represents the complete application configuration.
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"  yaml:"engine"`
	Data    DataConfig    `mapstructure:"data"    yaml:"data"`
	Store   StoreConfig   `mapstructure:"store"   yaml:"store"`
	API     APIConfig     `mapstructure:"api"     yaml:"api"`
	Sweep   SweepConfig   `mapstructure:"sweep"   yaml:"sweep"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// EngineConfig holds simulation parameters.
type EngineConfig struct {
	InitialCapital    float64               `mapstructure:"initial_capital"     yaml:"initial_capital"`
	CommissionRate    float64               `mapstructure:"commission_rate"     yaml:"commission_rate"`
	SlippageRate      float64               `mapstructure:"slippage_rate"       yaml:"slippage_rate"`
	LotSize           float64               `mapstructure:"lot_size"            yaml:"lot_size"`
	TieredCommission  []exec.CommissionTier `mapstructure:"tiered_commission"   yaml:"tiered_commission"`
	RiskFreeRate      float64               `mapstructure:"risk_free_rate"      yaml:"risk_free_rate"`
	WeightScheme      string                `mapstructure:"weight_scheme"       yaml:"weight_scheme"`
	FixedWeights      map[string]float64    `mapstructure:"fixed_weights"       yaml:"fixed_weights"`
	RebalanceFreq     string                `mapstructure:"rebalance_frequency" yaml:"rebalance_frequency"`
	RebalanceDay      int                   `mapstructure:"rebalance_day"       yaml:"rebalance_day"` // weekly: 0=Monday
	DriftThresholdPct float64               `mapstructure:"drift_threshold_pct" yaml:"drift_threshold_pct"`
}

// DataConfig holds bar data locations.
type DataConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"` // directory of per-symbol CSV files
}

// StoreConfig holds result persistence settings.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"` // SQLite database file
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// SweepConfig holds parameter sweep settings.
type SweepConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent"` // 0 = GOMAXPROCS
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.backtrail/config.yaml (home directory)
//  3. /etc/backtrail/config.yaml (system)
//
// Environment variables override config file values.
// Format: BACKTRAIL_<SECTION>_<KEY>, e.g., BACKTRAIL_ENGINE_INITIAL_CAPITAL
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".backtrail"))
	v.AddConfigPath("/etc/backtrail")

	v.SetEnvPrefix("BACKTRAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("BACKTRAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine would refuse anyway, so
// mistakes surface at startup rather than first run.
func (c *Config) Validate() error {
	if c.Engine.InitialCapital <= 0 {
		return fmt.Errorf("engine.initial_capital must be > 0, got %v", c.Engine.InitialCapital)
	}
	if c.Engine.CommissionRate < 0 || c.Engine.SlippageRate < 0 {
		return fmt.Errorf("engine commission/slippage rates must be >= 0")
	}
	if c.Engine.LotSize < 0 {
		return fmt.Errorf("engine.lot_size must be >= 0, got %v", c.Engine.LotSize)
	}
	switch c.Engine.WeightScheme {
	case "", "equal", "inverse_vol", "risk_parity", "fixed":
	default:
		return fmt.Errorf("engine.weight_scheme %q unknown", c.Engine.WeightScheme)
	}
	switch c.Engine.RebalanceFreq {
	case "", "never", "weekly", "monthly", "on_drift":
	default:
		return fmt.Errorf("engine.rebalance_frequency %q unknown", c.Engine.RebalanceFreq)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	return nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.initial_capital", 100000)
	v.SetDefault("engine.commission_rate", 0.0)
	v.SetDefault("engine.slippage_rate", 0.0)
	v.SetDefault("engine.lot_size", 1)
	v.SetDefault("engine.risk_free_rate", 0.065)
	v.SetDefault("engine.weight_scheme", "equal")
	v.SetDefault("engine.rebalance_frequency", "never")
	v.SetDefault("engine.rebalance_day", -1)
	v.SetDefault("engine.drift_threshold_pct", 5.0)

	// Data defaults
	v.SetDefault("data.dir", "./data")

	// Store defaults
	v.SetDefault("store.path", filepath.Join(homeDir(), ".backtrail", "runs.db"))

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})

	// Sweep defaults
	v.SetDefault("sweep.max_concurrent", 0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
