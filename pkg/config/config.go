// Package config defines the application configuration, loaded from a
// YAML file with DRIFTWATCH_-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultFormat is the adapter used when a submission does not
	// name one.
	DefaultFormat = "criterion"

	// DefaultBranch is the branch recorded when a submission does not
	// name one and no git checkout is available.
	DefaultBranch = "main"
)

// Config is the root configuration for driftwatch.
type Config struct {
	Global    GlobalConfig    `yaml:"global" mapstructure:"global"`
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
	Detection DetectionConfig `yaml:"detection" mapstructure:"detection"`
	API       APIConfig       `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains settings shared by every command.
type GlobalConfig struct {
	LogLevel      string `yaml:"log_level" mapstructure:"log_level"`
	DefaultFormat string `yaml:"default_format" mapstructure:"default_format"`
	DefaultBranch string `yaml:"default_branch" mapstructure:"default_branch"`
}

// DetectionConfig carries the server-wide detection policy. Thresholds
// stored per project override it per series.
type DetectionConfig struct {
	Window           int     `yaml:"window" mapstructure:"window"`
	MinSamples       int     `yaml:"min_samples" mapstructure:"min_samples"`
	MaxPercentChange float64 `yaml:"max_percent_change" mapstructure:"max_percent_change"`
	SigmaMultiplier  float64 `yaml:"sigma_multiplier" mapstructure:"sigma_multiplier"`
}

// Load reads the configuration file at path, if it exists, and applies
// DRIFTWATCH_-prefixed environment overrides on top (nested keys use
// underscores, e.g. DRIFTWATCH_DATABASE_DRIVER).
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("DRIFTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so every key gets a
	// default; that is what makes the env overrides bind.
	for key, value := range map[string]any{
		"global.log_level":             DefaultLogLevel,
		"global.default_format":        DefaultFormat,
		"global.default_branch":        DefaultBranch,
		"database.driver":              DefaultDatabaseDriver,
		"database.sqlite.path":         DefaultSQLitePath,
		"database.postgres.host":       "",
		"database.postgres.port":       5432,
		"database.postgres.user":       "",
		"database.postgres.password":   "",
		"database.postgres.database":   "",
		"database.postgres.ssl_mode":   "disable",
		"detection.window":             0,
		"detection.min_samples":        0,
		"detection.max_percent_change": 0.0,
		"detection.sigma_multiplier":   0.0,
		"api.listen_addr":              DefaultAPIListenAddr,
		"api.rate_limit.enabled":       false,
		"api.rate_limit.rps":           DefaultRateLimitRPS,
		"api.rate_limit.burst":         DefaultRateLimitBurst,
		"api.artifacts.max_size":       DefaultMaxArtifactSize,
		"api.artifacts.presign_expiry": DefaultPresignExpiry,
	} {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration
// options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Global.DefaultFormat == "" {
		c.Global.DefaultFormat = DefaultFormat
	}

	if c.Global.DefaultBranch == "" {
		c.Global.DefaultBranch = DefaultBranch
	}

	c.Database.applyDefaults()
	c.API.applyDefaults()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if c.Detection.Window < 0 {
		return fmt.Errorf("detection: window must not be negative")
	}

	if c.Detection.MinSamples < 0 {
		return fmt.Errorf("detection: min_samples must not be negative")
	}

	return nil
}
