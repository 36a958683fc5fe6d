package config

import (
	"fmt"
	"time"
)

const (
	// DefaultAPIListenAddr is the default API server listen address.
	DefaultAPIListenAddr = ":8080"

	// DefaultDatabaseDriver is the default database driver.
	DefaultDatabaseDriver = "sqlite"

	// DefaultSQLitePath is the default SQLite database path.
	DefaultSQLitePath = "./driftwatch.db"

	// DefaultRateLimitRPS is the default per-IP request rate.
	DefaultRateLimitRPS = 10.0

	// DefaultRateLimitBurst is the default per-IP burst size.
	DefaultRateLimitBurst = 20

	// DefaultPresignExpiry is how long artifact upload URLs stay valid.
	DefaultPresignExpiry = 15 * time.Minute

	// DefaultMaxArtifactSize caps artifact uploads (10 MiB).
	DefaultMaxArtifactSize = 10 * 1024 * 1024
)

// APIConfig contains API server settings.
type APIConfig struct {
	ListenAddr     string          `yaml:"listen_addr" mapstructure:"listen_addr"`
	AllowedOrigins []string        `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Auth           AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Artifacts      ArtifactsConfig `yaml:"artifacts" mapstructure:"artifacts"`
}

// RateLimitConfig contains per-IP rate limiting settings.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" mapstructure:"enabled"`
	RPS     float64 `yaml:"rps" mapstructure:"rps"`
	Burst   int     `yaml:"burst" mapstructure:"burst"`
}

// AuthConfig contains API authentication settings.
type AuthConfig struct {
	Tokens []AuthToken `yaml:"tokens" mapstructure:"tokens"`
}

// AuthToken is one config-seeded bearer credential.
type AuthToken struct {
	Name  string `yaml:"name" mapstructure:"name"`
	Token string `yaml:"token" mapstructure:"token"`
	Role  string `yaml:"role" mapstructure:"role"`
}

// ArtifactsConfig contains object storage settings for report
// artifacts. Artifacts are disabled when no bucket is configured.
type ArtifactsConfig struct {
	S3            *S3Config     `yaml:"s3" mapstructure:"s3"`
	MaxSize       int64         `yaml:"max_size" mapstructure:"max_size"`
	PresignExpiry time.Duration `yaml:"presign_expiry" mapstructure:"presign_expiry"`
}

// S3Config contains S3-compatible object storage settings.
type S3Config struct {
	Endpoint       string `yaml:"endpoint" mapstructure:"endpoint"`
	Region         string `yaml:"region" mapstructure:"region"`
	Bucket         string `yaml:"bucket" mapstructure:"bucket"`
	AccessKey      string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey      string `yaml:"secret_key" mapstructure:"secret_key"`
	ForcePathStyle bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// SQLiteConfig contains SQLite settings.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode" mapstructure:"ssl_mode"`
}

func (c *APIConfig) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultAPIListenAddr
	}

	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = DefaultRateLimitRPS
	}

	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = DefaultRateLimitBurst
	}

	if c.Artifacts.MaxSize == 0 {
		c.Artifacts.MaxSize = DefaultMaxArtifactSize
	}

	if c.Artifacts.PresignExpiry == 0 {
		c.Artifacts.PresignExpiry = DefaultPresignExpiry
	}
}

// Validate checks API settings for errors.
func (c *APIConfig) Validate() error {
	for i, t := range c.Auth.Tokens {
		if t.Name == "" {
			return fmt.Errorf("auth token %d: name is required", i)
		}

		if t.Token == "" {
			return fmt.Errorf("auth token %q: token is required", t.Name)
		}
	}

	if s3 := c.Artifacts.S3; s3 != nil {
		if s3.Bucket == "" {
			return fmt.Errorf("artifacts s3: bucket is required")
		}

		if s3.Region == "" && s3.Endpoint == "" {
			return fmt.Errorf("artifacts s3: region or endpoint is required")
		}
	}

	return nil
}

func (c *DatabaseConfig) applyDefaults() {
	if c.Driver == "" {
		c.Driver = DefaultDatabaseDriver
	}

	if c.SQLite.Path == "" {
		c.SQLite.Path = DefaultSQLitePath
	}

	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}

	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
}

// Validate checks database settings for errors.
func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}

	if c.Driver == "postgres" {
		if c.Postgres.Host == "" {
			return fmt.Errorf("postgres: host is required")
		}

		if c.Postgres.Database == "" {
			return fmt.Errorf("postgres: database is required")
		}
	}

	return nil
}
