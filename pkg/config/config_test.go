package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultFormat, cfg.Global.DefaultFormat)
	assert.Equal(t, DefaultBranch, cfg.Global.DefaultBranch)
	assert.Equal(t, DefaultDatabaseDriver, cfg.Database.Driver)
	assert.Equal(t, DefaultSQLitePath, cfg.Database.SQLite.Path)
	assert.Equal(t, DefaultAPIListenAddr, cfg.API.ListenAddr)
	assert.InDelta(t, DefaultRateLimitRPS, cfg.API.RateLimit.RPS, 0.001)
	assert.EqualValues(t, DefaultMaxArtifactSize, cfg.API.Artifacts.MaxSize)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
global:
  log_level: debug
  default_format: gobench
database:
  driver: sqlite
  sqlite:
    path: /tmp/bench.db
detection:
  window: 30
  max_percent_change: 5.5
api:
  listen_addr: ":9090"
  auth:
    tokens:
      - name: ci
        token: secret
        role: writer
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Global.LogLevel)
	assert.Equal(t, "gobench", cfg.Global.DefaultFormat)
	assert.Equal(t, "/tmp/bench.db", cfg.Database.SQLite.Path)
	assert.Equal(t, 30, cfg.Detection.Window)
	assert.InDelta(t, 5.5, cfg.Detection.MaxPercentChange, 0.001)
	assert.Equal(t, ":9090", cfg.API.ListenAddr)
	require.Len(t, cfg.API.Auth.Tokens, 1)
	assert.Equal(t, "ci", cfg.API.Auth.Tokens[0].Name)

	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DRIFTWATCH_DATABASE_DRIVER", "postgres")
	t.Setenv("DRIFTWATCH_DATABASE_POSTGRES_HOST", "db.internal")
	t.Setenv("DRIFTWATCH_DATABASE_POSTGRES_DATABASE", "driftwatch")
	t.Setenv("DRIFTWATCH_GLOBAL_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
	assert.Equal(t, "warn", cfg.Global.LogLevel)

	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unsupported driver",
			mutate:  func(c *Config) { c.Database.Driver = "mysql" },
			wantErr: "unsupported driver",
		},
		{
			name: "postgres without host",
			mutate: func(c *Config) {
				c.Database.Driver = "postgres"
			},
			wantErr: "host is required",
		},
		{
			name: "token without name",
			mutate: func(c *Config) {
				c.API.Auth.Tokens = []AuthToken{{Token: "x"}}
			},
			wantErr: "name is required",
		},
		{
			name: "token without secret",
			mutate: func(c *Config) {
				c.API.Auth.Tokens = []AuthToken{{Name: "ci"}}
			},
			wantErr: "token is required",
		},
		{
			name: "s3 without bucket",
			mutate: func(c *Config) {
				c.API.Artifacts.S3 = &S3Config{Region: "us-east-1"}
			},
			wantErr: "bucket is required",
		},
		{
			name: "negative window",
			mutate: func(c *Config) {
				c.Detection.Window = -1
			},
			wantErr: "window",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)

			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
