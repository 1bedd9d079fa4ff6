/*
config.go - Server configuration

PURPOSE:
  Loads the server configuration from defaults, an optional YAML file and
  QUESTPOINTS_ environment variables, in increasing priority. Command-line
  flags bound by cmd/server sit above all three.

EXAMPLE FILE:
  server:
    port: 8080
    allowed_origins: ["http://localhost:3000"]
  database:
    path: questpoints.db
  redemption:
    funding: strict        # or partial
  metrics:
    enabled: true
    report_interval: 1m

ENVIRONMENT:
  Nested keys join with underscores:
    QUESTPOINTS_SERVER_PORT=9090
    QUESTPOINTS_DATABASE_PATH=:memory:
    QUESTPOINTS_REDEMPTION_FUNDING=partial

SEE ALSO:
  - cmd/server/main.go: Flag binding
  - economy/redeem.go: FundingMode
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/warp/questpoints/economy"
)

const EnvPrefix = "QUESTPOINTS"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redemption RedemptionConfig `mapstructure:"redemption"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	// Path of the SQLite file. ":memory:" for an in-memory database.
	Path string `mapstructure:"path"`
}

type RedemptionConfig struct {
	Funding string `mapstructure:"funding"`
}

type MetricsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ReportInterval time.Duration `mapstructure:"report_interval"`
}

// FundingMode returns the parsed redemption funding mode.
func (c Config) FundingMode() economy.FundingMode {
	mode, _ := economy.ParseFundingMode(c.Redemption.Funding)
	return mode
}

// New returns a viper instance with defaults and environment overrides set.
// Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("database.path", "questpoints.db")
	v.SetDefault("redemption.funding", string(economy.FundingStrict))
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.report_interval", time.Minute)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (skipped when empty or missing) into v and validates the
// result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile is Load on a fresh instance.
func LoadFile(path string) (*Config, error) {
	return Load(New(), path)
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &economy.InvalidArgumentError{Field: "server.port", Reason: fmt.Sprintf("must be 1-65535, got %d", c.Server.Port)}
	}
	if c.Database.Path == "" {
		return &economy.InvalidArgumentError{Field: "database.path", Reason: "must not be empty"}
	}
	if _, err := economy.ParseFundingMode(c.Redemption.Funding); err != nil {
		return err
	}
	if c.Metrics.ReportInterval <= 0 {
		return &economy.InvalidArgumentError{Field: "metrics.report_interval", Reason: "must be positive"}
	}
	return nil
}
