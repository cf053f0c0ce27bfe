// Package config handles configuration loading for optchain.
// It supports YAML config files, a .env file, and environment variable
// overrides on top of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/seenimoa/optchain/pkg/models"
)

// EnvPrefix is the prefix for environment overrides, e.g. OPTCHAIN_YAHOO_TIMEOUT.
const EnvPrefix = "OPTCHAIN"

// EnvConfigFile names an explicit config file, bypassing the search path.
const EnvConfigFile = EnvPrefix + "_CONFIG"

// Config represents the complete application configuration.
type Config struct {
	Yahoo   YahooConfig   `mapstructure:"yahoo"   yaml:"yahoo"`
	Fetch   FetchConfig   `mapstructure:"fetch"   yaml:"fetch"`
	Output  OutputConfig  `mapstructure:"output"  yaml:"output"`
	API     APIConfig     `mapstructure:"api"     yaml:"api"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// YahooConfig holds the Yahoo Finance client settings.
type YahooConfig struct {
	BaseURL           string        `mapstructure:"base_url"            yaml:"base_url"`
	CookieURL         string        `mapstructure:"cookie_url"          yaml:"cookie_url"`
	UseCrumb          bool          `mapstructure:"use_crumb"           yaml:"use_crumb"`
	CrumbTTL          time.Duration `mapstructure:"crumb_ttl"           yaml:"crumb_ttl"`
	Timeout           time.Duration `mapstructure:"timeout"             yaml:"timeout"`
	UserAgent         string        `mapstructure:"user_agent"          yaml:"user_agent"`
	Proxy             string        `mapstructure:"proxy"               yaml:"proxy"`
	RequestsPerSecond int           `mapstructure:"requests_per_second" yaml:"requests_per_second"` // 0 = unlimited
}

// FetchConfig controls how per-expiration fetches are scheduled.
type FetchConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"` // 1 = sequential
}

// OutputConfig controls JSON rendering.
type OutputConfig struct {
	NonFinite string `mapstructure:"non_finite" yaml:"non_finite"` // "null" or "error"
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	CacheTTL    int      `mapstructure:"cache_ttl"    yaml:"cache_ttl"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// Load reads the configuration from defaults, file, and environment.
// A .env file in the working directory is loaded first when present.
// If OPTCHAIN_CONFIG is set, that file is read; otherwise the search order is:
//  1. ./config/config.yaml
//  2. ~/.optchain/config.yaml
//  3. /etc/optchain/config.yaml
//
// A missing config file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		return LoadFromFile(path)
	}

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".optchain"))
	v.AddConfigPath("/etc/optchain")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return decode(v)
}

// Validate checks values that cannot be caught by decoding alone.
func (c *Config) Validate() error {
	if c.Fetch.Concurrency < 1 {
		return fmt.Errorf("fetch.concurrency must be >= 1, got %d", c.Fetch.Concurrency)
	}
	if c.Yahoo.Timeout <= 0 {
		return fmt.Errorf("yahoo.timeout must be positive, got %s", c.Yahoo.Timeout)
	}
	if c.Yahoo.BaseURL == "" {
		return errors.New("yahoo.base_url must be set")
	}
	if _, err := c.NonFinitePolicy(); err != nil {
		return fmt.Errorf("output.non_finite: %w", err)
	}
	return nil
}

// NonFinitePolicy returns the parsed output.non_finite setting.
func (c *Config) NonFinitePolicy() (models.NonFinitePolicy, error) {
	return models.ParseNonFinitePolicy(c.Output.NonFinite)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Yahoo Finance
	v.SetDefault("yahoo.base_url", "https://query2.finance.yahoo.com")
	v.SetDefault("yahoo.cookie_url", "https://fc.yahoo.com")
	v.SetDefault("yahoo.use_crumb", true)
	v.SetDefault("yahoo.crumb_ttl", "30m")
	v.SetDefault("yahoo.timeout", "30s")
	v.SetDefault("yahoo.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	v.SetDefault("yahoo.proxy", "")
	v.SetDefault("yahoo.requests_per_second", 5)

	// Fetch scheduling
	v.SetDefault("fetch.concurrency", 1)

	// Output
	v.SetDefault("output.non_finite", string(models.NonFiniteNull))

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 3001)
	v.SetDefault("api.cors_origins", []string{"*"})
	v.SetDefault("api.cache_ttl", 60)

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
