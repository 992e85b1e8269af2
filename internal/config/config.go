// ABOUTME: Configuration loading and parsing for the query-bot client
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete client configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the API endpoint and call timing configuration
type ServerConfig struct {
	BaseURL string `yaml:"base_url"`

	RequestTimeout time.Duration `yaml:"-"`
	RefreshTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout"`
	RefreshTimeoutRaw string `yaml:"refresh_timeout"`
}

// StoreConfig holds the local persistence configuration. An empty path
// disables persistence (credentials live only in memory).
type StoreConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig holds session-summary cache tuning
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries"`

	SessionTTL time.Duration `yaml:"-"`

	SessionTTLRaw string `yaml:"session_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{BaseURL: "http://localhost:8080/api"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills in zero-valued timing and sizing fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 2 * time.Minute
	}
	if cfg.Server.RefreshTimeout == 0 {
		cfg.Server.RefreshTimeout = 30 * time.Second
	}
	if cfg.Cache.SessionTTL == 0 {
		cfg.Cache.SessionTTL = 10 * time.Minute
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 256
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must not be negative")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.RequestTimeoutRaw != "" {
		cfg.Server.RequestTimeout, err = time.ParseDuration(cfg.Server.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Server.RequestTimeoutRaw, err)
		}
	}

	if cfg.Server.RefreshTimeoutRaw != "" {
		cfg.Server.RefreshTimeout, err = time.ParseDuration(cfg.Server.RefreshTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing refresh_timeout %q: %w", cfg.Server.RefreshTimeoutRaw, err)
		}
	}

	if cfg.Cache.SessionTTLRaw != "" {
		cfg.Cache.SessionTTL, err = time.ParseDuration(cfg.Cache.SessionTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing session_ttl %q: %w", cfg.Cache.SessionTTLRaw, err)
		}
	}

	return nil
}
