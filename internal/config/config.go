// ABOUTME: Configuration loading and parsing for coven-relay
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-relay configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Provider   ProviderConfig   `yaml:"provider"`
	Workspaces WorkspacesConfig `yaml:"workspaces"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds workspace bookkeeping database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ProviderConfig holds provider connection configuration
type ProviderConfig struct {
	// URL is the base URL of a running provider, used by attach mode.
	URL string `yaml:"url"`

	// Command is the argv spawned per workspace in spawn mode.
	Command []string `yaml:"command"`

	StartupTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	StartupTimeoutRaw string `yaml:"startup_timeout"`
}

// WorkspacesConfig holds workspace lifecycle timing configuration
type WorkspacesConfig struct {
	CleanupInterval time.Duration `yaml:"-"`
	MaxIdleAge      time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	CleanupIntervalRaw string `yaml:"cleanup_interval"`
	MaxIdleAgeRaw      string `yaml:"max_idle_age"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the config file leaves fields unset.
const (
	DefaultHTTPAddr        = "localhost:8080"
	DefaultCleanupInterval = 30 * time.Minute
	DefaultMaxIdleAge      = 12 * time.Hour
)

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

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with all defaults applied, used when no
// config file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Workspaces.CleanupInterval == 0 {
		c.Workspaces.CleanupInterval = DefaultCleanupInterval
	}
	if c.Workspaces.MaxIdleAge == 0 {
		c.Workspaces.MaxIdleAge = DefaultMaxIdleAge
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
	// Zero means unset here; applyDefaults has already replaced it.
	if c.Workspaces.CleanupInterval < 0 {
		return fmt.Errorf("workspaces.cleanup_interval must not be negative")
	}
	if c.Workspaces.MaxIdleAge < 0 {
		return fmt.Errorf("workspaces.max_idle_age must not be negative")
	}
	if c.Provider.StartupTimeout < 0 {
		return fmt.Errorf("provider.startup_timeout must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Workspaces.CleanupIntervalRaw != "" {
		cfg.Workspaces.CleanupInterval, err = time.ParseDuration(cfg.Workspaces.CleanupIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing cleanup_interval %q: %w", cfg.Workspaces.CleanupIntervalRaw, err)
		}
	}

	if cfg.Provider.StartupTimeoutRaw != "" {
		cfg.Provider.StartupTimeout, err = time.ParseDuration(cfg.Provider.StartupTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing startup_timeout %q: %w", cfg.Provider.StartupTimeoutRaw, err)
		}
	}

	if cfg.Workspaces.MaxIdleAgeRaw != "" {
		cfg.Workspaces.MaxIdleAge, err = time.ParseDuration(cfg.Workspaces.MaxIdleAgeRaw)
		if err != nil {
			return fmt.Errorf("parsing max_idle_age %q: %w", cfg.Workspaces.MaxIdleAgeRaw, err)
		}
	}

	return nil
}
