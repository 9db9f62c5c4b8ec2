// Package config holds the receiver's runtime settings and loads them from
// YAML and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHost             = "0.0.0.0"
	DefaultPort             = 8888
	DefaultDBPath           = "iothook.db"
	DefaultRateLimit        = 600 // requests per minute per client
	DefaultWebhookRateLimit = 300
)

// Environment variables read by ApplyEnv.
const (
	EnvSecret     = "IOTHOOK_SECRET"
	EnvHost       = "IOTHOOK_HOST"
	EnvPort       = "IOTHOOK_PORT"
	EnvConfigFile = "IOTHOOK_CONFIG_FILE"
	EnvLogFile    = "IOTHOOK_LOG_FILE"
	EnvDBPath     = "IOTHOOK_DB_PATH"
	EnvTestMode   = "IOTHOOK_TEST_MODE"
)

// Config is the receiver configuration.
type Config struct {
	Secret           string
	Host             string
	Port             int
	LogFile          string
	DBPath           string
	RateLimit        int
	WebhookRateLimit int
	TestMode         bool
}

// fileConfig is the YAML layout. Empty strings and a zero port leave the
// defaults in place; the rate limits are pointers so 0 can disable them.
type fileConfig struct {
	Secret           string `yaml:"secret"`
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	LogFile          string `yaml:"log_file"`
	DBPath           string `yaml:"db_path"`
	RateLimit        *int   `yaml:"rate_limit"`
	WebhookRateLimit *int   `yaml:"webhook_rate_limit"`
	TestMode         bool   `yaml:"test_mode"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Host:             DefaultHost,
		Port:             DefaultPort,
		DBPath:           DefaultDBPath,
		RateLimit:        DefaultRateLimit,
		WebhookRateLimit: DefaultWebhookRateLimit,
	}
}

// LoadFile overlays the YAML file at path onto cfg.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	c.merge(&file)
	return nil
}

func (c *Config) merge(o *fileConfig) {
	if o.Secret != "" {
		c.Secret = o.Secret
	}
	if o.Host != "" {
		c.Host = o.Host
	}
	if o.Port != 0 {
		c.Port = o.Port
	}
	if o.LogFile != "" {
		c.LogFile = o.LogFile
	}
	if o.DBPath != "" {
		c.DBPath = o.DBPath
	}
	if o.RateLimit != nil {
		c.RateLimit = *o.RateLimit
	}
	if o.WebhookRateLimit != nil {
		c.WebhookRateLimit = *o.WebhookRateLimit
	}
	if o.TestMode {
		c.TestMode = true
	}
}

// ApplyEnv overlays IOTHOOK_* environment variables onto c. Unset variables
// are ignored.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvSecret); ok {
		c.Secret = v
	}
	if v := os.Getenv(EnvHost); v != "" {
		c.Host = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		c.Port = port
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		c.LogFile = v
	}
	if v, ok := os.LookupEnv(EnvDBPath); ok {
		c.DBPath = v
	}
	if v := os.Getenv(EnvTestMode); v != "" {
		testMode, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvTestMode, v, err)
		}
		c.TestMode = testMode
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks c and reports every problem at once.
func (c *Config) Validate() error {
	var errors []string

	if c.Host == "" {
		errors = append(errors, "  - host must not be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		errors = append(errors, fmt.Sprintf("  - port must be between 1 and 65535, got %d", c.Port))
	}
	if c.RateLimit < 0 {
		errors = append(errors, fmt.Sprintf("  - rate_limit must not be negative, got %d", c.RateLimit))
	}
	if c.WebhookRateLimit < 0 {
		errors = append(errors, fmt.Sprintf("  - webhook_rate_limit must not be negative, got %d", c.WebhookRateLimit))
	}

	if len(errors) > 0 {
		return fmt.Errorf("invalid configuration:\n%s", strings.Join(errors, "\n"))
	}
	return nil
}
