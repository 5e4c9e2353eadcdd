// Package config loads client configuration from YAML, .env files and the
// environment, and holds the live query preferences.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/st-keller/quakefeed-client/request"
)

// EnvPrefix is the prefix of every environment variable read by LoadFromEnv.
const EnvPrefix = "QUAKEFEED_"

// Config defines configuration for the client.
type Config struct {
	Endpoint       string        `yaml:"endpoint"`
	MinMagnitude   string        `yaml:"min_magnitude"`
	OrderBy        string        `yaml:"order_by"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	CAPath         string        `yaml:"ca_path"`
	RateLimit      time.Duration `yaml:"rate_limit"`    // minimum gap between requests, 0 = unlimited
	PollInterval   time.Duration `yaml:"poll_interval"` // used by watch mode
}

// Default returns a Config with the feed defaults.
func Default() Config {
	return Config{
		Endpoint:       request.DefaultEndpoint,
		MinMagnitude:   "6",
		OrderBy:        string(request.OrderMagnitude),
		ConnectTimeout: 15 * time.Second,
		ReadTimeout:    10 * time.Second,
		PollInterval:   5 * time.Minute,
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	Endpoint       string `yaml:"endpoint"`
	MinMagnitude   string `yaml:"min_magnitude"`
	OrderBy        string `yaml:"order_by"`
	ConnectTimeout string `yaml:"connect_timeout"`
	ReadTimeout    string `yaml:"read_timeout"`
	CAPath         string `yaml:"ca_path"`
	RateLimit      string `yaml:"rate_limit"`
	PollInterval   string `yaml:"poll_interval"`
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	if yc.Endpoint != "" {
		cfg.Endpoint = yc.Endpoint
	}
	if yc.MinMagnitude != "" {
		cfg.MinMagnitude = yc.MinMagnitude
	}
	if yc.OrderBy != "" {
		cfg.OrderBy = yc.OrderBy
	}
	if yc.CAPath != "" {
		cfg.CAPath = yc.CAPath
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"connect_timeout", yc.ConnectTimeout, &cfg.ConnectTimeout},
		{"read_timeout", yc.ReadTimeout, &cfg.ReadTimeout},
		{"rate_limit", yc.RateLimit, &cfg.RateLimit},
		{"poll_interval", yc.PollInterval, &cfg.PollInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = v
	}

	return cfg, nil
}

// LoadFromEnv overrides c from QUAKEFEED_* environment variables.
// A .env file in the working directory is read first when present; variables
// already set in the process environment win over it.
func (c *Config) LoadFromEnv() error {
	return c.loadFromEnv(".env")
}

func (c *Config) loadFromEnv(dotenv string) error {
	if _, err := os.Stat(dotenv); err == nil {
		if err := godotenv.Load(dotenv); err != nil {
			return fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	if v := os.Getenv(EnvPrefix + "ENDPOINT"); v != "" {
		c.Endpoint = v
	}
	if v := os.Getenv(EnvPrefix + "MIN_MAGNITUDE"); v != "" {
		c.MinMagnitude = v
	}
	if v := os.Getenv(EnvPrefix + "ORDER_BY"); v != "" {
		c.OrderBy = v
	}
	if v := os.Getenv(EnvPrefix + "CA_PATH"); v != "" {
		c.CAPath = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CONNECT_TIMEOUT", &c.ConnectTimeout},
		{"READ_TIMEOUT", &c.ReadTimeout},
		{"RATE_LIMIT", &c.RateLimit},
		{"POLL_INTERVAL", &c.PollInterval},
	}
	for _, d := range durations {
		v := os.Getenv(EnvPrefix + d.key)
		if v == "" {
			continue
		}
		parsed, err := parseDurationOrMillis(v)
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, d.key, err)
		}
		*d.dst = parsed
	}

	return nil
}

// parseDurationOrMillis accepts "10s" style durations or a bare millisecond count.
func parseDurationOrMillis(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("config: endpoint is required")
	}
	if _, err := request.Build(c.Endpoint, request.Params{}); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	params := request.Params{MinMagnitude: c.MinMagnitude, OrderBy: request.OrderBy(c.OrderBy)}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.ConnectTimeout <= 0 {
		return errors.New("config: connect_timeout must be positive")
	}
	if c.ReadTimeout <= 0 {
		return errors.New("config: read_timeout must be positive")
	}
	if c.RateLimit < 0 {
		return errors.New("config: rate_limit must not be negative")
	}
	if c.PollInterval < 0 {
		return errors.New("config: poll_interval must not be negative")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Endpoint != "" {
		c.Endpoint = override.Endpoint
	}
	if override.MinMagnitude != "" {
		c.MinMagnitude = override.MinMagnitude
	}
	if override.OrderBy != "" {
		c.OrderBy = override.OrderBy
	}
	if override.ConnectTimeout != 0 {
		c.ConnectTimeout = override.ConnectTimeout
	}
	if override.ReadTimeout != 0 {
		c.ReadTimeout = override.ReadTimeout
	}
	if override.CAPath != "" {
		c.CAPath = override.CAPath
	}
	if override.RateLimit != 0 {
		c.RateLimit = override.RateLimit
	}
	if override.PollInterval != 0 {
		c.PollInterval = override.PollInterval
	}
	return c
}
