// Package config manages connector configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openquant/gyconnect/internal/telemetry"
)

// ExchangeConfig holds the venue endpoints and credentials.
type ExchangeConfig struct {
	RESTURL   string `yaml:"restUrl"`
	WSURL     string `yaml:"wsUrl"`
	APIKey    string `yaml:"apiKey"`
	APISecret string `yaml:"apiSecret"`
}

// LimitsConfig sets REST rate limits in requests per second.
type LimitsConfig struct {
	Default float64            `yaml:"default"`
	Paths   map[string]float64 `yaml:"paths"`
}

// PostgresConfig enables the optional order journal. An empty DSN runs the
// connector without persistence.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// Config is the unified connector configuration sourced from YAML.
type Config struct {
	Exchange           ExchangeConfig   `yaml:"exchange"`
	Pairs              []string         `yaml:"pairs"`
	Limits             LimitsConfig     `yaml:"limits"`
	StatusPollInterval string           `yaml:"statusPollInterval"`
	EventBuffer        int              `yaml:"eventBuffer"`
	Telemetry          telemetry.Config `yaml:"telemetry"`
	Postgres           PostgresConfig   `yaml:"postgres"`
}

// PollInterval parses the configured status poll cadence. An empty setting
// returns zero, which keeps the built-in default.
func (c Config) PollInterval() (time.Duration, error) {
	if c.StatusPollInterval == "" {
		return 0, nil
	}
	interval, err := time.ParseDuration(c.StatusPollInterval)
	if err != nil {
		return 0, fmt.Errorf("parse statusPollInterval: %w", err)
	}
	return interval, nil
}

// Load reads and validates a Config from the provided YAML file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalise() {
	c.Exchange.RESTURL = strings.TrimSpace(c.Exchange.RESTURL)
	c.Exchange.WSURL = strings.TrimSpace(c.Exchange.WSURL)
	c.Exchange.APIKey = strings.TrimSpace(c.Exchange.APIKey)
	c.Exchange.APISecret = strings.TrimSpace(c.Exchange.APISecret)
	c.Postgres.DSN = strings.TrimSpace(c.Postgres.DSN)
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)

	for i, pair := range c.Pairs {
		c.Pairs[i] = strings.ToUpper(strings.TrimSpace(pair))
	}
	if c.Limits.Default <= 0 {
		c.Limits.Default = 10
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
}

// Validate performs semantic validation on the configuration.
func (c Config) Validate() error {
	if c.Exchange.RESTURL == "" {
		return fmt.Errorf("exchange restUrl required")
	}
	if c.Exchange.APIKey == "" {
		return fmt.Errorf("exchange apiKey required")
	}
	if c.Exchange.APISecret == "" {
		return fmt.Errorf("exchange apiSecret required")
	}
	if len(c.Pairs) == 0 {
		return fmt.Errorf("at least one trading pair required")
	}
	for _, pair := range c.Pairs {
		if !strings.Contains(pair, "-") {
			return fmt.Errorf("pair %q must use BASE-QUOTE form", pair)
		}
	}
	for path, limit := range c.Limits.Paths {
		if limit <= 0 {
			return fmt.Errorf("limit for %s must be > 0", path)
		}
	}
	if _, err := c.PollInterval(); err != nil {
		return err
	}
	return nil
}
