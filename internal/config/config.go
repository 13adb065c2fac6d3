// Package config loads the engine configuration from a YAML file with
// environment-variable overrides for deployment-specific settings.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration. Monetary amounts are kept as
// strings in YAML and parsed to decimals via the accessor methods.
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL        string `yaml:"url"`
		CacheTTLMs int    `yaml:"cache_ttl_ms"`
	} `yaml:"redis"`
	Quotes struct {
		BaseURL    string  `yaml:"base_url"`
		TimeoutMs  int     `yaml:"timeout_ms"`
		RatePerSec float64 `yaml:"rate_per_sec"`
	} `yaml:"quotes"`
	Market struct {
		Timezone string `yaml:"timezone"`
		Open     string `yaml:"open"`
		Close    string `yaml:"close"`
	} `yaml:"market"`
	Trading struct {
		Fee             string `yaml:"fee"`
		StartingBalance string `yaml:"starting_balance"`
	} `yaml:"trading"`
}

// Load reads the config file at path (a missing file yields pure
// defaults) and applies env overrides: PORT, DATABASE_URL, REDIS_URL,
// QUOTE_URL.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if f, err := os.Open(path); err == nil {
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}

	if port := os.Getenv("PORT"); port != "" {
		if _, err := fmt.Sscanf(port, "%d", &cfg.Server.Port); err != nil {
			return nil, fmt.Errorf("config: invalid PORT %q", port)
		}
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if url := os.Getenv("QUOTE_URL"); url != "" {
		cfg.Quotes.BaseURL = url
	}

	// Validate the money fields eagerly so bad config fails at startup.
	if _, err := cfg.Fee(); err != nil {
		return nil, err
	}
	if _, err := cfg.StartingBalance(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Redis.CacheTTLMs = 30_000
	cfg.Quotes.TimeoutMs = 5_000
	cfg.Quotes.RatePerSec = 10
	cfg.Market.Timezone = "America/New_York"
	cfg.Market.Open = "09:30"
	cfg.Market.Close = "16:00"
	cfg.Trading.Fee = "5.00"
	cfg.Trading.StartingBalance = "1000.00"
	return cfg
}

// Fee returns the flat per-trade fee.
func (c *Config) Fee() (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(c.Trading.Fee)
	if err != nil || fee.IsNegative() {
		return decimal.Zero, fmt.Errorf("config: invalid trading.fee %q", c.Trading.Fee)
	}
	return fee, nil
}

// StartingBalance returns the default per-trader starting balance.
func (c *Config) StartingBalance() (decimal.Decimal, error) {
	bal, err := decimal.NewFromString(c.Trading.StartingBalance)
	if err != nil || !bal.IsPositive() {
		return decimal.Zero, fmt.Errorf("config: invalid trading.starting_balance %q", c.Trading.StartingBalance)
	}
	return bal, nil
}

// QuoteTimeout returns the quote fetch timeout.
func (c *Config) QuoteTimeout() time.Duration {
	return time.Duration(c.Quotes.TimeoutMs) * time.Millisecond
}

// CacheTTL returns the Redis cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.CacheTTLMs) * time.Millisecond
}
