// Package common provides shared utilities for Tally.
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Tally.
type Config struct {
	Environment string        `toml:"environment"`
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Market      MarketConfig  `toml:"market"`
	Clients     ClientsConfig `toml:"clients"`
	Logging     LoggingConfig `toml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds the observation store location.
type StorageConfig struct {
	Path string `toml:"path"`
}

// MarketConfig holds the market data retrieval policy.
type MarketConfig struct {
	// StoreLookbackDays bounds backward store scans. A negative value means
	// unbounded: scan the full history and take the latest observation at or
	// before the query date.
	StoreLookbackDays int `toml:"store_lookback_days"`

	// FetchLookbackDays bounds the backward day walk when falling back to
	// external sources.
	FetchLookbackDays int `toml:"fetch_lookback_days"`

	// QuoteStaleness is the age (duration string) beyond which a cached live
	// quote is no longer served from the store.
	QuoteStaleness string `toml:"quote_staleness"`

	// FxIdempotentWrites applies the price-write staleness check to FX
	// writes as well. Off by default: FX close fetches append unconditionally.
	FxIdempotentWrites bool `toml:"fx_idempotent_writes"`
}

// GetQuoteStaleness parses and returns the staleness window.
func (c *MarketConfig) GetQuoteStaleness() time.Duration {
	d, err := time.ParseDuration(c.QuoteStaleness)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// StoreLookback returns the bounded store lookback, or nil for unbounded.
func (c *MarketConfig) StoreLookback() *int {
	if c.StoreLookbackDays < 0 {
		return nil
	}
	n := c.StoreLookbackDays
	return &n
}

// ClientsConfig holds API client configurations.
type ClientsConfig struct {
	EODHD     EODHDConfig     `toml:"eodhd"`
	CoinGecko CoinGeckoConfig `toml:"coingecko"`
}

// EODHDConfig holds EODHD API configuration.
type EODHDConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration.
func (c *EODHDConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// CoinGeckoConfig holds CoinGecko API configuration.
type CoinGeckoConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration.
func (c *CoinGeckoConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Path: "data/observations",
		},
		Market: MarketConfig{
			StoreLookbackDays: -1,
			FetchLookbackDays: 7,
			QuoteStaleness:    "5m",
		},
		Clients: ClientsConfig{
			EODHD: EODHDConfig{
				BaseURL:   "https://eodhd.com/api",
				RateLimit: 10,
				Timeout:   "30s",
			},
			CoinGecko: CoinGeckoConfig{
				BaseURL:   "https://api.coingecko.com/api/v3",
				RateLimit: 5,
				Timeout:   "30s",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
// Later files override earlier ones; missing files are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("TALLY_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("TALLY_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("TALLY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("TALLY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("TALLY_DATA_PATH"); path != "" {
		config.Storage.Path = path
	}

	if key := os.Getenv("TALLY_EODHD_API_KEY"); key != "" {
		config.Clients.EODHD.APIKey = key
	}
	if key := os.Getenv("EODHD_API_KEY"); key != "" && config.Clients.EODHD.APIKey == "" {
		config.Clients.EODHD.APIKey = key
	}

	if key := os.Getenv("TALLY_COINGECKO_API_KEY"); key != "" {
		config.Clients.CoinGecko.APIKey = key
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
