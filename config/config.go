package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds discovery configuration.
type Config struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	ProxyURL       string `yaml:"proxy_url"`
	ProxyAPIKey    string `yaml:"proxy_api_key"`
	Currency       string `yaml:"currency"`
	Locale         string `yaml:"locale"`
	CalendarMonths int    `yaml:"calendar_months"`
	CalendarHash   string `yaml:"calendar_hash"`
	PricingHash    string `yaml:"pricing_hash"`

	Timeout          time.Duration `yaml:"timeout"`
	UserAgent        string        `yaml:"user_agent"`
	MaxAttempts      int           `yaml:"max_attempts"`
	ServerFaultDelay time.Duration `yaml:"server_fault_delay"`
	TryAgainDelay    time.Duration `yaml:"try_again_delay"`
	OutageCooldown   time.Duration `yaml:"outage_cooldown"`
	QuoteCacheSize   int           `yaml:"quote_cache_size"`
	FullData         bool          `yaml:"full_data"`

	Parallelism        int    `yaml:"parallelism"`
	PipelineBufferSize int    `yaml:"pipeline_buffer_size"`
	BatchSize          int    `yaml:"batch_size"`
	DedupeMaxSize      int    `yaml:"dedupe_max_size"`
	OutputFile         string `yaml:"output_file"`
	OutputFormat       string `yaml:"output_format"` // csv, json, dual, merge, or postgres
	DatabaseURL        string `yaml:"database_url"`

	MetricsAddr string `yaml:"metrics_addr"`
	Verbose     bool   `yaml:"verbose"`
}

// DefaultConfig returns the defaults used against the public API.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "https://www.airbnb.com",
		Currency:       "USD",
		Locale:         "en",
		CalendarMonths: 12,
		CalendarHash:   "8f08e03c7bd16fcad3c92a3592c19a8b559a0d0855a84028d1163d4733ed9ade",
		PricingHash:    "4a01261214aad9adf8c85202020722e6e05bfc7d5f3d0b865531f9a6987a3bd1",

		Timeout:          30 * time.Second,
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		MaxAttempts:      3,
		ServerFaultDelay: 60 * time.Second,
		TryAgainDelay:    30 * time.Second,
		OutageCooldown:   60 * time.Second,
		QuoteCacheSize:   512,

		Parallelism:        4,
		PipelineBufferSize: 64,
		BatchSize:          16,
		DedupeMaxSize:      100000,
		OutputFile:         "output/rates.csv",
		OutputFormat:       "csv",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}
	if c.ProxyURL != "" {
		proxy, err := url.Parse(c.ProxyURL)
		if err != nil || proxy.Host == "" {
			return fmt.Errorf("invalid proxy URL %q", c.ProxyURL)
		}
	}

	if c.APIKey == "" {
		return fmt.Errorf("api key cannot be empty")
	}
	if c.Currency == "" {
		return fmt.Errorf("currency cannot be empty")
	}
	if c.CalendarMonths <= 0 {
		return fmt.Errorf("calendar months must be positive")
	}
	if c.CalendarHash == "" || c.PricingHash == "" {
		return fmt.Errorf("persisted query hashes cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.ServerFaultDelay < 0 || c.TryAgainDelay < 0 || c.OutageCooldown < 0 {
		return fmt.Errorf("backoff delays cannot be negative")
	}
	if c.QuoteCacheSize < 0 {
		return fmt.Errorf("quote cache size cannot be negative")
	}

	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}

	switch c.OutputFormat {
	case "csv", "json", "dual", "merge":
		if c.OutputFile == "" {
			return fmt.Errorf("output file cannot be empty")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("database URL is required for postgres output")
		}
	default:
		return fmt.Errorf("output format must be csv, json, dual, merge, or postgres")
	}

	return nil
}
