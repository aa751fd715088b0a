package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "STAYRATES_"

// EnvString returns the value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// EnvInt parses key as an integer when it is set.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key as a time.Duration when it is set.
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvBool parses key as a boolean when it is set.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// LoadDotEnv loads variables from the given .env files (".env" when none are
// given). A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	present := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

// LoadFile overlays the YAML file at path onto the defaults. ${VAR}
// references are expanded from the environment first.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with STAYRATES_* environment variables.
func ApplyEnv(cfg *Config) error {
	strs := map[string]*string{
		"BASE_URL":      &cfg.BaseURL,
		"API_KEY":       &cfg.APIKey,
		"PROXY_URL":     &cfg.ProxyURL,
		"PROXY_API_KEY": &cfg.ProxyAPIKey,
		"CURRENCY":      &cfg.Currency,
		"LOCALE":        &cfg.Locale,
		"USER_AGENT":    &cfg.UserAgent,
		"OUTPUT":        &cfg.OutputFile,
		"FORMAT":        &cfg.OutputFormat,
		"DATABASE_URL":  &cfg.DatabaseURL,
		"METRICS_ADDR":  &cfg.MetricsAddr,
	}
	for key, dst := range strs {
		if value, ok := EnvString(EnvPrefix + key); ok {
			*dst = value
		}
	}

	ints := map[string]*int{
		"CALENDAR_MONTHS":  &cfg.CalendarMonths,
		"MAX_ATTEMPTS":     &cfg.MaxAttempts,
		"QUOTE_CACHE_SIZE": &cfg.QuoteCacheSize,
		"PARALLEL":         &cfg.Parallelism,
		"BATCH_SIZE":       &cfg.BatchSize,
	}
	for key, dst := range ints {
		value, ok, err := EnvInt(EnvPrefix + key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	durations := map[string]*time.Duration{
		"TIMEOUT":            &cfg.Timeout,
		"SERVER_FAULT_DELAY": &cfg.ServerFaultDelay,
		"TRY_AGAIN_DELAY":    &cfg.TryAgainDelay,
		"OUTAGE_COOLDOWN":    &cfg.OutageCooldown,
	}
	for key, dst := range durations {
		value, ok, err := EnvDuration(EnvPrefix + key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	if value, ok, err := EnvBool(EnvPrefix + "FULL_DATA"); err != nil {
		return err
	} else if ok {
		cfg.FullData = value
	}
	return nil
}
