// Package config provides configuration handling for the domain expiration monitor
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application settings
type Config struct {
	// Days-remaining values at which an expiration alert fires, stored ascending
	Thresholds []int `json:"thresholds"`

	// Path of the JSON watchlist file
	WatchlistFile string `json:"watchlist_file"`

	// Interval between cycles in watch mode
	CheckInterval time.Duration `json:"check_interval"`

	// Retry configuration for WHOIS lookups
	Retries int           `json:"retries"`
	Backoff time.Duration `json:"backoff"` // initial backoff duration

	// Concurrency and timeout settings
	Concurrency int           `json:"concurrency"`
	Timeout     time.Duration `json:"timeout"` // per lookup timeout

	// Minimum spacing between WHOIS queries against the same TLD authority
	WhoisRateEvery time.Duration `json:"whois_rate_every"`

	// Consecutive failed checks before a stale-data alert fires
	StaleFailures int `json:"stale_failures"`

	// SMTP configuration for email notifications
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	EmailFrom string `json:"email_from"`
	EmailTo   string `json:"email_to"`

	// Slack incoming-webhook URL
	SlackWebhook string `json:"slack_webhook"`
}

// New creates a new configuration with default values
func New() *Config {
	return &Config{
		Thresholds:     []int{1, 7, 14, 30},
		WatchlistFile:  "domains.json",
		CheckInterval:  24 * time.Hour,
		Retries:        3,
		Backoff:        2 * time.Second,
		Concurrency:    5,
		Timeout:        10 * time.Second,
		WhoisRateEvery: 2 * time.Second,
		StaleFailures:  3,
	}
}

// Load builds the runtime configuration in layers: defaults, a .env file
// if present, the JSON file named by CONFIG_FILE, then individual
// environment overrides. The result is validated once; core components
// never see raw environment values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()
	if err := cfg.LoadFromFile(os.Getenv("CONFIG_FILE")); err != nil {
		return nil, err
	}
	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a JSON file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	return nil
}

// LoadFromEnv overrides configuration with environment variables
func (c *Config) LoadFromEnv() {
	setIntList(&c.Thresholds, "ALERT_DAYS_BEFORE", ",")
	setString(&c.WatchlistFile, "WATCHLIST_FILE")
	setDuration(&c.CheckInterval, "CHECK_INTERVAL")
	setInt(&c.Retries, "RETRIES")
	setDuration(&c.Backoff, "BACKOFF")
	setInt(&c.Concurrency, "CONCURRENCY")
	setDuration(&c.Timeout, "TIMEOUT")
	setDuration(&c.WhoisRateEvery, "WHOIS_RATE_EVERY")
	setInt(&c.StaleFailures, "STALE_FAILURES")
	setString(&c.SMTPHost, "SMTP_HOST")
	setInt(&c.SMTPPort, "SMTP_PORT")
	setString(&c.SMTPUser, "SMTP_USER")
	setString(&c.SMTPPass, "SMTP_PASS")
	setString(&c.EmailFrom, "EMAIL_FROM")
	setString(&c.EmailTo, "EMAIL_TO")
	setString(&c.SlackWebhook, "SLACK_WEBHOOK_URL")
}

// Validate checks the configuration and normalizes the threshold set.
// Thresholds are deduplicated and sorted ascending; values below one day
// are rejected because the expired condition is handled separately.
func (c *Config) Validate() error {
	if len(c.Thresholds) == 0 {
		return fmt.Errorf("config: at least one alert threshold is required")
	}
	seen := make(map[int]struct{}, len(c.Thresholds))
	cleaned := make([]int, 0, len(c.Thresholds))
	for _, t := range c.Thresholds {
		if t < 1 {
			return fmt.Errorf("config: alert threshold %d is not a positive day count", t)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		cleaned = append(cleaned, t)
	}
	sort.Ints(cleaned)
	c.Thresholds = cleaned

	if c.WatchlistFile == "" {
		return fmt.Errorf("config: watchlist file path is required")
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("config: check interval must be positive, got %s", c.CheckInterval)
	}
	if c.Retries < 1 {
		return fmt.Errorf("config: retries must be at least 1, got %d", c.Retries)
	}
	if c.Backoff <= 0 {
		return fmt.Errorf("config: backoff must be positive, got %s", c.Backoff)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive, got %s", c.Timeout)
	}
	if c.WhoisRateEvery < 0 {
		return fmt.Errorf("config: whois rate interval must not be negative, got %s", c.WhoisRateEvery)
	}
	if c.StaleFailures < 1 {
		return fmt.Errorf("config: stale failure threshold must be at least 1, got %d", c.StaleFailures)
	}
	return nil
}

// setIntList sets an []int from env split by sep
func setIntList(field *[]int, env, sep string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	var out []int
	for _, part := range strings.Split(v, sep) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i, err := strconv.Atoi(part); err == nil {
			out = append(out, i)
		}
	}
	if len(out) > 0 {
		*field = out
	}
}

// setString sets a string field from env
func setString(field *string, env string) {
	if v := os.Getenv(env); v != "" {
		*field = strings.TrimSpace(v)
	}
}

// setInt sets an int field from env
func setInt(field *int, env string) {
	if v := os.Getenv(env); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*field = i
		}
	}
}

// setDuration sets a time.Duration field from env
func setDuration(field *time.Duration, env string) {
	if v := os.Getenv(env); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*field = d
		}
	}
}
