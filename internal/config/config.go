// Package config manages application configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// HTTP server
	ListenAddr string `json:"listen_addr"`
	LogLevel   string `json:"log_level"`

	// Audio file cache
	CacheDir      string        `json:"cache_dir"`
	CacheCapacity int           `json:"cache_capacity"`
	CacheTTL      time.Duration `json:"cache_ttl"`

	// yt-dlp settings
	YtdlpPath        string `json:"ytdlp_path"`
	YtdlpConcurrency int    `json:"ytdlp_concurrency"`
	YtdlpProxy       string `json:"ytdlp_proxy"`

	// Piped API mirrors
	PipedInstance     string        `json:"piped_instance"`
	PipedRefresh      time.Duration `json:"piped_refresh"`
	PipedDirectoryURL string        `json:"piped_directory_url"`

	// RaceLimit bounds concurrently running extractors in a race.
	RaceLimit int `json:"race_limit"`

	// Retry settings for upstream API calls
	MaxRetries        int           `json:"max_retries"`
	InitialBackoff    time.Duration `json:"initial_backoff"`
	MaxBackoff        time.Duration `json:"max_backoff"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:        ":8080",
		LogLevel:          "info",
		CacheDir:          filepath.Join(os.TempDir(), "ytfeed-audio"),
		CacheCapacity:     30,
		CacheTTL:          10 * time.Minute,
		YtdlpPath:         "yt-dlp",
		YtdlpConcurrency:  1,
		PipedInstance:     "https://pipedapi.kavin.rocks",
		PipedRefresh:      time.Hour,
		PipedDirectoryURL: "https://raw.githubusercontent.com/wiki/TeamPiped/Piped/Instances.md",
		RaceLimit:         10,
		MaxRetries:        2,
		InitialBackoff:    250 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Load builds the configuration.
// Priority: env vars (including .env) > config file > defaults
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Config file is optional
	if err := cfg.loadFromFile(filePaths()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load config file: %w", err)
	}

	// .env never overrides variables that are already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func filePaths() []string {
	paths := []string{"ytfeed.json"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "ytfeed", "ytfeed.json"))
	}
	return paths
}

// loadFromFile loads the first config file found in paths.
func (c *Config) loadFromFile(paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}

		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	}

	return os.ErrNotExist
}

// loadFromEnv overrides config with environment variables.
func (c *Config) loadFromEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("YTFEED_LISTEN_ADDR", &c.ListenAddr)
	str("YTFEED_LOG_LEVEL", &c.LogLevel)
	str("YTFEED_CACHE_DIR", &c.CacheDir)
	num("YTFEED_CACHE_CAPACITY", &c.CacheCapacity)
	dur("YTFEED_CACHE_TTL", &c.CacheTTL)
	str("YTFEED_YTDLP_PATH", &c.YtdlpPath)
	num("YTDLP_CONCURRENCY", &c.YtdlpConcurrency)
	str("YTDLP_PROXY", &c.YtdlpProxy)
	str("YTFEED_PIPED_INSTANCE", &c.PipedInstance)
	dur("YTFEED_PIPED_REFRESH", &c.PipedRefresh)
	str("YTFEED_PIPED_DIRECTORY_URL", &c.PipedDirectoryURL)
	num("YTFEED_RACE_LIMIT", &c.RaceLimit)
	num("YTFEED_MAX_RETRIES", &c.MaxRetries)
	dur("YTFEED_INITIAL_BACKOFF", &c.InitialBackoff)
	dur("YTFEED_MAX_BACKOFF", &c.MaxBackoff)

	return errors.Join(errs...)
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must be set")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache_dir must be set")
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("cache_capacity must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive")
	}
	if c.YtdlpConcurrency <= 0 {
		return fmt.Errorf("ytdlp_concurrency must be positive")
	}
	if c.YtdlpProxy != "" {
		if _, err := url.Parse(c.YtdlpProxy); err != nil {
			return fmt.Errorf("ytdlp_proxy: %w", err)
		}
	}
	if _, err := url.ParseRequestURI(c.PipedInstance); err != nil {
		return fmt.Errorf("piped_instance: %w", err)
	}
	if c.PipedRefresh < 0 {
		return fmt.Errorf("piped_refresh must be non-negative")
	}
	if c.RaceLimit <= 0 {
		return fmt.Errorf("race_limit must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be positive")
	}
	if c.MaxBackoff <= 0 {
		return fmt.Errorf("max_backoff must be positive")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff must be >= initial_backoff")
	}
	if c.BackoffMultiplier <= 1 {
		return fmt.Errorf("backoff_multiplier must be > 1")
	}
	return nil
}

// RedactedProxy returns the proxy URL with its password hidden.
func (c *Config) RedactedProxy() string {
	if c.YtdlpProxy == "" {
		return ""
	}
	u, err := url.Parse(c.YtdlpProxy)
	if err != nil {
		return "<invalid proxy url>"
	}
	return u.Redacted()
}
