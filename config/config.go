// Package config handles layered YAML configuration with environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"time"

	perrors "github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"
)

// Config holds all covidtrack configuration.
type Config struct {
	API     API     `yaml:"api"`
	Retry   Retry   `yaml:"retry"`
	Cache   Cache   `yaml:"cache"`
	Refresh Refresh `yaml:"refresh"`
	Storage Storage `yaml:"storage"`
	Source  Source  `yaml:"source"`
	Metrics Metrics `yaml:"metrics"`
	Log     Log     `yaml:"log"`
}

// API holds remote endpoint settings.
type API struct {
	BaseURL   string        `yaml:"base_url"`
	Key       string        `yaml:"key"`
	KeyHeader string        `yaml:"key_header"`
	Timeout   time.Duration `yaml:"timeout"`
	// RequestsPerMinute throttles outgoing requests. Zero disables it.
	RequestsPerMinute int     `yaml:"requests_per_minute"`
	CircuitBreaker    Breaker `yaml:"circuit_breaker"`
}

// Breaker holds circuit breaker settings. A zero FailureThreshold disables
// the breaker.
type Breaker struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

// Retry holds the retry curve. RateLimit, when its base delay is set,
// replaces the curve for RATE_LIMIT errors only.
type Retry struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Strategy    string        `yaml:"strategy"` // "exponential" | "decorrelated"
	Jitter      float64       `yaml:"jitter"`
	RateLimit   Backoff       `yaml:"rate_limit"`
}

// Backoff is a per-kind delay override.
type Backoff struct {
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

// Cache holds in-memory and durable cache settings.
type Cache struct {
	TTL                  time.Duration `yaml:"ttl"`
	DurableTTL           time.Duration `yaml:"durable_ttl"`
	StaleWhileRevalidate bool          `yaml:"stale_while_revalidate"`
	Coalesce             bool          `yaml:"coalesce"`
}

// Refresh holds periodic refetch settings.
type Refresh struct {
	Interval    time.Duration `yaml:"interval"`
	StaleWindow time.Duration `yaml:"stale_window"`
}

// Storage holds durable store settings.
type Storage struct {
	Path        string `yaml:"path"`
	Bucket      string `yaml:"bucket"`
	CachePrefix string `yaml:"cache_prefix"`
	PrefsPrefix string `yaml:"prefs_prefix"`
}

// Source selects the data source.
type Source struct {
	Mode         string  `yaml:"mode"` // "remote" | "synthetic"
	Seed         uint64  `yaml:"seed"`
	LatencyScale float64 `yaml:"latency_scale"`
	FailureRate  float64 `yaml:"failure_rate"`
}

// Metrics holds the Prometheus listener address. Empty disables it.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Log holds logging settings. An empty File logs to stderr.
type Log struct {
	Level string `yaml:"level"` // "debug" | "info" | "warn" | "error"
	File  string `yaml:"file"`
}

// Source modes.
const (
	SourceRemote    = "remote"
	SourceSynthetic = "synthetic"
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		API: API{
			BaseURL:           "https://api.api-ninjas.com/v1",
			KeyHeader:         "X-Api-Key",
			Timeout:           10 * time.Second,
			RequestsPerMinute: 60,
			CircuitBreaker: Breaker{
				FailureThreshold: 5,
				RecoveryTimeout:  time.Minute,
				SuccessThreshold: 2,
			},
		},
		Retry: Retry{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    10 * time.Second,
			Strategy:    "exponential",
		},
		Cache: Cache{
			TTL:                  15 * time.Minute,
			DurableTTL:           5 * time.Minute,
			StaleWhileRevalidate: true,
			Coalesce:             true,
		},
		Refresh: Refresh{
			Interval:    15 * time.Minute,
			StaleWindow: 15 * time.Minute,
		},
		Storage: Storage{
			Path:        "",
			Bucket:      "covid-tracker",
			CachePrefix: "covid-tracker-cache",
			PrefsPrefix: "covid-tracker-prefs",
		},
		Source: Source{
			Mode:         SourceRemote,
			LatencyScale: 1,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads a single YAML config file at path and returns a Config.
// For merging multiple config sources, use LoadLayered instead.
// If the file does not exist, defaults are returned without error.
func Load(path string) (*Config, error) {
	return LoadLayered(path)
}

// LoadLayered loads config from multiple paths with increasing priority.
// Later paths override earlier ones. Missing files are skipped.
func LoadLayered(paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range paths {
		layer, err := loadLayer(path)
		if err != nil {
			return nil, err
		}
		if layer == nil {
			continue
		}
		cfg.merge(layer)
	}

	return &cfg, nil
}

// Validate checks that config values are usable. Failures carry
// CodeInvalidConfig and the offending field in their context.
func (c *Config) Validate() error {
	if c.Source.Mode == SourceRemote {
		u, err := url.Parse(c.API.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("api.base_url", "must be an absolute http(s) URL, got %q", c.API.BaseURL)
		}
	}
	if c.API.Timeout <= 0 {
		return invalid("api.timeout", "must be positive, got %v", c.API.Timeout)
	}
	if c.API.RequestsPerMinute < 0 {
		return invalid("api.requests_per_minute", "must be non-negative, got %d", c.API.RequestsPerMinute)
	}
	if b := c.API.CircuitBreaker; b.FailureThreshold < 0 || b.SuccessThreshold < 0 || b.RecoveryTimeout < 0 {
		return invalid("api.circuit_breaker", "values must be non-negative, got %+v", b)
	}
	if c.Retry.MaxAttempts < 0 {
		return invalid("retry.max_attempts", "must be non-negative, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay <= 0 {
		return invalid("retry.base_delay", "must be positive, got %v", c.Retry.BaseDelay)
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return invalid("retry.max_delay", "must be at least retry.base_delay (%v), got %v", c.Retry.BaseDelay, c.Retry.MaxDelay)
	}
	switch c.Retry.Strategy {
	case "", "exponential", "decorrelated":
		// valid
	default:
		return invalid("retry.strategy", "must be \"exponential\" or \"decorrelated\", got %q", c.Retry.Strategy)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return invalid("retry.jitter", "must be within [0,1], got %v", c.Retry.Jitter)
	}
	if rl := c.Retry.RateLimit; rl.BaseDelay != 0 && (rl.BaseDelay < 0 || rl.MaxDelay < rl.BaseDelay) {
		return invalid("retry.rate_limit", "needs 0 < base_delay <= max_delay, got %v/%v", rl.BaseDelay, rl.MaxDelay)
	}
	if c.Cache.TTL <= 0 {
		return invalid("cache.ttl", "must be positive, got %v", c.Cache.TTL)
	}
	if c.Cache.DurableTTL <= 0 {
		return invalid("cache.durable_ttl", "must be positive, got %v", c.Cache.DurableTTL)
	}
	if c.Refresh.Interval < 0 {
		return invalid("refresh.interval", "must be non-negative, got %v", c.Refresh.Interval)
	}
	if c.Refresh.StaleWindow <= 0 {
		return invalid("refresh.stale_window", "must be positive, got %v", c.Refresh.StaleWindow)
	}
	if c.Storage.CachePrefix == "" {
		return invalid("storage.cache_prefix", "cannot be empty")
	}
	if c.Storage.CachePrefix == c.Storage.PrefsPrefix {
		return invalid("storage.prefs_prefix", "must differ from storage.cache_prefix")
	}
	switch c.Source.Mode {
	case SourceRemote, SourceSynthetic:
		// valid
	default:
		return invalid("source.mode", "must be %q or %q, got %q", SourceRemote, SourceSynthetic, c.Source.Mode)
	}
	if c.Source.LatencyScale < 0 {
		return invalid("source.latency_scale", "must be non-negative, got %v", c.Source.LatencyScale)
	}
	if c.Source.FailureRate < 0 || c.Source.FailureRate > 1 {
		return invalid("source.failure_rate", "must be within [0,1], got %v", c.Source.FailureRate)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return invalid("log.level", "must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	err := perrors.Newf(perrors.CodeInvalidConfig, "config: "+field+" "+format, args...)
	return perrors.WithContext(err, "field", field)
}

// ApplyEnv applies environment variable overrides to the config.
// Supported variables: COVIDTRACK_API_BASE_URL, COVIDTRACK_API_KEY,
// COVIDTRACK_API_TIMEOUT, COVIDTRACK_RETRY_ATTEMPTS, COVIDTRACK_CACHE_TTL,
// COVIDTRACK_REFRESH_INTERVAL, COVIDTRACK_STORAGE_PATH, COVIDTRACK_SOURCE,
// COVIDTRACK_METRICS_ADDR, COVIDTRACK_LOG_LEVEL, COVIDTRACK_LOG_FILE.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"COVIDTRACK_API_BASE_URL": &c.API.BaseURL,
		"COVIDTRACK_API_KEY":      &c.API.Key,
		"COVIDTRACK_STORAGE_PATH": &c.Storage.Path,
		"COVIDTRACK_SOURCE":       &c.Source.Mode,
		"COVIDTRACK_METRICS_ADDR": &c.Metrics.Addr,
		"COVIDTRACK_LOG_LEVEL":    &c.Log.Level,
		"COVIDTRACK_LOG_FILE":     &c.Log.File,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"COVIDTRACK_API_TIMEOUT":      &c.API.Timeout,
		"COVIDTRACK_CACHE_TTL":        &c.Cache.TTL,
		"COVIDTRACK_REFRESH_INTERVAL": &c.Refresh.Interval,
	}
	for name, dst := range durations {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return perrors.Wrap(err, perrors.CodeInvalidConfig, fmt.Sprintf("config: invalid %s %q", name, v))
			}
			*dst = d
		}
	}

	if v := os.Getenv("COVIDTRACK_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return perrors.Wrap(err, perrors.CodeInvalidConfig, fmt.Sprintf("config: invalid COVIDTRACK_RETRY_ATTEMPTS %q", v))
		}
		c.Retry.MaxAttempts = n
	}
	return nil
}

// loadLayer reads a single config file into a rawConfig for selective merging.
// Returns nil if the file does not exist. Rejects unknown fields.
func loadLayer(path string) (*rawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, perrors.Wrap(err, perrors.CodeInvalidConfig, "config: reading "+path)
	}

	if len(data) == 0 {
		return nil, nil
	}

	var raw rawConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		// Comment-only YAML files produce EOF with no decoded content.
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, perrors.Wrap(err, perrors.CodeInvalidConfig, "config: parsing "+path)
	}

	return &raw, nil
}
