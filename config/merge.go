package config

import "time"

// rawConfig mirrors Config with pointer fields so a layer can tell an
// explicit zero apart from an absent key.
type rawConfig struct {
	API     *rawAPI     `yaml:"api"`
	Retry   *rawRetry   `yaml:"retry"`
	Cache   *rawCache   `yaml:"cache"`
	Refresh *rawRefresh `yaml:"refresh"`
	Storage *rawStorage `yaml:"storage"`
	Source  *rawSource  `yaml:"source"`
	Metrics *rawMetrics `yaml:"metrics"`
	Log     *rawLog     `yaml:"log"`
}

type rawAPI struct {
	BaseURL   *string        `yaml:"base_url"`
	Key       *string        `yaml:"key"`
	KeyHeader *string        `yaml:"key_header"`
	Timeout   *time.Duration `yaml:"timeout"`

	RequestsPerMinute *int        `yaml:"requests_per_minute"`
	CircuitBreaker    *rawBreaker `yaml:"circuit_breaker"`
}

type rawBreaker struct {
	FailureThreshold *int           `yaml:"failure_threshold"`
	RecoveryTimeout  *time.Duration `yaml:"recovery_timeout"`
	SuccessThreshold *int           `yaml:"success_threshold"`
}

type rawRetry struct {
	MaxAttempts *int           `yaml:"max_attempts"`
	BaseDelay   *time.Duration `yaml:"base_delay"`
	MaxDelay    *time.Duration `yaml:"max_delay"`
	Strategy    *string        `yaml:"strategy"`
	Jitter      *float64       `yaml:"jitter"`
	RateLimit   *rawBackoff    `yaml:"rate_limit"`
}

type rawBackoff struct {
	BaseDelay *time.Duration `yaml:"base_delay"`
	MaxDelay  *time.Duration `yaml:"max_delay"`
}

type rawCache struct {
	TTL                  *time.Duration `yaml:"ttl"`
	DurableTTL           *time.Duration `yaml:"durable_ttl"`
	StaleWhileRevalidate *bool          `yaml:"stale_while_revalidate"`
	Coalesce             *bool          `yaml:"coalesce"`
}

type rawRefresh struct {
	Interval    *time.Duration `yaml:"interval"`
	StaleWindow *time.Duration `yaml:"stale_window"`
}

type rawStorage struct {
	Path        *string `yaml:"path"`
	Bucket      *string `yaml:"bucket"`
	CachePrefix *string `yaml:"cache_prefix"`
	PrefsPrefix *string `yaml:"prefs_prefix"`
}

type rawSource struct {
	Mode         *string  `yaml:"mode"`
	Seed         *uint64  `yaml:"seed"`
	LatencyScale *float64 `yaml:"latency_scale"`
	FailureRate  *float64 `yaml:"failure_rate"`
}

type rawMetrics struct {
	Addr *string `yaml:"addr"`
}

type rawLog struct {
	Level *string `yaml:"level"`
	File  *string `yaml:"file"`
}

// merge applies non-nil fields from a raw layer onto the config.
func (c *Config) merge(r *rawConfig) {
	if a := r.API; a != nil {
		set(&c.API.BaseURL, a.BaseURL)
		set(&c.API.Key, a.Key)
		set(&c.API.KeyHeader, a.KeyHeader)
		set(&c.API.Timeout, a.Timeout)
		set(&c.API.RequestsPerMinute, a.RequestsPerMinute)
		if b := a.CircuitBreaker; b != nil {
			set(&c.API.CircuitBreaker.FailureThreshold, b.FailureThreshold)
			set(&c.API.CircuitBreaker.RecoveryTimeout, b.RecoveryTimeout)
			set(&c.API.CircuitBreaker.SuccessThreshold, b.SuccessThreshold)
		}
	}
	if rt := r.Retry; rt != nil {
		set(&c.Retry.MaxAttempts, rt.MaxAttempts)
		set(&c.Retry.BaseDelay, rt.BaseDelay)
		set(&c.Retry.MaxDelay, rt.MaxDelay)
		set(&c.Retry.Strategy, rt.Strategy)
		set(&c.Retry.Jitter, rt.Jitter)
		if rl := rt.RateLimit; rl != nil {
			set(&c.Retry.RateLimit.BaseDelay, rl.BaseDelay)
			set(&c.Retry.RateLimit.MaxDelay, rl.MaxDelay)
		}
	}
	if ca := r.Cache; ca != nil {
		set(&c.Cache.TTL, ca.TTL)
		set(&c.Cache.DurableTTL, ca.DurableTTL)
		set(&c.Cache.StaleWhileRevalidate, ca.StaleWhileRevalidate)
		set(&c.Cache.Coalesce, ca.Coalesce)
	}
	if rf := r.Refresh; rf != nil {
		set(&c.Refresh.Interval, rf.Interval)
		set(&c.Refresh.StaleWindow, rf.StaleWindow)
	}
	if s := r.Storage; s != nil {
		set(&c.Storage.Path, s.Path)
		set(&c.Storage.Bucket, s.Bucket)
		set(&c.Storage.CachePrefix, s.CachePrefix)
		set(&c.Storage.PrefsPrefix, s.PrefsPrefix)
	}
	if s := r.Source; s != nil {
		set(&c.Source.Mode, s.Mode)
		set(&c.Source.Seed, s.Seed)
		set(&c.Source.LatencyScale, s.LatencyScale)
		set(&c.Source.FailureRate, s.FailureRate)
	}
	if m := r.Metrics; m != nil {
		set(&c.Metrics.Addr, m.Addr)
	}
	if l := r.Log; l != nil {
		set(&c.Log.Level, l.Level)
		set(&c.Log.File, l.File)
	}
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
