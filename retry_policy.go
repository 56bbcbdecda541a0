package tracker

import (
	"fmt"
	"time"

	"github.com/OptimusRahul/covid19-tracker/internal/backoff"
)

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait first. attempt is the zero-based index of the attempt that failed.
type RetryPolicy interface {
	Next(err *NormalizedError, attempt, maxAttempts int) (time.Duration, bool)
}

// BackoffConfig describes one delay curve.
type BackoffConfig struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter is the random fraction added to each delay. Zero keeps delays
	// exact and non-decreasing.
	Jitter float64
	// Strategy is "exponential" (default) or "decorrelated".
	Strategy string
}

// DefaultBackoffConfig returns min(1s*2^attempt, 10s) without jitter.
func DefaultBackoffConfig() BackoffConfig {
	p := backoff.DefaultParams()
	return BackoffConfig{
		BaseDelay:  p.Base,
		MaxDelay:   p.Max,
		Multiplier: p.Multiplier,
		Strategy:   "exponential",
	}
}

func (b BackoffConfig) params() backoff.Params {
	m := b.Multiplier
	if m == 0 {
		m = 2
	}
	return backoff.Params{Base: b.BaseDelay, Max: b.MaxDelay, Multiplier: m, Jitter: b.Jitter}
}

func (b BackoffConfig) calculator() (*backoff.Calculator, error) {
	p := b.params()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s, err := backoff.ByName(b.Strategy)
	if err != nil {
		return nil, err
	}
	return backoff.NewCalculator(s, p), nil
}

// KindRetryPolicy retries only retryable kinds and lets each kind use its own
// delay curve. RATE_LIMIT errors carrying a Retry-After hint wait at least
// that long, capped at the curve's MaxDelay.
type KindRetryPolicy struct {
	def     *backoff.Calculator
	perKind map[ErrorKind]*backoff.Calculator
}

// NewKindRetryPolicy validates def and every override.
func NewKindRetryPolicy(def BackoffConfig, perKind map[ErrorKind]BackoffConfig) (*KindRetryPolicy, error) {
	calc, err := def.calculator()
	if err != nil {
		return nil, fmt.Errorf("default backoff: %w", err)
	}
	p := &KindRetryPolicy{def: calc, perKind: make(map[ErrorKind]*backoff.Calculator, len(perKind))}
	for kind, cfg := range perKind {
		c, err := cfg.calculator()
		if err != nil {
			return nil, fmt.Errorf("%s backoff: %w", kind, err)
		}
		p.perKind[kind] = c
	}
	return p, nil
}

// DefaultRetryPolicy uses DefaultBackoffConfig for every retryable kind.
func DefaultRetryPolicy() *KindRetryPolicy {
	p, _ := NewKindRetryPolicy(DefaultBackoffConfig(), nil)
	return p
}

// Next implements RetryPolicy.
func (p *KindRetryPolicy) Next(err *NormalizedError, attempt, maxAttempts int) (time.Duration, bool) {
	if err == nil || !err.Retryable() || attempt >= maxAttempts {
		return 0, false
	}

	calc := p.def
	if c, ok := p.perKind[err.Kind]; ok {
		calc = c
	}
	delay := calc.Delay(attempt)

	if err.Kind == KindRateLimit && err.RetryAfter > delay {
		delay = min(err.RetryAfter, calc.Params().Max)
	}
	return delay, true
}
