package backoff

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// Params describes the delay curve shared by every strategy.
type Params struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the fraction (0..1) of each delay added at random. Zero
	// yields exact, repeatable delays.
	Jitter float64
}

// DefaultParams is the fetch core's retry curve: 1s doubling up to 10s.
func DefaultParams() Params {
	return Params{
		Base:       time.Second,
		Max:        10 * time.Second,
		Multiplier: 2,
	}
}

// Validate reports the first inconsistency in p.
func (p Params) Validate() error {
	switch {
	case p.Base <= 0:
		return fmt.Errorf("backoff: base delay must be positive, got %v", p.Base)
	case p.Max < p.Base:
		return fmt.Errorf("backoff: max delay %v is below base delay %v", p.Max, p.Base)
	case p.Multiplier < 1:
		return fmt.Errorf("backoff: multiplier must be at least 1, got %v", p.Multiplier)
	case p.Jitter < 0 || p.Jitter > 1:
		return fmt.Errorf("backoff: jitter must be within [0,1], got %v", p.Jitter)
	}
	return nil
}

// Strategy computes the wait before retry number attempt+1, where attempt
// is the zero-based index of the attempt that just failed.
type Strategy interface {
	Delay(attempt int, p Params) time.Duration
}

// Exponential waits min(Base*Multiplier^attempt, Max), plus optional jitter
// that never pushes the delay past Max.
type Exponential struct {
	// Rand returns a value in [0,1). Nil uses math/rand/v2.
	Rand func() float64
}

func (s Exponential) Delay(attempt int, p Params) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 2^30 seconds already overflows any sane cap.
	if attempt > 30 {
		attempt = 30
	}

	d := time.Duration(float64(p.Base) * pow(p.Multiplier, attempt))
	if d < 0 || d > p.Max {
		d = p.Max
	}

	if j := clampJitter(p.Jitter); j > 0 {
		d += time.Duration(float64(d) * j * random(s.Rand))
		if d > p.Max {
			d = p.Max
		}
	}
	return d
}

// Decorrelated picks uniformly in [Base, min(Max, Base*3^attempt)].
type Decorrelated struct {
	Rand func() float64
}

func (s Decorrelated) Delay(attempt int, p Params) time.Duration {
	if attempt <= 0 {
		return p.Base
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(p.Base)
	upper := base * pow(3, attempt)
	if upper > float64(p.Max) || upper < 0 {
		upper = float64(p.Max)
	}
	if upper < base {
		upper = base
	}

	d := time.Duration(base + random(s.Rand)*(upper-base))
	if d < 0 || d > p.Max {
		d = p.Max
	}
	return d
}

// ByName resolves a strategy from its configuration name.
func ByName(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "exponential":
		return Exponential{}, nil
	case "decorrelated":
		return Decorrelated{}, nil
	default:
		return nil, fmt.Errorf("backoff: unknown strategy %q", name)
	}
}

func random(fn func() float64) float64 {
	if fn != nil {
		return fn()
	}
	return rand.Float64()
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
