package backoff

import "time"

// Calculator binds a Strategy to a fixed set of Params.
type Calculator struct {
	strategy Strategy
	params   Params
}

// NewCalculator returns a calculator; a nil strategy means Exponential.
func NewCalculator(strategy Strategy, params Params) *Calculator {
	if strategy == nil {
		strategy = Exponential{}
	}
	return &Calculator{strategy: strategy, params: params}
}

// Delay returns the wait after the given zero-based failed attempt.
func (c *Calculator) Delay(attempt int) time.Duration {
	return c.strategy.Delay(attempt, c.params)
}

// Params returns the curve this calculator was built with.
func (c *Calculator) Params() Params {
	return c.params
}

// Strategy returns the underlying strategy.
func (c *Calculator) Strategy() Strategy {
	return c.strategy
}

// Schedule lists the delays for attempts 0..n-1.
func (c *Calculator) Schedule(n int) []time.Duration {
	out := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, c.Delay(i))
	}
	return out
}
