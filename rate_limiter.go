package tracker

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket: it holds up to maxTokens and regains one
// token every refillRate. A nil *RateLimiter allows everything.
type RateLimiter struct {
	clock      Clock
	sleep      SleepFunc
	maxTokens  int
	refillRate time.Duration

	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter creates a full bucket.
func NewRateLimiter(maxTokens int, refillRate time.Duration, clock Clock) *RateLimiter {
	if clock == nil {
		clock = SystemClock
	}
	return &RateLimiter{
		clock:      clock,
		sleep:      sleepContext,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		tokens:     maxTokens,
		lastRefill: clock.Now(),
	}
}

// Allow takes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	if rl == nil {
		return true
	}
	ok, _ := rl.take()
	return ok
}

// Wait blocks until a token is available or ctx is done, returning the
// context error in the latter case.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return ctx.Err()
	}
	for {
		ok, wait := rl.take()
		if ok {
			return nil
		}
		if err := rl.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Tokens reports the tokens currently available.
func (rl *RateLimiter) Tokens() int {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(rl.clock.Now())
	return rl.tokens
}

// take consumes a token, or reports how long until the next one.
func (rl *RateLimiter) take() (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	rl.refill(now)
	if rl.tokens > 0 {
		rl.tokens--
		return true, 0
	}
	if rl.refillRate <= 0 {
		// Never refills; poll rather than spin.
		return false, time.Second
	}
	return false, rl.lastRefill.Add(rl.refillRate).Sub(now)
}

func (rl *RateLimiter) refill(now time.Time) {
	if rl.refillRate <= 0 {
		return
	}
	elapsed := now.Sub(rl.lastRefill)
	add := int(elapsed / rl.refillRate)
	if add == 0 {
		return
	}
	rl.tokens = min(rl.tokens+add, rl.maxTokens)
	rl.lastRefill = rl.lastRefill.Add(time.Duration(add) * rl.refillRate)
	if rl.tokens == rl.maxTokens {
		rl.lastRefill = now
	}
}
