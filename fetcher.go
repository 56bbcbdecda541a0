package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	revalidate "github.com/OptimusRahul/covid19-tracker/internal/singleflight"
)

const (
	// DefaultCacheTTL is how long a fetched value is served from memory.
	DefaultCacheTTL = 15 * time.Minute
	// DefaultMaxAttempts is the retry cap; a fetch makes at most
	// DefaultMaxAttempts+1 calls.
	DefaultMaxAttempts = 3
	// NoRetries in ExecuteOptions.MaxAttempts makes a single attempt.
	NoRetries = -1
)

// ExecuteOptions tunes one Execute call. Zero values use the Fetcher's
// defaults.
type ExecuteOptions struct {
	TTL         time.Duration
	MaxAttempts int
	// SkipCache bypasses the cache read and in-flight sharing; a successful
	// result is still written back.
	SkipCache bool
	// Context labels errors produced by this call.
	Context string
	// OnRetry runs before each backoff wait with the upcoming attempt
	// number (1-based), the failure and the delay.
	OnRetry func(attempt int, err *NormalizedError, delay time.Duration)
}

// Fetcher is the retrying orchestrator: it consults its ResponseCache,
// invokes the fetch function with bounded exponential backoff on retryable
// failures, and caches successes. Failures are never cached. Concurrent
// cold calls for the same key share one underlying fetch unless coalescing
// is disabled. It is safe for concurrent use.
type Fetcher struct {
	cache       *ResponseCache
	policy      RetryPolicy
	sleep       SleepFunc
	clock       Clock
	defaultTTL  time.Duration
	maxAttempts int
	coalesce    bool
	logger      Logger
	metrics     *MetricsCollector

	group   singleflight.Group
	mu      sync.Mutex
	flights map[string]*flight

	// revalidations admits one background refresh per durable key.
	revalidations *revalidate.Group
}

// flight tracks callers sharing one coalesced fetch so the fetch can be
// cancelled once every caller has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewFetcher builds a Fetcher. Without WithCache it owns a fresh
// ResponseCache.
func NewFetcher(options ...FetcherOption) *Fetcher {
	f := &Fetcher{
		policy:      DefaultRetryPolicy(),
		sleep:       sleepContext,
		clock:       SystemClock,
		defaultTTL:  DefaultCacheTTL,
		maxAttempts: DefaultMaxAttempts,
		coalesce:    true,
		logger:      NopLogger,
		flights:     make(map[string]*flight),

		revalidations: revalidate.New(),
	}
	for _, option := range options {
		option(f)
	}
	if f.cache == nil {
		f.cache = NewResponseCache(f.clock)
	}
	return f
}

// Execute returns the cached value for key when fresh, otherwise calls fn
// with retries and caches its result. Every error is a *NormalizedError.
//
// With coalescing on, a caller that arrives while a fetch for key is in
// flight joins it: the first caller's fn and opts (TTL, MaxAttempts,
// OnRetry, Context) drive the shared fetch and the joiner's are ignored.
// Use SkipCache or WithoutCoalescing when a call must run its own fn.
func Execute[T any](ctx context.Context, f *Fetcher, key string, fn func(context.Context) (T, error), opts ExecuteOptions) (T, error) {
	var zero T
	v, err := f.execute(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, opts)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, &NormalizedError{
			Kind:      KindValidation,
			Message:   fmt.Sprintf("cached value for %q has type %T, want %T", key, v, zero),
			Context:   opts.Context,
			Timestamp: f.clock.Now(),
		}
	}
	return out, nil
}

func (f *Fetcher) execute(ctx context.Context, key string, fn func(context.Context) (any, error), opts ExecuteOptions) (any, error) {
	start := time.Now()

	if opts.TTL < 0 {
		return nil, &NormalizedError{Kind: KindValidation, Message: ErrInvalidTTL.Error(), Context: opts.Context, Timestamp: f.clock.Now()}
	}
	if ctx.Err() != nil {
		return nil, f.contextError(ctx, opts.Context)
	}

	if !opts.SkipCache {
		if v, ok := f.cache.Get(key); ok {
			f.metrics.RecordCacheHit("memory", key)
			f.metrics.RecordFetch(key, "hit", time.Since(start))
			f.logger.Debug("Cache hit", "key", key)
			return v, nil
		}
		f.metrics.RecordCacheMiss("memory", key)
	}

	var (
		v   any
		err error
	)
	if f.coalesce && !opts.SkipCache {
		v, err = f.shared(ctx, key, fn, opts)
	} else {
		v, err = f.run(ctx, key, fn, opts)
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	f.metrics.RecordFetch(key, outcome, time.Since(start))
	return v, err
}

// shared joins or starts the coalesced fetch for key. A caller whose context
// ends stops waiting at once with KindAborted; the fetch itself is cancelled
// only when no caller is left.
func (f *Fetcher) shared(ctx context.Context, key string, fn func(context.Context) (any, error), opts ExecuteOptions) (any, error) {
	f.mu.Lock()
	fl, ok := f.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		fl = &flight{ctx: fctx, cancel: cancel}
		f.flights[key] = fl
	}
	fl.waiters++
	ch := f.group.DoChan(key, func() (any, error) {
		return f.run(fl.ctx, key, fn, opts)
	})
	f.mu.Unlock()

	select {
	case res := <-ch:
		f.leave(key, fl, false)
		if res.Shared {
			f.metrics.RecordCoalesced(key)
		}
		return res.Val, res.Err
	case <-ctx.Done():
		f.leave(key, fl, true)
		return nil, f.contextError(ctx, opts.Context)
	}
}

func (f *Fetcher) leave(key string, fl *flight, abandoned bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	if f.flights[key] == fl {
		delete(f.flights, key)
	}
	if abandoned {
		f.group.Forget(key)
	}
	fl.cancel()
}

// run is the retry loop. Attempts are numbered from zero; a failure on
// attempt n is retried while the policy allows, so at most maxAttempts+1
// calls are made.
func (f *Fetcher) run(ctx context.Context, key string, fn func(context.Context) (any, error), opts ExecuteOptions) (any, error) {
	ttl := opts.TTL
	if ttl == 0 {
		ttl = f.defaultTTL
	}
	maxAttempts := opts.MaxAttempts
	switch {
	case maxAttempts == 0:
		maxAttempts = f.maxAttempts
	case maxAttempts < 0:
		maxAttempts = 0
	}

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil, f.contextError(ctx, opts.Context)
		}

		v, err := fn(ctx)
		if err == nil {
			if setErr := f.cache.Set(key, v, ttl); setErr != nil {
				f.logger.Warn("Result not cached", "key", key, "error", setErr)
			}
			f.metrics.RecordCacheSize("memory", f.cache.Size())
			if attempt > 0 {
				f.logger.Info("Fetch succeeded after retry", "key", key, "attempt", attempt)
			}
			return v, nil
		}

		ne := normalizeAt(err, opts.Context, f.clock.Now())
		if ctx.Err() != nil && ne.Kind != KindAborted {
			// The caller gave up; report that rather than the symptom.
			ne = f.contextError(ctx, opts.Context)
		}
		f.metrics.RecordError(ne.Kind, key)

		if ne.Kind == KindAborted {
			return nil, ne
		}

		delay, retry := f.policy.Next(ne, attempt, maxAttempts)
		if !retry {
			f.logger.Warn("Fetch failed", "key", key, "kind", ne.Kind, "attempts", attempt+1, "error", ne.Message)
			return nil, ne
		}

		f.metrics.RecordRetry(key, ne.Kind, attempt+1)
		f.logger.Info("Scheduling retry", "key", key, "attempt", attempt+1, "maxAttempts", maxAttempts, "backoff", delay, "kind", ne.Kind)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, ne, delay)
		}

		if err := f.sleep(ctx, delay); err != nil {
			return nil, f.contextError(ctx, opts.Context)
		}
	}
}

// contextError maps a finished context to TIMEOUT (deadline) or ABORTED
// (cancellation).
func (f *Fetcher) contextError(ctx context.Context, label string) *NormalizedError {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	ne := normalizeAt(cause, label, f.clock.Now())
	if ne.Kind != KindTimeout {
		ne.Kind = KindAborted
		ne.Message = defaultMessages[KindAborted]
	}
	return ne
}

// Peek returns the fresh cached value for key without fetching.
func (f *Fetcher) Peek(key string) (any, bool) {
	return f.cache.Get(key)
}

// Invalidate drops the cached value for key.
func (f *Fetcher) Invalidate(key string) {
	f.cache.Delete(key)
	f.metrics.RecordCacheSize("memory", f.cache.Size())
}

// ClearCache drops every cached value.
func (f *Fetcher) ClearCache() {
	f.cache.Clear()
	f.metrics.RecordCacheSize("memory", 0)
}

// CacheSize returns the number of cached entries.
func (f *Fetcher) CacheSize() int {
	return f.cache.Size()
}

// Cache exposes the underlying cache.
func (f *Fetcher) Cache() *ResponseCache {
	return f.cache
}

// Clock returns the clock used for timestamps and TTLs.
func (f *Fetcher) Clock() Clock {
	return f.clock
}
