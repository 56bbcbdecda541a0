package tracker

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithBaseURL sets the URL relative request paths resolve against.
func WithBaseURL(base string) ClientOption {
	return func(c *HTTPClient) {
		c.baseURL = strings.TrimSuffix(base, "/")
	}
}

// WithRequestTimeout sets the default hard timeout per request.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.timeout = d
	}
}

// WithHTTPClient sets the underlying *http.Client. Its own Timeout should be
// zero; the request timeout is enforced per call.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient = client
	}
}

// WithHeader adds a default header sent on every request.
func WithHeader(key, value string) ClientOption {
	return func(c *HTTPClient) {
		c.header.Set(key, value)
	}
}

// WithAPIKey injects key into header on every request. An empty header name
// uses X-Api-Key.
func WithAPIKey(header, key string) ClientOption {
	if header == "" {
		header = defaultAPIKeyHeader
	}
	return WithMiddleware(func(req *http.Request, next RoundTripper) (*http.Response, error) {
		if key != "" {
			req.Header.Set(header, key)
		}
		return next.RoundTrip(req)
	})
}

// WithMiddleware appends middleware; the first registered runs outermost.
func WithMiddleware(middleware ...Middleware) ClientOption {
	return func(c *HTTPClient) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithRateLimiter throttles outgoing requests through rl.
func WithRateLimiter(rl *RateLimiter) ClientOption {
	return func(c *HTTPClient) {
		c.limiter = rl
	}
}

// WithCircuitBreaker makes the client fail fast while cb is open.
func WithCircuitBreaker(cb *CircuitBreaker) ClientOption {
	return func(c *HTTPClient) {
		c.breaker = cb
	}
}

// WithMaxBodyBytes caps how much of a response body is read.
func WithMaxBodyBytes(n int64) ClientOption {
	return func(c *HTTPClient) {
		c.maxBodyBytes = n
	}
}

// WithClientLogger sets the client's logger.
func WithClientLogger(logger Logger) ClientOption {
	return func(c *HTTPClient) {
		c.logger = loggerOrNop(logger)
	}
}

// WithClientMetrics sets the client's metrics collector.
func WithClientMetrics(collector *MetricsCollector) ClientOption {
	return func(c *HTTPClient) {
		c.metrics = collector
	}
}

// ValidationError returns the configuration error found at construction.
func (c *HTTPClient) ValidationError() error {
	return c.validation
}

// ValidateConfiguration checks the client configuration.
func (c *HTTPClient) ValidateConfiguration() error {
	var problems []string

	if c.timeout <= 0 {
		problems = append(problems, "request timeout must be positive")
	}
	if c.maxBodyBytes <= 0 {
		problems = append(problems, "max body bytes must be positive")
	}
	if c.httpClient == nil {
		problems = append(problems, "http client must not be nil")
	}
	if c.baseURL != "" && !strings.HasPrefix(c.baseURL, "http://") && !strings.HasPrefix(c.baseURL, "https://") {
		problems = append(problems, fmt.Sprintf("base URL %q must use http or https", c.baseURL))
	}
	for i, m := range c.middleware {
		if m == nil {
			problems = append(problems, fmt.Sprintf("middleware at index %d is nil", i))
		}
	}

	if len(problems) > 0 {
		return &NormalizedError{
			Kind:      KindValidation,
			Message:   "client configuration invalid",
			Details:   map[string]any{"problems": problems},
			Timestamp: time.Now(),
			Cause:     fmt.Errorf("validation errors: %v", problems),
		}
	}
	return nil
}

// WithCache shares an existing cache, typically one per process.
func WithCache(cache *ResponseCache) FetcherOption {
	return func(f *Fetcher) {
		f.cache = cache
	}
}

// WithDefaultTTL sets the TTL used when ExecuteOptions.TTL is zero.
func WithDefaultTTL(ttl time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if ttl > 0 {
			f.defaultTTL = ttl
		}
	}
}

// WithMaxAttempts sets the default retry cap.
func WithMaxAttempts(n int) FetcherOption {
	return func(f *Fetcher) {
		if n >= 0 {
			f.maxAttempts = n
		}
	}
}

// WithBackoff replaces the retry curve for every retryable kind. Invalid
// curves are ignored and the default kept.
func WithBackoff(cfg BackoffConfig) FetcherOption {
	return func(f *Fetcher) {
		if p, err := NewKindRetryPolicy(cfg, nil); err == nil {
			f.policy = p
		}
	}
}

// WithRetryPolicy sets a custom retry policy.
func WithRetryPolicy(policy RetryPolicy) FetcherOption {
	return func(f *Fetcher) {
		if policy != nil {
			f.policy = policy
		}
	}
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(sleep SleepFunc) FetcherOption {
	return func(f *Fetcher) {
		if sleep != nil {
			f.sleep = sleep
		}
	}
}

// WithClock sets the clock used for cache TTLs and error timestamps.
func WithClock(clock Clock) FetcherOption {
	return func(f *Fetcher) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// WithoutCoalescing lets concurrent cold calls for one key each reach the
// network, each with its own fetch function and options. By default later
// callers join the first caller's fetch and its options.
func WithoutCoalescing() FetcherOption {
	return func(f *Fetcher) {
		f.coalesce = false
	}
}

// WithLogger sets the fetcher's logger.
func WithLogger(logger Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = loggerOrNop(logger)
	}
}

// WithMetrics sets the fetcher's metrics collector.
func WithMetrics(collector *MetricsCollector) FetcherOption {
	return func(f *Fetcher) {
		f.metrics = collector
	}
}
