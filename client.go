package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultMaxBodyBytes   = 10 << 20
	defaultAPIKeyHeader   = "X-Api-Key"
)

var (
	errRequestTimeout = errors.New("request timeout elapsed")
	errRequestAborted = errors.New("request cancelled by token")
)

// Request describes a single call to the data API.
type Request struct {
	Method string
	// Path is resolved against the client's base URL unless it is absolute.
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
	// Timeout overrides the client's default when positive.
	Timeout time.Duration
	// Token lets another goroutine cancel this call; the call then fails
	// with KindAborted.
	Token *CancelToken
}

// RawResponse is a successful (2xx) response with its body fully read.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the body into v. Malformed payloads yield KindValidation.
func (r *RawResponse) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		ne := NewError(KindValidation, "response body is not valid JSON", map[string]any{"error": err.Error()})
		ne.Cause = err
		return ne
	}
	return nil
}

// CancelToken cancels every in-flight call that carries it. Cancelling is
// idempotent; a cancelled token aborts later calls immediately.
type CancelToken struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCancelToken returns a live token.
func NewCancelToken() *CancelToken {
	ctx, cancel := context.WithCancel(context.Background())
	return &CancelToken{ctx: ctx, cancel: cancel}
}

// Cancel aborts calls carrying the token.
func (t *CancelToken) Cancel() { t.cancel() }

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool { return t.ctx.Err() != nil }

// HTTPClient performs single calls against the data API with a hard timeout
// and maps failures to *NormalizedError. It does not cache or retry. It is
// safe for concurrent use.
type HTTPClient struct {
	httpClient   *http.Client
	baseURL      string
	timeout      time.Duration
	header       http.Header
	middleware   []Middleware
	maxBodyBytes int64
	logger       Logger
	metrics      *MetricsCollector
	limiter      *RateLimiter
	breaker      *CircuitBreaker
	validation   error
}

// NewHTTPClient constructs a client from functional options. Configuration
// problems are reported by ValidationError rather than a panic.
func NewHTTPClient(options ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		httpClient:   &http.Client{},
		timeout:      defaultRequestTimeout,
		header:       http.Header{"Content-Type": {"application/json"}, "Accept": {"application/json"}, "User-Agent": {UserAgent()}},
		maxBodyBytes: defaultMaxBodyBytes,
		logger:       NopLogger,
	}
	for _, option := range options {
		option(c)
	}
	if c.breaker != nil {
		c.breaker.observe(func(s CircuitState) {
			c.metrics.RecordCircuitBreakerState("api", s)
			c.logger.Warn("Circuit breaker state changed", "state", s.String())
		})
	}
	c.validation = c.ValidateConfiguration()
	return c
}

// Get issues a GET for path with the given query parameters.
func (c *HTTPClient) Get(ctx context.Context, path string, params map[string]any) (*RawResponse, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: QueryParams(params)})
}

// Cancel aborts calls carrying token. It reports false for a nil token.
func (c *HTTPClient) Cancel(token *CancelToken) bool {
	if token == nil {
		return false
	}
	token.Cancel()
	return true
}

// Do performs one round trip. Every error it returns is a *NormalizedError:
// KindTimeout when the timeout elapses, KindAborted when ctx or the token
// is cancelled, KindRateLimit for 429 and KindAPIUnavailable for any other
// non-2xx status.
//
// With a circuit breaker configured, calls fail fast with KindAPIUnavailable
// while the circuit is open. With a rate limiter configured, calls wait for
// a token first.
func (c *HTTPClient) Do(ctx context.Context, r Request) (*RawResponse, error) {
	if c.validation != nil {
		return nil, Normalize(c.validation, "http")
	}

	endpoint := endpointFromPath(r.Path)
	if !c.breaker.Allow() {
		return nil, &NormalizedError{
			Kind:      KindAPIUnavailable,
			Message:   "Upstream is failing; requests are paused",
			Details:   map[string]any{"circuit": StateOpen.String()},
			Context:   endpoint,
			Timestamp: time.Now(),
		}
	}
	if c.limiter != nil {
		err := c.limiter.Wait(ctx)
		c.metrics.RecordRateLimiterTokens("api", c.limiter.Tokens())
		if err != nil {
			return nil, Normalize(err, endpoint)
		}
	}

	raw, err := c.do(ctx, r)
	c.breaker.Record(err)
	return raw, err
}

func (c *HTTPClient) do(ctx context.Context, r Request) (*RawResponse, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	endpoint := endpointFromPath(r.Path)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if r.Token != nil {
		stop := context.AfterFunc(r.Token.ctx, func() { cancel(errRequestAborted) })
		defer stop()
	}
	timeout := c.timeout
	if r.Timeout > 0 {
		timeout = r.Timeout
	}
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeoutCause(ctx, timeout, errRequestTimeout)
		defer cancelTimeout()
	}

	target, err := c.resolve(r.Path, r.Query)
	if err != nil {
		return nil, &NormalizedError{Kind: KindValidation, Message: "invalid request URL", Context: endpoint, Timestamp: time.Now(), Cause: err}
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &NormalizedError{Kind: KindValidation, Message: "invalid request", Context: endpoint, Timestamp: time.Now(), Cause: err}
	}
	for k, vs := range c.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range r.Header {
		req.Header[k] = append([]string(nil), vs...)
	}

	start := time.Now()
	c.metrics.RecordRequestStart(method, endpoint)
	defer c.metrics.RecordRequestEnd(method, endpoint)
	c.logger.Debug("Starting request", "method", method, "url", target, "timeout", timeout)

	resp, err := c.executeMiddleware(req)
	if err != nil {
		ne := c.transportError(ctx, err, endpoint)
		c.metrics.RecordRequest(method, endpoint, 0, time.Since(start))
		c.logger.Debug("Request failed", "method", method, "url", target, "kind", ne.Kind, "error", err)
		return nil, ne
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	c.metrics.RecordRequest(method, endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, c.transportError(ctx, err, endpoint)
	}
	if int64(len(payload)) > c.maxBodyBytes {
		return nil, &NormalizedError{
			Kind:       KindValidation,
			Message:    fmt.Sprintf("response body exceeds %d bytes", c.maxBodyBytes),
			Context:    endpoint,
			StatusCode: resp.StatusCode,
			Timestamp:  time.Now(),
		}
	}

	c.logger.Debug("Request completed", "method", method, "url", target, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp, payload, endpoint)
	}
	return &RawResponse{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: payload}, nil
}

func (c *HTTPClient) resolve(path string, query url.Values) (string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	if !u.IsAbs() {
		if c.baseURL == "" {
			return "", fmt.Errorf("relative path %q with no base URL", path)
		}
		base, err := url.Parse(strings.TrimSuffix(c.baseURL, "/") + "/" + strings.TrimPrefix(u.Path, "/"))
		if err != nil {
			return "", err
		}
		base.RawQuery = u.RawQuery
		u = base
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *HTTPClient) executeMiddleware(req *http.Request) (*http.Response, error) {
	if len(c.middleware) == 0 {
		return c.httpClient.Do(req)
	}

	current := RoundTripperFunc(c.httpClient.Do)
	for i := len(c.middleware) - 1; i >= 0; i-- {
		middleware := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}
	return current.RoundTrip(req)
}

// transportError classifies a failure that produced no response, using the
// cancellation cause to tell our timeout apart from an abort.
func (c *HTTPClient) transportError(ctx context.Context, err error, endpoint string) *NormalizedError {
	now := time.Now()
	switch cause := context.Cause(ctx); {
	case errors.Is(cause, errRequestTimeout), errors.Is(cause, context.DeadlineExceeded):
		return &NormalizedError{Kind: KindTimeout, Message: defaultMessages[KindTimeout], Context: endpoint, Timestamp: now, Cause: err}
	case cause != nil:
		return &NormalizedError{Kind: KindAborted, Message: defaultMessages[KindAborted], Context: endpoint, Timestamp: now, Cause: err}
	}
	return normalizeAt(err, endpoint, now)
}

func statusError(resp *http.Response, payload []byte, endpoint string) *NormalizedError {
	details := map[string]any{"status": resp.StatusCode}

	var parsed any
	if len(bytes.TrimSpace(payload)) > 0 && json.Unmarshal(payload, &parsed) == nil {
		if obj, ok := parsed.(map[string]any); ok {
			for k, v := range obj {
				details[k] = v
			}
			details["status"] = resp.StatusCode
		} else {
			details["body"] = parsed
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		ne := newErrorAt(KindRateLimit, "", details, time.Now())
		ne.Context = endpoint
		ne.StatusCode = resp.StatusCode
		ne.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return ne
	}

	msg := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if m, ok := details["message"].(string); ok && m != "" {
		msg = m
	}
	ne := newErrorAt(KindAPIUnavailable, msg, details, time.Now())
	ne.Context = endpoint
	ne.StatusCode = resp.StatusCode
	return ne
}

// parseRetryAfter parses the Retry-After header value in either
// delay-seconds or HTTP-date form, capped at one hour.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		delay := time.Duration(seconds) * time.Second
		if delay > time.Hour {
			delay = time.Hour
		}
		return delay
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}
	return 0
}

func endpointFromPath(path string) string {
	if u, err := url.Parse(path); err == nil && u.Path != "" {
		return u.Path
	}
	return path
}
