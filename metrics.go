package tracker

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the fetch core. A nil
// *MetricsCollector is valid and records nothing. It is safe for concurrent
// use.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	fetchesTotal  *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	retriesTotal  *prometheus.CounterVec
	coalesced     *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheSize   *prometheus.GaugeVec

	revalidations *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec
	rateLimiterTokens   *prometheus.GaugeVec

	errorsTotal *prometheus.CounterVec

	registerer prometheus.Registerer
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registry)
	return &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "covidtrack_http_requests_total",
				Help: "Total number of HTTP requests sent to the data API",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "covidtrack_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "covidtrack_http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		fetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "covidtrack_fetches_total",
				Help: "Orchestrated fetches by outcome (hit, success, error)",
			},
			[]string{"endpoint", "outcome"},
		),
		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "covidtrack_fetch_duration_seconds",
				Help:    "Duration of orchestrated fetches including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "outcome"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "covidtrack_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"endpoint", "kind", "attempt"},
		),
		coalesced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "covidtrack_coalesced_fetches_total",
				Help: "Fetches that joined an in-flight call for the same key",
			},
			[]string{"endpoint"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "covidtrack_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"layer", "endpoint"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "covidtrack_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"layer", "endpoint"},
		),
		cacheSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "covidtrack_cache_size",
				Help: "Current number of entries in cache",
			},
			[]string{"layer"},
		),
		revalidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "covidtrack_revalidations_total",
				Help: "Background stale-while-revalidate refreshes by result",
			},
			[]string{"endpoint", "result"},
		),
		circuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "covidtrack_circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		rateLimiterTokens: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "covidtrack_rate_limiter_tokens",
				Help: "Tokens left in the request rate limiter",
			},
			[]string{"name"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "covidtrack_errors_total",
				Help: "Total number of normalized errors by kind",
			},
			[]string{"kind", "endpoint"},
		),
		registerer: registry,
	}
}

// RecordRequest records HTTP request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	statusCodeStr := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, statusCodeStr, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, statusCodeStr, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordFetch records one orchestrated fetch.
func (mc *MetricsCollector) RecordFetch(key, outcome string, duration time.Duration) {
	if mc == nil {
		return
	}
	endpoint := endpointLabel(key)
	mc.fetchesTotal.WithLabelValues(endpoint, outcome).Inc()
	mc.fetchDuration.WithLabelValues(endpoint, outcome).Observe(duration.Seconds())
}

// RecordRetry increments the retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(key string, kind ErrorKind, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(endpointLabel(key), string(kind), strconv.Itoa(attempt)).Inc()
}

// RecordCoalesced counts a caller that shared another caller's fetch.
func (mc *MetricsCollector) RecordCoalesced(key string) {
	if mc == nil {
		return
	}
	mc.coalesced.WithLabelValues(endpointLabel(key)).Inc()
}

// RecordCacheHit increments the cache hit counter for a layer
// ("memory" or "durable").
func (mc *MetricsCollector) RecordCacheHit(layer, key string) {
	if mc == nil {
		return
	}
	mc.cacheHits.WithLabelValues(layer, endpointLabel(key)).Inc()
}

// RecordCacheMiss increments the cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss(layer, key string) {
	if mc == nil {
		return
	}
	mc.cacheMisses.WithLabelValues(layer, endpointLabel(key)).Inc()
}

// RecordCacheSize sets the cache size gauge.
func (mc *MetricsCollector) RecordCacheSize(layer string, size int) {
	if mc == nil {
		return
	}
	mc.cacheSize.WithLabelValues(layer).Set(float64(size))
}

// RecordRevalidation counts a background refresh result ("success",
// "error" or "skipped").
func (mc *MetricsCollector) RecordRevalidation(key, result string) {
	if mc == nil {
		return
	}
	mc.revalidations.WithLabelValues(endpointLabel(key), result).Inc()
}

// RecordCircuitBreakerState sets the gauge to the breaker state.
func (mc *MetricsCollector) RecordCircuitBreakerState(name string, state CircuitState) {
	if mc == nil {
		return
	}
	mc.circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRateLimiterTokens sets the available token gauge.
func (mc *MetricsCollector) RecordRateLimiterTokens(name string, tokens int) {
	if mc == nil {
		return
	}
	mc.rateLimiterTokens.WithLabelValues(name).Set(float64(tokens))
}

// RecordError increments the error counter by kind.
func (mc *MetricsCollector) RecordError(kind ErrorKind, key string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(string(kind), endpointLabel(key)).Inc()
}

// Registry returns the underlying *prometheus.Registry, or nil when the
// collector was built on another Registerer.
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	if mc == nil {
		return nil
	}
	r, _ := mc.registerer.(*prometheus.Registry)
	return r
}

// endpointLabel trims the parameter part of a cache key so label
// cardinality stays bounded by the number of endpoints.
func endpointLabel(key string) string {
	if idx := strings.Index(key, ":"); idx != -1 {
		return key[:idx]
	}
	return key
}
