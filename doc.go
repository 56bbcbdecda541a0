// Package tracker is the resilient fetch and cache core behind the covidtrack
// dashboard:
//
//   - HTTPClient: single API calls with a hard timeout, optional rate limiting
//     (token bucket) and circuit breaking, every failure mapped to a
//     *NormalizedError
//   - Fetcher: bounded exponential backoff on retryable failures, a TTL
//     ResponseCache keyed by endpoint and canonical parameters, and sharing of
//     concurrent identical fetches
//   - Query: last-request-wins state for one resource, with interval refetch
//     and staleness tracking
//   - DurableQuery: stale-while-revalidate over a persistent KVStore (bbolt or
//     in memory) wrapped in a SafeStore that never fails the caller
//   - Prometheus metrics and slog-backed logging
//
// Typical usage:
//
//	client := tracker.NewHTTPClient(
//	    tracker.WithBaseURL("https://api.api-ninjas.com/v1"),
//	    tracker.WithAPIKey("X-Api-Key", key),
//	    tracker.WithRequestTimeout(10*time.Second),
//	)
//	fetcher := tracker.NewFetcher(tracker.WithDefaultTTL(15*time.Minute))
//	key := tracker.CacheKey("/covid19", map[string]any{"country": "Germany"})
//	data, err := tracker.Execute(ctx, fetcher, key, func(ctx context.Context) ([]byte, error) {
//	    resp, err := client.Get(ctx, "/covid19", map[string]any{"country": "Germany"})
//	    if err != nil {
//	        return nil, err
//	    }
//	    return resp.Body, nil
//	}, tracker.ExecuteOptions{Context: "getCountry"})
//
// Only NETWORK, TIMEOUT, RATE_LIMIT and API_UNAVAILABLE failures are retried.
// Failures are never cached.
package tracker
