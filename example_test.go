package tracker_test

import (
	"context"
	"fmt"
	"time"

	tracker "github.com/OptimusRahul/covid19-tracker"
)

func ExampleCacheKey() {
	// Parameter order never changes the key.
	fmt.Println(tracker.CacheKey("/countries", map[string]any{"region": "europe", "limit": 10}))
	fmt.Println(tracker.CacheKey("/global", nil))
	// Output:
	// /countries:{"limit":10,"region":"europe"}
	// /global:{}
}

func ExampleExecute() {
	fetcher := tracker.NewFetcher(
		tracker.WithDefaultTTL(time.Minute),
		tracker.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)

	calls := 0
	fetch := func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, tracker.NewError(tracker.KindNetwork, "", nil)
		}
		return 42, nil
	}

	ctx := context.Background()
	v, err := tracker.Execute(ctx, fetcher, "answer", fetch, tracker.ExecuteOptions{})
	fmt.Println(v, err, calls)

	// Served from the cache.
	v, err = tracker.Execute(ctx, fetcher, "answer", fetch, tracker.ExecuteOptions{})
	fmt.Println(v, err, calls)
	// Output:
	// 42 <nil> 2
	// 42 <nil> 2
}

func ExampleNormalizedError_UserMessage() {
	err := tracker.NewError(tracker.KindRateLimit, "", map[string]any{"status": 429})
	fmt.Println(err.Kind, err.Retryable())
	fmt.Println(err.UserMessage())
	// Output:
	// RATE_LIMIT true
	// Too many requests. Please wait a moment before trying again.
}
