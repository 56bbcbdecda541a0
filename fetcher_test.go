package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestFetcher(clock *manualClock, sleeper *sleepRecorder, opts ...FetcherOption) *Fetcher {
	base := []FetcherOption{WithClock(clock), WithSleep(sleeper.Sleep)}
	return NewFetcher(append(base, opts...)...)
}

func TestExecuteCacheHitAvoidsNetwork(t *testing.T) {
	f := newTestFetcher(newManualClock(), &sleepRecorder{})
	_ = f.Cache().Set("k", "cached", time.Minute)

	var calls int
	got, err := Execute(context.Background(), f, "k", func(context.Context) (string, error) {
		calls++
		return "fresh", nil
	}, ExecuteOptions{})

	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if calls != 0 {
		t.Errorf("fn called %d times on cache hit, want 0", calls)
	}
	if got != "cached" {
		t.Errorf("Execute() = %q, want cached", got)
	}
}

func TestExecuteTTLScenario(t *testing.T) {
	clock := newManualClock()
	f := newTestFetcher(clock, &sleepRecorder{})

	var calls int
	fn := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}
	opts := ExecuteOptions{TTL: 5000 * time.Millisecond}

	v, err := Execute(context.Background(), f, "x", fn, opts)
	if err != nil || v != 1 || calls != 1 {
		t.Fatalf("t=0: v=%d err=%v calls=%d", v, err, calls)
	}

	clock.Advance(3000 * time.Millisecond)
	v, err = Execute(context.Background(), f, "x", fn, opts)
	if err != nil || v != 1 || calls != 1 {
		t.Fatalf("t=3000: want cache hit, got v=%d err=%v calls=%d", v, err, calls)
	}

	clock.Advance(3000 * time.Millisecond)
	v, err = Execute(context.Background(), f, "x", fn, opts)
	if err != nil || v != 2 || calls != 2 {
		t.Fatalf("t=6000: want refresh, got v=%d err=%v calls=%d", v, err, calls)
	}
}

func TestExecuteRetryBound(t *testing.T) {
	sleeper := &sleepRecorder{}
	f := newTestFetcher(newManualClock(), sleeper)

	var calls int
	_, err := Execute(context.Background(), f, "x", func(context.Context) (string, error) {
		calls++
		return "", NewError(KindNetwork, "", nil)
	}, ExecuteOptions{MaxAttempts: 3})

	if calls != 4 {
		t.Errorf("fn called %d times, want 4", calls)
	}
	if KindOf(err) != KindNetwork {
		t.Errorf("error kind = %v, want NETWORK", KindOf(err))
	}
	if f.CacheSize() != 0 {
		t.Errorf("failure was cached, CacheSize() = %d", f.CacheSize())
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	got := sleeper.Delays()
	if len(got) != len(want) {
		t.Fatalf("delays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestExecuteDelaysNonDecreasingAndCapped(t *testing.T) {
	sleeper := &sleepRecorder{}
	f := newTestFetcher(newManualClock(), sleeper)

	var calls int
	_, _ = Execute(context.Background(), f, "x", func(context.Context) (string, error) {
		calls++
		return "", errors.New("connection reset by peer")
	}, ExecuteOptions{MaxAttempts: 8})

	if calls != 9 {
		t.Errorf("fn called %d times, want 9", calls)
	}
	delays := sleeper.Delays()
	for i, d := range delays {
		if d > 10*time.Second {
			t.Errorf("delay[%d] = %v exceeds cap", i, d)
		}
		if i > 0 && d < delays[i-1] {
			t.Errorf("delay[%d] = %v decreased from %v", i, d, delays[i-1])
		}
	}
	if last := delays[len(delays)-1]; last != 10*time.Second {
		t.Errorf("last delay = %v, want cap 10s", last)
	}
}

func TestExecuteNonRetryableShortCircuit(t *testing.T) {
	sleeper := &sleepRecorder{}
	f := newTestFetcher(newManualClock(), sleeper)

	for _, kind := range []ErrorKind{KindValidation, KindGeneric, KindAborted} {
		var calls int
		_, err := Execute(context.Background(), f, "x", func(context.Context) (string, error) {
			calls++
			return "", NewError(kind, "", nil)
		}, ExecuteOptions{MaxAttempts: 5})

		if calls != 1 {
			t.Errorf("%s: fn called %d times, want 1", kind, calls)
		}
		if KindOf(err) != kind {
			t.Errorf("%s: error kind = %v", kind, KindOf(err))
		}
	}
	if len(sleeper.Delays()) != 0 {
		t.Errorf("slept %v for non-retryable errors", sleeper.Delays())
	}
}

func TestExecuteRecoversAfterRetry(t *testing.T) {
	f := newTestFetcher(newManualClock(), &sleepRecorder{})

	var calls int
	var retries []int
	v, err := Execute(context.Background(), f, "x", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewError(KindAPIUnavailable, "", nil)
		}
		return "ok", nil
	}, ExecuteOptions{OnRetry: func(attempt int, _ *NormalizedError, _ time.Duration) {
		retries = append(retries, attempt)
	}})

	if err != nil || v != "ok" {
		t.Fatalf("Execute() = %q, %v", v, err)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", retries)
	}
	if cached, ok := f.Peek("x"); !ok || cached != "ok" {
		t.Errorf("success not cached: %v %v", cached, ok)
	}
}

func TestExecuteNoRetries(t *testing.T) {
	f := newTestFetcher(newManualClock(), &sleepRecorder{}, WithMaxAttempts(5))

	var calls int
	_, _ = Execute(context.Background(), f, "x", func(context.Context) (string, error) {
		calls++
		return "", NewError(KindTimeout, "", nil)
	}, ExecuteOptions{MaxAttempts: NoRetries})

	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}

func TestExecuteSkipCache(t *testing.T) {
	f := newTestFetcher(newManualClock(), &sleepRecorder{})
	_ = f.Cache().Set("k", "old", time.Minute)

	v, err := Execute(context.Background(), f, "k", func(context.Context) (string, error) {
		return "new", nil
	}, ExecuteOptions{SkipCache: true})

	if err != nil || v != "new" {
		t.Fatalf("Execute(SkipCache) = %q, %v", v, err)
	}
	if cached, _ := f.Peek("k"); cached != "new" {
		t.Errorf("cache not refreshed, got %v", cached)
	}
}

func TestExecuteTypeMismatch(t *testing.T) {
	f := newTestFetcher(newManualClock(), &sleepRecorder{})
	_ = f.Cache().Set("k", 42, time.Minute)

	_, err := Execute(context.Background(), f, "k", func(context.Context) (string, error) {
		return "x", nil
	}, ExecuteOptions{})
	if KindOf(err) != KindValidation {
		t.Errorf("Expected VALIDATION, got %v", err)
	}
}

func TestExecuteCancelledDuringBackoff(t *testing.T) {
	f := NewFetcher(WithClock(newManualClock()))
	ctx, cancel := context.WithCancel(context.Background())

	var calls int32
	done := make(chan error, 1)
	go func() {
		_, err := Execute(ctx, f, "x", func(context.Context) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "", NewError(KindNetwork, "", nil)
		}, ExecuteOptions{})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if KindOf(err) != KindAborted {
			t.Errorf("Expected ABORTED, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not stop on cancellation")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("fn called %d times, want 1", got)
	}
}

func TestExecuteDeadlineIsTimeout(t *testing.T) {
	f := NewFetcher()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Execute(ctx, f, "x", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}, ExecuteOptions{})
	if KindOf(err) != KindTimeout {
		t.Errorf("Expected TIMEOUT, got %v", err)
	}
}

func TestExecuteRateLimitHonoursRetryAfter(t *testing.T) {
	sleeper := &sleepRecorder{}
	f := newTestFetcher(newManualClock(), sleeper)

	hints := []time.Duration{5 * time.Second, time.Hour}
	var calls int
	_, _ = Execute(context.Background(), f, "x", func(context.Context) (string, error) {
		calls++
		if calls > len(hints) {
			return "ok", nil
		}
		ne := NewError(KindRateLimit, "", nil)
		ne.RetryAfter = hints[calls-1]
		return "", ne
	}, ExecuteOptions{})

	got := sleeper.Delays()
	want := []time.Duration{5 * time.Second, 10 * time.Second}
	if len(got) != len(want) {
		t.Fatalf("delays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestExecuteCoalescesColdCalls(t *testing.T) {
	f := newTestFetcher(newManualClock(), &sleepRecorder{})

	var calls int32
	release := make(chan struct{})
	fn := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "shared", nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = Execute(context.Background(), f, "cold", fn, ExecuteOptions{})
		}(i)
	}

	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("fn called %d times, want 1", got)
	}
	for i, r := range results {
		if r != "shared" {
			t.Errorf("result[%d] = %q", i, r)
		}
	}
}

func TestExecuteJoinerUsesFirstCallersFetch(t *testing.T) {
	f := newTestFetcher(newManualClock(), &sleepRecorder{})

	started := make(chan struct{})
	release := make(chan struct{})
	first := func(context.Context) (string, error) {
		close(started)
		<-release
		return "first", nil
	}
	var joinerCalls int32
	joiner := func(context.Context) (string, error) {
		atomic.AddInt32(&joinerCalls, 1)
		return "joiner", nil
	}

	done := make(chan string)
	go func() {
		v, _ := Execute(context.Background(), f, "k", first, ExecuteOptions{})
		done <- v
	}()
	<-started

	joined := make(chan string)
	go func() {
		v, _ := Execute(context.Background(), f, "k", joiner, ExecuteOptions{MaxAttempts: NoRetries, Context: "other"})
		joined <- v
	}()

	time.Sleep(30 * time.Millisecond)
	close(release)

	if v := <-done; v != "first" {
		t.Errorf("first caller got %q", v)
	}
	if v := <-joined; v != "first" {
		t.Errorf("joiner got %q, want the shared result", v)
	}
	if got := atomic.LoadInt32(&joinerCalls); got != 0 {
		t.Errorf("joiner fn called %d times, want 0", got)
	}

	// SkipCache always runs the caller's own fn.
	v, err := Execute(context.Background(), f, "k", joiner, ExecuteOptions{SkipCache: true})
	if err != nil || v != "joiner" {
		t.Errorf("SkipCache = %q, %v", v, err)
	}
}

func TestExecuteWithoutCoalescing(t *testing.T) {
	f := newTestFetcher(newManualClock(), &sleepRecorder{}, WithoutCoalescing())

	var calls int32
	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	fn := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		started.Done()
		<-release
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Execute(context.Background(), f, "cold", fn, ExecuteOptions{})
		}()
	}
	started.Wait()
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("fn called %d times, want 2", got)
	}
}

func TestExecuteCoalescedWaiterAbortsAlone(t *testing.T) {
	f := newTestFetcher(newManualClock(), &sleepRecorder{})

	started := make(chan struct{})
	release := make(chan struct{})
	var fnCtx context.Context
	fn := func(ctx context.Context) (string, error) {
		fnCtx = ctx
		close(started)
		select {
		case <-release:
			return "v", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	keep := make(chan string, 1)
	go func() {
		v, _ := Execute(context.Background(), f, "k", fn, ExecuteOptions{})
		keep <- v
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	leaver := make(chan error, 1)
	go func() {
		_, err := Execute(ctx, f, "k", fn, ExecuteOptions{})
		leaver <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	if err := <-leaver; KindOf(err) != KindAborted {
		t.Errorf("leaving waiter got %v, want ABORTED", err)
	}
	if fnCtx.Err() != nil {
		t.Error("shared fetch cancelled while a caller still waits")
	}

	close(release)
	if v := <-keep; v != "v" {
		t.Errorf("remaining waiter got %q", v)
	}
}

func TestExecuteAbandonedFlightIsCancelled(t *testing.T) {
	f := newTestFetcher(newManualClock(), &sleepRecorder{})

	started := make(chan struct{})
	stopped := make(chan struct{})
	fn := func(ctx context.Context) (string, error) {
		close(started)
		<-ctx.Done()
		close(stopped)
		return "", ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _, _ = Execute(ctx, f, "k", fn, ExecuteOptions{}) }()
	<-started
	cancel()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned fetch kept running")
	}
}

func TestExecuteRejectsNegativeTTL(t *testing.T) {
	f := NewFetcher()
	_, err := Execute(context.Background(), f, "k", func(context.Context) (int, error) { return 1, nil }, ExecuteOptions{TTL: -time.Second})
	if KindOf(err) != KindValidation {
		t.Errorf("Expected VALIDATION, got %v", err)
	}
}

func TestFetcherMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetricsCollectorWithRegistry(registry)
	f := newTestFetcher(newManualClock(), &sleepRecorder{}, WithMetrics(metrics))

	fn := func(context.Context) (int, error) { return 1, nil }
	_, _ = Execute(context.Background(), f, CacheKey("/covid19", nil), fn, ExecuteOptions{})
	_, _ = Execute(context.Background(), f, CacheKey("/covid19", nil), fn, ExecuteOptions{})

	if v := testutil.ToFloat64(metrics.cacheHits.WithLabelValues("memory", "/covid19")); v != 1 {
		t.Errorf("cache hits = %v, want 1", v)
	}
	if v := testutil.ToFloat64(metrics.cacheMisses.WithLabelValues("memory", "/covid19")); v != 1 {
		t.Errorf("cache misses = %v, want 1", v)
	}
	if v := testutil.ToFloat64(metrics.cacheSize.WithLabelValues("memory")); v != 1 {
		t.Errorf("cache size = %v, want 1", v)
	}
}

func TestFetcherInvalidateAndClear(t *testing.T) {
	f := NewFetcher()
	_ = f.Cache().Set("a", 1, time.Minute)
	_ = f.Cache().Set("b", 2, time.Minute)

	f.Invalidate("a")
	if _, ok := f.Peek("a"); ok {
		t.Error("Invalidate did not drop key")
	}
	f.ClearCache()
	if f.CacheSize() != 0 {
		t.Errorf("CacheSize() after ClearCache = %d", f.CacheSize())
	}
}

func TestSharedCacheAcrossFetchers(t *testing.T) {
	cache := NewResponseCache(nil)
	a := NewFetcher(WithCache(cache))
	b := NewFetcher(WithCache(cache))

	_, _ = Execute(context.Background(), a, "k", func(context.Context) (string, error) { return "from-a", nil }, ExecuteOptions{})
	v, _ := Execute(context.Background(), b, "k", func(context.Context) (string, error) { return "from-b", nil }, ExecuteOptions{})
	if v != "from-a" {
		t.Errorf("second fetcher got %q, want shared entry", v)
	}
}
